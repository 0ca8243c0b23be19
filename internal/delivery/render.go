package delivery

import (
	"fmt"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/ignite/marketing-engine/internal/domain"
)

// Renderer renders campaign content per recipient with Liquid merge fields
// and enforces the mandatory unsubscribe link. Parsed templates are cached
// by content hash-free key (ref), since journey steps render the same
// campaign for many recipients.
type Renderer struct {
	engine  *liquid.Engine
	baseURL string
	cache   sync.Map // map[string]*liquid.Template
}

// NewRenderer creates a renderer. baseURL is the public tracking host used
// to build unsubscribe URLs.
func NewRenderer(baseURL string) *Renderer {
	engine := liquid.NewEngine()
	engine.RegisterFilter("default", func(value interface{}, fallback string) interface{} {
		if value == nil {
			return fallback
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return fallback
		}
		return value
	})
	return &Renderer{engine: engine, baseURL: strings.TrimRight(baseURL, "/")}
}

// UnsubscribeURL builds the per-recipient unsubscribe link.
func (r *Renderer) UnsubscribeURL(contactID string) string {
	return fmt.Sprintf("%s/unsubscribe?contact=%s", r.baseURL, contactID)
}

// Render produces the final subject, HTML, and text for one recipient. The
// rendered HTML must contain the recipient's unsubscribe URL; templates
// reference it as {{ unsubscribe_url }}. A missing link is a hard
// validation error that blocks the send.
func (r *Renderer) Render(cacheKey string, campaign *domain.Campaign, contact *domain.Contact) (subject, html, text string, err error) {
	unsubURL := r.UnsubscribeURL(contact.ID.String())
	bindings := map[string]interface{}{
		"email":           contact.Email,
		"tags":            contact.Tags,
		"unsubscribe_url": unsubURL,
	}

	subject, err = r.render(cacheKey+":subject", campaign.Subject, bindings)
	if err != nil {
		return "", "", "", fmt.Errorf("render subject: %w", err)
	}
	html, err = r.render(cacheKey+":html", campaign.HTMLContent, bindings)
	if err != nil {
		return "", "", "", fmt.Errorf("render html: %w", err)
	}
	text, err = r.render(cacheKey+":text", campaign.TextContent, bindings)
	if err != nil {
		return "", "", "", fmt.Errorf("render text: %w", err)
	}

	if !strings.Contains(html, unsubURL) {
		return "", "", "", ErrMissingUnsubscribeLink
	}
	return subject, html, text, nil
}

func (r *Renderer) render(key, source string, bindings map[string]interface{}) (string, error) {
	if source == "" {
		return "", nil
	}
	var tmpl *liquid.Template
	if cached, ok := r.cache.Load(key); ok {
		tmpl = cached.(*liquid.Template)
	} else {
		parsed, err := r.engine.ParseString(source)
		if err != nil {
			return "", err
		}
		r.cache.Store(key, parsed)
		tmpl = parsed
	}
	out, err := tmpl.RenderString(bindings)
	if err != nil {
		return "", err
	}
	return out, nil
}
