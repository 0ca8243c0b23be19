package mailer

import (
	"context"
	"fmt"

	"github.com/ignite/marketing-engine/internal/config"
	"github.com/ignite/marketing-engine/internal/delivery"
)

// FromConfig builds the configured mailer. An empty provider selects the
// log mailer so a bare dev setup never sends real mail by accident.
func FromConfig(ctx context.Context, cfg config.MailerConfig) (delivery.Mailer, error) {
	switch cfg.Provider {
	case "sparkpost":
		if cfg.SparkPost.APIKey == "" {
			return nil, fmt.Errorf("sparkpost mailer requires an API key")
		}
		return NewSparkPost(cfg.SparkPost.APIKey, cfg.SparkPost.BaseURL, cfg.FromName, cfg.FromEmail), nil
	case "ses":
		if cfg.SES.Region == "" {
			return nil, fmt.Errorf("ses mailer requires a region")
		}
		return NewSES(ctx, cfg.SES.Region, cfg.FromName, cfg.FromEmail)
	case "log", "":
		return NewLogMailer(), nil
	default:
		return nil, fmt.Errorf("unknown mailer provider %q", cfg.Provider)
	}
}
