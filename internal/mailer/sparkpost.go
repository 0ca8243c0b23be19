// Package mailer provides the sending-provider implementations behind the
// delivery pipeline's Mailer interface: SparkPost over its transmissions
// API, AWS SES v2, and a log-only mailer for development.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ignite/marketing-engine/internal/delivery"
	"github.com/ignite/marketing-engine/internal/pkg/httpretry"
	"github.com/ignite/marketing-engine/internal/pkg/logger"
)

const defaultSparkPostBaseURL = "https://api.sparkpost.com/api/v1"

// SparkPost sends through the SparkPost transmissions API.
type SparkPost struct {
	apiKey    string
	baseURL   string
	fromName  string
	fromEmail string
	http      *httpretry.Client
	log       *logger.Logger
}

// NewSparkPost creates a SparkPost mailer. baseURL may be empty for the
// public API host.
func NewSparkPost(apiKey, baseURL, fromName, fromEmail string) *SparkPost {
	if baseURL == "" {
		baseURL = defaultSparkPostBaseURL
	}
	return &SparkPost{
		apiKey:    apiKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		fromName:  fromName,
		fromEmail: fromEmail,
		http:      httpretry.New(&http.Client{Timeout: 30 * time.Second}, 3),
		log:       logger.New("sparkpost"),
	}
}

type sparkpostTransmission struct {
	Recipients []sparkpostRecipient `json:"recipients"`
	Content    sparkpostContent     `json:"content"`
	Options    sparkpostOptions     `json:"options"`
}

type sparkpostRecipient struct {
	Address sparkpostAddress `json:"address"`
}

type sparkpostAddress struct {
	Email string `json:"email"`
}

type sparkpostContent struct {
	From    sparkpostFrom     `json:"from"`
	Subject string            `json:"subject"`
	HTML    string            `json:"html"`
	Text    string            `json:"text,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type sparkpostFrom struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sparkpostOptions struct {
	OpenTracking  bool `json:"open_tracking"`
	ClickTracking bool `json:"click_tracking"`
}

type sparkpostResponse struct {
	Results struct {
		TotalAcceptedRecipients int    `json:"total_accepted_recipients"`
		ID                      string `json:"id"`
	} `json:"results"`
	Errors []struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"errors"`
}

// Send submits one transmission and returns SparkPost's transmission ID.
func (s *SparkPost) Send(ctx context.Context, msg *delivery.Message) (string, error) {
	fromName, fromEmail := msg.FromName, msg.FromEmail
	if fromEmail == "" {
		fromName, fromEmail = s.fromName, s.fromEmail
	}

	transmission := sparkpostTransmission{
		Recipients: []sparkpostRecipient{{Address: sparkpostAddress{Email: msg.To}}},
		Content: sparkpostContent{
			From:    sparkpostFrom{Email: fromEmail, Name: fromName},
			Subject: msg.Subject,
			HTML:    msg.HTML,
			Text:    msg.Text,
			Headers: msg.Headers,
		},
		// Engagement comes back through the webhook; provider-side
		// tracking would rewrite our links.
		Options: sparkpostOptions{OpenTracking: false, ClickTracking: false},
	}

	body, err := json.Marshal(transmission)
	if err != nil {
		return "", fmt.Errorf("marshal transmission: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/transmissions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("sparkpost request: %w", err)
	}
	defer resp.Body.Close()

	var spResp sparkpostResponse
	if err := json.NewDecoder(resp.Body).Decode(&spResp); err != nil {
		return "", fmt.Errorf("decode sparkpost response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK || len(spResp.Errors) > 0 {
		msg := fmt.Sprintf("sparkpost status %d", resp.StatusCode)
		code := ""
		if len(spResp.Errors) > 0 {
			msg = spResp.Errors[0].Message
			code = spResp.Errors[0].Code
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return "", &delivery.PermanentError{Reason: fmt.Sprintf("%s (code %s)", msg, code)}
		}
		return "", fmt.Errorf("sparkpost rejected transmission: %s (code %s)", msg, code)
	}
	return spResp.Results.ID, nil
}
