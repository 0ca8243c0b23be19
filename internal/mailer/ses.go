package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/ignite/marketing-engine/internal/delivery"
	"github.com/ignite/marketing-engine/internal/pkg/logger"
)

// SES sends through AWS SES v2.
type SES struct {
	client    *sesv2.Client
	fromName  string
	fromEmail string
	log       *logger.Logger
}

// NewSES creates an SES mailer using the default AWS credential chain.
func NewSES(ctx context.Context, region, fromName, fromEmail string) (*SES, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &SES{
		client:    sesv2.NewFromConfig(awsCfg),
		fromName:  fromName,
		fromEmail: fromEmail,
		log:       logger.New("ses"),
	}, nil
}

// Send submits one message and returns the SES message ID.
func (s *SES) Send(ctx context.Context, msg *delivery.Message) (string, error) {
	fromName, fromEmail := msg.FromName, msg.FromEmail
	if fromEmail == "" {
		fromName, fromEmail = s.fromName, s.fromEmail
	}
	from := fromEmail
	if fromName != "" {
		from = fmt.Sprintf("%s <%s>", fromName, fromEmail)
	}

	body := &types.Body{
		Html: &types.Content{Data: aws.String(msg.HTML)},
	}
	if msg.Text != "" {
		body.Text = &types.Content{Data: aws.String(msg.Text)}
	}
	simple := &types.Message{
		Subject: &types.Content{Data: aws.String(msg.Subject)},
		Body:    body,
	}
	for k, v := range msg.Headers {
		simple.Headers = append(simple.Headers, types.MessageHeader{
			Name:  aws.String(k),
			Value: aws.String(v),
		})
	}

	out, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content:          &types.EmailContent{Simple: simple},
	})
	if err != nil {
		if reason, permanent := sesPermanentReason(err); permanent {
			return "", &delivery.PermanentError{Reason: reason}
		}
		return "", fmt.Errorf("ses send: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

// sesPermanentReason classifies SES API errors. Rejections for bad or
// suppressed addresses will never succeed on retry.
func sesPermanentReason(err error) (string, bool) {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return "", false
	}
	switch apiErr.ErrorCode() {
	case "MessageRejected", "BadRequestException", "NotFoundException":
		return apiErr.ErrorMessage(), true
	}
	if strings.Contains(apiErr.ErrorMessage(), "suppression list") {
		return apiErr.ErrorMessage(), true
	}
	return "", false
}
