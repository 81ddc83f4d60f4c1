package services

import (
	"context"
	"fmt"
	"log/slog"

	pkglogger "github.com/BradenHooton/tradergate/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// EmailSender delivers a plain-text message to one recipient
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SESAPI is the subset of the SES client used here
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESEmailSender sends emails using AWS SES
type SESEmailSender struct {
	client      SESAPI
	fromAddress string
	logger      *slog.Logger
}

// NewSESEmailSender loads the default AWS credential chain for region
func NewSESEmailSender(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*SESEmailSender, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewSESEmailSenderWithClient(ses.NewFromConfig(cfg), fromAddress, logger), nil
}

// NewSESEmailSenderWithClient wraps an existing SES client
func NewSESEmailSenderWithClient(client SESAPI, fromAddress string, logger *slog.Logger) *SESEmailSender {
	return &SESEmailSender{client: client, fromAddress: fromAddress, logger: logger}
}

func (s *SESEmailSender) Send(ctx context.Context, to, subject, body string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		slog.String("subject", subject),
		slog.String("message_id", aws.ToString(result.MessageId)))
	return nil
}

// LogEmailSender stands in when SES is not configured; it only logs.
type LogEmailSender struct {
	logger *slog.Logger
}

func NewLogEmailSender(logger *slog.Logger) *LogEmailSender {
	return &LogEmailSender{logger: logger}
}

func (s *LogEmailSender) Send(_ context.Context, to, subject, _ string) error {
	s.logger.Info("email delivery not configured, message dropped",
		slog.String("to", pkglogger.MaskedUsername(to)),
		slog.String("subject", subject))
	return nil
}
