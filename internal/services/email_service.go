package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// AlertSender sends security notifications to account holders
type AlertSender interface {
	SendLockoutAlert(ctx context.Context, email string, lockedUntil time.Time) error
	SendReenrollmentAlert(ctx context.Context, email string) error
}

// AWSSESAlertSender sends security alerts using AWS SES
type AWSSESAlertSender struct {
	sesClient   *ses.Client
	fromAddress string
	logger      *slog.Logger
}

// NewAWSSESAlertSender creates a new AWS SES alert sender
func NewAWSSESAlertSender(region, fromAddress string, logger *slog.Logger) (*AWSSESAlertSender, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESAlertSender{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		logger:      logger,
	}, nil
}

// SendLockoutAlert notifies an account holder that repeated failed sign-in
// attempts have locked their account
func (s *AWSSESAlertSender) SendLockoutAlert(ctx context.Context, email string, lockedUntil time.Time) error {
	subject := "Your account has been temporarily locked"
	body := fmt.Sprintf(
		"Repeated failed sign-in attempts were made against your account.\n\n"+
			"Sign-in is disabled until %s. If these attempts were not yours, "+
			"please contact support and consider changing your password.\n",
		lockedUntil.UTC().Format(time.RFC1123),
	)

	return s.send(ctx, email, subject, body)
}

// SendReenrollmentAlert notifies an account holder that their two-factor
// authenticator was reset and all sessions were signed out
func (s *AWSSESAlertSender) SendReenrollmentAlert(ctx context.Context, email string) error {
	subject := "Your two-factor authenticator was reset"
	body := "Two-factor authentication was re-enrolled on your account and all " +
		"active sessions were signed out.\n\nIf you did not request this, " +
		"please contact support immediately.\n"

	return s.send(ctx, email, subject, body)
}

func (s *AWSSESAlertSender) send(ctx context.Context, email, subject, body string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
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

	if _, err := s.sesClient.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}

	s.logger.Info("security alert sent", slog.String("subject", subject))
	return nil
}

// NoopAlertSender is used when security alerts are not configured
type NoopAlertSender struct{}

func (NoopAlertSender) SendLockoutAlert(ctx context.Context, email string, lockedUntil time.Time) error {
	return nil
}

func (NoopAlertSender) SendReenrollmentAlert(ctx context.Context, email string) error {
	return nil
}
