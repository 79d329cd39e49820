package email

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/newsletter/internal/pkg/logger"
	"github.com/ignite/newsletter/internal/service/subscription"
)

// sesAPI is the subset of *sesv2.Client used here.
type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESConfig configures an SESSender. Empty keys fall back to the default AWS
// credential chain (IAM role on ECS).
type SESConfig struct {
	Region           string
	AccessKey        string
	SecretKey        string
	Sender           string
	ConfigurationSet string
}

// SESSender sends confirmation messages through AWS SES v2.
type SESSender struct {
	client           sesAPI
	sender           string
	configurationSet string
}

// NewSESSender loads AWS configuration and creates the SES client.
func NewSESSender(ctx context.Context, cfg SESConfig) (*SESSender, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return newSESSender(sesv2.NewFromConfig(awsCfg), cfg), nil
}

func newSESSender(client sesAPI, cfg SESConfig) *SESSender {
	return &SESSender{client: client, sender: cfg.Sender, configurationSet: cfg.ConfigurationSet}
}

// Send implements subscription.Notifier.
func (s *SESSender) Send(ctx context.Context, msg subscription.Message) error {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.sender),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTMLBody), Charset: aws.String("UTF-8")},
					Text: &types.Content{Data: aws.String(msg.TextBody), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("purpose"), Value: aws.String("subscription_confirmation")},
		},
	}
	if s.configurationSet != "" {
		input.ConfigurationSetName = aws.String(s.configurationSet)
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send: %w", err)
	}
	logger.Debug("ses confirmation sent", "email", msg.To, "message_id", aws.ToString(out.MessageId))
	return nil
}
