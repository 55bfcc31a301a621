package sms

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

type snsPublisher interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSSender struct {
	client snsPublisher
	attrs  map[string]types.MessageAttributeValue
}

func NewSNSSender(ctx context.Context, cfg Config) (*SNSSender, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newSNSSender(sns.NewFromConfig(awsCfg), cfg), nil
}

func newSNSSender(client snsPublisher, cfg Config) *SNSSender {
	smsType := cfg.SNSSMSType
	if smsType == "" {
		smsType = "Transactional"
	}
	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": stringAttr(smsType),
	}
	if cfg.SNSSenderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = stringAttr(cfg.SNSSenderID)
	}
	if cfg.SNSOriginationNumber != "" {
		attrs["AWS.SNS.SMS.OriginationNumber"] = stringAttr(cfg.SNSOriginationNumber)
	}
	// DLT registration fields required for Indian senders
	if cfg.SNSEntityID != "" {
		attrs["AWS.MM.SMS.EntityId"] = stringAttr(cfg.SNSEntityID)
	}
	if cfg.SNSTemplateID != "" {
		attrs["AWS.MM.SMS.TemplateId"] = stringAttr(cfg.SNSTemplateID)
	}
	return &SNSSender{client: client, attrs: attrs}
}

func stringAttr(v string) types.MessageAttributeValue {
	return types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
}

func (s *SNSSender) Send(ctx context.Context, to, text string) error {
	_, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(to),
		Message:           aws.String(text),
		MessageAttributes: s.attrs,
	})
	if err != nil {
		return fmt.Errorf("sns publish to %s: %w", to, err)
	}
	return nil
}
