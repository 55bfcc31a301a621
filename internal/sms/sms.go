package sms

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Sender delivers a text message to an E.164 number.
type Sender interface {
	Send(ctx context.Context, to, text string) error
}

const (
	ProviderTwilio  = "twilio"
	ProviderSNS     = "sns"
	ProviderConsole = "console"
)

var ErrNotConfigured = errors.New("sms provider not configured")

type Config struct {
	Provider string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	AWSRegion            string
	SNSSenderID          string
	SNSOriginationNumber string
	SNSEntityID          string
	SNSTemplateID        string
	SNSSMSType           string
}

func (c Config) twilioReady() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFromNumber != ""
}

// ResolveProvider picks the configured backend. With no explicit choice,
// Twilio is used when its credentials are present and the console otherwise.
func (c Config) ResolveProvider() string {
	p := strings.ToLower(strings.TrimSpace(c.Provider))
	if p != "" {
		return p
	}
	if c.twilioReady() {
		return ProviderTwilio
	}
	return ProviderConsole
}

// New builds the Sender named by cfg.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Sender, error) {
	switch p := cfg.ResolveProvider(); p {
	case ProviderTwilio:
		if !cfg.twilioReady() {
			return nil, fmt.Errorf("%w: twilio needs account sid, auth token and from number", ErrNotConfigured)
		}
		return NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber), nil
	case ProviderSNS:
		return NewSNSSender(ctx, cfg)
	case ProviderConsole:
		return NewConsoleSender(logger), nil
	default:
		return nil, fmt.Errorf("unknown sms provider %q", p)
	}
}

// ConsoleSender logs messages instead of delivering them.
type ConsoleSender struct {
	logger *zap.Logger
}

func NewConsoleSender(logger *zap.Logger) *ConsoleSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsoleSender{logger: logger}
}

func (s *ConsoleSender) Send(ctx context.Context, to, text string) error {
	s.logger.Info("sms (console)", zap.String("to", to), zap.String("text", text))
	return nil
}
