package sender

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/notifyhub/torque-notifications/internal/domain"
)

// MaxSMSLength is the longest body handed to an SMS transport, in characters.
const MaxSMSLength = 1600

// SMSTransport delivers a text message and returns the carrier's id.
type SMSTransport interface {
	SendSMS(ctx context.Context, to, body string) (string, error)
}

type SMSSender struct {
	renderer  Renderer
	transport SMSTransport
	limiter   Limiter
}

// NewSMSSender builds a live SMS sender. limiter may be nil.
func NewSMSSender(renderer Renderer, transport SMSTransport, limiter Limiter) *SMSSender {
	return &SMSSender{renderer: renderer, transport: transport, limiter: limiter}
}

// NewStubSMSSender renders like the live sender but only logs the message.
func NewStubSMSSender(renderer Renderer, logger *zap.Logger) *SMSSender {
	return NewSMSSender(renderer, &logSMSTransport{logger: logger}, nil)
}

func (s *SMSSender) Channel() domain.Channel { return domain.ChannelSMS }

func (s *SMSSender) Send(ctx context.Context, spec TemplateSpec, data Data) (*SentMeta, error) {
	to := data.String("to_address")
	if to == "" {
		return nil, domain.ErrNoAddress
	}

	body, err := s.renderer.Render(spec, data)
	if err != nil {
		return nil, err
	}
	body = truncate(strings.TrimSpace(body), MaxSMSLength)

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, domain.ChannelSMS); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	id, err := s.transport.SendSMS(ctx, to, body)
	if err != nil {
		return nil, fmt.Errorf("%w: sms to %s: %w", domain.ErrTransport, to, err)
	}
	return &SentMeta{Channel: domain.ChannelSMS, To: to, MessageID: id}, nil
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

type logSMSTransport struct {
	logger *zap.Logger
}

func (t *logSMSTransport) SendSMS(_ context.Context, to, body string) (string, error) {
	t.logger.Info("stub sms", zap.String("to", to), zap.String("body", body))
	return "", nil
}
