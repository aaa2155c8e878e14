package sender

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
	"go.uber.org/zap"

	"github.com/notifyhub/torque-notifications/internal/domain"
)

// EmailMessage is a composed email. Raw is the RFC 5322 form without the
// Bcc header; BCC travels on the envelope only.
type EmailMessage struct {
	From      string
	To        string
	BCC       string
	Subject   string
	Body      string
	MessageID string
	Raw       []byte
}

// EmailTransport hands a composed message to a mail service and returns
// the service's message id.
type EmailTransport interface {
	SendEmail(ctx context.Context, msg *EmailMessage) (string, error)
}

// Limiter gates transport calls per channel. *ratelimiter.ChannelLimiters
// satisfies it.
type Limiter interface {
	Wait(ctx context.Context, ch domain.Channel) error
}

// EmailSender renders the body template, composes the message and sends it.
// The subject comes from the "subject" data key.
type EmailSender struct {
	renderer  Renderer
	transport EmailTransport
	limiter   Limiter
	now       func() time.Time
}

// NewEmailSender builds a live email sender. limiter may be nil.
func NewEmailSender(renderer Renderer, transport EmailTransport, limiter Limiter) *EmailSender {
	return &EmailSender{renderer: renderer, transport: transport, limiter: limiter, now: time.Now}
}

// NewStubEmailSender renders and composes like the live sender but only
// logs the message.
func NewStubEmailSender(renderer Renderer, logger *zap.Logger) *EmailSender {
	return NewEmailSender(renderer, &logEmailTransport{logger: logger}, nil)
}

func (s *EmailSender) Channel() domain.Channel { return domain.ChannelEmail }

func (s *EmailSender) Send(ctx context.Context, spec TemplateSpec, data Data) (*SentMeta, error) {
	body, err := s.renderer.Render(spec, data)
	if err != nil {
		return nil, err
	}

	msg, err := composeEmail(data, body, s.now())
	if err != nil {
		return nil, err
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, domain.ChannelEmail); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	id, err := s.transport.SendEmail(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("%w: email to %s: %w", domain.ErrTransport, msg.To, err)
	}
	if id == "" {
		id = msg.MessageID
	}
	return &SentMeta{Channel: domain.ChannelEmail, To: msg.To, MessageID: id}, nil
}

func composeEmail(data Data, body string, now time.Time) (*EmailMessage, error) {
	from, err := mail.ParseAddress(data.String("from_address"))
	if err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	to, err := mail.ParseAddress(data.String("to_address"))
	if err != nil {
		return nil, fmt.Errorf("%w: to address: %v", domain.ErrNoAddress, err)
	}
	subject := data.String("subject")

	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", []*mail.Address{to})
	h.SetSubject(subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}
	messageID, err := h.MessageID()
	if err != nil {
		return nil, fmt.Errorf("read message id: %w", err)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message writer: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, fmt.Errorf("write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close message writer: %w", err)
	}

	return &EmailMessage{
		From:      from.String(),
		To:        to.Address,
		BCC:       data.String("bcc_address"),
		Subject:   subject,
		Body:      body,
		MessageID: messageID,
		Raw:       buf.Bytes(),
	}, nil
}

type logEmailTransport struct {
	logger *zap.Logger
}

func (t *logEmailTransport) SendEmail(_ context.Context, msg *EmailMessage) (string, error) {
	t.logger.Info("stub email",
		zap.String("from", msg.From),
		zap.String("to", msg.To),
		zap.String("bcc", msg.BCC),
		zap.String("subject", msg.Subject),
		zap.String("message_id", msg.MessageID),
		zap.Int("bytes", len(msg.Raw)),
	)
	return msg.MessageID, nil
}
