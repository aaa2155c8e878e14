// Package sender renders dispatches and hands them to channel transports.
package sender

import (
	"context"
	"fmt"

	"github.com/notifyhub/torque-notifications/internal/domain"
)

// TemplateSpec names a template in the Renderer's file system.
type TemplateSpec string

// Data is the template data of one dispatch.
type Data map[string]any

// String returns the value at key when it is a string.
func (d Data) String(key string) string {
	s, _ := d[key].(string)
	return s
}

// SentMeta describes an accepted send.
type SentMeta struct {
	Channel   domain.Channel `json:"channel"`
	To        string         `json:"to"`
	MessageID string         `json:"message_id,omitempty"`
}

// Sender delivers one rendered dispatch on one channel.
// Implementations wrap transport failures in domain.ErrTransport.
type Sender interface {
	Channel() domain.Channel
	Send(ctx context.Context, spec TemplateSpec, data Data) (*SentMeta, error)
}

// Registry maps a channel to its sender.
type Registry struct {
	senders map[domain.Channel]Sender
}

func NewRegistry(senders ...Sender) *Registry {
	r := &Registry{senders: make(map[domain.Channel]Sender, len(senders))}
	for _, s := range senders {
		r.senders[s.Channel()] = s
	}
	return r
}

// For returns the sender of ch or domain.ErrNoSender.
func (r *Registry) For(ch domain.Channel) (Sender, error) {
	s, ok := r.senders[ch]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoSender, ch)
	}
	return s, nil
}
