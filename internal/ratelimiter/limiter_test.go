package ratelimiter_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/notifyhub/torque-notifications/internal/domain"
	"github.com/notifyhub/torque-notifications/internal/ratelimiter"
)

func TestChannelLimiters_Wait(t *testing.T) {
	l := ratelimiter.New(100)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for _, ch := range domain.Channels {
		if err := l.Wait(ctx, ch); err != nil {
			t.Fatalf("%s: unexpected error: %v", ch, err)
		}
	}
}

func TestChannelLimiters_UnknownChannel(t *testing.T) {
	l := ratelimiter.New(1)
	if err := l.Wait(context.Background(), "pigeon"); !errors.Is(err, domain.ErrInvalidChannel) {
		t.Fatalf("expected ErrInvalidChannel, got %v", err)
	}
}

func TestChannelLimiters_CancelledContext(t *testing.T) {
	l := ratelimiter.New(1)
	ctx, cancel := context.WithCancel(context.Background())
	// Drain the single-token burst, then cancel before the next token.
	_ = l.Wait(ctx, domain.ChannelEmail)
	cancel()
	if err := l.Wait(ctx, domain.ChannelEmail); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}
