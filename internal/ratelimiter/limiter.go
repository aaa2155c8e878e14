package ratelimiter

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/notifyhub/torque-notifications/internal/domain"
)

// ChannelLimiters holds one token bucket limiter per delivery channel.
// Burst equals the rate, so nothing is saved up above the per-second maximum.
type ChannelLimiters struct {
	limiters map[domain.Channel]*rate.Limiter
}

// New creates a ChannelLimiters with ratePerSec tokens per second per channel.
func New(ratePerSec int) *ChannelLimiters {
	r := rate.Limit(ratePerSec)
	limiters := make(map[domain.Channel]*rate.Limiter, len(domain.Channels))
	for _, ch := range domain.Channels {
		limiters[ch] = rate.NewLimiter(r, ratePerSec)
	}
	return &ChannelLimiters{limiters: limiters}
}

// Wait blocks until the channel's limiter grants a token.
// Returns a non-nil error if ctx is cancelled while waiting or the channel
// has no limiter.
func (cl *ChannelLimiters) Wait(ctx context.Context, ch domain.Channel) error {
	l, ok := cl.limiters[ch]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrInvalidChannel, ch)
	}
	return l.Wait(ctx)
}
