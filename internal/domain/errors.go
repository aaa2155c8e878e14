package domain

import "errors"

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidChannel   = errors.New("invalid channel: must be email or sms")
	ErrInvalidFrequency = errors.New("invalid frequency: must be immediately, hourly, daily, weekly or never")
	ErrInvalidEvent     = errors.New("event requires context_type and type")
	ErrInvalidHash      = errors.New("latest_hash must be a 20 character token")
	ErrNoAddressRule    = errors.New("no address resolution rule for channel")
	ErrNoAddress        = errors.New("user has no address for channel")
	ErrUnknownView      = errors.New("unknown dispatch view")
	ErrNoSender         = errors.New("no sender configured for channel")
	ErrTransport        = errors.New("transport send failed")
	ErrQueueFull        = errors.New("queue is at capacity, try again later")
)
