package domain

import "time"

// Channel is the delivery medium of a dispatch.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// DefaultChannel is used for new preferences and for shorthand mappings.
const DefaultChannel = ChannelEmail

// Channels lists every supported channel, default first.
var Channels = []Channel{ChannelEmail, ChannelSMS}

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS:
		return true
	}
	return false
}

// Frequency controls how a user's notifications are batched.
type Frequency string

const (
	FrequencyImmediately Frequency = "immediately"
	FrequencyHourly      Frequency = "hourly"
	FrequencyDaily       Frequency = "daily"
	FrequencyWeekly      Frequency = "weekly"
	FrequencyNever       Frequency = "never"
)

func (f Frequency) IsValid() bool {
	switch f {
	case FrequencyImmediately, FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyNever:
		return true
	}
	return false
}

// Cadence maps a frequency to the minimum gap between two deliveries.
// FrequencyNever has no entry and is never due.
type Cadence map[Frequency]time.Duration

// Interval returns the gap for f. ok is false when f must never be delivered.
func (c Cadence) Interval(f Frequency) (d time.Duration, ok bool) {
	if f == FrequencyNever {
		return 0, false
	}
	d, ok = c[f]
	return d, ok
}

// Event is a domain event that notifications are raised for.
type Event struct {
	ID          string            `json:"id"`
	ContextType string            `json:"context_type"`
	Type        string            `json:"type"`
	ActorID     string            `json:"actor_id,omitempty"`
	Target      string            `json:"target"`
	Context     map[string]string `json:"context,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Notification is a pending intent to tell one user about one event.
type Notification struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	EventID   string     `json:"event_id"`
	Role      string     `json:"role"`
	Name      string     `json:"name,omitempty"`
	Due       time.Time  `json:"due"`
	Spawned   *time.Time `json:"spawned,omitempty"`
	Read      *time.Time `json:"read,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Spawnable reports whether the notification may still become dispatches.
func (n *Notification) Spawnable() bool {
	return n.Spawned == nil && n.Read == nil
}

// Dispatch is a channel-specific delivery obligation derived from a notification.
type Dispatch struct {
	ID             string     `json:"id"`
	NotificationID string     `json:"notification_id"`
	Channel        Channel    `json:"channel"`
	View           string     `json:"view"`
	SingleSpec     string     `json:"single_spec"`
	BatchSpec      string     `json:"batch_spec,omitempty"`
	Subject        string     `json:"subject,omitempty"`
	ToAddress      string     `json:"to_address"`
	BCCAddress     string     `json:"bcc_address,omitempty"`
	Sent           *time.Time `json:"sent,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Preferences holds a user's delivery settings and the staleness token of
// the most recently issued delivery task.
type Preferences struct {
	UserID    string    `json:"user_id"`
	Channel   Channel   `json:"channel"`
	Frequency Frequency `json:"frequency"`
	Token     string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is the directory entry notifications are addressed to.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// PreferredAddress returns where to deliver on ch.
func (u *User) PreferredAddress(ch Channel) (string, error) {
	var addr string
	switch ch {
	case ChannelEmail:
		addr = u.Email
	case ChannelSMS:
		addr = u.Phone
	default:
		return "", ErrNoAddressRule
	}
	if addr == "" {
		return "", ErrNoAddress
	}
	return addr, nil
}

// UpdatePreferencesRequest is the inbound payload for changing preferences.
// Empty fields are left unchanged.
type UpdatePreferencesRequest struct {
	Channel   Channel   `json:"channel,omitempty"`
	Frequency Frequency `json:"frequency,omitempty"`
}

func (r *UpdatePreferencesRequest) Validate() error {
	if r.Channel != "" && !r.Channel.IsValid() {
		return ErrInvalidChannel
	}
	if r.Frequency != "" && !r.Frequency.IsValid() {
		return ErrInvalidFrequency
	}
	return nil
}

// CreateEventRequest is the inbound payload of an ingested domain event.
type CreateEventRequest struct {
	ContextType string            `json:"context_type"`
	Type        string            `json:"type"`
	ActorID     string            `json:"actor_id,omitempty"`
	Target      string            `json:"target"`
	Context     map[string]string `json:"context,omitempty"`
}

func (r *CreateEventRequest) Validate() error {
	if r.ContextType == "" || r.Type == "" {
		return ErrInvalidEvent
	}
	return nil
}

// DeliverRequest is the body the work engine posts to the delivery webhook.
type DeliverRequest struct {
	LatestHash string `json:"latest_hash"`
}

// DeliveryTask asks the work engine to run one user's delivery webhook.
// LatestHash is the token the scanner issued; older tasks turn stale.
type DeliveryTask struct {
	UserID     string `json:"user_id"`
	LatestHash string `json:"latest_hash"`
}

// TokenLength is the length of a staleness token.
const TokenLength = 20

func (r *DeliverRequest) Validate() error {
	if len(r.LatestHash) != TokenLength {
		return ErrInvalidHash
	}
	return nil
}
