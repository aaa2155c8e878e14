package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/torque-notifications/internal/domain"
	"github.com/notifyhub/torque-notifications/internal/mapping"
	"github.com/notifyhub/torque-notifications/internal/repository"
)

// Spawner turns a due notification into dispatch records.
type Spawner struct {
	resolver  mapping.Resolver
	prefs     *PreferenceService
	logger    *zap.Logger
	now       func() time.Time
	onSpawned func(domain.Channel)
}

func NewSpawner(resolver mapping.Resolver, prefs *PreferenceService, logger *zap.Logger) *Spawner {
	return &Spawner{resolver: resolver, prefs: prefs, logger: logger, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (s *Spawner) WithClock(now func() time.Time) *Spawner {
	s.now = now
	return s
}

// OnSpawned registers a callback invoked for each dispatch created.
func (s *Spawner) OnSpawned(fn func(domain.Channel)) *Spawner {
	s.onSpawned = fn
	return s
}

// Spawn creates the dispatch for n on the user's current channel, inside the
// caller's transaction. prefs is loaded when nil.
//
// A missing mapping, or one with no config for the channel, yields no
// dispatches and no error. A notification that was already spawned or read
// also yields none. Address resolution failures are returned.
func (s *Spawner) Spawn(ctx context.Context, tx repository.Tx, n *domain.Notification, prefs *domain.Preferences) ([]*domain.Dispatch, error) {
	if !n.Spawnable() {
		return nil, nil
	}
	if prefs == nil {
		var err error
		if prefs, err = s.prefs.GetOrCreate(ctx, tx, n.UserID); err != nil {
			return nil, err
		}
	}
	if prefs.Frequency == domain.FrequencyNever {
		return nil, nil
	}

	event, err := tx.GetEvent(ctx, n.EventID)
	if err != nil {
		return nil, fmt.Errorf("load event %s: %w", n.EventID, err)
	}

	m := s.resolver.Resolve(event.Type, n.Role, n.Name)
	if m == nil {
		s.logger.Debug("no dispatch mapping",
			zap.String("notification_id", n.ID),
			zap.String("event", event.Type),
			zap.String("role", n.Role),
		)
		return nil, nil
	}
	cfg, ok := m.For(prefs.Channel)
	if !ok {
		return nil, nil
	}

	user, err := tx.GetUser(ctx, n.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", n.UserID, err)
	}
	address, err := user.PreferredAddress(prefs.Channel)
	if err != nil {
		return nil, fmt.Errorf("user %s on %s: %w", n.UserID, prefs.Channel, err)
	}

	now := s.now().UTC()
	marked, err := tx.MarkNotificationSpawned(ctx, n.ID, now)
	if err != nil {
		return nil, err
	}
	if !marked {
		return nil, nil
	}

	d := &domain.Dispatch{
		ID:             uuid.New().String(),
		NotificationID: n.ID,
		Channel:        prefs.Channel,
		View:           cfg.View,
		SingleSpec:     cfg.Single,
		BatchSpec:      cfg.Batch,
		Subject:        m.Meta.Subject,
		ToAddress:      address,
		BCCAddress:     m.Meta.BCCAddress,
		CreatedAt:      now,
	}
	if err := tx.CreateDispatch(ctx, d); err != nil {
		return nil, fmt.Errorf("persist dispatch: %w", err)
	}
	n.Spawned = &now

	if s.onSpawned != nil {
		s.onSpawned(d.Channel)
	}
	return []*domain.Dispatch{d}, nil
}
