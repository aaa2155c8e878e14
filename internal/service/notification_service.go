package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/torque-notifications/internal/domain"
	"github.com/notifyhub/torque-notifications/internal/repository"
)

// NotificationService creates notifications and, for users who want them
// immediately, spawns their dispatches in the same transaction.
type NotificationService struct {
	store   repository.Store
	prefs   *PreferenceService
	spawner *Spawner
	logger  *zap.Logger
	now     func() time.Time
}

func NewNotificationService(
	store repository.Store,
	prefs *PreferenceService,
	spawner *Spawner,
	logger *zap.Logger,
) *NotificationService {
	return &NotificationService{store: store, prefs: prefs, spawner: spawner, logger: logger, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (s *NotificationService) WithClock(now func() time.Time) *NotificationService {
	s.now = now
	return s
}

// Create persists a notification due delay from now. It never spawns.
func (s *NotificationService) Create(
	ctx context.Context,
	tx repository.Tx,
	user *domain.User,
	event *domain.Event,
	role, name string,
	delay time.Duration,
) (*domain.Notification, error) {
	now := s.now().UTC()
	n := &domain.Notification{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		EventID:   event.ID,
		Role:      role,
		Name:      name,
		Due:       now.Add(delay),
		CreatedAt: now,
	}
	if err := tx.CreateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("persist notification: %w", err)
	}
	return n, nil
}

// Notify creates a notification and spawns it inline when the user's
// frequency is immediately and the notification is already due.
func (s *NotificationService) Notify(
	ctx context.Context,
	user *domain.User,
	event *domain.Event,
	role, name string,
	delay time.Duration,
) (*domain.Notification, []*domain.Dispatch, error) {
	var (
		n          *domain.Notification
		dispatches []*domain.Dispatch
	)
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		n, dispatches, err = s.notify(ctx, tx, user, event, role, name, delay)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return n, dispatches, nil
}

func (s *NotificationService) notify(
	ctx context.Context,
	tx repository.Tx,
	user *domain.User,
	event *domain.Event,
	role, name string,
	delay time.Duration,
) (*domain.Notification, []*domain.Dispatch, error) {
	n, err := s.Create(ctx, tx, user, event, role, name, delay)
	if err != nil {
		return nil, nil, err
	}

	prefs, err := s.prefs.GetOrCreate(ctx, tx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	if prefs.Frequency != domain.FrequencyImmediately || n.Due.After(s.now().UTC()) {
		return n, nil, nil
	}

	dispatches, err := s.spawner.Spawn(ctx, tx, n, prefs)
	if errors.Is(err, domain.ErrNoAddress) {
		// Left unspawned; the scanner retries once the user has an address.
		s.logger.Warn("notification not spawned",
			zap.String("notification_id", n.ID),
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
		return n, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return n, dispatches, nil
}

// MarkRead records that the user has seen the notification. Unsent
// dispatches of a read notification are no longer delivered.
func (s *NotificationService) MarkRead(ctx context.Context, id string) (*domain.Notification, error) {
	var n *domain.Notification
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.GetNotification(ctx, id); err != nil {
			return err
		}
		if _, err := tx.MarkNotificationRead(ctx, id, s.now().UTC()); err != nil {
			return err
		}
		var err error
		n, err = tx.GetNotification(ctx, id)
		return err
	})
	return n, err
}
