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

// RuleSource lists notify rules and resolves the users holding a role.
// *mapping.Registry satisfies it.
type RuleSource interface {
	Rules(contextType, eventType string) []mapping.Rule
	UsersFor(ctx context.Context, event *domain.Event, role string, dir mapping.UserDirectory) ([]*domain.User, error)
}

// EventService ingests domain events and raises the notifications the
// registered rules ask for.
type EventService struct {
	store         repository.Store
	rules         RuleSource
	notifications *NotificationService
	logger        *zap.Logger
	now           func() time.Time
}

func NewEventService(
	store repository.Store,
	rules RuleSource,
	notifications *NotificationService,
	logger *zap.Logger,
) *EventService {
	return &EventService{store: store, rules: rules, notifications: notifications, logger: logger, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (s *EventService) WithClock(now func() time.Time) *EventService {
	s.now = now
	return s
}

// HandleResult is what one ingested event produced.
type HandleResult struct {
	Event         *domain.Event          `json:"event"`
	Notifications []*domain.Notification `json:"notifications"`
	Dispatches    []*domain.Dispatch     `json:"dispatches"`
}

// Handle persists the event and notifies every user holding a subscribed
// role, all in one transaction.
func (s *EventService) Handle(ctx context.Context, req domain.CreateEventRequest) (*HandleResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	event := &domain.Event{
		ID:          uuid.New().String(),
		ContextType: req.ContextType,
		Type:        req.Type,
		ActorID:     req.ActorID,
		Target:      req.Target,
		Context:     req.Context,
		CreatedAt:   s.now().UTC(),
	}
	result := &HandleResult{Event: event}

	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		if err := tx.CreateEvent(ctx, event); err != nil {
			return err
		}

		for _, rule := range s.rules.Rules(event.ContextType, event.Type) {
			users, err := s.rules.UsersFor(ctx, event, rule.Role, tx)
			if err != nil {
				return fmt.Errorf("rule %s/%s: %w", rule.EventType, rule.Role, err)
			}
			for _, u := range users {
				n, ds, err := s.notifications.notify(ctx, tx, u, event, rule.Role, rule.Name, rule.Delay)
				if err != nil {
					return fmt.Errorf("notify user %s: %w", u.ID, err)
				}
				result.Notifications = append(result.Notifications, n)
				result.Dispatches = append(result.Dispatches, ds...)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("event handled",
		zap.String("event_id", event.ID),
		zap.String("context_type", event.ContextType),
		zap.String("type", event.Type),
		zap.Int("notifications", len(result.Notifications)),
		zap.Int("dispatches", len(result.Dispatches)),
	)
	return result, nil
}
