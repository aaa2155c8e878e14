package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/notifyhub/torque-notifications/internal/domain"
	"github.com/notifyhub/torque-notifications/internal/repository"
	"github.com/notifyhub/torque-notifications/internal/token"
)

// PreferenceService owns the per-user preferences row and its staleness token.
type PreferenceService struct {
	store repository.Store
	now   func() time.Time
}

func NewPreferenceService(store repository.Store) *PreferenceService {
	return &PreferenceService{store: store, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (s *PreferenceService) WithClock(now func() time.Time) *PreferenceService {
	s.now = now
	return s
}

// GetOrCreate returns the user's preferences, inserting the defaults with a
// fresh token when the user has none. Concurrent first calls converge on a
// single row.
func (s *PreferenceService) GetOrCreate(ctx context.Context, tx repository.Tx, userID string) (*domain.Preferences, error) {
	p, err := tx.GetPreferences(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	tok, err := token.Next()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	now := s.now().UTC()
	if err := tx.InsertPreferencesIfAbsent(ctx, &domain.Preferences{
		UserID:    userID,
		Channel:   domain.DefaultChannel,
		Frequency: domain.FrequencyImmediately,
		Token:     tok,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return nil, err
	}
	return tx.GetPreferences(ctx, userID)
}

// BumpToken replaces the user's token, invalidating every delivery task
// issued before, and returns the new value.
func (s *PreferenceService) BumpToken(ctx context.Context, tx repository.Tx, userID string) (string, error) {
	tok, err := token.Next()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	if err := tx.SetToken(ctx, userID, tok); err != nil {
		return "", err
	}
	return tok, nil
}

// Get returns the preferences of an existing user, creating the defaults.
func (s *PreferenceService) Get(ctx context.Context, userID string) (*domain.Preferences, error) {
	var p *domain.Preferences
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.GetUser(ctx, userID); err != nil {
			return err
		}
		var err error
		p, err = s.GetOrCreate(ctx, tx, userID)
		return err
	})
	return p, err
}

// Update changes channel and/or frequency. Empty request fields are kept.
// A channel the user has no address for is rejected.
func (s *PreferenceService) Update(ctx context.Context, userID string, req domain.UpdatePreferencesRequest) (*domain.Preferences, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var p *domain.Preferences
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		current, err := s.GetOrCreate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if req.Channel != "" {
			if _, err := user.PreferredAddress(req.Channel); err != nil {
				return fmt.Errorf("channel %s: %w", req.Channel, err)
			}
			current.Channel = req.Channel
		}
		if req.Frequency != "" {
			current.Frequency = req.Frequency
		}
		current.UpdatedAt = s.now().UTC()
		if err := tx.UpdatePreferences(ctx, current); err != nil {
			return fmt.Errorf("update preferences: %w", err)
		}
		p = current
		return nil
	})
	return p, err
}
