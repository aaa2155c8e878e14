package repository

import (
	"context"
	"time"

	"github.com/notifyhub/torque-notifications/internal/domain"
)

// Store opens units of work against the relational store.
// The pgx implementation is in pg_store.go, the embedded SQLite one in
// sqlite_store.go. Tests use a hand-written in-memory store (mock_store.go).
type Store interface {
	// WithTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Close()
}

// Tx is the set of persistence operations available inside a transaction.
type Tx interface {
	CreateEvent(ctx context.Context, e *domain.Event) error
	GetEvent(ctx context.Context, id string) (*domain.Event, error)

	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)

	CreateNotification(ctx context.Context, n *domain.Notification) error
	GetNotification(ctx context.Context, id string) (*domain.Notification, error)
	// MarkNotificationSpawned sets spawned only when it is unset and the
	// notification is unread. It reports whether the row was updated.
	MarkNotificationSpawned(ctx context.Context, id string, at time.Time) (bool, error)
	// MarkNotificationRead sets read only when it is unset.
	MarkNotificationRead(ctx context.Context, id string, at time.Time) (bool, error)
	// ListSpawnableNotifications returns the user's unspawned, unread
	// notifications with after <= due < before, oldest created first.
	ListSpawnableNotifications(ctx context.Context, userID string, before, after time.Time) ([]*domain.Notification, error)

	// InsertPreferencesIfAbsent inserts p unless the user already has a row.
	InsertPreferencesIfAbsent(ctx context.Context, p *domain.Preferences) error
	GetPreferences(ctx context.Context, userID string) (*domain.Preferences, error)
	// LockPreferences is GetPreferences holding a row lock until commit.
	LockPreferences(ctx context.Context, userID string) (*domain.Preferences, error)
	UpdatePreferences(ctx context.Context, p *domain.Preferences) error
	SetToken(ctx context.Context, userID, token string) error
	// ListPreferencesWithDueNotifications returns preferences of users with at
	// least one notification that ListSpawnableNotifications would return.
	ListPreferencesWithDueNotifications(ctx context.Context, before, after time.Time) ([]*domain.Preferences, error)
	// ListPreferencesWithUnsentDispatches returns preferences (frequency not
	// never) of users with at least one unsent dispatch of an unread notification.
	ListPreferencesWithUnsentDispatches(ctx context.Context) ([]*domain.Preferences, error)

	CreateDispatch(ctx context.Context, d *domain.Dispatch) error
	// LastDispatchSent returns the latest sent timestamp for the user, or nil.
	LastDispatchSent(ctx context.Context, userID string) (*time.Time, error)
	// ListUnsentDispatches returns the user's unsent dispatches of unread
	// notifications, oldest first.
	ListUnsentDispatches(ctx context.Context, userID string) ([]*domain.Dispatch, error)
	// MarkDispatchSent sets sent only when it is unset.
	MarkDispatchSent(ctx context.Context, id string, at time.Time) (bool, error)
}
