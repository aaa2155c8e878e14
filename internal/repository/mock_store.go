package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/notifyhub/torque-notifications/internal/domain"
)

// MockStore is a hand-written, in-memory Store used in unit tests.
// WithTx holds a single lock for the whole unit of work and restores a
// snapshot when fn fails, so it behaves like a serialisable database.
type MockStore struct {
	mu   sync.Mutex
	data mockData

	// Optional error overrides, set in tests to simulate failure paths.
	CreateNotificationErr error
	CreateDispatchErr     error
	SetTokenErr           error
}

type mockData struct {
	users         map[string]*domain.User
	events        map[string]*domain.Event
	notifications map[string]*domain.Notification
	dispatches    map[string]*domain.Dispatch
	preferences   map[string]*domain.Preferences
}

func NewMockStore() *MockStore {
	return &MockStore{data: mockData{
		users:         make(map[string]*domain.User),
		events:        make(map[string]*domain.Event),
		notifications: make(map[string]*domain.Notification),
		dispatches:    make(map[string]*domain.Dispatch),
		preferences:   make(map[string]*domain.Preferences),
	}}
}

func (m *MockStore) WithTx(_ context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	if err := fn(&mockTx{m: m}); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

func (m *MockStore) Close() {}

// AddUser seeds the users directory.
func (m *MockStore) AddUser(u *domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *u
	m.data.users[u.ID] = &clone
}

// Notifications returns copies of all stored notifications, oldest first.
func (m *MockStore) Notifications() []*domain.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Notification, 0, len(m.data.notifications))
	for _, n := range m.data.notifications {
		clone := *n
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Dispatches returns copies of all stored dispatches, oldest first.
func (m *MockStore) Dispatches() []*domain.Dispatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Dispatch, 0, len(m.data.dispatches))
	for _, d := range m.data.dispatches {
		clone := *d
		out = append(out, &clone)
	}
	sortDispatches(out)
	return out
}

// SetPreferences overwrites a user's preferences row.
func (m *MockStore) SetPreferences(p *domain.Preferences) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *p
	m.data.preferences[p.UserID] = &clone
}

// Preferences returns a copy of the user's row, or nil.
func (m *MockStore) Preferences(userID string) *domain.Preferences {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.data.preferences[userID]
	if !ok {
		return nil
	}
	clone := *p
	return &clone
}

func (d mockData) clone() mockData {
	out := mockData{
		users:         make(map[string]*domain.User, len(d.users)),
		events:        make(map[string]*domain.Event, len(d.events)),
		notifications: make(map[string]*domain.Notification, len(d.notifications)),
		dispatches:    make(map[string]*domain.Dispatch, len(d.dispatches)),
		preferences:   make(map[string]*domain.Preferences, len(d.preferences)),
	}
	for k, v := range d.users {
		c := *v
		out.users[k] = &c
	}
	for k, v := range d.events {
		c := *v
		out.events[k] = &c
	}
	for k, v := range d.notifications {
		c := *v
		out.notifications[k] = &c
	}
	for k, v := range d.dispatches {
		c := *v
		out.dispatches[k] = &c
	}
	for k, v := range d.preferences {
		c := *v
		out.preferences[k] = &c
	}
	return out
}

// mockTx runs with MockStore.mu held.
type mockTx struct {
	m *MockStore
}

func (t *mockTx) CreateEvent(_ context.Context, e *domain.Event) error {
	clone := *e
	t.m.data.events[e.ID] = &clone
	return nil
}

func (t *mockTx) GetEvent(_ context.Context, id string) (*domain.Event, error) {
	e, ok := t.m.data.events[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *e
	return &clone, nil
}

func (t *mockTx) GetUser(_ context.Context, id string) (*domain.User, error) {
	u, ok := t.m.data.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (t *mockTx) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	for _, u := range t.m.data.users {
		if u.Username == username {
			clone := *u
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (t *mockTx) CreateNotification(_ context.Context, n *domain.Notification) error {
	if t.m.CreateNotificationErr != nil {
		return t.m.CreateNotificationErr
	}
	clone := *n
	t.m.data.notifications[n.ID] = &clone
	return nil
}

func (t *mockTx) GetNotification(_ context.Context, id string) (*domain.Notification, error) {
	n, ok := t.m.data.notifications[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *n
	return &clone, nil
}

func (t *mockTx) MarkNotificationSpawned(_ context.Context, id string, at time.Time) (bool, error) {
	n, ok := t.m.data.notifications[id]
	if !ok || !n.Spawnable() {
		return false, nil
	}
	n.Spawned = &at
	return true, nil
}

func (t *mockTx) MarkNotificationRead(_ context.Context, id string, at time.Time) (bool, error) {
	n, ok := t.m.data.notifications[id]
	if !ok || n.Read != nil {
		return false, nil
	}
	n.Read = &at
	return true, nil
}

func (t *mockTx) ListSpawnableNotifications(_ context.Context, userID string, before, after time.Time) ([]*domain.Notification, error) {
	var out []*domain.Notification
	for _, n := range t.m.data.notifications {
		if n.UserID == userID && due(n, before, after) {
			clone := *n
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (t *mockTx) InsertPreferencesIfAbsent(_ context.Context, p *domain.Preferences) error {
	if _, ok := t.m.data.preferences[p.UserID]; ok {
		return nil
	}
	clone := *p
	t.m.data.preferences[p.UserID] = &clone
	return nil
}

func (t *mockTx) GetPreferences(_ context.Context, userID string) (*domain.Preferences, error) {
	p, ok := t.m.data.preferences[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (t *mockTx) LockPreferences(ctx context.Context, userID string) (*domain.Preferences, error) {
	return t.GetPreferences(ctx, userID)
}

func (t *mockTx) UpdatePreferences(_ context.Context, p *domain.Preferences) error {
	existing, ok := t.m.data.preferences[p.UserID]
	if !ok {
		return domain.ErrNotFound
	}
	existing.Channel = p.Channel
	existing.Frequency = p.Frequency
	existing.UpdatedAt = p.UpdatedAt
	return nil
}

func (t *mockTx) SetToken(_ context.Context, userID, token string) error {
	if t.m.SetTokenErr != nil {
		return t.m.SetTokenErr
	}
	if p, ok := t.m.data.preferences[userID]; ok {
		p.Token = token
	}
	return nil
}

func (t *mockTx) ListPreferencesWithDueNotifications(_ context.Context, before, after time.Time) ([]*domain.Preferences, error) {
	users := make(map[string]bool)
	for _, n := range t.m.data.notifications {
		if due(n, before, after) {
			users[n.UserID] = true
		}
	}
	return t.preferencesFor(users), nil
}

func (t *mockTx) ListPreferencesWithUnsentDispatches(_ context.Context) ([]*domain.Preferences, error) {
	users := make(map[string]bool)
	for _, d := range t.m.data.dispatches {
		n, ok := t.m.data.notifications[d.NotificationID]
		if !ok || d.Sent != nil || n.Read != nil {
			continue
		}
		if p, ok := t.m.data.preferences[n.UserID]; ok && p.Frequency != domain.FrequencyNever {
			users[n.UserID] = true
		}
	}
	return t.preferencesFor(users), nil
}

func (t *mockTx) CreateDispatch(_ context.Context, d *domain.Dispatch) error {
	if t.m.CreateDispatchErr != nil {
		return t.m.CreateDispatchErr
	}
	clone := *d
	t.m.data.dispatches[d.ID] = &clone
	return nil
}

func (t *mockTx) LastDispatchSent(_ context.Context, userID string) (*time.Time, error) {
	var last *time.Time
	for _, d := range t.m.data.dispatches {
		n, ok := t.m.data.notifications[d.NotificationID]
		if !ok || n.UserID != userID || d.Sent == nil {
			continue
		}
		if last == nil || d.Sent.After(*last) {
			s := *d.Sent
			last = &s
		}
	}
	return last, nil
}

func (t *mockTx) ListUnsentDispatches(_ context.Context, userID string) ([]*domain.Dispatch, error) {
	var out []*domain.Dispatch
	for _, d := range t.m.data.dispatches {
		n, ok := t.m.data.notifications[d.NotificationID]
		if !ok || n.UserID != userID || d.Sent != nil || n.Read != nil {
			continue
		}
		clone := *d
		out = append(out, &clone)
	}
	sortDispatches(out)
	return out, nil
}

func (t *mockTx) MarkDispatchSent(_ context.Context, id string, at time.Time) (bool, error) {
	d, ok := t.m.data.dispatches[id]
	if !ok || d.Sent != nil {
		return false, nil
	}
	d.Sent = &at
	return true, nil
}

func (t *mockTx) preferencesFor(users map[string]bool) []*domain.Preferences {
	out := make([]*domain.Preferences, 0, len(users))
	for id := range users {
		if p, ok := t.m.data.preferences[id]; ok {
			clone := *p
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func due(n *domain.Notification, before, after time.Time) bool {
	return n.Spawnable() && n.Due.Before(before) && !n.Due.Before(after)
}

func sortDispatches(ds []*domain.Dispatch) {
	sort.Slice(ds, func(i, j int) bool {
		if ds[i].CreatedAt.Equal(ds[j].CreatedAt) {
			return ds[i].ID < ds[j].ID
		}
		return ds[i].CreatedAt.Before(ds[j].CreatedAt)
	})
}
