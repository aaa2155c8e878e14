package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/notifyhub/torque-notifications/internal/domain"
)

// sqliteSchema mirrors migrations/000001_init.up.sql. Timestamps are stored
// as unix nanoseconds so that range comparisons stay numeric.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS notification_users (
	id       TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	email    TEXT NOT NULL DEFAULT '',
	phone    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS notification_events (
	id           TEXT PRIMARY KEY,
	context_type TEXT NOT NULL,
	type         TEXT NOT NULL,
	actor_id     TEXT NOT NULL DEFAULT '',
	target       TEXT NOT NULL DEFAULT '',
	context      TEXT NOT NULL DEFAULT '{}',
	created_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	event_id   TEXT NOT NULL REFERENCES notification_events(id),
	role       TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	due        INTEGER NOT NULL,
	spawned    INTEGER,
	read       INTEGER,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_user_pending ON notifications (user_id, due)
	WHERE spawned IS NULL AND read IS NULL;

CREATE TABLE IF NOT EXISTS notification_dispatches (
	id              TEXT PRIMARY KEY,
	notification_id TEXT NOT NULL REFERENCES notifications(id),
	channel         TEXT NOT NULL,
	view            TEXT NOT NULL,
	single_spec     TEXT NOT NULL,
	batch_spec      TEXT NOT NULL DEFAULT '',
	subject         TEXT NOT NULL DEFAULT '',
	to_address      TEXT NOT NULL,
	bcc_address     TEXT NOT NULL DEFAULT '',
	sent            INTEGER,
	created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dispatches_notification ON notification_dispatches (notification_id);

CREATE TABLE IF NOT EXISTS notification_preferences (
	user_id    TEXT PRIMARY KEY,
	channel    TEXT NOT NULL,
	frequency  TEXT NOT NULL,
	token      TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// SQLiteStore is the embedded Store used for local runs and tests.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) the SQLite database at path and applies
// the schema. Use ":memory:" for a throwaway store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// One connection serialises transactions, which also stands in for the
	// row lock LockPreferences takes on PostgreSQL.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() {
	s.db.Close()
}

type sqliteTx struct {
	tx *sqlx.Tx
}

// Row types. Nullable timestamps come back as NULL-able integers.

type eventRow struct {
	ID          string `db:"id"`
	ContextType string `db:"context_type"`
	Type        string `db:"type"`
	ActorID     string `db:"actor_id"`
	Target      string `db:"target"`
	Context     string `db:"context"`
	CreatedAt   int64  `db:"created_at"`
}

type notificationRow struct {
	ID        string        `db:"id"`
	UserID    string        `db:"user_id"`
	EventID   string        `db:"event_id"`
	Role      string        `db:"role"`
	Name      string        `db:"name"`
	Due       int64         `db:"due"`
	Spawned   sql.NullInt64 `db:"spawned"`
	Read      sql.NullInt64 `db:"read"`
	CreatedAt int64         `db:"created_at"`
}

func (r notificationRow) toDomain() *domain.Notification {
	return &domain.Notification{
		ID:        r.ID,
		UserID:    r.UserID,
		EventID:   r.EventID,
		Role:      r.Role,
		Name:      r.Name,
		Due:       fromNanos(r.Due),
		Spawned:   fromNullNanos(r.Spawned),
		Read:      fromNullNanos(r.Read),
		CreatedAt: fromNanos(r.CreatedAt),
	}
}

type dispatchRow struct {
	ID             string        `db:"id"`
	NotificationID string        `db:"notification_id"`
	Channel        string        `db:"channel"`
	View           string        `db:"view"`
	SingleSpec     string        `db:"single_spec"`
	BatchSpec      string        `db:"batch_spec"`
	Subject        string        `db:"subject"`
	ToAddress      string        `db:"to_address"`
	BCCAddress     string        `db:"bcc_address"`
	Sent           sql.NullInt64 `db:"sent"`
	CreatedAt      int64         `db:"created_at"`
}

func (r dispatchRow) toDomain() *domain.Dispatch {
	return &domain.Dispatch{
		ID:             r.ID,
		NotificationID: r.NotificationID,
		Channel:        domain.Channel(r.Channel),
		View:           r.View,
		SingleSpec:     r.SingleSpec,
		BatchSpec:      r.BatchSpec,
		Subject:        r.Subject,
		ToAddress:      r.ToAddress,
		BCCAddress:     r.BCCAddress,
		Sent:           fromNullNanos(r.Sent),
		CreatedAt:      fromNanos(r.CreatedAt),
	}
}

type preferencesRow struct {
	UserID    string `db:"user_id"`
	Channel   string `db:"channel"`
	Frequency string `db:"frequency"`
	Token     string `db:"token"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r preferencesRow) toDomain() *domain.Preferences {
	return &domain.Preferences{
		UserID:    r.UserID,
		Channel:   domain.Channel(r.Channel),
		Frequency: domain.Frequency(r.Frequency),
		Token:     r.Token,
		CreatedAt: fromNanos(r.CreatedAt),
		UpdatedAt: fromNanos(r.UpdatedAt),
	}
}

func (t *sqliteTx) CreateEvent(ctx context.Context, e *domain.Event) error {
	attrs := e.Context
	if attrs == nil {
		attrs = map[string]string{}
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("marshaling event context: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO notification_events (id, context_type, type, actor_id, target, context, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ContextType, e.Type, e.ActorID, e.Target, string(raw), toNanos(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

func (t *sqliteTx) GetEvent(ctx context.Context, id string) (*domain.Event, error) {
	var r eventRow
	err := t.tx.GetContext(ctx, &r, `SELECT * FROM notification_events WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting event: %w", err)
	}
	e := &domain.Event{
		ID:          r.ID,
		ContextType: r.ContextType,
		Type:        r.Type,
		ActorID:     r.ActorID,
		Target:      r.Target,
		CreatedAt:   fromNanos(r.CreatedAt),
	}
	if err := json.Unmarshal([]byte(r.Context), &e.Context); err != nil {
		return nil, fmt.Errorf("unmarshaling event context: %w", err)
	}
	return e, nil
}

func (t *sqliteTx) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return t.getUser(ctx, `SELECT id, username, email, phone FROM notification_users WHERE id = ?`, id)
}

func (t *sqliteTx) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return t.getUser(ctx, `SELECT id, username, email, phone FROM notification_users WHERE username = ?`, username)
}

func (t *sqliteTx) getUser(ctx context.Context, query, arg string) (*domain.User, error) {
	var u struct {
		ID       string `db:"id"`
		Username string `db:"username"`
		Email    string `db:"email"`
		Phone    string `db:"phone"`
	}
	err := t.tx.GetContext(ctx, &u, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return &domain.User{ID: u.ID, Username: u.Username, Email: u.Email, Phone: u.Phone}, nil
}

func (t *sqliteTx) CreateNotification(ctx context.Context, n *domain.Notification) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, event_id, role, name, due, spawned, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.EventID, n.Role, n.Name, toNanos(n.Due),
		toNullNanos(n.Spawned), toNullNanos(n.Read), toNanos(n.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	return nil
}

func (t *sqliteTx) GetNotification(ctx context.Context, id string) (*domain.Notification, error) {
	var r notificationRow
	err := t.tx.GetContext(ctx, &r, `SELECT * FROM notifications WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting notification: %w", err)
	}
	return r.toDomain(), nil
}

func (t *sqliteTx) MarkNotificationSpawned(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE notifications SET spawned = ?
		WHERE id = ? AND spawned IS NULL AND read IS NULL`, toNanos(at), id)
	return affected(res, err, "marking notification spawned")
}

func (t *sqliteTx) MarkNotificationRead(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE notifications SET read = ? WHERE id = ? AND read IS NULL`, toNanos(at), id)
	return affected(res, err, "marking notification read")
}

func (t *sqliteTx) ListSpawnableNotifications(ctx context.Context, userID string, before, after time.Time) ([]*domain.Notification, error) {
	var rows []notificationRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT * FROM notifications
		WHERE user_id = ?
		  AND spawned IS NULL
		  AND read IS NULL
		  AND due < ?
		  AND due >= ?
		ORDER BY created_at ASC, id ASC`, userID, toNanos(before), toNanos(after))
	if err != nil {
		return nil, fmt.Errorf("listing spawnable notifications: %w", err)
	}
	result := make([]*domain.Notification, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toDomain())
	}
	return result, nil
}

func (t *sqliteTx) InsertPreferencesIfAbsent(ctx context.Context, p *domain.Preferences) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO notification_preferences
			(user_id, channel, frequency, token, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.UserID, string(p.Channel), string(p.Frequency), p.Token,
		toNanos(p.CreatedAt), toNanos(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting preferences: %w", err)
	}
	return nil
}

func (t *sqliteTx) GetPreferences(ctx context.Context, userID string) (*domain.Preferences, error) {
	var r preferencesRow
	err := t.tx.GetContext(ctx, &r, `SELECT * FROM notification_preferences WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting preferences: %w", err)
	}
	return r.toDomain(), nil
}

// LockPreferences relies on the single-connection pool for exclusion.
func (t *sqliteTx) LockPreferences(ctx context.Context, userID string) (*domain.Preferences, error) {
	return t.GetPreferences(ctx, userID)
}

func (t *sqliteTx) UpdatePreferences(ctx context.Context, p *domain.Preferences) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE notification_preferences SET channel = ?, frequency = ?, updated_at = ?
		WHERE user_id = ?`,
		string(p.Channel), string(p.Frequency), toNanos(p.UpdatedAt), p.UserID)
	ok, err := affected(res, err, "updating preferences")
	if err == nil && !ok {
		return domain.ErrNotFound
	}
	return err
}

func (t *sqliteTx) SetToken(ctx context.Context, userID, token string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE notification_preferences SET token = ?, updated_at = ? WHERE user_id = ?`,
		token, toNanos(time.Now()), userID)
	if err != nil {
		return fmt.Errorf("setting token: %w", err)
	}
	return nil
}

func (t *sqliteTx) ListPreferencesWithDueNotifications(ctx context.Context, before, after time.Time) ([]*domain.Preferences, error) {
	var rows []preferencesRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT p.* FROM notification_preferences p
		WHERE EXISTS (
			SELECT 1 FROM notifications n
			WHERE n.user_id = p.user_id
			  AND n.spawned IS NULL
			  AND n.read IS NULL
			  AND n.due < ?
			  AND n.due >= ?)
		ORDER BY p.user_id`, toNanos(before), toNanos(after))
	if err != nil {
		return nil, fmt.Errorf("listing preferences with due notifications: %w", err)
	}
	return preferencesFromRows(rows), nil
}

func (t *sqliteTx) ListPreferencesWithUnsentDispatches(ctx context.Context) ([]*domain.Preferences, error) {
	var rows []preferencesRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT p.* FROM notification_preferences p
		WHERE p.frequency <> ?
		  AND EXISTS (
			SELECT 1 FROM notification_dispatches d
			JOIN notifications n ON n.id = d.notification_id
			WHERE n.user_id = p.user_id
			  AND d.sent IS NULL
			  AND n.read IS NULL)
		ORDER BY p.user_id`, string(domain.FrequencyNever))
	if err != nil {
		return nil, fmt.Errorf("listing preferences with unsent dispatches: %w", err)
	}
	return preferencesFromRows(rows), nil
}

func (t *sqliteTx) CreateDispatch(ctx context.Context, d *domain.Dispatch) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO notification_dispatches
			(id, notification_id, channel, view, single_spec, batch_spec, subject,
			 to_address, bcc_address, sent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.NotificationID, string(d.Channel), d.View, d.SingleSpec, d.BatchSpec, d.Subject,
		d.ToAddress, d.BCCAddress, toNullNanos(d.Sent), toNanos(d.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting dispatch: %w", err)
	}
	return nil
}

func (t *sqliteTx) LastDispatchSent(ctx context.Context, userID string) (*time.Time, error) {
	var last sql.NullInt64
	err := t.tx.GetContext(ctx, &last, `
		SELECT MAX(d.sent) FROM notification_dispatches d
		JOIN notifications n ON n.id = d.notification_id
		WHERE n.user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("getting last dispatch sent: %w", err)
	}
	return fromNullNanos(last), nil
}

func (t *sqliteTx) ListUnsentDispatches(ctx context.Context, userID string) ([]*domain.Dispatch, error) {
	var rows []dispatchRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT d.* FROM notification_dispatches d
		JOIN notifications n ON n.id = d.notification_id
		WHERE n.user_id = ?
		  AND d.sent IS NULL
		  AND n.read IS NULL
		ORDER BY d.created_at ASC, d.id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing unsent dispatches: %w", err)
	}
	result := make([]*domain.Dispatch, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toDomain())
	}
	return result, nil
}

func (t *sqliteTx) MarkDispatchSent(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE notification_dispatches SET sent = ? WHERE id = ? AND sent IS NULL`, toNanos(at), id)
	return affected(res, err, "marking dispatch sent")
}

// InsertUser adds a directory entry. The users table is owned by the host
// application; this exists for local development and tests.
func (s *SQLiteStore) InsertUser(ctx context.Context, u *domain.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_users (id, username, email, phone) VALUES (?, ?, ?, ?)`,
		u.ID, u.Username, u.Email, u.Phone)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

func affected(res sql.Result, err error, op string) (bool, error) {
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}

func preferencesFromRows(rows []preferencesRow) []*domain.Preferences {
	result := make([]*domain.Preferences, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toDomain())
	}
	return result
}

func toNanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func toNullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}
