package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/torque-notifications/internal/domain"
)

type pgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore returns a Store backed by PostgreSQL.
func NewPgStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

func (s *pgStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *pgStore) Close() {
	s.pool.Close()
}

type pgTx struct {
	tx pgx.Tx
}

const (
	notificationColumns = `id, user_id, event_id, role, name, due, spawned, read, created_at`
	dispatchColumns     = `id, notification_id, channel, view, single_spec, batch_spec, subject,
		to_address, bcc_address, sent, created_at`
	preferencesColumns = `user_id, channel, frequency, token, created_at, updated_at`
)

func (t *pgTx) CreateEvent(ctx context.Context, e *domain.Event) error {
	ctxAttrs := e.Context
	if ctxAttrs == nil {
		ctxAttrs = map[string]string{}
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO notification_events (id, context_type, type, actor_id, target, context, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		e.ID, e.ContextType, e.Type, e.ActorID, e.Target, ctxAttrs, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (t *pgTx) GetEvent(ctx context.Context, id string) (*domain.Event, error) {
	var e domain.Event
	err := t.tx.QueryRow(ctx, `
		SELECT id, context_type, type, actor_id, target, context, created_at
		FROM notification_events WHERE id = $1`, id,
	).Scan(&e.ID, &e.ContextType, &e.Type, &e.ActorID, &e.Target, &e.Context, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return &e, nil
}

func (t *pgTx) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return t.getUser(ctx, `SELECT id, username, email, phone FROM notification_users WHERE id = $1`, id)
}

func (t *pgTx) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return t.getUser(ctx, `SELECT id, username, email, phone FROM notification_users WHERE username = $1`, username)
}

func (t *pgTx) getUser(ctx context.Context, query, arg string) (*domain.User, error) {
	var u domain.User
	err := t.tx.QueryRow(ctx, query, arg).Scan(&u.ID, &u.Username, &u.Email, &u.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (t *pgTx) CreateNotification(ctx context.Context, n *domain.Notification) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		n.ID, n.UserID, n.EventID, n.Role, n.Name, n.Due, n.Spawned, n.Read, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (t *pgTx) GetNotification(ctx context.Context, id string) (*domain.Notification, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id)
	n, err := scanNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

func (t *pgTx) MarkNotificationSpawned(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE notifications SET spawned = $1
		WHERE id = $2 AND spawned IS NULL AND read IS NULL`, at, id)
	return updated(tag, err, "mark notification spawned")
}

func (t *pgTx) MarkNotificationRead(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE notifications SET read = $1
		WHERE id = $2 AND read IS NULL`, at, id)
	return updated(tag, err, "mark notification read")
}

func (t *pgTx) ListSpawnableNotifications(ctx context.Context, userID string, before, after time.Time) ([]*domain.Notification, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE user_id = $1
		  AND spawned IS NULL
		  AND read IS NULL
		  AND due < $2
		  AND due >= $3
		ORDER BY created_at ASC, id ASC`, userID, before, after)
	if err != nil {
		return nil, fmt.Errorf("list spawnable notifications: %w", err)
	}
	defer rows.Close()

	var result []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

func (t *pgTx) InsertPreferencesIfAbsent(ctx context.Context, p *domain.Preferences) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO notification_preferences (`+preferencesColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (user_id) DO NOTHING`,
		p.UserID, p.Channel, p.Frequency, p.Token, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert preferences: %w", err)
	}
	return nil
}

func (t *pgTx) GetPreferences(ctx context.Context, userID string) (*domain.Preferences, error) {
	return t.getPreferences(ctx, `SELECT `+preferencesColumns+` FROM notification_preferences WHERE user_id = $1`, userID)
}

func (t *pgTx) LockPreferences(ctx context.Context, userID string) (*domain.Preferences, error) {
	return t.getPreferences(ctx, `SELECT `+preferencesColumns+` FROM notification_preferences WHERE user_id = $1 FOR UPDATE`, userID)
}

func (t *pgTx) getPreferences(ctx context.Context, query, userID string) (*domain.Preferences, error) {
	p, err := scanPreferences(t.tx.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get preferences: %w", err)
	}
	return p, nil
}

func (t *pgTx) UpdatePreferences(ctx context.Context, p *domain.Preferences) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE notification_preferences
		SET channel = $1, frequency = $2, updated_at = $3
		WHERE user_id = $4`, p.Channel, p.Frequency, p.UpdatedAt, p.UserID)
	ok, err := updated(tag, err, "update preferences")
	if err == nil && !ok {
		return domain.ErrNotFound
	}
	return err
}

func (t *pgTx) SetToken(ctx context.Context, userID, token string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE notification_preferences SET token = $1, updated_at = NOW()
		WHERE user_id = $2`, token, userID)
	if err != nil {
		return fmt.Errorf("set token: %w", err)
	}
	return nil
}

func (t *pgTx) ListPreferencesWithDueNotifications(ctx context.Context, before, after time.Time) ([]*domain.Preferences, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+preferencesColumns+`
		FROM notification_preferences p
		WHERE EXISTS (
			SELECT 1 FROM notifications n
			WHERE n.user_id = p.user_id
			  AND n.spawned IS NULL
			  AND n.read IS NULL
			  AND n.due < $1
			  AND n.due >= $2)
		ORDER BY p.user_id`, before, after)
	if err != nil {
		return nil, fmt.Errorf("list preferences with due notifications: %w", err)
	}
	defer rows.Close()
	return scanPreferencesRows(rows)
}

func (t *pgTx) ListPreferencesWithUnsentDispatches(ctx context.Context) ([]*domain.Preferences, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+preferencesColumns+`
		FROM notification_preferences p
		WHERE p.frequency <> 'never'
		  AND EXISTS (
			SELECT 1 FROM notification_dispatches d
			JOIN notifications n ON n.id = d.notification_id
			WHERE n.user_id = p.user_id
			  AND d.sent IS NULL
			  AND n.read IS NULL)
		ORDER BY p.user_id`)
	if err != nil {
		return nil, fmt.Errorf("list preferences with unsent dispatches: %w", err)
	}
	defer rows.Close()
	return scanPreferencesRows(rows)
}

func (t *pgTx) CreateDispatch(ctx context.Context, d *domain.Dispatch) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO notification_dispatches (`+dispatchColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		d.ID, d.NotificationID, d.Channel, d.View, d.SingleSpec, d.BatchSpec, d.Subject,
		d.ToAddress, d.BCCAddress, d.Sent, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dispatch: %w", err)
	}
	return nil
}

func (t *pgTx) LastDispatchSent(ctx context.Context, userID string) (*time.Time, error) {
	var last *time.Time
	err := t.tx.QueryRow(ctx, `
		SELECT MAX(d.sent)
		FROM notification_dispatches d
		JOIN notifications n ON n.id = d.notification_id
		WHERE n.user_id = $1`, userID).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("last dispatch sent: %w", err)
	}
	return last, nil
}

func (t *pgTx) ListUnsentDispatches(ctx context.Context, userID string) ([]*domain.Dispatch, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT d.id, d.notification_id, d.channel, d.view, d.single_spec, d.batch_spec, d.subject,
		       d.to_address, d.bcc_address, d.sent, d.created_at
		FROM notification_dispatches d
		JOIN notifications n ON n.id = d.notification_id
		WHERE n.user_id = $1
		  AND d.sent IS NULL
		  AND n.read IS NULL
		ORDER BY d.created_at ASC, d.id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list unsent dispatches: %w", err)
	}
	defer rows.Close()

	var result []*domain.Dispatch
	for rows.Next() {
		var d domain.Dispatch
		if err := rows.Scan(
			&d.ID, &d.NotificationID, &d.Channel, &d.View, &d.SingleSpec, &d.BatchSpec, &d.Subject,
			&d.ToAddress, &d.BCCAddress, &d.Sent, &d.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, &d)
	}
	return result, rows.Err()
}

func (t *pgTx) MarkDispatchSent(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE notification_dispatches SET sent = $1
		WHERE id = $2 AND sent IS NULL`, at, id)
	return updated(tag, err, "mark dispatch sent")
}

// ---- helpers ----

func updated(tag pgconn.CommandTag, err error, op string) (bool, error) {
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return tag.RowsAffected() > 0, nil
}

// scanNotification reads a single notification row from any pgx row type.
func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var n domain.Notification
	err := row.Scan(
		&n.ID, &n.UserID, &n.EventID, &n.Role, &n.Name,
		&n.Due, &n.Spawned, &n.Read, &n.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func scanPreferences(row pgx.Row) (*domain.Preferences, error) {
	var p domain.Preferences
	if err := row.Scan(&p.UserID, &p.Channel, &p.Frequency, &p.Token, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPreferencesRows(rows pgx.Rows) ([]*domain.Preferences, error) {
	var result []*domain.Preferences
	for rows.Next() {
		p, err := scanPreferences(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}
