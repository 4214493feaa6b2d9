package queue

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nekrassov01/instancebot/internal/bus"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteQueue is a Queue backed by a local SQLite database. A single
// writer plus the visibility-window scan keep the contract cheap enough
// for the low concurrency this pipeline runs at.
type SQLiteQueue struct {
	db         *sql.DB
	visibility time.Duration
	now        func() time.Time
}

// OpenSQLite opens (creating if needed) the queue database at path and
// applies pending schema migrations.
func OpenSQLite(path string, visibility time.Duration) (*SQLiteQueue, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	// SQLite allows one writer; avoid SQLITE_BUSY churn from pool growth.
	db.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteQueue{db: db, visibility: visibility, now: time.Now}, nil
}

// Migrate applies all pending queue schema migrations to db.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (q *SQLiteQueue) Close() error { return q.db.Close() }

func (q *SQLiteQueue) Enqueue(ctx context.Context, event bus.InboundEvent) (bool, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return false, fmt.Errorf("encode event: %w", err)
	}

	now := q.now()
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO messages (id, event_id, payload, enqueued_at, visible_at, delivery_attempt)
		 VALUES (?, ?, ?, ?, ?, 0)
		 ON CONFLICT (event_id) DO NOTHING`,
		uuid.NewString(), event.EventID, string(payload), now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("enqueue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("enqueue: %w", err)
	}
	return n > 0, nil
}

func (q *SQLiteQueue) Receive(ctx context.Context, max int) ([]bus.QueuedMessage, error) {
	if max <= 0 {
		max = 1
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("receive: begin: %w", err)
	}
	defer tx.Rollback()

	now := q.now()
	rows, err := tx.QueryContext(ctx,
		`SELECT id, payload, enqueued_at, delivery_attempt
		 FROM messages WHERE visible_at <= ? ORDER BY enqueued_at LIMIT ?`,
		now.UnixMilli(), max,
	)
	if err != nil {
		return nil, fmt.Errorf("receive: query: %w", err)
	}

	var msgs []bus.QueuedMessage
	for rows.Next() {
		var (
			id, payload string
			enqueuedAt  int64
			attempt     int
		)
		if err := rows.Scan(&id, &payload, &enqueuedAt, &attempt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("receive: scan: %w", err)
		}
		msg := bus.QueuedMessage{
			ID:              id,
			EnqueuedAt:      time.UnixMilli(enqueuedAt),
			DeliveryAttempt: attempt + 1,
		}
		if err := json.Unmarshal([]byte(payload), &msg.Event); err != nil {
			rows.Close()
			return nil, fmt.Errorf("receive: decode payload: %w", err)
		}
		msgs = append(msgs, msg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("receive: %w", err)
	}
	if len(msgs) == 0 {
		return nil, ErrEmpty
	}

	visibleAt := now.Add(q.visibility).UnixMilli()
	for _, m := range msgs {
		if _, err := tx.ExecContext(ctx,
			`UPDATE messages SET visible_at = ?, delivery_attempt = ? WHERE id = ?`,
			visibleAt, m.DeliveryAttempt, m.ID,
		); err != nil {
			return nil, fmt.Errorf("receive: mark in flight: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("receive: commit: %w", err)
	}
	return msgs, nil
}

func (q *SQLiteQueue) Ack(ctx context.Context, id string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("ack %s: %w", id, err)
	}
	return nil
}

func (q *SQLiteQueue) Bury(ctx context.Context, id, reason string) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("bury: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO dead_letters (id, event_id, payload, enqueued_at, failed_at, delivery_attempt, reason)
		 SELECT id, event_id, payload, enqueued_at, ?, delivery_attempt, ? FROM messages WHERE id = ?`,
		q.now().UnixMilli(), reason, id,
	); err != nil {
		return fmt.Errorf("bury %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("bury %s: %w", id, err)
	}
	return tx.Commit()
}

func (q *SQLiteQueue) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, payload, enqueued_at, failed_at, delivery_attempt, reason
		 FROM dead_letters ORDER BY failed_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("dead letters: %w", err)
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		var (
			id, payload, reason  string
			enqueuedAt, failedAt int64
			attempt              int
		)
		if err := rows.Scan(&id, &payload, &enqueuedAt, &failedAt, &attempt, &reason); err != nil {
			return nil, fmt.Errorf("dead letters: scan: %w", err)
		}
		dl := DeadLetter{
			Message: bus.QueuedMessage{
				ID:              id,
				EnqueuedAt:      time.UnixMilli(enqueuedAt),
				DeliveryAttempt: attempt,
			},
			Reason:   reason,
			FailedAt: time.UnixMilli(failedAt),
		}
		if err := json.Unmarshal([]byte(payload), &dl.Message.Event); err != nil {
			return nil, fmt.Errorf("dead letters: decode payload: %w", err)
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}
