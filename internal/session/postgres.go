package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time assertion that PostgresStore satisfies the Store interface.
var _ Store = (*PostgresStore)(nil)

// PostgresStore persists sessions in a single sessions table with JSONB
// columns for the record, field states, and conversation log. All methods are
// safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and ensures the sessions table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("session store: connect: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS sessions (
		    id            text PRIMARY KEY,
		    status        text NOT NULL,
		    group_index   int NOT NULL,
		    created_at    timestamptz NOT NULL,
		    last_activity timestamptz NOT NULL,
		    record        jsonb NOT NULL,
		    field_states  jsonb NOT NULL,
		    log           jsonb NOT NULL
		);
		CREATE INDEX IF NOT EXISTS sessions_last_activity_idx
		    ON sessions (last_activity)`

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("session store: ensure schema: %w", err)
	}
	return nil
}

// Put implements [Store.Put] as an upsert keyed on the session ID.
func (s *PostgresStore) Put(ctx context.Context, sess *Session) error {
	record, states, log, err := marshalJSONColumns(sess)
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO sessions
		    (id, status, group_index, created_at, last_activity, record, field_states, log)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
		    status        = EXCLUDED.status,
		    group_index   = EXCLUDED.group_index,
		    last_activity = EXCLUDED.last_activity,
		    record        = EXCLUDED.record,
		    field_states  = EXCLUDED.field_states,
		    log           = EXCLUDED.log`

	_, err = s.pool.Exec(ctx, q,
		sess.ID,
		string(sess.Status),
		sess.GroupIndex,
		sess.CreatedAt,
		sess.LastActivity,
		record,
		states,
		log,
	)
	if err != nil {
		return fmt.Errorf("session store: put: %w", err)
	}
	return nil
}

// Get implements [Store.Get].
func (s *PostgresStore) Get(ctx context.Context, id string) (*Session, error) {
	const q = `
		SELECT id, status, group_index, created_at, last_activity, record, field_states, log
		FROM   sessions
		WHERE  id = $1`

	var (
		sess                Session
		status              string
		record, states, log []byte
	)
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&sess.ID,
		&status,
		&sess.GroupIndex,
		&sess.CreatedAt,
		&sess.LastActivity,
		&record,
		&states,
		&log,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session store: get: %w", err)
	}

	sess.Status = Status(status)
	if err := json.Unmarshal(record, &sess.Record); err != nil {
		return nil, fmt.Errorf("session store: decode record: %w", err)
	}
	if err := json.Unmarshal(states, &sess.FieldStates); err != nil {
		return nil, fmt.Errorf("session store: decode field states: %w", err)
	}
	if err := json.Unmarshal(log, &sess.Log); err != nil {
		return nil, fmt.Errorf("session store: decode log: %w", err)
	}
	return &sess, nil
}

// Delete implements [Store.Delete]. Idempotent.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("session store: delete: %w", err)
	}
	return nil
}

// Sweep implements [Store.Sweep] with a single DELETE.
func (s *PostgresStore) Sweep(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE last_activity < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("session store: sweep: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Ping implements [Store.Ping].
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("session store: ping: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func marshalJSONColumns(sess *Session) (record, states, log []byte, err error) {
	if record, err = json.Marshal(sess.Record); err != nil {
		return nil, nil, nil, fmt.Errorf("session store: encode record: %w", err)
	}
	if states, err = json.Marshal(sess.FieldStates); err != nil {
		return nil, nil, nil, fmt.Errorf("session store: encode field states: %w", err)
	}
	if sess.Log == nil {
		log = []byte("[]")
		return record, states, log, nil
	}
	if log, err = json.Marshal(sess.Log); err != nil {
		return nil, nil, nil, fmt.Errorf("session store: encode log: %w", err)
	}
	return record, states, log, nil
}
