package sessions

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nekrassov01/instancebot/internal/providers"
)

// PGStore implements Store backed by Postgres. Hot sessions are
// cached in memory so the tool loop does not hit the database on
// every history read.
type PGStore struct {
	db    *sql.DB
	mu    sync.RWMutex
	cache map[string]*Session
}

// OpenPG connects to Postgres and ensures the sessions table exists.
func OpenPG(dsn string) (*PGStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id          UUID PRIMARY KEY,
			session_key TEXT UNIQUE NOT NULL,
			data        JSONB NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure sessions table: %w", err)
	}
	return &PGStore{db: db, cache: make(map[string]*Session)}, nil
}

func (s *PGStore) loadLocked(key string) *Session {
	if sess, ok := s.cache[key]; ok {
		return sess
	}

	var data []byte
	err := s.db.QueryRow(
		`SELECT data FROM sessions WHERE session_key = $1`, key).Scan(&data)
	if err == nil {
		var sess Session
		if json.Unmarshal(data, &sess) == nil && sess.Key != "" {
			if sess.Replies == nil {
				sess.Replies = make(map[string]string)
			}
			s.cache[key] = &sess
			return &sess
		}
	}

	now := time.Now()
	sess := &Session{
		Key:      key,
		Messages: []providers.Message{},
		Replies:  make(map[string]string),
		Created:  now,
		Updated:  now,
	}
	s.cache[key] = sess
	return sess
}

func (s *PGStore) History(key string) []providers.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.loadLocked(key)
	msgs := make([]providers.Message, len(sess.Messages))
	copy(msgs, sess.Messages)
	return msgs
}

func (s *PGStore) Append(key string, msgs ...providers.Message) error {
	s.mu.Lock()
	sess := s.loadLocked(key)
	sess.Messages = append(sess.Messages, msgs...)
	sess.Updated = time.Now()
	s.mu.Unlock()

	return s.save(key)
}

func (s *PGStore) ReplyFor(key, eventID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.loadLocked(key)
	reply, ok := sess.Replies[eventID]
	return reply, ok
}

func (s *PGStore) RecordReply(key, eventID, reply string) error {
	s.mu.Lock()
	sess := s.loadLocked(key)
	sess.Replies[eventID] = reply
	sess.Updated = time.Now()
	s.mu.Unlock()

	return s.save(key)
}

func (s *PGStore) AccumulateTokens(key string, inputTokens, outputTokens int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.cache[key]; ok {
		sess.InputTokens += inputTokens
		sess.OutputTokens += outputTokens
	}
}

func (s *PGStore) Sweep(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	s.mu.Lock()
	for key, sess := range s.cache {
		if sess.Updated.Before(cutoff) {
			delete(s.cache, key)
		}
	}
	s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM sessions WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0
	}
	n, _ := res.RowsAffected()
	return int(n)
}

func (s *PGStore) Close() error { return s.db.Close() }

func (s *PGStore) save(key string) error {
	s.mu.RLock()
	sess, ok := s.cache[key]
	if !ok {
		s.mu.RUnlock()
		return nil
	}
	snapshot := *sess
	snapshot.Messages = make([]providers.Message, len(sess.Messages))
	copy(snapshot.Messages, sess.Messages)
	snapshot.Replies = make(map[string]string, len(sess.Replies))
	for id, reply := range sess.Replies {
		snapshot.Replies[id] = reply
	}
	s.mu.RUnlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO sessions (id, session_key, data, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_key) DO UPDATE
			SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		uuid.Must(uuid.NewV7()), key, data, snapshot.Updated)
	if err != nil {
		return fmt.Errorf("save session %s: %w", key, err)
	}
	return nil
}
