package sessions

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nekrassov01/instancebot/internal/providers"
)

// FileStore keeps sessions in memory and mirrors each one to a JSON
// file so state survives restarts.
type FileStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	storage  string
}

// NewFileStore loads existing sessions from storage. An empty storage
// path disables persistence.
func NewFileStore(storage string) *FileStore {
	s := &FileStore{
		sessions: make(map[string]*Session),
		storage:  storage,
	}
	if storage != "" {
		os.MkdirAll(storage, 0755)
		s.loadAll()
	}
	return s
}

func (s *FileStore) getOrInit(key string) *Session {
	sess, ok := s.sessions[key]
	if !ok {
		now := time.Now()
		sess = &Session{
			Key:      key,
			Messages: []providers.Message{},
			Replies:  make(map[string]string),
			Created:  now,
			Updated:  now,
		}
		s.sessions[key] = sess
	}
	return sess
}

func (s *FileStore) History(key string) []providers.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[key]
	if !ok {
		return nil
	}
	msgs := make([]providers.Message, len(sess.Messages))
	copy(msgs, sess.Messages)
	return msgs
}

func (s *FileStore) Append(key string, msgs ...providers.Message) error {
	s.mu.Lock()
	sess := s.getOrInit(key)
	sess.Messages = append(sess.Messages, msgs...)
	sess.Updated = time.Now()
	s.mu.Unlock()

	return s.save(key)
}

func (s *FileStore) ReplyFor(key, eventID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[key]
	if !ok {
		return "", false
	}
	reply, ok := sess.Replies[eventID]
	return reply, ok
}

func (s *FileStore) RecordReply(key, eventID, reply string) error {
	s.mu.Lock()
	sess := s.getOrInit(key)
	if sess.Replies == nil {
		sess.Replies = make(map[string]string)
	}
	sess.Replies[eventID] = reply
	sess.Updated = time.Now()
	s.mu.Unlock()

	return s.save(key)
}

func (s *FileStore) AccumulateTokens(key string, inputTokens, outputTokens int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[key]; ok {
		sess.InputTokens += inputTokens
		sess.OutputTokens += outputTokens
	}
}

// Sweep removes sessions whose last update is older than ttl.
func (s *FileStore) Sweep(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	s.mu.Lock()
	var expired []string
	for key, sess := range s.sessions {
		if sess.Updated.Before(cutoff) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		delete(s.sessions, key)
	}
	s.mu.Unlock()

	if s.storage != "" {
		for _, key := range expired {
			os.Remove(filepath.Join(s.storage, sanitizeFilename(key)+".json"))
		}
	}
	return len(expired)
}

func (s *FileStore) Close() error { return nil }

// save persists one session to disk atomically via temp file rename.
func (s *FileStore) save(key string) error {
	if s.storage == "" {
		return nil
	}

	s.mu.RLock()
	sess, ok := s.sessions[key]
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

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}

	filename := sanitizeFilename(key)
	if filename == "." || !filepath.IsLocal(filename) {
		return os.ErrInvalid
	}
	sessionPath := filepath.Join(s.storage, filename+".json")

	tmpFile, err := os.CreateTemp(s.storage, "session-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	tmpFile.Close()

	if err := os.Rename(tmpPath, sessionPath); err != nil {
		return err
	}
	cleanup = false
	return nil
}

func (s *FileStore) loadAll() {
	entries, err := os.ReadDir(s.storage)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.storage, entry.Name()))
		if err != nil {
			continue
		}
		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil || sess.Key == "" {
			continue
		}
		if sess.Replies == nil {
			sess.Replies = make(map[string]string)
		}
		s.sessions[sess.Key] = &sess
	}
}
