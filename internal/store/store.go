// Package store provides the durable conversation context store.
//
// The store is a single JSON document mapping conversation id to its
// record, loaded fully at construction and rewritten fully on every save.
// It is the sole durable owner of conversation transcripts.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relaystack/sms-relay/internal/model"
	"github.com/relaystack/sms-relay/pkg/logger"
	"github.com/relaystack/sms-relay/pkg/metrics"
)

// ContextStore maps conversation ids to conversation records backed by a
// JSON file at an injected path.
//
// Note: saves are full overwrites with no per-conversation locking or
// versioning. Two concurrent turns for the same id can race and the last
// save wins; callers accept this lost-update behavior.
type ContextStore struct {
	path   string
	logger *logger.Logger

	mu   sync.Mutex
	data map[string]model.ConversationRecord
}

// New creates a store backed by the file at path, loading any existing
// document. A file that cannot be parsed degrades to an empty store
// rather than failing startup: availability is chosen over consistency
// here, at the cost of silently shedding the unreadable history.
func New(path string, log *logger.Logger) *ContextStore {
	s := &ContextStore{
		path:   path,
		logger: log,
		data:   make(map[string]model.ConversationRecord),
	}
	s.load()
	return s
}

func (s *ContextStore) load() {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read context store file, starting empty",
				zap.String("path", s.path),
				zap.Error(err),
			)
		}
		return
	}

	var data map[string]model.ConversationRecord
	if err := json.Unmarshal(raw, &data); err != nil {
		s.logger.Warn("context store file is corrupt, starting empty",
			zap.String("path", s.path),
			zap.Error(err),
		)
		return
	}
	s.data = data
}

// Get returns the record for a conversation id. The second return value
// is false when no record exists; a missing key is never an error.
func (s *ContextStore) Get(conversationID string) (model.ConversationRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.data[conversationID]
	return rec, ok
}

// Save overwrites the record for a conversation id with the given
// transcript and persists the whole document durably before returning.
func (s *ContextStore) Save(conversationID string, transcript model.Transcript) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[conversationID] = model.ConversationRecord{
		Transcript: transcript,
		UpdatedAt:  time.Now().UTC(),
	}

	if err := s.flush(); err != nil {
		metrics.ContextSaves.WithLabelValues("error").Inc()
		return err
	}
	metrics.ContextSaves.WithLabelValues("ok").Inc()
	return nil
}

// Clear removes the record for a conversation id. Clearing an absent id
// is a no-op.
func (s *ContextStore) Clear(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[conversationID]; !ok {
		return nil
	}
	delete(s.data, conversationID)
	return s.flush()
}

// Len returns the number of stored conversations.
func (s *ContextStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// flush rewrites the backing file and fsyncs it, so a crash immediately
// after Save never loses the just-written state. Caller holds s.mu.
func (s *ContextStore) flush() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal context store: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open context store file: %w", err)
	}

	if _, err := f.Write(raw); err != nil {
		f.Close()
		return fmt.Errorf("failed to write context store file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync context store file: %w", err)
	}
	return f.Close()
}
