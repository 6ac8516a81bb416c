package history

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MemoryStore keeps histories in process memory. Sessions idle for longer
// than the TTL are removed by Sweep.
type MemoryStore struct {
	opts   options
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*memoryEntry
}

type memoryEntry struct {
	messages []Message
	lastSeen time.Time
}

// NewMemoryStore creates an in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{
		opts:     o,
		logger:   o.logger.With("component", "history.memory"),
		sessions: make(map[string]*memoryEntry),
	}
}

// GetOrCreate implements Store.
func (s *MemoryStore) GetOrCreate(ctx context.Context, sessionID string) ([]Message, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// A session torn down mid-turn cancels ctx before deleting its history;
	// checking under the lock keeps a late turn from recreating it.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, ok := s.sessions[sessionID]
	if !ok {
		e = &memoryEntry{
			messages: []Message{{Role: RoleSystem, Content: s.opts.systemPrompt}},
		}
		s.sessions[sessionID] = e
		s.logger.Debug("session created", "session_id", sessionID)
	}
	e.lastSeen = s.opts.now()
	return clone(e.messages), nil
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, sessionID string, msg Message) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	e.messages = append(e.messages, msg)
	e.lastSeen = s.opts.now()
	return clone(e.messages), nil
}

// Messages implements Store.
func (s *MemoryStore) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(e.messages), nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// Len returns the number of live sessions.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep removes sessions idle since before now-TTL and returns how many were removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-s.opts.ttl)
	removed := 0
	for id, e := range s.sessions {
		if e.lastSeen.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("expired sessions", "removed", removed)
	}
	return removed
}

// RunJanitor sweeps every interval until ctx is done.
func (s *MemoryStore) RunJanitor(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep(s.opts.now())
		}
	}
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*memoryEntry)
	return nil
}

var _ Store = (*MemoryStore)(nil)
