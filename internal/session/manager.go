// Package session tracks live executions in process memory: one Session per
// accepted request, each owning one runtime and one conversation id.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrSessionNotFound is returned for an unknown or already finished session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrCapacity is returned when no execution slot frees up in time.
	ErrCapacity = errors.New("session capacity exhausted")
)

const recentSessions = 256

// Status is the lifecycle status of a session.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Session is one live execution.
type Session struct {
	ID             string
	ConversationID string
	AgentID        string
	StartedAt      time.Time

	cancel    context.CancelFunc
	explicit  atomic.Bool
	mu        sync.Mutex
	status    Status
	endedAt   time.Time
	runtime   string
	releaseFn func()
}

// Cancel stops the session on behalf of an explicit cancel request.
func (s *Session) Cancel() {
	s.explicit.Store(true)
	s.cancel()
}

// CancelledExplicitly reports whether Cancel was called, as opposed to the
// caller disconnecting.
func (s *Session) CancelledExplicitly() bool {
	return s.explicit.Load()
}

// SetRuntime records the runtime state shown in listings.
func (s *Session) SetRuntime(state string) {
	s.mu.Lock()
	s.runtime = state
	s.mu.Unlock()
}

// Info is a snapshot of a session for listings.
type Info struct {
	SessionID      string     `json:"session_id"`
	ConversationID string     `json:"conversation_id"`
	AgentID        string     `json:"agent_id"`
	Status         Status     `json:"status"`
	RuntimeState   string     `json:"runtime_state,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

// Info returns a snapshot of s.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{
		SessionID:      s.ID,
		ConversationID: s.ConversationID,
		AgentID:        s.AgentID,
		Status:         s.status,
		RuntimeState:   s.runtime,
		StartedAt:      s.StartedAt,
	}
	if !s.endedAt.IsZero() {
		t := s.endedAt
		info.EndedAt = &t
	}
	return info
}

// Manager is the process-wide session table.
type Manager struct {
	mu     sync.RWMutex
	active map[string]*Session
	recent *lru.Cache[string, Info]
	slots  *semaphore.Weighted
	count  atomic.Int64
}

// NewManager creates a Manager. maxConcurrent <= 0 means unlimited.
func NewManager(maxConcurrent int) *Manager {
	recent, _ := lru.New[string, Info](recentSessions)
	m := &Manager{active: make(map[string]*Session), recent: recent}
	if maxConcurrent > 0 {
		m.slots = semaphore.NewWeighted(int64(maxConcurrent))
	}
	return m
}

// Create registers a new session, waiting for a free slot while ctx allows.
// The returned context is cancelled by Cancel or End.
func (m *Manager) Create(ctx context.Context, agentID, conversationID string) (*Session, context.Context, error) {
	release := func() {}
	if m.slots != nil {
		if err := m.slots.Acquire(ctx, 1); err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrCapacity, err)
		}
		release = func() { m.slots.Release(1) }
	}

	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	sessCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		AgentID:        agentID,
		StartedAt:      time.Now().UTC(),
		cancel:         cancel,
		status:         StatusActive,
		releaseFn:      release,
	}

	m.mu.Lock()
	m.active[s.ID] = s
	m.mu.Unlock()
	m.count.Add(1)
	return s, sessCtx, nil
}

// End removes a session from the active table with its final status and
// frees its slot. Ending twice is a no-op.
func (m *Manager) End(id string, status Status) {
	m.mu.Lock()
	s, ok := m.active[id]
	if ok {
		delete(m.active, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	s.status = status
	s.endedAt = time.Now().UTC()
	s.mu.Unlock()

	s.cancel()
	s.releaseFn()
	m.count.Add(-1)
	m.recent.Add(s.ID, s.Info())
}

// Get returns a live session.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.active[id]
	return s, ok
}

// Lookup returns a snapshot of a live or recently finished session.
func (m *Manager) Lookup(id string) (Info, bool) {
	if s, ok := m.Get(id); ok {
		return s.Info(), true
	}
	return m.recent.Get(id)
}

// List returns the active sessions, oldest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	infos := make([]Info, 0, len(m.active))
	for _, s := range m.active {
		infos = append(infos, s.Info())
	}
	m.mu.RUnlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].StartedAt.Before(infos[j].StartedAt) })
	return infos
}

// ByConversation returns the active sessions of a conversation.
func (m *Manager) ByConversation(conversationID string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Session
	for _, s := range m.active {
		if s.ConversationID == conversationID {
			out = append(out, s)
		}
	}
	return out
}

// Cancel cancels one live session.
func (m *Manager) Cancel(id string) error {
	s, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.Cancel()
	return nil
}

// CancelConversation cancels every live session of a conversation and
// returns their ids.
func (m *Manager) CancelConversation(conversationID string) []string {
	var ids []string
	for _, s := range m.ByConversation(conversationID) {
		s.Cancel()
		ids = append(ids, s.ID)
	}
	sort.Strings(ids)
	return ids
}

// ActiveCount returns the number of live sessions.
func (m *Manager) ActiveCount() int64 {
	return m.count.Load()
}
