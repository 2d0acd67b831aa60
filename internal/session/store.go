package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// IDGenerator generates unique session IDs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Store holds scan sessions. Mutations of one session are serialized;
// different sessions never contend.
type Store interface {
	// Create starts a new open session
	Create(settings Settings) (*ScanSession, error)

	// Get returns a snapshot of a session
	Get(id string) (*ScanSession, error)

	// Update runs fn against a working copy of the session while holding the
	// session's write slot. The copy replaces the stored session only when fn
	// returns nil.
	Update(ctx context.Context, id string, fn func(*ScanSession) error) (*ScanSession, error)

	// AppendImage commits a capture to an open session
	AppendImage(ctx context.Context, id string, img CapturedImage) (*ScanSession, error)

	// Complete moves an open session with at least one capture to completed
	Complete(ctx context.Context, id string) (*ScanSession, error)

	// Abort moves an open session to aborted
	Abort(ctx context.Context, id string) (*ScanSession, error)
}

type entry struct {
	// slot admits one writer at a time; waiting on it honours ctx.
	slot chan struct{}

	mu      sync.Mutex
	session *ScanSession
}

func (e *entry) snapshot() *ScanSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.clone()
}

// MemoryStore implements Store in process memory
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*entry
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewMemoryStore creates a MemoryStore with UUID session ids
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithDeps(&uuidGenerator{}, &defaultTimeSource{})
}

// NewMemoryStoreWithDeps creates a MemoryStore with custom dependencies for testing
func NewMemoryStoreWithDeps(idGen IDGenerator, timeSrc TimeSource) *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]*entry),
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// Create starts a new open session
func (m *MemoryStore) Create(settings Settings) (*ScanSession, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	now := m.timeSource.Now()
	s := &ScanSession{
		ID:          m.idGenerator.Generate(),
		Settings:    settings,
		Images:      []CapturedImage{},
		MergedLines: []string{},
		Status:      StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID]; exists {
		return nil, fmt.Errorf("session id collision: %s", s.ID)
	}
	m.sessions[s.ID] = &entry{
		slot:    make(chan struct{}, 1),
		session: s,
	}
	return s.clone(), nil
}

func (m *MemoryStore) lookup(id string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return e, nil
}

// Get returns a snapshot of the last committed state of a session
func (m *MemoryStore) Get(id string) (*ScanSession, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.snapshot(), nil
}

// Update serializes fn with every other mutation of the same session
func (m *MemoryStore) Update(ctx context.Context, id string, fn func(*ScanSession) error) (*ScanSession, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	select {
	case e.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-e.slot }()

	work := e.snapshot()
	if err := fn(work); err != nil {
		return nil, err
	}
	// The caller may have been cancelled while fn ran; nothing is committed then.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	work.UpdatedAt = m.timeSource.Now()

	e.mu.Lock()
	e.session = work
	e.mu.Unlock()

	return work.clone(), nil
}

// AppendImage commits a capture to an open session
func (m *MemoryStore) AppendImage(ctx context.Context, id string, img CapturedImage) (*ScanSession, error) {
	return m.Update(ctx, id, func(s *ScanSession) error {
		return s.Append(img)
	})
}

// Complete moves an open session with at least one capture to completed
func (m *MemoryStore) Complete(ctx context.Context, id string) (*ScanSession, error) {
	return m.Update(ctx, id, func(s *ScanSession) error {
		if s.Status != StatusOpen {
			return fmt.Errorf("%w: cannot complete session %s in status %s", ErrInvalidState, s.ID, s.Status)
		}
		if len(s.Images) == 0 {
			return fmt.Errorf("%w: %s", ErrEmptySession, s.ID)
		}
		s.Status = StatusCompleted
		return nil
	})
}

// Abort moves an open session to aborted
func (m *MemoryStore) Abort(ctx context.Context, id string) (*ScanSession, error) {
	return m.Update(ctx, id, func(s *ScanSession) error {
		if s.Status != StatusOpen {
			return fmt.Errorf("%w: cannot abort session %s in status %s", ErrInvalidState, s.ID, s.Status)
		}
		s.Status = StatusAborted
		return nil
	})
}
