// Package module loads the natural-language analysis module and hands out
// short-lived sessions on it.
//
// The module is a compiled ruleset. It can be served in-process or by an
// external plugin binary; either way callers only ever see a Session scoped
// to a single logical use.
package module

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/felixgeelhaar/prosecheck/internal/checker/sdk"
	"github.com/felixgeelhaar/prosecheck/internal/checker/types"
)

// APIVersion is the analysis API implemented by this build. Rulesets declare
// the minimum version they need.
const APIVersion = "v1.2.0"

// Info describes a loaded module.
type Info struct {
	Name      string `json:"name" yaml:"name"`
	Version   string `json:"version" yaml:"version"`
	Language  string `json:"language" yaml:"language"`
	Source    string `json:"source" yaml:"-"`
	RuleCount int    `json:"rule_count" yaml:"-"`
}

// Backend performs the analysis. Implementations must be safe for
// concurrent use.
type Backend interface {
	Analyze(ctx context.Context, text string) ([]types.RangeFinding, error)
	Close() error
}

// Module is a loaded analysis module.
type Module struct {
	info    Info
	backend Backend
	arena   *Arena
	once    sync.Once
	err     error
}

// New wraps a backend into a module.
func New(info Info, backend Backend) *Module {
	return &Module{
		info:    info,
		backend: backend,
		arena:   newArena(),
	}
}

// Info returns module metadata.
func (m *Module) Info() Info {
	return m.info
}

// Acquire returns a fresh session. Callers must Release it.
func (m *Module) Acquire() (*Session, error) {
	return m.arena.acquire(m.backend)
}

// Outstanding returns the number of sessions not yet released.
func (m *Module) Outstanding() int {
	return m.arena.outstanding()
}

// Close refuses new sessions and releases the backend.
func (m *Module) Close() error {
	m.once.Do(func() {
		m.arena.close()
		m.err = m.backend.Close()
	})
	return m.err
}

// Arena issues sessions and tracks the ones still held.
type Arena struct {
	mu     sync.Mutex
	nextID uint64
	live   map[uint64]struct{}
	closed bool
}

func newArena() *Arena {
	return &Arena{live: make(map[uint64]struct{})}
}

func (a *Arena) acquire(backend Backend) (*Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, sdk.ErrModuleClosed
	}
	a.nextID++
	a.live[a.nextID] = struct{}{}
	return &Session{id: a.nextID, arena: a, backend: backend}, nil
}

func (a *Arena) release(id uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.live, id)
}

func (a *Arena) outstanding() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

func (a *Arena) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
}

// ErrSessionReleased is returned when a released session is used.
var ErrSessionReleased = errors.New("session already released")

// Session is a short-lived handle on the module.
type Session struct {
	id       uint64
	arena    *Arena
	backend  Backend
	released atomic.Bool
}

// ID returns the session identifier, unique per module.
func (s *Session) ID() uint64 {
	return s.id
}

// Analyze runs the module over text.
func (s *Session) Analyze(ctx context.Context, text string) ([]types.RangeFinding, error) {
	if s.released.Load() {
		return nil, ErrSessionReleased
	}
	findings, err := s.backend.Analyze(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}
	return findings, nil
}

// Release returns the session to the arena. Releasing twice is a no-op.
func (s *Session) Release() {
	if s.released.CompareAndSwap(false, true) {
		s.arena.release(s.id)
	}
}
