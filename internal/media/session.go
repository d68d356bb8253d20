package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/folio/service/internal/notify"
	"github.com/folio/service/internal/upload"
)

// ErrSessionNotFound is returned for unknown or closed sessions.
var ErrSessionNotFound = errors.New("upload session not found")

// Session is one editor's upload control plus the file behind its current
// preview, which stays in memory until committed or replaced.
type Session struct {
	ID        string
	Owner     string
	AdminID   string
	Control   *upload.Control
	Feed      *notify.Feed
	CreatedAt time.Time

	mu       sync.Mutex
	pending  *upload.Candidate
	gen      uint64 // bumped whenever the control changes or removes the image
	lastSeen time.Time
}

// Pending returns the file behind the current preview, if it has not been committed.
func (s *Session) Pending() (upload.Candidate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return upload.Candidate{}, false
	}
	return *s.pending, true
}

func (s *Session) setPending(f *upload.Candidate) {
	s.mu.Lock()
	s.pending = f
	s.gen++
	s.mu.Unlock()
}

// takePending hands the pending file to the caller and clears it. The
// returned generation identifies the selection the file belongs to.
func (s *Session) takePending() (*upload.Candidate, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.pending
	s.pending = nil
	return f, s.gen, f != nil
}

// restorePending puts f back unless the image was replaced or removed
// since gen was taken.
func (s *Session) restorePending(f *upload.Candidate, gen uint64) {
	s.mu.Lock()
	if s.gen == gen {
		s.pending = f
	}
	s.mu.Unlock()
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// OpenParams describe a new session.
type OpenParams struct {
	Owner   string
	AdminID string
	Value   string
	Config  upload.Config
}

// Sessions is the set of open upload sessions.
type Sessions struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	previews upload.Previews
	defaults upload.Config
	now      func() time.Time
}

// NewSessions creates an empty session set. defaults fill the limits a
// session does not specify.
func NewSessions(previews upload.Previews, defaults upload.Config) *Sessions {
	return &Sessions{
		sessions: make(map[string]*Session),
		previews: previews,
		defaults: defaults,
		now:      time.Now,
	}
}

// Open creates a session with its own control and notification feed.
func (m *Sessions) Open(ctx context.Context, p OpenParams) (*Session, error) {
	cfg := p.Config
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = m.defaults.MaxSizeMB
	}
	if len(cfg.AcceptedFormats) == 0 {
		cfg.AcceptedFormats = m.defaults.AcceptedFormats
	}

	now := m.now()
	s := &Session{
		ID:        uuid.NewString(),
		Owner:     p.Owner,
		AdminID:   p.AdminID,
		Feed:      notify.NewFeed(),
		CreatedAt: now,
		lastSeen:  now,
	}

	logger := log.With().Str("session", s.ID).Str("owner", p.Owner).Logger()

	ctl, err := upload.New(upload.Options{
		Value:    p.Value,
		Config:   cfg,
		Notifier: s.Feed,
		Logger:   &logger,
		Previews: m.previews,
		OnChange: func(ref string, file *upload.Candidate) error {
			if ref == "" {
				s.setPending(nil)
				return nil
			}
			s.setPending(file)
			return nil
		},
		OnRemove: func() error {
			s.setPending(nil)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create control: %w", err)
	}
	s.Control = ctl

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	log.Ctx(ctx).Debug().Str("session", s.ID).Str("owner", p.Owner).Msg("upload session opened")
	return s, nil
}

// Get returns an open session and marks it as recently used.
func (m *Sessions) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.touch(m.now())
	return s, nil
}

// Close removes a session and releases its preview.
func (m *Sessions) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	s.Control.Close(ctx)
	s.setPending(nil)
	log.Ctx(ctx).Debug().Str("session", id).Msg("upload session closed")
	return nil
}

// Len returns the number of open sessions.
func (m *Sessions) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep closes sessions unused for longer than idle and returns how many it closed.
func (m *Sessions) Sweep(ctx context.Context, idle time.Duration) int {
	cutoff := m.now().Add(-idle)

	m.mu.RLock()
	var stale []string
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	closed := 0
	for _, id := range stale {
		if err := m.Close(ctx, id); err == nil {
			closed++
		}
	}
	return closed
}

// Run sweeps idle sessions every interval until ctx is done.
func (m *Sessions) Run(ctx context.Context, idle, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(ctx, idle); n > 0 {
				log.Info().Int("closed", n).Msg("closed idle upload sessions")
			}
		}
	}
}

// CloseAll closes every open session; used on shutdown.
func (m *Sessions) CloseAll(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		_ = m.Close(ctx, id)
	}
}
