// internal/engine/supervisor.go
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/partydeck/partydeck/internal/deck"
	"github.com/partydeck/partydeck/internal/player"
	"github.com/partydeck/partydeck/internal/session"
)

// Supervisor keeps at most one running distribution loop per session PIN.
// The pending set inside the engine already serializes per-player writes;
// the supervisor makes sure a conductor hammering start/stop does not stack
// loops. It guards a single process only, which is the same guarantee the
// original gave: two conductor devices on one session still race.
type Supervisor struct {
	Engine   *Engine
	Sessions *session.Manager
	Decks    *deck.Adapter
	Players  *player.Registry
	Interval time.Duration
	Clock    clockwork.Clock
	Logger   *logrus.Logger

	mu    sync.Mutex
	loops map[string]context.CancelFunc
}

// Start launches the distribution loop for a session if none is running.
func (s *Supervisor) Start(pin string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loops == nil {
		s.loops = make(map[string]context.CancelFunc)
	}
	if _, running := s.loops[pin]; running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.loops[pin] = cancel

	loop := &Loop{
		Engine:   s.Engine,
		Sessions: s.Sessions,
		Decks:    s.Decks,
		Players:  s.Players,
		PIN:      pin,
		Interval: s.Interval,
		Clock:    s.Clock,
		Logger:   s.Logger,
	}
	go func() {
		loop.Run(ctx)
		s.mu.Lock()
		if stored, ok := s.loops[pin]; ok {
			stored()
			delete(s.loops, pin)
		}
		s.mu.Unlock()
	}()
}

// Stop cancels the loop for a session, if one is running.
func (s *Supervisor) Stop(pin string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.loops[pin]; ok {
		cancel()
		delete(s.loops, pin)
	}
}

// StopAll cancels every running loop; used at shutdown.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for pin, cancel := range s.loops {
		cancel()
		delete(s.loops, pin)
	}
}
