// internal/engine/loop.go
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/partydeck/partydeck/internal/deck"
	"github.com/partydeck/partydeck/internal/player"
	"github.com/partydeck/partydeck/internal/session"
)

// Loop is the conductor-side auto-distribution timer for one session. Every
// Interval it re-reads the session, deck, and player set, and hands the lot
// to the engine for a distribution round. The loop exits on context
// cancellation or once the session has ended.
type Loop struct {
	Engine   *Engine
	Sessions *session.Manager
	Decks    *deck.Adapter
	Players  *player.Registry
	PIN      string
	Interval time.Duration
	Clock    clockwork.Clock
	Logger   *logrus.Logger
}

// Run blocks until the session ends or ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	clock := l.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	interval := l.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	l.Logger.WithField("pin", l.PIN).Info("distribution loop started")
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			if done := l.Tick(ctx); done {
				l.Logger.WithField("pin", l.PIN).Info("distribution loop finished")
				return
			}
		case <-ctx.Done():
			l.Logger.WithField("pin", l.PIN).Info("distribution loop cancelled")
			return
		}
	}
}

// Tick runs one scan-and-distribute pass. It returns true once the loop
// should stop (session ended or gone).
func (l *Loop) Tick(ctx context.Context) bool {
	sess, err := l.Sessions.Get(ctx, l.PIN)
	if errors.Is(err, session.ErrNotFound) {
		l.Logger.WithField("pin", l.PIN).Warn("session disappeared, stopping loop")
		return true
	}
	if err != nil {
		l.Logger.WithFields(logrus.Fields{"pin": l.PIN, "error": err}).Warn("loop could not load session")
		return false
	}
	if sess.Ended {
		return true
	}
	if !sess.IsPlaying || sess.IsEnding || sess.ActiveDeckID == "" {
		return false
	}

	deckID, err := uuid.Parse(sess.ActiveDeckID)
	if err != nil {
		l.Logger.WithFields(logrus.Fields{"pin": l.PIN, "deck_id": sess.ActiveDeckID}).
			Warn("session has a malformed active deck id")
		return false
	}
	d, err := l.Decks.Get(ctx, deckID)
	if err != nil {
		l.Logger.WithFields(logrus.Fields{"pin": l.PIN, "deck_id": deckID, "error": err}).
			Warn("loop could not load active deck")
		return false
	}
	if len(d.Cards) == 0 {
		return false
	}

	players, err := l.Players.ListActive(ctx, l.PIN)
	if err != nil {
		l.Logger.WithFields(logrus.Fields{"pin": l.PIN, "error": err}).Warn("loop could not list players")
		return false
	}
	if len(players) == 0 {
		return false
	}

	l.Engine.RunRound(ctx, sess, d, players)
	return false
}
