// internal/engine/engine.go

// Package engine implements card distribution: mode-specific selection,
// timer bookkeeping, and the END sentinel pass that closes a session. The
// engine owns no storage; it reads player state handed to it and writes
// assignments through the player registry, which retries on its behalf.
package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/partydeck/partydeck/internal/models"
	"github.com/partydeck/partydeck/internal/player"
)

// Reason classifies a distribution attempt that assigned nothing. These are
// expected skip-this-round outcomes, not errors (a failed store write is an
// error and reported separately).
type Reason string

const (
	// ReasonSessionEnded: the player already carries the END sentinel or
	// the session_ended flag.
	ReasonSessionEnded Reason = "SESSION_ENDED"
	// ReasonCardStillActive: the player's current card has not expired.
	ReasonCardStillActive Reason = "CARD_STILL_ACTIVE"
	// ReasonPending: another distribution attempt for this player is in
	// flight.
	ReasonPending Reason = "DISTRIBUTION_PENDING"
	// ReasonEmptyDeck: the deck has no cards to hand out.
	ReasonEmptyDeck Reason = "EMPTY_DECK"
)

// Outcome reports one distribution attempt.
type Outcome struct {
	PlayerName   string
	Assigned     bool
	Card         string
	DeckName     string
	DurationSec  int
	Reason       Reason
	RemainingSec int
	Err          error
}

// Round carries per-round shared state across the players of a single
// distribution pass. In unison mode SharedCard is fixed by the first
// selection (or precomputed by the caller) and reused verbatim for everyone;
// StartAt pins one card_start_time for the whole round.
type Round struct {
	SharedCard string
	StartAt    time.Time
}

// Engine distributes cards.
type Engine struct {
	players *player.Registry
	logger  *logrus.Logger
	clock   clockwork.Clock

	// Buffer is the safety margin past a card's nominal expiry during
	// which it still counts as active.
	Buffer time.Duration
	// InterPlayerDelay spaces out per-player store writes within a round
	// so a ten-player round does not burst the remote store.
	InterPlayerDelay time.Duration
	// EndPasses is how many sweeps EndSession makes over players that have
	// not yet received the END sentinel.
	EndPasses int

	rngMu sync.Mutex
	rng   *rand.Rand

	pendingMu sync.Mutex
	pending   map[uuid.UUID]struct{}
}

// New builds an engine. A nil clock means the real clock.
func New(players *player.Registry, logger *logrus.Logger, clock clockwork.Clock) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{
		players:          players,
		logger:           logger,
		clock:            clock,
		InterPlayerDelay: 250 * time.Millisecond,
		EndPasses:        3,
		rng:              rand.New(rand.NewSource(time.Now().UnixNano())),
		pending:          make(map[uuid.UUID]struct{}),
	}
}

// SeedRNG replaces the random source. Tests use this for determinism.
func (e *Engine) SeedRNG(seed int64) {
	e.rngMu.Lock()
	e.rng = rand.New(rand.NewSource(seed))
	e.rngMu.Unlock()
}

// Distribute attempts to assign one card to p. allPlayers is the session's
// active player set (used by unique mode to avoid duplicates); round may be
// nil outside unison rounds.
//
// The stored card is never touched unless the attempt succeeds: an active
// card, an ended session, or a concurrent attempt all return an Outcome with
// the reason and leave the record alone.
func (e *Engine) Distribute(ctx context.Context, p models.Player, d models.Deck, mode models.Mode, allPlayers []models.Player, minSec, maxSec int, round *Round) Outcome {
	out := Outcome{PlayerName: p.Name, DeckName: d.Name}

	if p.SessionEnded || p.CurrentCard == models.EndSentinel {
		out.Reason = ReasonSessionEnded
		return out
	}
	if !e.beginPending(p.ID) {
		out.Reason = ReasonPending
		return out
	}
	defer e.endPending(p.ID)

	now := e.clock.Now()
	if p.CardActiveAt(now, e.Buffer) {
		out.Reason = ReasonCardStillActive
		remaining := p.CardExpiry().Sub(now)
		out.RemainingSec = int(remaining.Round(time.Second) / time.Second)
		return out
	}
	if len(d.Cards) == 0 {
		out.Reason = ReasonEmptyDeck
		return out
	}

	duration := e.pickDuration(minSec, maxSec)
	card := e.pickCard(p, d, mode, allPlayers, round)
	start := now
	if round != nil && !round.StartAt.IsZero() {
		start = round.StartAt
	}

	if err := e.players.AssignCard(ctx, p.ID, card, d.Name, d.ID.String(), duration, start); err != nil {
		out.Err = err
		return out
	}

	e.logger.WithFields(logrus.Fields{
		"player":   p.Name,
		"deck":     d.Name,
		"mode":     mode,
		"duration": duration,
	}).Debug("card distributed")

	out.Assigned = true
	out.Card = card
	out.DurationSec = duration
	return out
}

// pickDuration draws uniformly from [minSec, maxSec]; equal bounds always
// yield exactly that value.
func (e *Engine) pickDuration(minSec, maxSec int) int {
	if minSec < 1 {
		minSec = 1
	}
	if maxSec < minSec {
		maxSec = minSec
	}
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return minSec + e.rng.Intn(maxSec-minSec+1)
}

func (e *Engine) pickCard(p models.Player, d models.Deck, mode models.Mode, allPlayers []models.Player, round *Round) string {
	switch mode {
	case models.ModeUnison:
		if round != nil && round.SharedCard != "" {
			return round.SharedCard
		}
		card := e.randomCard(d.Cards)
		if round != nil {
			round.SharedCard = card
		}
		return card
	case models.ModeUnique:
		held := make(map[string]bool)
		for _, other := range allPlayers {
			if other.ID == p.ID || !other.Active || !other.HasCard() {
				continue
			}
			held[other.CurrentCard] = true
		}
		var unheld []string
		for _, card := range d.Cards {
			if !held[card] {
				unheld = append(unheld, card)
			}
		}
		if len(unheld) > 0 {
			return e.randomCard(unheld)
		}
		// Deck exhausted: duplicates become possible.
		return e.randomCard(d.Cards)
	default:
		return e.randomCard(d.Cards)
	}
}

func (e *Engine) randomCard(cards []string) string {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return cards[e.rng.Intn(len(cards))]
}

// RunRound distributes to every player in the session that needs a card:
// no card yet, flagged ready_for_card, or holding an expired card. Players
// are processed sequentially with InterPlayerDelay between store writes. In
// unison mode one shared card and one start time are fixed for the round.
func (e *Engine) RunRound(ctx context.Context, sess models.Session, d models.Deck, allPlayers []models.Player) []Outcome {
	now := e.clock.Now()
	var round *Round
	if sess.Mode == models.ModeUnison {
		round = &Round{StartAt: now}
	}

	var outcomes []Outcome
	wrote := false
	for i := range allPlayers {
		p := allPlayers[i]
		if !p.Active || p.SessionEnded || p.CurrentCard == models.EndSentinel {
			continue
		}
		if !e.needsCard(p, now) {
			continue
		}
		if wrote && e.InterPlayerDelay > 0 {
			select {
			case <-e.clock.After(e.InterPlayerDelay):
			case <-ctx.Done():
				return outcomes
			}
		}

		out := e.Distribute(ctx, p, d, sess.Mode, allPlayers, sess.MinTimerSeconds, sess.MaxTimerSeconds, round)
		outcomes = append(outcomes, out)
		if out.Err != nil {
			e.logger.WithFields(logrus.Fields{
				"player": p.Name,
				"error":  out.Err,
			}).Warn("distribution failed")
		}
		if out.Assigned {
			wrote = true
			// Reflect the assignment locally so unique mode sees it for
			// the rest of this round.
			allPlayers[i].CurrentCard = out.Card
			allPlayers[i].CardStart = now
			allPlayers[i].CardDuration = out.DurationSec
		}
	}
	return outcomes
}

func (e *Engine) needsCard(p models.Player, now time.Time) bool {
	if !p.HasCard() || p.ReadyForCard {
		return true
	}
	return !p.CardActiveAt(now, e.Buffer)
}

// EndSession sweeps the session's players, writing the END sentinel and the
// persistent session_ended flag to each. Partial failure is expected: the
// sweep runs up to EndPasses times, and whatever still failed afterwards is
// returned by name so stragglers never block ending the session. If every
// pass fails to even list the players, no sentinel was written at all and
// the listing error is returned instead.
func (e *Engine) EndSession(ctx context.Context, sessionPIN string) ([]string, error) {
	var (
		failed  []string
		listed  bool
		listErr error
	)
	for pass := 0; pass < e.EndPasses; pass++ {
		players, err := e.players.List(ctx, sessionPIN)
		if err != nil {
			e.logger.WithFields(logrus.Fields{"pin": sessionPIN, "pass": pass, "error": err}).
				Warn("end sweep could not list players")
			listErr = err
			continue
		}
		listed = true

		failed = failed[:0]
		for _, p := range players {
			if p.SessionEnded && p.CurrentCard == models.EndSentinel {
				continue
			}
			if err := e.players.MarkEnded(ctx, p.ID); err != nil {
				e.logger.WithFields(logrus.Fields{"pin": sessionPIN, "player": p.Name, "error": err}).
					Warn("failed to deliver END sentinel")
				failed = append(failed, p.Name)
			}
		}
		if len(failed) == 0 {
			return nil, nil
		}
	}
	if !listed {
		return nil, fmt.Errorf("end sweep never listed players for session %s: %w", sessionPIN, listErr)
	}
	return failed, nil
}

func (e *Engine) beginPending(id uuid.UUID) bool {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	if _, busy := e.pending[id]; busy {
		return false
	}
	e.pending[id] = struct{}{}
	return true
}

func (e *Engine) endPending(id uuid.UUID) {
	e.pendingMu.Lock()
	delete(e.pending, id)
	e.pendingMu.Unlock()
}
