// internal/presenter/presenter.go

// Package presenter drives what a player's device shows: the assigned card
// and a smooth local countdown. Network activity only replaces the player
// snapshot (via the change feed); the countdown itself is recomputed from
// wall-clock time on every tick, never decremented, so bursty store updates
// cannot make it drift or jump.
package presenter

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/partydeck/partydeck/internal/feed"
	"github.com/partydeck/partydeck/internal/models"
	"github.com/partydeck/partydeck/internal/player"
	"github.com/partydeck/partydeck/internal/store"
)

// State is the presentation state of a player's screen.
type State string

const (
	// StateNoCard: joined, nothing assigned yet.
	StateNoCard State = "no_card"
	// StateActive: a card is on screen with time remaining.
	StateActive State = "active"
	// StateWaiting: the countdown hit zero; waiting for the next card.
	StateWaiting State = "waiting"
	// StateEnded: the session is over; terminal.
	StateEnded State = "ended"
)

// View is one rendered frame of the player screen.
type View struct {
	State        State  `json:"state"`
	PlayerName   string `json:"player_name"`
	Card         string `json:"card,omitempty"`
	DeckName     string `json:"deck_name,omitempty"`
	RemainingSec int    `json:"remaining_seconds"`
	DurationSec  int    `json:"duration_seconds"`
}

// Presenter runs the presentation loop for a single player.
type Presenter struct {
	Registry *player.Registry
	Logger   *logrus.Logger
	Clock    clockwork.Clock

	// TickInterval is the local countdown tick; sub-second so the display
	// is smooth regardless of network timing.
	TickInterval time.Duration
	// PollInterval is the backup poll behind the push subscription.
	PollInterval time.Duration

	// OnView receives every changed frame.
	OnView func(View)
}

// Run joins (or resumes) the player and drives the loop until the session
// ends or ctx is cancelled. The returned error covers setup only; once the
// loop is running, store hiccups are logged and ridden out.
func (pr *Presenter) Run(ctx context.Context, sessionPIN, name string) error {
	clock := pr.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	tick := pr.TickInterval
	if tick <= 0 {
		tick = 250 * time.Millisecond
	}
	poll := pr.PollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}

	p, err := pr.Registry.Join(ctx, sessionPIN, name)
	if err != nil {
		return err
	}

	// Snapshots coalesce: only the latest one matters, so the feed callback
	// overwrites a single slot and the signal channel just says one is
	// waiting. A stalled consumer can never lose the final write this way.
	var (
		snapMu sync.Mutex
		latest models.Player
	)
	signal := make(chan struct{}, 1)
	f := feed.New(pr.Registry.Query(sessionPIN, name), feed.Options{
		PollInterval: poll,
		Clock:        clock,
		Logger:       pr.Logger,
	})
	stopFeed, err := f.Watch(ctx, func(list []store.Record) {
		if len(list) == 0 {
			return
		}
		snapMu.Lock()
		latest = models.PlayerFromRecord(list[0])
		snapMu.Unlock()
		select {
		case signal <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer stopFeed()

	var (
		lastView    View
		haveView    bool
		readyMarked time.Time // card start we already flagged ready for
	)
	emit := func(v View) {
		if haveView && v == lastView {
			return
		}
		lastView, haveView = v, true
		if pr.OnView != nil {
			pr.OnView(v)
		}
	}

	emit(ViewAt(p, clock.Now()))

	ticker := clock.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-signal:
			snapMu.Lock()
			p = latest
			snapMu.Unlock()
		case <-ticker.Chan():
		case <-ctx.Done():
			return ctx.Err()
		}

		now := clock.Now()
		v := ViewAt(p, now)
		emit(v)

		if v.State == StateEnded {
			// Terminal: stop timers and feeds for good.
			pr.Logger.WithFields(logrus.Fields{"pin": sessionPIN, "player": name}).
				Info("session ended, presentation loop stopping")
			return nil
		}

		// Countdown expired: flag readiness exactly once per card and wait
		// for the engine. The player never self-assigns.
		if v.State == StateWaiting && p.HasCard() && !p.ReadyForCard && !p.CardStart.Equal(readyMarked) {
			if err := pr.Registry.MarkReady(ctx, p.ID); err != nil {
				pr.Logger.WithFields(logrus.Fields{"player": name, "error": err}).
					Warn("failed to mark ready, will retry next tick")
			} else {
				readyMarked = p.CardStart
				p.ReadyForCard = true
			}
		}
	}
}

// ViewAt renders a player snapshot at an instant. Pure: remaining time is a
// function of (now, card_start_time, card_duration) alone.
func ViewAt(p models.Player, now time.Time) View {
	v := View{PlayerName: p.Name}

	if p.SessionEnded || p.CurrentCard == models.EndSentinel {
		v.State = StateEnded
		return v
	}
	if !p.HasCard() {
		v.State = StateNoCard
		return v
	}

	v.Card = p.CurrentCard
	v.DeckName = p.DeckName
	v.DurationSec = p.CardDuration
	remaining := p.CardExpiry().Sub(now)
	if remaining <= 0 {
		v.State = StateWaiting
		return v
	}
	v.State = StateActive
	// Ceiling, so the display shows "1" until the moment it hits zero.
	v.RemainingSec = int((remaining + time.Second - 1) / time.Second)
	return v
}
