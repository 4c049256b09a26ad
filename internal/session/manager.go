// internal/session/manager.go

// Package session owns the session record: PIN generation, settings,
// and the is_playing / is_ending / ended lifecycle flags. Every write goes
// to the document store through the retry wrapper.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/partydeck/partydeck/internal/models"
	"github.com/partydeck/partydeck/internal/retry"
	"github.com/partydeck/partydeck/internal/store"
)

var (
	// ErrNotFound is returned when no session exists for a PIN.
	ErrNotFound = errors.New("session: not found")
	// ErrEnded is returned for operations on a session that has ended.
	ErrEnded = errors.New("session: already ended")
	// ErrInvalidTimer is returned when min > max or a bound is not positive.
	ErrInvalidTimer = errors.New("session: invalid timer bounds")
	// ErrInvalidMode is returned for an unknown distribution mode.
	ErrInvalidMode = errors.New("session: invalid distribution mode")
	// ErrPINExhausted is returned when no free PIN was found after several
	// draws. PIN uniqueness is best-effort check-then-create; a concurrent
	// create can still collide, which the original accepted as a risk.
	ErrPINExhausted = errors.New("session: could not allocate a free pin")
)

const pinAttempts = 5

// Defaults applied to a freshly created session.
const (
	DefaultMinTimerSeconds = 30
	DefaultMaxTimerSeconds = 60
)

// Manager persists session records.
type Manager struct {
	coll   store.Collection
	logger *logrus.Logger
	rng    *rand.Rand
}

// NewManager builds a manager on the given store.
func NewManager(st store.Store, logger *logrus.Logger) *Manager {
	return &Manager{
		coll:   st.Collection(models.CollectionSession),
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *Manager) retryCfg(component string) retry.Config {
	return retry.Config{
		Component:      component,
		MaxRetries:     3,
		InitialTimeout: 15 * time.Second,
		Logger:         m.logger,
	}
}

// Settings is a partial update of conductor-tunable session fields. Nil
// pointers leave the stored value untouched.
type Settings struct {
	Mode            *models.Mode
	MinTimerSeconds *int
	MaxTimerSeconds *int
	ActiveDeckID    *string
}

// Create allocates a session with a fresh 4-digit PIN. The PIN is checked
// for collision before creation and redrawn up to pinAttempts times.
func (m *Manager) Create(ctx context.Context, mode models.Mode, minSec, maxSec int) (models.Session, error) {
	if mode == "" {
		mode = models.ModeRandom
	}
	if !mode.Valid() {
		return models.Session{}, ErrInvalidMode
	}
	if minSec <= 0 {
		minSec = DefaultMinTimerSeconds
	}
	if maxSec <= 0 {
		maxSec = DefaultMaxTimerSeconds
	}
	if minSec > maxSec {
		return models.Session{}, ErrInvalidTimer
	}

	for attempt := 0; attempt < pinAttempts; attempt++ {
		pin := fmt.Sprintf("%04d", m.rng.Intn(10000))
		taken, err := m.pinTaken(ctx, pin)
		if err != nil {
			return models.Session{}, err
		}
		if taken {
			m.logger.WithField("pin", pin).Debug("session pin collision, redrawing")
			continue
		}

		sess := models.Session{
			PIN:             pin,
			Mode:            mode,
			MinTimerSeconds: minSec,
			MaxTimerSeconds: maxSec,
		}
		rec, err := retry.Do(ctx, m.retryCfg("session.create"), func(ctx context.Context) (store.Record, error) {
			return m.coll.Create(ctx, sess.Fields())
		})
		if err != nil {
			return models.Session{}, err
		}
		return models.SessionFromRecord(rec), nil
	}
	return models.Session{}, ErrPINExhausted
}

func (m *Manager) pinTaken(ctx context.Context, pin string) (bool, error) {
	list, err := retry.Do(ctx, m.retryCfg("session.pin_check"), func(ctx context.Context) ([]store.Record, error) {
		return m.coll.Filter(map[string]any{
			models.FieldPIN:   pin,
			models.FieldEnded: false,
		}).GetList(ctx)
	})
	if err != nil {
		return false, err
	}
	return len(list) > 0, nil
}

// Get loads the session for a PIN. When several records share a PIN (the
// accepted collision risk), the newest un-ended one wins.
func (m *Manager) Get(ctx context.Context, pin string) (models.Session, error) {
	rec, err := m.record(ctx, pin)
	if err != nil {
		return models.Session{}, err
	}
	return models.SessionFromRecord(rec), nil
}

func (m *Manager) record(ctx context.Context, pin string) (store.Record, error) {
	list, err := retry.Do(ctx, m.retryCfg("session.get"), func(ctx context.Context) ([]store.Record, error) {
		return m.coll.Filter(map[string]any{models.FieldPIN: pin}).GetList(ctx)
	})
	if err != nil {
		return store.Record{}, err
	}
	if len(list) == 0 {
		return store.Record{}, ErrNotFound
	}
	best := list[0]
	for _, rec := range list[1:] {
		if best.Bool(models.FieldEnded) && !rec.Bool(models.FieldEnded) {
			best = rec
			continue
		}
		if rec.Bool(models.FieldEnded) == best.Bool(models.FieldEnded) && rec.Created.After(best.Created) {
			best = rec
		}
	}
	return best, nil
}

// UpdateSettings applies a partial settings change to a live session.
func (m *Manager) UpdateSettings(ctx context.Context, pin string, s Settings) (models.Session, error) {
	rec, err := m.record(ctx, pin)
	if err != nil {
		return models.Session{}, err
	}
	cur := models.SessionFromRecord(rec)
	if cur.Ended {
		return models.Session{}, ErrEnded
	}

	partial := map[string]any{}
	minSec, maxSec := cur.MinTimerSeconds, cur.MaxTimerSeconds
	if s.Mode != nil {
		if !s.Mode.Valid() {
			return models.Session{}, ErrInvalidMode
		}
		partial[models.FieldMode] = string(*s.Mode)
	}
	if s.MinTimerSeconds != nil {
		minSec = *s.MinTimerSeconds
		partial[models.FieldMinTimerSeconds] = minSec
	}
	if s.MaxTimerSeconds != nil {
		maxSec = *s.MaxTimerSeconds
		partial[models.FieldMaxTimerSeconds] = maxSec
	}
	if minSec <= 0 || minSec > maxSec {
		return models.Session{}, ErrInvalidTimer
	}
	if s.ActiveDeckID != nil {
		partial[models.FieldActiveDeckID] = *s.ActiveDeckID
	}
	if len(partial) == 0 {
		return cur, nil
	}

	updated, err := retry.Do(ctx, m.retryCfg("session.update"), func(ctx context.Context) (store.Record, error) {
		return m.coll.Update(ctx, rec.ID, partial)
	})
	if err != nil {
		return models.Session{}, err
	}
	return models.SessionFromRecord(updated), nil
}

// SetPlaying flips the is_playing flag (conductor start/stop).
func (m *Manager) SetPlaying(ctx context.Context, pin string, playing bool) (models.Session, error) {
	rec, err := m.record(ctx, pin)
	if err != nil {
		return models.Session{}, err
	}
	if rec.Bool(models.FieldEnded) {
		return models.Session{}, ErrEnded
	}
	updated, err := retry.Do(ctx, m.retryCfg("session.set_playing"), func(ctx context.Context) (store.Record, error) {
		return m.coll.Update(ctx, rec.ID, map[string]any{models.FieldIsPlaying: playing})
	})
	if err != nil {
		return models.Session{}, err
	}
	return models.SessionFromRecord(updated), nil
}

// MarkEnding flags the session as shutting down so clients can render an
// "ending" state while END sentinels are still being written out.
func (m *Manager) MarkEnding(ctx context.Context, pin string) error {
	rec, err := m.record(ctx, pin)
	if err != nil {
		return err
	}
	_, err = retry.Do(ctx, m.retryCfg("session.mark_ending"), func(ctx context.Context) (store.Record, error) {
		return m.coll.Update(ctx, rec.ID, map[string]any{models.FieldIsEnding: true})
	})
	return err
}

// Finalize flips the session to its terminal state. Called after the END
// sentinel passes, whether or not every player was reached.
func (m *Manager) Finalize(ctx context.Context, pin string) (models.Session, error) {
	rec, err := m.record(ctx, pin)
	if err != nil {
		return models.Session{}, err
	}
	updated, err := retry.Do(ctx, m.retryCfg("session.finalize"), func(ctx context.Context) (store.Record, error) {
		return m.coll.Update(ctx, rec.ID, map[string]any{
			models.FieldIsPlaying: false,
			models.FieldIsEnding:  false,
			models.FieldEnded:     true,
		})
	})
	if err != nil {
		return models.Session{}, err
	}
	return models.SessionFromRecord(updated), nil
}
