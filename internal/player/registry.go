// internal/player/registry.go

// Package player tracks per-session player records: join-or-resume,
// heartbeats, readiness, and the card fields written by the distribution
// engine. Players are identified within a session by name; rejoining with
// the same name resumes the existing record.
package player

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/partydeck/partydeck/internal/models"
	"github.com/partydeck/partydeck/internal/retry"
	"github.com/partydeck/partydeck/internal/store"
)

var (
	// ErrNotFound is returned when a player record does not exist.
	ErrNotFound = errors.New("player: not found")
	// ErrEmptyName is returned when a join name is blank after trimming.
	ErrEmptyName = errors.New("player: name must not be empty")
	// ErrSessionFull is returned when a session already has the maximum
	// number of active players.
	ErrSessionFull = errors.New("player: session is full")
)

// MaxActivePlayers caps how many players one session can hold.
const MaxActivePlayers = 10

// Registry persists player records.
type Registry struct {
	coll   store.Collection
	logger *logrus.Logger
	clock  clockwork.Clock
}

// NewRegistry builds a registry on the given store.
func NewRegistry(st store.Store, logger *logrus.Logger, clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{
		coll:   st.Collection(models.CollectionPlayer),
		logger: logger,
		clock:  clock,
	}
}

func (r *Registry) retryCfg(component string) retry.Config {
	return retry.Config{
		Component:      component,
		MaxRetries:     3,
		InitialTimeout: 15 * time.Second,
		Logger:         r.logger,
	}
}

// Join resumes the player named name in the session, reactivating an
// existing record or creating a fresh one. The ten-player cap counts only
// active players, so an inactive slot can be reclaimed by anyone.
func (r *Registry) Join(ctx context.Context, sessionPIN, name string) (models.Player, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Player{}, ErrEmptyName
	}

	existing, err := r.find(ctx, sessionPIN, name)
	if err == nil {
		rec, err := retry.Do(ctx, r.retryCfg("player.rejoin"), func(ctx context.Context) (store.Record, error) {
			return r.coll.Update(ctx, existing.ID, map[string]any{
				models.FieldPlayerActive:   true,
				models.FieldPlayerLastSeen: r.clock.Now().UnixMilli(),
			})
		})
		if err != nil {
			return models.Player{}, err
		}
		r.logger.WithFields(logrus.Fields{"pin": sessionPIN, "player": name}).Info("player rejoined")
		return models.PlayerFromRecord(rec), nil
	}
	if !errors.Is(err, ErrNotFound) {
		return models.Player{}, err
	}

	active, err := r.ListActive(ctx, sessionPIN)
	if err != nil {
		return models.Player{}, err
	}
	if len(active) >= MaxActivePlayers {
		return models.Player{}, ErrSessionFull
	}

	rec, err := retry.Do(ctx, r.retryCfg("player.join"), func(ctx context.Context) (store.Record, error) {
		return r.coll.Create(ctx, map[string]any{
			models.FieldPlayerSessionPIN:   sessionPIN,
			models.FieldPlayerName:         name,
			models.FieldPlayerActive:       true,
			models.FieldPlayerCurrentCard:  "",
			models.FieldPlayerDeckName:     "",
			models.FieldPlayerDeckID:       "",
			models.FieldPlayerCardStart:    0,
			models.FieldPlayerCardDuration: 0,
			models.FieldPlayerReadyForCard: false,
			models.FieldPlayerCardReceived: false,
			models.FieldPlayerSessionEnded: false,
			models.FieldPlayerLastSeen:     r.clock.Now().UnixMilli(),
		})
	})
	if err != nil {
		return models.Player{}, err
	}
	r.logger.WithFields(logrus.Fields{"pin": sessionPIN, "player": name}).Info("player joined")
	return models.PlayerFromRecord(rec), nil
}

// Find loads a player by session PIN and name.
func (r *Registry) Find(ctx context.Context, sessionPIN, name string) (models.Player, error) {
	rec, err := r.find(ctx, sessionPIN, strings.TrimSpace(name))
	if err != nil {
		return models.Player{}, err
	}
	return models.PlayerFromRecord(rec), nil
}

func (r *Registry) find(ctx context.Context, sessionPIN, name string) (store.Record, error) {
	list, err := retry.Do(ctx, r.retryCfg("player.find"), func(ctx context.Context) ([]store.Record, error) {
		return r.coll.Filter(map[string]any{
			models.FieldPlayerSessionPIN: sessionPIN,
			models.FieldPlayerName:       name,
		}).GetList(ctx)
	})
	if err != nil {
		return store.Record{}, err
	}
	if len(list) == 0 {
		return store.Record{}, ErrNotFound
	}
	return list[0], nil
}

// List returns every player record in a session, active or not.
func (r *Registry) List(ctx context.Context, sessionPIN string) ([]models.Player, error) {
	return r.list(ctx, map[string]any{models.FieldPlayerSessionPIN: sessionPIN})
}

// ListActive returns the active players in a session.
func (r *Registry) ListActive(ctx context.Context, sessionPIN string) ([]models.Player, error) {
	return r.list(ctx, map[string]any{
		models.FieldPlayerSessionPIN: sessionPIN,
		models.FieldPlayerActive:     true,
	})
}

func (r *Registry) list(ctx context.Context, match map[string]any) ([]models.Player, error) {
	recs, err := retry.Do(ctx, r.retryCfg("player.list"), func(ctx context.Context) ([]store.Record, error) {
		return r.coll.Filter(match).GetList(ctx)
	})
	if err != nil {
		return nil, err
	}
	players := make([]models.Player, 0, len(recs))
	for _, rec := range recs {
		players = append(players, models.PlayerFromRecord(rec))
	}
	return players, nil
}

// Query exposes the filtered view over one player's record for change feeds.
func (r *Registry) Query(sessionPIN, name string) store.Query {
	return r.coll.Filter(map[string]any{
		models.FieldPlayerSessionPIN: sessionPIN,
		models.FieldPlayerName:       strings.TrimSpace(name),
	})
}

// Heartbeat bumps last_seen for a player.
func (r *Registry) Heartbeat(ctx context.Context, id uuid.UUID) error {
	return r.update(ctx, "player.heartbeat", id, map[string]any{
		models.FieldPlayerLastSeen: r.clock.Now().UnixMilli(),
	})
}

// MarkReady records that the player's countdown reached zero and the client
// is waiting for the next card. The engine picks this up on its next tick.
func (r *Registry) MarkReady(ctx context.Context, id uuid.UUID) error {
	return r.update(ctx, "player.mark_ready", id, map[string]any{
		models.FieldPlayerReadyForCard: true,
		models.FieldPlayerLastSeen:     r.clock.Now().UnixMilli(),
	})
}

// AcknowledgeCard records that the client rendered its assigned card.
func (r *Registry) AcknowledgeCard(ctx context.Context, id uuid.UUID) error {
	return r.update(ctx, "player.ack_card", id, map[string]any{
		models.FieldPlayerCardReceived: true,
		models.FieldPlayerLastSeen:     r.clock.Now().UnixMilli(),
	})
}

// Deactivate marks the player inactive. Records are never hard-deleted;
// going inactive is the only exit.
func (r *Registry) Deactivate(ctx context.Context, id uuid.UUID) error {
	return r.update(ctx, "player.deactivate", id, map[string]any{
		models.FieldPlayerActive: false,
	})
}

// AssignCard writes a freshly distributed card onto the player record. Only
// the distribution engine calls this.
func (r *Registry) AssignCard(ctx context.Context, id uuid.UUID, card, deckName, deckID string, durationSec int, start time.Time) error {
	return r.update(ctx, "player.assign_card", id, map[string]any{
		models.FieldPlayerCurrentCard:  card,
		models.FieldPlayerDeckName:     deckName,
		models.FieldPlayerDeckID:       deckID,
		models.FieldPlayerCardDuration: durationSec,
		models.FieldPlayerCardStart:    start.UnixMilli(),
		models.FieldPlayerReadyForCard: false,
		models.FieldPlayerCardReceived: false,
	})
}

// MarkEnded writes the END sentinel and the persistent session_ended flag so
// a late-reconnecting client still sees the session is over.
func (r *Registry) MarkEnded(ctx context.Context, id uuid.UUID) error {
	return r.update(ctx, "player.mark_ended", id, map[string]any{
		models.FieldPlayerCurrentCard:  models.EndSentinel,
		models.FieldPlayerCardDuration: 0,
		models.FieldPlayerReadyForCard: false,
		models.FieldPlayerSessionEnded: true,
	})
}

func (r *Registry) update(ctx context.Context, component string, id uuid.UUID, partial map[string]any) error {
	_, err := retry.Do(ctx, r.retryCfg(component), func(ctx context.Context) (store.Record, error) {
		return r.coll.Update(ctx, id, partial)
	})
	if err != nil && errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
