// internal/deck/deck.go

// Package deck reads and writes prompt decks against the document store.
// Large decks are created in chunks: the record is created with the first
// chunk and grown by appends, so a deck upload never rides on one oversized
// remote call.
package deck

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/partydeck/partydeck/internal/models"
	"github.com/partydeck/partydeck/internal/retry"
	"github.com/partydeck/partydeck/internal/store"
)

var (
	// ErrEmptyName is returned when a deck name is blank after trimming.
	ErrEmptyName = errors.New("deck: name must not be empty")
	// ErrNoCards is returned when no non-empty cards remain after cleaning.
	ErrNoCards = errors.New("deck: no valid cards")
	// ErrNotFound is returned when a deck cannot be located.
	ErrNotFound = errors.New("deck: not found")
)

// chunkSize is the number of cards written per remote call during creation.
const chunkSize = 100

// Adapter is the deck store adapter.
type Adapter struct {
	coll   store.Collection
	logger *logrus.Logger
}

// NewAdapter builds an adapter on the given store.
func NewAdapter(st store.Store, logger *logrus.Logger) *Adapter {
	return &Adapter{
		coll:   st.Collection(models.CollectionDeck),
		logger: logger,
	}
}

func (a *Adapter) retryCfg(component string, payloadCards int) retry.Config {
	// Scale the timeout with payload size; a 100-card chunk can be slow to
	// persist on a loaded store.
	timeout := 15*time.Second + time.Duration(payloadCards/25)*time.Second
	return retry.Config{
		Component:      component,
		MaxRetries:     3,
		InitialTimeout: timeout,
		Logger:         a.logger,
	}
}

// Create validates and persists a deck scoped to a session PIN (empty PIN
// means a global deck). Cards are trimmed and blank entries dropped before
// any remote call; order is preserved.
func (a *Adapter) Create(ctx context.Context, sessionPIN, name string, cards []string) (models.Deck, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Deck{}, ErrEmptyName
	}
	cleaned := CleanCards(cards)
	if len(cleaned) == 0 {
		return models.Deck{}, ErrNoCards
	}

	first := cleaned
	if len(first) > chunkSize {
		first = cleaned[:chunkSize]
	}
	d := models.Deck{SessionPIN: sessionPIN, Name: name, Cards: first}
	rec, err := retry.Do(ctx, a.retryCfg("deck.create", len(first)), func(ctx context.Context) (store.Record, error) {
		return a.coll.Create(ctx, d.Fields())
	})
	if err != nil {
		return models.Deck{}, err
	}

	// Append the remaining chunks. Each update rewrites the full prefix, so
	// a retried append is harmless.
	for written := chunkSize; written < len(cleaned); written += chunkSize {
		end := written + chunkSize
		if end > len(cleaned) {
			end = len(cleaned)
		}
		prefix := cleaned[:end]
		chunk := models.Deck{SessionPIN: sessionPIN, Name: name, Cards: prefix}
		rec, err = retry.Do(ctx, a.retryCfg("deck.append", end-written), func(ctx context.Context) (store.Record, error) {
			return a.coll.Update(ctx, rec.ID, chunk.Fields())
		})
		if err != nil {
			return models.Deck{}, err
		}
		a.logger.WithFields(logrus.Fields{
			"deck":  name,
			"cards": end,
			"total": len(cleaned),
		}).Debug("deck chunk appended")
	}

	return models.DeckFromRecord(rec), nil
}

// List returns the un-archived decks visible to a session: its own plus
// global decks.
func (a *Adapter) List(ctx context.Context, sessionPIN string) ([]models.Deck, error) {
	scoped, err := a.list(ctx, map[string]any{
		models.FieldDeckSessionPIN: sessionPIN,
		models.FieldDeckArchived:   false,
	})
	if err != nil {
		return nil, err
	}
	if sessionPIN == "" {
		return scoped, nil
	}
	global, err := a.list(ctx, map[string]any{
		models.FieldDeckSessionPIN: "",
		models.FieldDeckArchived:   false,
	})
	if err != nil {
		return nil, err
	}
	return append(scoped, global...), nil
}

func (a *Adapter) list(ctx context.Context, match map[string]any) ([]models.Deck, error) {
	recs, err := retry.Do(ctx, a.retryCfg("deck.list", 0), func(ctx context.Context) ([]store.Record, error) {
		return a.coll.Filter(match).GetList(ctx)
	})
	if err != nil {
		return nil, err
	}
	decks := make([]models.Deck, 0, len(recs))
	for _, rec := range recs {
		decks = append(decks, models.DeckFromRecord(rec))
	}
	return decks, nil
}

// Get loads a deck by record ID. The store contract only filters on fields,
// so this scans the collection; deck counts are small.
func (a *Adapter) Get(ctx context.Context, id uuid.UUID) (models.Deck, error) {
	recs, err := retry.Do(ctx, a.retryCfg("deck.get", 0), func(ctx context.Context) ([]store.Record, error) {
		return a.coll.Filter(nil).GetList(ctx)
	})
	if err != nil {
		return models.Deck{}, err
	}
	for _, rec := range recs {
		if rec.ID == id {
			return models.DeckFromRecord(rec), nil
		}
	}
	return models.Deck{}, ErrNotFound
}

// Archive hides a deck from listings without deleting its record.
func (a *Adapter) Archive(ctx context.Context, id uuid.UUID) error {
	_, err := retry.Do(ctx, a.retryCfg("deck.archive", 0), func(ctx context.Context) (store.Record, error) {
		return a.coll.Update(ctx, id, map[string]any{models.FieldDeckArchived: true})
	})
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// CleanCards trims whitespace and drops empty entries, preserving order.
func CleanCards(cards []string) []string {
	out := make([]string, 0, len(cards))
	for _, c := range cards {
		c = strings.TrimSpace(c)
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}
