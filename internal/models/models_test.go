// internal/models/models_test.go
package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/partydeck/partydeck/internal/store"
)

func TestModeValid(t *testing.T) {
	assert.True(t, ModeUnison.Valid())
	assert.True(t, ModeUnique.Valid())
	assert.True(t, ModeRandom.Valid())
	assert.False(t, Mode("").Valid())
	assert.False(t, Mode("spiral").Valid())
}

func TestPlayerHasCard(t *testing.T) {
	var p Player
	assert.False(t, p.HasCard())
	p.CurrentCard = EndSentinel
	assert.False(t, p.HasCard(), "the END sentinel is not a card")
	p.CurrentCard = "charades"
	assert.True(t, p.HasCard())
}

func TestPlayerCardTiming(t *testing.T) {
	start := time.Now()
	p := Player{CurrentCard: "charades", CardStart: start, CardDuration: 30}

	assert.Equal(t, start.Add(30*time.Second), p.CardExpiry())
	assert.True(t, p.CardActiveAt(start, 0))
	assert.True(t, p.CardActiveAt(start.Add(29*time.Second), 0))
	assert.False(t, p.CardActiveAt(start.Add(30*time.Second), 0))
	assert.True(t, p.CardActiveAt(start.Add(32*time.Second), 5*time.Second),
		"buffer extends the active window")

	assert.False(t, Player{}.CardActiveAt(start, time.Hour), "no card is never active")
}

func TestSessionFieldsRoundTrip(t *testing.T) {
	s := Session{
		PIN:             "1234",
		Mode:            ModeUnique,
		MinTimerSeconds: 20,
		MaxTimerSeconds: 40,
		IsPlaying:       true,
		ActiveDeckID:    uuid.NewString(),
	}
	rec := store.Record{ID: uuid.New(), Fields: s.Fields()}
	got := SessionFromRecord(rec)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, s.PIN, got.PIN)
	assert.Equal(t, s.Mode, got.Mode)
	assert.Equal(t, s.MinTimerSeconds, got.MinTimerSeconds)
	assert.Equal(t, s.MaxTimerSeconds, got.MaxTimerSeconds)
	assert.Equal(t, s.IsPlaying, got.IsPlaying)
	assert.Equal(t, s.ActiveDeckID, got.ActiveDeckID)
}

func TestDeckFieldsRoundTrip(t *testing.T) {
	d := Deck{SessionPIN: "1234", Name: "party", Cards: []string{"a", "b"}}
	rec := store.Record{ID: uuid.New(), Fields: d.Fields()}
	got := DeckFromRecord(rec)
	assert.Equal(t, []string{"a", "b"}, got.Cards)
	assert.Equal(t, 2, got.CardCount)

	// A card list that went through the JSON backends arrives as []any.
	rec.Fields[FieldDeckCards] = []any{"x", "y", "z"}
	assert.Equal(t, []string{"x", "y", "z"}, DeckFromRecord(rec).Cards)
}
