// internal/models/player.go
package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/partydeck/partydeck/internal/store"
)

// CollectionPlayer names the store collection holding player records.
const CollectionPlayer = "player"

// EndSentinel is the literal card value signalling "session over" to a
// player. It is written in place of a card so that a client reconnecting
// after the fact still renders the end screen instead of waiting forever.
const EndSentinel = "END"

// Player field names in the player collection.
const (
	FieldPlayerSessionPIN   = "session_pin"
	FieldPlayerName         = "name"
	FieldPlayerActive       = "active"
	FieldPlayerCurrentCard  = "current_card"
	FieldPlayerDeckName     = "current_deck_name"
	FieldPlayerDeckID       = "current_deck_id"
	FieldPlayerCardStart    = "card_start_time"
	FieldPlayerCardDuration = "card_duration"
	FieldPlayerReadyForCard = "ready_for_card"
	FieldPlayerCardReceived = "card_received"
	FieldPlayerSessionEnded = "session_ended"
	FieldPlayerLastSeen     = "last_seen"
)

// Player is one participant's record: identity within a session plus the
// currently assigned card and its timing. The distribution engine writes the
// card fields; the player's own client writes heartbeats and readiness.
type Player struct {
	ID           uuid.UUID `json:"id"`
	SessionPIN   string    `json:"session_pin"`
	Name         string    `json:"name"`
	Active       bool      `json:"active"`
	CurrentCard  string    `json:"current_card"`
	DeckName     string    `json:"current_deck_name"`
	DeckID       string    `json:"current_deck_id"`
	CardStart    time.Time `json:"card_start_time"`
	CardDuration int       `json:"card_duration"` // seconds
	ReadyForCard bool      `json:"ready_for_card"`
	CardReceived bool      `json:"card_received"`
	SessionEnded bool      `json:"session_ended"`
	LastSeen     time.Time `json:"last_seen"`
}

// PlayerFromRecord maps a store record onto a Player.
func PlayerFromRecord(rec store.Record) Player {
	return Player{
		ID:           rec.ID,
		SessionPIN:   rec.String(FieldPlayerSessionPIN),
		Name:         rec.String(FieldPlayerName),
		Active:       rec.Bool(FieldPlayerActive),
		CurrentCard:  rec.String(FieldPlayerCurrentCard),
		DeckName:     rec.String(FieldPlayerDeckName),
		DeckID:       rec.String(FieldPlayerDeckID),
		CardStart:    rec.Time(FieldPlayerCardStart),
		CardDuration: rec.Int(FieldPlayerCardDuration),
		ReadyForCard: rec.Bool(FieldPlayerReadyForCard),
		CardReceived: rec.Bool(FieldPlayerCardReceived),
		SessionEnded: rec.Bool(FieldPlayerSessionEnded),
		LastSeen:     rec.Time(FieldPlayerLastSeen),
	}
}

// HasCard reports whether the player holds a real card (not empty, not the
// END sentinel).
func (p Player) HasCard() bool {
	return p.CurrentCard != "" && p.CurrentCard != EndSentinel
}

// CardExpiry is the moment the current card's countdown reaches zero.
func (p Player) CardExpiry() time.Time {
	return p.CardStart.Add(time.Duration(p.CardDuration) * time.Second)
}

// CardActiveAt reports whether the current card is still live at now, with an
// optional safety buffer beyond the nominal expiry.
func (p Player) CardActiveAt(now time.Time, buffer time.Duration) bool {
	if !p.HasCard() {
		return false
	}
	return now.Before(p.CardExpiry().Add(buffer))
}
