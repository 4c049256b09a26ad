// internal/models/deck.go
package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/partydeck/partydeck/internal/store"
)

// CollectionDeck names the store collection holding deck records.
const CollectionDeck = "deck"

// Deck field names in the deck collection. A deck with an empty session_pin
// is a global deck visible to every session.
const (
	FieldDeckSessionPIN = "session_pin"
	FieldDeckName       = "name"
	FieldDeckCards      = "cards"
	FieldDeckCardCount  = "card_count"
	FieldDeckArchived   = "archived"
)

// Deck is a named ordered list of non-empty prompt strings. Cards are never
// mutated after creation except for chunk appends while a large deck is
// still being uploaded.
type Deck struct {
	ID         uuid.UUID `json:"id"`
	SessionPIN string    `json:"session_pin"`
	Name       string    `json:"name"`
	Cards      []string  `json:"cards"`
	CardCount  int       `json:"card_count"`
	Archived   bool      `json:"archived"`
	Created    time.Time `json:"created"`
}

// DeckFromRecord maps a store record onto a Deck.
func DeckFromRecord(rec store.Record) Deck {
	return Deck{
		ID:         rec.ID,
		SessionPIN: rec.String(FieldDeckSessionPIN),
		Name:       rec.String(FieldDeckName),
		Cards:      stringSlice(rec.Fields[FieldDeckCards]),
		CardCount:  rec.Int(FieldDeckCardCount),
		Archived:   rec.Bool(FieldDeckArchived),
		Created:    rec.Created,
	}
}

// Fields renders the deck as a store field map.
func (d Deck) Fields() map[string]any {
	return map[string]any{
		FieldDeckSessionPIN: d.SessionPIN,
		FieldDeckName:       d.Name,
		FieldDeckCards:      anySlice(d.Cards),
		FieldDeckCardCount:  len(d.Cards),
		FieldDeckArchived:   d.Archived,
	}
}

// stringSlice tolerates both []string (memory backend) and []any (anything
// that went through JSON).
func stringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func anySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
