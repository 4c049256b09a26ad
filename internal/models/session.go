// internal/models/session.go
package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/partydeck/partydeck/internal/store"
)

// Mode is the card-distribution policy for a session.
type Mode string

const (
	// ModeUnison gives every active player the identical card each round.
	ModeUnison Mode = "unison"
	// ModeUnique prefers cards not held by any other active player.
	ModeUnique Mode = "unique"
	// ModeRandom picks independently at random per player.
	ModeRandom Mode = "random"
)

// Valid reports whether m is one of the three known modes.
func (m Mode) Valid() bool {
	return m == ModeUnison || m == ModeUnique || m == ModeRandom
}

// Session field names in the session collection.
const (
	FieldPIN             = "pin"
	FieldMode            = "distribution_mode"
	FieldMinTimerSeconds = "min_timer_seconds"
	FieldMaxTimerSeconds = "max_timer_seconds"
	FieldIsPlaying       = "is_playing"
	FieldIsEnding        = "is_ending"
	FieldEnded           = "ended"
	FieldActiveDeckID    = "active_deck_id"
)

// CollectionSession names the store collection holding session records.
const CollectionSession = "session"

// Session binds one conductor to its players and active deck: the shareable
// PIN, timer bounds, distribution mode, and lifecycle flags. The PIN is
// human-shareable, not guaranteed globally unique; the manager does a
// best-effort uniqueness check at creation.
type Session struct {
	ID              uuid.UUID `json:"id"`
	PIN             string    `json:"pin"`
	Mode            Mode      `json:"distribution_mode"`
	MinTimerSeconds int       `json:"min_timer_seconds"`
	MaxTimerSeconds int       `json:"max_timer_seconds"`
	IsPlaying       bool      `json:"is_playing"`
	IsEnding        bool      `json:"is_ending"`
	Ended           bool      `json:"ended"`
	ActiveDeckID    string    `json:"active_deck_id"`
	Created         time.Time `json:"created"`
}

// SessionFromRecord maps a store record onto a Session.
func SessionFromRecord(rec store.Record) Session {
	return Session{
		ID:              rec.ID,
		PIN:             rec.String(FieldPIN),
		Mode:            Mode(rec.String(FieldMode)),
		MinTimerSeconds: rec.Int(FieldMinTimerSeconds),
		MaxTimerSeconds: rec.Int(FieldMaxTimerSeconds),
		IsPlaying:       rec.Bool(FieldIsPlaying),
		IsEnding:        rec.Bool(FieldIsEnding),
		Ended:           rec.Bool(FieldEnded),
		ActiveDeckID:    rec.String(FieldActiveDeckID),
		Created:         rec.Created,
	}
}

// Fields renders the session as a store field map.
func (s Session) Fields() map[string]any {
	return map[string]any{
		FieldPIN:             s.PIN,
		FieldMode:            string(s.Mode),
		FieldMinTimerSeconds: s.MinTimerSeconds,
		FieldMaxTimerSeconds: s.MaxTimerSeconds,
		FieldIsPlaying:       s.IsPlaying,
		FieldIsEnding:        s.IsEnding,
		FieldEnded:           s.Ended,
		FieldActiveDeckID:    s.ActiveDeckID,
	}
}
