// internal/handlers/session.go
package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/partydeck/partydeck/internal/deck"
	"github.com/partydeck/partydeck/internal/models"
	"github.com/partydeck/partydeck/internal/session"
)

type createSessionRequest struct {
	Mode            models.Mode `json:"distribution_mode"`
	MinTimerSeconds int         `json:"min_timer_seconds"`
	MaxTimerSeconds int         `json:"max_timer_seconds"`
}

type createSessionResponse struct {
	Session models.Session `json:"session"`
	Token   string         `json:"token"`
}

// CreateSessionHandler creates a session and returns it together with the
// conductor token that authorizes further control of it.
func (s *Server) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req createSessionRequest
	if !readJSON(w, r, &req) {
		return
	}

	sess, err := s.Sessions.Create(r.Context(), req.Mode, req.MinTimerSeconds, req.MaxTimerSeconds)
	if err != nil {
		s.writeError(w, err)
		return
	}
	token, err := s.Tokens.IssueConductor(sess.PIN)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{Session: sess, Token: token})
}

// GetSessionHandler returns the session for ?pin=. Players use it to
// validate a PIN before joining, so it requires no token.
func (s *Server) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	pin := requestPIN(r, "")
	if !pinPattern.MatchString(pin) {
		http.Error(w, "invalid pin", http.StatusBadRequest)
		return
	}
	sess, err := s.Sessions.Get(r.Context(), pin)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type updateSettingsRequest struct {
	PIN             string       `json:"pin"`
	Mode            *models.Mode `json:"distribution_mode,omitempty"`
	MinTimerSeconds *int         `json:"min_timer_seconds,omitempty"`
	MaxTimerSeconds *int         `json:"max_timer_seconds,omitempty"`
	ActiveDeckID    *string      `json:"active_deck_id,omitempty"`
}

// UpdateSettingsHandler applies a partial settings change.
func (s *Server) UpdateSettingsHandler(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req updateSettingsRequest
	if !readJSON(w, r, &req) {
		return
	}
	if !s.requireConductor(w, r, req.PIN) {
		return
	}

	sess, err := s.Sessions.UpdateSettings(r.Context(), req.PIN, sessionSettings(req))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type pinRequest struct {
	PIN string `json:"pin"`
}

// StartSessionHandler flips is_playing on and launches the distribution
// loop.
func (s *Server) StartSessionHandler(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req pinRequest
	if !readJSON(w, r, &req) {
		return
	}
	if !s.requireConductor(w, r, req.PIN) {
		return
	}

	sess, err := s.Sessions.SetPlaying(r.Context(), req.PIN, true)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.Supervisor.Start(req.PIN)
	writeJSON(w, http.StatusOK, sess)
}

// StopSessionHandler pauses distribution without ending the session.
func (s *Server) StopSessionHandler(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req pinRequest
	if !readJSON(w, r, &req) {
		return
	}
	if !s.requireConductor(w, r, req.PIN) {
		return
	}

	sess, err := s.Sessions.SetPlaying(r.Context(), req.PIN, false)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.Supervisor.Stop(req.PIN)
	writeJSON(w, http.StatusOK, sess)
}

type endSessionResponse struct {
	Session models.Session `json:"session"`
	// Undelivered lists players that never received the END sentinel after
	// all sweeps. They may appear stuck until they reconnect.
	Undelivered []string `json:"undelivered,omitempty"`
}

// EndSessionHandler ends a session for good: END sentinel to every player
// (best effort, multiple passes), then the session record flips to ended.
// Partial sentinel delivery never blocks finalizing the record.
func (s *Server) EndSessionHandler(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req pinRequest
	if !readJSON(w, r, &req) {
		return
	}
	if !s.requireConductor(w, r, req.PIN) {
		return
	}

	ctx := r.Context()
	if err := s.Sessions.MarkEnding(ctx, req.PIN); err != nil {
		s.writeError(w, err)
		return
	}
	s.Supervisor.Stop(req.PIN)

	failed, err := s.Engine.EndSession(ctx, req.PIN)
	if err != nil {
		// The sweep never even listed the players, so no sentinel was
		// written. Leave the session in ending state; the conductor can
		// retry the end request.
		s.writeError(w, err)
		return
	}
	sess, err := s.Sessions.Finalize(ctx, req.PIN)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, endSessionResponse{Session: sess, Undelivered: failed})
}

// DealNowHandler runs a single distribution round immediately instead of
// waiting for the next loop tick. The engine's pending set keeps a manual
// deal from racing the loop on any player.
func (s *Server) DealNowHandler(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req pinRequest
	if !readJSON(w, r, &req) {
		return
	}
	if !s.requireConductor(w, r, req.PIN) {
		return
	}

	ctx := r.Context()
	sess, err := s.Sessions.Get(ctx, req.PIN)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if sess.Ended {
		s.writeError(w, session.ErrEnded)
		return
	}
	d, err := s.activeDeck(ctx, sess)
	if err != nil {
		s.writeError(w, err)
		return
	}
	players, err := s.Players.ListActive(ctx, req.PIN)
	if err != nil {
		s.writeError(w, err)
		return
	}

	outcomes := s.Engine.RunRound(ctx, sess, d, players)
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": outcomes})
}

func sessionSettings(req updateSettingsRequest) session.Settings {
	return session.Settings{
		Mode:            req.Mode,
		MinTimerSeconds: req.MinTimerSeconds,
		MaxTimerSeconds: req.MaxTimerSeconds,
		ActiveDeckID:    req.ActiveDeckID,
	}
}

// activeDeck resolves the session's active deck, failing when none is set.
func (s *Server) activeDeck(ctx context.Context, sess models.Session) (models.Deck, error) {
	if sess.ActiveDeckID == "" {
		return models.Deck{}, deck.ErrNotFound
	}
	id, err := uuid.Parse(sess.ActiveDeckID)
	if err != nil {
		return models.Deck{}, deck.ErrNotFound
	}
	return s.Decks.Get(ctx, id)
}
