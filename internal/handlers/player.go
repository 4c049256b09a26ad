// internal/handlers/player.go
package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/partydeck/partydeck/internal/session"
)

type joinRequest struct {
	PIN  string `json:"pin"`
	Name string `json:"name"`
}

// JoinHandler joins (or resumes) a player in a session. The PIN may arrive
// in the body or as ?pin= from a shareable join URL.
func (s *Server) JoinHandler(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req joinRequest
	if !readJSON(w, r, &req) {
		return
	}
	pin := requestPIN(r, req.PIN)
	if !pinPattern.MatchString(pin) {
		http.Error(w, "invalid pin", http.StatusBadRequest)
		return
	}

	sess, err := s.Sessions.Get(r.Context(), pin)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if sess.Ended {
		s.writeError(w, session.ErrEnded)
		return
	}

	p, err := s.Players.Join(r.Context(), pin, req.Name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type playerRequest struct {
	PIN  string `json:"pin"`
	Name string `json:"name"`
}

// playerUpdate resolves the player named in the request body and applies fn
// to its record ID.
func (s *Server) playerUpdate(w http.ResponseWriter, r *http.Request, fn func(uuid.UUID) error) {
	if !requirePost(w, r) {
		return
	}
	var req playerRequest
	if !readJSON(w, r, &req) {
		return
	}
	pin := requestPIN(r, req.PIN)
	p, err := s.Players.Find(r.Context(), pin, req.Name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := fn(p.ID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// HeartbeatHandler bumps last_seen for a player.
func (s *Server) HeartbeatHandler(w http.ResponseWriter, r *http.Request) {
	s.playerUpdate(w, r, func(id uuid.UUID) error {
		return s.Players.Heartbeat(r.Context(), id)
	})
}

// ReadyHandler flags the player as waiting for their next card.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	s.playerUpdate(w, r, func(id uuid.UUID) error {
		return s.Players.MarkReady(r.Context(), id)
	})
}

// AckHandler records that the client rendered its assigned card.
func (s *Server) AckHandler(w http.ResponseWriter, r *http.Request) {
	s.playerUpdate(w, r, func(id uuid.UUID) error {
		return s.Players.AcknowledgeCard(r.Context(), id)
	})
}

// ListPlayersHandler lists a session's players for the conductor screen.
func (s *Server) ListPlayersHandler(w http.ResponseWriter, r *http.Request) {
	pin := requestPIN(r, "")
	if !pinPattern.MatchString(pin) {
		http.Error(w, "invalid pin", http.StatusBadRequest)
		return
	}
	players, err := s.Players.List(r.Context(), pin)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"players": players})
}
