// internal/handlers/server.go

// Package handlers exposes the HTTP and WebSocket surface: conductor
// endpoints for sessions and decks, player join/heartbeat endpoints, and the
// per-player WebSocket that streams presentation frames.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/partydeck/partydeck/internal/auth"
	"github.com/partydeck/partydeck/internal/deck"
	"github.com/partydeck/partydeck/internal/engine"
	"github.com/partydeck/partydeck/internal/player"
	"github.com/partydeck/partydeck/internal/session"
)

// pinPattern is the shareable session code: 4 to 6 digits.
var pinPattern = regexp.MustCompile(`^[0-9]{4,6}$`)

// Server bundles the managers behind the HTTP surface.
type Server struct {
	Sessions   *session.Manager
	Decks      *deck.Adapter
	Players    *player.Registry
	Engine     *engine.Engine
	Supervisor *engine.Supervisor
	Tokens     *auth.TokenIssuer
	Logger     *logrus.Logger

	// PollInterval is handed to player presenters as their backup poll.
	PollInterval time.Duration
}

// Register attaches every route to the mux.
func (s *Server) Register(mux *http.ServeMux) {
	// conductor endpoints
	mux.HandleFunc("/session/create", s.CreateSessionHandler)
	mux.HandleFunc("/session/get", s.GetSessionHandler)
	mux.HandleFunc("/session/settings", s.UpdateSettingsHandler)
	mux.HandleFunc("/session/start", s.StartSessionHandler)
	mux.HandleFunc("/session/stop", s.StopSessionHandler)
	mux.HandleFunc("/session/end", s.EndSessionHandler)
	mux.HandleFunc("/session/deal", s.DealNowHandler)

	// deck endpoints
	mux.HandleFunc("/deck/create", s.CreateDeckHandler)
	mux.HandleFunc("/deck/import", s.ImportDeckHandler)
	mux.HandleFunc("/deck/list", s.ListDecksHandler)
	mux.HandleFunc("/deck/archive", s.ArchiveDeckHandler)

	// player endpoints
	mux.HandleFunc("/player/join", s.JoinHandler)
	mux.HandleFunc("/player/heartbeat", s.HeartbeatHandler)
	mux.HandleFunc("/player/ready", s.ReadyHandler)
	mux.HandleFunc("/player/ack", s.AckHandler)
	mux.HandleFunc("/player/list", s.ListPlayersHandler)

	// player websocket
	mux.HandleFunc("/session/ws/", s.SessionWSHandler)
}

// requireConductor verifies the bearer token against the session PIN.
// Returns false after writing the error response.
func (s *Server) requireConductor(w http.ResponseWriter, r *http.Request, pin string) bool {
	header := r.Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" || token == header {
		http.Error(w, "missing conductor token", http.StatusUnauthorized)
		return false
	}
	if err := s.Tokens.VerifyConductor(token, pin); err != nil {
		http.Error(w, "invalid conductor token", http.StatusForbidden)
		return false
	}
	return true
}

// requestPIN pulls the session PIN from the query string or, for POSTs that
// were already decoded, from the decoded value. Shareable join URLs put the
// PIN in ?pin=.
func requestPIN(r *http.Request, bodyPIN string) string {
	if bodyPIN != "" {
		return bodyPIN
	}
	return r.URL.Query().Get("pin")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// writeError maps domain errors onto HTTP statuses: validation to 400-class,
// exhausted retries to 502 ("failed, try again" in the original's UI).
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, deck.ErrNotFound),
		errors.Is(err, player.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, session.ErrInvalidTimer), errors.Is(err, session.ErrInvalidMode),
		errors.Is(err, deck.ErrEmptyName), errors.Is(err, deck.ErrNoCards),
		errors.Is(err, player.ErrEmptyName):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, session.ErrEnded):
		http.Error(w, err.Error(), http.StatusGone)
	case errors.Is(err, player.ErrSessionFull):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		s.Logger.WithError(err).Error("request failed")
		http.Error(w, "request failed, try again", http.StatusBadGateway)
	}
}
