// internal/handlers/deck.go
package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/partydeck/partydeck/internal/deck"
	"github.com/partydeck/partydeck/internal/models"
)

type createDeckRequest struct {
	PIN   string   `json:"pin"`
	Name  string   `json:"name"`
	Cards []string `json:"cards"`
}

// CreateDeckHandler creates one deck from an explicit card list.
func (s *Server) CreateDeckHandler(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req createDeckRequest
	if !readJSON(w, r, &req) {
		return
	}
	if !s.requireConductor(w, r, req.PIN) {
		return
	}

	d, err := s.Decks.Create(r.Context(), req.PIN, req.Name, req.Cards)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

type importDeckRequest struct {
	PIN string `json:"pin"`
	// Name names the deck when the payload carries none of its own.
	Name string `json:"name"`
	// Data is the raw upload: newline-delimited text or one of the JSON
	// deck shapes.
	Data string `json:"data"`
}

// ImportDeckHandler parses an uploaded deck file and creates every deck it
// contains.
func (s *Server) ImportDeckHandler(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req importDeckRequest
	if !readJSON(w, r, &req) {
		return
	}
	if !s.requireConductor(w, r, req.PIN) {
		return
	}

	imports, err := deck.ParseImport(req.Name, []byte(req.Data))
	if err != nil {
		s.writeError(w, err)
		return
	}

	created := make([]models.Deck, 0, len(imports))
	for _, imp := range imports {
		d, err := s.Decks.Create(r.Context(), req.PIN, imp.Name, imp.Cards)
		if err != nil {
			s.writeError(w, err)
			return
		}
		created = append(created, d)
	}
	writeJSON(w, http.StatusCreated, map[string]any{"decks": created})
}

// ListDecksHandler lists the decks visible to a session (own + global).
func (s *Server) ListDecksHandler(w http.ResponseWriter, r *http.Request) {
	pin := requestPIN(r, "")
	if !pinPattern.MatchString(pin) {
		http.Error(w, "invalid pin", http.StatusBadRequest)
		return
	}
	decks, err := s.Decks.List(r.Context(), pin)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"decks": decks})
}

type archiveDeckRequest struct {
	PIN    string `json:"pin"`
	DeckID string `json:"deck_id"`
}

// ArchiveDeckHandler hides a deck from listings.
func (s *Server) ArchiveDeckHandler(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req archiveDeckRequest
	if !readJSON(w, r, &req) {
		return
	}
	if !s.requireConductor(w, r, req.PIN) {
		return
	}

	id, err := uuid.Parse(req.DeckID)
	if err != nil {
		http.Error(w, "invalid deck_id", http.StatusBadRequest)
		return
	}
	if err := s.Decks.Archive(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"archived": true})
}
