// internal/handlers/server_test.go
package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partydeck/partydeck/internal/auth"
	"github.com/partydeck/partydeck/internal/deck"
	"github.com/partydeck/partydeck/internal/engine"
	"github.com/partydeck/partydeck/internal/models"
	"github.com/partydeck/partydeck/internal/player"
	"github.com/partydeck/partydeck/internal/session"
	"github.com/partydeck/partydeck/internal/store"
)

type serverFixture struct {
	server *Server
	mux    *http.ServeMux
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })

	sessions := session.NewManager(st, logger)
	decks := deck.NewAdapter(st, logger)
	registry := player.NewRegistry(st, logger, nil)
	e := engine.New(registry, logger, nil)
	e.SeedRNG(3)
	e.InterPlayerDelay = 0

	tokens, err := auth.NewTokenIssuer("test-secret", time.Hour)
	require.NoError(t, err)

	sup := &engine.Supervisor{
		Engine:   e,
		Sessions: sessions,
		Decks:    decks,
		Players:  registry,
		Interval: time.Minute, // ticks never fire within a test
		Logger:   logger,
	}
	t.Cleanup(sup.StopAll)

	s := &Server{
		Sessions:   sessions,
		Decks:      decks,
		Players:    registry,
		Engine:     e,
		Supervisor: sup,
		Tokens:     tokens,
		Logger:     logger,
	}
	mux := http.NewServeMux()
	s.Register(mux)
	return &serverFixture{server: s, mux: mux}
}

func (f *serverFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func decodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

type createdSession struct {
	Session models.Session `json:"session"`
	Token   string         `json:"token"`
}

func (f *serverFixture) createSession(t *testing.T, mode models.Mode, minSec, maxSec int) createdSession {
	t.Helper()
	w := f.do(t, http.MethodPost, "/session/create", "", map[string]any{
		"distribution_mode": mode,
		"min_timer_seconds": minSec,
		"max_timer_seconds": maxSec,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeJSON[createdSession](t, w)
}

func TestCreateAndGetSession(t *testing.T) {
	f := newServerFixture(t)

	created := f.createSession(t, models.ModeUnison, 20, 40)
	assert.NotEmpty(t, created.Token)
	assert.Len(t, created.Session.PIN, 4)
	assert.Equal(t, models.ModeUnison, created.Session.Mode)

	w := f.do(t, http.MethodGet, "/session/get?pin="+created.Session.PIN, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeJSON[models.Session](t, w)
	assert.Equal(t, created.Session.PIN, got.PIN)
	assert.Equal(t, 20, got.MinTimerSeconds)

	w = f.do(t, http.MethodGet, "/session/get?pin=9999", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/session/get?pin=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/session/create", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestCreateSessionValidation(t *testing.T) {
	f := newServerFixture(t)
	w := f.do(t, http.MethodPost, "/session/create", "", map[string]any{
		"distribution_mode": "spiral",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/session/create", "", map[string]any{
		"min_timer_seconds": 60,
		"max_timer_seconds": 30,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConductorTokenRequired(t *testing.T) {
	f := newServerFixture(t)
	created := f.createSession(t, models.ModeRandom, 0, 0)
	other := f.createSession(t, models.ModeRandom, 0, 0)

	body := map[string]any{"pin": created.Session.PIN, "min_timer_seconds": 10}

	w := f.do(t, http.MethodPost, "/session/settings", "", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Another session's token does not transfer.
	w = f.do(t, http.MethodPost, "/session/settings", other.Token, body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPost, "/session/settings", created.Token, body)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUpdateSettings(t *testing.T) {
	f := newServerFixture(t)
	created := f.createSession(t, models.ModeRandom, 0, 0)

	w := f.do(t, http.MethodPost, "/session/settings", created.Token, map[string]any{
		"pin":               created.Session.PIN,
		"distribution_mode": "unique",
		"min_timer_seconds": 15,
		"max_timer_seconds": 25,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decodeJSON[models.Session](t, w)
	assert.Equal(t, models.ModeUnique, got.Mode)
	assert.Equal(t, 15, got.MinTimerSeconds)
	assert.Equal(t, 25, got.MaxTimerSeconds)
}

func TestDeckEndpoints(t *testing.T) {
	f := newServerFixture(t)
	created := f.createSession(t, models.ModeRandom, 0, 0)
	pin := created.Session.PIN

	w := f.do(t, http.MethodPost, "/deck/create", created.Token, map[string]any{
		"pin":   pin,
		"name":  "icebreakers",
		"cards": []string{"one", "two"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	d := decodeJSON[models.Deck](t, w)
	assert.Equal(t, "icebreakers", d.Name)

	w = f.do(t, http.MethodPost, "/deck/import", created.Token, map[string]any{
		"pin":  pin,
		"name": "from a file",
		"data": "first card\nsecond card\n\nthird card\n",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	imported := decodeJSON[struct {
		Decks []models.Deck `json:"decks"`
	}](t, w)
	require.Len(t, imported.Decks, 1)
	assert.Equal(t, []string{"first card", "second card", "third card"}, imported.Decks[0].Cards)

	w = f.do(t, http.MethodGet, "/deck/list?pin="+pin, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	listed := decodeJSON[struct {
		Decks []models.Deck `json:"decks"`
	}](t, w)
	assert.Len(t, listed.Decks, 2)

	w = f.do(t, http.MethodPost, "/deck/archive", created.Token, map[string]any{
		"pin":     pin,
		"deck_id": d.ID.String(),
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/deck/list?pin="+pin, "", nil)
	listed = decodeJSON[struct {
		Decks []models.Deck `json:"decks"`
	}](t, w)
	assert.Len(t, listed.Decks, 1)

	// Empty uploads are rejected.
	w = f.do(t, http.MethodPost, "/deck/import", created.Token, map[string]any{
		"pin": pin, "name": "empty", "data": "   \n  ",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPlayerJoinValidation(t *testing.T) {
	f := newServerFixture(t)
	created := f.createSession(t, models.ModeRandom, 0, 0)
	pin := created.Session.PIN

	w := f.do(t, http.MethodPost, "/player/join", "", map[string]any{"pin": "abc", "name": "alice"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/player/join", "", map[string]any{"pin": "9999", "name": "alice"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/player/join", "", map[string]any{"pin": pin, "name": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/player/join", "", map[string]any{"pin": pin, "name": "alice"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	p := decodeJSON[models.Player](t, w)
	assert.Equal(t, "alice", p.Name)
	assert.True(t, p.Active)
}

func TestPlayerSessionFull(t *testing.T) {
	f := newServerFixture(t)
	created := f.createSession(t, models.ModeRandom, 0, 0)
	pin := created.Session.PIN

	for i := 0; i < player.MaxActivePlayers; i++ {
		w := f.do(t, http.MethodPost, "/player/join", "", map[string]any{
			"pin": pin, "name": fmt.Sprintf("player-%d", i),
		})
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := f.do(t, http.MethodPost, "/player/join", "", map[string]any{"pin": pin, "name": "straggler"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestPlayerUpdateEndpoints(t *testing.T) {
	f := newServerFixture(t)
	created := f.createSession(t, models.ModeRandom, 0, 0)
	pin := created.Session.PIN

	w := f.do(t, http.MethodPost, "/player/join", "", map[string]any{"pin": pin, "name": "alice"})
	require.Equal(t, http.StatusOK, w.Code)

	for _, path := range []string{"/player/heartbeat", "/player/ready", "/player/ack"} {
		w = f.do(t, http.MethodPost, path, "", map[string]any{"pin": pin, "name": "alice"})
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	w = f.do(t, http.MethodPost, "/player/ready", "", map[string]any{"pin": pin, "name": "nobody"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/player/list?pin="+pin, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	listed := decodeJSON[struct {
		Players []models.Player `json:"players"`
	}](t, w)
	require.Len(t, listed.Players, 1)
	assert.True(t, listed.Players[0].ReadyForCard)
	assert.True(t, listed.Players[0].CardReceived)
}

// Conductor drives a whole mini-session over HTTP: deck upload, start, a
// manual deal, end. Players see cards, then the END sentinel.
func TestSessionRoundTrip(t *testing.T) {
	f := newServerFixture(t)
	created := f.createSession(t, models.ModeUnison, 30, 30)
	pin := created.Session.PIN
	token := created.Token

	w := f.do(t, http.MethodPost, "/deck/create", token, map[string]any{
		"pin":   pin,
		"name":  "party",
		"cards": []string{"charades", "improv"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	d := decodeJSON[models.Deck](t, w)

	w = f.do(t, http.MethodPost, "/session/settings", token, map[string]any{
		"pin": pin, "active_deck_id": d.ID.String(),
	})
	require.Equal(t, http.StatusOK, w.Code)

	for _, name := range []string{"alice", "bob"} {
		w = f.do(t, http.MethodPost, "/player/join", "", map[string]any{"pin": pin, "name": name})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w = f.do(t, http.MethodPost, "/session/start", token, map[string]any{"pin": pin})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeJSON[models.Session](t, w).IsPlaying)

	w = f.do(t, http.MethodPost, "/session/deal", token, map[string]any{"pin": pin})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodGet, "/player/list?pin="+pin, "", nil)
	listed := decodeJSON[struct {
		Players []models.Player `json:"players"`
	}](t, w)
	require.Len(t, listed.Players, 2)
	assert.Equal(t, listed.Players[0].CurrentCard, listed.Players[1].CurrentCard,
		"unison deal hands everyone the same card")
	for _, p := range listed.Players {
		assert.Equal(t, 30, p.CardDuration)
	}

	w = f.do(t, http.MethodPost, "/session/end", token, map[string]any{"pin": pin})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	ended := decodeJSON[struct {
		Session     models.Session `json:"session"`
		Undelivered []string       `json:"undelivered"`
	}](t, w)
	assert.True(t, ended.Session.Ended)
	assert.Empty(t, ended.Undelivered)

	w = f.do(t, http.MethodGet, "/player/list?pin="+pin, "", nil)
	listed = decodeJSON[struct {
		Players []models.Player `json:"players"`
	}](t, w)
	for _, p := range listed.Players {
		assert.Equal(t, models.EndSentinel, p.CurrentCard)
		assert.True(t, p.SessionEnded)
	}

	// Everything conductor-side now reports the session as gone.
	w = f.do(t, http.MethodPost, "/player/join", "", map[string]any{"pin": pin, "name": "late"})
	assert.Equal(t, http.StatusGone, w.Code)
	w = f.do(t, http.MethodPost, "/session/deal", token, map[string]any{"pin": pin})
	assert.Equal(t, http.StatusGone, w.Code)
	w = f.do(t, http.MethodPost, "/session/start", token, map[string]any{"pin": pin})
	assert.Equal(t, http.StatusGone, w.Code)
}
