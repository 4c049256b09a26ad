// internal/handlers/session_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/partydeck/partydeck/internal/middleware"
	"github.com/partydeck/partydeck/internal/presenter"
)

// Custom WebSocket close codes for the session socket.
const (
	BadSubprotocolError = 3000 // Client connected with an unsupported subprotocol.
	InvalidPINError     = 3001 // PIN in the WS URL is malformed or unknown.
	SessionEndedClose   = 3002 // Session ended; the socket is done for good.
)

// wsClientMessage is what a player device may send upstream.
type wsClientMessage struct {
	Type string `json:"type"` // "heartbeat", "ready", or "ack"
}

// wsViewFrame wraps a presentation frame for the wire.
type wsViewFrame struct {
	Type string         `json:"type"` // always "view"
	View presenter.View `json:"view"`
}

// SessionWSHandler serves /session/ws/{pin}/{name}: it joins the player,
// runs their presentation loop, and streams every changed frame down the
// socket. Client messages are acknowledgment/heartbeat only; the server
// never lets a client assign its own card.
func (s *Server) SessionWSHandler(w http.ResponseWriter, r *http.Request) {
	remoteAddr := r.RemoteAddr
	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/session/ws/"), "/")
	if len(pathParts) < 2 || pathParts[0] == "" || pathParts[1] == "" {
		http.Error(w, "missing pin or player name", http.StatusBadRequest)
		return
	}
	pin, name := pathParts[0], pathParts[1]
	if !pinPattern.MatchString(pin) {
		http.Error(w, "invalid pin", http.StatusBadRequest)
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{"partydeck"},
		OriginPatterns: []string{"*"}, // Adjust in production
	})
	if err != nil {
		s.Logger.Warnf("websocket accept error: %v", err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler finished")

	if c.Subprotocol() != "partydeck" {
		c.Close(BadSubprotocolError, "client must speak the partydeck subprotocol")
		return
	}

	middleware.LogWebSocketConnect(s.Logger, remoteAddr, pin, name)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	pr := &presenter.Presenter{
		Registry:     s.Players,
		Logger:       s.Logger,
		PollInterval: s.PollInterval,
		OnView: func(v presenter.View) {
			s.sendFrame(ctx, c, v)
		},
	}

	// Read pump: heartbeats and acks from the device. Any read error means
	// the device went away, which tears the presenter down too.
	go func() {
		defer cancel()
		for {
			msgType, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			if msgType != websocket.MessageText {
				continue
			}
			var msg wsClientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			s.handleClientMessage(ctx, pin, name, msg)
		}
	}()

	runErr := pr.Run(ctx, pin, name)
	middleware.LogWebSocketDisconnect(s.Logger, remoteAddr, pin, name, runErr)

	if runErr == nil {
		// Presenter exiting without error means the session ended.
		c.Close(SessionEndedClose, "session ended")
		return
	}
	if ctx.Err() != nil {
		c.Close(websocket.StatusNormalClosure, "client disconnected")
		return
	}
	c.Close(InvalidPINError, "could not join session")
}

func (s *Server) handleClientMessage(ctx context.Context, pin, name string, msg wsClientMessage) {
	p, err := s.Players.Find(ctx, pin, name)
	if err != nil {
		return
	}
	switch msg.Type {
	case "heartbeat":
		err = s.Players.Heartbeat(ctx, p.ID)
	case "ready":
		err = s.Players.MarkReady(ctx, p.ID)
	case "ack":
		err = s.Players.AcknowledgeCard(ctx, p.ID)
	default:
		return
	}
	if err != nil {
		s.Logger.WithField("player", name).WithError(err).Debug("ws client message update failed")
	}
}

// sendFrame writes one frame with a short deadline; a device too slow to
// take a frame just misses it and catches up on the next one.
func (s *Server) sendFrame(ctx context.Context, c *websocket.Conn, v presenter.View) {
	data, err := json.Marshal(wsViewFrame{Type: "view", View: v})
	if err != nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Write(writeCtx, websocket.MessageText, data); err != nil {
		status := websocket.CloseStatus(err)
		if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
			s.Logger.WithError(err).Debug("ws frame write failed")
		}
	}
}
