package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kalambet/lifeos/internal/orchestrator"
)

const (
	wsReadLimit    = 64 << 10
	wsIdleTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// Frame types on the chat socket.
const (
	FrameMessage = "message"
	FrameReply   = "reply"
	FrameError   = "error"
)

// ClientFrame is what a client sends on /v1/chat/ws.
type ClientFrame struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// ReplyFrame carries one turn result back to the client.
type ReplyFrame struct {
	Type string `json:"type"`
	orchestrator.Result
}

// ErrorFrame reports a rejected client frame. The connection stays open.
type ErrorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     sameOrigin,
}

// sameOrigin accepts non-browser clients, which omit Origin, and browser
// pages served from the same host.
func sameOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// handleChatWS runs turns for every "message" frame on one connection.
// Frames are handled in order; a frame without session_id continues the
// session of the previous reply when it comes from the same user.
func handleChatWS(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		logger := deps.Logger.With("conn_id", uuid.NewString())
		logger.Debug("chat socket opened")

		conn.SetReadLimit(wsReadLimit)
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		})

		send := func(v any) bool {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(v); err != nil {
				logger.Debug("chat socket write failed", "error", err)
				return false
			}
			deps.Metrics.WSMessage("out")
			return true
		}

		var session, sessionUser string
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Debug("chat socket closed", "error", err)
				}
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
			if msgType != websocket.TextMessage {
				continue
			}
			deps.Metrics.WSMessage("in")

			var frame ClientFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				if !send(ErrorFrame{Type: FrameError, Error: "invalid frame: " + err.Error()}) {
					return
				}
				continue
			}
			if frame.Type != FrameMessage {
				if !send(ErrorFrame{Type: FrameError, Error: "unsupported frame type " + frame.Type}) {
					return
				}
				continue
			}
			if frame.SessionID == "" && frame.UserID == sessionUser {
				frame.SessionID = session
			}

			res, err := deps.Chat.Run(r.Context(), frame.UserID, frame.Message, frame.SessionID)
			if err != nil {
				msg := "chat failed"
				switch {
				case errors.Is(err, orchestrator.ErrEmptyInput):
					msg = "message is required"
				case errors.Is(err, orchestrator.ErrSessionOwner):
					msg = "session belongs to another user"
				}
				if !send(ErrorFrame{Type: FrameError, Error: msg}) {
					return
				}
				continue
			}
			session, sessionUser = res.SessionID, frame.UserID
			if !send(ReplyFrame{Type: FrameReply, Result: res}) {
				return
			}
		}
	}
}
