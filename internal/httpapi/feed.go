package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const feedWriteTimeout = 5 * time.Second

// handleFeed streams the user's progression events over a WebSocket until
// the client goes away.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  "invalid request",
			Fields: map[string]string{"userId": "userId is a required field"},
		})
		return
	}

	// Subscribe before the handshake completes so no event is missed.
	events, cancel := s.feed.Subscribe(userID)
	defer cancel()

	// The server write timeout does not apply to a long-lived stream.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "user_id", userID, "error", err)
		return
	}
	defer conn.CloseNow()

	slog.Info("feed connected", "user_id", userID)
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			slog.Info("feed disconnected", "user_id", userID)
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "feed closed")
				return
			}
			wctx, done := context.WithTimeout(ctx, feedWriteTimeout)
			err := wsjson.Write(wctx, conn, ev)
			done()
			if err != nil {
				slog.Warn("feed write failed", "user_id", userID, "error", err)
				return
			}
		}
	}
}
