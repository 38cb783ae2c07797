package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"cryptochat/internal/app/relay"
	"cryptochat/internal/pkg/errs"
	"cryptochat/internal/pkg/limiter"
	"cryptochat/internal/pkg/logx"
	"cryptochat/internal/pkg/resp"
)

// HandleWebSocket creates an HTTP HandlerFunc that upgrades the connection and runs the
// client until it disconnects. Identity is established later by the handshake frame.
func HandleWebSocket(hub *relay.Hub, upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := limiter.ClientIP(r)

		if !rateLimiter.Allow(ip) {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", ip)
			resp.RespondError(w, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		client := relay.NewClient(conn, logx.Component("ws"))
		logx.Info("WebSocket connection established", "session_id", client.SessionID())

		client.Serve(hub)
	}
}
