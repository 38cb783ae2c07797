/*
Package handler provides the HTTP handlers and routing setup for the CryptoChat relay.

This file defines the main Router, applying necessary middleware like logging, CORS,
metrics and IP-based rate limiting before delegating requests to specific handlers
(REST API, WebSocket, health and metrics).
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"cryptochat/internal/pkg/auth/jwt"
	"cryptochat/internal/pkg/limiter"
	"cryptochat/internal/pkg/logx"
)

const (
	WSConnectRate  = 1
	WSConnectBurst = 10
	APIRate        = 5
	APIBurst       = 20
)

// Router sets up the main HTTP routing table (chi.Router) for the application.
// It initializes IP-based rate limiters, configures CORS, and applies global and per-route middleware.
func Router(deps *AppDeps) http.Handler {
	wsLimiter := limiter.NewIPRateLimiter("ws_connect", rate.Limit(WSConnectRate), WSConnectBurst)
	apiLimiter := limiter.NewIPRateLimiter("api", rate.Limit(APIRate), APIBurst)

	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	var wsUpgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.IsDevelopment() {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.IsDevelopment() {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	r.Get("/health", HandleHealth(deps))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Use(apiLimiter.Middleware)
		api.Use(jwt.IdentityExtractorMiddleware(deps.Config.JWTSecret))

		api.Get("/chats/{chatID}/messages", HandleChatHistory(deps))
		api.Get("/presence/{address}", HandlePresence(deps))
	})

	r.Get("/ws", HandleWebSocket(deps.Hub, wsUpgrader, wsLimiter))

	return r
}
