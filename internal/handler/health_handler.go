package handler

import (
	"context"
	"net/http"
	"time"

	"cryptochat/internal/pkg/resp"
)

const healthTimeout = 2 * time.Second

// HandleHealth creates an HTTP HandlerFunc reporting backend reachability.
// A failing database turns the response into 503; a failing Redis only degrades it.
func HandleHealth(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		checks := map[string]string{"database": "ok"}
		status := "ok"
		httpStatus := http.StatusOK

		if err := deps.Store.Ping(ctx); err != nil {
			checks["database"] = err.Error()
			status = "unavailable"
			httpStatus = http.StatusServiceUnavailable
		}

		if deps.Presence != nil {
			checks["redis"] = "ok"
			if err := deps.Presence.Ping(ctx); err != nil {
				checks["redis"] = err.Error()
				if status == "ok" {
					status = "degraded"
				}
			}
		}

		data := map[string]any{
			"status":      status,
			"service":     "CryptoChat Relay",
			"connections": deps.Hub.Registry().Len(),
			"checks":      checks,
		}

		if httpStatus != http.StatusOK {
			resp.RespondJSON(w, httpStatus, resp.JSONResponse{Code: 0, Message: status, Data: data})
			return
		}
		resp.RespondSuccess(w, data)
	}
}
