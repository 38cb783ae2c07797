package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"cryptochat/internal/app/user"
	"cryptochat/internal/pkg/errs"
	"cryptochat/internal/pkg/logx"
	"cryptochat/internal/pkg/resp"
)

// PresenceResponse is the body of the presence endpoint. Times are unix milliseconds.
type PresenceResponse struct {
	Address  string `json:"address"`
	Online   bool   `json:"online"`
	Since    int64  `json:"since,omitempty"`
	LastSeen int64  `json:"lastSeen,omitempty"`
}

// HandlePresence creates an HTTP HandlerFunc reporting whether an address is online.
// The local registry is consulted first, then the Redis mirror when configured.
func HandlePresence(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		address := user.NormalizeAddress(chi.URLParam(r, "address"))
		if address == "" {
			resp.RespondError(w, errs.NewError(errs.ErrInvalidParams))
			return
		}

		ctx := r.Context()
		out := PresenceResponse{
			Address: address,
			Online:  deps.Hub.IsOnline(address),
		}

		if deps.Presence != nil {
			status, found, err := deps.Presence.Lookup(ctx, address)
			switch {
			case err != nil:
				logx.Warn("Presence mirror lookup failed, using local registry", "error", err.Error())
			case found:
				out.Online = out.Online || status.Online
				out.Since = status.Since.UnixMilli()
			}
		}

		u, err := deps.Store.FindByAddress(ctx, address)
		switch {
		case err == nil:
			out.LastSeen = u.LastSeen.UnixMilli()
		case !errors.Is(err, user.ErrNotFound):
			logx.Warn("User lookup failed for presence", "error", err.Error())
		}

		resp.RespondSuccess(w, out)
	}
}
