package handler

import (
	"context"

	"cryptochat/internal/app/relay"
	"cryptochat/internal/app/store"
	"cryptochat/internal/configs"
)

// PresenceLookup reads mirrored presence. Implemented by store.RedisPresence.
type PresenceLookup interface {
	Lookup(ctx context.Context, address string) (store.PresenceStatus, bool, error)
	Ping(ctx context.Context) error
}

// FileSigner signs download URLs for chat files. Implemented by storage.Signer.
type FileSigner interface {
	PresignDownload(ctx context.Context, key string) (string, error)
}

// AppDeps bundles everything the HTTP layer needs.
type AppDeps struct {
	Hub    *relay.Hub
	Config *configs.AppConfig
	Store  store.Store

	// Presence is nil when Redis is not configured.
	Presence PresenceLookup

	// Files is nil when object storage is not configured.
	Files FileSigner
}
