package handler

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"

	"github.com/go-chi/chi/v5"

	"cryptochat/internal/app/chat"
	"cryptochat/internal/app/storage"
	"cryptochat/internal/pkg/auth/jwt"
	"cryptochat/internal/pkg/errs"
	"cryptochat/internal/pkg/logx"
	"cryptochat/internal/pkg/req"
	"cryptochat/internal/pkg/resp"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

// HistoryMessage is a stored message as returned by the history endpoint.
type HistoryMessage struct {
	ID          int64           `json:"id"`
	ChatID      int64           `json:"chatId"`
	SenderID    int64           `json:"senderId"`
	MessageType string          `json:"messageType"`
	Content     string          `json:"content"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Encrypted   bool            `json:"encrypted"`
	Timestamp   int64           `json:"timestamp"`
	DownloadURL string          `json:"downloadUrl,omitempty"`
}

// HandleChatHistory creates an HTTP HandlerFunc returning a page of a chat's messages,
// newest first. The caller must hold a session token of a chat participant.
func HandleChatHistory(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := jwt.GetPayloadFromContext(r)
		if payload == nil {
			resp.RespondError(w, errs.NewError(errs.ErrUnauthorized))
			return
		}

		chatID, customErr := req.PathInt64(chi.URLParam(r, "chatID"))
		if customErr != nil {
			resp.RespondError(w, customErr)
			return
		}

		limit, customErr := req.QueryInt(r, "limit", defaultHistoryLimit, 1, maxHistoryLimit)
		if customErr != nil {
			resp.RespondError(w, customErr)
			return
		}

		offset, customErr := req.QueryInt(r, "offset", 0, 0, math.MaxInt32)
		if customErr != nil {
			resp.RespondError(w, customErr)
			return
		}

		ctx := r.Context()

		if _, err := deps.Store.FindByID(ctx, chatID); err != nil {
			if errors.Is(err, chat.ErrNotFound) {
				resp.RespondError(w, errs.NewError(errs.ErrChatNotFound))
				return
			}
			resp.RespondError(w, errs.NewError(errs.ErrStorageFailed, err))
			return
		}

		participants, err := deps.Store.ListParticipants(ctx, chatID)
		if err != nil {
			resp.RespondError(w, errs.NewError(errs.ErrStorageFailed, err))
			return
		}
		if !chat.IsParticipant(participants, payload.UserID) {
			resp.RespondError(w, errs.NewError(errs.ErrNotParticipant))
			return
		}

		messages, err := deps.Store.List(ctx, chatID, limit, offset)
		if err != nil {
			resp.RespondError(w, errs.NewError(errs.ErrStorageFailed, err))
			return
		}

		items := make([]HistoryMessage, 0, len(messages))
		for _, m := range messages {
			item := HistoryMessage{
				ID:          m.ID,
				ChatID:      m.ChatID,
				SenderID:    m.SenderID,
				MessageType: m.Type,
				Content:     m.Content,
				Metadata:    m.Metadata,
				Encrypted:   m.Encrypted,
				Timestamp:   m.Timestamp.UnixMilli(),
			}
			if m.Type == chat.TypeFile && deps.Files != nil {
				item.DownloadURL = signFile(r, deps.Files, chatID, m.Metadata)
			}
			items = append(items, item)
		}

		resp.RespondSuccess(w, map[string]any{
			"messages": items,
			"limit":    limit,
			"offset":   offset,
		})
	}
}

// signFile returns a download URL for the fileKey in metadata, or "" when the message
// has no key of this chat or signing fails.
func signFile(r *http.Request, files FileSigner, chatID int64, metadata json.RawMessage) string {
	var meta struct {
		FileKey string `json:"fileKey"`
	}
	if len(metadata) == 0 || json.Unmarshal(metadata, &meta) != nil || meta.FileKey == "" {
		return ""
	}

	if !storage.BelongsToChat(meta.FileKey, chatID) {
		logx.Warn("File key outside chat prefix, not signing", "chat_id", chatID, "file_key", meta.FileKey)
		return ""
	}

	url, err := files.PresignDownload(r.Context(), meta.FileKey)
	if err != nil {
		logx.Error(err, "Failed to presign file download", "chat_id", chatID)
		return ""
	}
	return url
}
