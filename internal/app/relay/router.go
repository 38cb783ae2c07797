package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"cryptochat/internal/app/chat"
	"cryptochat/internal/app/user"
	"cryptochat/internal/pkg/errs"
	"cryptochat/internal/pkg/metrics"
)

// MaxContentBytes caps the stored content of a single message.
const MaxContentBytes = 64 * 1024

// Outcome is the result of routing one message frame.
type Outcome string

const (
	OutcomeDropped   Outcome = "dropped"
	OutcomeRejected  Outcome = "rejected"
	OutcomeDelivered Outcome = "delivered"
	OutcomePending   Outcome = "pending"
)

// Router persists messages and forwards them to online participants.
type Router struct {
	chats    chat.Directory
	messages chat.MessageStore
	registry *Registry
	now      func() time.Time
	logger   zerolog.Logger
}

// NewRouter builds a Router.
func NewRouter(chats chat.Directory, messages chat.MessageStore, registry *Registry, logger zerolog.Logger) *Router {
	return &Router{
		chats:    chats,
		messages: messages,
		registry: registry,
		now:      time.Now,
		logger:   logger,
	}
}

// Route handles a message frame sent on s. Frames without a chat id or content are
// dropped without a reply. Every other failure is reported to the sender as an error
// frame; the connection stays open.
func (r *Router) Route(ctx context.Context, s *Session, raw json.RawMessage) (outcome Outcome) {
	var p MessagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.sendFrame(TypeError, ErrorPayload{
			Message: errs.NewError(errs.ErrInvalidFrame).Message,
			Error:   err.Error(),
			Code:    errs.ErrInvalidFrame,
		})
		metrics.FramesRejected.WithLabelValues("invalid_payload").Inc()
		return OutcomeRejected
	}

	content, ok := contentText(p.Content)
	if p.ChatID == "" || !ok {
		metrics.FramesRejected.WithLabelValues("missing_fields").Inc()
		return OutcomeDropped
	}

	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error().Interface("panic", rec).Str("chat_id", string(p.ChatID)).Msg("Recovered from panic while routing message")
			s.sendError(p.ID, errs.NewError(errs.ErrUnknown))
			outcome = OutcomeRejected
		}
	}()

	receipt, cerr := r.route(ctx, s, p, content, raw)
	if cerr != nil {
		s.sendError(p.ID, cerr)
		metrics.FramesRejected.WithLabelValues(rejectReason(cerr.Code)).Inc()
		return OutcomeRejected
	}

	s.sendFrame(TypeReceipt, receipt)
	return Outcome(receipt.Status)
}

func (r *Router) route(ctx context.Context, s *Session, p MessagePayload, content string, raw json.RawMessage) (ReceiptPayload, *errs.CustomError) {
	chatID, ok := p.ChatID.Int64()
	if !ok {
		return ReceiptPayload{}, errs.NewError(errs.ErrChatNotFound)
	}

	c, err := r.chats.FindByID(ctx, chatID)
	if errors.Is(err, chat.ErrNotFound) {
		return ReceiptPayload{}, errs.NewError(errs.ErrChatNotFound)
	}
	if err != nil {
		return ReceiptPayload{}, r.storageError(s, "find chat", err)
	}

	senderID := s.UserID()
	if senderID == user.GuestID {
		return ReceiptPayload{}, errs.NewError(errs.ErrNotAuthenticated)
	}

	msgType := p.MessageType
	if msgType == "" {
		msgType = chat.TypeText
	}
	if !chat.ValidType(msgType) {
		return ReceiptPayload{}, errs.NewError(errs.ErrMessageTypeInvalid, msgType)
	}
	if len(content) > MaxContentBytes {
		return ReceiptPayload{}, errs.NewError(errs.ErrMessageContentTooLong)
	}

	participants, err := r.chats.ListParticipants(ctx, chatID)
	if err != nil {
		return ReceiptPayload{}, r.storageError(s, "list participants", err)
	}
	if !chat.IsParticipant(participants, senderID) {
		return ReceiptPayload{}, errs.NewError(errs.ErrNotParticipant)
	}

	var recipient int64
	if !c.IsGroup {
		found := false
		for _, part := range participants {
			if part.UserID != senderID {
				recipient, found = part.UserID, true
				break
			}
		}
		if !found {
			return ReceiptPayload{}, errs.NewError(errs.ErrRecipientNotFound)
		}
	}

	encrypted := true
	if p.Encrypted != nil {
		encrypted = *p.Encrypted
	}

	msg, err := r.messages.Append(ctx, chat.AppendParams{
		ChatID:    chatID,
		SenderID:  senderID,
		Type:      msgType,
		Content:   content,
		Metadata:  p.Metadata,
		Encrypted: encrypted,
		Timestamp: r.now(),
	})
	if err != nil {
		return ReceiptPayload{}, r.storageError(s, "append message", err)
	}

	frame, err := forwardFrame(raw, msg.ID, senderID, msg.Timestamp)
	if err != nil {
		return ReceiptPayload{}, errs.NewError(errs.ErrUnknown, fmt.Errorf("build forward frame: %w", err))
	}

	status := StatusDelivered
	kind := "group"
	if c.IsGroup {
		r.fanOut(s, participants, senderID, frame)
	} else {
		kind = "direct"
		if !r.deliver(recipient, frame) {
			status = StatusPending
		}
	}

	metrics.MessagesRouted.WithLabelValues(kind, string(status)).Inc()
	s.logger.Debug().
		Int64("chat_id", chatID).
		Int64("message_id", msg.ID).
		Str("status", string(status)).
		Msg("Message routed")

	return ReceiptPayload{
		MessageID:       msg.ID,
		ClientMessageID: string(p.ID),
		ChatID:          chatID,
		Status:          status,
		Timestamp:       msg.Timestamp.UnixMilli(),
	}, nil
}

// fanOut forwards frame to every online participant except the sender.
func (r *Router) fanOut(s *Session, participants []chat.Participant, senderID int64, frame []byte) {
	for _, part := range participants {
		if part.UserID == senderID {
			continue
		}
		if !r.deliver(part.UserID, frame) {
			s.logger.Debug().Int64("recipient_id", part.UserID).Msg("Group participant offline, not forwarded")
		}
	}
}

// deliver reports whether frame was queued on the recipient's live connection.
func (r *Router) deliver(userID int64, frame []byte) bool {
	conn, ok := r.registry.LookupByUserID(userID)
	if !ok {
		return false
	}
	if err := conn.Socket.Send(frame); err != nil {
		r.logger.Warn().Err(err).Int64("recipient_id", userID).Msg("Forward to recipient failed")
		return false
	}
	return true
}

func (r *Router) storageError(s *Session, op string, err error) *errs.CustomError {
	s.logger.Error().Err(err).Str("op", op).Msg("Store call failed while routing message")
	return errs.NewError(errs.ErrStorageFailed)
}

func rejectReason(code int) string {
	switch code {
	case errs.ErrChatNotFound:
		return "chat_not_found"
	case errs.ErrNotAuthenticated:
		return "not_authenticated"
	case errs.ErrNotParticipant:
		return "not_participant"
	case errs.ErrRecipientNotFound:
		return "recipient_not_found"
	case errs.ErrMessageTypeInvalid, errs.ErrMessageContentTooLong:
		return "invalid_message"
	case errs.ErrStorageFailed:
		return "storage"
	default:
		return "internal"
	}
}
