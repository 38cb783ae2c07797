package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// FrameType is the "type" discriminator of a JSON frame.
type FrameType string

const (
	TypeHandshake FrameType = "handshake"
	TypeMessage   FrameType = "message"
	TypeReceipt   FrameType = "receipt"
	TypePresence  FrameType = "presence"
	TypeError     FrameType = "error"
)

// Bare text liveness tokens. They are not JSON.
const (
	probeToken = "ping"
	replyToken = "pong"
)

// DeliveryStatus is the outcome reported in receipts and forwarded frames.
type DeliveryStatus string

const (
	StatusDelivered DeliveryStatus = "delivered"
	StatusPending   DeliveryStatus = "pending"
)

// Frame is the envelope of every JSON message on the socket.
type Frame struct {
	Type    FrameType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HandshakePayload is sent by the client to bind the connection to a wallet address.
type HandshakePayload struct {
	Address     string `json:"address"`
	PublicKey   string `json:"publicKey,omitempty"`
	EnsName     string `json:"ensName,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	IsGuest     bool   `json:"isGuest,omitempty"`
}

// HandshakeAck acknowledges a bound connection. Token is only set for persisted users.
type HandshakeAck struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
}

// MessagePayload is an inbound chat message. ID is a client-side correlation hint.
type MessagePayload struct {
	ChatID      FlexID          `json:"chatId"`
	Content     json.RawMessage `json:"content"`
	MessageType string          `json:"messageType,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Encrypted   *bool           `json:"encrypted,omitempty"`
	ID          FlexID          `json:"id,omitempty"`
}

// ReceiptPayload tells the sender how a message send ended.
type ReceiptPayload struct {
	MessageID       int64          `json:"messageId"`
	ClientMessageID string         `json:"clientMessageId,omitempty"`
	ChatID          int64          `json:"chatId"`
	Status          DeliveryStatus `json:"status"`
	Timestamp       int64          `json:"timestamp"`
}

// PresencePayload announces an online/offline transition.
type PresencePayload struct {
	Address   string `json:"address"`
	Online    bool   `json:"online"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorPayload reports a failed handshake, parse or routing step.
type ErrorPayload struct {
	MessageID string `json:"messageId,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error"`
	Code      int    `json:"code,omitempty"`
}

// FlexID accepts a JSON string or number and keeps its textual form.
type FlexID string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}

	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or a number")
	}
	*f = FlexID(n.String())
	return nil
}

// Int64 parses the id as a decimal integer.
func (f FlexID) Int64() (int64, bool) {
	v, err := strconv.ParseInt(string(f), 10, 64)
	return v, err == nil
}

// contentText returns the message content as stored text and whether it is non-empty.
// JSON strings are unquoted; any other non-null JSON value is kept verbatim.
func contentText(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, s != ""
	}

	return string(raw), true
}

// encodeFrame marshals a typed frame.
func encodeFrame(t FrameType, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return json.Marshal(Frame{Type: t, Payload: body})
}

// forwardFrame builds the copy delivered to recipients: the sender's payload verbatim
// with the authoritative id, sender, timestamp and status written over it.
func forwardFrame(original json.RawMessage, id, senderID int64, ts time.Time) ([]byte, error) {
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(original, &fields); err != nil {
		return nil, fmt.Errorf("decode original payload: %w", err)
	}

	set := func(key string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		fields[key] = b
		return nil
	}

	for key, v := range map[string]any{
		"id":        id,
		"senderId":  senderID,
		"timestamp": ts.UnixMilli(),
		"status":    StatusDelivered,
	} {
		if err := set(key, v); err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
	}

	return encodeFrame(TypeMessage, fields)
}
