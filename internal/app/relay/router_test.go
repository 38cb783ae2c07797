package relay

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptochat/internal/pkg/errs"
)

func boolPtr(b bool) *bool { return &b }

// directChat connects alice (user 1) and bob (user 2) and creates direct chat 7.
func directChat(t *testing.T, f *fixture) (alice *Session, aliceSock *fakeSocket, bob *Session, bobSock *fakeSocket) {
	t.Helper()

	alice, aliceSock = f.connect(t, "0xAAA")
	bob, bobSock = f.connect(t, "0xBBB")
	aliceSock.reset()
	require.EqualValues(t, 1, alice.UserID())
	require.EqualValues(t, 2, bob.UserID())

	f.chats.addChat(7, false, 1, 2)
	return alice, aliceSock, bob, bobSock
}

func TestRoute_DirectRecipientOnline(t *testing.T) {
	f := newFixture(t)
	alice, aliceSock, _, bobSock := directChat(t, f)

	f.send(t, alice, TypeMessage, map[string]any{"chatId": 7, "content": "hi", "id": "tmp-1"})

	stored := f.chats.stored()
	require.Len(t, stored, 1)
	assert.Equal(t, "hi", stored[0].Content)
	assert.Equal(t, "text", stored[0].Type)
	assert.True(t, stored[0].Encrypted)
	assert.EqualValues(t, 1, stored[0].SenderID)

	forwarded := bobSock.frames(t, TypeMessage)
	require.Len(t, forwarded, 1)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(forwarded[0], &fields))
	assert.EqualValues(t, stored[0].ID, fields["id"])
	assert.EqualValues(t, 1, fields["senderId"])
	assert.Equal(t, "delivered", fields["status"])
	assert.Equal(t, "hi", fields["content"])

	receipts := aliceSock.frames(t, TypeReceipt)
	require.Len(t, receipts, 1)
	r := decodeAs[ReceiptPayload](t, receipts[0])
	assert.Equal(t, StatusDelivered, r.Status)
	assert.Equal(t, stored[0].ID, r.MessageID)
	assert.EqualValues(t, 7, r.ChatID)
	assert.Equal(t, "tmp-1", r.ClientMessageID)
	assert.Equal(t, stored[0].Timestamp.UnixMilli(), r.Timestamp)
}

func TestRoute_DirectRecipientOffline(t *testing.T) {
	f := newFixture(t)
	alice, aliceSock, bob, bobSock := directChat(t, f)
	f.hub.Close(bob)
	bobSock.reset()
	aliceSock.reset()

	f.send(t, alice, TypeMessage, map[string]any{"chatId": "7", "content": "later"})

	assert.Len(t, f.chats.stored(), 1)
	assert.Empty(t, bobSock.raw())

	r := decodeAs[ReceiptPayload](t, aliceSock.frames(t, TypeReceipt)[0])
	assert.Equal(t, StatusPending, r.Status)
}

func TestRoute_DirectSendFailureIsPending(t *testing.T) {
	f := newFixture(t)
	alice, aliceSock, _, bobSock := directChat(t, f)
	bobSock.failSend = true

	f.send(t, alice, TypeMessage, map[string]any{"chatId": 7, "content": "hi"})

	r := decodeAs[ReceiptPayload](t, aliceSock.frames(t, TypeReceipt)[0])
	assert.Equal(t, StatusPending, r.Status)
}

func TestRoute_GroupFanOutExcludesSender(t *testing.T) {
	f := newFixture(t)
	alice, aliceSock := f.connect(t, "0xAAA")
	_, bobSock := f.connect(t, "0xBBB")
	_, carolSock := f.connect(t, "0xCCC")
	f.users.add("0xDDD") // offline participant
	aliceSock.reset()
	bobSock.reset()

	f.chats.addChat(9, true, 1, 2, 3, 4)

	f.send(t, alice, TypeMessage, map[string]any{"chatId": 9, "content": "hello all"})

	assert.Len(t, bobSock.frames(t, TypeMessage), 1)
	assert.Len(t, carolSock.frames(t, TypeMessage), 1)
	assert.Empty(t, aliceSock.frames(t, TypeMessage))

	r := decodeAs[ReceiptPayload](t, aliceSock.frames(t, TypeReceipt)[0])
	assert.Equal(t, StatusDelivered, r.Status)
}

func TestRoute_GuestCannotSend(t *testing.T) {
	f := newFixture(t)
	directChat(t, f)

	guest, guestSock := f.open()
	f.send(t, guest, TypeHandshake, HandshakePayload{Address: "0xEEE", IsGuest: true})
	guestSock.reset()

	f.send(t, guest, TypeMessage, map[string]any{"chatId": 7, "content": "hi", "id": 55})

	assert.Empty(t, f.chats.stored())
	errFrames := guestSock.frames(t, TypeError)
	require.Len(t, errFrames, 1)
	e := decodeAs[ErrorPayload](t, errFrames[0])
	assert.Equal(t, errs.ErrNotAuthenticated, e.Code)
	assert.Equal(t, "55", e.MessageID)
	assert.NotEmpty(t, e.Error)
}

func TestRoute_UnboundSessionCannotSend(t *testing.T) {
	f := newFixture(t)
	f.chats.addChat(7, false, 1, 2)
	s, sock := f.open()

	f.send(t, s, TypeMessage, map[string]any{"chatId": 7, "content": "hi"})

	assert.Empty(t, f.chats.stored())
	assert.Equal(t, errs.ErrNotAuthenticated, decodeAs[ErrorPayload](t, sock.frames(t, TypeError)[0]).Code)
}

func TestRoute_SilentDrops(t *testing.T) {
	f := newFixture(t)
	alice, aliceSock, _, _ := directChat(t, f)

	tests := []struct {
		name    string
		payload map[string]any
	}{
		{"missing chat id", map[string]any{"content": "hi"}},
		{"missing content", map[string]any{"chatId": 7}},
		{"empty content", map[string]any{"chatId": 7, "content": ""}},
		{"null content", map[string]any{"chatId": 7, "content": nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			aliceSock.reset()
			f.send(t, alice, TypeMessage, tt.payload)
			assert.Empty(t, aliceSock.raw())
		})
	}
	assert.Empty(t, f.chats.stored())
}

func TestRoute_ErrorFrames(t *testing.T) {
	f := newFixture(t)
	alice, aliceSock, _, _ := directChat(t, f)
	f.users.add("0xDDD")            // user 3
	f.chats.addChat(8, false, 2, 3) // alice is not a member
	f.chats.addChat(10, false, 1)   // no counterpart

	tests := []struct {
		name     string
		payload  map[string]any
		wantCode int
	}{
		{"unknown chat", map[string]any{"chatId": 404, "content": "hi"}, errs.ErrChatNotFound},
		{"non numeric chat", map[string]any{"chatId": "abc", "content": "hi"}, errs.ErrChatNotFound},
		{"not a participant", map[string]any{"chatId": 8, "content": "hi"}, errs.ErrNotParticipant},
		{"no counterpart", map[string]any{"chatId": 10, "content": "hi"}, errs.ErrRecipientNotFound},
		{"bad message type", map[string]any{"chatId": 7, "content": "hi", "messageType": "sticker"}, errs.ErrMessageTypeInvalid},
		{"content too long", map[string]any{"chatId": 7, "content": strings.Repeat("x", MaxContentBytes+1)}, errs.ErrMessageContentTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			aliceSock.reset()
			f.send(t, alice, TypeMessage, tt.payload)

			errFrames := aliceSock.frames(t, TypeError)
			require.Len(t, errFrames, 1)
			assert.Equal(t, tt.wantCode, decodeAs[ErrorPayload](t, errFrames[0]).Code)
			assert.Empty(t, aliceSock.frames(t, TypeReceipt))
		})
	}
	assert.Empty(t, f.chats.stored())
}

func TestRoute_StoreFailureKeepsConnection(t *testing.T) {
	f := newFixture(t)
	alice, aliceSock, _, bobSock := directChat(t, f)
	f.chats.appendErr = errors.New("disk full")

	f.send(t, alice, TypeMessage, map[string]any{"chatId": 7, "content": "hi", "id": "tmp-9"})

	e := decodeAs[ErrorPayload](t, aliceSock.frames(t, TypeError)[0])
	assert.Equal(t, errs.ErrStorageFailed, e.Code)
	assert.Equal(t, "tmp-9", e.MessageID)
	assert.Empty(t, bobSock.frames(t, TypeMessage))

	closed, _ := aliceSock.isClosed()
	assert.False(t, closed)
}

func TestRoute_KeepsMessageOptions(t *testing.T) {
	f := newFixture(t)
	alice, _, _, _ := directChat(t, f)

	f.send(t, alice, TypeMessage, MessagePayload{
		ChatID:      "7",
		Content:     json.RawMessage(`"ipfs://file"`),
		MessageType: "file",
		Metadata:    json.RawMessage(`{"fileKey":"chats/7/a.png"}`),
		Encrypted:   boolPtr(false),
	})

	stored := f.chats.stored()
	require.Len(t, stored, 1)
	assert.Equal(t, "file", stored[0].Type)
	assert.False(t, stored[0].Encrypted)
	assert.JSONEq(t, `{"fileKey":"chats/7/a.png"}`, string(stored[0].Metadata))
}

func TestHandleFrame_Malformed(t *testing.T) {
	f := newFixture(t)
	s, sock := f.open()

	f.sendRaw(s, "{not json")
	e := decodeAs[ErrorPayload](t, sock.frames(t, TypeError)[0])
	assert.Equal(t, errs.ErrInvalidFrame, e.Code)
	assert.NotEmpty(t, e.Message)
	assert.NotEmpty(t, e.Error)

	sock.reset()
	f.sendRaw(s, `{"type":"typing","payload":{}}`)
	e = decodeAs[ErrorPayload](t, sock.frames(t, TypeError)[0])
	assert.Equal(t, errs.ErrUnsupportedFrameType, e.Code)
	assert.Contains(t, e.Error, "typing")

	sock.reset()
	f.sendRaw(s, `{"type":"message","payload":{"chatId":true,"content":"x"}}`)
	assert.Equal(t, errs.ErrInvalidFrame, decodeAs[ErrorPayload](t, sock.frames(t, TypeError)[0]).Code)
}

func TestHandleFrame_ClientProbe(t *testing.T) {
	f := newFixture(t)
	s, sock := f.open()

	f.sendRaw(s, "ping")
	f.sendRaw(s, "pong")

	assert.Equal(t, []string{"pong"}, sock.raw())
}
