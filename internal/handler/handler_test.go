package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptochat/internal/app/chat"
	"cryptochat/internal/app/db"
	"cryptochat/internal/app/relay"
	"cryptochat/internal/app/store"
	"cryptochat/internal/configs"
	"cryptochat/internal/pkg/auth/jwt"
	"cryptochat/internal/pkg/errs"
	"cryptochat/internal/pkg/resp"
)

const testSecret = "test-secret"

type fakeSigner struct{}

func (fakeSigner) PresignDownload(_ context.Context, key string) (string, error) {
	return "https://files.example/" + key + "?sig=1", nil
}

type testEnv struct {
	server *httptest.Server
	store  store.Store
	deps   *AppDeps
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	sqlDB, err := db.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "handler.db"))
	require.NoError(t, err)
	st := store.NewSQLite(sqlDB)

	cfg := &configs.AppConfig{Environment: "development", JWTSecret: testSecret}
	hub := relay.NewHub(relay.Deps{
		Users:    st,
		Chats:    st,
		Messages: st,
		Tokens: func(userID int64, address string) (string, error) {
			return jwt.GenerateToken(&jwt.Payload{UserID: userID, Address: address}, testSecret, jwt.SessionExpiration)
		},
	}, relay.Options{HeartbeatInterval: time.Hour, MaxMissedProbes: 3})

	deps := &AppDeps{Hub: hub, Config: cfg, Store: st, Files: fakeSigner{}}
	server := httptest.NewServer(Router(deps))

	t.Cleanup(func() {
		hub.Shutdown()
		server.Close()
		st.Close()
	})

	return &testEnv{server: server, store: st, deps: deps}
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeFrame(t *testing.T, conn *websocket.Conn, typ relay.FrameType, payload any) {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(relay.Frame{Type: typ, Payload: body}))
}

// readFrame reads until a frame of typ arrives, skipping probes and other frames.
func readFrame(t *testing.T, conn *websocket.Conn, typ relay.FrameType) json.RawMessage {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var f relay.Frame
		if json.Unmarshal(data, &f) != nil {
			continue
		}
		if f.Type == typ {
			return f.Payload
		}
	}
}

func (e *testEnv) handshake(t *testing.T, address string) (*websocket.Conn, relay.HandshakeAck) {
	t.Helper()

	conn := e.dial(t)
	writeFrame(t, conn, relay.TypeHandshake, relay.HandshakePayload{Address: address})

	var ack relay.HandshakeAck
	require.NoError(t, json.Unmarshal(readFrame(t, conn, relay.TypeHandshake), &ack))
	require.True(t, ack.Success)
	return conn, ack
}

func (e *testEnv) userID(t *testing.T, address string) int64 {
	t.Helper()

	u, err := e.store.FindByAddress(context.Background(), address)
	require.NoError(t, err)
	return u.ID
}

func (e *testEnv) seedChat(t *testing.T, isGroup bool, members ...int64) int64 {
	t.Helper()
	ctx := context.Background()

	c, err := e.store.CreateChat(ctx, chat.NewChat{IsGroup: isGroup, CreatedBy: members[0]})
	require.NoError(t, err)
	for _, id := range members {
		require.NoError(t, e.store.AddParticipant(ctx, c.ID, id, false))
	}
	return c.ID
}

func (e *testEnv) get(t *testing.T, path, token string) (*http.Response, resp.JSONResponse) {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, e.server.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var body resp.JSONResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	return res, body
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	res, body := env.get(t, "/health", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 0, body.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.get(t, "/health", "")

	res, err := http.Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestWebSocket_DirectMessageFlow(t *testing.T) {
	env := newTestEnv(t)

	alice, aliceAck := env.handshake(t, "0xAAA")
	bob, _ := env.handshake(t, "0xBBB")
	assert.NotEmpty(t, aliceAck.Token)

	var presence relay.PresencePayload
	require.NoError(t, json.Unmarshal(readFrame(t, alice, relay.TypePresence), &presence))
	assert.Equal(t, "0xBBB", presence.Address)
	assert.True(t, presence.Online)

	chatID := env.seedChat(t, false, env.userID(t, "0xAAA"), env.userID(t, "0xBBB"))

	writeFrame(t, alice, relay.TypeMessage, map[string]any{"chatId": chatID, "content": "hi", "id": "tmp-1"})

	var forwarded map[string]any
	require.NoError(t, json.Unmarshal(readFrame(t, bob, relay.TypeMessage), &forwarded))
	assert.Equal(t, "hi", forwarded["content"])
	assert.Equal(t, "delivered", forwarded["status"])

	var receipt relay.ReceiptPayload
	require.NoError(t, json.Unmarshal(readFrame(t, alice, relay.TypeReceipt), &receipt))
	assert.Equal(t, relay.StatusDelivered, receipt.Status)
	assert.Equal(t, "tmp-1", receipt.ClientMessageID)
	assert.EqualValues(t, forwarded["id"], receipt.MessageID)

	// bob leaves; the next message stays pending
	require.NoError(t, bob.Close())
	require.NoError(t, json.Unmarshal(readFrame(t, alice, relay.TypePresence), &presence))
	assert.False(t, presence.Online)

	writeFrame(t, alice, relay.TypeMessage, map[string]any{"chatId": chatID, "content": "later"})
	require.NoError(t, json.Unmarshal(readFrame(t, alice, relay.TypeReceipt), &receipt))
	assert.Equal(t, relay.StatusPending, receipt.Status)
}

func TestWebSocket_MalformedFrameKeepsConnection(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{oops")))

	var e relay.ErrorPayload
	require.NoError(t, json.Unmarshal(readFrame(t, conn, relay.TypeError), &e))
	assert.Equal(t, errs.ErrInvalidFrame, e.Code)

	writeFrame(t, conn, relay.TypeHandshake, relay.HandshakePayload{Address: "0xAAA", IsGuest: true})
	var ack relay.HandshakeAck
	require.NoError(t, json.Unmarshal(readFrame(t, conn, relay.TypeHandshake), &ack))
	assert.True(t, ack.Success)
	assert.Empty(t, ack.Token)
}

func TestWebSocket_LargeContent(t *testing.T) {
	env := newTestEnv(t)

	alice, _ := env.handshake(t, "0xAAA")
	bob, _ := env.handshake(t, "0xBBB")
	chatID := env.seedChat(t, false, env.userID(t, "0xAAA"), env.userID(t, "0xBBB"))

	// every byte is escaped on the wire, so the frame is far larger than the content
	escaped := strings.Repeat("\x01", 20000)
	writeFrame(t, alice, relay.TypeMessage, map[string]any{"chatId": chatID, "content": escaped, "id": "big-1"})

	var receipt relay.ReceiptPayload
	require.NoError(t, json.Unmarshal(readFrame(t, alice, relay.TypeReceipt), &receipt))
	assert.Equal(t, relay.StatusDelivered, receipt.Status)

	var forwarded map[string]any
	require.NoError(t, json.Unmarshal(readFrame(t, bob, relay.TypeMessage), &forwarded))
	assert.Equal(t, escaped, forwarded["content"])

	// oversize content is rejected in-band and the connection stays usable
	writeFrame(t, alice, relay.TypeMessage, map[string]any{
		"chatId":  chatID,
		"content": strings.Repeat("\x01", relay.MaxContentBytes+1),
		"id":      "big-2",
	})

	var e relay.ErrorPayload
	require.NoError(t, json.Unmarshal(readFrame(t, alice, relay.TypeError), &e))
	assert.Equal(t, errs.ErrMessageContentTooLong, e.Code)
	assert.Equal(t, "big-2", e.MessageID)

	writeFrame(t, alice, relay.TypeMessage, map[string]any{"chatId": chatID, "content": "still here"})
	require.NoError(t, json.Unmarshal(readFrame(t, alice, relay.TypeReceipt), &receipt))
	assert.Equal(t, relay.StatusDelivered, receipt.Status)
}

func TestWebSocket_ReplacedConnectionIsKicked(t *testing.T) {
	env := newTestEnv(t)

	first, _ := env.handshake(t, "0xAAA")
	env.handshake(t, "0xAAA")

	var e relay.ErrorPayload
	require.NoError(t, json.Unmarshal(readFrame(t, first, relay.TypeError), &e))
	assert.Equal(t, errs.ErrSessionKicked, e.Code)

	_, _, err := first.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, relay.WsCloseCodeSessionKicked, closeErr.Code)
}

func TestChatHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, aliceAck := env.handshake(t, "0xAAA")
	aliceID := env.userID(t, "0xAAA")
	_, _ = env.handshake(t, "0xCCC")
	outsiderToken, err := jwt.GenerateToken(&jwt.Payload{UserID: env.userID(t, "0xCCC"), Address: "0xCCC"}, testSecret, time.Minute)
	require.NoError(t, err)

	chatID := env.seedChat(t, true, aliceID)
	base := time.Now().Truncate(time.Millisecond)
	for i, content := range []string{"one", "two", "three"} {
		p := chat.AppendParams{
			ChatID: chatID, SenderID: aliceID, Type: chat.TypeText, Content: content,
			Encrypted: true, Timestamp: base.Add(time.Duration(i) * time.Second),
		}
		if content == "three" {
			p.Type = chat.TypeFile
			p.Metadata = json.RawMessage(fmt.Sprintf(`{"fileKey":"chats/%d/doc.pdf"}`, chatID))
		}
		_, err := env.store.Append(ctx, p)
		require.NoError(t, err)
	}

	path := fmt.Sprintf("/api/chats/%d/messages?limit=2", chatID)

	t.Run("requires token", func(t *testing.T) {
		res, body := env.get(t, path, "")
		assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
		assert.Equal(t, errs.ErrUnauthorized, body.Code)
	})

	t.Run("rejects non participant", func(t *testing.T) {
		res, body := env.get(t, path, outsiderToken)
		assert.Equal(t, http.StatusForbidden, res.StatusCode)
		assert.Equal(t, errs.ErrNotParticipant, body.Code)
	})

	t.Run("unknown chat", func(t *testing.T) {
		res, _ := env.get(t, "/api/chats/9999/messages", aliceAck.Token)
		assert.Equal(t, http.StatusNotFound, res.StatusCode)
	})

	t.Run("bad limit", func(t *testing.T) {
		res, _ := env.get(t, fmt.Sprintf("/api/chats/%d/messages?limit=500", chatID), aliceAck.Token)
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	})

	t.Run("newest first with signed files", func(t *testing.T) {
		res, body := env.get(t, path, aliceAck.Token)
		require.Equal(t, http.StatusOK, res.StatusCode)

		raw, err := json.Marshal(body.Data)
		require.NoError(t, err)
		var page struct {
			Messages []HistoryMessage `json:"messages"`
			Limit    int              `json:"limit"`
		}
		require.NoError(t, json.Unmarshal(raw, &page))

		require.Len(t, page.Messages, 2)
		assert.Equal(t, 2, page.Limit)
		assert.Equal(t, "three", page.Messages[0].Content)
		assert.Equal(t, fmt.Sprintf("https://files.example/chats/%d/doc.pdf?sig=1", chatID), page.Messages[0].DownloadURL)
		assert.Equal(t, "two", page.Messages[1].Content)
		assert.Empty(t, page.Messages[1].DownloadURL)
	})
}

func TestPresenceEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.handshake(t, "0xAAA")

	_, body := env.get(t, "/api/presence/0xAAA", "")
	data := body.Data.(map[string]any)
	assert.Equal(t, true, data["online"])
	assert.NotZero(t, data["lastSeen"])

	_, body = env.get(t, "/api/presence/0xZZZ", "")
	data = body.Data.(map[string]any)
	assert.Equal(t, false, data["online"])
	assert.Nil(t, data["lastSeen"])
}
