package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cryptochat/internal/app/chat"
	"cryptochat/internal/app/user"
)

type fakeSocket struct {
	id string

	mu        sync.Mutex
	sent      [][]byte
	closed    bool
	closeCode int
	failSend  bool
}

func newFakeSocket(id string) *fakeSocket {
	return &fakeSocket{id: id}
}

func (f *fakeSocket) SessionID() string { return f.id }

func (f *fakeSocket) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrSocketClosed
	}
	if f.failSend {
		return ErrSendQueueFull
	}
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeSocket) Close(code int, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	f.closeCode = code
}

func (f *fakeSocket) raw() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.sent))
	for _, b := range f.sent {
		out = append(out, string(b))
	}
	return out
}

func (f *fakeSocket) reset() {
	f.mu.Lock()
	f.sent = nil
	f.mu.Unlock()
}

func (f *fakeSocket) isClosed() (bool, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed, f.closeCode
}

// frames decodes every JSON frame sent so far, skipping bare probe tokens.
func (f *fakeSocket) frames(t *testing.T, typ FrameType) []json.RawMessage {
	t.Helper()

	var payloads []json.RawMessage
	for _, s := range f.raw() {
		if s == probeToken || s == replyToken {
			continue
		}
		var fr Frame
		require.NoError(t, json.Unmarshal([]byte(s), &fr))
		if fr.Type == typ {
			payloads = append(payloads, fr.Payload)
		}
	}
	return payloads
}

func decodeAs[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

// gatedSocket blocks the first Send after arm until the returned gate is closed.
type gatedSocket struct {
	*fakeSocket

	gmu     sync.Mutex
	gate    chan struct{}
	entered chan struct{}
}

func newGatedSocket(id string) *gatedSocket {
	return &gatedSocket{fakeSocket: newFakeSocket(id)}
}

func (g *gatedSocket) arm() (gate, entered chan struct{}) {
	g.gmu.Lock()
	defer g.gmu.Unlock()

	g.gate, g.entered = make(chan struct{}), make(chan struct{})
	return g.gate, g.entered
}

func (g *gatedSocket) Send(data []byte) error {
	g.gmu.Lock()
	gate, entered := g.gate, g.entered
	g.gate, g.entered = nil, nil
	g.gmu.Unlock()

	if gate != nil {
		close(entered)
		<-gate
	}
	return g.fakeSocket.Send(data)
}

type memUsers struct {
	mu       sync.Mutex
	byAddr   map[string]*user.User
	nextID   int64
	findErr  error
	updErr   error
	raceOnce bool
}

func newMemUsers() *memUsers {
	return &memUsers{byAddr: make(map[string]*user.User), nextID: 1}
}

func (m *memUsers) add(address string) *user.User {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := &user.User{ID: m.nextID, Address: address, CreatedAt: time.Now()}
	m.nextID++
	m.byAddr[address] = u
	return u
}

func (m *memUsers) get(address string) (user.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byAddr[address]
	if !ok {
		return user.User{}, false
	}
	return *u, true
}

func (m *memUsers) FindByAddress(_ context.Context, address string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findErr != nil {
		return nil, m.findErr
	}
	u, ok := m.byAddr[address]
	if !ok {
		return nil, user.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) Create(_ context.Context, nu user.NewUser) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.raceOnce {
		// simulate a concurrent handshake winning the insert
		m.raceOnce = false
		m.byAddr[nu.Address] = &user.User{ID: m.nextID, Address: nu.Address}
		m.nextID++
		return nil, user.ErrAlreadyExists
	}
	if _, ok := m.byAddr[nu.Address]; ok {
		return nil, user.ErrAlreadyExists
	}

	u := &user.User{
		ID:          m.nextID,
		Address:     nu.Address,
		PublicKey:   nu.PublicKey,
		EnsName:     nu.EnsName,
		DisplayName: nu.DisplayName,
		CreatedAt:   time.Now(),
		LastSeen:    time.Now(),
	}
	m.nextID++
	m.byAddr[nu.Address] = u
	cp := *u
	return &cp, nil
}

func (m *memUsers) Update(_ context.Context, address string, upd user.Update) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updErr != nil {
		return nil, m.updErr
	}
	u, ok := m.byAddr[address]
	if !ok {
		return nil, user.ErrNotFound
	}
	if upd.PublicKey != nil {
		u.PublicKey = *upd.PublicKey
	}
	if upd.LastSeen != nil {
		u.LastSeen = *upd.LastSeen
	}
	cp := *u
	return &cp, nil
}

type memChats struct {
	mu           sync.Mutex
	chats        map[int64]*chat.Chat
	participants map[int64][]chat.Participant
	messages     []chat.Message
	appendErr    error
	findErr      error
}

func newMemChats() *memChats {
	return &memChats{
		chats:        make(map[int64]*chat.Chat),
		participants: make(map[int64][]chat.Participant),
	}
}

func (m *memChats) addChat(id int64, isGroup bool, members ...int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.chats[id] = &chat.Chat{ID: id, IsGroup: isGroup, CreatedAt: time.Now()}
	for _, uid := range members {
		m.participants[id] = append(m.participants[id], chat.Participant{UserID: uid})
	}
}

func (m *memChats) stored() []chat.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]chat.Message(nil), m.messages...)
}

func (m *memChats) FindByID(_ context.Context, chatID int64) (*chat.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findErr != nil {
		return nil, m.findErr
	}
	c, ok := m.chats[chatID]
	if !ok {
		return nil, chat.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memChats) ListParticipants(_ context.Context, chatID int64) ([]chat.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]chat.Participant(nil), m.participants[chatID]...), nil
}

func (m *memChats) Append(_ context.Context, p chat.AppendParams) (*chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.appendErr != nil {
		return nil, m.appendErr
	}
	msg := chat.Message{
		ID:        int64(len(m.messages) + 1),
		ChatID:    p.ChatID,
		SenderID:  p.SenderID,
		Type:      p.Type,
		Content:   p.Content,
		Metadata:  p.Metadata,
		Encrypted: p.Encrypted,
		Timestamp: p.Timestamp,
	}
	m.messages = append(m.messages, msg)
	return &msg, nil
}

func (m *memChats) List(_ context.Context, chatID int64, limit, offset int) ([]chat.Message, error) {
	return nil, errors.New("not implemented")
}

type memMirror struct {
	mu      sync.Mutex
	online  map[string]bool
	refresh int
}

func newMemMirror() *memMirror {
	return &memMirror{online: make(map[string]bool)}
}

func (m *memMirror) SetOnline(_ context.Context, address string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online[address] = true
	return nil
}

func (m *memMirror) SetOffline(_ context.Context, address string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online[address] = false
	return nil
}

func (m *memMirror) Refresh(_ context.Context, addresses []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh++
	return nil
}

func (m *memMirror) isOnline(address string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online[address]
}

type fixture struct {
	hub    *Hub
	users  *memUsers
	chats  *memChats
	mirror *memMirror
	seq    int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{users: newMemUsers(), chats: newMemChats(), mirror: newMemMirror()}
	f.hub = NewHub(Deps{
		Users:    f.users,
		Chats:    f.chats,
		Messages: f.chats,
		Mirror:   f.mirror,
		Tokens: func(userID int64, address string) (string, error) {
			return fmt.Sprintf("token-%d", userID), nil
		},
	}, Options{HeartbeatInterval: time.Hour, MaxMissedProbes: 3, ReleaseTimeout: time.Millisecond})

	t.Cleanup(f.hub.Shutdown)
	return f
}

// open returns a fresh unbound session.
func (f *fixture) open() (*Session, *fakeSocket) {
	f.seq++
	sock := newFakeSocket(fmt.Sprintf("sock-%d", f.seq))
	return f.hub.Open(sock), sock
}

// connect opens a session, completes a handshake for address and clears the socket.
func (f *fixture) connect(t *testing.T, address string) (*Session, *fakeSocket) {
	t.Helper()

	s, sock := f.open()
	f.send(t, s, TypeHandshake, HandshakePayload{Address: address})
	require.True(t, s.bound, "handshake for %s did not bind", address)
	sock.reset()
	return s, sock
}

func (f *fixture) send(t *testing.T, s *Session, typ FrameType, payload any) {
	t.Helper()

	data, err := encodeFrame(typ, payload)
	require.NoError(t, err)
	f.hub.HandleFrame(s, data)
}

func (f *fixture) sendRaw(s *Session, data string) {
	f.hub.HandleFrame(s, []byte(data))
}
