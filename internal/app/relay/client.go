package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"cryptochat/internal/pkg/randx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum allowed size (in bytes) of a frame sent by the client. Escaping as \u00XX
	// can grow content sixfold; oversize content is rejected by the router, not here.
	maxFrameSize = 6*MaxContentBytes + maxMetadataBytes

	// allowance for metadata and the frame envelope.
	maxMetadataBytes = 64 * 1024

	// capacity of the outbound queue of a client.
	sendBuffer = 256

	// WsCloseCodeSlowConsumer is sent when a client stops draining its outbound queue.
	WsCloseCodeSlowConsumer = 4003
)

// Client is a WebSocket connection. It implements Socket.
type Client struct {
	// underlying WebSocket connection object.
	conn *websocket.Conn

	// id is a ULID assigned on accept.
	id string

	// a buffered channel used to queue frames waiting to be written.
	send chan []byte

	// mu guards closed, the close frame and the closing of send.
	mu          sync.Mutex
	closed      bool
	closeCode   int
	closeReason string

	logger zerolog.Logger
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, logger zerolog.Logger) *Client {
	id := randx.SessionID()

	return &Client{
		conn:   conn,
		id:     id,
		send:   make(chan []byte, sendBuffer),
		logger: logger.With().Str("session_id", id).Logger(),
	}
}

// SessionID implements Socket.
func (c *Client) SessionID() string {
	return c.id
}

// Send implements Socket. A full queue closes the client.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSocketClosed
	}

	select {
	case c.send <- data:
		c.mu.Unlock()
		return nil
	default:
	}
	c.mu.Unlock()

	c.logger.Warn().Int("queue_len", len(c.send)).Msg("Client send channel full, closing connection")
	c.Close(WsCloseCodeSlowConsumer, "Send queue full.")
	return ErrSendQueueFull
}

// Close implements Socket. Frames queued before the call are still written, then
// WritePump sends the close frame and drops the connection.
func (c *Client) Close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.closeCode, c.closeReason = code, reason
	close(c.send)

	c.logger.Info().
		Int("close_code", code).
		Str("reason", reason).
		Msg("Closing connection after queued frames.")
}

// Serve runs the connection until it closes: the write loop in its own goroutine and
// the read loop on the caller's.
func (c *Client) Serve(h *Hub) {
	s := h.Open(c)
	defer h.Close(s)

	go c.WritePump()
	c.ReadPump(h, s)
}

// ReadPump reads frames and hands them to the hub one at a time.
func (c *Client) ReadPump(h *Hub, s *Session) {
	defer c.Close(websocket.CloseNormalClosure, "")

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetPongHandler(func(string) error {
		s.touch()
		return nil
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (Client close/going away)")
			}
			return
		}

		if msgType != websocket.TextMessage {
			s.touch()
			continue
		}

		h.HandleFrame(s, data)
	}
}

// WritePump writes queued frames until the send channel is closed.
func (c *Client) WritePump() {
	// unblocks ReadPump for peers that never answer the close frame
	defer func() {
		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for message := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			c.logger.Error().Err(err).Msg("Failed to set write deadline")
			return
		}

		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			c.logger.Warn().Err(err).Msg("Error writing message")
			return
		}
	}

	c.mu.Lock()
	closeMessage := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
	c.mu.Unlock()

	if err := c.conn.WriteControl(websocket.CloseMessage, closeMessage, time.Now().Add(writeWait)); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to send WS close message.")
	}
}
