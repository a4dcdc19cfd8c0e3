// Package client is the connection gateway: one Client per WebSocket
// connection, reading client events in arrival order and handing them to the
// hub, and writing the hub's broadcasts back out.
package client

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/devaloi/pokersync/internal/domain"
	"github.com/devaloi/pokersync/internal/hub"
	"github.com/devaloi/pokersync/internal/metrics"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Backlog updates can be large.
	maxMessageSize = 64 * 1024

	// Outbound frames queued per connection before it counts as a slow consumer.
	sendBufferSize = 256
)

// Options configures a Client.
type Options struct {
	// MessageRate is the sustained inbound events per second. Zero disables
	// rate limiting.
	MessageRate  float64
	MessageBurst int
	Logger       *slog.Logger
	Metrics      metrics.Recorder
}

// Client is a WebSocket connection attached to the hub.
type Client struct {
	hub     *hub.Hub
	conn    *websocket.Conn
	send    chan []byte
	id      string
	user    string
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics metrics.Recorder

	// Owned by ReadPump.
	room        string
	participant string

	closed    chan struct{}
	closeOnce sync.Once
}

// New creates a new Client. user is the participant id used when a join
// event does not carry one; it may be empty.
func New(h *hub.Hub, conn *websocket.Conn, user string, opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	limit := rate.Inf
	if opts.MessageRate > 0 {
		limit = rate.Limit(opts.MessageRate)
	}
	burst := opts.MessageBurst
	if burst <= 0 {
		burst = 1
	}

	id := uuid.NewString()
	c := &Client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		id:      id,
		user:    user,
		limiter: rate.NewLimiter(limit, burst),
		logger:  opts.Logger.With(slog.String("conn_id", id)),
		metrics: opts.Metrics,
		closed:  make(chan struct{}),
	}
	c.metrics.ConnectionOpened()
	return c
}

// ID returns the connection handle.
func (c *Client) ID() string {
	return c.id
}

// Send queues a message to be sent to the WebSocket client. A client that
// cannot keep up is disconnected; it gets a full snapshot when it rejoins.
func (c *Client) Send(data []byte) {
	select {
	case c.send <- data:
	default:
		c.metrics.RecordDropped(metrics.DropSlowConsumer)
		c.logger.Warn("send buffer full, closing connection")
		c.shutdown()
	}
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// ReadPump reads messages from the WebSocket connection and routes them to the hub.
func (c *Client) ReadPump() {
	defer func() {
		// Leave synchronously so the room never broadcasts to a dead handle.
		if c.room != "" {
			if err := c.hub.Leave(c, c.room); err != nil {
				c.logger.Warn("leave on disconnect failed", slog.String("error", err.Error()))
			}
		}
		c.shutdown()
		c.conn.Close()
		c.metrics.ConnectionClosed()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("read error", slog.String("error", err.Error()))
			}
			return
		}
		if !c.limiter.Allow() {
			c.metrics.RecordDropped(metrics.DropRateLimited)
			c.sendError("rate limit exceeded")
			continue
		}
		c.handleMessage(data)
	}
}

// WritePump writes messages from the send channel to the WebSocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too slow"))
			return
		}
	}
}

func (c *Client) handleMessage(data []byte) {
	msg, err := domain.DecodeMessage(data)
	if err != nil {
		c.protocolError("invalid message", slog.String("error", err.Error()))
		return
	}
	if msg.Type == "" {
		c.protocolError("message type required")
		return
	}
	if msg.RoomID == "" {
		c.protocolError("roomId required", slog.String("type", msg.Type))
		return
	}

	switch msg.Type {
	case domain.MsgJoinRoom:
		c.join(msg)

	case domain.MsgLeaveRoom:
		if c.room != msg.RoomID {
			return
		}
		c.check(msg.Type, c.hub.Leave(c, msg.RoomID))
		c.room, c.participant = "", ""

	case domain.MsgSelectCard:
		participant := c.participantFor(msg)
		if participant == "" {
			c.protocolError("participantId required", slog.String("type", msg.Type))
			return
		}
		if msg.CardValue == "" {
			c.protocolError("cardValue required", slog.String("type", msg.Type))
			return
		}
		c.check(msg.Type, c.hub.CastVote(msg.RoomID, participant, msg.CardValue))

	case domain.MsgCardReset:
		participant := c.participantFor(msg)
		if participant == "" {
			c.protocolError("participantId required", slog.String("type", msg.Type))
			return
		}
		c.check(msg.Type, c.hub.ResetVote(msg.RoomID, participant))

	case domain.MsgResetAllCards, domain.MsgResetEstimation:
		c.check(msg.Type, c.hub.ResetAll(msg.RoomID, msg.SessionID, c.participantFor(msg)))

	case domain.MsgRevealCards:
		c.check(msg.Type, c.hub.Reveal(msg.RoomID, msg.SessionID))

	case domain.MsgSelectStory:
		c.check(msg.Type, c.hub.SelectStory(msg.RoomID, msg.Story))

	case domain.MsgUpdateStories:
		c.check(msg.Type, c.hub.UpdateStories(msg.RoomID, msg.Stories))

	case domain.MsgStartSession:
		sessionID, err := c.hub.StartSession(msg.RoomID, msg.TaskName, msg.StoryID)
		if c.check(msg.Type, err) {
			c.logger.Info("session started",
				slog.String("room_id", msg.RoomID),
				slog.String("session_id", sessionID),
			)
		}

	case domain.MsgCompleteSession:
		c.check(msg.Type, c.hub.CompleteSession(msg.RoomID, msg.SessionID, msg.FinalEstimation))

	default:
		c.protocolError("unknown message type: " + msg.Type)
	}
}

// join moves the connection into msg.RoomID. A connection is in at most one
// room, so any previous room is left first.
func (c *Client) join(msg domain.Message) {
	participant := msg.ParticipantID
	if participant == "" {
		participant = c.user
	}
	if participant == "" {
		c.protocolError("participantId required", slog.String("type", msg.Type))
		return
	}

	if c.room != "" && c.room != msg.RoomID {
		if err := c.hub.Leave(c, c.room); err != nil {
			c.logger.Warn("leave previous room failed", slog.String("error", err.Error()))
		}
		c.room, c.participant = "", ""
	}

	if !c.check(msg.Type, c.hub.Join(c, msg.RoomID, participant)) {
		return
	}
	c.room = msg.RoomID
	c.participant = participant
}

// participantFor returns the participant an event acts for: the one it names,
// or the identity this connection joined with.
func (c *Client) participantFor(msg domain.Message) string {
	if msg.ParticipantID != "" {
		return msg.ParticipantID
	}
	return c.participant
}

// check records an applied event, or reports err to the sender. It returns
// whether the event was applied.
func (c *Client) check(eventType string, err error) bool {
	if err == nil {
		c.metrics.RecordEvent(eventType)
		return true
	}
	if errors.Is(err, hub.ErrNoSession) {
		c.protocolError("no active session", slog.String("type", eventType))
		return false
	}
	c.logger.Error("event failed",
		slog.String("type", eventType),
		slog.String("error", err.Error()),
	)
	c.sendError(err.Error())
	return false
}

func (c *Client) protocolError(message string, attrs ...any) {
	c.metrics.RecordDropped(metrics.DropProtocol)
	c.logger.Warn("protocol error", append([]any{slog.String("reason", message)}, attrs...)...)
	c.sendError(message)
}

func (c *Client) sendError(message string) {
	errMsg := domain.ErrorMessage{Type: domain.MsgError, Message: message}
	if data, err := domain.Encode(errMsg); err == nil {
		c.Send(data)
	}
}
