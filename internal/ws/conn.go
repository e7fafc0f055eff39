// Package ws owns the per-connection state machine: handshake,
// authentication, group joins, frame serving, and the unconditional
// group leave on every exit path.
package ws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bugtrackr/realtime/internal/event"
	"github.com/bugtrackr/realtime/internal/metrics"
	"github.com/bugtrackr/realtime/internal/registry"
	"github.com/bugtrackr/realtime/internal/session"
	"github.com/bugtrackr/realtime/pkg/json"
)

const (
	writeWait    = 10 * time.Second
	maxFrameSize = 8 << 10
)

// connState tracks the lifecycle for logging and tests. Transitions are
// linear; a connection never re-enters an earlier state.
type connState int

const (
	stateConnecting connState = iota
	stateAuthenticating
	stateRejected
	stateJoined
	stateServing
	stateClosing
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateAuthenticating:
		return "authenticating"
	case stateRejected:
		return "rejected"
	case stateJoined:
		return "joined"
	case stateServing:
		return "serving"
	case stateClosing:
		return "closing"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is one authenticated, long-lived connection. It is created by the
// Handler after a successful upgrade and owns its record exclusively;
// the registry only ever sees it through the Member interface.
type Conn struct {
	id        string
	projectID string
	identity  session.Identity
	reg       registry.Registry
	sock      *websocket.Conn
	log       *zap.Logger

	send        chan *event.Envelope
	done        chan struct{}
	closeOnce   sync.Once
	idleTimeout time.Duration

	mu     sync.Mutex // serializes socket writes
	state  connState
	joined []registry.Group
}

func newConn(id, projectID string, identity session.Identity, sock *websocket.Conn, reg registry.Registry, sendBuffer int, idleTimeout time.Duration, log *zap.Logger) *Conn {
	if sendBuffer <= 0 {
		sendBuffer = 32
	}
	return &Conn{
		id:          id,
		projectID:   projectID,
		identity:    identity,
		reg:         reg,
		sock:        sock,
		send:        make(chan *event.Envelope, sendBuffer),
		done:        make(chan struct{}),
		idleTimeout: idleTimeout,
		state:       stateAuthenticating,
		log: log.With(
			zap.String("conn_id", id),
			zap.String("project_id", projectID),
			zap.String("user", identity.Username),
		),
	}
}

// ID implements registry.Member.
func (c *Conn) ID() string { return c.id }

// Deliver implements registry.Member. It never blocks: when the send
// buffer is full the event is dropped and counted, so one slow client
// cannot stall fan-out to the rest of its group.
func (c *Conn) Deliver(env *event.Envelope) {
	select {
	case c.send <- env:
	default:
		metrics.DroppedFrames.Inc()
		c.log.Warn("send buffer full, dropping event", zap.String("kind", string(env.EnvelopeKind)))
	}
}

func (c *Conn) setState(s connState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// State reports the current lifecycle state.
func (c *Conn) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.String()
}

// serve runs the connection to completion. Group membership acquired in
// joinGroups is released in teardown on every exit path, including
// panics in frame handling.
func (c *Conn) serve(ctx context.Context) {
	metrics.ActiveConnections.Inc()
	defer c.teardown()
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("connection handler panicked", zap.Any("panic", r))
		}
	}()

	if err := c.joinGroups(ctx); err != nil {
		c.log.Error("group join failed, closing connection", zap.Error(err))
		c.closeWith(websocket.CloseInternalServerErr, closeReasonJoinFailed)
		return
	}
	c.setState(stateJoined)

	if err := c.writeWire(welcomeMessage{
		Type:      "connection_established",
		Message:   fmt.Sprintf("Connected to project %s", c.projectID),
		User:      c.identity.Username,
		ProjectID: c.projectID,
		Timestamp: serverTime(),
	}); err != nil {
		c.log.Warn("failed to send welcome message", zap.Error(err))
		return
	}
	c.setState(stateServing)
	c.log.Info("connection serving")

	go c.writeLoop()
	c.readLoop(ctx)
}

// joinGroups enters the project group then the user's personal group.
// Either failure unwinds any join already performed so the connection is
// never left partially joined.
func (c *Conn) joinGroups(ctx context.Context) error {
	projectGroup := registry.Project(c.projectID)
	if err := c.reg.Join(ctx, projectGroup, c); err != nil {
		return fmt.Errorf("failed to join %s: %w", projectGroup, err)
	}
	c.joined = append(c.joined, projectGroup)

	userGroup := registry.User(c.identity.ID)
	if err := c.reg.Join(ctx, userGroup, c); err != nil {
		if lerr := c.reg.Leave(ctx, projectGroup, c); lerr != nil {
			c.log.Warn("failed to unwind project join", zap.Error(lerr))
		}
		c.joined = nil
		return fmt.Errorf("failed to join %s: %w", userGroup, err)
	}
	c.joined = append(c.joined, userGroup)
	return nil
}

// readLoop pulls client frames until the transport closes or goes
// silent past the idle timeout. Malformed frames are answered in
// dispatch and never end the loop.
func (c *Conn) readLoop(ctx context.Context) {
	c.sock.SetReadLimit(maxFrameSize)
	for {
		if c.idleTimeout > 0 {
			if err := c.sock.SetReadDeadline(time.Now().Add(c.idleTimeout)); err != nil {
				c.log.Warn("failed to set read deadline", zap.Error(err))
			}
		}
		_, raw, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Info("connection closed", zap.Error(err))
			}
			return
		}
		c.dispatch(ctx, raw)
	}
}

// writeLoop drains registry deliveries into the socket. Suppressed
// events are consumed without a write. It runs on its own goroutine, so
// it recovers and tears down itself; a panic here must release group
// membership the same way a reader panic does.
func (c *Conn) writeLoop() {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("write loop panicked", zap.Any("panic", r))
			c.teardown()
		}
	}()
	for {
		select {
		case <-c.done:
			return
		case env := <-c.send:
			msg, deliver := formatEnvelope(env, c.identity)
			if !deliver {
				continue
			}
			if err := c.writeWire(msg); err != nil {
				c.log.Warn("write failed, closing connection", zap.Error(err))
				if cerr := c.sock.Close(); cerr != nil {
					c.log.Debug("socket close after write failure", zap.Error(cerr))
				}
				return
			}
			metrics.DeliveredEvents.WithLabelValues(string(env.EnvelopeKind)).Inc()
		}
	}
}

// writeWire marshals and writes one message. Socket writes from the
// read loop (pong, error replies) and the write loop share this path,
// serialized by the connection mutex.
func (c *Conn) writeWire(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal wire message: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sock.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.sock.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) closeWith(code int, reason string) {
	deadline := time.Now().Add(writeWait)
	if err := c.sock.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline); err != nil {
		c.log.Debug("failed to write close frame", zap.Error(err))
	}
}

// teardown leaves every joined group, tolerating repeated calls and
// groups that were never joined, then closes the transport.
func (c *Conn) teardown() {
	c.closeOnce.Do(func() {
		c.setState(stateClosing)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, g := range c.joined {
			if err := c.reg.Leave(ctx, g, c); err != nil {
				c.log.Warn("failed to leave group", zap.Stringer("group", g), zap.Error(err))
			}
		}
		close(c.done)
		if err := c.sock.Close(); err != nil {
			c.log.Debug("socket close", zap.Error(err))
		}
		c.setState(stateClosed)
		metrics.ActiveConnections.Dec()
		c.log.Info("connection closed and groups released")
	})
}
