package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/topicrelay/internal/platform/correlation"
)

// Socket deadlines use wall time; the injected clock only schedules sweeps
// and stamps messages.
const (
	writeDeadline  = 5 * time.Second
	closeDeadline  = time.Second
	maxMessageSize = 64 << 10
)

// Socket is the part of *websocket.Conn the manager needs.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	SetCloseHandler(h func(code int, text string) error)
	Close() error
}

var _ Socket = (*websocket.Conn)(nil)

// Connection is the per-node record of one live socket. The handle never
// leaves this process; only its id is written to the topic index.
type Connection struct {
	id         string
	remoteAddr string
	socket     Socket
	ctx        context.Context
	openedAt   time.Time

	state atomic.Int32
	alive atomic.Bool

	send       chan []byte
	ping       chan struct{}
	done       chan struct{}
	writerDone chan struct{}
	stopOnce   sync.Once
	closed     chan struct{}

	onWriteError func(*Connection, error)
}

func newConnection(parent context.Context, id, remoteAddr string, socket Socket, clock clockwork.Clock, bufferSize int, onWriteError func(*Connection, error)) *Connection {
	c := &Connection{
		id:           id,
		remoteAddr:   remoteAddr,
		socket:       socket,
		ctx:          correlation.WithConnID(context.WithoutCancel(parent), id),
		openedAt:     clock.Now(),
		send:         make(chan []byte, bufferSize),
		ping:         make(chan struct{}, 1),
		done:         make(chan struct{}),
		writerDone:   make(chan struct{}),
		closed:       make(chan struct{}),
		onWriteError: onWriteError,
	}
	c.alive.Store(true)

	socket.SetReadLimit(maxMessageSize)
	socket.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})
	// The close handshake reply is written when the connection enters Closing.
	socket.SetCloseHandler(func(int, string) error { return nil })

	go c.writeLoop()
	return c
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) RemoteAddr() string { return c.remoteAddr }

func (c *Connection) State() State { return State(c.state.Load()) }

func (c *Connection) setState(s State) { c.state.Store(int32(s)) }

// Alive reports whether a pong (or the accept) was seen since the last sweep.
func (c *Connection) Alive() bool { return c.alive.Load() }

// enqueue hands a text frame to the writer. It never blocks: false means the
// buffer is full and the caller must treat the peer as a slow consumer.
func (c *Connection) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Connection) requestPing() {
	select {
	case c.ping <- struct{}{}:
	default:
	}
}

// writeLoop is the only goroutine that writes data frames to the socket.
func (c *Connection) writeLoop() {
	defer close(c.writerDone)

	for {
		select {
		case msg := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.socket.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.onWriteError(c, err)
				return
			}
		case <-c.ping:
			if err := c.socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				c.onWriteError(c, err)
				return
			}
		case <-c.done:
			return
		}
	}
}

// writeClose sends a close frame. WriteControl is safe alongside the writer.
func (c *Connection) writeClose(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	return c.socket.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeDeadline))
}

// shutdown stops the writer and closes the socket.
func (c *Connection) shutdown() {
	c.stopOnce.Do(func() {
		close(c.done)
		_ = c.socket.Close()
		close(c.closed)
	})
}
