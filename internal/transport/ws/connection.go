package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Transport is the hub's view of a connected client: something frames can be
// delivered to and that can be closed.
type Transport interface {
	Send(msg []byte) error
	Close(err error)
}

const sendBufferSize = 256

// MessageHandler is invoked for every inbound text frame.
type MessageHandler func(ctx context.Context, msg []byte)

// CloseHandler is invoked exactly once when the connection terminates.
type CloseHandler func(err error)

// Conn wraps a websocket connection with a buffered outbound queue and
// read/write pumps. Send is safe for concurrent use.
type Conn struct {
	sock   *websocket.Conn
	logger *slog.Logger

	onMessage MessageHandler
	onClose   CloseHandler

	send      chan []byte
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        *sync.WaitGroup
}

// NewConn creates a connection bound to the parent context. The WaitGroup
// tracks the connection for graceful shutdown: registration happens here, not
// in Run, so a connection closed before its pumps start is still balanced by
// the single Done in Close.
func NewConn(parent context.Context, wg *sync.WaitGroup, sock *websocket.Conn, logger *slog.Logger, onMessage MessageHandler, onClose CloseHandler) *Conn {
	ctx, cancel := context.WithCancel(parent)
	wg.Add(1)
	return &Conn{
		sock:      sock,
		logger:    logger,
		onMessage: onMessage,
		onClose:   onClose,
		send:      make(chan []byte, sendBufferSize),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		wg:        wg,
	}
}

// Run starts the read and write pumps. Running an already-closed connection
// is harmless: both pumps exit immediately on the cancelled context.
func (c *Conn) Run() {
	go c.readPump()
	go c.writePump()
}

func (c *Conn) readPump() {
	var readErr error
	defer func() {
		c.Close(readErr)
	}()

	for {
		typ, data, err := c.sock.Read(c.ctx)
		if err != nil {
			readErr = err
			return
		}
		if typ != websocket.MessageText && typ != websocket.MessageBinary {
			continue
		}
		c.onMessage(c.ctx, data)
	}
}

func (c *Conn) writePump() {
	for {
		select {
		case msg := <-c.send:
			if err := c.sock.Write(c.ctx, websocket.MessageText, msg); err != nil {
				c.Close(err)
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Send queues a frame for delivery. It fails rather than blocks when the
// client is too slow to keep up or the connection is closed.
func (c *Conn) Send(msg []byte) error {
	select {
	case <-c.ctx.Done():
		return errors.New("connection closed")
	default:
	}

	select {
	case c.send <- msg:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

// Close terminates the connection and fires the close handler exactly once.
func (c *Conn) Close(err error) {
	c.closeOnce.Do(func() {
		c.cancel()
		c.sock.Close(websocket.StatusNormalClosure, "")
		if c.onClose != nil {
			c.onClose(err)
		}
		c.wg.Done()
		close(c.done)
	})
}

// Done is closed when the connection is fully terminated.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}
