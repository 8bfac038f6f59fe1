package ws

import (
	"errors"
	"sync"
	"time"

	applogger "MTBridge/pkg/logger"

	"github.com/gorilla/websocket"
)

var (
	errConnClosed = errors.New("connection closed")
	errSendFull   = errors.New("send buffer full")
)

// conn adapts a websocket connection to repository.ClientConn. Writes go
// through a bounded queue drained by writePump, so Send never blocks.
type conn struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration

	l *applogger.Logger
}

func newConn(ws *websocket.Conn, opts Options, l *applogger.Logger) *conn {
	return &conn{
		ws:         ws,
		send:       make(chan []byte, opts.SendBuffer),
		done:       make(chan struct{}),
		writeWait:  opts.WriteWait,
		pongWait:   opts.PongWait,
		pingPeriod: (opts.PongWait * 9) / 10,
		l:          l,
	}
}

// Send queues msg for the writer. It fails when the queue is full or the
// connection is gone.
func (c *conn) Send(msg []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return errConnClosed
	default:
		return errSendFull
	}
}

// Close stops the writer, which sends a close frame and closes the socket.
func (c *conn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// readPump feeds inbound text frames to onMessage until the socket fails.
func (c *conn) readPump(maxMessageSize int64, onMessage func([]byte)) {
	defer c.Close()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.l.Debug("websocket read error", applogger.Error(err))
			}
			return
		}
		onMessage(message)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.l.Debug("websocket write error", applogger.Error(err))
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
			c.flush()
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes what is already queued without waiting for more.
func (c *conn) flush() {
	for {
		select {
		case msg := <-c.send:
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}
