package session

import (
	"io"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 << 10
	maxCloseReason = 123
)

// Close codes sent to the client.
const (
	CloseNormal    = websocket.CloseNormalClosure
	CloseGoingAway = websocket.CloseGoingAway
	CloseInternal  = websocket.CloseInternalServerErr
)

// FrameType distinguishes text from binary frames.
type FrameType int

const (
	TextFrame FrameType = iota + 1
	BinaryFrame
)

// Frame is one message on a stream socket.
type Frame struct {
	Type FrameType
	Data []byte
}

// Conn is the client side of a stream session. Receive returns io.EOF once
// the client has closed the socket. Send and Close may be called from
// different goroutines.
type Conn interface {
	Send(f Frame) error
	Receive() (Frame, error)
	Close(code int, reason string) error
}

// WSConn adapts a gorilla websocket to Conn. Writes are serialised and a
// keepalive ping runs until Close.
type WSConn struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewWSConn takes ownership of ws.
func NewWSConn(ws *websocket.Conn) *WSConn {
	c := &WSConn{ws: ws, done: make(chan struct{})}
	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.keepalive()
	return c
}

func (c *WSConn) Send(f Frame) error {
	mt := websocket.TextMessage
	if f.Type == BinaryFrame {
		mt = websocket.BinaryMessage
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(mt, f.Data)
}

func (c *WSConn) Receive() (Frame, error) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return Frame{}, io.EOF
			}
			return Frame{}, err
		}
		switch mt {
		case websocket.TextMessage:
			return Frame{Type: TextFrame, Data: data}, nil
		case websocket.BinaryMessage:
			return Frame{Type: BinaryFrame, Data: data}, nil
		}
	}
}

// Close sends a close frame and closes the connection. Only the first call
// has any effect.
func (c *WSConn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(code, closeReason(reason))
		c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// closeReason trims reason to fit a close frame without splitting a rune.
func closeReason(reason string) string {
	if len(reason) <= maxCloseReason {
		return reason
	}
	i := maxCloseReason
	for i > 0 && !utf8.RuneStart(reason[i]) {
		i--
	}
	return reason[:i]
}

func (c *WSConn) keepalive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
