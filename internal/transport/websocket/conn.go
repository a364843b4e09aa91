// Package websocket serves the session protocol to browser clients. Each
// text frame carries exactly one record.
package websocket

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	gws "github.com/gorilla/websocket"

	"github.com/cory-johannsen/battleship/internal/protocol"
	"github.com/cory-johannsen/battleship/internal/session"
)

const closeGrace = time.Second

// Conn adapts a WebSocket connection to session.Channel.
type Conn struct {
	ws      *gws.Conn
	catalog protocol.Catalog

	writeMu      sync.Mutex
	writeTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps ws. Frames larger than maxRecord bytes end the connection.
//
// Precondition: ws must be an upgraded, open connection.
func NewConn(ws *gws.Conn, catalog protocol.Catalog, maxRecord int, writeTimeout time.Duration) *Conn {
	if maxRecord <= 0 {
		maxRecord = protocol.DefaultMaxRecordSize
	}
	ws.SetReadLimit(int64(maxRecord))
	return &Conn{ws: ws, catalog: catalog, writeTimeout: writeTimeout}
}

// Receive reads one frame and decodes it as a record. Binary frames are
// treated the same as text frames.
//
// Postcondition: Returns a decoded message, or an error wrapping
// session.ErrTimeout, session.ErrClosed, protocol.ErrProtocol or ctx.Err().
func (c *Conn) Receive(ctx context.Context, deadline time.Time) (protocol.Message, error) {
	if err := ctx.Err(); err != nil {
		return protocol.Message{}, err
	}
	if err := c.ws.SetReadDeadline(deadline); err != nil {
		return protocol.Message{}, fmt.Errorf("%w: %v", session.ErrClosed, err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	_, data, err := c.ws.ReadMessage()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return protocol.Message{}, ctxErr
		}
		var ne net.Error
		switch {
		case errors.Is(err, gws.ErrReadLimit):
			return protocol.Message{}, fmt.Errorf("%w: %v", protocol.ErrProtocol, err)
		case errors.As(err, &ne) && ne.Timeout():
			return protocol.Message{}, fmt.Errorf("%w: nothing received before %s", session.ErrTimeout, deadline.Format(time.RFC3339))
		}
		return protocol.Message{}, fmt.Errorf("%w: %v", session.ErrClosed, err)
	}
	return c.catalog.Decode(data)
}

// Send writes m as one text frame without the record terminator.
func (c *Conn) Send(m protocol.Message) error {
	frame := bytes.TrimSuffix(protocol.Encode(m), []byte{protocol.Terminator})

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.ws.WriteMessage(gws.TextMessage, frame); err != nil {
		if errors.Is(err, gws.ErrCloseSent) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %v", session.ErrClosed, err)
		}
		return err
	}
	return nil
}

// Close sends a normal-closure frame and closes the connection. Repeated
// calls return the result of the first.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		msg := gws.FormatCloseMessage(gws.CloseNormalClosure, "")
		_ = c.ws.WriteControl(gws.CloseMessage, msg, time.Now().Add(closeGrace))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}
