package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cory-johannsen/battleship/internal/protocol"
	"github.com/cory-johannsen/battleship/internal/session"
)

// Conn carries line-framed protocol records over a stream connection. It
// implements session.Channel.
type Conn struct {
	raw     net.Conn
	reader  *protocol.Reader
	catalog protocol.Catalog

	writeMu      sync.Mutex
	writeTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps raw. Inbound records are decoded against catalog and bounded
// by maxRecord bytes.
//
// Precondition: raw must be a valid, open connection; catalog must be non-nil.
// Postcondition: Returns a Conn ready for reading and writing.
func NewConn(raw net.Conn, catalog protocol.Catalog, maxRecord int, writeTimeout time.Duration) *Conn {
	return &Conn{
		raw:          raw,
		reader:       protocol.NewReader(raw, maxRecord),
		catalog:      catalog,
		writeTimeout: writeTimeout,
	}
}

// Receive reads and decodes the next record. The read deadline is set to
// deadline; cancelling ctx moves the deadline to now so the blocked read
// returns immediately.
//
// Postcondition: Returns a decoded message, or an error wrapping
// session.ErrTimeout, session.ErrClosed, protocol.ErrProtocol, ctx.Err(),
// or the underlying I/O error.
func (c *Conn) Receive(ctx context.Context, deadline time.Time) (protocol.Message, error) {
	if err := ctx.Err(); err != nil {
		return protocol.Message{}, err
	}
	if err := c.raw.SetReadDeadline(deadline); err != nil {
		return protocol.Message{}, fmt.Errorf("%w: %v", session.ErrClosed, err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.raw.SetReadDeadline(time.Now())
	})
	defer stop()

	msg, err := c.reader.ReadMessage(c.catalog)
	if err == nil {
		return msg, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return protocol.Message{}, ctxErr
	}
	var ne net.Error
	switch {
	case errors.As(err, &ne) && ne.Timeout():
		return protocol.Message{}, fmt.Errorf("%w: nothing received before %s", session.ErrTimeout, deadline.Format(time.RFC3339))
	case isClosed(err):
		return protocol.Message{}, fmt.Errorf("%w: %v", session.ErrClosed, err)
	}
	return protocol.Message{}, err
}

// Send encodes m and writes it within the write timeout. Safe for
// concurrent use.
func (c *Conn) Send(m protocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := protocol.WriteMessage(c.raw, m); err != nil {
		if isClosed(err) {
			return fmt.Errorf("%w: %v", session.ErrClosed, err)
		}
		return err
	}
	return nil
}

// Close closes the underlying connection. Repeated calls return the result
// of the first.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.raw.Close()
	})
	return c.closeErr
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.EOF)
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	return c.raw.RemoteAddr().String()
}
