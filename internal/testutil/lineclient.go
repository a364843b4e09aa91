package testutil

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cory-johannsen/battleship/internal/protocol"
)

// LineClient speaks the line protocol to a running server in integration
// tests. KEEP_ALIVE records from the server are skipped by every read.
type LineClient struct {
	conn   net.Conn
	reader *protocol.Reader
	t      *testing.T
}

// NewLineClient dials addr.
//
// Precondition: addr must be a valid "host:port" string with a listening server.
// Postcondition: Returns a connected LineClient or fails the test.
func NewLineClient(t *testing.T, addr string) *LineClient {
	t.Helper()
	start := time.Now()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", addr, err, time.Since(start))
	}
	t.Cleanup(func() {
		conn.Close()
	})

	return &LineClient{
		conn:   conn,
		reader: protocol.NewReader(conn, 0),
		t:      t,
	}
}

// Next returns the next non-heartbeat record from the server.
//
// Postcondition: Returns a decoded message, or fails the test on timeout.
func (c *LineClient) Next(timeout time.Duration) protocol.Message {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		record, err := c.reader.ReadRecord()
		if err != nil {
			c.t.Fatalf("reading record: %v", err)
		}
		msg, err := protocol.DecodeAny(record)
		if err != nil {
			c.t.Fatalf("decoding %q: %v", record, err)
		}
		if msg.Type != protocol.KeepAlive {
			return msg
		}
	}
}

// Expect reads the next non-heartbeat record and fails the test unless it
// has type want.
func (c *LineClient) Expect(want protocol.MessageType, timeout time.Duration) protocol.Message {
	c.t.Helper()
	msg := c.Next(timeout)
	if msg.Type != want {
		c.t.Fatalf("expected %s, got %s", want, msg)
	}
	return msg
}

// ReadUntil skips records until one of type want arrives and returns it.
func (c *LineClient) ReadUntil(want protocol.MessageType, timeout time.Duration) protocol.Message {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.t.Fatalf("no %s within %s", want, timeout)
		}
		if msg := c.Next(remaining); msg.Type == want {
			return msg
		}
	}
}

// Send writes m.
//
// Postcondition: The encoded record is written, or the test fails.
func (c *LineClient) Send(m protocol.Message) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := protocol.WriteMessage(c.conn, m); err != nil {
		c.t.Fatalf("sending %s: %v", m, err)
	}
}

// SendRaw writes text followed by a line feed, without escaping.
func (c *LineClient) SendRaw(text string) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.conn.Write([]byte(text + "\n")); err != nil {
		c.t.Fatalf("sending %q: %v", text, err)
	}
}

// StartKeepAlive sends KEEP_ALIVE every interval from a background
// goroutine until the returned stop function is called. Write errors end
// the goroutine quietly.
func (c *LineClient) StartKeepAlive(interval time.Duration) (stop func()) {
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := protocol.WriteMessage(c.conn, protocol.KeepAliveMsg()); err != nil {
					return
				}
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-exited
		})
	}
}

// Closed reports whether the server has closed the connection within timeout,
// discarding anything still buffered.
func (c *LineClient) Closed(timeout time.Duration) bool {
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		if _, err := c.reader.ReadRecord(); err != nil {
			var ne net.Error
			return !errors.As(err, &ne) || !ne.Timeout()
		}
	}
}

// Close closes the connection without a goodbye, as a dropped client would.
func (c *LineClient) Close() {
	c.conn.Close()
}
