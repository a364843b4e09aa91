package gameserver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/battleship/internal/config"
	"github.com/cory-johannsen/battleship/internal/game/board"
	"github.com/cory-johannsen/battleship/internal/protocol"
	"github.com/cory-johannsen/battleship/internal/random"
	"github.com/cory-johannsen/battleship/internal/session"
)

// fakeChannel records outbound messages and feeds inbound ones from a
// buffered queue.
type fakeChannel struct {
	addr string
	in   chan protocol.Message
	done chan struct{}

	mu     sync.Mutex
	out    []protocol.Message
	closed bool
}

func newFakeChannel(addr string) *fakeChannel {
	return &fakeChannel{
		addr: addr,
		in:   make(chan protocol.Message, 16),
		done: make(chan struct{}),
	}
}

func (f *fakeChannel) Receive(ctx context.Context, deadline time.Time) (protocol.Message, error) {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case m := <-f.in:
		return m, nil
	case <-f.done:
		return protocol.Message{}, session.ErrClosed
	case <-timer.C:
		return protocol.Message{}, session.ErrTimeout
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	}
}

func (f *fakeChannel) Send(m protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return session.ErrClosed
	}
	f.out = append(f.out, m)
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.done)
	}
	return nil
}

func (f *fakeChannel) RemoteAddr() string { return f.addr }

func (f *fakeChannel) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// drain returns and forgets everything sent so far.
func (f *fakeChannel) drain() []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.out
	f.out = nil
	return out
}

func types(msgs []protocol.Message) []protocol.MessageType {
	out := make([]protocol.MessageType, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type
	}
	return out
}

func testConfig() (config.ServerConfig, config.SessionConfig) {
	return config.ServerConfig{Host: "127.0.0.1", Port: 0, MaxClients: 8, MaxRooms: 4},
		config.SessionConfig{
			TimeoutShort:      time.Second,
			TimeoutLong:       5 * time.Second,
			KeepAliveInterval: 100 * time.Millisecond,
			ReaperInterval:    time.Minute,
			WriteTimeout:      time.Second,
			MaxRecordSize:     4096,
		}
}

type serverOption func(*Options)

func withFleet(f board.Fleet) serverOption { return func(o *Options) { o.Fleet = f } }

func withRandom(src random.Source) serverOption { return func(o *Options) { o.Random = src } }

func withMaxRooms(n int) serverOption { return func(o *Options) { o.Server.MaxRooms = n } }

func withMaxClients(n int) serverOption { return func(o *Options) { o.Server.MaxClients = n } }

func withResults(r *Recorder) serverOption { return func(o *Options) { o.Results = r } }

func withSession(cfg config.SessionConfig) serverOption {
	return func(o *Options) { o.Session = cfg }
}

func newTestServer(t *testing.T, opts ...serverOption) *Server {
	t.Helper()
	srvCfg, sessCfg := testConfig()
	o := Options{
		Server:  srvCfg,
		Session: sessCfg,
		Fleet:   board.Fleet{1: 1},
		Random:  random.NewFixedSource(1, 2, 3, 4, 0),
		Version: "test",
		Logger:  zaptest.NewLogger(t),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return NewServer(o)
}

// player drives one connection's state machine synchronously.
type player struct {
	t   *testing.T
	srv *Server
	m   *Machine
	ch  *fakeChannel
}

func connect(t *testing.T, srv *Server, addr string) *player {
	t.Helper()
	ch := newFakeChannel(addr)
	s := session.New(ch, zaptest.NewLogger(t))
	require.NoError(t, srv.admit(s))
	return &player{t: t, srv: srv, m: NewMachine(srv, srv.rules, s), ch: ch}
}

func (p *player) session() *session.Session { return p.m.Session() }

// send dispatches msg as Run would, disconnecting on error.
func (p *player) send(msg protocol.Message) error {
	p.srv.Lock()
	defer p.srv.Unlock()
	err := p.m.Dispatch(msg)
	if err != nil {
		p.srv.Disconnect(p.m.Session())
	}
	return err
}

func (p *player) must(msg protocol.Message) []protocol.Message {
	p.t.Helper()
	require.NoError(p.t, p.send(msg))
	return p.ch.drain()
}

// drop disconnects the player as a transport failure would.
func (p *player) drop() {
	p.srv.Lock()
	defer p.srv.Unlock()
	p.srv.Disconnect(p.m.Session())
}

func named(t *testing.T, srv *Server, nickname string) *player {
	t.Helper()
	p := connect(t, srv, nickname+"-addr")
	p.must(protocol.New(protocol.NicknameSet, nickname))
	return p
}

// pair seats alice and bob in one room and returns them with the code.
func pair(t *testing.T, srv *Server) (*player, *player, string) {
	t.Helper()
	alice := named(t, srv, "alice")
	bob := named(t, srv, "bob")
	created := alice.must(protocol.New(protocol.RoomCreate))
	require.Len(t, created, 1)
	code := created[0].Param(0)
	bob.must(protocol.New(protocol.RoomJoin, code))
	alice.ch.drain()
	return alice, bob, code
}

// startGame readies both boards, each with a single-cell ship at field.
// With the default FixedSource the first draw after the room code picks
// who opens.
func startGame(t *testing.T, srv *Server, aliceShip, bobShip string) (*player, *player, string) {
	t.Helper()
	alice, bob, code := pair(t, srv)
	alice.must(protocol.New(protocol.BoardReady, aliceShip))
	bob.must(protocol.New(protocol.BoardReady, bobShip))
	alice.ch.drain()
	return alice, bob, code
}
