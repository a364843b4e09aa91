package gameserver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/battleship/internal/protocol"
	"github.com/cory-johannsen/battleship/internal/session"
)

func TestHandleSession_ClientLimit(t *testing.T) {
	srv := newTestServer(t, withMaxClients(1))
	connect(t, srv, "first")

	ch := newFakeChannel("second")
	err := srv.HandleSession(context.Background(), ch)
	assert.ErrorIs(t, err, ErrClientLimit)

	out := ch.drain()
	require.Equal(t, []protocol.MessageType{protocol.Welcome, protocol.LimitClients, protocol.ConnTerm}, types(out))
	assert.Equal(t, "1", out[1].Param(0))
	assert.Len(t, out[0].Params, 4)
}

func TestHandleSession_RunsUntilChannelCloses(t *testing.T) {
	srv := newTestServer(t)
	ch := newFakeChannel("peer")
	ch.in <- protocol.New(protocol.NicknameSet, "alice")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.HandleSession(context.Background(), ch) }()

	require.Eventually(t, func() bool {
		srv.Lock()
		defer srv.Unlock()
		return srv.NicknameConnected("alice")
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, ch.Close())
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, session.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("HandleSession did not return")
	}
	assert.Equal(t, Stats{}, srv.Stats())
}

func TestHandleSession_TimeoutKeepsSeatedSession(t *testing.T) {
	_, sessCfg := testConfig()
	sessCfg.TimeoutShort = 100 * time.Millisecond
	srv := newTestServer(t, withSession(sessCfg))

	ch := newFakeChannel("peer")
	ch.in <- protocol.New(protocol.NicknameSet, "alice")
	ch.in <- protocol.New(protocol.RoomCreate)

	err := srv.HandleSession(context.Background(), ch)
	assert.ErrorIs(t, err, session.ErrTimeout)

	stats := srv.Stats()
	assert.Equal(t, 0, stats.Connected)
	assert.Equal(t, 1, stats.Disconnected)
	assert.Equal(t, 1, stats.Rooms)
	assert.True(t, ch.isClosed())
}

func TestHandleSession_KeepAliveExtendsIdleBudget(t *testing.T) {
	_, sessCfg := testConfig()
	sessCfg.TimeoutShort = 150 * time.Millisecond
	srv := newTestServer(t, withSession(sessCfg))

	ch := newFakeChannel("peer")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- srv.HandleSession(ctx, ch) }()

	for i := 0; i < 8; i++ {
		ch.in <- protocol.KeepAliveMsg()
		time.Sleep(50 * time.Millisecond)
	}
	assert.Equal(t, 1, srv.Stats().Connected)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("HandleSession ignored cancellation")
	}
}

func TestDisconnect_LobbySessionDropped(t *testing.T) {
	srv := newTestServer(t)
	alice := named(t, srv, "alice")
	alice.drop()

	assert.Equal(t, []protocol.MessageType{protocol.ConnTerm}, types(alice.ch.drain()))
	assert.True(t, alice.ch.isClosed())
	assert.Equal(t, Stats{}, srv.Stats())
}

func TestDisconnect_SeatedSessionRetained(t *testing.T) {
	srv := newTestServer(t)
	alice, bob, _ := pair(t, srv)
	bob.drop()

	out := alice.ch.drain()
	require.Equal(t, []protocol.MessageType{protocol.OpponentNoResponse}, types(out))
	assert.Equal(t, "SHORT", out[0].Param(0))
	assert.Empty(t, bob.ch.drain(), "a retained session gets no CONN_TERM")

	stats := srv.Stats()
	assert.Equal(t, 1, stats.Connected)
	assert.Equal(t, 1, stats.Disconnected)

	// the nickname stays reserved
	srv.Lock()
	assert.NotNil(t, srv.FindDisconnected("bob"))
	srv.Unlock()

	// a second Disconnect is a no-op
	bob.drop()
	assert.Empty(t, alice.ch.drain())
}

func TestReconnect_InRoom(t *testing.T) {
	srv := newTestServer(t)
	alice, bob, code := pair(t, srv)
	retained := bob.session()
	bob.drop()
	alice.ch.drain()

	back := connect(t, srv, "bob-again")
	out := back.must(protocol.New(protocol.NicknameSet, "bob"))
	require.Equal(t, []protocol.MessageType{protocol.Rejoin, protocol.OpponentNicknameSet}, types(out))
	assert.Equal(t, []string{"ROOM", code}, out[0].Params)
	assert.Equal(t, "alice", out[1].Param(0))
	assert.Equal(t, []protocol.MessageType{protocol.OpponentRejoin}, types(alice.ch.drain()))

	assert.Same(t, retained, back.session())
	assert.Equal(t, session.InRoom, back.session().State())
	stats := srv.Stats()
	assert.Equal(t, 2, stats.Connected)
	assert.Equal(t, 0, stats.Disconnected)

	// the reclaimed session keeps playing over the new channel
	out = back.must(protocol.New(protocol.BoardReady, "00"))
	assert.Equal(t, []protocol.MessageType{protocol.Ack}, types(out))
}

func TestReconnect_InGame(t *testing.T) {
	srv := newTestServer(t)
	alice, bob, code := startGame(t, srv, "00", "99")
	alice.must(protocol.New(protocol.Turn, "55"))
	bob.drop()
	alice.ch.drain()

	back := connect(t, srv, "bob-again")
	out := back.must(protocol.New(protocol.NicknameSet, "bob"))
	require.Equal(t, []protocol.MessageType{
		protocol.Rejoin,
		protocol.BoardState,
		protocol.OpponentNicknameSet,
		protocol.OpponentBoardReady,
		protocol.BoardState,
		protocol.TurnSet,
	}, types(out))
	assert.Equal(t, []string{"GAME", code}, out[0].Params)

	own := out[1].Params
	require.Len(t, own, 101)
	assert.Equal(t, "YOU", own[0])
	assert.Equal(t, "MISS", own[1+55])
	assert.Equal(t, "SHIP", own[1+99])

	theirs := out[4].Params
	assert.Equal(t, "OPPONENT", theirs[0])
	assert.Equal(t, "NONE", theirs[1+0], "unhit opponent ships stay hidden")
	assert.Equal(t, "YOU", out[5].Param(0))

	aliceOut := alice.ch.drain()
	require.Equal(t, []protocol.MessageType{protocol.OpponentRejoin, protocol.BoardState, protocol.TurnSet}, types(aliceOut))
	assert.Equal(t, "OPPONENT", aliceOut[2].Param(0))

	out = back.must(protocol.New(protocol.Turn, "11"))
	assert.Equal(t, []string{"11", "MISS"}, out[0].Params)
}

func TestReconnect_OpponentAlsoAway(t *testing.T) {
	srv := newTestServer(t)
	alice, bob, _ := pair(t, srv)
	alice.drop()
	bob.drop()

	back := connect(t, srv, "bob-again")
	out := back.must(protocol.New(protocol.NicknameSet, "bob"))
	require.Equal(t, []protocol.MessageType{protocol.Rejoin, protocol.OpponentNicknameSet, protocol.OpponentNoResponse}, types(out))
	assert.Equal(t, "SHORT", out[2].Param(0))
}

func TestReap(t *testing.T) {
	_, sessCfg := testConfig()

	t.Run("empty pool sleeps the reaper interval", func(t *testing.T) {
		srv := newTestServer(t)
		srv.Lock()
		defer srv.Unlock()
		assert.Equal(t, sessCfg.ReaperInterval, srv.reap(time.Now()))
	})

	t.Run("not yet expired", func(t *testing.T) {
		srv := newTestServer(t)
		_, bob, _ := pair(t, srv)
		bob.drop()
		now := time.Now()
		bob.session().Touch(now.Add(-2 * time.Second))

		srv.Lock()
		wait := srv.reap(now)
		srv.Unlock()
		assert.Equal(t, sessCfg.TimeoutLong-2*time.Second, wait)
		assert.Equal(t, 1, srv.Stats().Disconnected)
	})

	t.Run("expired with connected opponent", func(t *testing.T) {
		srv := newTestServer(t)
		alice, bob, _ := startGame(t, srv, "00", "99")
		bob.drop()
		alice.ch.drain()
		now := time.Now()
		bob.session().Touch(now.Add(-sessCfg.TimeoutLong))

		srv.Lock()
		wait := srv.reap(now)
		srv.Unlock()

		assert.Equal(t, sessCfg.ReaperInterval, wait)
		out := alice.ch.drain()
		require.Equal(t, []protocol.MessageType{protocol.OpponentNoResponse}, types(out))
		assert.Equal(t, "LONG", out[0].Param(0))
		assert.Equal(t, session.InLobby, alice.session().State())
		assert.Equal(t, Stats{Connected: 1, GamesStarted: 1}, srv.Stats())

		// bob's nickname is free once reaped
		out = connect(t, srv, "x").must(protocol.New(protocol.NicknameSet, "bob"))
		assert.Equal(t, []protocol.MessageType{protocol.Ack}, types(out))
	})

	t.Run("expired with disconnected opponent", func(t *testing.T) {
		srv := newTestServer(t)
		alice, bob, _ := pair(t, srv)
		alice.drop()
		bob.drop()
		now := time.Now()
		bob.session().Touch(now.Add(-time.Hour))
		alice.session().Touch(now)

		srv.Lock()
		srv.reap(now)
		srv.Unlock()
		assert.Equal(t, Stats{}, srv.Stats())
	})
}

func TestRunReaper_WakesOnDisconnect(t *testing.T) {
	_, sessCfg := testConfig()
	sessCfg.TimeoutLong = 100 * time.Millisecond
	srv := newTestServer(t, withSession(sessCfg))
	alice, bob, _ := pair(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.RunReaper(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	bob.drop()
	require.Eventually(t, func() bool {
		return srv.Stats().Disconnected == 0
	}, 2*time.Second, 10*time.Millisecond)

	out := alice.ch.drain()
	require.Equal(t, []protocol.MessageType{protocol.OpponentNoResponse, protocol.OpponentNoResponse}, types(out))
	assert.Equal(t, "SHORT", out[0].Param(0))
	assert.Equal(t, "LONG", out[1].Param(0))
}

func TestRunKeepAlive(t *testing.T) {
	srv := newTestServer(t)
	alice := named(t, srv, "alice")
	bob := named(t, srv, "bob")
	bob.ch.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.RunKeepAlive(ctx, 10*time.Millisecond)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool {
		for _, m := range alice.ch.drain() {
			if m.Type == protocol.KeepAlive {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	// a failed heartbeat does not disconnect
	assert.Equal(t, 2, srv.Stats().Connected)
}
