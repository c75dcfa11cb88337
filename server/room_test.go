package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"arcade-server/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn records what a room sends it.
type fakeConn struct {
	id string

	mu     sync.Mutex
	offers [][]byte
	sent   [][]byte
	closed bool
	gone   bool // Offer fails as if the socket died
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Offer(frame []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone || f.closed {
		return false, ErrConnClosed
	}
	f.offers = append(f.offers, frame)
	return true, nil
}

func (f *fakeConn) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrConnClosed
	}
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) offerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.offers)
}

func (f *fakeConn) lastOffer() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.offers) == 0 {
		return nil
	}
	return f.offers[len(f.offers)-1]
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestRoom_CapacityHasNoSideEffects(t *testing.T) {
	r := NewRoom("cap", time.Hour, nil, testLogger())
	defer r.Close()

	require.NoError(t, r.AddPlayer(newFakeConn("a")))
	require.NoError(t, r.AddPlayer(newFakeConn("b")))

	err := r.AddPlayer(newFakeConn("c"))
	assert.ErrorIs(t, err, ErrRoomFull)
	assert.Equal(t, 2, r.PlayerCount())
	assert.Len(t, r.world.Players, 2)
}

func TestRoom_RunsOnlyWhileOccupied(t *testing.T) {
	r := NewRoom("life", time.Hour, nil, testLogger())
	defer r.Close()
	assert.False(t, r.Info().Running)

	require.NoError(t, r.AddPlayer(newFakeConn("a")))
	assert.True(t, r.Info().Running)
	assert.Zero(t, r.EmptyFor(time.Now()))

	assert.True(t, r.RemovePlayer("a"))
	info := r.Info()
	assert.False(t, info.Running)
	assert.True(t, info.IsEmpty)
	assert.Greater(t, r.EmptyFor(time.Now().Add(time.Second)), time.Duration(0))
}

func TestRoom_TickBroadcastsSnapshot(t *testing.T) {
	r := NewRoom("snap", time.Hour, nil, testLogger())
	defer r.Close()

	a, b := newFakeConn("a"), newFakeConn("b")
	require.NoError(t, r.AddPlayer(a))
	require.NoError(t, r.AddPlayer(b))

	r.tick(context.Background())

	require.Equal(t, 1, a.offerCount())
	require.Equal(t, 1, b.offerCount())
	assert.Equal(t, a.lastOffer(), b.lastOffer(), "every client gets the same snapshot")

	var snap protocol.Snapshot
	require.NoError(t, json.Unmarshal(a.lastOffer(), &snap))
	assert.Equal(t, "snap", snap.RoomID)
	assert.Len(t, snap.Players, 2)
	assert.Len(t, snap.Ghosts, 4)
	assert.Equal(t, 1, snap.GameStats.GameTick)
	assert.Equal(t, 2, snap.GameStats.MaxPlayers)
}

func TestRoom_TickEvictsDisconnectedClients(t *testing.T) {
	var evicted []string
	r := NewRoom("evict", time.Hour, nil, testLogger())
	r.onEvict = func(c Conn) {
		evicted = append(evicted, c.ID())
		r.RemovePlayer(c.ID())
	}
	defer r.Close()

	live, dead := newFakeConn("live"), newFakeConn("dead")
	require.NoError(t, r.AddPlayer(live))
	require.NoError(t, r.AddPlayer(dead))
	dead.gone = true

	r.tick(context.Background())

	assert.Equal(t, []string{"dead"}, evicted)
	assert.Equal(t, 1, r.PlayerCount())
	assert.Equal(t, 1, live.offerCount())
}

func TestRoom_CancelledTickIsSkipped(t *testing.T) {
	r := NewRoom("cancel", time.Hour, nil, testLogger())
	defer r.Close()
	a := newFakeConn("a")
	require.NoError(t, r.AddPlayer(a))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.tick(ctx)

	assert.Zero(t, a.offerCount())
	assert.Zero(t, r.Info().GameTick)
}

func TestRoom_LoopTicks(t *testing.T) {
	r := NewRoom("loop", 5*time.Millisecond, nil, testLogger())
	a := newFakeConn("a")
	require.NoError(t, r.AddPlayer(a))

	assert.Eventually(t, func() bool { return a.offerCount() >= 3 }, time.Second, 5*time.Millisecond)

	r.Close()
	assert.True(t, a.isClosed())
	assert.ErrorIs(t, r.AddPlayer(newFakeConn("late")), ErrRoomClosed)
}

func TestRoom_HandleInput(t *testing.T) {
	r := NewRoom("input", time.Hour, nil, testLogger())
	defer r.Close()
	require.NoError(t, r.AddPlayer(newFakeConn("a")))

	assert.NoError(t, r.HandleInput("a", protocol.Input{Key: protocol.KeyRight, Action: protocol.ActionPress}))
	assert.Error(t, r.HandleInput("nobody", protocol.Input{Key: protocol.KeyRight, Action: protocol.ActionPress}))
}

func TestWebSocketClient_CoalescesSnapshots(t *testing.T) {
	c := NewWebSocketClient(nil, "c", nil, testLogger())

	ok, err := c.Offer([]byte("early"))
	require.NoError(t, err)
	assert.False(t, ok, "snapshots wait for the room assignment")

	c.MarkReady()
	ok, err = c.Offer([]byte("one"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Offer([]byte("two"))
	require.NoError(t, err)
	assert.False(t, ok, "second snapshot is skipped while the first is in flight")
	assert.Equal(t, []byte("one"), <-c.snapshot)

	c.inFlight.Store(false) // What the writer does after a write
	ok, err = c.Offer([]byte("three"))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Close())
	_, err = c.Offer([]byte("four"))
	assert.ErrorIs(t, err, ErrConnClosed)
	assert.ErrorIs(t, c.Send([]byte("x")), ErrConnClosed)
}

func TestWebSocketClient_ControlBufferBounded(t *testing.T) {
	c := NewWebSocketClient(nil, "c", nil, testLogger())
	for i := 0; i < controlBuffer; i++ {
		require.NoError(t, c.Send([]byte("x")))
	}
	assert.ErrorIs(t, c.Send([]byte("x")), ErrControlFull)
}
