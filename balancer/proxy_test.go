package balancer

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"arcade-server/events"
	"arcade-server/protocol"
	"arcade-server/server"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testBackend struct {
	url   string
	rooms *server.RoomManager
}

func startBackend(t *testing.T) testBackend {
	t.Helper()
	logger := testLogger()
	rooms := server.NewRoomManager(server.ManagerConfig{
		TickInterval:  20 * time.Millisecond,
		IdleGrace:     time.Minute,
		MaxIdle:       time.Hour,
		SweepInterval: time.Hour,
	}, events.NewLogPublisher(logger), logger)
	srv := server.NewInstanceServer(rooms, server.Options{InputRate: 100, InputBurst: 20, JoinTimeout: time.Second}, logger)
	ts := httptest.NewServer(http.HandlerFunc(srv.HandleConnections))
	t.Cleanup(func() {
		srv.Close()
		rooms.Stop()
		ts.Close()
	})
	return testBackend{url: "ws" + strings.TrimPrefix(ts.URL, "http"), rooms: rooms}
}

func startProxy(t *testing.T, pool *Pool, cfg ProxyConfig) string {
	t.Helper()
	logger := testLogger()
	if cfg.InputRate == 0 {
		cfg.InputRate, cfg.InputBurst = 100, 20
	}
	proxy := NewProxy(pool, cfg, events.NewLogPublisher(logger), logger)
	ts := httptest.NewServer(proxy)
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dialProxy(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestProxy_CreateJoinScenario(t *testing.T) {
	b1, b2 := startBackend(t), startBackend(t)
	pool := NewPool(PoolConfig{Capacity: 20, SessionIdleTTL: time.Minute}, nil, testLogger())
	pool.Add(b1.url)
	pool.Add(b2.url)
	url := startProxy(t, pool, ProxyConfig{JoinTimeout: 2 * time.Second, HelloTimeout: 50 * time.Millisecond})

	a := dialProxy(t, url+"?action=create&room=ABC123")
	assert.Equal(t, "ABC123", readJSON(t, a)["room_id"])

	b := dialProxy(t, url+"?action=join&room=ABC123")
	assert.Equal(t, "ABC123", readJSON(t, b)["room_id"])

	var host testBackend
	for _, info := range pool.Snapshot() {
		if n, ok := info.Sessions["ABC123"]; ok {
			assert.Equal(t, 2, n)
			assert.Equal(t, 2, info.Inflight)
			if info.URL == b1.url {
				host = b1
			} else {
				host = b2
			}
		}
	}
	require.NotNil(t, host.rooms, "session mapped to one backend")

	r, ok := host.rooms.Room("ABC123")
	require.True(t, ok)
	assert.Equal(t, 2, r.PlayerCount())
}

func TestProxy_JoinBeforeCreateWaits(t *testing.T) {
	be := startBackend(t)
	pool := NewPool(PoolConfig{Capacity: 20, SessionIdleTTL: time.Minute}, nil, testLogger())
	pool.Add(be.url)
	url := startProxy(t, pool, ProxyConfig{JoinTimeout: 2 * time.Second, HelloTimeout: 50 * time.Millisecond})

	joined := make(chan string, 1)
	go func() {
		conn, _, err := websocket.DefaultDialer.Dial(url+"?action=join&room=race", nil)
		if err != nil {
			joined <- ""
			return
		}
		defer conn.Close()
		conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		var m map[string]any
		if conn.ReadJSON(&m) != nil {
			joined <- ""
			return
		}
		id, _ := m["room_id"].(string)
		joined <- id
	}()

	time.Sleep(50 * time.Millisecond)
	creator := dialProxy(t, url+"?action=create&room=race")
	assert.Equal(t, "race", readJSON(t, creator)["room_id"])
	assert.Equal(t, "race", <-joined)
}

func TestProxy_HelloFrame(t *testing.T) {
	be := startBackend(t)
	pool := NewPool(PoolConfig{Capacity: 20, SessionIdleTTL: time.Minute}, nil, testLogger())
	pool.Add(be.url)
	url := startProxy(t, pool, ProxyConfig{JoinTimeout: time.Second, HelloTimeout: time.Second})

	conn := dialProxy(t, url)
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "hello", "action": "create", "room": "HELLO1"}))
	assert.Equal(t, "HELLO1", readJSON(t, conn)["room_id"])
}

func TestProxy_NoIntentFallsBackToLeastLoaded(t *testing.T) {
	be := startBackend(t)
	pool := NewPool(PoolConfig{Capacity: 20, SessionIdleTTL: time.Minute}, nil, testLogger())
	pool.Add(be.url)
	url := startProxy(t, pool, ProxyConfig{JoinTimeout: time.Second, HelloTimeout: 30 * time.Millisecond})

	conn := dialProxy(t, url)
	frame := readJSON(t, conn)
	assert.Equal(t, protocol.TypeRoomAssignment, frame["type"])
	assert.Len(t, frame["room_id"], 8)
}

func TestProxy_JoinUnknownSession(t *testing.T) {
	be := startBackend(t)
	pool := NewPool(PoolConfig{Capacity: 20, SessionIdleTTL: time.Minute}, nil, testLogger())
	pool.Add(be.url)
	url := startProxy(t, pool, ProxyConfig{JoinTimeout: 30 * time.Millisecond, HelloTimeout: time.Second})

	conn := dialProxy(t, url+"?action=join&room=nowhere")
	frame := readJSON(t, conn)
	assert.Equal(t, protocol.TypeError, frame["type"])
	assert.Equal(t, protocol.MsgSessionNotFound, frame["message"])
	assert.Zero(t, be.rooms.Stats().TotalRooms, "no duplicate session is created")
}

func TestProxy_Busy(t *testing.T) {
	be := startBackend(t)
	pool := NewPool(PoolConfig{Capacity: 2, SessionIdleTTL: time.Minute}, nil, testLogger())
	pool.Add(be.url)
	url := startProxy(t, pool, ProxyConfig{JoinTimeout: time.Second, HelloTimeout: time.Second})

	first := dialProxy(t, url+"?action=create&room=one")
	assert.Equal(t, "one", readJSON(t, first)["room_id"])

	second := dialProxy(t, url+"?action=create&room=two")
	frame := readJSON(t, second)
	assert.Equal(t, protocol.TypeError, frame["type"])
	assert.Equal(t, protocol.MsgBusy, frame["message"])
}

func TestProxy_DialFailureRecordsBackoff(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadURL := "ws://" + ln.Addr().String()
	ln.Close()

	pool := NewPool(PoolConfig{Capacity: 20, SessionIdleTTL: time.Minute}, nil, testLogger())
	pool.Add(deadURL)
	url := startProxy(t, pool, ProxyConfig{JoinTimeout: time.Second, HelloTimeout: time.Second, DialTimeout: time.Second})

	conn := dialProxy(t, url+"?action=create&room=doomed")
	frame := readJSON(t, conn)
	assert.Equal(t, protocol.TypeError, frame["type"])
	assert.Equal(t, protocol.MsgBackendDown, frame["message"])

	info := pool.Snapshot()[0]
	assert.Equal(t, 1, info.Failures)
	assert.NotNil(t, info.CooldownUntil)
	assert.Zero(t, info.Inflight)
	assert.Empty(t, info.Sessions, "failed create leaves no mapping")
	assert.False(t, info.Available)
}

func TestProxy_ReleasesOnDisconnect(t *testing.T) {
	be := startBackend(t)
	pool := NewPool(PoolConfig{Capacity: 20, SessionIdleTTL: time.Minute}, nil, testLogger())
	pool.Add(be.url)
	url := startProxy(t, pool, ProxyConfig{JoinTimeout: time.Second, HelloTimeout: time.Second})

	conn, _, err := websocket.DefaultDialer.Dial(url+"?action=create&room=brief", nil)
	require.NoError(t, err)
	readJSON(t, conn)
	conn.Close()

	assert.Eventually(t, func() bool {
		info := pool.Snapshot()[0]
		return info.Inflight == 0 && info.Sessions["brief"] == 0
	}, 2*time.Second, 10*time.Millisecond)
}
