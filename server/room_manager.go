package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"arcade-server/config"
	"arcade-server/events"
	"arcade-server/protocol"

	"github.com/google/uuid"
)

// ManagerConfig holds room lifecycle timings.
type ManagerConfig struct {
	TickInterval  time.Duration
	IdleGrace     time.Duration // Empty rooms are removed after this unless refilled
	MaxIdle       time.Duration // Sweep ceiling for rooms that stayed empty
	SweepInterval time.Duration
}

// DefaultManagerConfig returns production timings.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		TickInterval:  config.TICK_INTERVAL,
		IdleGrace:     config.RoomIdleGrace,
		MaxIdle:       config.RoomMaxIdle,
		SweepInterval: config.RoomSweepInterval,
	}
}

// Stats summarises every room.
type Stats struct {
	TotalRooms   int        `json:"total_rooms"`
	ActiveRooms  int        `json:"active_rooms"`
	TotalPlayers int        `json:"total_players"`
	Rooms        []RoomInfo `json:"rooms"`
}

// RoomManager creates, finds and removes rooms and tracks which room each
// connection is in. Lock order is manager then room; rooms never call back
// into the manager while holding their own lock.
type RoomManager struct {
	cfg       ManagerConfig
	publisher events.Publisher
	logger    *slog.Logger

	mu       sync.RWMutex
	rooms    map[string]*Room
	order    []string                   // Creation order, scanned by Assign
	connRoom map[string]string          // Connection id -> room id
	reapers  map[string]*time.Timer     // Pending idle removals by room id
	waiters  map[string][]chan struct{} // Join callers waiting for a room to exist

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRoomManager creates an empty registry. Call Start to run the sweep.
func NewRoomManager(cfg ManagerConfig, publisher events.Publisher, logger *slog.Logger) *RoomManager {
	return &RoomManager{
		cfg:       cfg,
		publisher: publisher,
		logger:    logger,
		rooms:     make(map[string]*Room),
		connRoom:  make(map[string]string),
		reapers:   make(map[string]*time.Timer),
		waiters:   make(map[string][]chan struct{}),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the periodic sweep.
func (m *RoomManager) Start() {
	m.wg.Add(1)
	go m.sweepLoop()
}

// Stop halts the sweep and closes every room.
func (m *RoomManager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()

		m.mu.Lock()
		rooms := make([]*Room, 0, len(m.rooms))
		for id, r := range m.rooms {
			rooms = append(rooms, r)
			m.cancelReaperLocked(id)
		}
		m.rooms = make(map[string]*Room)
		m.order = nil
		m.connRoom = make(map[string]string)
		m.mu.Unlock()

		for _, r := range rooms {
			r.Close()
		}
		m.logger.Info("all rooms closed", "count", len(rooms))
	})
}

// Assign seats c in the first room with a free seat, creating one if none has.
func (m *RoomManager) Assign(c Conn) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.connRoom[c.ID()]; ok {
		return "", ErrAlreadyAssigned
	}

	for _, id := range m.order {
		r := m.rooms[id]
		if err := r.AddPlayer(c); err == nil {
			m.seatedLocked(c, r)
			return id, nil
		}
	}

	id := m.freshIDLocked()
	r := m.createLocked(id)
	if err := r.AddPlayer(c); err != nil {
		return "", fmt.Errorf("seat in new room %s: %w", id, err)
	}
	m.seatedLocked(c, r)
	return id, nil
}

// AssignTo seats c in the room named token. A missing room is created only
// when create is set. Failures leave every room unchanged.
func (m *RoomManager) AssignTo(c Conn, token string, create bool) (string, error) {
	if !protocol.ValidToken(token) {
		return "", protocol.ErrInvalidToken
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.connRoom[c.ID()]; ok {
		return "", ErrAlreadyAssigned
	}

	r, ok := m.rooms[token]
	if !ok {
		if !create {
			return "", ErrRoomNotFound
		}
		r = m.createLocked(token)
	}
	if err := r.AddPlayer(c); err != nil {
		return "", err
	}
	m.seatedLocked(c, r)
	return token, nil
}

// Release removes c from its room and schedules the room for removal if it
// is now empty. Unknown connections are ignored.
func (m *RoomManager) Release(c Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.connRoom[c.ID()]
	if !ok {
		return
	}
	delete(m.connRoom, c.ID())

	r, ok := m.rooms[id]
	if !ok {
		return
	}
	if r.RemovePlayer(c.ID()) {
		m.scheduleReapLocked(id, r)
	}
}

// RouteInput decodes a raw client frame and applies it to the sender's room.
// Malformed frames return an error and change nothing.
func (m *RoomManager) RouteInput(c Conn, raw []byte) error {
	in, err := protocol.DecodeInput(raw)
	if err != nil {
		return err
	}

	m.mu.RLock()
	r, ok := m.rooms[m.connRoom[c.ID()]]
	m.mu.RUnlock()
	if !ok {
		return ErrNotAssigned
	}
	return r.HandleInput(c.ID(), in)
}

// RoomOf returns the room id c is seated in.
func (m *RoomManager) RoomOf(c Conn) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.connRoom[c.ID()]
	return id, ok
}

// Room looks up a room by id.
func (m *RoomManager) Room(id string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	return r, ok
}

// WaitForRoom blocks until a room named id exists or ctx ends.
func (m *RoomManager) WaitForRoom(ctx context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.rooms[id]; ok {
		m.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	m.waiters[id] = append(m.waiters[id], ch)
	m.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		m.mu.Lock()
		m.dropWaiterLocked(id, ch)
		m.mu.Unlock()
		return ctx.Err()
	}
}

// Stats returns counts and per-room details.
func (m *RoomManager) Stats() Stats {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.order))
	for _, id := range m.order {
		rooms = append(rooms, m.rooms[id])
	}
	m.mu.RUnlock()

	st := Stats{TotalRooms: len(rooms), Rooms: make([]RoomInfo, 0, len(rooms))}
	for _, r := range rooms {
		info := r.Info()
		st.Rooms = append(st.Rooms, info)
		st.TotalPlayers += info.Players
		if info.Running {
			st.ActiveRooms++
		}
	}
	return st
}

func (m *RoomManager) createLocked(id string) *Room {
	r := NewRoom(id, m.cfg.TickInterval, m.Release, m.logger)
	m.rooms[id] = r
	m.order = append(m.order, id)
	for _, ch := range m.waiters[id] {
		close(ch)
	}
	delete(m.waiters, id)

	m.logger.Info("room created", "room", id, "total_rooms", len(m.rooms))
	m.publisher.Publish(events.SubjectRoomCreated, map[string]string{"room": id})
	return r
}

func (m *RoomManager) seatedLocked(c Conn, r *Room) {
	m.connRoom[c.ID()] = r.ID
	m.cancelReaperLocked(r.ID)
}

func (m *RoomManager) freshIDLocked() string {
	for {
		id := uuid.NewString()[:8]
		if _, taken := m.rooms[id]; !taken {
			return id
		}
	}
}

func (m *RoomManager) scheduleReapLocked(id string, r *Room) {
	m.cancelReaperLocked(id)
	m.reapers[id] = time.AfterFunc(m.cfg.IdleGrace, func() {
		m.reap(id, r, "idle grace elapsed")
	})
}

func (m *RoomManager) cancelReaperLocked(id string) {
	if t, ok := m.reapers[id]; ok {
		t.Stop()
		delete(m.reapers, id)
	}
}

// reap removes room r if it is still registered under id and still empty.
func (m *RoomManager) reap(id string, r *Room, reason string) {
	m.mu.Lock()
	if cur, ok := m.rooms[id]; !ok || cur != r || r.PlayerCount() > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.rooms, id)
	delete(m.reapers, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	remaining := len(m.rooms)
	m.mu.Unlock()

	r.Close()
	m.logger.Info("room removed", "room", id, "reason", reason, "total_rooms", remaining)
	m.publisher.Publish(events.SubjectRoomClosed, map[string]string{"room": id, "reason": reason})
}

// sweepLoop reclaims rooms that stayed empty past MaxIdle, in case a timer was missed.
func (m *RoomManager) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case now := <-ticker.C:
			m.sweep(now)
		}
	}
}

func (m *RoomManager) sweep(now time.Time) {
	m.mu.RLock()
	var stale []*Room
	for _, r := range m.rooms {
		if r.EmptyFor(now) > m.cfg.MaxIdle {
			stale = append(stale, r)
		}
	}
	m.mu.RUnlock()

	for _, r := range stale {
		m.reap(r.ID, r, "max idle exceeded")
	}
}

func (m *RoomManager) dropWaiterLocked(id string, ch chan struct{}) {
	list := m.waiters[id]
	for i, w := range list {
		if w == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(m.waiters, id)
	} else {
		m.waiters[id] = list
	}
}
