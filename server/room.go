package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"arcade-server/config"
	"arcade-server/game"
	"arcade-server/protocol"
)

var (
	ErrRoomFull        = errors.New("room is full")
	ErrRoomNotFound    = errors.New("room not found")
	ErrAlreadyAssigned = errors.New("connection already assigned to a room")
	ErrNotAssigned     = errors.New("connection not assigned to a room")
	ErrRoomClosed      = errors.New("room closed")
)

// Conn is a room's view of one connected client.
type Conn interface {
	ID() string
	// Offer hands over a snapshot; false means it was skipped because the
	// previous one is still in flight. An error means the client is gone.
	Offer(frame []byte) (bool, error)
	// Send queues a control frame.
	Send(frame []byte) error
	Close() error
}

// RoomInfo is a point-in-time view of a room for stats.
type RoomInfo struct {
	RoomID     string    `json:"room_id"`
	Players    int       `json:"players"`
	MaxPlayers int       `json:"max_players"`
	IsFull     bool      `json:"is_full"`
	IsEmpty    bool      `json:"is_empty"`
	Running    bool      `json:"running"`
	CreatedAt  time.Time `json:"created_at"`
	GameTick   int       `json:"game_tick"`
}

// Room is one isolated game session: a world, its clients and a tick loop
// that runs only while at least one player is connected.
type Room struct {
	ID        string
	CreatedAt time.Time

	mu           sync.Mutex
	world        *game.World
	clients      map[string]Conn
	running      bool
	closed       bool
	cancel       context.CancelFunc
	emptySince   time.Time
	tickInterval time.Duration
	onEvict      func(Conn) // Called without the room lock for clients found gone during broadcast
	wg           sync.WaitGroup
	logger       *slog.Logger
}

// NewRoom creates an idle room with a fresh world.
func NewRoom(id string, tickInterval time.Duration, onEvict func(Conn), logger *slog.Logger) *Room {
	now := time.Now()
	r := &Room{
		ID:           id,
		CreatedAt:    now,
		world:        game.NewWorld(id),
		clients:      make(map[string]Conn),
		emptySince:   now,
		tickInterval: tickInterval,
		onEvict:      onEvict,
		logger:       logger.With("room", id),
	}
	if r.onEvict == nil {
		r.onEvict = func(c Conn) { r.RemovePlayer(c.ID()) }
	}
	return r
}

// AddPlayer seats c in the room and starts the tick loop on the first join.
// A full room is left untouched.
func (r *Room) AddPlayer(c Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRoomClosed
	}
	if len(r.clients) >= config.MaxPlayers {
		return ErrRoomFull
	}
	if _, err := r.world.AddPlayer(c.ID()); err != nil {
		if errors.Is(err, game.ErrWorldFull) {
			return ErrRoomFull
		}
		return err
	}
	r.clients[c.ID()] = c
	r.emptySince = time.Time{}
	r.logger.Info("player joined", "client", c.ID(), "players", len(r.clients))

	if !r.running {
		r.startLocked()
	}
	return nil
}

// RemovePlayer drops a player and stops the tick loop when the room empties.
// It reports whether the room is now empty.
func (r *Room) RemovePlayer(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[id]; ok {
		delete(r.clients, id)
		r.world.RemovePlayer(id)
		r.logger.Info("player left", "client", id, "players", len(r.clients))
	}
	if len(r.clients) > 0 {
		return false
	}
	if r.running {
		r.stopLocked()
	}
	if r.emptySince.IsZero() {
		r.emptySince = time.Now()
	}
	return true
}

// HandleInput applies one decoded input from client id.
func (r *Room) HandleInput(id string, in protocol.Input) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reset, err := r.world.HandleInput(id, in)
	if err != nil {
		return err
	}
	if reset {
		r.logger.Info("room reset", "by", id)
	}
	return nil
}

// PlayerCount returns the number of seated players.
func (r *Room) PlayerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// EmptyFor reports how long the room has had no players, or 0 if occupied.
func (r *Room) EmptyFor(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.clients) > 0 || r.emptySince.IsZero() {
		return 0
	}
	return now.Sub(r.emptySince)
}

// Info returns the stats view of the room.
func (r *Room) Info() RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RoomInfo{
		RoomID:     r.ID,
		Players:    len(r.clients),
		MaxPlayers: config.MaxPlayers,
		IsFull:     len(r.clients) >= config.MaxPlayers,
		IsEmpty:    len(r.clients) == 0,
		Running:    r.running,
		CreatedAt:  r.CreatedAt,
		GameTick:   r.world.Tick,
	}
}

// Close stops the tick loop, disconnects every client and waits for the loop to exit.
func (r *Room) Close() {
	r.mu.Lock()
	r.closed = true
	if r.running {
		r.stopLocked()
	}
	conns := make([]Conn, 0, len(r.clients))
	for id, c := range r.clients {
		conns = append(conns, c)
		r.world.RemovePlayer(id)
	}
	r.clients = make(map[string]Conn)
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	r.wg.Wait()
}

func (r *Room) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.running = true
	r.wg.Add(1)
	go r.run(ctx)
	r.logger.Info("tick loop started")
}

func (r *Room) stopLocked() {
	r.cancel()
	r.cancel = nil
	r.running = false
	r.logger.Info("tick loop stopped")
}

// run ticks at a fixed rate until ctx is cancelled. A tick's update and
// broadcast complete before the next tick starts.
func (r *Room) run(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// tick advances the world and offers the snapshot to every client.
func (r *Room) tick(ctx context.Context) {
	r.mu.Lock()
	if ctx.Err() != nil {
		r.mu.Unlock()
		return // Superseded by a stop that raced this tick
	}
	r.world.Step()
	snap := r.world.Snapshot()
	conns := make([]Conn, 0, len(r.clients))
	for _, c := range r.clients {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	frame := protocol.Encode(snap)
	var gone []Conn
	for _, c := range conns {
		if _, err := c.Offer(frame); err != nil {
			gone = append(gone, c)
		}
	}
	for _, c := range gone {
		r.logger.Info("evicting disconnected client", "client", c.ID())
		r.onEvict(c)
	}
}
