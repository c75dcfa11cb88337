package game

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"arcade-server/config"
	"arcade-server/protocol"
)

// World is the authoritative simulation state of one room. It is not safe
// for concurrent use; the owning room serializes access.
type World struct {
	ID      string
	Seed    int64
	Grid    *Grid
	Players map[string]*Player
	Ghosts  []*Ghost
	Tick    int
	Mode    Mode

	modeTimer int
	rng       *rand.Rand
}

// NewWorld builds the initial state for room id.
func NewWorld(id string) *World {
	w := &World{
		ID:      id,
		Seed:    SeedFromID(id),
		Players: make(map[string]*Player),
	}
	w.Reset()
	return w
}

// Reset regenerates the maze from the seed, returns ghosts home, respawns
// every player and zeroes the tick counter.
func (w *World) Reset() {
	w.Grid = GenerateMaze(w.Seed)
	w.rng = rand.New(rand.NewSource(w.Seed + 1))
	w.Ghosts = w.Ghosts[:0]
	for _, profile := range roster {
		w.Ghosts = append(w.Ghosts, newGhost(profile, w.Grid))
	}
	for _, p := range w.Players {
		p.respawn()
	}
	w.Tick = 0
	w.Mode = Scatter
	w.modeTimer = 0
}

// AddPlayer places a new player on the first free spawn slot.
func (w *World) AddPlayer(id string) (*Player, error) {
	if _, ok := w.Players[id]; ok {
		return nil, ErrPlayerExists
	}
	if len(w.Players) >= config.MaxPlayers {
		return nil, ErrWorldFull
	}

	taken := make(map[int]bool, len(w.Players))
	for _, p := range w.Players {
		taken[p.Slot] = true
	}
	slot := 0
	for taken[slot] {
		slot++
	}

	p := &Player{ID: id, Name: fmt.Sprintf("Player%d", slot), Slot: slot}
	p.respawn()
	w.Players[id] = p
	return p, nil
}

// RemovePlayer drops a player; unknown ids are ignored.
func (w *World) RemovePlayer(id string) {
	delete(w.Players, id)
}

// HandleInput applies one input message from player id. It reports whether
// the input triggered a full reset.
func (w *World) HandleInput(id string, in protocol.Input) (bool, error) {
	p, ok := w.Players[id]
	if !ok {
		return false, ErrPlayerUnknown
	}

	if in.Key == protocol.KeyRestart {
		if in.Action == protocol.ActionPress && (p.Dead || w.Victory()) {
			w.Reset()
			return true, nil
		}
		return false, nil
	}

	d := keyDirection(in.Key)
	p.held[d] = in.Action == protocol.ActionPress
	return false, nil
}

// Step advances the simulation by one tick: players, ghosts, then collisions.
func (w *World) Step() {
	w.Tick++
	for _, id := range w.playerOrder() {
		if p := w.Players[id]; !p.Dead {
			w.movePlayer(p)
		}
	}
	w.updateGhosts()
	w.checkCollisions()
}

// checkCollisions resolves player/ghost contact and counts down power.
func (w *World) checkCollisions() {
	for _, id := range w.playerOrder() {
		p := w.Players[id]
		if p.Dead {
			continue
		}
		for _, g := range w.Ghosts {
			if math.Hypot(p.X-g.X, p.Y-g.Y) >= config.CollisionRadius {
				continue
			}
			if p.Power > 0 {
				p.Score += config.CaptureBonus
				g.sendHome()
				continue
			}
			p.Dead = true
			break
		}
	}
	for _, p := range w.Players {
		if p.Power > 0 {
			p.Power--
		}
	}
}

// PelletsRemaining counts uncollected pickups of both kinds.
func (w *World) PelletsRemaining() int {
	return w.Grid.Count(Pellet) + w.Grid.Count(PowerPellet)
}

// Victory reports that no pickups remain.
func (w *World) Victory() bool {
	return w.PelletsRemaining() == 0
}

// Snapshot renders the broadcast state.
func (w *World) Snapshot() protocol.Snapshot {
	mode := w.Mode
	if w.anyEmpowered() {
		mode = Frightened
	}

	snap := protocol.Snapshot{
		RoomID:  w.ID,
		Players: make(map[string]protocol.PlayerState, len(w.Players)),
		Ghosts:  make([]protocol.GhostState, 0, len(w.Ghosts)),
		Maze:    w.Grid.Codes(),
	}

	alive := 0
	for id, p := range w.Players {
		var facing *string
		if p.Facing != None {
			s := p.Facing.String()
			facing = &s
		}
		if !p.Dead {
			alive++
		}
		snap.Players[id] = protocol.PlayerState{
			X:         round2(p.X),
			Y:         round2(p.Y),
			Score:     p.Score,
			Dead:      p.Dead,
			Power:     p.Power,
			Name:      p.Name,
			Direction: facing,
		}
	}
	for _, g := range w.Ghosts {
		snap.Ghosts = append(snap.Ghosts, protocol.GhostState{
			X:        round2(g.X),
			Y:        round2(g.Y),
			Behavior: g.Personality.String(),
			Color:    g.Color,
			Mode:     mode.String(),
		})
	}

	remaining := w.PelletsRemaining()
	snap.GameStats = protocol.GameStats{
		TotalPellets: remaining,
		AlivePlayers: alive,
		TotalPlayers: len(w.Players),
		Victory:      remaining == 0,
		GameTick:     w.Tick,
		MaxPlayers:   config.MaxPlayers,
	}
	return snap
}

func (w *World) anyEmpowered() bool {
	for _, p := range w.Players {
		if p.Power > 0 {
			return true
		}
	}
	return false
}

// playerOrder returns player ids sorted so ticks are reproducible.
func (w *World) playerOrder() []string {
	ids := make([]string, 0, len(w.Players))
	for id := range w.Players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func keyDirection(k protocol.Key) Direction {
	switch k {
	case protocol.KeyUp:
		return Up
	case protocol.KeyDown:
		return Down
	case protocol.KeyLeft:
		return Left
	case protocol.KeyRight:
		return Right
	}
	return None
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
