package game

import (
	"errors"

	"arcade-server/config"
)

// Cell is one grid tile code. Values are part of the wire format.
type Cell int

const (
	Empty       Cell = 0
	Wall        Cell = 1
	Pellet      Cell = 2
	PowerPellet Cell = 3
)

// Direction is a cardinal movement direction.
type Direction int

const (
	None Direction = iota
	Up
	Down
	Left
	Right
)

// directions is the fixed evaluation order; it doubles as key priority for players.
var directions = [...]Direction{Up, Down, Left, Right}

// Delta returns the unit tile offset for d.
func (d Direction) Delta() (dx, dy int) {
	switch d {
	case Up:
		return 0, -1
	case Down:
		return 0, 1
	case Left:
		return -1, 0
	case Right:
		return 1, 0
	}
	return 0, 0
}

// Opposite returns the reverse of d. None has no opposite.
func (d Direction) Opposite() Direction {
	switch d {
	case Up:
		return Down
	case Down:
		return Up
	case Left:
		return Right
	case Right:
		return Left
	}
	return None
}

func (d Direction) String() string {
	switch d {
	case Up:
		return "UP"
	case Down:
		return "DOWN"
	case Left:
		return "LEFT"
	case Right:
		return "RIGHT"
	}
	return "NONE"
}

// Mode is the session-wide ghost behavior mode.
type Mode int

const (
	Scatter Mode = iota
	Chase
	Frightened
)

func (m Mode) String() string {
	switch m {
	case Chase:
		return "chase"
	case Frightened:
		return "frightened"
	}
	return "scatter"
}

// Player is a connected participant.
type Player struct {
	ID     string
	Name   string
	Slot   int     // Spawn slot index into config.PlayerSpawns
	X, Y   float64 // Continuous position in tile units
	Score  int
	Dead   bool
	Power  int // Remaining empowered ticks
	Facing Direction
	held   [len(directions) + 1]bool // Indexed by Direction
}

// heldDirection returns the highest priority held key (UP > DOWN > LEFT > RIGHT).
func (p *Player) heldDirection() Direction {
	for _, d := range directions {
		if p.held[d] {
			return d
		}
	}
	return None
}

// respawn puts the player back on its slot with a clean state.
func (p *Player) respawn() {
	spawn := config.PlayerSpawns[p.Slot]
	p.X, p.Y = float64(spawn.X), float64(spawn.Y)
	p.Score = 0
	p.Dead = false
	p.Power = 0
	p.Facing = None
	p.held = [len(directions) + 1]bool{}
}

var (
	ErrWorldFull     = errors.New("world is full")
	ErrPlayerExists  = errors.New("player already in world")
	ErrPlayerUnknown = errors.New("player not in world")
)
