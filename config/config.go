package config

import "time"

// Maze dimensions in tiles
const (
	MAZE_ROWS = 15 // Tile rows, odd so the carving lattice fits
	MAZE_COLS = 19 // Tile columns, odd so the carving lattice fits
)

// Session tick rate
const TICK_INTERVAL = 50 * time.Millisecond // Room simulation step (20 frames per second)

// MaxPlayers is the fixed session size.
const MaxPlayers = 2

// Movement tuning, in tiles per tick
const (
	PlayerSpeed          = 0.2
	GhostScatterSpeed    = 0.2
	GhostChaseSpeed      = 0.22
	GhostFrightenedSpeed = 0.17

	SnapTolerance = 0.15 // Players snap to a tile center when this close
	EdgeInset     = 0.3  // Legal positions keep this far from the grid edge
	PlayerClamp   = 0.4  // Player coordinates are clamped to [PlayerClamp, size-PlayerClamp]
)

// Scoring and timers
const (
	PelletScore      = 10
	PowerPelletScore = 50
	CaptureBonus     = 200
	PowerTicks       = 200 // Empowerment duration (10s at 20 fps)
	CollisionRadius  = 0.8

	ScatterTicks = 100 // ~5s
	ChaseTicks   = 140 // ~7s
)

// Ghost AI budgets
const (
	BFSNodeBudget     = 1200 // Max tiles expanded by one search
	StuckWindow       = 8    // Recent positions kept for stuck detection
	StuckDistinct     = 2    // <= this many distinct tiles in the window means stuck
	HomeSearchRadius  = 6    // Ring radius searched when relocating a home tile
	FrightenedJitter  = 0.25 // Chance a frightened ghost ignores its target at a junction
	AmbushLookahead   = 4
	FlankingLookahead = 2
	ProximityGate     = 8.0 // Opportunistic ghosts retreat when closer than this
)

// Tile is a grid coordinate.
type Tile struct {
	X, Y int
}

// PlayerSpawns are the two forced-open spawn tiles, one per slot.
var PlayerSpawns = [MaxPlayers]Tile{
	{X: 1, Y: 1},
	{X: MAZE_COLS - 2, Y: MAZE_ROWS - 2},
}

// Room lifecycle defaults
const (
	RoomIdleGrace     = 30 * time.Second
	RoomMaxIdle       = 5 * time.Minute
	RoomSweepInterval = time.Minute
)

// Balancer defaults
const (
	BackendDialTimeout     = 5 * time.Second
	BackendCooldownBase    = time.Second
	BackendCooldownCeiling = 30 * time.Second
	AutoscaleInterval      = 5 * time.Second
	IdleSweepInterval      = 30 * time.Second
	RouteStoreTTL          = 6 * time.Hour // Shared sticky entries outlive any session
	BackendStopGrace       = 5 * time.Second
)
