package game

import (
	"math"

	"arcade-server/config"
	"arcade-server/pathfinding"
)

// Personality selects a ghost's chase targeting rule.
type Personality int

const (
	Aggressive    Personality = iota // Heads straight for the nearest player
	Ambush                           // Aims a few tiles ahead of the player's facing
	Flanking                         // Mirrors the aggressive ghost through a point ahead of the player
	Opportunistic                    // Chases from afar, retreats to its corner up close
)

func (p Personality) String() string {
	switch p {
	case Ambush:
		return "ambush"
	case Flanking:
		return "flanking"
	case Opportunistic:
		return "opportunistic"
	}
	return "aggressive"
}

// oscillationPenalty outweighs any in-grid path length.
const oscillationPenalty = 1000

// Ghost is one pursuing agent.
type Ghost struct {
	Personality Personality
	Color       string
	X, Y        float64
	Dir         Direction
	Corner      config.Tile // Scatter target
	Home        config.Tile // Spawn and capture return tile

	remaining float64       // Distance left to the next tile center; 0 means at a center
	recent    []config.Tile // Last centers visited, oldest first
	visits    []int         // Per-tile visit counts, row-major
}

type ghostProfile struct {
	personality Personality
	color       string
	home        config.Tile
	corner      func(cols, rows int) config.Tile
}

// roster lists the ghosts every room starts with, in snapshot order.
var roster = []ghostProfile{
	{Aggressive, "red", config.Tile{X: 9, Y: 7}, func(c, r int) config.Tile { return config.Tile{X: c - 2, Y: 1} }},
	{Opportunistic, "orange", config.Tile{X: 8, Y: 9}, func(c, r int) config.Tile { return config.Tile{X: 1, Y: r - 2} }},
	{Ambush, "purple", config.Tile{X: 10, Y: 9}, func(c, r int) config.Tile { return config.Tile{X: 1, Y: 1} }},
	{Flanking, "green", config.Tile{X: 9, Y: 8}, func(c, r int) config.Tile { return config.Tile{X: c - 2, Y: r - 2} }},
}

// targetFunc computes a chase target for g against player p.
type targetFunc func(w *World, g *Ghost, p *Player) config.Tile

// chaseTargets dispatches chase targeting by personality.
var chaseTargets = map[Personality]targetFunc{
	Aggressive: func(w *World, g *Ghost, p *Player) config.Tile {
		return tileOf(p.X, p.Y)
	},
	Ambush: func(w *World, g *Ghost, p *Player) config.Tile {
		return ahead(p, config.AmbushLookahead)
	},
	Flanking: func(w *World, g *Ghost, p *Player) config.Tile {
		pivot := ahead(p, config.FlankingLookahead)
		anchor := g.tile()
		for _, other := range w.Ghosts {
			if other.Personality == Aggressive {
				anchor = other.tile()
				break
			}
		}
		return config.Tile{X: anchor.X + 2*(pivot.X-anchor.X), Y: anchor.Y + 2*(pivot.Y-anchor.Y)}
	},
	Opportunistic: func(w *World, g *Ghost, p *Player) config.Tile {
		if math.Hypot(p.X-g.X, p.Y-g.Y) > config.ProximityGate {
			return tileOf(p.X, p.Y)
		}
		return g.Corner
	},
}

func newGhost(p ghostProfile, grid *Grid) *Ghost {
	home := pathfinding.NearestWalkable(grid, p.home, config.HomeSearchRadius)
	g := &Ghost{
		Personality: p.personality,
		Color:       p.color,
		Corner:      p.corner(grid.cols, grid.rows),
		Home:        home,
		visits:      make([]int, grid.cols*grid.rows),
	}
	g.sendHome()
	return g
}

// sendHome relocates the ghost to its home tile with no direction.
func (g *Ghost) sendHome() {
	g.X, g.Y = float64(g.Home.X), float64(g.Home.Y)
	g.Dir = None
	g.remaining = 0
	g.recent = g.recent[:0]
}

func (g *Ghost) tile() config.Tile {
	return tileOf(g.X, g.Y)
}

// remember records a visited center, keeping the stuck window bounded.
func (g *Ghost) remember(t config.Tile) {
	if len(g.recent) == config.StuckWindow {
		copy(g.recent, g.recent[1:])
		g.recent = g.recent[:len(g.recent)-1]
	}
	g.recent = append(g.recent, t)
}

// stuck reports a full window with too few distinct tiles.
func (g *Ghost) stuck() bool {
	if len(g.recent) < config.StuckWindow {
		return false
	}
	distinct := make(map[config.Tile]struct{}, config.StuckDistinct+1)
	for _, t := range g.recent {
		distinct[t] = struct{}{}
		if len(distinct) > config.StuckDistinct {
			return false
		}
	}
	return true
}

// retraces reports whether t is one of the last two centers before the current one.
func (g *Ghost) retraces(t config.Tile) bool {
	n := len(g.recent)
	for i := n - 3; i < n-1; i++ {
		if i >= 0 && g.recent[i] == t {
			return true
		}
	}
	return false
}

// updateGhosts advances the mode timer and moves every ghost one tick.
func (w *World) updateGhosts() {
	frightened := w.anyEmpowered()
	if !frightened {
		w.modeTimer++
		switch {
		case w.Mode == Scatter && w.modeTimer >= config.ScatterTicks:
			w.Mode, w.modeTimer = Chase, 0
		case w.Mode == Chase && w.modeTimer >= config.ChaseTicks:
			w.Mode, w.modeTimer = Scatter, 0
		}
	}

	for _, g := range w.Ghosts {
		w.moveGhost(g, frightened)
	}
}

func (w *World) ghostSpeed(frightened bool) float64 {
	switch {
	case frightened:
		return config.GhostFrightenedSpeed
	case w.Mode == Chase:
		return config.GhostChaseSpeed
	}
	return config.GhostScatterSpeed
}

// moveGhost picks a new direction at tile centers and travels toward the
// next center without overshooting it. Leaving through a wrap mouth
// re-enters at the opposite edge.
func (w *World) moveGhost(g *Ghost, frightened bool) {
	if g.remaining <= 0 {
		here := w.wrapTile(g.tile())
		g.X, g.Y = float64(here.X), float64(here.Y)
		g.visits[here.Y*w.Grid.cols+here.X]++
		g.remember(here)

		g.Dir = w.chooseDirection(g, here, frightened)
		if g.Dir == None {
			return // Boxed in; try again next tick
		}
		g.remaining = 1
	}

	dx, dy := g.Dir.Delta()
	step := math.Min(w.ghostSpeed(frightened), g.remaining)
	g.X += float64(dx) * step
	g.Y += float64(dy) * step
	g.remaining -= step

	cols := float64(w.Grid.cols)
	if g.X < -0.5 {
		g.X += cols
	} else if g.X > cols-0.5 {
		g.X -= cols
	}

	if g.remaining < 1e-9 {
		g.remaining = 0
		t := w.wrapTile(g.tile())
		g.X, g.Y = float64(t.X), float64(t.Y)
	}
}

// chooseDirection selects the direction a ghost at tile here takes next.
func (w *World) chooseDirection(g *Ghost, here config.Tile, frightened bool) Direction {
	var valid []Direction
	for _, d := range directions {
		if w.Grid.Walkable(w.Grid.Step(here, d)) {
			valid = append(valid, d)
		}
	}
	if len(valid) == 0 {
		return None
	}

	// Reversal only when it is the sole way out
	candidates := make([]Direction, 0, len(valid))
	for _, d := range valid {
		if g.Dir == None || d != g.Dir.Opposite() {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		candidates = valid
	}

	if g.stuck() {
		g.recent = g.recent[:0]
		return candidates[w.rng.Intn(len(candidates))]
	}
	if frightened && len(candidates) > 1 && w.rng.Float64() < config.FrightenedJitter {
		return candidates[w.rng.Intn(len(candidates))]
	}

	target := w.targetFor(g, frightened)
	field := pathfinding.DistanceField(w.Grid, target, config.BFSNodeBudget)

	type score struct {
		primary   int
		secondary float64
		tertiary  float64
		jitter    float64
	}
	less := func(a, b score) bool {
		if a.primary != b.primary {
			return a.primary < b.primary
		}
		if a.secondary != b.secondary {
			return a.secondary < b.secondary
		}
		if a.tertiary != b.tertiary {
			return a.tertiary < b.tertiary
		}
		return a.jitter < b.jitter
	}

	best, bestScore := None, score{}
	for _, d := range candidates {
		next := w.Grid.Step(here, d)
		greedy := math.Hypot(float64(next.X-target.X), float64(next.Y-target.Y))
		visits := float64(g.visits[next.Y*w.Grid.cols+next.X])

		var s score
		if dist := field.Dist(next); dist != pathfinding.Unreached {
			s = score{primary: dist, secondary: visits, tertiary: greedy}
		} else {
			// Unreached within budget: greedy distance decides
			s = score{primary: math.MaxInt32 / 2, secondary: greedy, tertiary: visits}
		}
		if g.retraces(next) {
			s.primary += oscillationPenalty
		}
		s.jitter = w.rng.Float64()

		if best == None || less(s, bestScore) {
			best, bestScore = d, s
		}
	}
	return best
}

// targetFor returns the walkable tile ghost g is steering toward.
func (w *World) targetFor(g *Ghost, frightened bool) config.Tile {
	target := g.Corner
	if p := w.nearestAlive(g.X, g.Y); p != nil {
		switch {
		case frightened:
			// Flee: extrapolate away from the player
			gt, pt := g.tile(), tileOf(p.X, p.Y)
			target = config.Tile{X: gt.X + 2*(gt.X-pt.X), Y: gt.Y + 2*(gt.Y-pt.Y)}
		case w.Mode == Chase:
			target = chaseTargets[g.Personality](w, g, p)
		}
	}

	target.X = clampInt(target.X, 0, w.Grid.cols-1)
	target.Y = clampInt(target.Y, 0, w.Grid.rows-1)
	return pathfinding.NearestWalkable(w.Grid, target, max(w.Grid.cols, w.Grid.rows))
}

// nearestAlive returns the closest living player to (x, y), or nil.
func (w *World) nearestAlive(x, y float64) *Player {
	var best *Player
	bestDist := math.Inf(1)
	for _, id := range w.playerOrder() {
		p := w.Players[id]
		if p.Dead {
			continue
		}
		if d := math.Hypot(p.X-x, p.Y-y); d < bestDist {
			best, bestDist = p, d
		}
	}
	return best
}

// wrapTile folds an off-grid column on the wrap row back into the grid.
func (w *World) wrapTile(t config.Tile) config.Tile {
	if t.Y == w.Grid.wrapRow {
		t.X = (t.X%w.Grid.cols + w.Grid.cols) % w.Grid.cols
	}
	return t
}

func ahead(p *Player, n int) config.Tile {
	t := tileOf(p.X, p.Y)
	dx, dy := p.Facing.Delta()
	return config.Tile{X: t.X + n*dx, Y: t.Y + n*dy}
}

func tileOf(x, y float64) config.Tile {
	return config.Tile{X: int(math.Round(x)), Y: int(math.Round(y))}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
