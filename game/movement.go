package game

import (
	"math"

	"arcade-server/config"
)

// CanMove reports whether a continuous position is legal: inside the inset
// bound, the nearest tile is open, and when the position is off-center the
// four tiles its body covers are open too.
func (g *Grid) CanMove(x, y float64) bool {
	inset := config.EdgeInset
	if x < inset || y < inset || x >= float64(g.cols)-inset || y >= float64(g.rows)-inset {
		return false
	}

	cx, cy := math.Round(x), math.Round(y)
	if !g.Walkable(config.Tile{X: int(cx), Y: int(cy)}) {
		return false
	}

	if math.Abs(x-cx) > inset || math.Abs(y-cy) > inset {
		const body = 0.4 // Half-extent probe used for the covered corners
		corners := [4]config.Tile{
			{X: int(x), Y: int(y)},
			{X: int(x + body), Y: int(y)},
			{X: int(x), Y: int(y + body)},
			{X: int(x + body), Y: int(y + body)},
		}
		for _, c := range corners {
			if !g.Walkable(c) {
				return false
			}
		}
	}
	return true
}

// movePlayer advances p one step along its held direction, snaps it onto a
// tile center when close enough and collects whatever is there.
func (w *World) movePlayer(p *Player) {
	dir := p.heldDirection()
	if dir == None {
		return
	}
	p.Facing = dir

	dx, dy := dir.Delta()
	nx := clamp(p.X+float64(dx)*config.PlayerSpeed, config.PlayerClamp, float64(w.Grid.cols)-config.PlayerClamp)
	ny := clamp(p.Y+float64(dy)*config.PlayerSpeed, config.PlayerClamp, float64(w.Grid.rows)-config.PlayerClamp)
	if w.Grid.CanMove(nx, ny) {
		p.X, p.Y = nx, ny
	}

	p.X = snap(p.X)
	p.Y = snap(p.Y)
	if p.X == math.Round(p.X) && p.Y == math.Round(p.Y) {
		w.collect(p, config.Tile{X: int(p.X), Y: int(p.Y)})
	}
}

// collect applies a pickup at t to p.
func (w *World) collect(p *Player, t config.Tile) {
	switch w.Grid.At(t) {
	case Pellet:
		w.Grid.set(t, Empty)
		p.Score += config.PelletScore
	case PowerPellet:
		w.Grid.set(t, Empty)
		p.Score += config.PowerPelletScore
		p.Power = config.PowerTicks
	}
}

func snap(v float64) float64 {
	if r := math.Round(v); math.Abs(v-r) < config.SnapTolerance {
		return r
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
