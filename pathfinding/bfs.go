package pathfinding

import (
	"arcade-server/config"
)

// Graph is the tile graph searched by this package.
type Graph interface {
	// Size returns the grid dimensions in tiles.
	Size() (cols, rows int)
	// Walkable reports whether a tile is inside the grid and not a wall.
	Walkable(t config.Tile) bool
	// Neighbors appends the walkable tiles adjacent to t (including wrap links) to buf.
	Neighbors(t config.Tile, buf []config.Tile) []config.Tile
}

// Unreached marks tiles a bounded search never expanded.
const Unreached = -1

// Field holds breadth-first distances from a single origin tile.
type Field struct {
	cols, rows int
	dist       []int
	Expanded   int // Number of tiles dequeued before the search stopped
}

// Dist returns the distance of t from the origin, or Unreached.
func (f *Field) Dist(t config.Tile) int {
	if t.X < 0 || t.Y < 0 || t.X >= f.cols || t.Y >= f.rows {
		return Unreached
	}
	return f.dist[t.Y*f.cols+t.X]
}

// DistanceField runs a breadth-first search from origin over walkable tiles,
// expanding at most budget tiles. Tiles not reached within the budget keep
// the Unreached distance. An unwalkable origin yields an empty field.
func DistanceField(g Graph, origin config.Tile, budget int) *Field {
	cols, rows := g.Size()
	f := &Field{cols: cols, rows: rows, dist: make([]int, cols*rows)}
	for i := range f.dist {
		f.dist[i] = Unreached
	}
	if !g.Walkable(origin) {
		return f
	}

	queue := make([]config.Tile, 0, cols*rows) // Fixed capacity, grid is small
	queue = append(queue, origin)
	f.dist[origin.Y*cols+origin.X] = 0

	var buf []config.Tile
	for head := 0; head < len(queue); head++ {
		if f.Expanded >= budget {
			break // Keep one search bounded so a tick never stalls
		}
		cur := queue[head]
		f.Expanded++
		d := f.dist[cur.Y*cols+cur.X]

		buf = g.Neighbors(cur, buf[:0])
		for _, n := range buf {
			idx := n.Y*cols + n.X
			if f.dist[idx] != Unreached {
				continue
			}
			f.dist[idx] = d + 1
			queue = append(queue, n)
		}
	}
	return f
}

// NextStep returns the first tile on a shortest path from start to goal.
// The second return value is false when goal is unreachable within budget,
// when either tile is unwalkable, or when start equals goal.
func NextStep(g Graph, start, goal config.Tile, budget int) (config.Tile, bool) {
	if start == goal || !g.Walkable(start) || !g.Walkable(goal) {
		return start, false
	}

	// Searching from the goal means any neighbor of start with a smaller
	// distance lies on a shortest path; the first such neighbor wins.
	field := DistanceField(g, goal, budget)
	best, bestDist := start, Unreached
	for _, n := range g.Neighbors(start, nil) {
		d := field.Dist(n)
		if d == Unreached {
			continue
		}
		if bestDist == Unreached || d < bestDist {
			best, bestDist = n, d
		}
	}
	return best, bestDist != Unreached
}

// Path returns a full shortest route from start to goal, both ends included.
// It returns false under the same conditions as NextStep, except that
// start == goal yields the single-tile path.
func Path(g Graph, start, goal config.Tile, budget int) ([]config.Tile, bool) {
	if !g.Walkable(start) || !g.Walkable(goal) {
		return nil, false
	}
	field := DistanceField(g, goal, budget)
	d := field.Dist(start)
	if d == Unreached {
		return nil, false
	}

	path := make([]config.Tile, 0, d+1)
	path = append(path, start)
	var buf []config.Tile
	for cur := start; d > 0; d-- {
		buf = g.Neighbors(cur, buf[:0])
		stepped := false
		for _, n := range buf {
			if field.Dist(n) == d-1 {
				cur, stepped = n, true
				break
			}
		}
		if !stepped {
			return nil, false // Field and graph disagree
		}
		path = append(path, cur)
	}
	return path, true
}

// NearestWalkable returns the walkable tile closest to t, scanning square
// rings of growing radius up to maxRadius in row-major order. When nothing
// walkable is found t is returned unchanged.
func NearestWalkable(g Graph, t config.Tile, maxRadius int) config.Tile {
	if g.Walkable(t) {
		return t
	}
	for r := 1; r <= maxRadius; r++ {
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				if abs(dx) != r && abs(dy) != r {
					continue // Interior of the ring was scanned at a smaller radius
				}
				c := config.Tile{X: t.X + dx, Y: t.Y + dy}
				if g.Walkable(c) {
					return c
				}
			}
		}
	}
	return t
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
