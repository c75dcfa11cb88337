package game

import (
	"hash/fnv"
	"math/rand"

	"arcade-server/config"
)

// Grid is the tile matrix of one room. It implements pathfinding.Graph.
type Grid struct {
	cells   [][]Cell
	cols    int
	rows    int
	wrapRow int // Row whose two edge tiles are linked
}

// SeedFromID derives a stable maze seed from a room id so every participant
// (and every restart) sees the same layout.
func SeedFromID(id string) int64 {
	h := fnv.New32a()
	h.Write([]byte(id))
	return int64(h.Sum32())
}

// GenerateMaze carves a fully connected maze with a randomized iterative
// recursive backtracker on the odd-coordinate lattice, then opens the spawn
// tiles and the mid-row wrap corridor and places pickups.
func GenerateMaze(seed int64) *Grid {
	rng := rand.New(rand.NewSource(seed))
	cols, rows := config.MAZE_COLS, config.MAZE_ROWS

	g := &Grid{
		cells:   make([][]Cell, rows),
		cols:    cols,
		rows:    rows,
		wrapRow: rows / 2,
	}
	for y := range g.cells {
		g.cells[y] = make([]Cell, cols)
		for x := range g.cells[y] {
			g.cells[y][x] = Wall
		}
	}

	// Random odd start keeps carving on the lattice
	start := config.Tile{
		X: 1 + 2*rng.Intn((cols-1)/2),
		Y: 1 + 2*rng.Intn((rows-1)/2),
	}
	g.cells[start.Y][start.X] = Empty
	stack := []config.Tile{start}

	var candidates []config.Tile
	for len(stack) > 0 {
		cur := stack[len(stack)-1]

		candidates = candidates[:0]
		for _, d := range directions {
			dx, dy := d.Delta()
			n := config.Tile{X: cur.X + 2*dx, Y: cur.Y + 2*dy}
			if n.X < 1 || n.Y < 1 || n.X > cols-2 || n.Y > rows-2 {
				continue
			}
			if g.cells[n.Y][n.X] == Wall {
				candidates = append(candidates, n)
			}
		}

		if len(candidates) == 0 {
			stack = stack[:len(stack)-1] // Dead end, backtrack
			continue
		}

		next := candidates[rng.Intn(len(candidates))]
		g.cells[(cur.Y+next.Y)/2][(cur.X+next.X)/2] = Empty // Knock down the wall between
		g.cells[next.Y][next.X] = Empty
		stack = append(stack, next)
	}

	for _, s := range config.PlayerSpawns {
		g.cells[s.Y][s.X] = Empty
	}

	// Wrap corridor: the row's lattice neighbours (x=1, x=cols-2) are always carved
	g.cells[g.wrapRow][0] = Empty
	g.cells[g.wrapRow][cols-1] = Empty

	// Every open tile gets a pellet except spawns and the two wrap mouths,
	// which players cannot center on.
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			if g.cells[y][x] == Empty {
				g.cells[y][x] = Pellet
			}
		}
	}
	for _, s := range config.PlayerSpawns {
		g.cells[s.Y][s.X] = Empty
	}
	g.cells[g.wrapRow][0] = Empty
	g.cells[g.wrapRow][cols-1] = Empty

	for _, c := range g.Corners() {
		if g.cells[c.Y][c.X] == Pellet {
			g.cells[c.Y][c.X] = PowerPellet
		}
	}

	return g
}

// Corners returns the four inner corner tiles eligible for power pellets.
func (g *Grid) Corners() [4]config.Tile {
	return [4]config.Tile{
		{X: 1, Y: 1},
		{X: g.cols - 2, Y: 1},
		{X: 1, Y: g.rows - 2},
		{X: g.cols - 2, Y: g.rows - 2},
	}
}

// Size returns the grid dimensions.
func (g *Grid) Size() (int, int) { return g.cols, g.rows }

// WrapRow is the row holding the wrap corridor.
func (g *Grid) WrapRow() int { return g.wrapRow }

// At returns the cell at t; outside the grid reads as Wall.
func (g *Grid) At(t config.Tile) Cell {
	if t.X < 0 || t.Y < 0 || t.X >= g.cols || t.Y >= g.rows {
		return Wall
	}
	return g.cells[t.Y][t.X]
}

func (g *Grid) set(t config.Tile, c Cell) {
	g.cells[t.Y][t.X] = c
}

// Walkable reports whether t is inside the grid and not a wall.
func (g *Grid) Walkable(t config.Tile) bool {
	return g.At(t) != Wall
}

// Step returns the tile one move from t in direction d, applying the wrap
// link on the corridor row.
func (g *Grid) Step(t config.Tile, d Direction) config.Tile {
	dx, dy := d.Delta()
	n := config.Tile{X: t.X + dx, Y: t.Y + dy}
	if n.Y == g.wrapRow && t.Y == g.wrapRow {
		n.X = (n.X + g.cols) % g.cols
	}
	return n
}

// Neighbors appends the walkable neighbours of t to buf.
func (g *Grid) Neighbors(t config.Tile, buf []config.Tile) []config.Tile {
	for _, d := range directions {
		if n := g.Step(t, d); g.Walkable(n) {
			buf = append(buf, n)
		}
	}
	return buf
}

// Count returns how many cells hold c.
func (g *Grid) Count(c Cell) int {
	n := 0
	for _, row := range g.cells {
		for _, v := range row {
			if v == c {
				n++
			}
		}
	}
	return n
}

// Codes copies the grid into the wire representation.
func (g *Grid) Codes() [][]int {
	out := make([][]int, g.rows)
	for y, row := range g.cells {
		out[y] = make([]int, g.cols)
		for x, v := range row {
			out[y][x] = int(v)
		}
	}
	return out
}
