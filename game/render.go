package game

import (
	"strings"

	"arcade-server/config"
)

// Render draws the grid as text, two characters per tile. Tiles on path are
// drawn as "P", its first tile as "S" and its last as "E"; marks take
// precedence over everything else.
func (g *Grid) Render(path []config.Tile, marks map[config.Tile]rune) string {
	var sb strings.Builder
	onPath := make(map[config.Tile]bool, len(path))
	for _, t := range path {
		onPath[t] = true
	}

	for y := 0; y < g.rows; y++ {
		for x := 0; x < g.cols; x++ {
			t := config.Tile{X: x, Y: y}
			if r, ok := marks[t]; ok {
				sb.WriteRune(r)
				sb.WriteByte(' ')
				continue
			}
			switch {
			case len(path) > 0 && t == path[0]:
				sb.WriteString("S ")
			case len(path) > 0 && t == path[len(path)-1]:
				sb.WriteString("E ")
			case onPath[t]:
				sb.WriteString("P ")
			default:
				sb.WriteString(cellGlyph(g.cells[y][x]))
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func cellGlyph(c Cell) string {
	switch c {
	case Wall:
		return "# "
	case Pellet:
		return ". "
	case PowerPellet:
		return "o "
	default:
		return "  "
	}
}
