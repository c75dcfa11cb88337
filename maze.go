package main

import (
	"errors"
	"fmt"
	"time"

	"arcade-server/config"
	"arcade-server/game"
	"arcade-server/pathfinding"

	"github.com/spf13/cobra"
)

var (
	mazeRoom       string
	mazeSeed       int64
	startX, startY int
	endX, endY     int
	show           bool
	frameDelay     time.Duration
)

var mazeCmd = &cobra.Command{
	Use:   "maze",
	Short: "Print a room's maze and the shortest route between two tiles",
	Long: `Generates the maze a room would play on (from --room or --seed) and draws
the breadth-first route ghosts would follow between two tiles.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		seed := mazeSeed
		if mazeRoom != "" {
			seed = game.SeedFromID(mazeRoom)
		}
		g := game.GenerateMaze(seed)

		start := config.Tile{X: startX, Y: startY}
		end := config.Tile{X: endX, Y: endY}
		if !cmd.Flags().Changed("end-x") && !cmd.Flags().Changed("end-y") {
			end = config.PlayerSpawns[1]
		}
		start = pathfinding.NearestWalkable(g, start, config.HomeSearchRadius)
		end = pathfinding.NearestWalkable(g, end, config.HomeSearchRadius)

		cols, rows := g.Size()
		fmt.Println("--------------------------------------------------")
		fmt.Printf("  Maze: %dx%d  seed: %d\n", cols, rows, seed)
		fmt.Printf("  Start: (%d, %d)  End: (%d, %d)\n", start.X, start.Y, end.X, end.Y)
		fmt.Printf("  Pellets: %d  Power pellets: %d\n", g.Count(game.Pellet), g.Count(game.PowerPellet))
		fmt.Println("--------------------------------------------------")

		path, ok := pathfinding.Path(g, start, end, cols*rows)
		if !ok {
			return errors.New("no route between the chosen tiles")
		}
		fmt.Printf("Route found: %d steps\n", len(path)-1)

		if !show {
			fmt.Print(g.Render(path, nil))
			return nil
		}
		for i, t := range path {
			fmt.Printf("\033[H\033[2J") // Clear screen for animation
			fmt.Print(g.Render(path, map[config.Tile]rune{t: '@'}))
			fmt.Printf("step %d/%d\n", i, len(path)-1)
			time.Sleep(frameDelay)
		}
		return nil
	},
}

func init() {
	f := mazeCmd.Flags()
	f.StringVar(&mazeRoom, "room", "", "Room id whose maze to draw (overrides --seed).")
	f.Int64Var(&mazeSeed, "seed", 1, "Maze seed.")
	f.IntVar(&startX, "start-x", config.PlayerSpawns[0].X, "The starting X tile.")
	f.IntVar(&startY, "start-y", config.PlayerSpawns[0].Y, "The starting Y tile.")
	f.IntVar(&endX, "end-x", 0, "The ending X tile (defaults to the second spawn).")
	f.IntVar(&endY, "end-y", 0, "The ending Y tile (defaults to the second spawn).")
	f.BoolVar(&show, "show", false, "Animate the route.")
	f.DurationVar(&frameDelay, "delay", 100*time.Millisecond, "Delay between animation frames.")
}
