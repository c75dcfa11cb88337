package game

import (
	"math"
	"math/rand"
	"testing"

	"arcade-server/config"
	"arcade-server/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var moveKeys = []protocol.Key{protocol.KeyUp, protocol.KeyDown, protocol.KeyLeft, protocol.KeyRight}

// randomInput presses a random direction, occasionally releasing everything.
func randomInput(t *testing.T, w *World, id string, rng *rand.Rand) {
	t.Helper()
	for _, k := range moveKeys {
		_, err := w.HandleInput(id, protocol.Input{Key: k, Action: protocol.ActionRelease})
		require.NoError(t, err)
	}
	if rng.Intn(10) == 0 {
		return
	}
	_, err := w.HandleInput(id, protocol.Input{Key: moveKeys[rng.Intn(len(moveKeys))], Action: protocol.ActionPress})
	require.NoError(t, err)
}

func TestWorld_AddPlayer(t *testing.T) {
	w := NewWorld("join")

	p0, err := w.AddPlayer("a")
	require.NoError(t, err)
	p1, err := w.AddPlayer("b")
	require.NoError(t, err)

	assert.Equal(t, "Player0", p0.Name)
	assert.Equal(t, "Player1", p1.Name)
	assert.Equal(t, float64(config.PlayerSpawns[1].X), p1.X)

	_, err = w.AddPlayer("c")
	assert.ErrorIs(t, err, ErrWorldFull)
	_, err = w.AddPlayer("a")
	assert.ErrorIs(t, err, ErrPlayerExists)

	// A freed slot is reused
	w.RemovePlayer("a")
	p2, err := w.AddPlayer("c")
	require.NoError(t, err)
	assert.Equal(t, 0, p2.Slot)
}

func TestWorld_PlayerStaysInBounds(t *testing.T) {
	w := NewWorld("bounds")
	rng := rand.New(rand.NewSource(42))
	for _, id := range []string{"a", "b"} {
		_, err := w.AddPlayer(id)
		require.NoError(t, err)
	}

	for tick := 0; tick < 3000; tick++ {
		if tick%7 == 0 {
			randomInput(t, w, "a", rng)
			randomInput(t, w, "b", rng)
		}
		w.Step()

		for id, p := range w.Players {
			require.True(t, w.Grid.CanMove(p.X, p.Y), "tick %d: player %s at illegal %.2f,%.2f", tick, id, p.X, p.Y)
			require.GreaterOrEqual(t, p.X, config.EdgeInset)
			require.Less(t, p.X, float64(config.MAZE_COLS)-config.EdgeInset)
		}
		// Keep both players moving so the property is exercised over many ticks
		for _, p := range w.Players {
			p.Dead = false
		}
	}
}

func TestWorld_PelletMonotonicity(t *testing.T) {
	w := NewWorld("pellets")
	rng := rand.New(rand.NewSource(7))
	_, err := w.AddPlayer("solo")
	require.NoError(t, err)
	p := w.Players["solo"]

	prev := w.PelletsRemaining()
	collected := 0
	for tick := 0; tick < 4000; tick++ {
		if tick%9 == 0 {
			randomInput(t, w, "solo", rng)
		}
		before := w.Grid.Codes()
		w.Step()
		p.Dead = false

		now := w.PelletsRemaining()
		require.LessOrEqual(t, now, prev, "tick %d", tick)

		centered := p.X == math.Round(p.X) && p.Y == math.Round(p.Y)
		onPickup := centered && before[int(p.Y)][int(p.X)] >= int(Pellet)
		if onPickup {
			require.Equal(t, prev-1, now, "tick %d: centered on a pickup", tick)
			collected++
		} else {
			require.Equal(t, prev, now, "tick %d: no pickup under the player", tick)
		}
		prev = now
	}
	assert.Greater(t, collected, 0)
}

func TestWorld_Victory(t *testing.T) {
	w := NewWorld("victory")
	assert.False(t, w.Victory(), "a fresh maze always has pickups")

	for y := range w.Grid.cells {
		for x := range w.Grid.cells[y] {
			if c := w.Grid.cells[y][x]; c == Pellet || c == PowerPellet {
				w.Grid.cells[y][x] = Empty
			}
		}
	}
	assert.True(t, w.Victory())
	assert.True(t, w.Snapshot().GameStats.Victory)
}

func TestWorld_GhostLegality(t *testing.T) {
	w := NewWorld("ghosts")
	rng := rand.New(rand.NewSource(99))
	for _, id := range []string{"a", "b"} {
		_, err := w.AddPlayer(id)
		require.NoError(t, err)
	}

	cols := float64(config.MAZE_COLS)
	for tick := 0; tick < 5000; tick++ {
		if tick%5 == 0 {
			randomInput(t, w, "a", rng)
			randomInput(t, w, "b", rng)
		}
		// Periodic empowerment exercises frightened mode too
		if tick%600 == 0 {
			w.Players["a"].Power = config.PowerTicks
		}
		w.Step()
		for _, p := range w.Players {
			p.Dead = false
		}

		for i, g := range w.Ghosts {
			inTunnel := int(math.Round(g.Y)) == w.Grid.WrapRow() && (g.X < 1 || g.X > cols-2)
			if inTunnel {
				continue
			}
			require.True(t, w.Grid.CanMove(g.X, g.Y), "tick %d: ghost %d at illegal %.2f,%.2f", tick, i, g.X, g.Y)
		}
	}
}

func TestWorld_PowerCaptureScenario(t *testing.T) {
	w := NewWorld("ABC123")
	_, err := w.AddPlayer("solo")
	require.NoError(t, err)
	p := w.Players["solo"]

	corner := config.Tile{X: config.MAZE_COLS - 2, Y: 1}
	require.Equal(t, PowerPellet, w.Grid.At(corner))

	// One step short of the corner, walking right onto it
	p.X, p.Y = float64(corner.X)-config.PlayerSpeed, float64(corner.Y)
	_, err = w.HandleInput("solo", protocol.Input{Key: protocol.KeyRight, Action: protocol.ActionPress})
	require.NoError(t, err)
	w.Step()
	_, err = w.HandleInput("solo", protocol.Input{Key: protocol.KeyRight, Action: protocol.ActionRelease})
	require.NoError(t, err)

	assert.Equal(t, Empty, w.Grid.At(corner))
	assert.Greater(t, p.Power, 0)
	assert.Equal(t, "frightened", w.Snapshot().Ghosts[0].Mode)

	scoreBefore := p.Score
	ghost := w.Ghosts[0]
	ghost.X, ghost.Y = p.X, p.Y
	ghost.remaining = 0
	w.Step()

	assert.False(t, p.Dead)
	assert.Equal(t, scoreBefore+config.CaptureBonus, p.Score)
	assert.Equal(t, float64(ghost.Home.X), ghost.X)
	assert.Equal(t, float64(ghost.Home.Y), ghost.Y)
	assert.Equal(t, None, ghost.Dir)
}

func TestWorld_CollisionKillsUnpoweredPlayer(t *testing.T) {
	w := NewWorld("death")
	_, err := w.AddPlayer("solo")
	require.NoError(t, err)
	p := w.Players["solo"]

	ghost := w.Ghosts[1]
	ghost.X, ghost.Y = p.X, p.Y
	w.Step()

	assert.True(t, p.Dead)
	assert.Equal(t, 0, w.Snapshot().GameStats.AlivePlayers)
}

func TestWorld_ModeCycle(t *testing.T) {
	w := NewWorld("modes")
	assert.Equal(t, Scatter, w.Mode)

	for i := 0; i < config.ScatterTicks; i++ {
		w.Step()
	}
	assert.Equal(t, Chase, w.Mode)

	for i := 0; i < config.ChaseTicks; i++ {
		w.Step()
	}
	assert.Equal(t, Scatter, w.Mode)
}

func TestWorld_FrightenedFreezesModeTimer(t *testing.T) {
	w := NewWorld("freeze")
	_, err := w.AddPlayer("solo")
	require.NoError(t, err)
	p := w.Players["solo"]

	w.Step()
	timer := w.modeTimer
	p.Power = 50
	for i := 0; i < 10; i++ {
		w.Step()
		p.Dead = false
	}
	assert.Equal(t, timer, w.modeTimer)
	assert.Equal(t, 40, p.Power)
}

func TestWorld_AggressiveGhostCatchesStationaryPlayer(t *testing.T) {
	w := NewWorld("pursuit")
	_, err := w.AddPlayer("solo")
	require.NoError(t, err)
	p := w.Players["solo"]

	for tick := 0; tick < 2000 && !p.Dead; tick++ {
		w.Mode, w.modeTimer = Chase, 0
		w.Step()
	}
	assert.True(t, p.Dead, "ghosts in chase mode should reach a player who never moves")
}

func TestWorld_RestartRules(t *testing.T) {
	w := NewWorld("restart")
	_, err := w.AddPlayer("a")
	require.NoError(t, err)
	_, err = w.AddPlayer("b")
	require.NoError(t, err)

	for i := 0; i < 30; i++ {
		w.Step()
	}
	restart := protocol.Input{Key: protocol.KeyRestart, Action: protocol.ActionPress}

	w.Players["a"].Dead = false
	w.Players["b"].Dead = false
	reset, err := w.HandleInput("a", restart)
	require.NoError(t, err)
	assert.False(t, reset, "a living player cannot restart mid-game")

	w.Players["a"].Dead = true
	w.Players["b"].Score = 120
	reset, err = w.HandleInput("a", restart)
	require.NoError(t, err)
	assert.True(t, reset)
	assert.Equal(t, 0, w.Tick)
	assert.False(t, w.Players["a"].Dead)
	assert.Equal(t, 0, w.Players["b"].Score)
	assert.Equal(t, GenerateMaze(w.Seed).Codes(), w.Grid.Codes())

	_, err = w.HandleInput("ghost", restart)
	assert.ErrorIs(t, err, ErrPlayerUnknown)
}

func TestChaseTargets(t *testing.T) {
	w := NewWorld("targets")
	_, err := w.AddPlayer("solo")
	require.NoError(t, err)
	p := w.Players["solo"]
	p.X, p.Y, p.Facing = 5, 5, Right

	aggressive := w.Ghosts[0]
	aggressive.X, aggressive.Y = 3, 5

	tests := []struct {
		name        string
		personality Personality
		ghostAt     [2]float64
		want        config.Tile
	}{
		{name: "aggressive", personality: Aggressive, ghostAt: [2]float64{9, 9}, want: config.Tile{X: 5, Y: 5}},
		{name: "ambush", personality: Ambush, ghostAt: [2]float64{9, 9}, want: config.Tile{X: 9, Y: 5}},
		{name: "flanking mirrors anchor", personality: Flanking, ghostAt: [2]float64{9, 9}, want: config.Tile{X: 11, Y: 5}},
		{name: "opportunistic far", personality: Opportunistic, ghostAt: [2]float64{17, 13}, want: config.Tile{X: 5, Y: 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &Ghost{Personality: tt.personality, X: tt.ghostAt[0], Y: tt.ghostAt[1], Corner: config.Tile{X: 1, Y: 13}}
			assert.Equal(t, tt.want, chaseTargets[tt.personality](w, g, p))
		})
	}

	near := &Ghost{Personality: Opportunistic, X: 6, Y: 5, Corner: config.Tile{X: 1, Y: 13}}
	assert.Equal(t, near.Corner, chaseTargets[Opportunistic](w, near, p), "close in, it retreats")
}

func TestGhost_StuckDetection(t *testing.T) {
	g := &Ghost{}
	a, b := config.Tile{X: 1, Y: 1}, config.Tile{X: 2, Y: 1}
	for i := 0; i < config.StuckWindow; i++ {
		assert.False(t, g.stuck())
		if i%2 == 0 {
			g.remember(a)
		} else {
			g.remember(b)
		}
	}
	assert.True(t, g.stuck())

	g.remember(config.Tile{X: 3, Y: 1})
	assert.False(t, g.stuck())
	assert.Len(t, g.recent, config.StuckWindow)
}

func TestSnapshot_Shape(t *testing.T) {
	w := NewWorld("snap")
	_, err := w.AddPlayer("a")
	require.NoError(t, err)

	snap := w.Snapshot()
	assert.Equal(t, "snap", snap.RoomID)
	assert.Len(t, snap.Ghosts, len(roster))
	assert.Len(t, snap.Maze, config.MAZE_ROWS)
	assert.Len(t, snap.Maze[0], config.MAZE_COLS)
	assert.Equal(t, config.MaxPlayers, snap.GameStats.MaxPlayers)
	assert.Equal(t, 1, snap.GameStats.TotalPlayers)
	assert.Equal(t, w.PelletsRemaining(), snap.GameStats.TotalPellets)
	assert.Nil(t, snap.Players["a"].Direction)

	behaviors := make([]string, 0, len(snap.Ghosts))
	for _, g := range snap.Ghosts {
		behaviors = append(behaviors, g.Behavior)
	}
	assert.ElementsMatch(t, []string{"aggressive", "opportunistic", "ambush", "flanking"}, behaviors)
}
