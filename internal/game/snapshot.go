package game

// PlayerView is one row of the broadcast player table.
type PlayerView struct {
	Score    int
	Position [2]int
}

// View is a copied, read-only snapshot of the state. It is the sole read
// path: the Welcome payload uses a snapshot without dirty reset, per-tick
// deltas use one with dirty reset.
type View struct {
	Players    map[string]PlayerView
	Positions  map[string][2]int
	Grid       map[string]Cell // full grid (Welcome path)
	DirtyCells map[string]Cell // cells claimed since the previous reset

	GridSize     int
	TotalCells   int
	ClaimedCells int

	GameStarted bool
	GameOver    bool
	WinnerID    string
}

// Snapshot copies the full player table, position table, grid and dirty-cell
// map into a View. When resetDirty is true the dirty set is cleared
// atomically with the read, which is what gives each broadcast tick a
// disjoint delta.
func (s *State) Snapshot(resetDirty bool) View {
	v := View{
		Players:      make(map[string]PlayerView, len(s.players)),
		Positions:    make(map[string][2]int, len(s.positions)),
		Grid:         make(map[string]Cell, len(s.grid)),
		DirtyCells:   make(map[string]Cell, len(s.dirty)),
		GridSize:     s.gridSize,
		TotalCells:   s.totalCells,
		ClaimedCells: len(s.grid),
		GameStarted:  s.gameStarted,
		GameOver:     s.gameOver,
		WinnerID:     s.winnerID,
	}

	for id, p := range s.players {
		v.Players[id] = PlayerView{Score: p.Score, Position: p.Position}
	}
	for id, pos := range s.positions {
		v.Positions[id] = pos
	}
	for id, cell := range s.grid {
		v.Grid[id] = cell
	}
	for id, cell := range s.dirty {
		v.DirtyCells[id] = cell
	}

	if resetDirty {
		s.dirty = make(map[string]Cell)
	}

	return v
}
