// Package game owns the authoritative Grid Clash state: grid ownership,
// player positions and scores, and the round lifecycle. It is pure data plus
// transition logic, with no I/O and no locking. The server engine serializes
// all access under its own mutex.
package game

import (
	"fmt"
	"strconv"
	"strings"
)

// TieWinner is the distinguished outcome when two or more players share the
// maximum score. It is never resolved to an arbitrary player.
const TieWinner = "tie"

// DefaultSlots is the number of fixed player slots.
const DefaultSlots = 4

// Cell records a claimed cell. Ownership never changes for the rest of the
// round; cells reset only on a full game reset.
type Cell struct {
	OwnerID   string
	ClaimedAt int64 // unix ms, informational
}

// Player is one of the four fixed slots.
type Player struct {
	Score    int
	Position [2]int // [row, col]
	moveSeq  uint32 // last applied move sequence, guards stale reorders
}

// State is the authoritative aggregate. Mutated only by the server engine.
type State struct {
	gridSize   int
	totalCells int

	grid  map[string]Cell
	dirty map[string]Cell // cells claimed since the last snapshot(resetDirty)

	players   map[string]*Player
	positions map[string][2]int

	// The game is live immediately at construction; there is no minimum
	// player count gate.
	gameStarted bool
	gameOver    bool
	winnerID    string
}

// NewState builds a fresh state with four players parked at the corners.
func NewState(gridSize int) *State {
	s := &State{
		gridSize:   gridSize,
		totalCells: gridSize * gridSize,
		grid:       make(map[string]Cell),
		dirty:      make(map[string]Cell),
		players:    make(map[string]*Player, DefaultSlots),
		positions:  make(map[string][2]int, DefaultSlots),
	}
	for i := 1; i <= DefaultSlots; i++ {
		id := SlotID(i)
		pos := startingCorner(i, gridSize)
		s.players[id] = &Player{Position: pos}
		s.positions[id] = pos
	}
	s.gameStarted = true
	return s
}

// SlotID returns the player id for a 1-based slot index.
func SlotID(slot int) string {
	return fmt.Sprintf("player_%d", slot)
}

func startingCorner(slot, gridSize int) [2]int {
	switch slot {
	case 1:
		return [2]int{0, 0}
	case 2:
		return [2]int{gridSize - 1, gridSize - 1}
	case 3:
		return [2]int{0, gridSize - 1}
	default:
		return [2]int{gridSize - 1, 0}
	}
}

// CellID formats grid coordinates as the wire cell id.
func CellID(row, col int) string {
	return fmt.Sprintf("%d_%d", row, col)
}

// ParseCellID parses a "row_col" cell id; ok is false for anything that does
// not parse to two integers.
func ParseCellID(id string) (row, col int, ok bool) {
	parts := strings.SplitN(id, "_", 3)
	if len(parts) != 2 {
		return 0, 0, false
	}
	row, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	col, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	return row, col, true
}

// ClaimReason classifies a failed claim.
type ClaimReason int

const (
	Claimed ClaimReason = iota
	ReasonGameOver
	ReasonUnknownPlayer
	ReasonInvalidCell
	ReasonOwnedBySelf
	ReasonOwnedByOther
)

// String names the reason for logs.
func (r ClaimReason) String() string {
	switch r {
	case Claimed:
		return "claimed"
	case ReasonGameOver:
		return "game over"
	case ReasonUnknownPlayer:
		return "unknown player"
	case ReasonInvalidCell:
		return "invalid cell"
	case ReasonOwnedBySelf:
		return "already owned by you"
	case ReasonOwnedByOther:
		return "already owned"
	}
	return "unknown"
}

// ClaimResult reports the outcome of TryClaimCell. OwnerID names the cell's
// owner: the claimant on success, the prior owner on ReasonOwnedByOther.
type ClaimResult struct {
	OK      bool
	Reason  ClaimReason
	OwnerID string
}

// TryClaimCell attempts to claim a cell for a player. On success the cell is
// marked dirty for the next delta broadcast, the player's score increments,
// and the end-of-game condition is evaluated. Claims are permanent: exactly
// one claimant ever succeeds per cell per round.
func (s *State) TryClaimCell(playerID, cellID string, timestamp int64) ClaimResult {
	if s.gameOver {
		return ClaimResult{Reason: ReasonGameOver}
	}
	if _, ok := s.players[playerID]; !ok {
		return ClaimResult{Reason: ReasonUnknownPlayer}
	}
	row, col, ok := ParseCellID(cellID)
	if !ok || !s.inBounds(row, col) {
		return ClaimResult{Reason: ReasonInvalidCell}
	}
	if cell, owned := s.grid[cellID]; owned {
		if cell.OwnerID == playerID {
			return ClaimResult{Reason: ReasonOwnedBySelf, OwnerID: playerID}
		}
		return ClaimResult{Reason: ReasonOwnedByOther, OwnerID: cell.OwnerID}
	}

	cell := Cell{OwnerID: playerID, ClaimedAt: timestamp}
	s.grid[cellID] = cell
	s.dirty[cellID] = cell
	s.players[playerID].Score++

	s.checkGameEnd()

	return ClaimResult{OK: true, Reason: Claimed, OwnerID: playerID}
}

// MovePlayer applies a cursor move. Out-of-bounds positions and unknown
// players are rejected. Moves carry a per-player sequence number; a move
// whose sequence is not newer than the last applied one is dropped, so a
// delayed datagram cannot overwrite a newer position. A zero sequence means
// the sender carries no ordering info and is applied last-arrival-wins.
// Positions are not delta-tracked: every tick broadcasts the full table.
func (s *State) MovePlayer(playerID string, position [2]int, moveSeq uint32) bool {
	p, ok := s.players[playerID]
	if !ok {
		return false
	}
	if !s.inBounds(position[0], position[1]) {
		return false
	}
	if moveSeq != 0 && moveSeq <= p.moveSeq {
		return false
	}

	if moveSeq != 0 {
		p.moveSeq = moveSeq
	}
	p.Position = position
	s.positions[playerID] = position
	return true
}

func (s *State) inBounds(row, col int) bool {
	return row >= 0 && row < s.gridSize && col >= 0 && col < s.gridSize
}

// checkGameEnd flips gameOver exactly once, when every cell has an owner,
// and computes the winner: the unique maximum scorer, or TieWinner.
func (s *State) checkGameEnd() {
	if len(s.grid) < s.totalCells {
		return
	}
	s.gameOver = true

	maxScore := -1
	var winners []string
	for id, p := range s.players {
		switch {
		case p.Score > maxScore:
			maxScore = p.Score
			winners = winners[:0]
			winners = append(winners, id)
		case p.Score == maxScore:
			winners = append(winners, id)
		}
	}

	if len(winners) > 1 {
		s.winnerID = TieWinner
	} else if len(winners) == 1 {
		s.winnerID = winners[0]
	}
}

// Scoreboard returns a copy of the player→score table.
func (s *State) Scoreboard() map[string]int {
	board := make(map[string]int, len(s.players))
	for id, p := range s.players {
		board[id] = p.Score
	}
	return board
}

// GridSize returns the configured side length.
func (s *State) GridSize() int { return s.gridSize }

// GameOver reports whether the round has ended.
func (s *State) GameOver() bool { return s.gameOver }

// WinnerID returns the computed winner, or "" while the round is live.
func (s *State) WinnerID() string { return s.winnerID }

// Reset clears all ownership and dirty state, parks the players back at
// their corners, zeroes the scores, and reopens the round.
func (s *State) Reset() {
	s.grid = make(map[string]Cell)
	s.dirty = make(map[string]Cell)
	s.gameOver = false
	s.winnerID = ""
	s.gameStarted = true

	for i := 1; i <= DefaultSlots; i++ {
		id := SlotID(i)
		pos := startingCorner(i, s.gridSize)
		p := s.players[id]
		p.Score = 0
		p.Position = pos
		p.moveSeq = 0
		s.positions[id] = pos
	}
}
