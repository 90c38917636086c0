package game

import (
	"sync"
	"testing"
)

// TestNewState verifies the four fixed slots start at their corners with
// zero score on a live game.
func TestNewState(t *testing.T) {
	s := NewState(20)

	v := s.Snapshot(false)
	if !v.GameStarted {
		t.Error("Game should be live immediately at construction")
	}
	if v.GameOver {
		t.Error("Fresh game should not be over")
	}
	if len(v.Players) != 4 {
		t.Fatalf("Expected 4 players, got %d", len(v.Players))
	}

	corners := map[string][2]int{
		"player_1": {0, 0},
		"player_2": {19, 19},
		"player_3": {0, 19},
		"player_4": {19, 0},
	}
	for id, want := range corners {
		p, ok := v.Players[id]
		if !ok {
			t.Fatalf("Missing player %s", id)
		}
		if p.Position != want {
			t.Errorf("%s should start at %v, got %v", id, want, p.Position)
		}
		if p.Score != 0 {
			t.Errorf("%s should start with score 0, got %d", id, p.Score)
		}
	}
}

// TestParseCellID covers the accepted and rejected cell id shapes.
func TestParseCellID(t *testing.T) {
	tests := []struct {
		id       string
		row, col int
		ok       bool
	}{
		{"0_0", 0, 0, true},
		{"19_3", 19, 3, true},
		{"-1_5", -1, 5, true}, // parses; bounds are checked separately
		{"abc", 0, 0, false},
		{"1_2_3", 0, 0, false},
		{"1_x", 0, 0, false},
		{"_", 0, 0, false},
		{"", 0, 0, false},
	}

	for _, tt := range tests {
		row, col, ok := ParseCellID(tt.id)
		if ok != tt.ok {
			t.Errorf("ParseCellID(%q) ok=%v, want %v", tt.id, ok, tt.ok)
			continue
		}
		if ok && (row != tt.row || col != tt.col) {
			t.Errorf("ParseCellID(%q) = (%d,%d), want (%d,%d)", tt.id, row, col, tt.row, tt.col)
		}
	}
}

// TestTryClaimCell walks through each failure reason and the success path.
func TestTryClaimCell(t *testing.T) {
	s := NewState(4)

	// Success marks dirty and bumps the score.
	res := s.TryClaimCell("player_1", "0_0", 1000)
	if !res.OK || res.OwnerID != "player_1" {
		t.Fatalf("Expected successful claim, got %+v", res)
	}
	v := s.Snapshot(false)
	if v.Players["player_1"].Score != 1 {
		t.Errorf("Score should be 1, got %d", v.Players["player_1"].Score)
	}
	if _, dirty := v.DirtyCells["0_0"]; !dirty {
		t.Error("Claimed cell should be dirty")
	}

	// Re-claim by the same player.
	res = s.TryClaimCell("player_1", "0_0", 1001)
	if res.OK || res.Reason != ReasonOwnedBySelf {
		t.Errorf("Expected ReasonOwnedBySelf, got %+v", res)
	}

	// Claim by another player names the current owner.
	res = s.TryClaimCell("player_2", "0_0", 1002)
	if res.OK || res.Reason != ReasonOwnedByOther || res.OwnerID != "player_1" {
		t.Errorf("Expected ReasonOwnedByOther naming player_1, got %+v", res)
	}

	// Unknown player.
	res = s.TryClaimCell("player_9", "1_1", 1003)
	if res.OK || res.Reason != ReasonUnknownPlayer {
		t.Errorf("Expected ReasonUnknownPlayer, got %+v", res)
	}

	// Invalid cell ids: malformed and out of bounds.
	for _, id := range []string{"zz", "1-1", "9_9", "-1_0", "0_4"} {
		res = s.TryClaimCell("player_1", id, 1004)
		if res.OK || res.Reason != ReasonInvalidCell {
			t.Errorf("Cell %q: expected ReasonInvalidCell, got %+v", id, res)
		}
	}
}

// TestClaimExclusivity verifies exactly one claimant succeeds per cell even
// under concurrent-style interleaving of attempts.
func TestClaimExclusivity(t *testing.T) {
	s := NewState(8)

	// The store itself is single-threaded by contract; the engine holds the
	// lock. Simulate the race by interleaving claims from all four players.
	var mu sync.Mutex
	winners := make(map[string]int)

	var wg sync.WaitGroup
	for i := 1; i <= 4; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			mu.Lock()
			res := s.TryClaimCell(id, "3_3", 1)
			if res.OK {
				winners[id]++
			} else if res.Reason != ReasonOwnedByOther && res.Reason != ReasonOwnedBySelf {
				t.Errorf("Unexpected failure reason: %+v", res)
			}
			mu.Unlock()
		}(SlotID(i))
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("Exactly one claimant should succeed, got %v", winners)
	}
}

// TestGameEndAndWinner claims a full 4x4 grid split 9/7 and checks the
// winner is declared on the final claim.
func TestGameEndAndWinner(t *testing.T) {
	s := NewState(4)

	claimed := 0
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			claimant := "player_1"
			if claimed >= 9 {
				claimant = "player_2"
			}
			res := s.TryClaimCell(claimant, CellID(row, col), int64(claimed))
			if !res.OK {
				t.Fatalf("Claim %d failed: %+v", claimed, res)
			}
			claimed++
		}
	}

	if !s.GameOver() {
		t.Fatal("Game should be over after all 16 cells claimed")
	}
	if s.WinnerID() != "player_1" {
		t.Errorf("Winner should be player_1 (9 vs 7), got %q", s.WinnerID())
	}

	board := s.Scoreboard()
	if board["player_1"] != 9 || board["player_2"] != 7 {
		t.Errorf("Scoreboard wrong: %v", board)
	}

	// Claims after game over fail with the game-over reason.
	res := s.TryClaimCell("player_3", "0_0", 99)
	if res.OK || res.Reason != ReasonGameOver {
		t.Errorf("Expected ReasonGameOver, got %+v", res)
	}
}

// TestTieOutcome verifies an even split yields the tie marker, never an
// arbitrary player.
func TestTieOutcome(t *testing.T) {
	s := NewState(2)

	s.TryClaimCell("player_1", "0_0", 1)
	s.TryClaimCell("player_1", "0_1", 2)
	s.TryClaimCell("player_2", "1_0", 3)
	s.TryClaimCell("player_2", "1_1", 4)

	if !s.GameOver() {
		t.Fatal("Game should be over")
	}
	if s.WinnerID() != TieWinner {
		t.Errorf("Expected tie marker, got %q", s.WinnerID())
	}
}

// TestMovePlayer covers bounds checks and the stale-move guard.
func TestMovePlayer(t *testing.T) {
	s := NewState(20)

	if !s.MovePlayer("player_1", [2]int{5, 5}, 1) {
		t.Fatal("In-bounds move should apply")
	}
	if s.MovePlayer("player_1", [2]int{20, 0}, 2) {
		t.Error("Out-of-bounds row should be rejected")
	}
	if s.MovePlayer("player_1", [2]int{0, -1}, 3) {
		t.Error("Negative column should be rejected")
	}
	if s.MovePlayer("ghost", [2]int{1, 1}, 1) {
		t.Error("Unknown player should be rejected")
	}

	// A delayed move with an older sequence must not overwrite.
	if !s.MovePlayer("player_1", [2]int{6, 6}, 10) {
		t.Fatal("Newer move should apply")
	}
	if s.MovePlayer("player_1", [2]int{2, 2}, 4) {
		t.Error("Stale move sequence should be dropped")
	}
	if pos := s.Snapshot(false).Positions["player_1"]; pos != [2]int{6, 6} {
		t.Errorf("Position should stay at newest move, got %v", pos)
	}

	// Legacy senders without move sequencing still apply last-arrival-wins.
	if !s.MovePlayer("player_1", [2]int{7, 7}, 0) {
		t.Error("Zero move sequence should be accepted")
	}
}

// TestSnapshotDirtyReset verifies the dirty set is cleared atomically with
// the read only when requested.
func TestSnapshotDirtyReset(t *testing.T) {
	s := NewState(4)
	s.TryClaimCell("player_1", "1_1", 1)

	v := s.Snapshot(false)
	if len(v.DirtyCells) != 1 {
		t.Fatalf("Expected 1 dirty cell, got %d", len(v.DirtyCells))
	}

	// A resetting read returns the dirty cells one last time.
	v = s.Snapshot(true)
	if len(v.DirtyCells) != 1 {
		t.Fatalf("Resetting read should still see the dirty cell, got %d", len(v.DirtyCells))
	}

	v = s.Snapshot(false)
	if len(v.DirtyCells) != 0 {
		t.Errorf("Dirty set should be empty after reset, got %d", len(v.DirtyCells))
	}
	if len(v.Grid) != 1 {
		t.Errorf("Grid should keep the claimed cell, got %d", len(v.Grid))
	}
}

// TestReset verifies a full reset restores corners, scores, ownership and
// the lifecycle flags.
func TestReset(t *testing.T) {
	s := NewState(2)
	s.TryClaimCell("player_1", "0_0", 1)
	s.TryClaimCell("player_1", "0_1", 2)
	s.TryClaimCell("player_1", "1_0", 3)
	s.TryClaimCell("player_1", "1_1", 4)
	s.MovePlayer("player_2", [2]int{0, 0}, 1)

	if !s.GameOver() {
		t.Fatal("Setup should end the game")
	}

	s.Reset()

	v := s.Snapshot(false)
	if v.GameOver || v.WinnerID != "" {
		t.Error("Reset should reopen the round")
	}
	if len(v.Grid) != 0 || len(v.DirtyCells) != 0 {
		t.Error("Reset should clear ownership and dirty state")
	}
	if v.Players["player_1"].Score != 0 {
		t.Error("Reset should zero scores")
	}
	if v.Positions["player_2"] != [2]int{1, 1} {
		t.Errorf("player_2 should be back at its corner, got %v", v.Positions["player_2"])
	}

	// Move sequencing restarts after reset.
	if !s.MovePlayer("player_2", [2]int{0, 1}, 1) {
		t.Error("Move seq 1 should apply after reset")
	}
}
