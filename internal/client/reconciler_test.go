package client

import (
	"math"
	"testing"
	"time"

	"grid-clash/internal/protocol"
)

func testWelcome() *protocol.Welcome {
	return &protocol.Welcome{
		PlayerID: "player_1",
		GridSize: 8,
		Players: map[string]protocol.PlayerInfo{
			"player_1": {Position: [2]int{0, 0}},
			"player_2": {Position: [2]int{7, 7}},
		},
		PlayerPositions: map[string][2]int{
			"player_1": {0, 0},
			"player_2": {7, 7},
		},
		Grid:        map[string]protocol.CellState{},
		GameStarted: true,
	}
}

func stateMsg(id uint32, gs *protocol.GameState) *protocol.Message {
	gs.SnapshotID = id
	return &protocol.Message{
		Type:       protocol.MsgGameState,
		Version:    protocol.Version,
		SnapshotID: id,
		ServerTsMs: protocol.NowMs(),
		Payload:    gs,
	}
}

func emptyState() *protocol.GameState {
	return &protocol.GameState{
		Players:         map[string]protocol.PlayerInfo{},
		PlayerPositions: map[string][2]int{},
		GridUpdates:     map[string]protocol.CellState{},
	}
}

// TestWelcomeSeedsView checks that the Welcome's full snapshot becomes the
// initial local view.
func TestWelcomeSeedsView(t *testing.T) {
	r := NewReconciler(testWelcome())

	if r.PlayerID() != "player_1" {
		t.Errorf("Wrong player id: %q", r.PlayerID())
	}
	if r.GridSize() != 8 {
		t.Errorf("Wrong grid size: %d", r.GridSize())
	}
	if pos := r.SelfPosition(); pos != [2]int{0, 0} {
		t.Errorf("Wrong self position: %v", pos)
	}
}

// TestSnapshotAdmissionTolerance verifies the reorder guard: snapshots more
// than 5 behind the watermark are dropped, anything closer is admitted.
func TestSnapshotAdmissionTolerance(t *testing.T) {
	r := NewReconciler(testWelcome())
	now := time.Now()

	if !r.ApplyGameState(stateMsg(20, emptyState()), now) {
		t.Fatal("Snapshot 20 should be admitted")
	}
	if r.ApplyGameState(stateMsg(14, emptyState()), now) {
		t.Error("Snapshot 14 is 6 behind the watermark and should be dropped")
	}
	if !r.ApplyGameState(stateMsg(16, emptyState()), now) {
		t.Error("Snapshot 16 is within tolerance and should be admitted")
	}

	st := r.Stats()
	if st.StaleDrops != 1 {
		t.Errorf("Expected 1 stale drop, got %d", st.StaleDrops)
	}
	if st.LastAdmitted != 20 {
		t.Errorf("Watermark should stay at the maximum seen, got %d", st.LastAdmitted)
	}
}

// TestLossGapMetric replays the sequence 10, 11, 15 and expects a reported
// gap of 3 lost snapshots with 15 admitted as current.
func TestLossGapMetric(t *testing.T) {
	r := NewReconciler(testWelcome())
	now := time.Now()

	for _, id := range []uint32{10, 11, 15} {
		if !r.ApplyGameState(stateMsg(id, emptyState()), now) {
			t.Fatalf("Snapshot %d should be admitted", id)
		}
	}

	st := r.Stats()
	if st.LostSnapshots != 3 {
		t.Errorf("Expected 3 lost snapshots, got %d", st.LostSnapshots)
	}
	if st.LastAdmitted != 15 {
		t.Errorf("Expected watermark 15, got %d", st.LastAdmitted)
	}
}

// TestLatencyClamp drives the clock-based estimate outside its bounds and
// checks the clamp.
func TestLatencyClamp(t *testing.T) {
	r := NewReconciler(testWelcome())
	now := time.Now()

	// Timestamp from the far future: raw estimate is negative.
	msg := stateMsg(1, emptyState())
	msg.ServerTsMs = uint64(now.UnixMilli()) + 60_000
	r.ApplyGameState(msg, now)
	if got := r.Stats().OneWayLatencyMs; got != 1 {
		t.Errorf("Negative estimate should clamp to 1 ms, got %.1f", got)
	}

	// Timestamp from the distant past: raw estimate is huge.
	msg = stateMsg(2, emptyState())
	msg.ServerTsMs = uint64(now.UnixMilli()) - 3_600_000
	r.ApplyGameState(msg, now)
	if got := r.Stats().OneWayLatencyMs; got != 5000 {
		t.Errorf("Huge estimate should clamp to 5000 ms, got %.1f", got)
	}
}

// TestRoundTripPreferred verifies that once an acquire round trip has been
// measured, one-way latency reports half of it instead of the clock estimate.
func TestRoundTripPreferred(t *testing.T) {
	r := NewReconciler(testWelcome())
	sent := time.Now()

	r.TrackAttempt(5, "3_3", sent)
	r.ResolveResponse(&protocol.AcquireResponse{CellID: "3_3", Success: true, OwnerID: "player_1"},
		sent.Add(40*time.Millisecond))

	st := r.Stats()
	if math.Abs(st.RoundTripMs-40) > 1 {
		t.Errorf("Expected ~40 ms round trip, got %.1f", st.RoundTripMs)
	}
	if math.Abs(st.OneWayLatencyMs-20) > 1 {
		t.Errorf("One-way should be half the round trip, got %.1f", st.OneWayLatencyMs)
	}
	if st.PendingClaims != 0 {
		t.Errorf("Resolved attempt should not stay pending, got %d", st.PendingClaims)
	}
	if owner, ok := r.CellOwner("3_3"); !ok || owner != "player_1" {
		t.Errorf("Successful claim should update the local grid, got %q/%v", owner, ok)
	}
}

// TestDuplicateResponseIsNoOp resolves the same cell twice; the second
// response finds no unresolved attempt.
func TestDuplicateResponseIsNoOp(t *testing.T) {
	r := NewReconciler(testWelcome())
	sent := time.Now()

	r.TrackAttempt(5, "2_2", sent)
	resp := &protocol.AcquireResponse{CellID: "2_2", Success: true, OwnerID: "player_1"}
	r.ResolveResponse(resp, sent.Add(10*time.Millisecond))
	first := r.Stats().RoundTripMs

	r.ResolveResponse(resp, sent.Add(500*time.Millisecond))
	if got := r.Stats().RoundTripMs; got != first {
		t.Errorf("Duplicate response changed the round trip: %.1f vs %.1f", got, first)
	}
}

// TestExpireAttempts drops attempts whose retry budget has run out.
func TestExpireAttempts(t *testing.T) {
	r := NewReconciler(testWelcome())
	now := time.Now()

	r.TrackAttempt(1, "0_1", now.Add(-3*time.Second))
	r.TrackAttempt(2, "0_2", now)

	if dropped := r.ExpireAttempts(now, 2*time.Second); dropped != 1 {
		t.Errorf("Expected 1 expired attempt, got %d", dropped)
	}
	if got := r.Stats().PendingClaims; got != 1 {
		t.Errorf("Expected 1 pending claim, got %d", got)
	}
}

// TestRemoteInterpolation eases a remote player toward a new target and
// checks convergence with the final snap.
func TestRemoteInterpolation(t *testing.T) {
	r := NewReconciler(testWelcome())
	now := time.Now()

	gs := emptyState()
	gs.PlayerPositions["player_2"] = [2]int{7, 3}
	r.ApplyGameState(stateMsg(1, gs), now)

	first := r.RenderPositions()["player_2"]
	if first[1] >= 7 || first[1] <= 3 {
		t.Errorf("First frame should land between old and new column, got %.2f", first[1])
	}

	var pos [2]float64
	for i := 0; i < 30; i++ {
		pos = r.RenderPositions()["player_2"]
	}
	if pos != [2]float64{7, 3} {
		t.Errorf("Interpolation should converge and snap to the target, got %v", pos)
	}
}

// TestSelfPrediction gives the local player a velocity and expects the
// rendered position to lead the authoritative one.
func TestSelfPrediction(t *testing.T) {
	r := NewReconciler(testWelcome())
	now := time.Now()

	gs := emptyState()
	gs.PlayerPositions["player_1"] = [2]int{0, 2}
	r.ApplyGameState(stateMsg(1, gs), now)

	gs = emptyState()
	gs.PlayerPositions["player_1"] = [2]int{0, 4}
	r.ApplyGameState(stateMsg(2, gs), now)

	// First frame snaps onto the authoritative position, the next one leads.
	r.RenderPositions()
	pos := r.RenderPositions()["player_1"]
	if pos[1] <= 4 {
		t.Errorf("Prediction should lead the authoritative column 4, got %.2f", pos[1])
	}
}

// TestRoundResetClearsGrid verifies a game-over-to-fresh-round transition
// wipes locally accumulated cells that deltas cannot remove.
func TestRoundResetClearsGrid(t *testing.T) {
	r := NewReconciler(testWelcome())
	now := time.Now()

	gs := emptyState()
	gs.GridUpdates["1_1"] = protocol.CellState{OwnerID: "player_2", ClaimedAt: 1}
	gs.GameOver = true
	gs.WinnerID = "player_2"
	r.ApplyGameState(stateMsg(1, gs), now)

	if over, winner := r.Outcome(); !over || winner != "player_2" {
		t.Fatalf("Expected game over with winner player_2, got %v/%q", over, winner)
	}

	r.ApplyGameState(stateMsg(2, emptyState()), now)

	if over, _ := r.Outcome(); over {
		t.Error("Fresh round should clear the game-over flag")
	}
	if _, owned := r.CellOwner("1_1"); owned {
		t.Error("Fresh round should clear locally accumulated cells")
	}
}

// TestRedundancyBackfillsVelocity loses a tick and checks the redundancy
// block restores a one-tick velocity sample instead of spanning the gap.
func TestRedundancyBackfillsVelocity(t *testing.T) {
	r := NewReconciler(testWelcome())
	now := time.Now()

	gs := emptyState()
	gs.PlayerPositions["player_1"] = [2]int{0, 1}
	r.ApplyGameState(stateMsg(1, gs), now)

	// Tick 2 is lost. Tick 3 carries tick 2's positions redundantly.
	gs = emptyState()
	gs.PlayerPositions["player_1"] = [2]int{0, 3}
	gs.Redundancy = &protocol.Redundancy{
		PrevSnapshotID:      2,
		PrevPlayerPositions: map[string][2]int{"player_1": {0, 2}},
	}
	r.ApplyGameState(stateMsg(3, gs), now)

	// Velocity should be one column per tick, so the lead is half a column.
	r.RenderPositions()
	pos := r.RenderPositions()["player_1"]
	if math.Abs(pos[1]-3.5) > 0.01 {
		t.Errorf("Expected predicted column 3.5 from backfilled sample, got %.2f", pos[1])
	}
}
