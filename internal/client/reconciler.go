// Package client implements the Grid Clash client: a UDP driver that feeds a
// reconciliation engine, which keeps a monotonically advancing local view of
// the authoritative state and smooths positions between broadcast ticks.
package client

import (
	"math"
	"sync"
	"time"

	"grid-clash/internal/protocol"
)

const (
	// Snapshots older than the watermark by more than this are reorder
	// garbage; anything closer is a late-but-useful packet.
	admissionTolerance = 5

	minLatencyMs = 1
	maxLatencyMs = 5000

	// Rendering smoothness knobs. Blend is applied per frame, not per tick.
	interpolationBlend  = 0.6
	interpolationEps    = 0.01
	predictionLookahead = 0.5
	snapBackDistance    = 2.0
)

// AcquisitionAttempt records one outbound claim for round-trip measurement
// and response correlation.
type AcquisitionAttempt struct {
	CellID           string
	Seq              uint32
	SentAt           time.Time
	ResponseReceived bool
	RoundTripMs      float64
}

// Stats is the reconciler's metrics snapshot.
type Stats struct {
	LastAdmitted    uint32
	LostSnapshots   uint64
	StaleDrops      uint64
	OneWayLatencyMs float64
	RoundTripMs     float64
	PendingClaims   int
}

// Reconciler derives the client's local view from inbound messages. The UDP
// receive goroutine and the frame loop both touch it, so every entry point
// takes the mutex; contention is low at these rates.
type Reconciler struct {
	mu sync.Mutex

	playerID string
	gridSize int

	players map[string]protocol.PlayerInfo
	grid    map[string]protocol.CellState

	targets  map[string][2]int     // latest authoritative positions
	rendered map[string][2]float64 // smoothed per-frame view

	// Two most recent authoritative self positions, for velocity prediction.
	selfPrev, selfCur [2]int
	haveSelfPrev      bool

	lastAdmitted  uint32
	nextExpected  uint32 // 0 until the first admission
	lostSnapshots uint64
	staleDrops    uint64

	clockLatencyMs float64 // receive-time minus header timestamp, clamped
	roundTripMs    float64 // last measured acquire round trip

	attempts map[uint32]*AcquisitionAttempt

	gameStarted bool
	gameOver    bool
	winnerID    string
}

// NewReconciler seeds the local view from the Welcome's full snapshot.
func NewReconciler(w *protocol.Welcome) *Reconciler {
	r := &Reconciler{
		playerID:    w.PlayerID,
		gridSize:    w.GridSize,
		players:     make(map[string]protocol.PlayerInfo, len(w.Players)),
		grid:        make(map[string]protocol.CellState, len(w.Grid)),
		targets:     make(map[string][2]int, len(w.PlayerPositions)),
		rendered:    make(map[string][2]float64, len(w.PlayerPositions)),
		attempts:    make(map[uint32]*AcquisitionAttempt),
		gameStarted: w.GameStarted,
		gameOver:    w.GameOver,
	}
	for id, p := range w.Players {
		r.players[id] = p
	}
	for id, c := range w.Grid {
		r.grid[id] = c
	}
	for id, pos := range w.PlayerPositions {
		r.targets[id] = pos
		r.rendered[id] = [2]float64{float64(pos[0]), float64(pos[1])}
	}
	if pos, ok := w.PlayerPositions[w.PlayerID]; ok {
		r.selfCur = pos
	}
	return r
}

// PlayerID returns the slot assigned by the server.
func (r *Reconciler) PlayerID() string { return r.playerID }

// GridSize returns the board dimension from the Welcome.
func (r *Reconciler) GridSize() int { return r.gridSize }

// ApplyGameState admits or discards one broadcast. Returns false when the
// snapshot was rejected as stale.
func (r *Reconciler) ApplyGameState(msg *protocol.Message, now time.Time) bool {
	gs := msg.Payload.(*protocol.GameState)
	id := gs.SnapshotID

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lastAdmitted > id && r.lastAdmitted-id > admissionTolerance {
		r.staleDrops++
		return false
	}
	if id > r.lastAdmitted {
		r.lastAdmitted = id
	}

	var gap uint32
	if r.nextExpected != 0 && id > r.nextExpected {
		gap = id - r.nextExpected
		r.lostSnapshots += uint64(gap)
	}
	if id >= r.nextExpected {
		r.nextExpected = id + 1
	}

	// Clock-based one-way estimate; the acquire round trip supersedes it
	// when available.
	oneWay := float64(now.UnixMilli()) - float64(msg.ServerTsMs)
	r.clockLatencyMs = math.Min(math.Max(oneWay, minLatencyMs), maxLatencyMs)

	// A round turning over (game over then a fresh grid) arrives as deltas
	// that cannot express cell removal, so clear the local grid explicitly.
	if r.gameOver && !gs.GameOver {
		r.grid = make(map[string]protocol.CellState)
		r.winnerID = ""
	}
	r.gameOver = gs.GameOver
	if gs.GameOver {
		r.winnerID = gs.WinnerID
	}

	for pid, p := range gs.Players {
		r.players[pid] = p
	}
	for cid, c := range gs.GridUpdates {
		r.grid[cid] = c
	}

	if pos, ok := gs.PlayerPositions[r.playerID]; ok {
		if gap > 0 && gs.Redundancy != nil {
			// Backfill the missed sample so predicted velocity spans one
			// tick instead of the whole gap.
			if prev, ok := gs.Redundancy.PrevPlayerPositions[r.playerID]; ok {
				r.selfCur = prev
			}
		}
		r.selfPrev, r.selfCur = r.selfCur, pos
		r.haveSelfPrev = true
	}
	for pid, pos := range gs.PlayerPositions {
		r.targets[pid] = pos
		if _, ok := r.rendered[pid]; !ok {
			r.rendered[pid] = [2]float64{float64(pos[0]), float64(pos[1])}
		}
	}

	return true
}

// ApplyGameOver records the final outcome from the dedicated announcement.
func (r *Reconciler) ApplyGameOver(p *protocol.GameOver) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gameOver = true
	r.winnerID = p.WinnerID
	for pid, score := range p.Scoreboard {
		info := r.players[pid]
		info.Score = score
		r.players[pid] = info
	}
}

// TrackAttempt records an outbound claim under its request sequence number.
func (r *Reconciler) TrackAttempt(seq uint32, cellID string, sentAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[seq] = &AcquisitionAttempt{CellID: cellID, Seq: seq, SentAt: sentAt}
}

// ResolveResponse correlates an AcquireResponse with the oldest unresolved
// attempt for that cell and measures the round trip. Duplicate responses
// find nothing and are no-ops. The grid is updated immediately on success
// rather than waiting a tick for the broadcast delta.
func (r *Reconciler) ResolveResponse(resp *protocol.AcquireResponse, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var att *AcquisitionAttempt
	for _, a := range r.attempts {
		if a.CellID != resp.CellID || a.ResponseReceived {
			continue
		}
		if att == nil || a.SentAt.Before(att.SentAt) {
			att = a
		}
	}
	if att != nil {
		att.ResponseReceived = true
		att.RoundTripMs = float64(now.Sub(att.SentAt).Microseconds()) / 1000.0
		r.roundTripMs = att.RoundTripMs
		delete(r.attempts, att.Seq)
	}

	if resp.Success {
		r.grid[resp.CellID] = protocol.CellState{OwnerID: resp.OwnerID, ClaimedAt: now.UnixMilli()}
	}
}

// ExpireAttempts forgets claims older than maxAge. Their retries have been
// abandoned by then, so no response will ever correlate. Returns how many
// were dropped.
func (r *Reconciler) ExpireAttempts(now time.Time, maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := 0
	for seq, a := range r.attempts {
		if now.Sub(a.SentAt) > maxAge {
			delete(r.attempts, seq)
			dropped++
		}
	}
	return dropped
}

// RenderPositions advances the smoothing one frame and returns fractional
// positions for drawing. The local player is dead-reckoned ahead of its
// authoritative position; everyone else eases toward their latest target.
func (r *Reconciler) RenderPositions() map[string][2]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	for pid, target := range r.targets {
		tf := [2]float64{float64(target[0]), float64(target[1])}
		cur := r.rendered[pid]

		if pid == r.playerID {
			predicted := tf
			if r.haveSelfPrev {
				predicted[0] += float64(r.selfCur[0]-r.selfPrev[0]) * predictionLookahead
				predicted[1] += float64(r.selfCur[1]-r.selfPrev[1]) * predictionLookahead
			}
			if dist(cur, tf) > snapBackDistance {
				r.rendered[pid] = tf
			} else {
				r.rendered[pid] = predicted
			}
			continue
		}

		if dist(cur, tf) <= interpolationEps {
			r.rendered[pid] = tf
			continue
		}
		cur[0] += (tf[0] - cur[0]) * interpolationBlend
		cur[1] += (tf[1] - cur[1]) * interpolationBlend
		r.rendered[pid] = cur
	}

	out := make(map[string][2]float64, len(r.rendered))
	for pid, pos := range r.rendered {
		out[pid] = pos
	}
	return out
}

func dist(a, b [2]float64) float64 {
	dr := a[0] - b[0]
	dc := a[1] - b[1]
	return math.Sqrt(dr*dr + dc*dc)
}

// CellOwner reports who owns a cell in the local view, if anyone.
func (r *Reconciler) CellOwner(cellID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.grid[cellID]
	return c.OwnerID, ok
}

// SelfPosition returns the latest authoritative position of the local player.
func (r *Reconciler) SelfPosition() [2]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.targets[r.playerID]
}

// Scoreboard copies the current score table.
func (r *Reconciler) Scoreboard() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.players))
	for pid, p := range r.players {
		out[pid] = p.Score
	}
	return out
}

// Outcome reports the round result once the game is over.
func (r *Reconciler) Outcome() (over bool, winnerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gameOver, r.winnerID
}

// Stats snapshots the reconciler's metrics. One-way latency prefers half of
// the measured acquire round trip, which is immune to clock offset; the
// clock-based estimate is the fallback.
func (r *Reconciler) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	oneWay := r.clockLatencyMs
	if r.roundTripMs > 0 {
		oneWay = r.roundTripMs / 2
	}
	return Stats{
		LastAdmitted:    r.lastAdmitted,
		LostSnapshots:   r.lostSnapshots,
		StaleDrops:      r.staleDrops,
		OneWayLatencyMs: oneWay,
		RoundTripMs:     r.roundTripMs,
		PendingClaims:   len(r.attempts),
	}
}
