// Package server implements the Grid Clash synchronization engine: it owns
// the authoritative state store, drives the fixed-rate delta broadcast, and
// runs the reliability overlay for critical replies.
package server

import (
	"bytes"
	"log"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"grid-clash/internal/config"
	"grid-clash/internal/game"
	"grid-clash/internal/metricslog"
	"grid-clash/internal/protocol"
	"grid-clash/internal/reliability"
)

const (
	readBufferSize  = 64 * 1024
	readDeadline    = 50 * time.Millisecond // short, so loops observe shutdown
	cleanupInterval = time.Second
	retryInterval   = 50 * time.Millisecond
	metricsInterval = 10 * time.Second
)

// serverMetricsColumns is the CSV row layout consumed by the offline
// analysis tooling.
var serverMetricsColumns = []string{
	"timestamp", "goroutines", "bytes_sent", "snapshot_id", "claimed_cells",
	"player1_row", "player1_col", "player2_row", "player2_col",
	"player3_row", "player3_col", "player4_row", "player4_col",
}

// Engine is the server synchronization engine. All mutation of the state
// store and session table is serialized by mu; the overlay and the counters
// carry their own synchronization, so a reliable send issued from inside
// the receive path never needs a re-entrant lock.
type Engine struct {
	cfg     config.ServerConfig
	gameCfg config.GameConfig

	conn *net.UDPConn

	mu       sync.Mutex
	state    *game.State
	sessions *sessionTable

	// Redundancy block source: previous tick's positions, broadcast-loop only.
	prevPositions  map[string][2]int
	prevSnapshotID uint32

	gameOverSent bool
	gameOverAt   time.Time

	overlay *reliability.Overlay
	limiter *AddrRateLimiter

	seq        atomic.Uint32 // shared sequence space: broadcasts + reliable sends
	snapshotID atomic.Uint32 // strictly monotonic, one per broadcast tick

	running  atomic.Bool
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	startTime time.Time

	packetsSent     atomic.Uint64
	packetsReceived atomic.Uint64
	bytesSent       atomic.Uint64
	bytesReceived   atomic.Uint64
	lastRetransmits uint64 // metrics loop only

	sink *metricslog.Sink // nil when CSV logging is disabled
}

// NewEngine builds an engine. The game is live immediately; no minimum
// player count is waited for.
func NewEngine(cfg config.ServerConfig, gameCfg config.GameConfig) *Engine {
	e := &Engine{
		cfg:       cfg,
		gameCfg:   gameCfg,
		state:     game.NewState(gameCfg.GridSize),
		sessions:  newSessionTable(gameCfg.MaxPlayers),
		limiter:   NewAddrRateLimiter(DefaultAddrRateLimitConfig),
		stopChan:  make(chan struct{}),
		startTime: time.Now(),
	}
	e.overlay = reliability.New(
		reliability.Policy{RetryInterval: cfg.RetryInterval, MaxAttempts: cfg.MaxRetries},
		e.sendToAddr,
		e.nextSeq,
	)
	if cfg.MetricsLogPath != "" {
		e.sink = metricslog.New(cfg.MetricsLogPath, serverMetricsColumns)
	}
	return e
}

// Start binds the UDP socket and launches the receive, broadcast, cleanup,
// retry and metrics loops. Failure to bind is the only fatal error in the
// subsystem.
func (e *Engine) Start() error {
	addr, err := net.ResolveUDPAddr("udp", e.cfg.ListenAddr())
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}
	conn.SetReadBuffer(1024 * 1024)
	conn.SetWriteBuffer(1024 * 1024)
	e.conn = conn

	if e.sink != nil {
		if err := e.sink.Start(); err != nil {
			log.Printf("⚠️ Metrics CSV disabled: %v", err)
			e.sink = nil
		}
	}

	e.running.Store(true)
	e.wg.Add(5)
	go e.receiveLoop()
	go e.broadcastLoop()
	go e.cleanupLoop()
	go e.retryLoop()
	go e.metricsLoop()

	log.Printf("🎮 Grid Clash server on %s (%d Hz, %dx%d grid)",
		conn.LocalAddr(), e.cfg.TickRate, e.gameCfg.GridSize, e.gameCfg.GridSize)
	return nil
}

// Stop shuts the engine down cooperatively: the running flag is cleared,
// every loop observes it on its next wake and exits, and the socket is
// closed last so in-flight sends degrade to no-ops.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.running.Store(false)
		close(e.stopChan)
		e.wg.Wait()

		e.limiter.Stop()
		if e.sink != nil {
			e.sink.Stop()
		}
		if e.conn != nil {
			e.conn.Close()
		}
		log.Println("🛑 Grid Clash server stopped")
	})
}

// Addr returns the bound socket address (useful when Port was 0).
func (e *Engine) Addr() net.Addr {
	if e.conn == nil {
		return nil
	}
	return e.conn.LocalAddr()
}

func (e *Engine) nextSeq() uint32 {
	return e.seq.Add(1)
}

// sendToAddr is the raw transmit path shared by direct sends and the
// overlay. Transport errors are swallowed: a single bad send must never
// abort a loop, and after shutdown sends are no-ops.
func (e *Engine) sendToAddr(addr net.Addr, data []byte) {
	if !e.running.Load() || e.conn == nil {
		return
	}
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return
	}
	if _, err := e.conn.WriteToUDP(data, udpAddr); err != nil {
		return
	}
	e.packetsSent.Add(1)
	e.bytesSent.Add(uint64(len(data)))
	packetsSentTotal.Inc()
	bytesSentTotal.Add(float64(len(data)))
}

// =============================================================================
// RECEIVE PATH
// =============================================================================

func (e *Engine) receiveLoop() {
	defer e.wg.Done()

	buf := make([]byte, readBufferSize)
	for e.running.Load() {
		e.conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, addr, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			continue
		}

		e.packetsReceived.Add(1)
		e.bytesReceived.Add(uint64(n))
		packetsReceivedTotal.Inc()
		bytesReceivedTotal.Add(float64(n))

		if !e.limiter.Allow(addr) {
			recordDrop("rate_limited")
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		e.handleDatagram(data, addr)
	}
}

func (e *Engine) handleDatagram(data []byte, addr *net.UDPAddr) {
	msg := protocol.Decode(data)
	if msg == nil {
		// Legacy bootstrap: a plain-text CONNECT datagram admits a session.
		if bytes.Contains(data, []byte(protocol.ConnectToken)) {
			e.admitSession(addr)
			return
		}
		recordDrop("malformed")
		return
	}

	e.mu.Lock()
	if sess := e.sessions.lookup(addr); sess != nil {
		sess.LastSeen = time.Now()
	}
	e.mu.Unlock()

	switch msg.Type {
	case protocol.MsgConnectRequest:
		e.admitSession(addr)
	case protocol.MsgAcquireRequest:
		e.handleAcquire(addr, msg)
	case protocol.MsgPlayerMove:
		e.handleMove(addr, msg)
	case protocol.MsgAck:
		e.overlay.Acknowledge(msg.Payload.(*protocol.Ack).AckedSeq)
	case protocol.MsgHeartbeat:
		// Liveness touch already happened above.
	default:
		// Client-bound types arriving at the server are dropped quietly.
	}
}

// admitSession assigns the lowest free slot and sends the Welcome with the
// full grid. A connect from an address that already owns a live session
// re-sends that session's Welcome instead of allocating a second slot, so
// duplicate connects before the old session times out are idempotent. When
// every slot is taken the attempt is ignored silently.
func (e *Engine) admitSession(addr *net.UDPAddr) {
	e.mu.Lock()

	if sess := e.sessions.lookup(addr); sess != nil {
		sess.LastSeen = time.Now()
		welcome := e.buildWelcomeLocked(sess)
		e.mu.Unlock()
		e.sendEncoded(addr, protocol.MsgWelcome, welcome)
		return
	}

	sess := e.sessions.admit(addr, time.Now())
	if sess == nil {
		e.mu.Unlock()
		recordDrop("slots_full")
		return
	}
	welcome := e.buildWelcomeLocked(sess)
	sess.State = SessionActive
	sessionCount.Set(float64(e.sessions.count()))
	e.mu.Unlock()

	log.Printf("👤 New session %s: %s assigned to %s", sess.ID[:8], addr, sess.PlayerID)
	e.sendEncoded(addr, protocol.MsgWelcome, welcome)
}

// buildWelcomeLocked snapshots without dirty reset: the Welcome carries the
// full grid, deltas stay intact for the next broadcast tick.
func (e *Engine) buildWelcomeLocked(sess *Session) *protocol.Welcome {
	v := e.state.Snapshot(false)
	return &protocol.Welcome{
		PlayerID:        sess.PlayerID,
		Players:         toWirePlayers(v.Players),
		Grid:            toWireCells(v.Grid),
		PlayerPositions: v.Positions,
		GridSize:        v.GridSize,
		GameStarted:     v.GameStarted,
		GameOver:        v.GameOver,
	}
}

// handleAcquire validates a claim through the state store. The request is
// always acked so the sender's local retry stops; the outcome then travels
// through the overlay on success (its loss would change the game) and
// best-effort on failure.
func (e *Engine) handleAcquire(addr *net.UDPAddr, msg *protocol.Message) {
	req := msg.Payload.(*protocol.AcquireRequest)

	e.mu.Lock()
	sess := e.sessions.lookup(addr)
	if sess == nil {
		e.mu.Unlock()
		recordDrop("unknown_session")
		return
	}
	if req.PlayerID != sess.PlayerID {
		// A session may only act for its own slot.
		e.mu.Unlock()
		recordDrop("unknown_session")
		return
	}

	res := e.state.TryClaimCell(req.PlayerID, req.CellID, req.Timestamp)

	// Ack first, unconditionally.
	e.sendEncoded(addr, protocol.MsgAck, &protocol.Ack{AckedSeq: msg.Seq})

	if res.OK {
		recordClaim("ok")
		e.overlay.Send(addr, func(seq uint32) []byte {
			data, _ := protocol.Encode(protocol.MsgAcquireResponse, 0, seq, &protocol.AcquireResponse{
				CellID:  req.CellID,
				Success: true,
				OwnerID: req.PlayerID,
			})
			return data
		})
		log.Printf("✅ %s claimed cell %s", req.PlayerID, req.CellID)
	} else {
		switch res.Reason {
		case game.ReasonOwnedByOther, game.ReasonOwnedBySelf:
			recordClaim("owned")
		case game.ReasonGameOver:
			recordClaim("game_over")
		case game.ReasonUnknownPlayer:
			recordClaim("unknown_player")
		default:
			recordClaim("invalid")
		}
		e.sendEncoded(addr, protocol.MsgAcquireResponse, &protocol.AcquireResponse{
			CellID:  req.CellID,
			Success: false,
			OwnerID: res.OwnerID,
		})
	}
	e.mu.Unlock()
}

// handleMove applies a cursor move. No acknowledgment: movement is
// frequent and self-correcting, the next tick rebroadcasts every position.
func (e *Engine) handleMove(addr *net.UDPAddr, msg *protocol.Message) {
	mv := msg.Payload.(*protocol.PlayerMove)

	e.mu.Lock()
	defer e.mu.Unlock()

	sess := e.sessions.lookup(addr)
	if sess == nil || mv.PlayerID != sess.PlayerID {
		recordDrop("unknown_session")
		return
	}
	e.state.MovePlayer(mv.PlayerID, mv.Position, mv.MoveSeq)
}

// sendEncoded encodes and transmits a non-GameState message. Snapshot id is
// zero: only GameState messages carry one.
func (e *Engine) sendEncoded(addr *net.UDPAddr, t protocol.MsgType, payload any) {
	data, err := protocol.Encode(t, 0, e.nextSeq(), payload)
	if err != nil {
		return
	}
	e.sendToAddr(addr, data)
}

// =============================================================================
// TIMER LOOPS
// =============================================================================

// broadcastLoop is the fixed-cadence heart of the engine: one snapshot with
// dirty reset per tick, unicast to every session.
func (e *Engine) broadcastLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(time.Second / time.Duration(e.cfg.TickRate))
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			start := time.Now()
			e.broadcastTick(start)
			recordTick(time.Since(start))
		}
	}
}

func (e *Engine) broadcastTick(now time.Time) {
	e.mu.Lock()

	if e.sessions.count() == 0 {
		e.mu.Unlock()
		return
	}

	snapshotID := e.snapshotID.Add(1)
	seq := e.nextSeq()
	v := e.state.Snapshot(true)

	state := &protocol.GameState{
		Players:         toWirePlayers(v.Players),
		PlayerPositions: v.Positions,
		GridUpdates:     toWireCells(v.DirtyCells),
		GameOver:        v.GameOver,
		WinnerID:        v.WinnerID,
		SnapshotID:      snapshotID,
	}
	if e.prevPositions != nil {
		state.Redundancy = &protocol.Redundancy{
			PrevPlayerPositions: e.prevPositions,
			PrevSnapshotID:      e.prevSnapshotID,
		}
	}
	e.prevPositions = v.Positions
	e.prevSnapshotID = snapshotID

	data, err := protocol.Encode(protocol.MsgGameState, snapshotID, seq, state)
	if err != nil {
		e.mu.Unlock()
		return
	}

	targets := e.sessions.all()

	// Game over: announce once, then reset after the cooldown if anyone is
	// still connected.
	var gameOverData []byte
	if v.GameOver && !e.gameOverSent {
		e.gameOverSent = true
		e.gameOverAt = now
		gameOverData, _ = protocol.Encode(protocol.MsgGameOver, 0, e.nextSeq(), &protocol.GameOver{
			WinnerID:   v.WinnerID,
			Scoreboard: e.state.Scoreboard(),
		})
		log.Printf("🏆 Game over, winner: %s", v.WinnerID)
	}
	if e.gameOverSent && now.Sub(e.gameOverAt) >= e.cfg.ResetCooldown && e.sessions.count() > 0 {
		e.state.Reset()
		e.gameOverSent = false
		log.Println("🔄 Game reset for a new round")
	}

	e.mu.Unlock()

	for _, sess := range targets {
		e.sendToAddr(sess.Addr, data)
		if gameOverData != nil {
			e.sendToAddr(sess.Addr, gameOverData)
		}
	}

	e.logTickMetrics(now, snapshotID, v)
}

// logTickMetrics writes one CSV row per broadcast tick.
func (e *Engine) logTickMetrics(now time.Time, snapshotID uint32, v game.View) {
	if e.sink == nil {
		return
	}
	row := []any{
		now.UnixMilli(), runtime.NumGoroutine(), e.bytesSent.Load(),
		snapshotID, v.ClaimedCells,
	}
	for slot := 1; slot <= game.DefaultSlots; slot++ {
		pos := v.Positions[game.SlotID(slot)]
		row = append(row, pos[0], pos[1])
	}
	e.sink.Log(row...)
}

// cleanupLoop evicts sessions whose address has been quiet longer than the
// inactivity window. Session loss is a normal lifecycle transition, not an
// error.
func (e *Engine) cleanupLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.mu.Lock()
			for _, sess := range e.sessions.stale(time.Now(), e.cfg.InactivityTimeout) {
				e.sessions.remove(sess)
				log.Printf("💤 Session %s (%s) timed out", sess.ID[:8], sess.PlayerID)
			}
			sessionCount.Set(float64(e.sessions.count()))
			e.mu.Unlock()
		}
	}
}

func (e *Engine) retryLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.overlay.Tick(time.Now())
		}
	}
}

func (e *Engine) metricsLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			reliabilityPending.Set(float64(e.overlay.PendingCount()))
			if r := e.overlay.Retransmissions(); r > e.lastRetransmits {
				reliabilityRetransmits.Add(float64(r - e.lastRetransmits))
				e.lastRetransmits = r
			}

			e.mu.Lock()
			sessions := e.sessions.count()
			e.mu.Unlock()

			log.Printf("📊 uptime=%.0fs sessions=%d sent=%d recv=%d pending=%d dropped_rl=%d",
				time.Since(e.startTime).Seconds(), sessions,
				e.packetsSent.Load(), e.packetsReceived.Load(),
				e.overlay.PendingCount(), e.limiter.Rejected())
		}
	}
}

// =============================================================================
// READ-ONLY VIEWS (status API, spectator feed)
// =============================================================================

// SessionStatus is the external view of one session.
type SessionStatus struct {
	ID           string  `json:"id"`
	PlayerID     string  `json:"player_id"`
	Addr         string  `json:"addr"`
	State        string  `json:"state"`
	ConnectedSec float64 `json:"connected_sec"`
}

// Status is the external view of the engine for the HTTP API.
type Status struct {
	UptimeSec       float64         `json:"uptime_sec"`
	TickRate        int             `json:"tick_rate"`
	SnapshotID      uint32          `json:"snapshot_id"`
	Sessions        []SessionStatus `json:"sessions"`
	PacketsSent     uint64          `json:"packets_sent"`
	PacketsReceived uint64          `json:"packets_received"`
	BytesSent       uint64          `json:"bytes_sent"`
	BytesReceived   uint64          `json:"bytes_received"`
	PendingReliable int             `json:"pending_reliable"`
	GameOver        bool            `json:"game_over"`
	WinnerID        string          `json:"winner_id,omitempty"`
	ClaimedCells    int             `json:"claimed_cells"`
	TotalCells      int             `json:"total_cells"`
}

// Status assembles the external status view.
func (e *Engine) Status() Status {
	e.mu.Lock()
	v := e.state.Snapshot(false)
	sessions := e.sessions.all()
	e.mu.Unlock()

	now := time.Now()
	st := Status{
		UptimeSec:       now.Sub(e.startTime).Seconds(),
		TickRate:        e.cfg.TickRate,
		SnapshotID:      e.snapshotID.Load(),
		PacketsSent:     e.packetsSent.Load(),
		PacketsReceived: e.packetsReceived.Load(),
		BytesSent:       e.bytesSent.Load(),
		BytesReceived:   e.bytesReceived.Load(),
		PendingReliable: e.overlay.PendingCount(),
		GameOver:        v.GameOver,
		WinnerID:        v.WinnerID,
		ClaimedCells:    v.ClaimedCells,
		TotalCells:      v.TotalCells,
	}
	for _, s := range sessions {
		st.Sessions = append(st.Sessions, SessionStatus{
			ID:           s.ID,
			PlayerID:     s.PlayerID,
			Addr:         s.Addr.String(),
			State:        s.State.String(),
			ConnectedSec: now.Sub(s.JoinedAt).Seconds(),
		})
	}
	return st
}

// StateView returns a copied snapshot without touching the dirty set, for
// the JSON state endpoint and the spectator feed.
func (e *Engine) StateView() game.View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Snapshot(false)
}

// =============================================================================
// WIRE CONVERSIONS
// =============================================================================

func toWirePlayers(players map[string]game.PlayerView) map[string]protocol.PlayerInfo {
	out := make(map[string]protocol.PlayerInfo, len(players))
	for id, p := range players {
		out[id] = protocol.PlayerInfo{Score: p.Score, Position: p.Position}
	}
	return out
}

func toWireCells(cells map[string]game.Cell) map[string]protocol.CellState {
	out := make(map[string]protocol.CellState, len(cells))
	for id, c := range cells {
		out[id] = protocol.CellState{OwnerID: c.OwnerID, ClaimedAt: c.ClaimedAt}
	}
	return out
}
