package client

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"grid-clash/internal/config"
	"grid-clash/internal/metricslog"
	"grid-clash/internal/protocol"
	"grid-clash/internal/reliability"
)

const (
	clientReadDeadline = 50 * time.Millisecond
	connectResendEvery = 500 * time.Millisecond
	heartbeatInterval  = time.Second
	retryTickInterval  = 100 * time.Millisecond
)

// clientMetricsColumns is the per-snapshot CSV row layout.
var clientMetricsColumns = []string{
	"timestamp", "snapshot_id", "one_way_ms", "rtt_ms",
	"lost_snapshots", "stale_drops", "pending_claims",
}

// ErrConnectTimeout is returned when no Welcome arrives within the window.
var ErrConnectTimeout = errors.New("no welcome from server before timeout")

// Client is the UDP driver. One goroutine blocks on socket receipt and feeds
// the reconciler; callers drive frames, moves and claims from their own loop.
type Client struct {
	cfg config.ClientConfig

	conn *net.UDPConn
	rec  *Reconciler

	overlay *reliability.Overlay
	seq     atomic.Uint32
	moveSeq atomic.Uint32

	running  atomic.Bool
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	sink *metricslog.Sink

	packetsReceived atomic.Uint64
	bytesReceived   atomic.Uint64
}

// New builds an unconnected client.
func New(cfg config.ClientConfig) *Client {
	c := &Client{
		cfg:      cfg,
		stopChan: make(chan struct{}),
	}
	c.overlay = reliability.New(
		reliability.Policy{RetryInterval: cfg.RetryInterval, MaxAttempts: cfg.MaxRetries},
		c.sendRaw,
		func() uint32 { return c.seq.Add(1) },
	)
	if cfg.MetricsLogPath != "" {
		c.sink = metricslog.New(cfg.MetricsLogPath, clientMetricsColumns)
	}
	return c
}

// Connect dials the server and performs admission: a ConnectRequest is
// re-sent every half second until the Welcome lands or the timeout expires.
// On success the receive, heartbeat and retry loops start.
func (c *Client) Connect() error {
	addr, err := net.ResolveUDPAddr("udp", c.cfg.RemoteAddr())
	if err != nil {
		return err
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return err
	}
	c.conn = conn

	welcome, err := c.awaitWelcome()
	if err != nil {
		conn.Close()
		return err
	}
	c.rec = NewReconciler(welcome)

	if c.sink != nil {
		if err := c.sink.Start(); err != nil {
			log.Printf("⚠️ Metrics CSV disabled: %v", err)
			c.sink = nil
		}
	}

	c.running.Store(true)
	c.wg.Add(3)
	go c.receiveLoop()
	go c.heartbeatLoop()
	go c.retryLoop()

	log.Printf("🎮 Connected to %s as %s (%dx%d grid)",
		c.cfg.RemoteAddr(), welcome.PlayerID, welcome.GridSize, welcome.GridSize)
	return nil
}

func (c *Client) awaitWelcome() (*protocol.Welcome, error) {
	connect, err := protocol.Encode(protocol.MsgConnectRequest, 0, c.seq.Add(1), nil)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.cfg.ConnectTimeout)
	buf := make([]byte, 64*1024)
	for time.Now().Before(deadline) {
		c.conn.Write(connect)
		// Legacy bootstrap alongside the structured request, for old servers.
		c.conn.Write([]byte(protocol.ConnectToken))

		resendAt := time.Now().Add(connectResendEvery)
		for time.Now().Before(resendAt) {
			c.conn.SetReadDeadline(resendAt)
			n, err := c.conn.Read(buf)
			if err != nil {
				break
			}
			msg := protocol.Decode(buf[:n])
			if msg == nil || msg.Type != protocol.MsgWelcome {
				continue
			}
			return msg.Payload.(*protocol.Welcome), nil
		}
	}
	return nil, ErrConnectTimeout
}

// Stop shuts the client down cooperatively; the socket is closed last.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		c.running.Store(false)
		close(c.stopChan)
		c.wg.Wait()
		if c.sink != nil {
			c.sink.Stop()
		}
		if c.conn != nil {
			c.conn.Close()
		}
		log.Println("👋 Disconnected")
	})
}

// Reconciler exposes the local view for rendering and bots.
func (c *Client) Reconciler() *Reconciler { return c.rec }

// FrameInterval is the configured frame cadence for whoever drives the
// render loop.
func (c *Client) FrameInterval() time.Duration {
	return time.Second / time.Duration(c.cfg.FrameRate)
}

// sendRaw is the shared transmit path. The socket is connected, so the
// overlay's recipient address is ignored. Send errors are swallowed.
func (c *Client) sendRaw(_ net.Addr, data []byte) {
	if c.conn == nil {
		return
	}
	c.conn.Write(data)
}

// Claim sends an acquisition request through the reliability overlay and
// tracks the attempt for round-trip measurement.
func (c *Client) Claim(cellID string) {
	now := time.Now()
	req := &protocol.AcquireRequest{
		PlayerID:  c.rec.PlayerID(),
		CellID:    cellID,
		Timestamp: now.UnixMilli(),
	}
	seq := c.overlay.Send(c.conn.RemoteAddr(), func(seq uint32) []byte {
		data, _ := protocol.Encode(protocol.MsgAcquireRequest, 0, seq, req)
		return data
	})
	c.rec.TrackAttempt(seq, cellID, now)
}

// Move reports the local cursor position, best-effort. Each move carries an
// increasing sequence so reordered datagrams cannot roll the cursor back.
func (c *Client) Move(position [2]int) {
	mv := &protocol.PlayerMove{
		PlayerID: c.rec.PlayerID(),
		Position: position,
		MoveSeq:  c.moveSeq.Add(1),
	}
	data, err := protocol.Encode(protocol.MsgPlayerMove, 0, c.seq.Add(1), mv)
	if err != nil {
		return
	}
	c.sendRaw(nil, data)
}

func (c *Client) receiveLoop() {
	defer c.wg.Done()

	buf := make([]byte, 64*1024)
	for c.running.Load() {
		c.conn.SetReadDeadline(time.Now().Add(clientReadDeadline))
		n, err := c.conn.Read(buf)
		if err != nil {
			continue
		}
		c.packetsReceived.Add(1)
		c.bytesReceived.Add(uint64(n))

		msg := protocol.Decode(buf[:n])
		if msg == nil {
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg *protocol.Message) {
	now := time.Now()
	switch msg.Type {
	case protocol.MsgGameState:
		if c.rec.ApplyGameState(msg, now) {
			c.logSnapshotMetrics(now, msg.SnapshotID)
		}
	case protocol.MsgAck:
		c.overlay.Acknowledge(msg.Payload.(*protocol.Ack).AckedSeq)
	case protocol.MsgAcquireResponse:
		// The server retries this until acked, so ack first.
		ack, err := protocol.Encode(protocol.MsgAck, 0, c.seq.Add(1),
			&protocol.Ack{AckedSeq: msg.Seq})
		if err == nil {
			c.sendRaw(nil, ack)
		}
		c.rec.ResolveResponse(msg.Payload.(*protocol.AcquireResponse), now)
	case protocol.MsgGameOver:
		p := msg.Payload.(*protocol.GameOver)
		c.rec.ApplyGameOver(p)
		log.Printf("🏆 Game over, winner: %s", p.WinnerID)
	case protocol.MsgWelcome:
		// Duplicate admission reply, the seeded view already covers it.
	default:
	}
}

func (c *Client) heartbeatLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			data, err := protocol.Encode(protocol.MsgHeartbeat, 0, c.seq.Add(1), nil)
			if err == nil {
				c.sendRaw(nil, data)
			}
		}
	}
}

func (c *Client) retryLoop() {
	defer c.wg.Done()

	maxAge := time.Duration(c.cfg.MaxRetries+1) * c.cfg.RetryInterval

	ticker := time.NewTicker(retryTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			now := time.Now()
			c.overlay.Tick(now)
			c.rec.ExpireAttempts(now, maxAge)
		}
	}
}

func (c *Client) logSnapshotMetrics(now time.Time, snapshotID uint32) {
	if c.sink == nil {
		return
	}
	st := c.rec.Stats()
	c.sink.Log(now.UnixMilli(), snapshotID, st.OneWayLatencyMs, st.RoundTripMs,
		st.LostSnapshots, st.StaleDrops, st.PendingClaims)
}

// StatsLine formats a one-line status summary for periodic logging.
func (c *Client) StatsLine() string {
	st := c.rec.Stats()
	return fmt.Sprintf("snapshot=%d lost=%d stale=%d one_way=%.1fms rtt=%.1fms pending=%d",
		st.LastAdmitted, st.LostSnapshots, st.StaleDrops,
		st.OneWayLatencyMs, st.RoundTripMs, st.PendingClaims)
}
