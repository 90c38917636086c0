package protocol

// Typed payload variants, one struct per message type with a fixed field
// set. Field names on the wire are the snake_case msgpack keys; clients in
// other languages see a plain key/value document.

// PlayerInfo is one row of the per-tick player table.
type PlayerInfo struct {
	Score    int    `msgpack:"score"`
	Position [2]int `msgpack:"position"` // [row, col]
}

// CellState records a claimed cell. Ownership is immutable for the round.
type CellState struct {
	OwnerID   string `msgpack:"owner_id"`
	ClaimedAt int64  `msgpack:"claimed_at,omitempty"` // unix ms, informational
}

// Welcome is sent once per admitted session and carries the full grid so a
// late joiner starts from complete state.
type Welcome struct {
	PlayerID        string                `msgpack:"player_id"`
	Players         map[string]PlayerInfo `msgpack:"players"`
	Grid            map[string]CellState  `msgpack:"grid"`
	PlayerPositions map[string][2]int     `msgpack:"player_positions"`
	GridSize        int                   `msgpack:"grid_size"`
	GameStarted     bool                  `msgpack:"game_started"`
	GameOver        bool                  `msgpack:"game_over"`
}

// Redundancy duplicates the previous tick's position table inside the next
// GameState so a single lost datagram does not cost a client its positions.
type Redundancy struct {
	PrevPlayerPositions map[string][2]int `msgpack:"prev_player_positions"`
	PrevSnapshotID      uint32            `msgpack:"prev_snapshot_id"`
}

// GameState is the per-tick delta broadcast: the full (small) player and
// position tables every tick, but only the cells claimed since the last
// tick in GridUpdates.
type GameState struct {
	Players         map[string]PlayerInfo `msgpack:"players"`
	PlayerPositions map[string][2]int     `msgpack:"player_positions"`
	GridUpdates     map[string]CellState  `msgpack:"grid"`
	GameOver        bool                  `msgpack:"game_over"`
	WinnerID        string                `msgpack:"winner_id,omitempty"`
	SnapshotID      uint32                `msgpack:"snapshot_id"`
	Redundancy      *Redundancy           `msgpack:"redundancy,omitempty"`
}

// AcquireRequest asks the server to claim a cell for a player.
type AcquireRequest struct {
	PlayerID  string `msgpack:"player_id"`
	CellID    string `msgpack:"cell_id"`
	Timestamp int64  `msgpack:"timestamp"` // client unix ms, informational
}

// AcquireResponse reports the outcome of an AcquireRequest. On failure
// OwnerID names the current owner when the cell was already claimed.
type AcquireResponse struct {
	CellID  string `msgpack:"cell_id"`
	Success bool   `msgpack:"success"`
	OwnerID string `msgpack:"owner_id,omitempty"`
}

// GameOver announces the end of a round with the final scoreboard.
// WinnerID is "tie" when two or more players share the maximum score.
type GameOver struct {
	WinnerID   string         `msgpack:"winner_id"`
	Scoreboard map[string]int `msgpack:"scoreboard"`
}

// PlayerMove updates a player's cursor position. MoveSeq is a per-player
// counter the server uses to drop stale reordered moves.
type PlayerMove struct {
	PlayerID string `msgpack:"player_id"`
	Position [2]int `msgpack:"position"`
	MoveSeq  uint32 `msgpack:"move_seq"`
}

// Ack acknowledges a reliable message by its header sequence number.
type Ack struct {
	AckedSeq uint32 `msgpack:"acked_seq"`
}

// Heartbeat keeps a session alive. Zero payload on the wire.
type Heartbeat struct{}

// ConnectRequest asks for session admission. Zero payload on the wire.
type ConnectRequest struct{}

// validate enforces the required fields of each typed payload. A payload
// that fails validation makes the whole datagram undecodable (nil), matching
// the reject-don't-default rule for loosely typed peers.
func validatePayload(t MsgType, p any) bool {
	switch t {
	case MsgWelcome:
		w := p.(*Welcome)
		return w.PlayerID != "" && w.GridSize > 0
	case MsgAcquireRequest:
		r := p.(*AcquireRequest)
		return r.PlayerID != "" && r.CellID != ""
	case MsgAcquireResponse:
		return p.(*AcquireResponse).CellID != ""
	case MsgPlayerMove:
		return p.(*PlayerMove).PlayerID != ""
	case MsgAck:
		// Sequence numbers start at 1; an absent field decodes as 0.
		return p.(*Ack).AckedSeq > 0
	case MsgGameOver:
		return p.(*GameOver).WinnerID != ""
	}
	return true
}
