package client

import (
	"log"
	"math/rand"
	"time"

	"grid-clash/internal/game"
)

const (
	botMoveInterval  = 200 * time.Millisecond
	botClaimInterval = time.Second
	botStatsInterval = 10 * time.Second
)

// Bot drives a connected client without a renderer: it random-walks the
// cursor and claims the cell under it when unowned. Useful for load and
// loss experiments against a live server.
type Bot struct {
	client *Client
	rng    *rand.Rand
	cursor [2]int
}

// NewBot wires a bot to an already connected client.
func NewBot(c *Client) *Bot {
	return &Bot{
		client: c,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cursor: c.Reconciler().SelfPosition(),
	}
}

// Run blocks until the game ends or stop is closed. The frame ticker keeps
// the interpolation state advancing even with no renderer attached, so the
// smoothing code paths run under real traffic.
func (b *Bot) Run(stop <-chan struct{}) {
	frameTicker := time.NewTicker(b.client.FrameInterval())
	moveTicker := time.NewTicker(botMoveInterval)
	claimTicker := time.NewTicker(botClaimInterval)
	statsTicker := time.NewTicker(botStatsInterval)
	defer frameTicker.Stop()
	defer moveTicker.Stop()
	defer claimTicker.Stop()
	defer statsTicker.Stop()

	log.Printf("🤖 Bot running as %s", b.client.Reconciler().PlayerID())
	for {
		select {
		case <-stop:
			return
		case <-frameTicker.C:
			b.client.Reconciler().RenderPositions()
		case <-moveTicker.C:
			b.step()
		case <-claimTicker.C:
			if over, winner := b.client.Reconciler().Outcome(); over {
				log.Printf("🤖 Round finished, winner: %s", winner)
				return
			}
			b.claim()
		case <-statsTicker.C:
			log.Printf("📊 %s", b.client.StatsLine())
		}
	}
}

// step moves the cursor one cell in a random direction, staying in bounds.
func (b *Bot) step() {
	size := b.client.Reconciler().GridSize()
	dirs := [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}
	d := dirs[b.rng.Intn(len(dirs))]

	next := [2]int{b.cursor[0] + d[0], b.cursor[1] + d[1]}
	if next[0] < 0 || next[0] >= size || next[1] < 0 || next[1] >= size {
		return
	}
	b.cursor = next
	b.client.Move(b.cursor)
}

// claim requests the cell under the cursor unless the local view already
// shows an owner.
func (b *Bot) claim() {
	cellID := game.CellID(b.cursor[0], b.cursor[1])
	if _, owned := b.client.Reconciler().CellOwner(cellID); owned {
		return
	}
	b.client.Claim(cellID)
}
