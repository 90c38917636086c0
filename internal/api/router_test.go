package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"grid-clash/internal/game"
	"grid-clash/internal/server"
)

// mockEngine provides canned engine views without a UDP socket.
type mockEngine struct {
	status server.Status
	view   game.View
}

func (m *mockEngine) Status() server.Status { return m.status }
func (m *mockEngine) StateView() game.View  { return m.view }

func testRouter(engine EngineInterface) http.Handler {
	return NewRouter(RouterConfig{
		Engine:         engine,
		DisableLogging: true,
		RateLimitConfig: &RateLimitConfig{
			RequestsPerSecond: 1000,
			Burst:             1000,
			CleanupInterval:   time.Minute,
		},
	})
}

func testView() game.View {
	return game.View{
		Players: map[string]game.PlayerView{
			"player_1": {Score: 3, Position: [2]int{1, 2}},
			"player_2": {Score: 1, Position: [2]int{5, 5}},
		},
		Positions: map[string][2]int{
			"player_1": {1, 2},
			"player_2": {5, 5},
		},
		Grid: map[string]game.Cell{
			"0_0": {OwnerID: "player_1", ClaimedAt: 100},
		},
		GridSize:     8,
		TotalCells:   64,
		ClaimedCells: 1,
		GameStarted:  true,
	}
}

// TestHealthEndpoint checks the liveness probe.
func TestHealthEndpoint(t *testing.T) {
	ts := httptest.NewServer(testRouter(&mockEngine{view: testView()}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
}

// TestStatusEndpoint checks the engine status passthrough.
func TestStatusEndpoint(t *testing.T) {
	engine := &mockEngine{
		status: server.Status{
			TickRate:     20,
			SnapshotID:   42,
			ClaimedCells: 7,
			TotalCells:   64,
		},
		view: testView(),
	}
	ts := httptest.NewServer(testRouter(engine))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status failed: %v", err)
	}
	defer resp.Body.Close()

	var got server.Status
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Bad JSON: %v", err)
	}
	if got.SnapshotID != 42 || got.TickRate != 20 {
		t.Errorf("Status fields lost in transit: %+v", got)
	}
}

// TestStateEndpoint checks the grid view rendering.
func TestStateEndpoint(t *testing.T) {
	ts := httptest.NewServer(testRouter(&mockEngine{view: testView()}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/state")
	if err != nil {
		t.Fatalf("GET /api/state failed: %v", err)
	}
	defer resp.Body.Close()

	var got struct {
		GridSize     int                       `json:"grid_size"`
		ClaimedCells int                       `json:"claimed_cells"`
		Cells        map[string]map[string]any `json:"cells"`
		Positions    map[string][2]int         `json:"positions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Bad JSON: %v", err)
	}
	if got.GridSize != 8 || got.ClaimedCells != 1 {
		t.Errorf("Wrong grid summary: %+v", got)
	}
	if owner := got.Cells["0_0"]["owner_id"]; owner != "player_1" {
		t.Errorf("Wrong cell owner: %v", owner)
	}
	if got.Positions["player_2"] != [2]int{5, 5} {
		t.Errorf("Wrong position: %v", got.Positions["player_2"])
	}
}

// TestScoreboardEndpoint checks score extraction from the view.
func TestScoreboardEndpoint(t *testing.T) {
	ts := httptest.NewServer(testRouter(&mockEngine{view: testView()}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/scoreboard")
	if err != nil {
		t.Fatalf("GET /api/scoreboard failed: %v", err)
	}
	defer resp.Body.Close()

	var got struct {
		Scores map[string]int `json:"scores"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Bad JSON: %v", err)
	}
	if got.Scores["player_1"] != 3 || got.Scores["player_2"] != 1 {
		t.Errorf("Wrong scores: %v", got.Scores)
	}
}

// TestRateLimitRejects exhausts a tiny budget and expects 429.
func TestRateLimitRejects(t *testing.T) {
	router := NewRouter(RouterConfig{
		Engine:         &mockEngine{view: testView()},
		DisableLogging: true,
		RateLimitConfig: &RateLimitConfig{
			RequestsPerSecond: 1,
			Burst:             2,
			CleanupInterval:   time.Minute,
		},
	})
	ts := httptest.NewServer(router)
	defer ts.Close()

	var last int
	for i := 0; i < 5; i++ {
		resp, err := http.Get(ts.URL + "/health")
		if err != nil {
			t.Fatalf("GET failed: %v", err)
		}
		resp.Body.Close()
		last = resp.StatusCode
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("Expected 429 after burst, got %d", last)
	}
}
