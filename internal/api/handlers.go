package api

import (
	"encoding/json"
	"net/http"
)

func (h *routerHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *routerHandlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.engine.Status())
}

func (h *routerHandlers) handleState(w http.ResponseWriter, r *http.Request) {
	v := h.engine.StateView()

	cells := make(map[string]map[string]any, len(v.Grid))
	for id, c := range v.Grid {
		cells[id] = map[string]any{
			"owner_id":   c.OwnerID,
			"claimed_at": c.ClaimedAt,
		}
	}

	writeJSON(w, map[string]any{
		"grid_size":     v.GridSize,
		"total_cells":   v.TotalCells,
		"claimed_cells": v.ClaimedCells,
		"cells":         cells,
		"positions":     v.Positions,
		"game_started":  v.GameStarted,
		"game_over":     v.GameOver,
		"winner_id":     v.WinnerID,
	})
}

func (h *routerHandlers) handleScoreboard(w http.ResponseWriter, r *http.Request) {
	v := h.engine.StateView()

	scores := make(map[string]int, len(v.Players))
	for id, p := range v.Players {
		scores[id] = p.Score
	}
	writeJSON(w, map[string]any{
		"scores":    scores,
		"game_over": v.GameOver,
		"winner_id": v.WinnerID,
	})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
