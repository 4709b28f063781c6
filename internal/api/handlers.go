package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"melee-core/internal/game"
)

// Handler methods for routerHandlers

func (h *routerHandlers) handleGetState(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.GetSnapshot()
	if snap == nil {
		writeJSON(w, &game.WorldSnapshot{Actors: []game.ActorSnapshot{}})
		return
	}
	writeJSON(w, snap)
}

func (h *routerHandlers) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"engine":    h.engine.Stats(),
		"rateLimit": h.limiter.Stats(),
	}
	if h.sessions != nil {
		stats["sessions"] = h.sessions.ClientCount()
	}
	writeJSON(w, stats)
}

func (h *routerHandlers) handleGetActions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"actions": h.engine.Catalog().All(),
	})
}

type spawnRequest struct {
	Name       string    `json:"name"`
	Context    string    `json:"context"`
	Controlled bool      `json:"controlled"` // Reserve for a websocket client
	Position   game.Vec3 `json:"position"`
	Yaw        float64   `json:"yaw"`
}

func (h *routerHandlers) handleSpawn(w http.ResponseWriter, r *http.Request) {
	var req spawnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.Name) > 64 {
		writeError(w, http.StatusBadRequest, "name too long")
		return
	}

	id, err := h.engine.Spawn(game.SpawnOptions{
		Name:       req.Name,
		Context:    req.Context,
		Controlled: req.Controlled,
		Position:   req.Position,
		Facing:     game.QuatFromYaw(req.Yaw),
	})
	if errors.Is(err, game.ErrActorLimit) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSONStatus(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *routerHandlers) handleGetActor(w http.ResponseWriter, r *http.Request) {
	id, ok := actorParam(w, r)
	if !ok {
		return
	}
	state, actions, err := h.engine.ActorState(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"id":      id,
		"state":   state,
		"actions": actions,
	})
}

func (h *routerHandlers) handleDespawn(w http.ResponseWriter, r *http.Request) {
	id, ok := actorParam(w, r)
	if !ok {
		return
	}
	if err := h.engine.Despawn(id); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *routerHandlers) handleSubmitAction(w http.ResponseWriter, r *http.Request) {
	id, ok := actorParam(w, r)
	if !ok {
		return
	}

	var req game.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if _, err := h.engine.Catalog().Lookup(req.ActionName); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.engine.SubmitAction(id, req); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, map[string]any{"queued": req.ActionName})
}

func (h *routerHandlers) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := actorParam(w, r)
	if !ok {
		return
	}

	var flags game.StatusFlags
	if err := json.NewDecoder(r.Body).Decode(&flags); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.engine.UpdateStatus(id, func(s *game.StatusFlags) { *s = flags }); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, map[string]any{"status": flags})
}

func actorParam(w http.ResponseWriter, r *http.Request) (game.ActorID, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid actor id")
		return 0, false
	}
	return game.ActorID(id), true
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, game.ErrActorNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, game.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// Helper functions

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("⚠️ Encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSONStatus(w, status, map[string]string{"error": message})
}
