package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"melee-core/internal/game"
)

func newTestRouter(t *testing.T) (*game.Engine, *httptest.Server) {
	t.Helper()

	engine := game.NewEngine(game.DefaultEngineConfig(), nil)
	limiter := NewIPRateLimiter(RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000})
	t.Cleanup(limiter.Stop)

	ts := httptest.NewServer(NewRouter(RouterConfig{
		Engine:         engine,
		RateLimiter:    limiter,
		DisableLogging: true,
	}))
	t.Cleanup(ts.Close)
	return engine, ts
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Decode response: %v", err)
	}
}

func TestGetStateBeforeFirstStep(t *testing.T) {
	_, ts := newTestRouter(t)

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/state", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var snap struct {
		Tick   uint32            `json:"tick"`
		Actors []json.RawMessage `json:"actors"`
	}
	decode(t, resp, &snap)
	if snap.Tick != 0 || len(snap.Actors) != 0 {
		t.Errorf("Expected empty snapshot, got tick %d with %d actors", snap.Tick, len(snap.Actors))
	}
}

func TestSpawnStepAndInspect(t *testing.T) {
	engine, ts := newTestRouter(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/actors", map[string]any{
		"name":     "dummy",
		"context":  "longsword",
		"position": map[string]float32{"x": 1, "z": 2},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", resp.StatusCode)
	}
	var created struct {
		ID uint32 `json:"id"`
	}
	decode(t, resp, &created)
	if created.ID != 1 {
		t.Fatalf("Expected actor 1, got %d", created.ID)
	}

	engine.Step(1)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/actors/1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var actor struct {
		State struct {
			Tick     uint32
			Position struct{ X, Y, Z float32 }
		} `json:"state"`
		Actions struct {
			Resources struct {
				Stamina float32 `json:"stamina"`
			} `json:"resources"`
		} `json:"actions"`
	}
	decode(t, resp, &actor)
	if actor.State.Tick != 1 {
		t.Errorf("Expected state tick 1, got %d", actor.State.Tick)
	}
	if actor.State.Position.X != 1 || actor.State.Position.Z != 2 {
		t.Errorf("Expected position (1, 0, 2), got %+v", actor.State.Position)
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/state", nil)
	var snap struct {
		Tick   uint32 `json:"tick"`
		Actors []struct {
			Name    string `json:"name"`
			Context string `json:"context"`
		} `json:"actors"`
	}
	decode(t, resp, &snap)
	if snap.Tick != 1 || len(snap.Actors) != 1 {
		t.Fatalf("Expected one actor at tick 1, got %d at tick %d", len(snap.Actors), snap.Tick)
	}
	if snap.Actors[0].Name != "dummy" || snap.Actors[0].Context != "longsword" {
		t.Errorf("Unexpected snapshot actor %+v", snap.Actors[0])
	}
}

func TestSubmitActionIsAdmittedOnNextStep(t *testing.T) {
	engine, ts := newTestRouter(t)
	id, err := engine.Spawn(game.SpawnOptions{Name: "npc"})
	if err != nil {
		t.Fatal(err)
	}

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/actors/1/actions", map[string]string{"actionName": "dodge"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}

	engine.Step(1)

	_, actions, err := engine.ActorState(id)
	if err != nil {
		t.Fatal(err)
	}
	if actions.Action != "dodge" {
		t.Errorf("Expected dodge to be playing, got %q", actions.Action)
	}
}

func TestActorErrors(t *testing.T) {
	engine, ts := newTestRouter(t)
	if _, err := engine.Spawn(game.SpawnOptions{}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"bad id", http.MethodGet, "/api/actors/abc", nil, http.StatusBadRequest},
		{"zero id", http.MethodGet, "/api/actors/0", nil, http.StatusBadRequest},
		{"missing actor", http.MethodGet, "/api/actors/99", nil, http.StatusNotFound},
		{"despawn missing", http.MethodDelete, "/api/actors/99", nil, http.StatusNotFound},
		{"unknown action", http.MethodPost, "/api/actors/1/actions", map[string]string{"actionName": "moonwalk"}, http.StatusBadRequest},
		{"action for missing actor", http.MethodPost, "/api/actors/99/actions", map[string]string{"actionName": "dodge"}, http.StatusNotFound},
		{"long name", http.MethodPost, "/api/actors", map[string]string{"name": strings.Repeat("x", 65)}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, tt.method, ts.URL+tt.path, tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestDespawnRemovesActor(t *testing.T) {
	engine, ts := newTestRouter(t)
	id, _ := engine.Spawn(game.SpawnOptions{})

	resp := doJSON(t, http.MethodDelete, ts.URL+"/api/actors/1", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", resp.StatusCode)
	}
	if _, _, err := engine.ActorState(id); err == nil {
		t.Error("Expected actor to be gone")
	}
}

func TestUpdateStatusRootsActor(t *testing.T) {
	engine, ts := newTestRouter(t)
	id, _ := engine.Spawn(game.SpawnOptions{})

	resp := doJSON(t, http.MethodPut, ts.URL+"/api/actors/1/status", map[string]bool{"rooted": true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	_, actions, _ := engine.ActorState(id)
	if !actions.Status.Rooted {
		t.Error("Expected actor to be rooted")
	}
}

func TestGetActionsListsCatalog(t *testing.T) {
	engine, ts := newTestRouter(t)

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/actions", nil)
	var body struct {
		Actions []struct {
			Name string `json:"name"`
			Clip string `json:"clip"`
		} `json:"actions"`
	}
	decode(t, resp, &body)

	if len(body.Actions) != engine.Catalog().Len() {
		t.Fatalf("Expected %d actions, got %d", engine.Catalog().Len(), len(body.Actions))
	}
	for _, a := range body.Actions {
		if a.Name == "dodge" && a.Clip != "Dodge" {
			t.Errorf("Expected dodge clip Dodge, got %q", a.Clip)
		}
	}
}

func TestStatsReportsEngineAndLimiter(t *testing.T) {
	engine, ts := newTestRouter(t)
	engine.Spawn(game.SpawnOptions{})
	engine.Step(7)

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/stats", nil)
	var body struct {
		Engine struct {
			Tick   uint32 `json:"tick"`
			Actors int    `json:"actors"`
		} `json:"engine"`
		RateLimit RateLimitStats `json:"rateLimit"`
	}
	decode(t, resp, &body)

	if body.Engine.Tick != 7 || body.Engine.Actors != 1 {
		t.Errorf("Unexpected engine stats %+v", body.Engine)
	}
	if body.RateLimit.Allowed == 0 {
		t.Error("Expected the stats request itself to be counted")
	}
}

func TestRateLimitRejectsBurst(t *testing.T) {
	engine := game.NewEngine(game.DefaultEngineConfig(), nil)
	limiter := NewIPRateLimiter(RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2})
	defer limiter.Stop()

	router := NewRouter(RouterConfig{Engine: engine, RateLimiter: limiter, DisableLogging: true})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("Expected [200 200 429], got %v", codes)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.RemoteAddr = "10.0.0.2:5000"
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Another IP should have its own budget, got %d", rec.Code)
	}
	if s := limiter.Stats(); s.Rejected != 1 {
		t.Errorf("Expected 1 rejection, got %d", s.Rejected)
	}
}
