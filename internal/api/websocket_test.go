package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"melee-core/internal/game"
	"melee-core/internal/wire"
)

func newTestHub(t *testing.T) (*game.Engine, *SessionHub, string) {
	t.Helper()

	engine := game.NewEngine(game.DefaultEngineConfig(), nil)
	hub := NewSessionHub(engine, HubConfig{ActionsPerSecond: 100})
	engine.SetBroadcaster(hub)

	ts := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		hub.Stop()
		ts.Close()
	})
	return engine, hub, "ws" + strings.TrimPrefix(ts.URL, "http")
}

// dial connects and pumps decoded frames into a channel.
func dial(t *testing.T, url string) (*websocket.Conn, <-chan wire.Frame) {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })

	frames := make(chan wire.Frame, 1024)
	go func() {
		defer close(frames)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if f, err := wire.Decode(data); err == nil {
				frames <- f
			}
		}
	}()
	return conn, frames
}

func expectFrame(t *testing.T, frames <-chan wire.Frame, msgType byte) wire.Frame {
	t.Helper()
	select {
	case f, ok := <-frames:
		if !ok {
			t.Fatal("Connection closed")
		}
		if f.Type != msgType {
			t.Fatalf("Expected message type %d, got %d", msgType, f.Type)
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("Timed out waiting for message type %d", msgType)
	}
	return wire.Frame{}
}

// stepUntil steps the engine until match accepts a frame or time runs out.
func stepUntil(t *testing.T, engine *game.Engine, tick *game.Tick, frames <-chan wire.Frame, match func(wire.Frame) bool) wire.Frame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		*tick++
		engine.Step(*tick)

		wait := time.After(10 * time.Millisecond)
	drain:
		for {
			select {
			case f, ok := <-frames:
				if !ok {
					t.Fatal("Connection closed")
				}
				if match(f) {
					return f
				}
			case <-wait:
				break drain
			case <-deadline:
				t.Fatal("Timed out")
			}
		}
	}
}

func TestSessionWelcomeSpawnsControlledActor(t *testing.T) {
	engine, hub, url := newTestHub(t)

	_, frames := dial(t, url+"?name=alice&context=longsword")
	f := expectFrame(t, frames, wire.MsgTypeWelcome)

	w, err := wire.DecodeWelcome(f.Body)
	if err != nil {
		t.Fatal(err)
	}
	if w.Actor != 1 || f.Actor != 1 {
		t.Errorf("Expected actor 1, got body %d header %d", w.Actor, f.Actor)
	}
	if w.TickRate != engine.Config().TickRate {
		t.Errorf("Expected tick rate %d, got %d", engine.Config().TickRate, w.TickRate)
	}
	if hub.ClientCount() != 1 {
		t.Errorf("Expected 1 session, got %d", hub.ClientCount())
	}

	if n := engine.Stats().Actors; n != 1 {
		t.Errorf("Expected 1 actor, got %d", n)
	}
}

func TestSessionInputAndActionFlow(t *testing.T) {
	engine, _, url := newTestHub(t)

	owner, ownerFrames := dial(t, url)
	expectFrame(t, ownerFrames, wire.MsgTypeWelcome)
	_, observerFrames := dial(t, url)
	expectFrame(t, observerFrames, wire.MsgTypeWelcome)

	// The header actor is ignored; sessions drive only their own actor
	in := game.InputPayload{Tick: 1, IsControllable: true, Movement: game.Vec2{X: 1}, Facing: game.QuatIdentity}
	frame, _ := wire.Encode(wire.MsgTypeInput, 2, wire.AppendInput(nil, in))
	if err := owner.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatal(err)
	}
	body, _ := wire.EncodeActionRequest(game.ActionRequest{ActionName: "dodge", WasMotionPredicted: true})
	frame, _ = wire.Encode(wire.MsgTypeActionRequest, 2, body)
	if err := owner.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatal(err)
	}

	var tick game.Tick
	f := stepUntil(t, engine, &tick, observerFrames, func(f wire.Frame) bool {
		return f.Type == wire.MsgTypeActionBroadcast
	})
	if f.Actor != 1 {
		t.Fatalf("Expected broadcast about actor 1, got %d", f.Actor)
	}
	b, err := wire.DecodeActionBroadcast(f.Body)
	if err != nil {
		t.Fatal(err)
	}
	if b.ActionName != "dodge" || !b.WasPredictedOnOwner {
		t.Errorf("Unexpected broadcast %+v", b)
	}

	_, observed, _ := engine.ActorState(2)
	if observed.Action != "" {
		t.Errorf("Observer actor should be idle, got %q", observed.Action)
	}

	// The owner sees its own state but never its own action broadcast
	stepUntil(t, engine, &tick, ownerFrames, func(f wire.Frame) bool {
		if f.Type == wire.MsgTypeActionBroadcast && f.Actor == 1 {
			t.Fatal("Owner received its own action broadcast")
		}
		if f.Type != wire.MsgTypeState || f.Actor != 1 {
			return false
		}
		st, err := wire.ParseState(f.Body)
		return err == nil && st.Position != (game.Vec3{})
	})
}

func TestSessionDisconnectDespawnsOwnedActor(t *testing.T) {
	engine, hub, url := newTestHub(t)

	first, firstFrames := dial(t, url)
	expectFrame(t, firstFrames, wire.MsgTypeWelcome)
	_, secondFrames := dial(t, url)
	expectFrame(t, secondFrames, wire.MsgTypeWelcome)

	first.Close()

	select {
	case f := <-waitFor(secondFrames, wire.MsgTypeDespawn):
		if f.Actor != 1 {
			t.Errorf("Expected despawn of actor 1, got %d", f.Actor)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for despawn")
	}

	if _, _, err := engine.ActorState(1); !errors.Is(err, game.ErrActorNotFound) {
		t.Errorf("Expected actor 1 to be despawned, got %v", err)
	}
	if hub.ClientCount() != 1 {
		t.Errorf("Expected 1 session left, got %d", hub.ClientCount())
	}
}

func TestSessionAttachToExistingActor(t *testing.T) {
	engine, _, url := newTestHub(t)
	id, _ := engine.Spawn(game.SpawnOptions{Controlled: true, Position: game.Vec3{X: 3}})

	conn, frames := dial(t, url+"?actor=1")
	f := expectFrame(t, frames, wire.MsgTypeWelcome)
	w, _ := wire.DecodeWelcome(f.Body)
	if w.Actor != id || w.Spawn.Position.X != 3 {
		t.Errorf("Unexpected welcome %+v", w)
	}

	// Attached sessions do not own the actor
	conn.Close()
	time.Sleep(50 * time.Millisecond)
	if _, _, err := engine.ActorState(id); err != nil {
		t.Errorf("Attached actor should survive disconnect, got %v", err)
	}
}

func TestSessionRejectsUnknownActor(t *testing.T) {
	_, _, url := newTestHub(t)

	tests := []struct {
		query string
		want  int
	}{
		{"?actor=42", http.StatusNotFound},
		{"?actor=abc", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(url+tt.query, nil)
			if err == nil {
				t.Fatal("Expected dial to fail")
			}
			if resp == nil || resp.StatusCode != tt.want {
				t.Errorf("Expected status %d, got %v", tt.want, resp)
			}
		})
	}
}

func TestSessionPerIPLimit(t *testing.T) {
	engine := game.NewEngine(game.DefaultEngineConfig(), nil)
	hub := NewSessionHub(engine, HubConfig{MaxPerIP: 1})
	engine.SetBroadcaster(hub)
	ts := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer ts.Close()
	defer hub.Stop()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")

	_, frames := dial(t, url)
	expectFrame(t, frames, wire.MsgTypeWelcome)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Expected second session from the same IP to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %v", resp)
	}
	if engine.Stats().Actors != 1 {
		t.Errorf("A refused session must not spawn, got %d actors", engine.Stats().Actors)
	}
}

func waitFor(frames <-chan wire.Frame, msgType byte) <-chan wire.Frame {
	out := make(chan wire.Frame, 1)
	go func() {
		for f := range frames {
			if f.Type == msgType {
				out <- f
				return
			}
		}
	}()
	return out
}

func TestClientSessionPredictionMatchesServer(t *testing.T) {
	engine, _, url := newTestHub(t)

	cs, err := DialSession(context.Background(), url+"?name=bot", game.DefaultClientConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer cs.Close()

	client := cs.Actor()
	start := cs.Welcome().Spawn.Tick

	var predicted game.StatePayload
	for i := game.Tick(1); i <= 20; i++ {
		client.SetInput(game.Vec2{X: 1, Y: 0.5}, game.QuatFromYaw(float64(i)*0.1))
		predicted, _ = client.Tick(start + i)
	}
	last := start + 20

	// Inputs arrive asynchronously; keep stepping until the server has
	// integrated the last one
	deadline := time.Now().Add(2 * time.Second)
	for tick := game.Tick(1); ; tick++ {
		engine.Step(tick)
		st, _, _ := engine.ActorState(client.ID())
		if st.Tick == last {
			if !st.Equal(predicted) {
				t.Fatalf("Server state %+v differs from prediction %+v", st, predicted)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Server never reached tick %d (at %d)", last, st.Tick)
		}
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(50 * time.Millisecond)
	if _, res := client.Tick(last + 1); res.Diverged {
		t.Errorf("Expected no correction, got %+v", res)
	}
}

func TestClientSessionEndsOnDespawn(t *testing.T) {
	engine, _, url := newTestHub(t)

	cs, err := DialSession(context.Background(), url, game.DefaultClientConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer cs.Close()

	if err := engine.Despawn(cs.Actor().ID()); err != nil {
		t.Fatal(err)
	}

	select {
	case <-cs.Done():
		if !errors.Is(cs.Err(), ErrDespawned) {
			t.Errorf("Expected ErrDespawned, got %v", cs.Err())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Session did not end")
	}
}
