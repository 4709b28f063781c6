package game

import (
	"math"
	"testing"
	"time"
)

func TestNewPredictionBufferRoundsToPowerOfTwo(t *testing.T) {
	tests := []struct {
		size int
		want int
	}{
		{1, 1},
		{8, 8},
		{9, 16},
		{1000, 1024},
		{1024, 1024},
	}

	for _, tt := range tests {
		if got := NewPredictionBuffer(tt.size).Size(); got != tt.want {
			t.Errorf("NewPredictionBuffer(%d).Size() = %d, want %d", tt.size, got, tt.want)
		}
	}
}

func TestPredictionBufferWraparound(t *testing.T) {
	buf := NewPredictionBuffer(8)

	for tick := Tick(0); tick < 20; tick++ {
		buf.Record(tick, InputPayload{Tick: tick}, StatePayload{Tick: tick, Position: Vec3{X: float32(tick)}})
	}

	// The last 8 writes are intact
	for tick := Tick(12); tick < 20; tick++ {
		in, st := buf.Get(tick)
		if in.Tick != tick || st.Tick != tick {
			t.Errorf("Get(%d) returned ticks %d/%d", tick, in.Tick, st.Tick)
		}
		if st.Position.X != float32(tick) {
			t.Errorf("Get(%d) position %f, want %f", tick, st.Position.X, float32(tick))
		}
	}

	// Older ticks were overwritten by newer data sharing the slot
	in, _ := buf.Get(4)
	if in.Tick != 12 {
		t.Errorf("Expected slot of tick 4 to hold tick 12, got %d", in.Tick)
	}
}

func TestPredictionBufferRecordStateKeepsInput(t *testing.T) {
	buf := NewPredictionBuffer(16)
	buf.Record(3, InputPayload{Tick: 3, IsControllable: true}, StatePayload{Tick: 3})
	buf.RecordState(3, StatePayload{Tick: 3, Position: Vec3{Y: 1}})

	in, st := buf.Get(3)
	if !in.IsControllable {
		t.Error("RecordState should not touch the input slot")
	}
	if st.Position.Y != 1 {
		t.Errorf("Expected overwritten state, got %+v", st)
	}
}

func TestPredictionBufferWithin(t *testing.T) {
	buf := NewPredictionBuffer(8)

	tests := []struct {
		name    string
		current Tick
		tick    Tick
		want    bool
	}{
		{"same tick", 10, 10, true},
		{"inside window", 10, 3, true},
		{"exactly buffer size old", 10, 2, false},
		{"far past", 100, 3, false},
		{"across wrap", 2, math.MaxUint32 - 2, true},
		{"across wrap too old", 5, math.MaxUint32 - 5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buf.Within(tt.current, tt.tick); got != tt.want {
				t.Errorf("Within(%d, %d) = %v, want %v", tt.current, tt.tick, got, tt.want)
			}
		})
	}
}

func TestPredictionBufferWindow(t *testing.T) {
	buf := NewPredictionBuffer(1024)
	if got := buf.Window(32); got != 32*time.Second {
		t.Errorf("Expected 32s window, got %s", got)
	}
	if got := buf.Window(0); got != 0 {
		t.Errorf("Expected zero window for invalid rate, got %s", got)
	}
}

func BenchmarkPredictionBufferRecord(b *testing.B) {
	buf := NewPredictionBuffer(DefaultBufferSize)
	in := InputPayload{IsControllable: true, Movement: Vec2{X: 1}, Facing: QuatIdentity}
	st := StatePayload{Rotation: QuatIdentity}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tick := Tick(i)
		in.Tick = tick
		st.Tick = tick
		buf.Record(tick, in, st)
	}
}
