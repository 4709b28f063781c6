package spatial

import "testing"

func TestSpatialGridQueryRadius(t *testing.T) {
	g := NewSpatialGrid(-50, -50, 50, 50, 6, 16)
	g.Insert(1, 0, 0)
	g.Insert(2, 3, 0)
	g.Insert(3, 0, -2)
	g.Insert(4, 10, 10)
	g.Insert(5, 0, 2)

	hits := g.QueryRadius(0, 0, 4)

	want := []uint32{1, 3, 5, 2}
	if len(hits) != len(want) {
		t.Fatalf("Expected %d hits, got %d: %+v", len(want), len(hits), hits)
	}
	for i, id := range want {
		if hits[i].ID != id {
			t.Errorf("Position %d: expected id %d, got %d", i, id, hits[i].ID)
		}
	}
	if hits[3].Distance != 3 {
		t.Errorf("Expected distance 3, got %f", hits[3].Distance)
	}
}

func TestSpatialGridAcrossCells(t *testing.T) {
	g := NewSpatialGrid(-50, -50, 50, 50, 2, 16)
	g.Insert(1, 5.5, 0)
	g.Insert(2, -5.5, 0)

	if hits := g.QueryRadius(0, 0, 6); len(hits) != 2 {
		t.Errorf("Expected both entities across cell borders, got %+v", hits)
	}
	if hits := g.QueryRadius(0, 0, 5); len(hits) != 0 {
		t.Errorf("Expected none within 5, got %+v", hits)
	}
}

func TestSpatialGridClampsOutOfBounds(t *testing.T) {
	g := NewSpatialGrid(0, 0, 10, 10, 5, 4)
	g.Insert(1, -3, -3)
	g.Insert(2, 100, 100)

	if hits := g.QueryRadius(-2, -2, 2); len(hits) != 1 || hits[0].ID != 1 {
		t.Errorf("Expected clamped entity to be found, got %+v", hits)
	}
	if s := g.Stats(); s.TotalEntities != 2 {
		t.Errorf("Expected 2 entities, got %d", s.TotalEntities)
	}
}

func TestSpatialGridClear(t *testing.T) {
	g := NewSpatialGrid(-10, -10, 10, 10, 5, 4)
	g.Insert(1, 1, 1)
	g.Clear()

	if hits := g.QueryRadius(1, 1, 3); len(hits) != 0 {
		t.Errorf("Expected empty grid after Clear, got %+v", hits)
	}
	if s := g.Stats(); s.TotalEntities != 0 || s.NonEmptyCells != 0 {
		t.Errorf("Unexpected stats after Clear %+v", s)
	}
}

func BenchmarkSpatialGridRebuildQuery(b *testing.B) {
	g := NewSpatialGrid(-50, -50, 50, 50, 6, 256)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		g.Clear()
		for id := uint32(0); id < 256; id++ {
			g.Insert(id, float64(id%16)*6-48, float64(id/16)*6-48)
		}
		g.QueryRadius(0, 0, 6)
	}
}
