package spatial

import (
	"math"
	"sort"
)

// SpatialGrid provides O(1) average radius queries over uniform cells on a
// 2D plane. Entities are opaque uint32 handles; the grid is rebuilt once per
// tick by the single simulation goroutine and is not safe for concurrent use.
//
// Optimal cell size equals the largest query radius (the lunge range).
//
// Memory layout: cells are stored in row-major order (cells[row*cols+col])
type SpatialGrid struct {
	minX, minY  float64
	cellSize    float64
	invCellSize float64
	cols, rows  int
	cells       [][]entry
	scratch     []Hit
}

type entry struct {
	id   uint32
	x, y float64
}

// Hit is one query result.
type Hit struct {
	ID       uint32
	X, Y     float64
	Distance float64
}

// NewSpatialGrid creates a grid covering [minX,maxX]×[minY,maxY]. Positions
// outside the bounds are clamped into the border cells.
func NewSpatialGrid(minX, minY, maxX, maxY, cellSize float64, maxEntities int) *SpatialGrid {
	if cellSize <= 0 {
		cellSize = 1
	}
	cols := max(int(math.Ceil((maxX-minX)/cellSize)), 1)
	rows := max(int(math.Ceil((maxY-minY)/cellSize)), 1)

	cells := make([][]entry, cols*rows)
	perCell := max(maxEntities/len(cells), 4)
	for i := range cells {
		cells[i] = make([]entry, 0, perCell)
	}

	return &SpatialGrid{
		minX:        minX,
		minY:        minY,
		cellSize:    cellSize,
		invCellSize: 1.0 / cellSize,
		cols:        cols,
		rows:        rows,
		cells:       cells,
		scratch:     make([]Hit, 0, 64),
	}
}

// Clear resets all cells without deallocating underlying memory.
func (g *SpatialGrid) Clear() {
	for i := range g.cells {
		g.cells[i] = g.cells[i][:0]
	}
}

// Insert adds an entity at (x, y).
func (g *SpatialGrid) Insert(id uint32, x, y float64) {
	col, row := g.cell(x, y)
	idx := row*g.cols + col
	g.cells[idx] = append(g.cells[idx], entry{id: id, x: x, y: y})
}

func (g *SpatialGrid) cell(x, y float64) (col, row int) {
	col = int((x - g.minX) * g.invCellSize)
	row = int((y - g.minY) * g.invCellSize)
	return min(max(col, 0), g.cols-1), min(max(row, 0), g.rows-1)
}

// QueryRadius returns every entity within radius of (cx, cy), ordered by
// ascending distance (ties by id).
//
// IMPORTANT: The returned slice is reused on subsequent calls.
// Copy the results if you need to persist them.
func (g *SpatialGrid) QueryRadius(cx, cy, radius float64) []Hit {
	g.scratch = g.scratch[:0]

	minCol, minRow := g.cell(cx-radius, cy-radius)
	maxCol, maxRow := g.cell(cx+radius, cy+radius)
	r2 := radius * radius

	for row := minRow; row <= maxRow; row++ {
		for col := minCol; col <= maxCol; col++ {
			for _, e := range g.cells[row*g.cols+col] {
				dx, dy := e.x-cx, e.y-cy
				d2 := dx*dx + dy*dy
				if d2 > r2 {
					continue
				}
				g.scratch = append(g.scratch, Hit{ID: e.id, X: e.x, Y: e.y, Distance: math.Sqrt(d2)})
			}
		}
	}

	sort.Slice(g.scratch, func(i, j int) bool {
		if g.scratch[i].Distance != g.scratch[j].Distance {
			return g.scratch[i].Distance < g.scratch[j].Distance
		}
		return g.scratch[i].ID < g.scratch[j].ID
	})
	return g.scratch
}

// Stats returns grid statistics for debugging/profiling.
func (g *SpatialGrid) Stats() GridStats {
	var total, maxInCell, nonEmpty int
	for _, cell := range g.cells {
		n := len(cell)
		total += n
		maxInCell = max(maxInCell, n)
		if n > 0 {
			nonEmpty++
		}
	}
	return GridStats{
		TotalCells:    len(g.cells),
		NonEmptyCells: nonEmpty,
		TotalEntities: total,
		MaxInCell:     maxInCell,
	}
}

// GridStats contains grid statistics for debugging.
type GridStats struct {
	TotalCells    int `json:"totalCells"`
	NonEmptyCells int `json:"nonEmptyCells"`
	TotalEntities int `json:"totalEntities"`
	MaxInCell     int `json:"maxInCell"`
}
