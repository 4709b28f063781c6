// Package debugview renders world snapshots to PNG for the debug server.
package debugview

import (
	"fmt"
	"image"
	"image/color"
	"log"
	"math"
	"net/http"

	"github.com/fogleman/gg"

	"melee-core/internal/game"
)

// SnapshotSource provides the latest published snapshot.
type SnapshotSource interface {
	GetSnapshot() *game.WorldSnapshot
}

// Renderer draws a top-down view of the arena on the XZ plane.
type Renderer struct {
	Size      int     // Output width and height in pixels
	ArenaSize float32 // World units across, centered on the origin
	Radius    float64 // Actor radius in pixels
}

// NewRenderer creates a renderer with sane defaults for zero values.
func NewRenderer(size int, arenaSize float32) *Renderer {
	if size <= 0 {
		size = 512
	}
	if arenaSize <= 0 {
		arenaSize = 100
	}
	return &Renderer{Size: size, ArenaSize: arenaSize, Radius: 6}
}

var clipColors = map[game.ClipType]color.RGBA{
	game.ClipNone:        {120, 200, 255, 255},
	game.ClipLightAttack: {255, 200, 60, 255},
	game.ClipHeavyAttack: {255, 120, 40, 255},
	game.ClipAbility:     {200, 90, 255, 255},
	game.ClipDodge:       {90, 255, 160, 255},
	game.ClipHitReaction: {255, 60, 60, 255},
	game.ClipFlinch:      {255, 110, 110, 255},
	game.ClipGrabAttack:  {255, 80, 200, 255},
	game.ClipLunge:       {255, 240, 120, 255},
	game.ClipReload:      {160, 160, 160, 255},
	game.ClipFlashAttack: {255, 255, 255, 255},
}

// toScreen maps world XZ to pixels with +Z up.
func (r *Renderer) toScreen(p game.Vec3) (float64, float64) {
	scale := float64(r.Size) / float64(r.ArenaSize)
	half := float64(r.Size) / 2
	return half + float64(p.X)*scale, half - float64(p.Z)*scale
}

// Render draws snap. A nil snapshot yields an empty arena.
func (r *Renderer) Render(snap *game.WorldSnapshot) image.Image {
	dc := gg.NewContext(r.Size, r.Size)

	dc.SetColor(color.RGBA{12, 12, 28, 255})
	dc.DrawRectangle(0, 0, float64(r.Size), float64(r.Size))
	dc.Fill()

	r.drawGrid(dc)

	if snap == nil {
		return dc.Image()
	}

	for _, a := range snap.Actors {
		r.drawActor(dc, a)
	}

	dc.SetColor(color.White)
	dc.DrawString(fmt.Sprintf("tick %d  actors %d", snap.Tick, snap.ActorCount), 8, 16)

	return dc.Image()
}

func (r *Renderer) drawGrid(dc *gg.Context) {
	step := float64(r.Size) / 10
	dc.SetColor(color.RGBA{30, 30, 45, 255})
	dc.SetLineWidth(1)
	for i := 1; i < 10; i++ {
		v := float64(i) * step
		dc.DrawLine(v, 0, v, float64(r.Size))
		dc.Stroke()
		dc.DrawLine(0, v, float64(r.Size), v)
		dc.Stroke()
	}
}

func (r *Renderer) drawActor(dc *gg.Context, a game.ActorSnapshot) {
	x, y := r.toScreen(a.Position)

	if a.Action.Status.Invincible {
		dc.SetColor(color.RGBA{255, 255, 255, 77})
		dc.DrawCircle(x, y, r.Radius+4)
		dc.Fill()
	}

	c, ok := clipColors[a.Action.Clip]
	if !ok {
		c = clipColors[game.ClipNone]
	}
	dc.SetColor(c)
	dc.DrawCircle(x, y, r.Radius)
	dc.Fill()

	// Facing: yaw 0 looks along +Z, which is up on screen
	fx := x + math.Sin(a.Yaw)*r.Radius*2
	fy := y - math.Cos(a.Yaw)*r.Radius*2
	dc.SetLineWidth(2)
	dc.DrawLine(x, y, fx, fy)
	dc.Stroke()

	if res := a.Action.Resources; res.MaxStamina > 0 {
		w := r.Radius * 2
		dc.SetColor(color.RGBA{40, 40, 40, 255})
		dc.DrawRectangle(x-r.Radius, y+r.Radius+3, w, 2)
		dc.Fill()
		dc.SetColor(color.RGBA{90, 255, 160, 255})
		dc.DrawRectangle(x-r.Radius, y+r.Radius+3, w*float64(res.Stamina/res.MaxStamina), 2)
		dc.Fill()
	}

	label := a.Name
	if a.Action.Action != "" {
		label += " " + a.Action.Action
	}
	dc.SetColor(color.RGBA{220, 220, 230, 255})
	dc.DrawStringAnchored(label, x, y-r.Radius-6, 0.5, 0)
}

// Handler serves the latest snapshot as image/png.
func (r *Renderer) Handler(src SnapshotSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		img := r.Render(src.GetSnapshot())
		dc := gg.NewContextForImage(img)

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		if err := dc.EncodePNG(w); err != nil {
			log.Printf("⚠️ Arena render: %v", err)
		}
	})
}
