// =============================================================================
// MELEE CORE - BOT
// =============================================================================
// Headless client that connects to the server over websocket, predicts its
// own actor, reconciles against the server and interpolates everyone else.
// Useful for load tests and for watching reconciliation in the logs.
//
// USAGE:
//   1. Start the server: go run ./cmd/server
//   2. Start one or more bots: BOT_COUNT=10 go run ./cmd/bot
// =============================================================================
package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"melee-core/internal/api"
	"melee-core/internal/config"
	"melee-core/internal/game"
)

// botActions are requested in rotation.
var botActions = []string{"light_attack", "light_attack", "heavy_attack", "dodge", "light_attack"}

func main() {
	if err := godotenv.Load("../.env"); err != nil {
		if err := godotenv.Load(".env"); err != nil {
			log.Println("💡 No .env file found, using environment variables only")
		}
	}

	log.Println("🤖 ================================")
	log.Println("🤖  MELEE CORE - BOT")
	log.Println("🤖 ================================")

	serverURL := getEnvWithDefault("BOT_SERVER_URL", "ws://localhost:3000/ws")
	count := getEnvInt("BOT_COUNT", 1)
	actionEvery := time.Duration(getEnvFloat("BOT_ACTION_EVERY", 1.5) * float64(time.Second))
	lead := game.Tick(getEnvInt("BOT_TICK_LEAD", 2))

	appConfig := config.Load()
	catalog := game.DefaultCatalog()

	log.Printf("🌐 Server: %s", serverURL)
	log.Printf("🤖 Bots: %d, action every %s, tick lead %d", count, actionEvery, lead)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			b := &bot{
				name:        fmt.Sprintf("bot-%d", n),
				phase:       float64(n) * 0.7,
				actionEvery: actionEvery,
				lead:        lead,
			}
			if err := b.run(ctx, sessionURL(serverURL, b.name), appConfig.Client(), catalog); err != nil {
				log.Printf("⚠️ %s: %v", b.name, err)
			}
		}(i)
	}
	wg.Wait()

	log.Println("👋 Bots stopped")
}

type bot struct {
	name        string
	phase       float64
	actionEvery time.Duration
	lead        game.Tick

	corrections int
	stale       int
	replayed    int
	admitted    int
	requested   int
}

func (b *bot) run(ctx context.Context, target string, cfg game.ClientConfig, catalog *game.ActionCatalog) error {
	cs, err := api.DialSession(ctx, target, cfg, catalog)
	if err != nil {
		return err
	}
	defer cs.Close()

	w := cs.Welcome()
	client := cs.Actor()
	tickRate := w.TickRate
	if tickRate <= 0 {
		tickRate = cfg.TickRate
	}
	log.Printf("🤖 %s controls actor %d at %d TPS", b.name, w.Actor, tickRate)

	ticker := time.NewTicker(time.Second / time.Duration(tickRate))
	defer ticker.Stop()
	report := time.NewTicker(5 * time.Second)
	defer report.Stop()

	// Run slightly ahead of the server so inputs land before their tick
	tick := w.Spawn.Tick + b.lead
	nextAction := time.Now().Add(b.actionEvery)

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-cs.Done():
			return cs.Err()

		case now := <-ticker.C:
			tick++
			b.steer(client, tick, tickRate)

			if b.actionEvery > 0 && now.After(nextAction) {
				b.act(client)
				nextAction = now.Add(b.actionEvery)
			}

			_, res := client.Tick(tick)
			switch {
			case res.Stale || res.Ahead:
				b.stale++
			case res.Diverged:
				b.corrections++
				b.replayed += res.Replayed
			}

		case <-report.C:
			pos := client.Current().Position
			log.Printf("🤖 %s tick %d pos (%.2f, %.2f) corrections %d (replayed %d) snaps %d actions %d/%d",
				b.name, tick, pos.X, pos.Z, b.corrections, b.replayed, b.stale, b.admitted, b.requested)
		}
	}
}

// steer walks a slow circle while turning to face the direction of travel.
func (b *bot) steer(client *game.ClientActor, tick game.Tick, tickRate int) {
	t := float64(tick)/float64(tickRate)*0.5 + b.phase
	move := game.Vec2{X: float32(math.Cos(t)), Y: float32(math.Sin(t))}
	client.SetInput(move, game.QuatFromYaw(math.Atan2(float64(move.X), float64(move.Y))))
}

func (b *bot) act(client *game.ClientActor) {
	name := botActions[b.requested%len(botActions)]
	b.requested++

	v, err := client.RequestAction(name)
	if err != nil {
		log.Printf("⚠️ %s: request %s: %v", b.name, name, err)
		return
	}
	if v.CanPlay || v.Lunged {
		b.admitted++
	}
}

func sessionURL(base, name string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("name", name)
	u.RawQuery = q.Encode()
	return u.String()
}

func getEnvWithDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
