package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"melee-core/internal/api"
	"melee-core/internal/config"
	"melee-core/internal/debugview"
	"melee-core/internal/game"
)

func main() {
	// Load .env file from parent directory
	if err := godotenv.Load("../.env"); err != nil {
		// Try current directory as fallback
		if err := godotenv.Load(".env"); err != nil {
			log.Println("💡 No .env file found, using environment variables only")
		}
	} else {
		log.Println("✅ Loaded environment from ../.env")
	}

	log.Println("🎮 ================================")
	log.Println("🎮  MELEE CORE - AUTHORITATIVE SERVER")
	log.Println("🎮 ================================")

	appConfig := config.Load()
	engineCfg := appConfig.Engine()

	log.Printf("🎮 Config: %d TPS, buffer %d, epsilon %g, move speed %g",
		appConfig.Sim.TickRate, appConfig.Sim.BufferSize, appConfig.Sim.Epsilon, appConfig.Sim.MoveSpeed)
	log.Printf("🛡️ Resource limits: %d actors, %d queued actions, %d queued inputs, %d actions/s per session",
		engineCfg.MaxActors, engineCfg.ActionQueueSize, engineCfg.InputQueueSize, appConfig.Limits.ActionsPerSecond)

	engine := game.NewEngine(engineCfg, nil)
	engine.SetObserver(api.NewMetricsObserver(engine.EventLogStats))

	if path := appConfig.Server.EventLogPath; path != "" {
		if err := engine.StartEventLog(path); err != nil {
			log.Printf("⚠️ Event log disabled: %v", err)
		} else {
			log.Printf("📝 Event log: %s", path)
		}
	}

	// Debug server with an arena render next to pprof and metrics
	debugCfg := api.ObservabilityFromEnv()
	renderer := debugview.NewRenderer(512, engineCfg.ArenaSize)
	debugCfg.Handlers = map[string]http.Handler{
		"/debug/arena.png": renderer.Handler(engine),
	}
	if err := api.StartDebugServer(debugCfg); err != nil {
		log.Printf("⚠️ Debug server disabled: %v", err)
	}

	server := api.NewServer(engine, api.HubConfig{
		ActionsPerSecond: appConfig.Limits.ActionsPerSecond,
	})

	engine.Start()

	go func() {
		addr := fmt.Sprintf(":%d", appConfig.Server.Port)
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ API server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️ API shutdown: %v", err)
	}

	engine.Stop()
	engine.StopEventLog()

	log.Println("👋 Goodbye!")
}
