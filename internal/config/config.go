// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for simulation, admission and server settings.
//
// IMPORTANT: When changing values, only modify this file.
// All other parts of the codebase should reference these values.
package config

import (
	"os"
	"strconv"
)

// =============================================================================
// SIMULATION CONFIGURATION
// =============================================================================

// SimConfig holds the fixed-step simulation settings.
// Server and every client MUST run with identical values or replay diverges.
type SimConfig struct {
	TickRate   int     // Fixed simulation steps per second
	BufferSize int     // Prediction buffer length (power of two)
	Epsilon    float32 // Position divergence that triggers reconciliation (units)
	MoveSpeed  float32 // Free movement speed (units per second)
}

// DefaultSim returns the default simulation configuration.
func DefaultSim() SimConfig {
	return SimConfig{
		TickRate:   30,
		BufferSize: 1024, // ~34s window at 30 TPS
		Epsilon:    0.001,
		MoveSpeed:  5.0,
	}
}

// SimFromEnv returns simulation configuration with environment variable overrides.
func SimFromEnv() SimConfig {
	cfg := DefaultSim()

	if tr := getEnvInt("SIM_TICK_RATE", 0); tr > 0 {
		cfg.TickRate = tr
	}
	if bs := getEnvInt("SIM_BUFFER_SIZE", 0); bs > 0 {
		cfg.BufferSize = nextPowerOfTwo(bs)
	}
	if eps := getEnvFloat("SIM_EPSILON", -1); eps > 0 {
		cfg.Epsilon = float32(eps)
	}
	if ms := getEnvFloat("SIM_MOVE_SPEED", -1); ms > 0 {
		cfg.MoveSpeed = float32(ms)
	}

	return cfg
}

// =============================================================================
// ADMISSION CONFIGURATION
// =============================================================================

// AdmissionConfig holds the timing thresholds used by the action state machine.
// Server and owning client use different values to offset position-correction
// latency; both are tunable rather than fixed.
type AdmissionConfig struct {
	ServerDodgeCancel float32 // Normalized dodge time after which attacks may cancel it (server)
	ClientDodgeCancel float32 // Same threshold on the owning client
	ServerReDodge     float32 // Normalized dodge time after which a new dodge may start (server)
	ClientReDodge     float32 // Same threshold on the owning client
	Counter           float32 // Normalized block-reaction time after which a counter is allowed

	StaminaRegen float32 // Stamina per second
	RageDecay    float32 // Rage lost per second while idle
	RageOnHit    float32 // Rage gained when a hit reaction is admitted
}

// DefaultAdmission returns the default admission thresholds.
func DefaultAdmission() AdmissionConfig {
	return AdmissionConfig{
		ServerDodgeCancel: 0.55,
		ClientDodgeCancel: 0.57,
		ServerReDodge:     0.52,
		ClientReDodge:     0.57,
		Counter:           0.15,
		StaminaRegen:      20.0,
		RageDecay:         2.0,
		RageOnHit:         15.0,
	}
}

// AdmissionFromEnv returns admission configuration with environment variable overrides.
func AdmissionFromEnv() AdmissionConfig {
	cfg := DefaultAdmission()

	if v := getEnvFloat("ADMIT_SERVER_DODGE_CANCEL", -1); v >= 0 {
		cfg.ServerDodgeCancel = float32(v)
	}
	if v := getEnvFloat("ADMIT_CLIENT_DODGE_CANCEL", -1); v >= 0 {
		cfg.ClientDodgeCancel = float32(v)
	}
	if v := getEnvFloat("ADMIT_SERVER_REDODGE", -1); v >= 0 {
		cfg.ServerReDodge = float32(v)
	}
	if v := getEnvFloat("ADMIT_CLIENT_REDODGE", -1); v >= 0 {
		cfg.ClientReDodge = float32(v)
	}
	if v := getEnvFloat("ADMIT_COUNTER", -1); v >= 0 {
		cfg.Counter = float32(v)
	}
	if v := getEnvFloat("STAMINA_REGEN", -1); v >= 0 {
		cfg.StaminaRegen = float32(v)
	}
	if v := getEnvFloat("RAGE_DECAY", -1); v >= 0 {
		cfg.RageDecay = float32(v)
	}
	if v := getEnvFloat("RAGE_ON_HIT", -1); v >= 0 {
		cfg.RageOnHit = float32(v)
	}

	return cfg
}

// =============================================================================
// LUNGE CONFIGURATION
// =============================================================================

// LungeConfig defines the proximity window used to pick a lunge target.
type LungeConfig struct {
	MinDistance  float32 // Closer than this the attack fires directly
	MaxDistance  float32 // Farther than this no lunge happens
	HalfAngleDeg float32 // Half-width of the forward cone in degrees
}

// DefaultLunge returns the default lunge window.
func DefaultLunge() LungeConfig {
	return LungeConfig{
		MinDistance:  1.5,
		MaxDistance:  6.0,
		HalfAngleDeg: 35,
	}
}

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP/WebSocket server settings.
type ServerConfig struct {
	Port         int
	MaxActors    int
	EventLogPath string
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:         3000,
		MaxActors:    256,
		EventLogPath: "events.jsonl",
	}
}

// ServerFromEnv returns server configuration with environment variable overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()

	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Port = p
	}
	if ma := getEnvInt("MAX_ACTORS", 0); ma > 0 {
		cfg.MaxActors = ma
	}
	if path, ok := os.LookupEnv("EVENT_LOG_PATH"); ok {
		cfg.EventLogPath = path // empty disables file output
	}

	return cfg
}

// =============================================================================
// RESOURCE LIMITS
// =============================================================================

// ResourceLimits controls DoS protection limits.
type ResourceLimits struct {
	ActionQueueSize  int // Pending action requests per actor
	InputQueueSize   int // Pending network inputs per actor
	MaxSnapshotActor int // Actors copied into each snapshot
	ActionsPerSecond int // Action requests accepted per session per second
}

// DefaultLimits returns the default resource limits.
func DefaultLimits() ResourceLimits {
	return ResourceLimits{
		ActionQueueSize:  32,
		InputQueueSize:   128,
		MaxSnapshotActor: 256,
		ActionsPerSecond: 20,
	}
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Sim       SimConfig
	Admission AdmissionConfig
	Lunge     LungeConfig
	Server    ServerConfig
	Limits    ResourceLimits
}

// Load returns the complete configuration with environment overrides.
func Load() AppConfig {
	return AppConfig{
		Sim:       SimFromEnv(),
		Admission: AdmissionFromEnv(),
		Lunge:     DefaultLunge(),
		Server:    ServerFromEnv(),
		Limits:    DefaultLimits(),
	}
}

// Default returns the complete configuration without environment overrides.
func Default() AppConfig {
	return AppConfig{
		Sim:       DefaultSim(),
		Admission: DefaultAdmission(),
		Lunge:     DefaultLunge(),
		Server:    DefaultServer(),
		Limits:    DefaultLimits(),
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
