// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for all protocol and timing settings.
//
// IMPORTANT: When changing values, only modify this file.
// All other parts of the codebase should reference these values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// =============================================================================
// GAME CONFIGURATION
// =============================================================================

// GameConfig holds the authoritative game parameters shared by server and
// client. GridSize is the side length of the square grid.
type GameConfig struct {
	GridSize   int // Side of the square grid (GridSize x GridSize cells)
	MaxPlayers int // Fixed player slots (player_1 .. player_N)
}

// DefaultGame returns the default game configuration.
func DefaultGame() GameConfig {
	return GameConfig{
		GridSize:   20,
		MaxPlayers: 4,
	}
}

// GameFromEnv returns game configuration with environment variable overrides.
func GameFromEnv() GameConfig {
	cfg := DefaultGame()

	if g := getEnvInt("GRIDCLASH_GRID_SIZE", 0); g > 0 {
		cfg.GridSize = g
	}

	return cfg
}

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds the UDP server settings.
type ServerConfig struct {
	BindAddr          string        // UDP bind address
	Port              int           // UDP port
	TickRate          int           // Broadcast ticks per second
	InactivityTimeout time.Duration // Session eviction window
	ResetCooldown     time.Duration // Delay between game over and reset
	RetryInterval     time.Duration // Reliability retransmit interval
	MaxRetries        int           // Reliability retry ceiling
	HTTPPort          int           // Status/spectator HTTP API port
	DebugAddr         string        // pprof/metrics listen address
	MetricsLogPath    string        // CSV metrics sink ("" disables)
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		BindAddr:          "0.0.0.0",
		Port:              5555,
		TickRate:          20, // 20 Hz broadcast
		InactivityTimeout: 30 * time.Second,
		ResetCooldown:     5 * time.Second,
		RetryInterval:     200 * time.Millisecond,
		MaxRetries:        10,
		HTTPPort:          3000,
		DebugAddr:         "127.0.0.1:6060", // Localhost only
		MetricsLogPath:    "server_metrics.csv",
	}
}

// ServerFromEnv returns server configuration with environment variable overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()

	if a := os.Getenv("GRIDCLASH_BIND_ADDR"); a != "" {
		cfg.BindAddr = a
	}
	if p := getEnvInt("GRIDCLASH_PORT", 0); p > 0 {
		cfg.Port = p
	}
	if tr := getEnvInt("GRIDCLASH_TICK_RATE", 0); tr > 0 {
		cfg.TickRate = tr
	}
	if t := getEnvDuration("GRIDCLASH_INACTIVITY_TIMEOUT", 0); t > 0 {
		cfg.InactivityTimeout = t
	}
	if p := getEnvInt("GRIDCLASH_HTTP_PORT", 0); p > 0 {
		cfg.HTTPPort = p
	}
	if a := os.Getenv("GRIDCLASH_DEBUG_ADDR"); a != "" {
		cfg.DebugAddr = a
	}
	if l := os.Getenv("GRIDCLASH_METRICS_LOG"); l != "" {
		cfg.MetricsLogPath = l
	}

	return cfg
}

// ListenAddr returns the host:port string the UDP socket binds to.
func (c ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.BindAddr, c.Port)
}

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds the UDP client settings.
type ClientConfig struct {
	ServerAddr     string        // Server host
	Port           int           // Server UDP port
	FrameRate      int           // Local frame loop cadence
	Headless       bool          // Bot mode: no human input expected
	RetryInterval  time.Duration // Local reliability retransmit interval
	MaxRetries     int           // Local reliability retry ceiling
	ConnectTimeout time.Duration // Welcome wait deadline
	MetricsLogPath string        // Per-packet CSV sink ("" disables)
}

// DefaultClient returns the default client configuration.
func DefaultClient() ClientConfig {
	return ClientConfig{
		ServerAddr:     "127.0.0.1",
		Port:           5555,
		FrameRate:      60,
		RetryInterval:  100 * time.Millisecond,
		MaxRetries:     10,
		ConnectTimeout: 5 * time.Second,
	}
}

// ClientFromEnv returns client configuration with environment variable overrides.
func ClientFromEnv() ClientConfig {
	cfg := DefaultClient()

	if a := os.Getenv("GRIDCLASH_SERVER_ADDR"); a != "" {
		cfg.ServerAddr = a
	}
	if p := getEnvInt("GRIDCLASH_PORT", 0); p > 0 {
		cfg.Port = p
	}
	if fr := getEnvInt("GRIDCLASH_FRAME_RATE", 0); fr > 0 {
		cfg.FrameRate = fr
	}
	if os.Getenv("GRIDCLASH_HEADLESS") == "true" {
		cfg.Headless = true
	}
	if l := os.Getenv("GRIDCLASH_CLIENT_LOG"); l != "" {
		cfg.MetricsLogPath = l
	}

	return cfg
}

// RemoteAddr returns the host:port string of the server.
func (c ClientConfig) RemoteAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerAddr, c.Port)
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Game   GameConfig
	Server ServerConfig
	Client ClientConfig
}

// Load returns the complete configuration with environment overrides.
func Load() AppConfig {
	return AppConfig{
		Game:   GameFromEnv(),
		Server: ServerFromEnv(),
		Client: ClientFromEnv(),
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

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
