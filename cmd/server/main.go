package main

import (
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"grid-clash/internal/api"
	"grid-clash/internal/config"
	"grid-clash/internal/server"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("💡 No .env file found, using environment variables only")
	} else {
		log.Println("✅ Loaded environment from .env")
	}

	log.Println("🎮 ================================")
	log.Println("🎮  GRID CLASH - SYNC SERVER")
	log.Println("🎮 ================================")

	appConfig := config.Load()
	serverCfg := appConfig.Server
	gameCfg := appConfig.Game

	log.Printf("🎮 Config: %d Hz tick, %dx%d grid, %d slots, %s inactivity window",
		serverCfg.TickRate, gameCfg.GridSize, gameCfg.GridSize,
		gameCfg.MaxPlayers, serverCfg.InactivityTimeout)

	engine := server.NewEngine(serverCfg, gameCfg)
	if err := engine.Start(); err != nil {
		log.Fatalf("❌ Failed to bind UDP socket: %v", err)
	}
	log.Println("✅ Sync engine started")

	if os.Getenv("GRIDCLASH_DISABLE_DEBUG_SERVER") != "true" {
		debugCfg := api.DefaultObservabilityConfig()
		debugCfg.ListenAddr = serverCfg.DebugAddr
		if err := api.StartDebugServer(debugCfg); err != nil {
			log.Printf("⚠️ Debug server disabled: %v", err)
		}
	}

	apiServer := api.NewServer(engine)
	go func() {
		addr := ":" + strconv.Itoa(serverCfg.HTTPPort)
		log.Printf("🌐 Status API on http://localhost%s/api/status", addr)
		if err := apiServer.Start(addr); err != nil {
			log.Fatalf("Failed to start API server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Println("✅ Server ready! Press Ctrl+C to stop.")
	<-quit

	log.Println("🛑 Shutting down...")
	apiServer.Stop()
	engine.Stop()
	log.Println("👋 Goodbye!")
}
