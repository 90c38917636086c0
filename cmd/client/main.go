package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"grid-clash/internal/client"
	"grid-clash/internal/config"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("💡 No .env file found, using environment variables only")
	}

	log.Println("🎮 ================================")
	log.Println("🎮  GRID CLASH - CLIENT")
	log.Println("🎮 ================================")

	appConfig := config.Load()
	clientCfg := appConfig.Client

	c := client.New(clientCfg)
	if err := c.Connect(); err != nil {
		log.Fatalf("❌ Could not join %s: %v", clientCfg.RemoteAddr(), err)
	}
	defer c.Stop()

	stop := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		close(stop)
	}()

	// Headless mode drives the game with a bot; otherwise an external
	// renderer owns the frame loop and this process just stays connected.
	if clientCfg.Headless {
		bot := client.NewBot(c)
		bot.Run(stop)
	} else {
		log.Println("✅ Connected. Press Ctrl+C to quit.")
		<-stop
	}

	log.Println("🛑 Shutting down...")
}
