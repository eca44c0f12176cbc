package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	"github.com/gatundu2013/crash-sub000/internal/server"
)

func gracefulShutdown(fiberServer *server.FiberServer, done chan bool) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[MAIN] Shutting down gracefully...")
	if err := fiberServer.Shutdown(); err != nil {
		log.Printf("[MAIN] Shutdown error: %v", err)
	}
	if err := fiberServer.App.Shutdown(); err != nil {
		log.Printf("[MAIN] HTTP shutdown error: %v", err)
	}

	done <- true
}

func main() {
	fiberServer := server.New()
	fiberServer.RegisterFiberRoutes()

	done := make(chan bool, 1)
	go gracefulShutdown(fiberServer, done)

	port, _ := strconv.Atoi(getEnv("PORT", "8080"))
	if err := fiberServer.Listen(fmt.Sprintf(":%d", port)); err != nil {
		log.Fatalf("[MAIN] Server error: %v", err)
	}

	<-done
	log.Println("[MAIN] Graceful shutdown complete")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
