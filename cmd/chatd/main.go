// cmd/chatd/main.go
// Entry point for the chat sync daemon. Bootstraps storage, the realtime
// bus and the websocket gateway, then serves until interrupted.

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"github.com/tensae-code/liqlearns-chat-engine/internal/chatsync"
	"github.com/tensae-code/liqlearns-chat-engine/internal/common/database"
	"github.com/tensae-code/liqlearns-chat-engine/internal/config"
	"github.com/tensae-code/liqlearns-chat-engine/internal/gateway"
	"github.com/tensae-code/liqlearns-chat-engine/internal/identity"
	"github.com/tensae-code/liqlearns-chat-engine/internal/presence"
	"github.com/tensae-code/liqlearns-chat-engine/internal/realtime"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	log.Println("========================================")
	log.Println("🚀 Starting LiqLearns Chat Sync Engine")
	log.Println("========================================")

	// 1. Load environment variables
	log.Println("📁 Step 1: Loading .env file...")
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  Warning: No .env file found (%v), using environment variables", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	// 2. Load and validate configuration
	log.Println("\n📋 Step 2: Loading configuration...")
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal("❌ Configuration validation failed:", err)
	}
	log.Println("✅ Configuration loaded and valid")

	// 3. Connect to PostgreSQL
	log.Println("\n🗄️  Step 3: Connecting to PostgreSQL...")
	db, err := database.NewPostgresDBFromURL(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("❌ Failed to connect to PostgreSQL:", err)
	}
	defer db.Close()
	log.Println("✅ Connected to PostgreSQL successfully")

	// 4. Connect to Redis
	log.Println("\n📮 Step 4: Connecting to Redis...")
	redisClient, err := database.NewRedisClientFromURL(cfg.RedisURL)
	if err != nil {
		log.Fatal("❌ Failed to connect to Redis:", err)
	}
	defer redisClient.Close()
	log.Println("✅ Connected to Redis successfully")

	// 5. Wire the realtime bus and storage layers
	log.Println("\n🔌 Step 5: Wiring realtime bus and repositories...")
	bus := realtime.NewRedisBus(redisClient, cfg.EventBufferSize)
	repo := chatsync.NewPostgresRepository(db, bus)
	resolver := identity.NewPostgresResolver(db)
	log.Println("✅ Realtime bus and repositories ready")

	// 6. Presence service
	log.Println("\n👀 Step 6: Initializing presence service...")
	var notifier presence.Notifier
	if cfg.EnablePresence {
		notifier = presence.NewRedisNotifier(redisClient)
		log.Println("✅ Redis presence notifier enabled")
	} else {
		notifier = presence.NopNotifier{}
		log.Println("📝 Presence disabled, typing signals are dropped")
	}

	// 7. Gateway and routes
	log.Println("\n🌐 Step 7: Registering gateway routes...")
	gw := gateway.NewGateway(repo, resolver, bus, notifier, cfg.DMListLimit, cfg.LoadTimeout)

	router := mux.NewRouter()
	gateway.RegisterRoutes(router, gw, cfg.EnableMetrics)
	log.Println("✅ Gateway routes registered")

	// 8. Start the HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Println("\n========================================")
		log.Printf("🚀 Server starting on http://localhost%s", srv.Addr)
		log.Printf("🌍 Environment: %s", cfg.Environment)
		log.Println("========================================")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("❌ Failed to start server:", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("\n⚠️  Shutdown signal received...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("❌ Server forced to shutdown: %v", err)
	}

	log.Println("✅ Server exited gracefully")
}
