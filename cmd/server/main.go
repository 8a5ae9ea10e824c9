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

	"github.com/redis/go-redis/v9"

	"github.com/conversekit/chat-gateway/internal/api"
	"github.com/conversekit/chat-gateway/internal/chat"
	"github.com/conversekit/chat-gateway/internal/config"
	"github.com/conversekit/chat-gateway/internal/logger"
	"github.com/conversekit/chat-gateway/internal/session"
	"github.com/conversekit/chat-gateway/internal/store"
	"github.com/conversekit/chat-gateway/internal/store/local"
	"github.com/conversekit/chat-gateway/internal/store/platform"
)

func main() {
	// Load configuration
	config.LoadConfig()

	appLogger, err := logger.New(config.AppConfig.LogMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()

	// Initialize the conversation store binding
	var (
		conversationStore store.Store
		completer         store.Completer
	)

	switch config.AppConfig.StoreMode {
	case config.StoreModePlatform:
		client := platform.NewClient(config.AppConfig.PlatformAPIURL, config.AppConfig.PlatformAPISecret, appLogger)
		conversationStore = client
		completer = client
		appLogger.Info("using hosted platform store", "url", config.AppConfig.PlatformAPIURL)

	case config.StoreModeLocal:
		sqliteStore, err := local.NewSQLiteStore(config.AppConfig.DatabaseURL)
		if err != nil {
			appLogger.Fatal("failed to initialize database", "error", err)
		}
		defer sqliteStore.Close()

		geminiCompleter, err := local.NewGeminiCompleter(context.Background(), config.AppConfig.GeminiAPIKey, sqliteStore, appLogger)
		if err != nil {
			appLogger.Fatal("failed to initialize Gemini completer", "error", err)
		}
		defer geminiCompleter.Close()

		conversationStore = sqliteStore
		completer = geminiCompleter
		appLogger.Info("using local store", "database", config.AppConfig.DatabaseURL)
	}

	// Initialize the session store
	var sessions session.Store
	switch config.AppConfig.SessionStore {
	case config.SessionStoreRedis:
		redisClient := redis.NewClient(&redis.Options{
			Addr:     config.AppConfig.RedisAddr,
			Password: config.AppConfig.RedisPassword,
		})
		sessions, err = session.NewStore(session.StoreTypeRedis, session.WithRedisClient(redisClient))
	default:
		sessions, err = session.NewStore(session.StoreTypeMemory)
	}
	if err != nil {
		appLogger.Fatal("failed to initialize session store", "error", err)
	}
	defer sessions.Close()

	// Initialize the chat service, API handler and router
	chatService := chat.NewService(conversationStore, completer, config.AppConfig.AllowedBotIDs, appLogger)
	apiHandler := api.NewAPIHandler(chatService, sessions, appLogger)
	router := api.NewRouter(apiHandler)

	serverAddr := fmt.Sprintf(":%s", config.AppConfig.HTTPPort)

	srv := &http.Server{
		Addr:        serverAddr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// No write timeout: completion turns stream for as long as the
		// model takes; cancellation comes from the client context.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		appLogger.Info("starting server", "addr", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("server failed", "addr", serverAddr, "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Fatal("server forced to shutdown", "error", err)
	}

	appLogger.Info("server exited gracefully")
}
