package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"autogenius.dev/car-diagnostics/internal/api"
	"autogenius.dev/car-diagnostics/internal/auth"
	"autogenius.dev/car-diagnostics/internal/catalog"
	"autogenius.dev/car-diagnostics/internal/config"
	"autogenius.dev/car-diagnostics/internal/core"
	"autogenius.dev/car-diagnostics/internal/logging"
	"autogenius.dev/car-diagnostics/internal/store"
)

func main() {
	// Load configuration
	config.LoadConfig()
	cfg := config.AppConfig

	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	// Warm the product index before serving instead of on the first chat turn
	warmIndex := flag.Bool("warm-index", false, "Build the product index at startup")
	flag.Parse()

	// Initialize database store
	dbStore, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer dbStore.Close()

	// A missing or broken completion client degrades replies, it does not stop the server.
	completionClient, err := core.NewCompletionClient(cfg)
	if err != nil {
		log.Warnf("Completion client unavailable: %v", err)
	} else {
		defer completionClient.Close()
	}
	responder := core.NewResponder(completionClient, err)

	productIndex := catalog.NewIndex(cfg.CatalogPath)
	if *warmIndex {
		log.Infof("Product index ready with %d products", productIndex.Len())
	}

	chatService := core.NewChatService(dbStore, responder, productIndex)

	sessions := auth.NewSessionManager(cfg.SessionSecret, time.Duration(cfg.SessionMaxAge)*time.Second, cfg.CookieSecure)
	provider := auth.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.OAuthRedirectURL)

	apiHandler := api.NewAPIHandler(chatService, sessions, provider, api.Options{
		UploadDir:      cfg.UploadDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
		SecureCookies:  cfg.CookieSecure,
	})
	router := api.NewRouter(apiHandler, cfg.CORSOrigins)

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // completion calls can take time
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Starting server on %s. Press Ctrl+C to quit.", serverAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Could not listen on %s: %v", serverAddr, err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting gracefully")
}
