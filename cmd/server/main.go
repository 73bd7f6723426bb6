// main.go - Entry point for the Nexus App Store service.
//
// This file sets up the configuration, logging, the backend gateway, and
// starts the REST API server. It also handles graceful shutdown.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables from .env file if it exists
	godotenv.Load()

	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, logFile, err := SetupLogger(cfg.LogFilePath)
	if err != nil {
		log.Fatalf("Failed to setup logger: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	logger.Info().Str("version", ServerVersion).Msg("starting Nexus App Store service")
	if cfg.ConfigFileUsed != "" {
		logger.Info().Str("path", cfg.ConfigFileUsed).Msg("configuration loaded from file")
	}
	if !cfg.BackendConfigured() {
		logger.Warn().Msg("backend URL/key not configured, read paths will serve sample data")
	}

	gateway := NewSupabaseGateway(cfg, logger)
	notifier := NewSyncNotifier(cfg.SyncWebhookURL, logger)

	credStore, err := NewCredentialStore(cfg.CredentialPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize credential store")
	}
	defer credStore.Close()

	storeService := NewStoreService(cfg, gateway, notifier, logger)
	authService := NewAuthService(cfg, gateway, logger)
	bioService := NewBiometricService(cfg, credStore, gateway, authService, logger)

	router := mux.NewRouter()
	router.Use(CORSMiddleware)
	router.Use(RequestLogger(logger))
	apiRouter := router.PathPrefix("/api/v1").Subrouter() // Versioned API

	SetupPublicRoutes(apiRouter, storeService, logger)
	SetupAuthRoutes(apiRouter, authService, bioService, logger)
	SetupAdminRoutes(apiRouter, storeService, authService, logger)

	server := &http.Server{
		Addr:         cfg.APIServerAddress,
		Handler:      router,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("address", cfg.APIServerAddress).Msg("starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownDelay)*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server shutdown completed")
}
