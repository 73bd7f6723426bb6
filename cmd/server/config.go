// config/config.go - Configuration loading and management.
//
// This file handles loading configuration from a JSON file and environment variables.
// It defines the Config struct and functions to load and validate configuration,
// plus logger setup.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"
)

const ServerVersion = "0.1.0" // Define software version

// Config holds the application configuration.
type Config struct {
	APIServerAddress string `json:"api_listener"`
	SupabaseURL      string `json:"supabase_url"`
	SupabaseAnonKey  string `json:"supabase_anon_key"`
	SyncWebhookURL   string `json:"sync_webhook_url"`
	StorageBucket    string `json:"storage_bucket"`
	PublicBaseURL    string `json:"public_base_url"`
	CredentialPath   string `json:"credential_store_path"`
	SessionSecret    string `json:"session_secret"`
	LogFilePath      string `json:"log_file_path"`
	ShutdownDelay    int    `json:"shutdown_delay_seconds"`
	ConfigFileUsed   string `json:"-"` // Not from config file, but tracked for info
}

// Default configuration values if not provided in file or env vars.
const (
	defaultAPIServerAddress = ":8080"
	defaultStorageBucket    = "app-assets"
	defaultPublicBaseURL    = "http://localhost:8080"
	defaultCredentialPath   = "./data/credentials.json"
	defaultSessionSecret    = "nexus-demo-session-secret"
	defaultLogFilePath      = ""
	defaultShutdownDelay    = 5
	configFileName          = "nexus.store-man.config.json"
)

// LoadConfig loads the configuration from a JSON file and environment variables.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()
	configFilePath := getConfigFilePath()

	if err := loadConfigFile(cfg, configFilePath); err != nil {
		if !os.IsNotExist(err) { // Ignore file not found error, use defaults or env vars
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg.ConfigFileUsed = configFilePath
	}

	applyEnvironmentVariables(cfg) // Override with environment variables if set

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a Config struct with default values.
//
// SupabaseURL and SupabaseAnonKey deliberately default to empty: their absence
// switches read paths to the built-in sample dataset rather than failing hard.
func DefaultConfig() *Config {
	return &Config{
		APIServerAddress: defaultAPIServerAddress,
		StorageBucket:    defaultStorageBucket,
		PublicBaseURL:    defaultPublicBaseURL,
		CredentialPath:   defaultCredentialPath,
		SessionSecret:    defaultSessionSecret,
		LogFilePath:      defaultLogFilePath,
		ShutdownDelay:    defaultShutdownDelay,
	}
}

// getConfigFilePath determines the configuration file path.
// It checks for environment variable NEXUS_STORE_CONFIG_PATH first, then defaults to configFileName.
func getConfigFilePath() string {
	if envPath := os.Getenv("NEXUS_STORE_CONFIG_PATH"); envPath != "" {
		return envPath
	}
	return configFileName
}

// loadConfigFile loads configuration from the JSON file.
func loadConfigFile(cfg *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("failed to decode config file: %w", err)
	}
	return nil
}

// applyEnvironmentVariables overrides configuration with environment variables.
func applyEnvironmentVariables(cfg *Config) {
	setIfEnvExists(&cfg.APIServerAddress, "NEXUS_STORE_API_ADDRESS")
	setIfEnvExists(&cfg.SupabaseURL, "SUPABASE_URL")
	setIfEnvExists(&cfg.SupabaseAnonKey, "SUPABASE_ANON_KEY")
	setIfEnvExists(&cfg.SyncWebhookURL, "NEXUS_STORE_SYNC_WEBHOOK_URL")
	setIfEnvExists(&cfg.StorageBucket, "NEXUS_STORE_STORAGE_BUCKET")
	setIfEnvExists(&cfg.PublicBaseURL, "NEXUS_STORE_PUBLIC_BASE_URL")
	setIfEnvExists(&cfg.CredentialPath, "NEXUS_STORE_CREDENTIAL_PATH")
	setIfEnvExists(&cfg.SessionSecret, "NEXUS_STORE_SESSION_SECRET")
	setIfEnvExists(&cfg.LogFilePath, "NEXUS_STORE_LOG_FILE_PATH")
	if val := os.Getenv("NEXUS_STORE_SHUTDOWN_DELAY"); val != "" {
		if delay, err := strconv.Atoi(val); err == nil {
			cfg.ShutdownDelay = delay
		} else {
			fmt.Printf("Warning: Invalid value for NEXUS_STORE_SHUTDOWN_DELAY, using default. Error: %v\n", err)
		}
	}
}

// setIfEnvExists sets the config value from environment variable if it exists.
func setIfEnvExists(configValue *string, envName string) {
	if val := os.Getenv(envName); val != "" {
		*configValue = val
	}
}

// validateConfig performs basic validation of the configuration.
func validateConfig(cfg *Config) error {
	if cfg.APIServerAddress == "" {
		return fmt.Errorf("API listener address cannot be empty")
	}
	if cfg.StorageBucket == "" {
		return fmt.Errorf("storage bucket cannot be empty")
	}
	if cfg.SessionSecret == "" {
		return fmt.Errorf("session secret cannot be empty")
	}
	if cfg.ShutdownDelay < 0 {
		return fmt.Errorf("shutdown delay must be non-negative")
	}
	return nil
}

// BackendConfigured reports whether a real backend endpoint and key are
// present. When false the service runs in sample-data mode.
func (cfg *Config) BackendConfigured() bool {
	return cfg.SupabaseURL != "" && cfg.SupabaseAnonKey != ""
}

// SetupLogger initializes the zerolog logger, optionally teeing to a log file.
// The returned file is nil when no log file path is configured.
func SetupLogger(logFilePath string) (zerolog.Logger, *os.File, error) {
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}

	var out io.Writer = console
	var logFile *os.File
	if logFilePath != "" {
		logDir := filepath.Dir(logFilePath)
		if _, err := os.Stat(logDir); os.IsNotExist(err) {
			if err := os.MkdirAll(logDir, 0755); err != nil {
				return zerolog.Logger{}, nil, fmt.Errorf("failed to create log directory: %w", err)
			}
		}

		f, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logFile = f
		out = zerolog.MultiLevelWriter(console, f)
	}

	logger := zerolog.New(out).With().Timestamp().Str("service", "store-man").Logger()
	return logger, logFile, nil
}
