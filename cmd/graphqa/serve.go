package graphqa

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soundprediction/graphqa"
	"github.com/soundprediction/graphqa/pkg/audit"
	"github.com/soundprediction/graphqa/pkg/config"
	"github.com/soundprediction/graphqa/pkg/driver"
	"github.com/soundprediction/graphqa/pkg/embedder"
	"github.com/soundprediction/graphqa/pkg/nlp"
	"github.com/soundprediction/graphqa/pkg/server"
	"github.com/soundprediction/graphqa/pkg/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the GraphQA HTTP server",
	Long: `Start the GraphQA HTTP server to provide REST API access to question answering.

The server provides endpoints for:
- Submitting questions (POST /api/v1/query)
- Health checks (GET /health, /live, /ready)

Configuration can be provided through config files, environment variables, or command-line flags.`,
	RunE: runServe,
}

var (
	serverHost string
	serverPort int
	serverMode string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server-specific flags
	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "Server host")
	serveCmd.Flags().IntVar(&serverPort, "port", 8080, "Server port")
	serveCmd.Flags().StringVar(&serverMode, "mode", "debug", "Server mode (debug, release, test)")

	// Database flags
	serveCmd.Flags().String("db-driver", "neo4j", "Database driver (neo4j, memory)")
	serveCmd.Flags().String("db-uri", "bolt://localhost:7687", "Database URI")
	serveCmd.Flags().String("db-username", "neo4j", "Database username")
	serveCmd.Flags().String("db-password", "", "Database password")
	serveCmd.Flags().String("db-database", "neo4j", "Database name")

	// NLP flags
	serveCmd.Flags().String("nlp-model", "gpt-4o-mini", "NLP model")
	serveCmd.Flags().String("nlp-api-key", "", "NLP API key")
	serveCmd.Flags().String("nlp-base-url", "", "NLP base URL")

	// Embedding flags
	serveCmd.Flags().String("embedding-model", "text-embedding-3-small", "Embedding model")
	serveCmd.Flags().String("embedding-api-key", "", "Embedding API key")

	// Audit flags
	serveCmd.Flags().Bool("audit", false, "Enable the parquet audit trail")
	serveCmd.Flags().String("audit-parquet-path", "", "Path to directory for session transition records")
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override config with command-line flags
	overrideConfigWithFlags(cmd, cfg)

	// Validate configuration
	if err := validateServeConfig(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Initialize GraphQA
	fmt.Println("Initializing GraphQA...")
	client, err := initializeClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize GraphQA: %w", err)
	}

	// Create and setup server
	srv := server.New(cfg, client)
	srv.Setup()

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in a goroutine
	serverErrChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		fmt.Printf("\nReceived signal: %v\n", sig)

		// Create shutdown context with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		// Shutdown server
		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		if err := client.Close(shutdownCtx); err != nil {
			return fmt.Errorf("client shutdown error: %w", err)
		}

		fmt.Println("Server stopped gracefully")
		return nil
	}
}

func overrideConfigWithFlags(cmd *cobra.Command, cfg *config.Config) {
	// Server flags
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serverHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = serverPort
	}
	if cmd.Flags().Changed("mode") {
		cfg.Server.Mode = serverMode
	}

	// Database flags
	if cmd.Flags().Changed("db-driver") {
		cfg.Database.Driver, _ = cmd.Flags().GetString("db-driver")
	}
	if cmd.Flags().Changed("db-uri") {
		cfg.Database.URI, _ = cmd.Flags().GetString("db-uri")
	}
	if cmd.Flags().Changed("db-username") {
		cfg.Database.Username, _ = cmd.Flags().GetString("db-username")
	}
	if cmd.Flags().Changed("db-password") {
		cfg.Database.Password, _ = cmd.Flags().GetString("db-password")
	}
	if cmd.Flags().Changed("db-database") {
		cfg.Database.Database, _ = cmd.Flags().GetString("db-database")
	}

	// NLP flags
	if cmd.Flags().Changed("nlp-model") {
		cfg.NLP.Model, _ = cmd.Flags().GetString("nlp-model")
	}
	if cmd.Flags().Changed("nlp-api-key") {
		cfg.NLP.APIKey, _ = cmd.Flags().GetString("nlp-api-key")
	}
	if cmd.Flags().Changed("nlp-base-url") {
		cfg.NLP.BaseURL, _ = cmd.Flags().GetString("nlp-base-url")
	}

	// Embedding flags
	if cmd.Flags().Changed("embedding-model") {
		cfg.Embedding.Model, _ = cmd.Flags().GetString("embedding-model")
	}
	if cmd.Flags().Changed("embedding-api-key") {
		cfg.Embedding.APIKey, _ = cmd.Flags().GetString("embedding-api-key")
	}

	// Audit flags
	if cmd.Flags().Changed("audit") {
		cfg.Audit.Enabled, _ = cmd.Flags().GetBool("audit")
	}
	if cmd.Flags().Changed("audit-parquet-path") {
		cfg.Audit.ParquetPath, _ = cmd.Flags().GetString("audit-parquet-path")
	}
}

func validateServeConfig(cfg *config.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Server.Port)
	}

	if cfg.Database.Driver == "neo4j" && cfg.Database.URI == "" {
		return fmt.Errorf("database URI is required")
	}
	return nil
}

// initializeClient builds the full GraphQA client from configuration.
func initializeClient(cfg *config.Config) (*graphqa.Client, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.Log.Level),
	}))

	// Initialize database driver
	var graphDriver driver.GraphDriver
	var err error
	switch cfg.Database.Driver {
	case "neo4j":
		graphDriver, err = driver.NewNeo4jDriver(cfg.Database.URI, cfg.Database.Username, cfg.Database.Password, cfg.Database.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
		}
	case "memory":
		graphDriver = driver.NewMemoryDriver()
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}

	// Initialize NLP client
	if cfg.NLP.APIKey == "" {
		return nil, fmt.Errorf("NLP API key is required (set OPENAI_API_KEY)")
	}
	baseNLPClient, err := nlp.NewOpenAIClient(cfg.NLP.APIKey, nlp.Config{
		Model:       cfg.NLP.Model,
		Temperature: cfg.NLP.Temperature,
		MaxTokens:   cfg.NLP.MaxTokens,
		BaseURL:     cfg.NLP.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create NLP client: %w", err)
	}

	// Wrap with retry client for automatic retry on errors
	var nlpClient nlp.Client = nlp.NewRetryClient(baseNLPClient, nlp.DefaultRetryConfig())

	// Optional circuit breaker around the provider
	if cfg.CircuitBreaker.Enabled {
		nlpClient = nlp.NewCircuitBreakerClient(nlpClient, nlp.BreakerSettings{
			MaxRequests:      cfg.CircuitBreaker.MaxRequests,
			Interval:         time.Duration(cfg.CircuitBreaker.Interval) * time.Second,
			Timeout:          time.Duration(cfg.CircuitBreaker.Timeout) * time.Second,
			ReadyToTripRatio: cfg.CircuitBreaker.ReadyToTripRatio,
		}, logger, "nlp")
	}

	// Initialize embedder client
	var embedderClient embedder.Client
	if cfg.Embedding.APIKey != "" {
		embedderClient, err = embedder.NewOpenAIEmbedder(cfg.Embedding.APIKey, embedder.Config{
			Model:      cfg.Embedding.Model,
			BaseURL:    cfg.Embedding.BaseURL,
			Dimensions: cfg.Embedding.Dimensions,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create embedder: %w", err)
		}
	}

	// Audit trail using Parquet
	var trail audit.Trail = audit.NopTrail{}
	if cfg.Audit.Enabled {
		auditPath := cfg.Audit.ParquetPath
		if auditPath == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("failed to get user home directory: %w", err)
			}
			auditPath = fmt.Sprintf("%s/.graphqa/audit", homeDir)
		}
		if err := os.MkdirAll(auditPath, 0755); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
		parquetTrail, err := audit.NewParquetTrail(auditPath, 0)
		if err != nil {
			fmt.Printf("Warning: Failed to initialize audit trail: %v\n", err)
		} else {
			trail = parquetTrail
			fmt.Printf("Audit trail enabled at: %s\n", auditPath)
		}
	}

	clientConfig := &graphqa.Config{
		Session: sessionConfig(cfg),
		Trail:   trail,
	}

	client, err := graphqa.NewClient(graphDriver, nlpClient, embedderClient, clientConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create GraphQA client: %w", err)
	}

	fmt.Printf("GraphQA initialized successfully with driver: %s\n", cfg.Database.Driver)
	fmt.Printf("NLP model: %s\n", cfg.NLP.Model)
	if embedderClient != nil {
		fmt.Printf("Embedding model: %s\n", cfg.Embedding.Model)
	}

	return client, nil
}

func sessionConfig(cfg *config.Config) *types.SessionConfig {
	return (&types.SessionConfig{
		SufficiencyThreshold: cfg.Orchestrator.SufficiencyThreshold,
		ConfidenceThreshold:  cfg.Orchestrator.ConfidenceThreshold,
		MaxTurns:             cfg.Orchestrator.MaxTurns,
		PerCallTimeout:       time.Duration(cfg.Orchestrator.PerCallTimeout) * time.Second,
		MaxRetries:           cfg.Orchestrator.MaxRetries,
		RetryBackoff:         time.Duration(cfg.Orchestrator.RetryBackoff) * time.Millisecond,
		EvidenceLimit:        cfg.Orchestrator.EvidenceLimit,
	}).WithDefaults()
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
