package piqa

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soundprediction/piqa/pkg/config"
	"github.com/soundprediction/piqa/pkg/server"
	"github.com/soundprediction/piqa/pkg/squad"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the question encoding HTTP server",
	Long: `Start the HTTP server that encodes free-text questions into the
phrase index space.

The server provides endpoints for:
- Encoding a question (GET /api?query=...)
- Searching a phrase index written by embed-context (GET /api/search)
- Health checks

Configuration can be provided through config files, environment variables, or command-line flags.`,
	RunE: runServe,
}

var (
	serveHost    string
	servePort    int
	serveMode    string
	serveData    string
	servePhrases string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "0.0.0.0", "Server host")
	serveCmd.Flags().IntVar(&servePort, "port", 9003, "Server port")
	serveCmd.Flags().StringVar(&serveMode, "mode", "release", "Server mode (debug, release, test)")
	serveCmd.Flags().StringVar(&serveData, "data", "", "SQuAD file whose words seed the vocabulary of remote embedders")
	serveCmd.Flags().StringVar(&servePhrases, "phrases", "", "Context embedding directory to serve phrase search from")

	addModelFlags(serveCmd)
	serveCmd.Flags().String("telemetry-parquet-path", "", "Path to directory for error telemetry")
}

// addModelFlags registers the flags shared by every command that runs the
// encoder.
func addModelFlags(cmd *cobra.Command) {
	cmd.Flags().String("checkpoint-dir", "", "Checkpoint directory")
	cmd.Flags().String("checkpoint-name", "", "Checkpoint to restore")
	cmd.Flags().String("embedding-provider", "", "Embedding provider (glove, openai, embedeverything)")
	cmd.Flags().String("embedding-model", "", "Embedding model")
	cmd.Flags().String("embedding-api-key", "", "Embedding API key")
	cmd.Flags().String("embedding-base-url", "", "Embedding base URL")
	cmd.Flags().String("glove-path", "", "GloVe vectors file")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	overrideConfigWithFlags(cmd, cfg)
	if err := validateServerConfig(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, flush := newLogger(cfg, "serve")
	defer flush()

	var ds *squad.Dataset
	if serveData != "" {
		if ds, err = squad.Load(serveData, log); err != nil {
			return err
		}
	}
	emb, vocab, closeEmb, err := newEmbedder(cfg, ds, log)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	defer closeEmb()

	m, err := loadModel(cmd.Context(), cfg, emb, log)
	if err != nil {
		return err
	}

	var phrases *server.PhraseStore
	if servePhrases != "" {
		if phrases, err = server.LoadPhraseStore(servePhrases, m.Config().Metric, log); err != nil {
			return fmt.Errorf("failed to load phrase index: %w", err)
		}
	}

	srv := server.New(cfg, server.NewEncoder(m, vocab), phrases, log)
	srv.Setup()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			serverErrChan <- err
		}
	}()
	log.Info("Server listening", "addr", srv.Addr())

	select {
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		log.Info("Received signal", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		log.Info("Server stopped gracefully")
		return nil
	}
}

func overrideConfigWithFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	setString := func(name string, dst *string) {
		if flags.Lookup(name) != nil && flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}

	// Server flags
	if flags.Lookup("host") != nil && flags.Changed("host") {
		cfg.Server.Host = serveHost
	}
	if flags.Lookup("port") != nil && flags.Changed("port") {
		cfg.Server.Port = servePort
	}
	if flags.Lookup("mode") != nil && flags.Changed("mode") {
		cfg.Server.Mode = serveMode
	}

	setString("checkpoint-dir", &cfg.Checkpoint.Dir)
	setString("checkpoint-name", &cfg.Checkpoint.Name)

	// Embedding flags
	setString("embedding-provider", &cfg.Embedding.Provider)
	setString("embedding-model", &cfg.Embedding.Model)
	setString("embedding-api-key", &cfg.Embedding.APIKey)
	setString("embedding-base-url", &cfg.Embedding.BaseURL)
	setString("glove-path", &cfg.Embedding.GlovePath)

	// Telemetry flags
	setString("telemetry-parquet-path", &cfg.Telemetry.ParquetPath)
}

func validateServerConfig(cfg *config.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Server.Port)
	}
	return nil
}
