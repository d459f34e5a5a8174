// Command storybook-web serves the personalization API, including the
// streaming endpoint, as a long-running HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/storybook-faceswap/internal/bootstrap"
	"github.com/fpang/storybook-faceswap/internal/config"
	"github.com/fpang/storybook-faceswap/internal/logging"
	"github.com/fpang/storybook-faceswap/internal/server"
)

// CLI flags
var (
	portFlag        int
	staticDirFlag   string
	concurrencyFlag int
	logLevelFlag    string
)

var rootCmd = &cobra.Command{
	Use:   "storybook-web",
	Short: "HTTP server for storybook face personalization",
	Long: `Storybook Web serves the personalization API. A full book is generated
by POST /api/personalize and streamed back as Server-Sent Events; single
pages can be regenerated with POST /api/personalize/page.

Configuration is read from the environment and an optional .env file.
Flags override the environment.

Examples:
  storybook-web
  storybook-web --port 9090 --static ./public
  storybook-web --concurrency 5 --log-level debug`,
	Run: runMain,
}

func init() {
	rootCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (default from PORT or 8080)")
	rootCmd.Flags().StringVar(&staticDirFlag, "static", "", "Directory served under /illustrations/")
	rootCmd.Flags().IntVar(&concurrencyFlag, "concurrency", 0, "Default pages per batch")
	rootCmd.Flags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) {
	logging.Init()
	if logLevelFlag != "" {
		logging.InitWith(logLevelFlag, os.Getenv(logging.EnvFormat), os.Stderr)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if portFlag > 0 {
		cfg.Port = portFlag
	}
	if staticDirFlag != "" {
		cfg.StaticDir = staticDirFlag
	}
	if concurrencyFlag > 0 {
		cfg.Concurrency = concurrencyFlag
	}

	app, err := bootstrap.Build(context.Background(), "storybook-web", cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}

	handler := server.New(app.Service, server.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		StaticDir:      cfg.StaticDir,
	}).Handler()

	// No WriteTimeout: a streamed run lasts as long as its slowest batch.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	log.Info().Int("port", cfg.Port).Msg("Starting web server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
