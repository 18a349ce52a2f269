package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/lexiqai/meeting-agent/internal/audio"
	"github.com/lexiqai/meeting-agent/internal/config"
	"github.com/lexiqai/meeting-agent/internal/ingress"
	"github.com/lexiqai/meeting-agent/internal/intent"
	"github.com/lexiqai/meeting-agent/internal/observability"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var classifierListen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the meeting stream server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger, classifierListen)
		},
	}
	cmd.Flags().StringVar(&classifierListen, "classifier-listen", "", "also serve the intent classifier over gRPC on this address, e.g. :50051")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger zerolog.Logger, classifierListen string) error {
	logger.Info().
		Str("port", cfg.Port).
		Str("llm_provider", cfg.LLMProvider).
		Str("classifier", cfg.ClassifierBackend).
		Strs("wake_phrases", cfg.WakePhrases).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Meeting agent starting")

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn().Err(err).Msg("Error closing clients")
		}
	}()

	streams := ingress.NewHandler(ingress.Config{
		Format:       audio.Format{SampleRate: cfg.AudioSampleRate, Channels: cfg.AudioChannels},
		ChunkSize:    cfg.AudioChunkSize,
		CloseTimeout: cfg.TaskTimeout() + time.Minute,
	}, a.synth, a, logger)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newMux(cfg, streams, a.checks),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		endpoint := fmt.Sprintf("ws://localhost:%s%s", cfg.Port, ingress.Path)
		if cfg.PublicURL != "" {
			endpoint = cfg.PublicURL + ingress.Path
		}
		logger.Info().Str("endpoint", endpoint).Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if classifierListen != "" {
		lis, err := net.Listen("tcp", classifierListen)
		if err != nil {
			return fmt.Errorf("listen for classifier: %w", err)
		}
		gs := grpc.NewServer()
		intent.RegisterClassifierServer(gs, a.classifier, logger)
		defer gs.GracefulStop()
		go func() {
			logger.Info().Str("addr", classifierListen).Msg("Classifier gRPC service listening")
			if err := gs.Serve(lis); err != nil {
				errCh <- fmt.Errorf("classifier server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down server...")
	case err := <-errCh:
		return err
	}

	// Meetings still running are stopped and reported before the listener goes away
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.TaskTimeout()+time.Minute)
	defer cancel()
	if err := streams.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Meeting streams did not finish")
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info().Msg("Server exited gracefully")
	return nil
}

func newMux(cfg *config.Config, streams http.Handler, checks map[string]observability.HealthCheckFunc) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(ingress.Path, streams)
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
	return mux
}
