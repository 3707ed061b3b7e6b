package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/companionlabs/voice-client/internal/config"
	"github.com/companionlabs/voice-client/internal/observability"
	"github.com/companionlabs/voice-client/internal/session"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("api_base_url", cfg.APIBaseURL).
		Str("voice", cfg.Voice).
		Str("model", cfg.Model).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice companion client starting")

	// Local metrics/health listener
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/health", observability.HealthCheckHandler())

		backendCheck := func(ctx context.Context) (bool, error) {
			prov := session.NewProvisioner(cfg.APIBaseURL, logger)
			if _, err := prov.Cost(ctx); err != nil {
				return false, err
			}
			return true, nil
		}
		mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
			"backend": backendCheck,
		}))

		metricsServer = &http.Server{
			Addr:         ":" + cfg.MetricsPort,
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			logger.Info().Str("port", cfg.MetricsPort).Msg("Metrics listening at /metrics")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	// Show pricing before committing the wallet to a session
	prov := session.NewProvisioner(cfg.APIBaseURL, logger)
	costCtx, cancelCost := context.WithTimeout(context.Background(), 5*time.Second)
	if cost, err := prov.Cost(costCtx); err == nil && cost.CostPerMinute > 0 {
		fmt.Printf("Voice sessions cost %.4f tokens per minute\n", cost.CostPerMinute)
	}
	cancelCost()

	machine := session.NewMachine(cfg, session.Options{
		OnState: func(s session.State) {
			logger.Info().Str("state", string(s)).Msg("Session state changed")
		},
		OnTranscript: func(text string, user bool) {
			speaker := "companion"
			if user {
				speaker = "you"
			}
			fmt.Printf("[%s] %s\n", speaker, text)
		},
		OnError: func(message string) {
			fmt.Fprintf(os.Stderr, "error: %s\n", message)
		},
	})

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	err = machine.StartSession(startCtx)
	cancelStart()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to start voice session")
		os.Exit(1)
	}

	fmt.Println("Voice session active. Speak into the microphone; Ctrl+C to hang up.")

	// Periodic microphone level readout while the session is live
	meterDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if level := machine.AudioLevel(); level > 0 {
					logger.Debug().
						Float64("level", level).
						Str("state", string(machine.State())).
						Msg("Microphone level")
				}
			case <-meterDone:
				return
			}
		}
	}()

	// Wait for interrupt, then tear the session down gracefully
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	close(meterDone)

	logger.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	machine.CloseSession(shutdownCtx)

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Metrics server forced to shutdown")
		}
	}

	logger.Info().Msg("Goodbye")
}
