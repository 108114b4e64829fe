// Package main runs weathercore as an HTTP service with scheduled refreshes.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/breatheroute/weathercore"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	weathercore.Version = Version

	cfg, err := weathercore.LoadConfig(os.Getenv("WEATHERCORE_CONFIG_FILE"))
	if err != nil {
		// No logger yet; the config decides level and fields.
		os.Stderr.WriteString("weathercored: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := cfg.App.Logger(os.Stdout).With().Str("version", Version).Logger()
	log.Info().
		Str("build_time", BuildTime).
		Msg("starting weathercored")

	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	core, err := weathercore.New(ctx, weathercore.Options{Config: cfg, Logger: &log})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize weathercore")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if closeErr := core.Close(shutdownCtx); closeErr != nil {
			log.Error().Err(closeErr).Msg("failed to close weathercore")
		}
	}()

	if err := core.StartRefresh(ctx); err != nil {
		log.Error().Err(err).Msg("failed to start refresh")
		return
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      core.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.API.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
