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

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/stemsight/broker/internal/adapters/http"
	"github.com/stemsight/broker/internal/adapters/rtc"
	"github.com/stemsight/broker/internal/adapters/ws"
	"github.com/stemsight/broker/internal/app"
	"github.com/stemsight/broker/internal/app/orch"
	"github.com/stemsight/broker/internal/app/persist"
	"github.com/stemsight/broker/internal/app/sfu"
	"github.com/stemsight/broker/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("broker stopped")
	}
	log.Info().Msg("Server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	policy, err := app.ParsePolicy(cfg.Fanout.Overflow)
	if err != nil {
		return err
	}
	store, err := newStore(cfg)
	if err != nil {
		return err
	}
	catalog, closeCatalog, err := newCatalog(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCatalog()

	uploader := persist.NewUploader(store, catalog, persist.UploaderConfig{
		Attempts:   cfg.Persist.UploadAttempts,
		Backoff:    cfg.Persist.UploadBackoff,
		MaxBackoff: cfg.Persist.UploadMaxBackoff,
		KeepLocal:  cfg.Persist.KeepLocal,
	})

	broker := orch.New(
		app.NewRegistry(),
		app.NewConnManager(cfg.Fanout.QueueSize, policy),
		&persist.Factory{Dir: cfg.Persist.Dir, Uploader: uploader},
		sfu.NewRelayManager(),
	)
	broker.Strict = cfg.Rooms.StrictCreate

	engine, err := rtc.NewEngine(rtc.Config{
		ICEServers:  iceServers(cfg.WebRTC.ICEServers),
		TrackWait:   cfg.WebRTC.TrackWait,
		PLIInterval: cfg.WebRTC.PLIInterval,
		PortMin:     cfg.WebRTC.PortMin,
		PortMax:     cfg.WebRTC.PortMax,
		PublicIP:    cfg.WebRTC.PublicIP,
	}, broker)
	if err != nil {
		return err
	}

	raw := ws.NewController(broker, router.WriteError)
	if cfg.Signal.WriteWait > 0 {
		raw.WriteWait = cfg.Signal.WriteWait
	}
	if cfg.Signal.MaxChunk > 0 {
		raw.MaxChunk = cfg.Signal.MaxChunk
	}

	r := router.SetupRouter(cfg, &router.Server{
		Rooms:      broker,
		Signal:     engine,
		Raw:        raw,
		Recordings: catalog,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("persist_dir", cfg.Persist.Dir).Msg("broker server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("server error")
		}
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// closing sessions finalizes every open recording before uploads drain
	broker.Shutdown()
	uploadCtx, uploadCancel := context.WithTimeout(context.Background(), cfg.Persist.ShutdownTimeout)
	defer uploadCancel()
	if err := uploader.Close(uploadCtx); err != nil {
		log.Warn().Err(err).Msg("pending uploads left on disk")
	}
	return nil
}
