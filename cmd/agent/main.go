package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/invigil/capture/internal/adapters/gst"
	router "github.com/invigil/capture/internal/adapters/http"
	"github.com/invigil/capture/internal/adapters/pubsub"
	"github.com/invigil/capture/internal/adapters/rtc"
	"github.com/invigil/capture/internal/adapters/storage"
	"github.com/invigil/capture/internal/app"
	"github.com/invigil/capture/internal/config"
	"github.com/invigil/capture/internal/core"
	"github.com/invigil/capture/internal/platform/metrics"
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

	mx := metrics.New()

	rds, err := pubsub.New(cfg.RedisAddr, "", 0)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connect failed")
	}
	defer rds.Close()

	var store core.ObjectStore
	if cfg.Upload.Bucket != "" {
		gcsStore, err := storage.NewGCSStore(ctx, cfg.Upload.Bucket)
		if err != nil {
			log.Fatal().Err(err).Str("bucket", cfg.Upload.Bucket).Msg("gcs connect failed")
		}
		defer gcsStore.Close()
		store = gcsStore
	} else {
		fileStore, err := storage.NewFileStore(cfg.Upload.LocalDir)
		if err != nil {
			log.Fatal().Err(err).Str("dir", cfg.Upload.LocalDir).Msg("local store setup failed")
		}
		store = fileStore
		log.Warn().Str("dir", cfg.Upload.LocalDir).Msg("no bucket configured, storing recordings locally")
	}

	deps := app.Deps{
		NewEncoder: gst.Factory(),
		Store:      store,
		Publisher:  rds,
		Sink:       pubsub.NewRecordingNotifier(rds),
		Metrics:    mx,
	}
	manager := app.NewManager(cfg, deps)

	newDecoder := func(codec core.VideoCodec, meta rtc.SourceMeta) (rtc.FrameDecoder, error) {
		return gst.NewVideoDecoder(codec, meta.Width, meta.Height)
	}
	api := router.NewAgentAPI(cfg, manager, newDecoder)

	r := router.SetupAgentRouter(ctx, cfg, api, mx)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("capture agent started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	// Finish every active recording before the process exits.
	manager.StopAll()
	api.CloseAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
