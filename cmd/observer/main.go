package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/invigil/capture/internal/adapters/http"
	"github.com/invigil/capture/internal/adapters/pubsub"
	"github.com/invigil/capture/internal/config"
	"github.com/invigil/capture/internal/core"
	"github.com/invigil/capture/internal/domain"
	"github.com/invigil/capture/internal/observer"
	"github.com/invigil/capture/internal/platform/metrics"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

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

	hub := observer.NewHub()
	monitor := observer.NewMonitor(cfg.Health.FairAfter, cfg.Health.PoorAfter, cfg.Health.PollEvery, mx)
	monitor.SetOnInactive(func(id domain.SessionID) {
		hub.BroadcastHealth(id, observer.HealthPoor)
	})

	go monitor.Run(ctx)

	// Live frames fan in over Redis and out to viewer websockets. Each frame
	// also feeds the health classifier.
	go func() {
		err := rds.Subscribe(ctx, core.LiveChannelPattern, func(channel string, payload []byte) {
			sid, ok := core.SessionFromChannel(channel)
			if !ok {
				return
			}
			var frame core.LiveFrame
			if err := json.Unmarshal(payload, &frame); err != nil {
				log.Warn().Err(err).Str("module", "observer").Str("channel", channel).Msg("bad live frame payload")
				return
			}
			monitor.ObserveFrame(sid, frame.Seq, time.Now())
			hub.BroadcastFrame(sid, payload)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("live frame subscription ended")
		}
	}()

	r := router.SetupObserverRouter(ctx, cfg, monitor, hub, mx)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("observer started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
