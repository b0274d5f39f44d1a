package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/chatlink/internal/adapters/auth"
	router "github.com/dkeye/chatlink/internal/adapters/http"
	"github.com/dkeye/chatlink/internal/adapters/notify"
	"github.com/dkeye/chatlink/internal/adapters/rtc"
	wssignal "github.com/dkeye/chatlink/internal/adapters/signal"
	"github.com/dkeye/chatlink/internal/app"
	"github.com/dkeye/chatlink/internal/app/mesh"
	"github.com/dkeye/chatlink/internal/app/session"
	"github.com/dkeye/chatlink/internal/app/sink"
	"github.com/dkeye/chatlink/internal/config"
	"github.com/dkeye/chatlink/internal/domain"
	"github.com/dkeye/chatlink/internal/store"
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
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	identity, err := auth.FromToken(cfg.Token, cfg.Username, time.Now())
	if err != nil {
		log.Fatal().Err(err).Msg("unusable token")
	}
	mode, err := session.ParseVoiceMode(cfg.VoiceMode)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid voice mode")
	}

	console := notify.NewConsole(os.Stdout)
	// The session has its own context so Close still reaches open sockets.
	sess := session.New(context.Background(), session.Config{
		BaseURL:        cfg.BaseURL,
		Identity:       identity,
		VoiceMode:      mode,
		VoiceChannelID: domain.ChannelID(cfg.VoiceChannelID),
		Socket: wssignal.Settings{
			ReconnectBase: cfg.Reconnect.Base,
			ReconnectCap:  cfg.Reconnect.Cap,
			MaxAttempts:   cfg.Reconnect.MaxAttempts,
			SendBuffer:    cfg.SendBuffer,
			ReadLimit:     cfg.ReadLimit,
			WriteWait:     cfg.WriteWait,
			Heartbeat:     cfg.HeartbeatPeriod,
			FailoverClear: cfg.FailoverClear,
		},
		Server: wssignal.ServerOptions{
			TypingTTL:      cfg.TypingTTL,
			TypingInterval: cfg.TypingInterval,
		},
		Mesh: mesh.Config{
			Peers:             rtc.PeerFactory{Config: rtc.ConfigWithICEServers(cfg.ICEServers)},
			Media:             rtc.SilenceSource{},
			Sinks:             app.NewRegistry(sink.Factory(sink.Discard{})),
			Heartbeat:         cfg.HeartbeatPeriod,
			SpeakingInterval:  cfg.Speaking.Interval,
			SpeakingThreshold: cfg.Speaking.Threshold,
		},
		Banner: console.Banner,
	}, store.NewMemory(), console)

	if err := sess.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start session")
	}

	srv := &http.Server{
		Addr:    cfg.ControlAddr,
		Handler: router.SetupRouter(cfg, sess),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.ControlAddr).Int64("user", int64(identity.UserID)).Msg("chatlink client started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		err := srv.Shutdown(shutdownCtx)
		sess.Close()
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("client stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("Client exited gracefully")
}
