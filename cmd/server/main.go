package main

import (
	"context"
	"errors"
	"flag"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"duskfall/server/internal/combat"
	"duskfall/server/internal/config"
	"duskfall/server/internal/mapcontent"
	"duskfall/server/internal/session"
	"duskfall/server/internal/store"
	"duskfall/server/internal/world"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	addr := flag.String("addr", "", "listen address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	hub := session.NewHub(session.HubConfig{
		TokenSecret:      cfg.Server.TokenSecret,
		HeartbeatTimeout: cfg.Server.HeartbeatTimeout,
		WorldSeed:        cfg.Server.WorldSeed,
		WorldConfig: world.Config{
			RoamTick:            cfg.World.RoamTick,
			RoamCooldownMin:     cfg.World.RoamCooldownMin,
			RoamCooldownMax:     cfg.World.RoamCooldownMax,
			StepDuration:        cfg.World.StepDuration,
			MonsterRespawnDelay: cfg.World.MonsterRespawnDelay,
		},
		CombatConfig: combat.Config{
			GraceDelay:   cfg.Combat.GraceDelay,
			TurnTimeout:  cfg.Combat.TurnTimeout,
			MobTurnDelay: cfg.Combat.MobTurnDelay,
		},
	}, logger, mapcontent.BuiltinContent, mapcontent.BuiltinLevelRoller(rand.Intn), store.NewMemoryStore(), nil)

	mux := http.NewServeMux()
	session.NewHandler(hub, logger).Register(mux)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		hub.Run(ctx.Done())
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		err := server.Shutdown(shutdownCtx)
		hub.World().Stop()
		return err
	})

	if err := group.Wait(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = level
	}
	return zc.Build()
}
