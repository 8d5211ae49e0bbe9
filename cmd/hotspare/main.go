package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	appsvc "hotspare/internal/application/service"
	"hotspare/internal/domain/model"
	domsvc "hotspare/internal/domain/service"
	"hotspare/internal/infrastructure/config"
	"hotspare/internal/infrastructure/container"
	"hotspare/internal/infrastructure/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	inMemory := flag.Bool("memory", false, "use the in-process store instead of redis (dry runs only)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)

	deps, err := container.New(cfg, *inMemory)
	if err != nil {
		log.Fatal().Err(err).Msg("infrastructure init failed")
	}
	defer deps.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	locks := domsvc.NewLockManager(deps.KV, cfg.Bot.Name, cfg.Bot.InstanceID, cfg.LockTTL())
	heartbeat := domsvc.NewHeartbeat(deps.KV, cfg.Bot.Name, cfg.Bot.InstanceID, cfg.HeartbeatTTL())
	snapshots := appsvc.NewSnapshotService(deps.KV, cfg.Bot.Name, cfg.StateTTL(), cfg.PositionTTL())
	shutdown := appsvc.NewShutdownCoordinator(cfg.StepTimeout())

	var instr *appsvc.Instrumentation
	if deps.Metrics != nil {
		m := deps.Metrics
		instr = &appsvc.Instrumentation{
			RoleChanged: func(from, to model.Role, reason string) {
				m.SetRole(to)
				m.ObserveTransition(to)
			},
			RenewFailed:   m.ObserveRenewFailure,
			HeartbeatAge:  func(age time.Duration) { m.SetHeartbeatAge(age.Seconds()) },
			SnapshotError: m.ObserveSnapshotError,
		}
	}

	controller, err := appsvc.NewController(
		appsvc.ControllerConfig{
			BotName:            cfg.Bot.Name,
			InstanceID:         cfg.Bot.InstanceID,
			AcquireInterval:    cfg.AcquireInterval(),
			RenewInterval:      cfg.RenewInterval(),
			PollInterval:       cfg.PollInterval(),
			HeartbeatInterval:  cfg.HeartbeatInterval(),
			StalenessThreshold: cfg.StalenessThreshold(),
			StateStaleAfter:    cfg.StateStaleAfter(),
			OpTimeout:          cfg.OpTimeout(),
			ShutdownGrace:      cfg.ShutdownGrace(),
		},
		appsvc.ControllerDeps{
			Locks:     locks,
			Heartbeat: heartbeat,
			Snapshots: snapshots,
			Shutdown:  shutdown,
			Journal:   deps.Journal,
			Instr:     instr,
			// Strategy and the broker are wired by embedders; the bare
			// daemon only coordinates.
		},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("controller init failed")
	}

	if deps.Metrics != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", deps.Metrics.Handler())
		srv := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}
		go func() {
			log.Info().Str("addr", cfg.Metrics.ListenAddr).Msg("metrics listening")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics server exited")
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Surface the recent failover history on startup; after a crash this
	// is the first place to look for who was primary and why it changed.
	if recent, err := deps.Journal.Recent(ctx, cfg.Bot.Name, 5); err != nil {
		log.Warn().Err(err).Msg("journal read failed")
	} else if len(recent) > 0 {
		last := recent[0]
		log.Info().
			Int("recorded", len(recent)).
			Str("last_holder", last.Holder).
			Str("last_to", last.ToRole.String()).
			Str("last_reason", last.Reason).
			Msg("prior role transitions")
	}

	log.Info().
		Str("config", *configPath).
		Str("bot", cfg.Bot.Name).
		Str("instance", cfg.Bot.InstanceID).
		Str("redis", cfg.Redis.Addr).
		Str("journal", cfg.Journal.Backend).
		Msg("hotspare started")

	if err := controller.Run(ctx); err != nil {
		log.Error().Err(err).Msg("controller exited")
	}
}
