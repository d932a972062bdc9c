// Package main runs the RPS matchmaking server: the TCP game listener, the
// matchmaker and session reaper loops, and the admin HTTP surface.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/cory-johannsen/rps/internal/auth"
	"github.com/cory-johannsen/rps/internal/config"
	"github.com/cory-johannsen/rps/internal/frontend/admin"
	"github.com/cory-johannsen/rps/internal/frontend/handlers"
	"github.com/cory-johannsen/rps/internal/game/matchmaker"
	"github.com/cory-johannsen/rps/internal/game/session"
	"github.com/cory-johannsen/rps/internal/observability"
	"github.com/cory-johannsen/rps/internal/server"
	"github.com/cory-johannsen/rps/internal/storage/postgres"
	"github.com/cory-johannsen/rps/internal/transport"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	envFile := flag.String("env", ".env", "optional dotenv file loaded before configuration")
	flag.Parse()

	// a missing .env is normal outside development
	_ = godotenv.Load(*envFile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting rps server",
		zap.String("game_addr", cfg.Server.Addr()),
		zap.String("auth_backend", cfg.Auth.Backend),
		zap.Int("max_rounds", cfg.Game.MaxRounds),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	ctx := context.Background()
	lifecycle := server.NewLifecycle(logger)

	var (
		store    auth.CredentialStore
		accounts *postgres.AccountStore
	)
	switch cfg.Auth.Backend {
	case config.AuthBackendPostgres:
		dbStart := time.Now()
		accounts, err = postgres.NewAccountStore(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Int("port", cfg.Database.Port),
			zap.String("database", cfg.Database.Name),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
		store = accounts
	default:
		fileStore, err := auth.LoadFileStore(cfg.Auth.UsersFile, bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal("loading users file", zap.Error(err))
		}
		logger.Info("users loaded", zap.String("path", cfg.Auth.UsersFile), zap.Int("users", fileStore.Len()))
		store = fileStore
	}

	authenticator := auth.NewAuthenticator(store, logger)
	registry := session.NewRegistry(logger, metrics)
	mm := matchmaker.New(registry, session.Config{
		MaxRounds:   cfg.Game.MaxRounds,
		RoundPause:  cfg.Game.RoundPause,
		MoveTimeout: cfg.Game.MoveTimeout,
	}, cfg.Matchmaker.PollInterval, logger, metrics)
	lobby := handlers.NewLobbyHandler(authenticator, mm, cfg.Auth.MaxAttempts, logger, metrics)
	acceptor := transport.NewAcceptor(cfg.Server, lobby, logger)

	if accounts != nil {
		lifecycle.Add("postgres", server.NewLoopService(func(ctx context.Context) error {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			defer accounts.Close()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					if err := accounts.Health(ctx, 5*time.Second); err != nil {
						logger.Warn("database health check failed", zap.Error(err))
					}
				}
			}
		}))
	}

	lifecycle.Add("matchmaker", server.NewLoopService(mm.Run))
	lifecycle.Add("reaper", server.NewLoopService(func(ctx context.Context) error {
		return registry.Run(ctx, cfg.Matchmaker.ReaperInterval)
	}))
	lifecycle.Add("game", &server.FuncService{
		StartFn: acceptor.ListenAndServe,
		StopFn:  acceptor.Stop,
	})

	if cfg.Admin.Enabled {
		deps := admin.Deps{
			Lobby:    mm,
			Sessions: registry,
			Online:   authenticator,
			Gatherer: reg,
			Handler:  lobby,
		}
		if accounts != nil {
			deps.DB = accounts
		}
		adminSrv := admin.New(cfg.Admin, cfg.Server.WriteTimeout, deps, logger)
		lifecycle.Add("admin", &server.FuncService{
			StartFn: adminSrv.ListenAndServe,
			StopFn:  adminSrv.Stop,
		})
	}

	logger.Info("server initialized", zap.Duration("startup", time.Since(start)))

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
