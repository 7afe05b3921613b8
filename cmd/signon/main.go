package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tadast/signonotron2/internal/config"
	httptransport "github.com/tadast/signonotron2/internal/http"
	"github.com/tadast/signonotron2/internal/http/handler"
	httpmiddleware "github.com/tadast/signonotron2/internal/http/middleware"
	apimiddleware "github.com/tadast/signonotron2/internal/middleware"
	"github.com/tadast/signonotron2/internal/repository"
	"github.com/tadast/signonotron2/internal/server"
	"github.com/tadast/signonotron2/internal/service"
	"github.com/tadast/signonotron2/internal/telemetry"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newPGXPool,
			newTxManager,
			newUserRepository,
			newEventLogRepository,
			newSessionRepository,
			newPassphraseResetRepository,
			newOrganisationRepository,
			newRateLimiter,
			newEventLogService,
			newAccountService,
			newAccountHandler,
			newAuthMiddleware,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newTxManager(pool *pgxpool.Pool) repository.TxRunner {
	return repository.NewTxManager(pool)
}

func newUserRepository(pool *pgxpool.Pool) repository.UserRepository {
	return repository.NewPostgresUserRepo(pool)
}

func newEventLogRepository(pool *pgxpool.Pool) repository.EventLogRepository {
	return repository.NewPostgresEventLogRepo(pool)
}

func newSessionRepository(pool *pgxpool.Pool) repository.SessionRepository {
	return repository.NewPostgresSessionRepo(pool)
}

func newPassphraseResetRepository(pool *pgxpool.Pool) repository.PassphraseResetRepository {
	return repository.NewPostgresPassphraseResetRepo(pool)
}

func newOrganisationRepository(pool *pgxpool.Pool) repository.OrganisationRepository {
	return repository.NewPostgresOrganisationRepo(pool)
}

func newRateLimiter(cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newEventLogService(entries repository.EventLogRepository, users repository.UserRepository, orgs repository.OrganisationRepository, logger *zap.Logger) *service.EventLogService {
	return service.NewEventLogService(entries, users, orgs, logger)
}

func newAccountService(users repository.UserRepository, sessions repository.SessionRepository, resets repository.PassphraseResetRepository, events *service.EventLogService, tx repository.TxRunner, cfg config.Config, logger *zap.Logger) *service.AccountService {
	return service.NewAccountService(users, sessions, resets, events, tx, cfg, logger)
}

func newAccountHandler(accounts *service.AccountService, eventLogs *service.EventLogService, logger *zap.Logger) *handler.AccountHandler {
	return handler.NewAccountHandler(accounts, eventLogs, logger)
}

func newAuthMiddleware(accounts *service.AccountService) *httpmiddleware.Auth {
	return &httpmiddleware.Auth{Accounts: accounts}
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
