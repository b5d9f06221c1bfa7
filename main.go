package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"reportserver/src/api"
	apihandlers "reportserver/src/api/handlers"
	"reportserver/src/clients/mail"
	"reportserver/src/config"
	"reportserver/src/database"
	"reportserver/src/repositories"
	"reportserver/src/scheduler"
	"reportserver/src/services"
	"reportserver/src/utils"
	aws_handler "reportserver/src/utils/aws"
	redis_handler "reportserver/src/utils/redis"
	"reportserver/src/worker"
	workerhandlers "reportserver/src/worker/handlers"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.LoadConfig("./settings", os.Getenv("ENV"))
	if err != nil {
		logrus.WithError(err).Fatal("Error while loading config")
	}

	logger := utils.NewLogger(utils.ParseLevel(cfg.Logging.Level), cfg.Logging.ToFile, cfg.Logging.FilePath)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = utils.WithLogger(ctx, logger)

	if err := run(ctx, cfg); err != nil {
		logger.WithError(err).Fatal("Couldn't run")
	}
}

// run serves until ctx is cancelled or the HTTP server fails.
func run(ctx context.Context, cfg *config.Config) error {
	logger := utils.LoggerFromContext(ctx)

	pool, err := database.SetupDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	var (
		httpServer *http.Server
		poller     *scheduler.Poller
	)
	switch cfg.Service.Type {
	case config.API:
		service := services.NewReportJobService(repositories.NewReportJobRepository(pool))
		server := api.NewServer(apihandlers.NewHandler(service, logger))
		httpServer = api.NewHTTPServer(server, cfg.Service.Port)
	default:
		poller, err = newPoller(ctx, cfg, pool)
		if err != nil {
			return err
		}
		if cfg.Scheduler.Enabled {
			if err := poller.Start(ctx); err != nil {
				return err
			}
		} else {
			logger.Warn("Report scheduler disabled by configuration")
		}
		server := worker.NewServer(workerhandlers.NewHandler(poller))
		httpServer = worker.NewHTTPServer(server, cfg.Service.Port)
	}

	errC := make(chan error, 1)
	go func() {
		logger.WithField("port", cfg.Service.Port).
			WithField("type", string(cfg.Service.Type)).
			Info("Starting server")
		// "ListenAndServe always returns a non-nil error. After Shutdown or Close, the returned error is
		// ErrServerClosed."
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errC <- err
		}
		close(errC)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errC:
		if poller != nil {
			poller.Stop()
		}
		return err
	}

	if poller != nil {
		poller.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}

func newPoller(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (*scheduler.Poller, error) {
	logger := utils.LoggerFromContext(ctx)

	gormDB, err := database.OpenGorm(cfg)
	if err != nil {
		return nil, err
	}

	password := cfg.Mail.Password
	if cfg.Mail.PasswordSecretID != "" {
		awsHandler, err := aws_handler.NewAWSHandler(cfg.AWS.Region)
		if err != nil {
			return nil, err
		}
		password, err = awsHandler.SecretManager.GetSecretField(ctx, cfg.Mail.PasswordSecretID, "password")
		if err != nil {
			return nil, err
		}
	}

	opts := []scheduler.PollerOption{
		scheduler.WithInterval(cfg.Scheduler.TickInterval),
		scheduler.WithTenantDirectory(repositories.NewTenantRepository(pool)),
	}
	if cfg.Databases.Redis.Enabled() {
		handler, err := redis_handler.NewRedisHandler(ctx, cfg.Databases.Redis)
		if err != nil {
			return nil, err
		}
		opts = append(opts, scheduler.WithDeliveryLedger(redis_handler.NewDeliveryLedger(handler, cfg.Scheduler.DeliveryLedgerTTL)))
	} else {
		logger.Warn("Redis not configured, deliveries interrupted before settling may be repeated")
	}

	return scheduler.NewPoller(
		repositories.NewReportJobRepository(pool),
		services.NewReportExtractor(gormDB, cfg.Scheduler.MaxRows),
		services.NewReportExporter(),
		mail.NewNotifier(cfg.Mail, password),
		opts...,
	), nil
}
