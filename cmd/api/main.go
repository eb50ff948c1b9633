package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/servicedesk/crm-service/internal/ai"
	httptransport "github.com/servicedesk/crm-service/internal/api/http"
	"github.com/servicedesk/crm-service/internal/api/http/handlers"
	"github.com/servicedesk/crm-service/internal/auth"
	"github.com/servicedesk/crm-service/internal/config"
	"github.com/servicedesk/crm-service/internal/events"
	"github.com/servicedesk/crm-service/internal/observability"
	"github.com/servicedesk/crm-service/internal/persistence"
	"github.com/servicedesk/crm-service/internal/realtime"
	"github.com/servicedesk/crm-service/internal/repository"
	"github.com/servicedesk/crm-service/internal/service"
	"github.com/servicedesk/crm-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	pool := pg.PoolHandle()
	ticketRepo := repository.NewTicketRepository(pool)
	commentRepo := repository.NewCommentRepository(pool)
	activityRepo := repository.NewActivityRepository(pool)
	userRepo := repository.NewUserRepository(pool)
	txRunner := repository.NewTxRunner(pool)
	statsCache := repository.NewStatsCache(redis.Client, cfg.Redis.StatsCacheTTL())

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	gate := auth.NewGate(tokenManager)

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	hub := realtime.NewHub(gate, logger, metrics, cfg.Realtime)
	classifier := ai.NewOpenAIClassifier(cfg.AI)

	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:   ticketRepo,
		CommentRepo:  commentRepo,
		ActivityRepo: activityRepo,
		UserRepo:     userRepo,
		TxRunner:     txRunner,
		Classifier:   classifier,
		Dispatcher:   dispatcher,
		StatsCache:   statsCache,
		Logger:       logger,
	})
	authService := service.NewAuthService(service.AuthDependencies{
		UserRepo:     userRepo,
		TokenManager: tokenManager,
		BcryptCost:   cfg.Auth.BcryptCost,
		Logger:       logger,
	})
	notificationService := service.NewNotificationService(service.NotificationDependencies{
		Registry:   hub,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	worker.StartNotificationWorker(notificationService)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:  handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Users:   handlers.NewUsersHandler(authService),
		Tickets: handlers.NewTicketsHandler(ticketService),
		Gate:    gate,
		Hub:     hub,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
	hub.Close()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
