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

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard-api/account"
	"taskboard-api/api"
	"taskboard-api/board"
	"taskboard-api/config"
	"taskboard-api/domain"
	"taskboard-api/events"
	"taskboard-api/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := newLogger(cfg)

	var rc *redis.Client
	if cfg.RedisConn != "" {
		opts, err := config.RedisOptions(cfg.RedisConn)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		rc = redis.NewClient(opts)
		defer rc.Close()
	}

	store, closeStore := openStore(cfg)
	defer closeStore()
	if rc != nil && cfg.UserCacheTTL > 0 {
		store = storage.NewCache(store, rc, cfg.UserCacheTTL)
	}

	var locker domain.Locker = storage.NewLocalLocker()
	var deduper api.Deduper
	if rc != nil {
		locker = storage.NewRedisLocker(rc, cfg.ScopeLockTTL, 0)
		deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
	}

	publisher := openPublisher(cfg, rc, logger)
	if d, ok := publisher.(*events.Dispatcher); ok {
		defer d.Close()
	}

	var stream api.Subscriber
	if cfg.EventsSink == config.SinkRedis {
		stream = events.NewRedisPublisher(rc, cfg.EventsChannel)
	}

	accounts := account.New(store, cfg.JWTSecret, cfg.AccessTTL, cfg.RefreshTTL)
	auth := newAuth(cfg, accounts)
	if auth.JWKS != nil {
		defer auth.JWKS.EndBackground()
	}

	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = api.JSONSerializer{}
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.Secure())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowCredentials: true,
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentEncoding, "Idempotency-Key"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
	}))
	e.Use(middleware.BodyLimit(cfg.RequestBodyLimit))
	e.Use(api.GzipRequestMiddleware())

	api.Register(e, api.Deps{
		Board: board.New(store, locker, logger,
			board.WithPublisher(publisher),
			board.WithPageSize(cfg.TasksPageSize),
		),
		Accounts: accounts,
		Auth:     auth,
		Deduper:  deduper,
		Stream:   stream,
		Health:   store,
		Log:      logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Infof("listening on :%s, storage: %s, events: %s", cfg.Port, cfg.StorageDriver, cfg.EventsSink)
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown")
	}
	logger.Info("server stopped")
}

func newLogger(cfg config.Config) *log.Logger {
	logger := log.New()
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
		logger.SetLevel(log.DebugLevel)
	}
	if cfg.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
		logger.SetFormatter(&log.JSONFormatter{})
	}
	return logger
}

func openStore(cfg config.Config) (domain.Store, func()) {
	switch cfg.StorageDriver {
	case config.DriverTables:
		store, err := storage.NewTables(cfg.StorageConn, storage.TableNames{
			Lists:  cfg.ListsTable,
			Tasks:  cfg.TasksTable,
			Users:  cfg.UsersTable,
			Tokens: cfg.TokensTable,
		})
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		return store, func() {}
	case config.DriverPostgres:
		store, err := storage.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		return store, func() {
			if err := store.Close(); err != nil {
				log.WithError(err).Warn("close database")
			}
		}
	}
	log.Warn("using in-memory storage; data is lost on restart")
	return storage.NewMemory(), func() {}
}

func openPublisher(cfg config.Config, rc *redis.Client, logger *log.Logger) events.Publisher {
	var sink events.Publisher
	switch cfg.EventsSink {
	case config.SinkQueue:
		q, err := events.NewQueuePublisher(cfg.StorageConn, cfg.EventsQueue)
		if err != nil {
			log.Fatalf("events queue: %v", err)
		}
		sink = q
	case config.SinkRedis:
		sink = events.NewRedisPublisher(rc, cfg.EventsChannel)
	default:
		return events.Nop{}
	}
	return events.NewDispatcher(sink, events.Options{
		Workers: cfg.EventsWorkers,
		Buffer:  cfg.EventsBuffer,
		Timeout: cfg.EventsTimeout,
		Handoff: cfg.EventsHandoff,
	}, logger)
}

func newAuth(cfg config.Config, accounts *account.Service) *api.Auth {
	if cfg.Auth0Domain == "" {
		return api.NewAuth(accounts, nil, "", "")
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth0Domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshInterval: time.Hour,
		RefreshErrorHandler: func(err error) {
			log.WithError(err).Warn("jwks refresh failed")
		},
	})
	if err != nil {
		log.Fatalf("jwks: %v", err)
	}
	return api.NewAuth(accounts, jwks, cfg.Auth0Audience, "https://"+cfg.Auth0Domain+"/")
}
