package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	loanapp "github.com/equiptrack/station/internal/application/loan"
	"github.com/equiptrack/station/internal/application/scan"
	syncapp "github.com/equiptrack/station/internal/application/sync"
	"github.com/equiptrack/station/internal/domain/equipment"
	"github.com/equiptrack/station/internal/infrastructure/config"
	"github.com/equiptrack/station/internal/infrastructure/logger"
	"github.com/equiptrack/station/internal/infrastructure/persistence"
	"github.com/equiptrack/station/internal/infrastructure/remote"
	"github.com/equiptrack/station/internal/interfaces/http/handler"
	"github.com/equiptrack/station/internal/interfaces/http/middleware"
	"github.com/equiptrack/station/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting station",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	// The service key is a static JWT. A broken or expired key means every
	// remote call would fail with an auth error, so refuse to start.
	claims, err := remote.ParseServiceKey(cfg.Remote.ServiceKey, time.Now())
	if err != nil {
		log.Fatal("Invalid remote service key", zap.Error(err))
	}
	if claims.ExpiresSoon(time.Now(), 30*24*time.Hour) {
		log.Warn("Remote service key expires soon",
			zap.Time("expires_at", claims.ExpiresAt.Time))
	}

	// Local cache with a GORM logger backed by zap
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.OpenWithLogger(&cfg.Cache, gormLog)
	if err != nil {
		log.Fatal("Failed to open local cache", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing local cache", zap.Error(err))
		}
	}()
	log.Info("Local cache ready", zap.String("path", cfg.Cache.Path))

	// Repositories
	itemRepo := persistence.NewItemRepository(db.DB)
	shipmentRepo := persistence.NewShipmentRepository(db.DB)
	queueRepo := persistence.NewQueueRepository(db.DB)

	// Remote data service client and connectivity monitor. The monitor
	// starts offline and flips online after the first successful probe.
	client := remote.NewClient(&cfg.Remote, remote.WithLogger(log))
	monitor := syncapp.NewMonitor(client, &cfg.Sync, syncapp.WithMonitorLogger(log))

	// Application services
	loanService := loanapp.NewService(client, itemRepo, monitor.IsOnline,
		loanapp.WithServiceLogger(log))
	adapter := syncapp.NewAdapter(itemRepo, shipmentRepo, queueRepo, client, monitor.IsOnline,
		syncapp.WithAdapterLogger(log),
		syncapp.WithUpdateHook(func(table string) {
			// A cache write makes the derived loan views stale.
			if cat, err := equipment.ParseCategory(table); err == nil {
				loanService.Cache().InvalidateAvailable(cat)
			}
		}))
	workflow := loanapp.NewWorkflow(loanService, &cfg.Workflow,
		loanapp.WithWorkflowLogger(log))
	decoder := scan.NewDecoder(&cfg.Scan, scan.WithDecoderLogger(log))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// When connectivity returns, drain the mutation queue first so later
	// refreshes see the confirmed rows.
	monitor.OnOnline(func(ctx context.Context) {
		replayed, err := adapter.RunSyncQueue(ctx)
		if err != nil {
			log.Warn("Queue replay stopped",
				zap.Int("replayed", replayed), zap.Error(err))
		} else if replayed > 0 {
			log.Info("Queue replayed", zap.Int("replayed", replayed))
		}
		if cfg.Sync.RefreshOnline {
			adapter.RefreshAll(ctx)
			loanService.Cache().InvalidateAll()
		}
	})
	go monitor.Start(ctx)

	// Optional Redis change feed. Notices only say which table changed;
	// the data itself is always re-read from the remote service.
	if cfg.Redis.Enabled {
		tables := make([]string, 0, len(equipment.Categories())+2)
		for _, cat := range equipment.Categories() {
			tables = append(tables, cat.TableName())
		}
		tables = append(tables, "shipments", "loans")

		feed, err := remote.NewChangeFeed(&cfg.Redis, tables, remote.WithFeedLogger(log))
		if err != nil {
			log.Warn("Change feed unavailable, relying on periodic refresh", zap.Error(err))
		} else {
			defer func() {
				if err := feed.Close(); err != nil {
					log.Error("Error closing change feed", zap.Error(err))
				}
			}()
			// Subscribe blocks in its receive loop until the context is
			// cancelled, so it gets its own goroutine.
			go func() {
				err := feed.Subscribe(ctx, func(n remote.ChangeNotice) {
					if !monitor.IsOnline() {
						return
					}
					switch {
					case n.Table == "shipments":
						if err := adapter.RefreshShipments(ctx); err != nil {
							log.Debug("Shipment refresh failed", zap.Error(err))
						}
					case n.Table == "loans":
						loanService.Cache().InvalidateActive()
					default:
						cat, err := equipment.ParseCategory(n.Table)
						if err != nil {
							return
						}
						if err := adapter.RefreshCategory(ctx, cat); err != nil {
							log.Debug("Category refresh failed",
								zap.String("category", string(cat)), zap.Error(err))
						}
						loanService.Cache().InvalidateAvailable(cat)
					}
				})
				if err != nil && !errors.Is(err, context.Canceled) {
					log.Warn("Change feed subscription ended", zap.Error(err))
				}
			}()
		}
	}

	// HTTP server
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()
	engine := gin.New()
	engine.Use(middleware.RequestID())
	engine.Use(middleware.RequestLogger(log))
	engine.Use(middleware.Recovery(log))
	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	engine.Use(middleware.CORSWithConfig(corsCfg))

	router.NewRouter(engine).
		Register(handler.NewSystemHandler(version)).
		Register(handler.NewEquipmentHandler(adapter, log)).
		Register(handler.NewLoanHandler(loanService, workflow, log)).
		Register(handler.NewWorkflowHandler(decoder, workflow, log)).
		Register(handler.NewSyncHandler(adapter, monitor, log)).
		Register(handler.NewImportHandler(adapter, log)).
		Setup()

	// WriteTimeout stays unset: the workflow event stream holds its
	// response open for the lifetime of the UI session.
	srv := &http.Server{
		Addr:        ":" + cfg.App.Port,
		Handler:     engine,
		ReadTimeout: cfg.HTTP.ReadTimeout,
		IdleTimeout: cfg.HTTP.IdleTimeout,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Forced shutdown", zap.Error(err))
	}
	log.Info("Stopped")
}
