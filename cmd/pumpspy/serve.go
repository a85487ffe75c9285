package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/langchou/pumpspy/internal/api/handlers"
	"github.com/langchou/pumpspy/internal/api/pumpspy"
	"github.com/langchou/pumpspy/internal/config"
	"github.com/langchou/pumpspy/internal/models"
	"github.com/langchou/pumpspy/internal/mqtt"
	"github.com/langchou/pumpspy/internal/repository"
	"github.com/langchou/pumpspy/internal/service"
	"github.com/langchou/pumpspy/pkg/ws"
)

const shutdownTimeout = 5 * time.Second

func serveCommand(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return run(ctx, cfg, logger)
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	var (
		store   service.SnapshotStore
		snaps   *repository.SnapshotRepository
		entries *repository.EntryRepository
	)
	if cfg.DatabaseURL != "" {
		db, err := repository.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			return err
		}
		logger.Info("Database migrated successfully")

		entries = repository.NewEntryRepository(db)
		snaps = repository.NewSnapshotRepository(db)
		store = snaps

		if err := applyStoredEntry(ctx, cfg, entries, logger); err != nil {
			return err
		}
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.DeviceID == "" {
		return &pumpspy.ConfigurationError{Field: "PUMPSPY_DEVICE_ID", Reason: "no device configured, run pumpspy setup"}
	}
	intervals, err := cfg.ParsedIntervals()
	if err != nil {
		return err
	}

	logger.Info("Starting Pumpspy",
		zap.String("device_id", cfg.DeviceID),
		zap.String("port", cfg.ServerPort),
	)

	client := pumpspy.NewClient(cfg.BaseURL, cfg.Username, cfg.Password,
		pumpspy.WithLogger(logger),
		pumpspy.WithRetryDelay(cfg.RetryDelay),
	)
	asm := service.NewAssembler(client, cfg.DeviceID, logger, service.WithCallTimeout(cfg.RequestTimeout))
	if err := asm.Setup(ctx); err != nil {
		return fmt.Errorf("setup: %w", err)
	}

	poller := service.NewPoller(asm, store, intervals, cfg.PollInterval, logger)
	if snaps != nil {
		seedLatest(ctx, poller, snaps, cfg.DeviceID, logger)
	}

	hub := ws.NewHub(logger)
	hub.SetInitDataProvider(func() *ws.InitData {
		data := &ws.InitData{Device: asm.GetDeviceInfo(), Status: poller.Status()}
		if snap, ok := poller.Latest(); ok {
			data.Snapshot = snap
		}
		return data
	})

	var bridge *mqtt.Bridge
	if cfg.MQTTHost != "" {
		mqttClient := mqtt.NewClient(mqtt.Config{
			Host:     cfg.MQTTHost,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			ClientID: "pumpspy-" + cfg.DeviceID,
		})
		if err := mqtt.Connect(mqttClient, 30*time.Second); err != nil {
			return err
		}
		defer mqttClient.Disconnect(250)

		bridge = mqtt.NewBridge(mqttClient, cfg.MQTTDiscoveryPrefix, logger)
		logger.Info("MQTT bridge enabled", zap.String("host", cfg.MQTTHost))
	}

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		hub.Run(ctx)
		return nil
	})

	updates := poller.Subscribe()
	eg.Go(func() error {
		for snap := range updates {
			hub.BroadcastSnapshot(snap)
		}
		return nil
	})

	if bridge != nil {
		published := poller.Subscribe()
		eg.Go(func() error {
			err := bridge.Run(ctx, asm, published)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	poller.Start(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		poller.Stop()
		return nil
	})

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	handlers.NewHandler(logger, asm, poller, hub).RegisterRoutes(router)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 15*time.Second,
	}

	eg.Go(func() error {
		logger.Info("Server started", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = eg.Wait()
	logger.Info("Server exited")
	return err
}

// applyStoredEntry fills the device and credentials from the entry saved by setup.
func applyStoredEntry(ctx context.Context, cfg *config.Config, entries *repository.EntryRepository, logger *zap.Logger) error {
	var (
		entry *models.ConfigEntry
		err   error
	)
	if cfg.DeviceID != "" {
		entry, err = entries.GetByDeviceID(ctx, cfg.DeviceID)
	} else {
		entry, err = entries.GetLatest(ctx)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	cfg.DeviceID = entry.DeviceID
	if cfg.Username == "" {
		cfg.Username = entry.Username
		cfg.Password = entry.Password
	}
	logger.Info("Loaded stored entry", zap.String("title", entry.Title), zap.String("device_id", entry.DeviceID))
	return nil
}

func seedLatest(ctx context.Context, poller *service.Poller, snaps *repository.SnapshotRepository, deviceID string, logger *zap.Logger) {
	snap, err := snaps.GetLatest(ctx, deviceID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logger.Warn("Failed to load stored snapshot", zap.Error(err))
		}
		return
	}
	poller.SetLatest(snap)
	logger.Info("Loaded stored snapshot", zap.Time("fetched_at", snap.FetchedAt))
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
