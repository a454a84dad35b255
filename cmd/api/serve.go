package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	appService "calendar/internal/application/service"
	lineClient "calendar/internal/infrastructure/line"
	"calendar/internal/infrastructure/notify"
	"calendar/internal/infrastructure/scheduler"
	"calendar/internal/interfaces/api/handler"
	"calendar/internal/interfaces/api/router"
	"calendar/internal/pkg/config"
	appLogger "calendar/internal/pkg/logger"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the reminder poller",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// background is everything that has to be stopped on shutdown, in order.
// poller and scheduler stay nil until they exist.
type background struct {
	poller    *appService.ReminderPoller
	scheduler *scheduler.Scheduler
	cancel    context.CancelFunc // redis bridge
	store     *storage
	rc        *redis.Client
}

// stop halts everything that produces notifications.
func (bg *background) stop() {
	if bg.poller != nil {
		bg.poller.Stop()
	}
	if bg.scheduler != nil {
		bg.scheduler.Stop()
	}
	bg.cancel()
}

// release closes the redis client and the storage.
func (bg *background) release(log appLogger.Logger) {
	if bg.rc != nil {
		if err := bg.rc.Close(); err != nil {
			log.Error("Error closing redis client", err)
		}
	}
	log.Info("Closing database connection...")
	if err := bg.store.close(); err != nil {
		log.Error("Error closing database", err)
	} else {
		log.Info("Database connection closed.")
	}
}

func gracefulShutdown(apiServer *http.Server, bg *background, timeout time.Duration, log appLogger.Logger, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Info("Shutting down gracefully, press Ctrl+C again to force")

	// Stop producing notifications before closing their transports.
	log.Info("Stopping reminder poller...")
	bg.stop()

	// Shutdown HTTP server. Open SSE streams are ended by the stream
	// handler's OnShutdown hook.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", err)
	}

	bg.release(log)
	log.Info("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

// newNotificationChannel returns the hub itself, or a Redis bridge in front
// of it when redis.addr is configured.
func newNotificationChannel(ctx context.Context, cfg config.RedisConfig, hub *notify.Hub, log appLogger.Logger) (appService.NotificationChannel, *redis.Client, error) {
	if cfg.Addr == "" {
		log.Info("Redis not configured, notifications stay in-process.")
		return hub, nil, nil
	}
	rc := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx).Err(); err != nil {
		_ = rc.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}
	bridge := notify.NewRedisChannel(rc, cfg.Channel, hub, log)
	go bridge.Run(ctx)
	log.Info(fmt.Sprintf("Notifications bridged through redis channel %s.", cfg.Channel))
	return bridge, rc, nil
}

func newReminderPoller(cfg config.ReminderConfig, store *storage, channel appService.NotificationChannel, log appLogger.Logger) (*appService.ReminderPoller, error) {
	schedule, err := scheduler.ParseSchedule(cfg.PollSchedule)
	if err != nil {
		return nil, err
	}
	pollerCfg := appService.PollerConfig{Schedule: schedule, MaxCatchUp: cfg.MaxCatchUp}
	if cfg.Dedupe || cfg.Watermark {
		pollerCfg.Deliveries = store.deliveries
	}
	if cfg.Watermark {
		pollerCfg.Watermarks = store.watermarks
	}
	selector := appService.NewDueNoteSelector(store.notes, cfg.Window)
	return appService.NewReminderPoller(selector, channel, pollerCfg, log)
}

func runServe(cmd *cobra.Command, args []string) error {
	// --- Initialization ---
	cfg, appLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer appLogger.Sync(appLog)
	appLog.Info("Logger initialized.")

	// --- Infrastructure ---
	store, err := openStorage(cfg.Database, appLog)
	if err != nil {
		appLog.Error("Failed to open storage", err)
		return err
	}

	bridgeCtx, bridgeCancel := context.WithCancel(context.Background())
	hub := notify.NewHub(appLog)
	channel, rc, err := newNotificationChannel(bridgeCtx, cfg.Redis, hub, appLog)
	if err != nil {
		bridgeCancel()
		_ = store.close()
		appLog.Error("Failed to set up notification channel", err)
		return err
	}

	bg := &background{cancel: bridgeCancel, store: store, rc: rc}

	// --- Application Services ---
	noteSvc := appService.NewNoteService(store.notes, appLog)
	poller, err := newReminderPoller(cfg.Reminder, store, channel, appLog)
	if err != nil {
		bg.stop()
		bg.release(appLog)
		return err
	}
	bg.poller = poller
	appLog.Info("Application services initialized.")

	// --- Housekeeping ---
	cronScheduler := scheduler.NewScheduler(appLog)
	if cfg.Reminder.Dedupe || cfg.Reminder.Watermark {
		retention := cfg.Reminder.DeliveryRetention
		if _, err := cronScheduler.AddJob(cfg.Reminder.PruneSchedule, func() {
			if _, err := poller.PruneDeliveries(context.Background(), retention); err != nil {
				appLog.Error("Failed to prune reminder deliveries", err)
			}
		}); err != nil {
			appLog.Error("Failed to schedule delivery pruning", err)
		}
	}
	cronScheduler.Start()
	bg.scheduler = cronScheduler

	// --- API Handlers ---
	streamHandler := handler.NewStreamHandler(hub, appLog)
	routerCfg := &router.Config{
		NoteHandler:   handler.NewNoteHandler(noteSvc, appLog),
		StreamHandler: streamHandler,
		Logger:        appLog,
	}
	if cfg.Line.Enabled() {
		line, err := lineClient.NewClient(cfg.Line.ChannelSecret, cfg.Line.ChannelAccessToken, appLog)
		if err != nil {
			appLog.Error("Failed to create LINE client, webhook disabled", err)
		} else {
			routerCfg.LineHandler = handler.NewLineHandler(line, noteSvc, hub, appLog)
		}
	} else {
		appLog.Info("LINE credentials not set, webhook disabled.")
	}
	appLog.Info("API handlers initialized.")

	// --- Router ---
	echoRouter := router.NewRouter(routerCfg)

	// --- HTTP Server ---
	// WriteTimeout is left unset so SSE streams are not cut off.
	apiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           echoRouter,
		IdleTimeout:       time.Minute,
		ReadHeaderTimeout: 10 * time.Second,
	}
	apiServer.RegisterOnShutdown(streamHandler.Close)

	// --- Start Poller, Server & Shutdown Handling ---
	if err := poller.Start(context.Background()); err != nil {
		bg.stop()
		bg.release(appLog)
		return err
	}
	done := make(chan bool, 1)
	go gracefulShutdown(apiServer, bg, cfg.Server.ShutdownTimeout, appLog, done)

	appLog.Info(fmt.Sprintf("Server starting on port %d", cfg.Server.Port))
	err = apiServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		appLog.Error("HTTP server ListenAndServe error", err)
		bg.stop()
		bg.release(appLog)
		return fmt.Errorf("http server error: %w", err)
	}

	// Wait for graceful shutdown signal
	<-done
	appLog.Info("Graceful shutdown complete.")
	return nil
}
