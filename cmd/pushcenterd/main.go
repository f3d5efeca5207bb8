package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"
	"github.com/rs/zerolog"

	"github.com/fernwood/pushcenter/internal/bus"
	"github.com/fernwood/pushcenter/internal/config"
	"github.com/fernwood/pushcenter/internal/coordinator"
	"github.com/fernwood/pushcenter/internal/handlers"
	"github.com/fernwood/pushcenter/internal/middleware"
	"github.com/fernwood/pushcenter/internal/migration"
	"github.com/fernwood/pushcenter/internal/platform"
	"github.com/fernwood/pushcenter/internal/prefs"
	"github.com/fernwood/pushcenter/internal/repository"
	"github.com/fernwood/pushcenter/internal/routes"
	"github.com/fernwood/pushcenter/internal/subscription"
	"github.com/fernwood/pushcenter/internal/syncer"
	"github.com/fernwood/pushcenter/internal/template"
	"github.com/fernwood/pushcenter/internal/worker"
	"github.com/fernwood/pushcenter/internal/ws"
)

type application struct {
	config *config.Config
	logger zerolog.Logger
	coord  *coordinator.Coordinator
	worker *worker.Worker
	hub    *ws.Hub
}

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	// Load configuration.
	cfg := config.Load()

	// Initialize the backing store: sqlite when a path is configured,
	// in-memory otherwise.
	var repo repository.Repository
	if cfg.Store.Path != "" {
		db, err := migration.Open(cfg.Store.Path, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to open the notification database")
		}
		defer db.Close()
		repo = repository.NewSQLite(db)
	} else {
		logger.Warn().Msg("No store path configured; notification state will not survive restarts")
		repo = repository.NewMemory()
	}

	notifStore := repository.NewNotificationStore(repo, cfg.Store.MaxNotifications, logger)
	subStore := repository.NewSubscriptionStore(repo)
	prefStore := repository.NewPreferenceStore(repo)

	engine := prefs.NewEngine(prefStore, logger)
	renderer := template.NewRenderer(template.Defaults()...)

	// The platform boundary: an in-process simulation until a real binding
	// is linked in.
	plat := platform.NewMemory()

	syncClient := syncer.New(syncer.Config{
		BaseURL: cfg.Sync.BaseURL,
		Secret:  cfg.Sync.Secret,
		OwnerID: cfg.OwnerID,
		Timeout: cfg.Sync.Timeout,
	}, logger)

	messageBus := bus.New(logger)

	controller := subscription.NewController(plat, subStore, syncClient, cfg.OwnerID, cfg.Platform, logger)

	deliveryWorker := worker.New(worker.Config{
		AppName:       cfg.AppName,
		DefaultIcon:   cfg.DefaultIcon,
		OwnerID:       cfg.OwnerID,
		QueueSize:     cfg.Worker.QueueSize,
		EffectTimeout: cfg.Worker.EffectTimeout,
	}, notifStore, engine, renderer, plat, plat, plat, messageBus, syncClient, syncClient, logger)

	coord := coordinator.New(controller, notifStore, prefStore, engine, plat, deliveryWorker, syncClient, messageBus, cfg.OwnerID, logger)

	app := &application{
		config: cfg,
		logger: logger,
		coord:  coord,
		worker: deliveryWorker,
		hub:    ws.NewHub(messageBus, logger),
	}

	// Start the background contexts.
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	go func() {
		if err := deliveryWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("delivery worker exited")
		}
	}()
	go app.hub.Run(workerCtx)

	if err := coord.Start(workerCtx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start coordinator")
	}
	defer coord.Stop()

	// Initialize the HTTP router and middleware.
	router := app.initRouter(logger)
	loggedRouter := middleware.LoggingMiddleware(logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins([]string{"http://localhost:3000"}),
		h.AllowedMethods([]string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		h.AllowCredentials(),
	)(loggedRouter)

	// Start the HTTP server and handle graceful shutdown.
	app.startServer(corsHandler, stopWorker, logger)

	logger.Info().Msg("Application terminated.")
}

// initRouter sets up all HTTP handlers and returns the router.
func (app *application) initRouter(logger zerolog.Logger) http.Handler {
	pushHandler := handlers.NewPushHandler(app.worker, logger)
	notifHandler := handlers.NewNotificationHandler(app.coord, logger)
	subHandler := handlers.NewSubscriptionHandler(app.coord, app.config.ServerKey, logger)
	prefHandler := handlers.NewPreferenceHandler(app.coord, logger)

	return routes.NewRouter(pushHandler, notifHandler, subHandler, prefHandler, app.hub)
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler, stopWorker func(), logger zerolog.Logger) {
	server := &http.Server{
		Addr:    ":" + app.config.ServerPort,
		Handler: handler,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	// Gracefully shut down the HTTP server.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}

	// Stop the background delivery worker and websocket hub.
	logger.Info().Msg("Stopping delivery worker...")
	stopWorker()
	logger.Info().Msg("Delivery worker stopped.")
}
