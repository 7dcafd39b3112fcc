package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"leaseexit/config"
	"leaseexit/database"
	"leaseexit/forms"
	"leaseexit/handlers"
	"leaseexit/logger"
	"leaseexit/middleware"
	"leaseexit/notifications"
	"leaseexit/repository"
	"leaseexit/routes"
	"leaseexit/websocket"
	"leaseexit/workflow"
)

const serviceName = "lease-exit"

func main() {
	// A missing .env is fine; the environment may already be set.
	envErr := godotenv.Load()

	if err := config.LoadConfig(); err != nil {
		os.Stderr.WriteString("Failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:       config.LogLevel,
		Environment: config.Environment,
		ServiceName: serviceName,
		Version:     config.ServiceVersion,
	})
	if envErr != nil {
		log.Debug().Msg("no .env file loaded")
	}
	log.Info().Str("environment", config.Environment).Msg("starting lease exit service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := database.Connect(ctx, log); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Disconnect(log)
	db := database.DB()

	caseRepo := repository.NewCaseRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	templateRepo := repository.NewTemplateRepository(db)
	userRepo := repository.NewUserRepository(db)

	policy, err := workflow.LoadPolicy(config.WorkflowPolicyFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load workflow policy")
	}

	// Later sources override earlier ones: embedded, then directory, then Mongo.
	sources := []forms.Source{forms.EmbeddedSource{}}
	if config.FormTemplatesDir != "" {
		sources = append(sources, forms.DirSource{Dir: config.FormTemplatesDir})
	}
	sources = append(sources, templateRepo)
	registry := forms.NewRegistry(log, sources...)
	if err := registry.Refresh(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to load form templates")
	}
	if config.FormTemplatesDir != "" {
		watcher := forms.NewWatcher(config.FormTemplatesDir, registry, log)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				log.Error().Err(err).Msg("form template watcher stopped")
			}
		}()
	}

	hub := websocket.NewHub(log)
	go hub.Run(ctx)

	channel, closeChannels := notificationChannel(log, hub)
	defer closeChannels()

	directory := notifications.ChainDirectory{
		userRepo,
		notifications.StaticDirectory(config.StakeholderEmails),
	}
	dispatcher := notifications.NewDispatcher(notificationRepo, channel, directory, notifications.Policy{
		MaxRetries:      config.NotifyMaxRetries,
		Backoff:         config.NotifyRetryBackoff,
		MaxBackoff:      config.NotifyMaxBackoff,
		DeliveryTimeout: config.NotifyDeliveryTimeout,
		Workers:         config.NotifyWorkers,
	}, log)
	retrier := notifications.NewRetrier(dispatcher, log)
	dispatcher.UseRetrier(retrier)
	retrier.Start(ctx)

	engine := workflow.NewEngine(policy, caseRepo, registry, dispatcher, auditRepo, log)
	engine.SetBroadcaster(hub)

	sweeper := notifications.NewSweeper(notificationRepo, retrier, engine, config.SweepInterval, config.ApprovalReminderAge, log)
	go sweeper.Run(ctx)

	h := handlers.New(handlers.Handler{
		Cases:         engine,
		Notifications: dispatcher,
		Audit:         auditRepo,
		Forms:         registry,
		Templates:     templateRepo,
		Users:         userRepo,
		Ping:          database.Ping,
		Version:       config.ServiceVersion,
		Logger:        log,
	})

	router := mux.NewRouter()
	routes.RegisterRoutes(router, h, hub.ServeWS)

	var handler http.Handler = router
	handler = middleware.LoggingMiddleware(log)(handler)
	handler = middleware.RecoveryMiddleware(log)(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.CorsMiddleware(config.CORSOrigins)(handler)

	srv := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", config.Port).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server forced shutdown")
	}

	// Stop background work, then let in-flight retries finish their attempt.
	cancel()
	retrier.Wait()
	log.Info().Msg("server stopped")
}

// notificationChannel picks email as the deciding channel when SMTP is
// configured, otherwise the in-app hub, and mirrors to the rest.
func notificationChannel(log zerolog.Logger, hub *websocket.Hub) (notifications.Channel, func()) {
	var primary notifications.Channel = hub
	var mirrors []notifications.Channel
	if config.SMTPHost != "" {
		primary = notifications.NewEmailChannel(notifications.SMTPConfig{
			Host:     config.SMTPHost,
			Port:     config.SMTPPort,
			Username: config.SMTPUsername,
			Password: config.SMTPPassword,
			From:     config.FromEmail,
		})
		mirrors = append(mirrors, hub)
	} else {
		log.Warn().Msg("SMTP_HOST not set, notifications are delivered in-app only")
	}

	closer := func() {}
	if config.NATSURL != "" {
		nc, err := nats.Connect(config.NATSURL, nats.Name(serviceName))
		if err != nil {
			log.Warn().Err(err).Str("url", config.NATSURL).Msg("NATS unavailable, events will not be published")
		} else {
			log.Info().Str("url", config.NATSURL).Msg("connected to NATS")
			mirrors = append(mirrors, notifications.NewNATSChannel(nc, config.NATSSubject))
			closer = func() {
				if err := nc.Drain(); err != nil {
					log.Warn().Err(err).Msg("NATS drain")
				}
			}
		}
	}
	return notifications.NewFanout(log, primary, mirrors...), closer
}
