package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	config "github.com/reactfasttraining/course_booking/configs"
	"github.com/reactfasttraining/course_booking/database"
	"github.com/reactfasttraining/course_booking/handlers"
	"github.com/reactfasttraining/course_booking/jobs"
	"github.com/reactfasttraining/course_booking/logger"
	"github.com/reactfasttraining/course_booking/metrics"
	"github.com/reactfasttraining/course_booking/middleware"
	"github.com/reactfasttraining/course_booking/notifications"
	"github.com/reactfasttraining/course_booking/payments"
	"github.com/reactfasttraining/course_booking/routes"
	"github.com/reactfasttraining/course_booking/services"
	"github.com/reactfasttraining/course_booking/websocket"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg := config.MustLoad()
	log := logger.New(cfg.App.Env, cfg.App.LogLevel)
	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database, log)
	if err != nil {
		log.WithError(err).Fatal("🔥 Failed to connect to database")
	}
	if err := database.Migrate(db); err != nil {
		log.WithError(err).Fatal("🔥 Failed to migrate database")
	}
	log.Info("✅ Database connection successfully opened")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if cfg.RateLimit.Enabled {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.WithError(err).Warn("redis unreachable, rate limiting will fail open")
		}
		cancel()
	}

	breaker := payments.NewCircuitBreaker(cfg.Breaker.FailureThreshold, cfg.Breaker.Cooldown,
		payments.WithStateChange(func(from, to payments.BreakerState) {
			metrics.BreakerState.Set(float64(to))
			log.WithFields(logrus.Fields{"from": from, "to": to}).Warn("payment gateway breaker changed state")
		}))
	stripeGateway := payments.NewStripeGateway(cfg.Stripe)
	gateway := payments.NewGuardedGateway(stripeGateway, breaker, cfg.Stripe.CallTimeout)

	var (
		renderer services.PDFRenderer
		store    services.DocumentStore
	)
	if cfg.Invoice.RenderPDF {
		renderer = services.NewChromePDFRenderer()
	}
	if cfg.Cloudinary.URL != "" {
		cld, err := services.NewCloudinaryStore(cfg.Cloudinary.URL, cfg.Cloudinary.Folder)
		if err != nil {
			log.WithError(err).Warn("cloudinary unavailable, invoices will not be archived")
		} else {
			store = cld
		}
	}
	invoices := services.NewInvoiceService(db, cfg.Invoice, renderer, store, log)

	var sender notifications.EmailSender
	if brevo, err := notifications.NewBrevoSender(cfg.Email, log); err != nil {
		log.WithError(err).Warn("email disabled")
	} else {
		sender = brevo
	}
	notifier := notifications.NewEmailNotifier(sender, invoices, cfg.Email, log)
	local := notifications.NewAsyncDispatcher(notifier, cfg.Email.Workers, cfg.Email.QueueSize, log)

	var (
		dispatcher notifications.Dispatcher = local
		queue      *notifications.QueueDispatcher
	)
	if cfg.RabbitMQ.Enabled {
		queue = notifications.NewQueueDispatcher(cfg.RabbitMQ, local, log)
		dispatcher = queue
		consumer := notifications.NewConsumer(cfg.RabbitMQ, notifier, log)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("🔥 Notification consumer stopped")
			}
		}()
	}

	hub := websocket.NewHub(log)
	go hub.Run(ctx)

	ledger := services.NewCapacityLedger(db, log)
	bookings := services.NewBookingService(db, ledger, gateway, dispatcher, hub, log)
	reconciler := services.NewPaymentReconciler(db, ledger, invoices, gateway, dispatcher, hub, log)

	recovery := jobs.NewPaymentRecoveryJob(db, gateway, breaker, reconciler, cfg.Recovery, log)
	reminders := jobs.NewReminderJob(db, dispatcher, cfg.Reminder, cfg.Recovery.StuckAfter, log)

	scheduler := jobs.NewScheduler(log)
	if err := scheduler.Add("payment_recovery", cfg.Recovery.Schedule, recovery); err != nil {
		log.WithError(err).Fatal("🔥 Invalid recovery schedule")
	}
	if err := scheduler.Add("reminders", cfg.Reminder.Schedule, reminders); err != nil {
		log.WithError(err).Fatal("🔥 Invalid reminder schedule")
	}
	scheduler.Start()

	app := fiber.New(fiber.Config{
		AppName:       cfg.App.Name,
		CaseSensitive: true,
		StrictRouting: true,
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  15 * time.Second,
		IdleTimeout:   60 * time.Second,
		ErrorHandler:  handlers.ErrorHandler(log),
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.App.AllowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowMethods: "GET, POST, OPTIONS",
		MaxAge:       86400,
	}))
	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   "Europe/London",
		Format:     "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	routes.Register(app, routes.Handlers{
		Bookings:  handlers.NewBookingHandler(bookings),
		Payments:  handlers.NewPaymentHandler(reconciler, stripeGateway, log),
		Sessions:  handlers.NewSessionHandler(ledger, hub, log),
		Admin:     handlers.NewAdminHandler(recovery, breaker, log),
		Health:    healthHandler(db, breaker),
		RateLimit: middleware.RateLimit(cfg.RateLimit, rdb, log),
		JWTSecret: cfg.JWTSecret,
	})

	go func() {
		log.Infof("✅ Server is running on port %s", cfg.App.Port)
		if err := app.Listen(":" + cfg.App.Port); err != nil {
			log.WithError(err).Error("🔥 Server failed to start")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.GracefulShutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server did not shut down cleanly")
	}
	scheduler.Stop(shutdownCtx)
	if queue != nil {
		if err := queue.Close(shutdownCtx); err != nil {
			log.WithError(err).Warn("notification queue did not close cleanly")
		}
	}
	if err := local.Close(shutdownCtx); err != nil {
		log.WithError(err).Warn("pending notifications were dropped")
	}
	if err := rdb.Close(); err != nil {
		log.WithError(err).Warn("redis client did not close cleanly")
	}
	if err := database.Close(db); err != nil {
		log.WithError(err).Warn("database did not close cleanly")
	}
	log.Info("✅ Shutdown complete")
}
