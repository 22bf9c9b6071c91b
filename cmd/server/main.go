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

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"nikarya-store/internal/callback"
	"nikarya-store/internal/checkout"
	"nikarya-store/internal/config"
	"nikarya-store/internal/database"
	"nikarya-store/internal/handlers"
	"nikarya-store/internal/middleware"
	"nikarya-store/internal/notification"
	"nikarya-store/internal/notification/fcm"
	"nikarya-store/internal/notification/mailer"
	"nikarya-store/internal/notification/telegram"
	"nikarya-store/internal/notification/throttle"
	"nikarya-store/internal/notification/whatsapp"
	"nikarya-store/internal/orchestrator"
	"nikarya-store/internal/payment"
	"nikarya-store/internal/payment/duitku"
	"nikarya-store/internal/payment/manual"
	"nikarya-store/internal/payment/midtrans"
	"nikarya-store/internal/payment/tripay"
	"nikarya-store/internal/promo"
	"nikarya-store/internal/scheduler"
	"nikarya-store/internal/websocket"
)

func main() {
	printBanner()

	// .env is optional; real environment variables win
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to read .env: %v\n", err)
	}

	cfg := config.Load()
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.InitDB(cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()
	log.Info("✓ Database initialized successfully")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.WithError(err).Warn("Redis unreachable, receipt resend throttling will fail open")
	} else {
		log.Info("✓ Redis connected")
	}
	cancel()

	wsHub := websocket.NewHub(log)
	go wsHub.Run(ctx)
	log.Info("✓ WebSocket hub started")

	registry := newRegistry(cfg)
	orch := orchestrator.New(db, manual.NewResolver(db), registry, cfg.GatewayTimeout, log)
	promos := promo.NewEngine(db)

	var channels notification.Channels
	if cfg.NotifyEnabled {
		channels = notification.Channels{
			Email:    mailer.New(cfg, log),
			WhatsApp: whatsapp.New(cfg, log),
			Admin:    telegram.New(cfg.TelegramToken, cfg.TelegramChatID, log),
			Push:     fcm.New(ctx, cfg, log),
		}
	}
	notifier := notification.New(db, channels, throttle.New(rdb, "receipt:", cfg.NotifyThrottle), cfg.PublicBaseURL, log)

	svc := checkout.NewService(db, promos, orch, notifier, log)
	processor := callback.NewProcessor(db, svc, log, notifier, wsHub)

	scheduler.New(db, processor, cfg.ExpirySweepInterval, cfg.ExpiryGrace, log).Start(ctx)

	h := handlers.NewHandler(cfg, db, svc, promos, processor, notifier, wsHub, log)
	router := mux.NewRouter()
	h.RegisterRoutes(router)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	handler := c.Handler(middleware.OptionalAuth(cfg.JWTSecret)(router))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("✓ HTTP server starting on port %d", cfg.ServerPort)
		log.Infof("🔧 API: %s/api", cfg.PublicBaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info("🛑 Shutting down server...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Graceful shutdown failed")
	}
	notifier.Wait()
}

func newLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

// newRegistry registers every supported provider. Credentials come from the
// active database row at charge time; only endpoints and URLs are fixed here.
func newRegistry(cfg *config.Config) *payment.Registry {
	client := &http.Client{Timeout: cfg.GatewayTimeout}
	expiry := time.Duration(cfg.PaymentExpiryMinutes) * time.Minute
	returnURL := cfg.PublicBaseURL + "/orders"

	reg := payment.NewRegistry()
	reg.Register(midtrans.Name, midtrans.New, payment.Options{
		BaseURL:    cfg.MidtransBaseURL,
		HTTPClient: client,
		ReturnURL:  returnURL,
		Expiry:     expiry,
	})
	reg.Register(duitku.Name, duitku.New, payment.Options{
		BaseURL:     cfg.DuitkuBaseURL,
		HTTPClient:  client,
		CallbackURL: cfg.PublicBaseURL + "/api/callbacks/duitku",
		ReturnURL:   returnURL,
		Expiry:      expiry,
	})
	reg.Register(tripay.Name, tripay.New, payment.Options{
		BaseURL:     cfg.TripayBaseURL,
		HTTPClient:  client,
		CallbackURL: cfg.PublicBaseURL + "/api/callbacks/tripay",
		ReturnURL:   returnURL,
		Expiry:      expiry,
	})
	return reg
}

func printBanner() {
	banner := `
  ███╗   ██╗██╗██╗  ██╗ █████╗ ██████╗ ██╗   ██╗ █████╗
  ████╗  ██║██║██║ ██╔╝██╔══██╗██╔══██╗╚██╗ ██╔╝██╔══██╗
  ██╔██╗ ██║██║█████╔╝ ███████║██████╔╝ ╚████╔╝ ███████║
  ██║╚██╗██║██║██╔═██╗ ██╔══██║██╔══██╗  ╚██╔╝  ██╔══██║
  ██║ ╚████║██║██║  ██╗██║  ██║██║  ██║   ██║   ██║  ██║
  ╚═╝  ╚═══╝╚═╝╚═╝  ╚═╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝   ╚═╝  ╚═╝

  Digital goods store: payments, callbacks and promos
  Version: 1.0.0
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
`
	fmt.Println(banner)
}
