package main

import (
	"context"
	"encoding/hex"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"innerpath/internal/aggregate"
	"innerpath/internal/config"
	"innerpath/internal/conversation"
	"innerpath/internal/db"
	"innerpath/internal/delivery"
	"innerpath/internal/email"
	"innerpath/internal/handlers"
	"innerpath/internal/insights"
	"innerpath/internal/jobs"
	"innerpath/internal/llm"
	mw "innerpath/internal/middleware"
	"innerpath/internal/services"
	"innerpath/internal/store"
)

// decodeKey accepts a 32-byte key either hex-encoded or raw.
func decodeKey(v string) ([]byte, bool) {
	if b, err := hex.DecodeString(v); err == nil && len(b) == 32 {
		return b, true
	}
	if len(v) == 32 {
		return []byte(v), true
	}
	return nil, false
}

func main() {
	cfg := config.LoadConfig()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	zlog, err := zap.NewProduction()
	if err != nil {
		slog.Error("failed to build logger", slog.Any("err", err))
		os.Exit(1)
	}
	defer zlog.Sync()

	if cfg.JWTSecret == "" {
		slog.Error("JWT_SECRET is required")
		os.Exit(1)
	}
	encKey, ok := decodeKey(cfg.EncryptionKey)
	if !ok {
		slog.Error("ENCRYPTION_KEY must be 32 bytes (raw or hex)")
		os.Exit(1)
	}
	idxKey, ok := decodeKey(cfg.BlindIndexKey)
	if !ok {
		slog.Error("BLIND_INDEX_KEY must be 32 bytes (raw or hex)")
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	dbConn, err := sqlx.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	dbConn.SetMaxOpenConns(10)
	dbConn.SetConnMaxLifetime(2 * time.Hour)
	if err = dbConn.Ping(); err != nil {
		slog.Error("failed to ping db", slog.Any("err", err))
		os.Exit(1)
	}
	if err := db.RunMigrations(dbConn); err != nil {
		slog.Error("failed migrations", slog.Any("err", err))
		os.Exit(1)
	}

	encSvc, err := services.NewEncryptionService(encKey, idxKey)
	if err != nil {
		slog.Error("failed to init encryption", slog.Any("err", err))
		os.Exit(1)
	}
	st := store.NewSQLStore(dbConn, encSvc)

	ctx := context.Background()
	gen, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GenModel)
	if err != nil {
		slog.Error("failed to init generator", slog.Any("err", err))
		os.Exit(1)
	}
	defer gen.Close()

	insightSvc := insights.NewService(st, gen, zlog.Named("insights"))
	controller := conversation.New(st, gen,
		conversation.Config{
			MinCloseMessages:   cfg.MinCloseMessages,
			ForceCloseMessages: cfg.ForceCloseMessages,
			MaxReplyTokens:     cfg.MaxReplyTokens,
		},
		zlog.Named("conversation"),
		conversation.WithPostCloser(insightSvc),
	)
	aggregator := aggregate.New(st, gen, zlog.Named("aggregate"))

	var tracker *delivery.Tracker
	if cfg.SendgridAPIKey != "" {
		sender, err := email.NewSendGridClient(email.Config{
			APIKey:    cfg.SendgridAPIKey,
			BaseURL:   cfg.SendgridBaseURL,
			FromEmail: cfg.SendgridFromEmail,
			FromName:  cfg.SendgridFromName,
		})
		if err != nil {
			slog.Error("failed to init email sender", slog.Any("err", err))
			os.Exit(1)
		}
		tracker = delivery.NewTracker(st, sender, zlog.Named("delivery"))
	} else {
		slog.Warn("SENDGRID_API_KEY not set; email delivery disabled")
	}

	scheduler := jobs.New(zlog.Named("jobs"), insightSvc, aggregator, tracker, cfg.SweepBatchSize)
	if err := scheduler.Start(); err != nil {
		slog.Error("failed to start scheduler", slog.Any("err", err))
		os.Exit(1)
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(mw.StructuredLogger(zlog.Named("http")))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	authHandler := handlers.NewAuthHandler(st, []byte(cfg.JWTSecret))
	userHandler := handlers.NewUserHandler(st)
	chatHandler := handlers.NewChatHandler(controller, zlog.Named("chat"))
	checkinHandler := handlers.NewCheckinHandler(st)
	authMW := mw.NewAuthMiddleware([]byte(cfg.JWTSecret))

	r.Route("/api", func(api chi.Router) {
		api.Post("/auth/signup", authHandler.Signup)
		api.Post("/auth/login", authHandler.Login)
		api.Group(func(pr chi.Router) {
			pr.Use(authMW.RequireAuth)
			pr.Get("/me", userHandler.GetMe)
			pr.Put("/me", userHandler.UpdateMe)
			pr.Post("/chat/message", chatHandler.SendMessage)
			pr.Get("/checkins", checkinHandler.List)
			pr.Get("/checkins/{id}/messages", checkinHandler.Messages)
			pr.Get("/reflections", checkinHandler.Reflections)
		})
	})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		slog.Info("server starting", slog.String("addr", ":"+cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", slog.Any("err", err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutdown initiated")
	scheduler.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = st.Close()
	slog.Info("server stopped")
}
