package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/coursiva/auth-service/internal/api"
	"github.com/coursiva/auth-service/internal/app"
	"github.com/coursiva/auth-service/internal/config"
	"github.com/coursiva/auth-service/internal/security"
	"github.com/coursiva/auth-service/internal/store"
	"github.com/coursiva/auth-service/pkg/rabbitmq"
)

func main() {
	// Load .env file for local development. In production, env vars are set directly.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}

	// If a platform-provided PORT is set, prefer it
	if port := os.Getenv("PORT"); port != "" {
		cfg.ServerPort = port
	}

	// Establish database connection pool
	dbConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to parse database URL: %v\n", err)
	}
	dbConfig.MaxConns = 10
	dbConfig.MinConns = 2
	dbConfig.MaxConnLifetime = 30 * time.Minute
	dbConfig.MaxConnIdleTime = 5 * time.Minute
	dbConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), dbConfig)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v\n", err)
	}
	defer dbpool.Close()
	log.Println("Database connection established")

	ensureSchema(dbpool)

	// Set up RabbitMQ producer; allow nil on failure so a broker outage
	// degrades notifications instead of preventing logins.
	var producer rabbitmq.Publisher
	if p, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL); err != nil {
		log.Printf("WARNING: Failed to connect to RabbitMQ at startup: %v. Continuing without MQ.", err)
	} else {
		producer = p
		defer p.Close()
		log.Println("RabbitMQ producer connected")
	}

	// Failed-attempt counters live in Redis when configured so horizontally
	// scaled instances share one view; otherwise in process memory.
	var attempts security.AttemptStore
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Unable to parse Redis URL: %v\n", err)
		}
		attempts = security.NewRedisAttemptStore(redis.NewClient(opts))
		log.Println("Using Redis attempt store")
	} else {
		attempts = security.NewInMemoryAttemptStore()
		log.Println("Using in-memory attempt store (single instance only)")
	}

	// Repositories and services
	userRepo := store.NewPostgresUserRepository(dbpool)
	policyRepo := store.NewPostgresPolicyRepository(dbpool)
	dispatcher := app.NewSecurityEventDispatcher(producer)

	lockout := security.NewLockoutService(attempts, userRepo, policyRepo, dispatcher)
	sessions := security.NewSessionService([]byte(cfg.SessionSigningKey), []byte(cfg.TwoFactorSigningKey), policyRepo)
	twoFactor := security.NewTwoFactorService(userRepo, dispatcher, cfg.TwoFactorIssuer)
	passwords := security.NewPasswordEnforcer(policyRepo)
	auth := security.NewAuthenticator(userRepo, lockout, twoFactor, sessions, passwords, dispatcher)

	authHandler := api.NewAuthHandler(auth, sessions, twoFactor)

	// Set up router
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Auth service is healthy"))
	})

	r.Post("/register", authHandler.HandleRegister)
	r.Post("/login", authHandler.HandleLogin)
	r.Post("/2fa/verify", authHandler.HandleTwoFactorVerify)
	r.Post("/session/refresh", authHandler.HandleSessionRefresh)

	// Routes below require a valid session
	r.Group(func(r chi.Router) {
		r.Use(api.AuthMiddleware(sessions, userRepo))
		r.Get("/me", authHandler.HandleMe)
		r.Post("/2fa/setup", authHandler.HandleTwoFactorSetup)
		r.Post("/2fa/enable", authHandler.HandleTwoFactorEnable)
		r.Post("/2fa/disable", authHandler.HandleTwoFactorDisable)
		r.Post("/password/change", authHandler.HandleChangePassword)
	})

	// Start the server
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	go func() {
		log.Printf("Server starting on port %s", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not start server: %s\n", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}

	log.Println("Server gracefully stopped")
}

// ensureSchema creates the tables this service owns if they do not exist yet.
func ensureSchema(dbpool *pgxpool.Pool) {
	if _, err := dbpool.Exec(context.Background(), `
        CREATE TABLE IF NOT EXISTS users (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            email TEXT NOT NULL UNIQUE,
            password_hash TEXT NOT NULL,
            role TEXT NOT NULL DEFAULT 'student',
            is_active BOOLEAN NOT NULL DEFAULT TRUE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            last_login TIMESTAMPTZ,
            is_locked BOOLEAN NOT NULL DEFAULT FALSE,
            locked_until TIMESTAMPTZ,
            lock_reason TEXT NOT NULL DEFAULT '',
            failed_login_attempts INT NOT NULL DEFAULT 0,
            two_factor_enabled BOOLEAN NOT NULL DEFAULT FALSE,
            two_factor_secret TEXT,
            backup_codes TEXT[],
            last_password_change TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
        CREATE TABLE IF NOT EXISTS security_settings (
            id INT PRIMARY KEY DEFAULT 1,
            password_min_length INT NOT NULL DEFAULT 8,
            require_uppercase BOOLEAN NOT NULL DEFAULT FALSE,
            require_numbers BOOLEAN NOT NULL DEFAULT FALSE,
            require_symbols BOOLEAN NOT NULL DEFAULT FALSE,
            login_attempts INT NOT NULL DEFAULT 5,
            account_lock_duration_minutes INT NOT NULL DEFAULT 30,
            session_timeout_minutes INT NOT NULL DEFAULT 60
        );
    `); err != nil {
		log.Printf("Warning: failed ensuring tables (may already exist): %v", err)
	}
}
