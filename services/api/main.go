package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teamchat/internal/audit"
	"github.com/teamchat/internal/config"
	"github.com/teamchat/internal/handler"
	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/middleware"
	"github.com/teamchat/internal/realtime"
	"github.com/teamchat/internal/repository"
	"github.com/teamchat/internal/service"
	"github.com/teamchat/internal/startup"
	"github.com/teamchat/internal/storage"
	"github.com/teamchat/internal/storage/memory"
	"github.com/teamchat/internal/webpush"
	"github.com/teamchat/migrations"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	flag.Parse()

	logger.Info("starting API service")
	cfg := config.Load()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 4

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
	defer pool.Close()

	runMigrations(pool)
	if *migrate && !*dev {
		return
	}

	// Присутствие хранится в БД; после рестарта никто не подключён.
	resetCtx, resetCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if _, err := pool.Exec(resetCtx, "UPDATE users SET status = 'offline' WHERE status != 'offline'"); err != nil {
		logger.Errorf("reset presence: %v", err)
	}
	resetCancel()
	logger.Info("database connected, migrations applied")

	// Эфемерное хранилище: Redis в проде (общие счётчики на все реплики),
	// память в -dev и при пустом REDIS_URL.
	var ephemeral storage.EphemeralStore
	if cfg.Redis.URL != "" && !*dev {
		redisClient := startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second, "")
		defer redisClient.Close()
		ephemeral = redisClient
		logger.Info("redis connected")
	} else {
		ephemeral = memory.New()
		logger.Info("using in-memory ephemeral store")
	}

	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		logger.Errorf("JWT_SECRET is not set, using insecure dev secret")
		jwtSecret = "dev-secret"
	}

	userRepo := repository.NewUserRepository(pool)
	convRepo := repository.NewConversationRepository(pool)
	msgRepo := repository.NewMessageRepository(pool)
	receiptRepo := repository.NewReceiptRepository(pool)
	reactRepo := repository.NewReactionRepository(pool)
	typingRepo := repository.NewTypingRepository(pool)
	pushRepo := repository.NewPushRepository(pool)

	auditClient := audit.NewClient(cfg.AuditServiceURL)

	var pushSender *webpush.Sender
	keys := &webpush.VAPIDKeys{PublicKey: cfg.PushVAPIDPublicKey, PrivateKey: cfg.PushVAPIDPrivateKey}
	if keys.PublicKey == "" || keys.PrivateKey == "" {
		keys, err = webpush.EnsureVAPIDKeys("")
		if err != nil {
			logger.Errorf("vapid keys: %v (web push disabled)", err)
			keys = nil
		}
	}
	if keys != nil {
		pushSender = webpush.NewSender(pushRepo, keys, cfg.PushSubscriber)
	}

	hub := realtime.NewHub(convRepo, cfg.MaxWSConnections)

	presenceSvc := service.NewPresenceService(userRepo, ephemeral, hub)
	convSvc := service.NewConversationService(convRepo, userRepo, msgRepo, receiptRepo, hub, auditClient)
	var notifier service.PushNotifier
	if pushSender != nil {
		notifier = pushSender
	}
	msgSvc := service.NewMessageService(msgRepo, convRepo, receiptRepo, reactRepo, userRepo, hub, notifier, auditClient, presenceSvc)
	reactSvc := service.NewReactionService(reactRepo, msgRepo, convRepo, userRepo, hub)
	typingSvc := service.NewTypingService(typingRepo, convRepo, userRepo, hub)
	userSvc := service.NewUserService(userRepo)

	hub.Bind(typingSvc, presenceSvc)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	convH := handler.NewConversationHandler(convSvc)
	msgH := handler.NewMessageHandler(msgSvc)
	reactH := handler.NewReactionHandler(reactSvc)
	typingH := handler.NewTypingHandler(typingSvc)
	presenceH := handler.NewPresenceHandler(presenceSvc)
	userH := handler.NewUserHandler(userSvc)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket — иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.SecureHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(jwtSecret))
		r.Use(middleware.RateLimitAPI(ephemeral))

		r.Get("/api/users/me", userH.Me)
		r.Get("/api/users/search", userH.Search)

		r.Post("/api/conversations", convH.Create)
		r.Get("/api/conversations", convH.List)
		r.Get("/api/conversations/{id}", convH.Get)
		r.Get("/api/conversations/{id}/messages", msgH.List)
		r.Post("/api/conversations/{id}/messages", msgH.Send)
		r.Post("/api/conversations/{id}/typing", typingH.Set)

		r.Put("/api/messages/{id}", msgH.Edit)
		r.Delete("/api/messages/{id}", msgH.Delete)
		r.Post("/api/messages/{id}/reactions", reactH.Toggle)

		r.Put("/api/presence", presenceH.Update)

		if pushSender != nil {
			pushH := handler.NewPushHandler(pushSender)
			r.Get("/api/push/public-key", pushH.PublicKey)
			r.Post("/api/push/subscribe", pushH.Subscribe)
			r.Delete("/api/push/subscribe", pushH.Unsubscribe)
		}

		r.Get("/ws", wsH.ServeWS)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
	logger.Sync()
}

func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := migrations.Files.ReadDir(".")
	if err != nil {
		logger.Errorf("read migrations: %v", err)
		os.Exit(1)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			logger.Errorf("read migration %s: %v", name, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", name, err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "teamchat"
		password = "teamchat_secret"
		database = "teamchat"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
