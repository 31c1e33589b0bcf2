package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
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

	"github.com/educhat/internal/config"
	"github.com/educhat/internal/feed"
	"github.com/educhat/internal/fileserver"
	"github.com/educhat/internal/handler"
	"github.com/educhat/internal/logger"
	"github.com/educhat/internal/middleware"
	"github.com/educhat/internal/presence"
	"github.com/educhat/internal/push"
	"github.com/educhat/internal/repository"
	"github.com/educhat/internal/service"
	"github.com/educhat/internal/startup"
	"github.com/educhat/internal/storage"
	"github.com/educhat/internal/storage/memory"
	"github.com/educhat/internal/ws"
	"github.com/educhat/migrations"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB or Redis required)")
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
	if *migrate {
		return
	}

	resetCtx, resetCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if _, err := pool.Exec(resetCtx, "UPDATE users SET is_online = false"); err != nil {
		logger.Errorf("reset online status: %v", err)
	}
	resetCancel()
	logger.Info("database connected, migrations applied")

	// Typing presence: Redis when configured, in-process otherwise.
	var presenceStore storage.PresenceStore
	if cfg.Redis.URL != "" && !*dev {
		client := startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second, "")
		presenceStore = client
		logger.Info("redis connected")
	} else {
		presenceStore = memory.New()
		logger.Info("presence store: in-process")
	}
	defer presenceStore.Close()

	userRepo := repository.NewUserRepository(pool)
	connRepo := repository.NewConnectionRepository(pool)
	channelRepo := repository.NewChannelRepository(pool)
	msgRepo := repository.NewMessageRepository(pool)
	reactRepo := repository.NewReactionRepository(pool)
	pushRepo := repository.NewPushRepository(pool)

	vapidKeys, err := push.EnsureVAPIDKeys("")
	if err != nil {
		logger.Errorf("VAPID keys: %v (push disabled)", err)
	}
	notifier := push.NewNotifier(pushRepo, vapidKeys)
	var svcNotifier service.Notifier
	if notifier.Enabled() {
		svcNotifier = notifier
	}

	broker := feed.NewBroker()
	tracker := presence.NewTracker(presenceStore)

	userSvc := service.NewUserService(userRepo)
	connSvc := service.NewConnectionService(userRepo, connRepo, broker, svcNotifier)
	channelSvc := service.NewChannelService(userRepo, connRepo, channelRepo)
	msgSvc := service.NewMessageService(channelRepo, msgRepo, reactRepo, broker, tracker, svcNotifier)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := ws.NewHub(userSvc, connSvc, channelSvc, msgSvc, tracker, broker, cfg.MaxWSConnections)

	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	files := fileserver.New(cfg.UploadDir, cfg.MaxUploadSize)

	userH := handler.NewUserHandler(userSvc)
	connH := handler.NewConnectionHandler(connSvc)
	channelH := handler.NewChannelHandler(channelSvc)
	msgH := handler.NewMessageHandler(msgSvc)
	fileH := handler.NewFileHandler(files)
	pushH := handler.NewPushHandler(pushRepo, cfg.PushVAPIDPublicKey)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Never compress WebSocket responses: the wrapped ResponseWriter would
	// lose http.Hijacker and the upgrade 500s.
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
	r.Use(middleware.RateLimitAPI)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-Id", "X-Timestamp", "X-Signature"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Get("/api/push/vapid-public", pushH.VAPIDPublic)
	r.Get("/api/files/{filename}", fileH.Serve)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthServiceValidate(cfg.AuthServiceURL, nil, userSvc))
		r.Get("/api/users/me", userH.Me)
		r.Put("/api/users/me", userH.UpdateMe)
		r.Get("/api/users/search", userH.Search)
		r.Get("/api/users/{id}", userH.Get)

		r.Get("/api/connections", connH.ListConnections)
		r.Get("/api/connections/requests", connH.ListPending)
		r.Post("/api/connections/requests", connH.SendRequest)
		r.Post("/api/connections/requests/{id}/accept", connH.Accept)
		r.Delete("/api/connections/requests/{id}", connH.Reject)

		r.Get("/api/channels", channelH.List)
		r.Post("/api/channels", channelH.Resolve)
		r.Get("/api/channels/{id}", channelH.Get)
		r.Get("/api/channels/{id}/messages", msgH.History)
		r.Post("/api/channels/{id}/messages", msgH.Send)
		r.Post("/api/channels/{id}/read", msgH.MarkRead)
		r.Post("/api/messages/{id}/reactions", msgH.ToggleReaction)
		r.Delete("/api/messages/{id}", msgH.Delete)

		r.Post("/api/files/upload", fileH.Upload)
		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)
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
}

// runMigrations applies the embedded SQL files in lexical order.
func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := fs.ReadDir(migrations.Files, ".")
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
		user     = "educhat"
		password = "educhat_secret"
		database = "educhat"
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
