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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"mpchat/internal/admin"
	"mpchat/internal/call"
	"mpchat/internal/chat"
	"mpchat/internal/config"
	"mpchat/internal/db"
	"mpchat/internal/httpx"
	"mpchat/internal/logging"
	"mpchat/internal/media"
	myMiddleware "mpchat/internal/middleware"
	"mpchat/internal/presence"
	"mpchat/internal/session"
	"mpchat/internal/user"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Config & logging
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}
	log := logging.New(os.Stdout, cfg.LogLevel)

	// 2. Database
	database, err := db.NewDatabase(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("connect to db: %w", err)
	}
	defer database.Close()
	log.Info(ctx, "connected to database", "driver", cfg.DBDriver)

	if err := database.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// 3. Sessions: Redis when configured, in-process otherwise
	var sessions session.Store
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		sessions = session.NewRedisStore(rdb)
		log.Info(ctx, "connected to redis", "addr", cfg.RedisAddr)
	} else {
		sessions = session.NewMemoryStore()
		log.Warn(ctx, "REDIS_ADDR empty, sessions are kept in memory")
	}

	// 4. Users
	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, sessions, log, user.Options{
		JWTSecret:       cfg.JWTSecret,
		SessionLifetime: cfg.SessionLifetime,
		AdminUsername:   cfg.AdminUsername,
	})
	userHandler := user.NewHandler(userService, log)

	if _, err := userService.EnsureAdmin(ctx); err != nil {
		return fmt.Errorf("ensure admin: %w", err)
	}
	if cfg.ResetPresenceOnStart {
		n, err := userService.ResetPresence(ctx)
		if err != nil {
			return fmt.Errorf("reset presence: %w", err)
		}
		log.Info(ctx, "presence reset", "users", n)
	}

	// 5. Realtime core
	registry := presence.NewRegistry()
	rooms := presence.NewRooms()

	hub := chat.NewHub(chat.HubDeps{
		Registry:     registry,
		Rooms:        rooms,
		Resolver:     chat.NewResolver(database.Conn, userRepo, log),
		Router:       chat.NewRouter(database.Conn, registry, rooms, log),
		Calls:        call.NewSignaling(call.NewRepository(database.Conn), userRepo, registry, log),
		Repo:         chat.NewRepository(database.Conn),
		Users:        userRepo,
		Log:          log,
		StoreTimeout: cfg.StoreTimeout,
	})
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(ctx)
	}()

	origins, invalid := chat.NewOriginPolicy(cfg.Origins())
	if len(invalid) > 0 {
		log.Warn(ctx, "ignoring invalid allowed origins", "origins", invalid)
	}
	chatHandler := chat.NewHandler(hub, origins, log)

	adminHandler := admin.NewHandler(admin.NewService(database.Conn, registry, rooms, sessions, log), log)
	authMiddleware := myMiddleware.NewAuthMiddleware(userService, sessions, log)

	// 6. Routes
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Conn.PingContext(r.Context()); err != nil {
			httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "db unavailable"})
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "online": registry.Len()})
	})

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", userHandler.Register)
		r.Post("/login", userHandler.Login)
		r.With(authMiddleware.Optional).Get("/check-auth", userHandler.CheckAuth)
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Handle)
			r.Post("/logout", userHandler.Logout)
			r.Get("/users", userHandler.ListUsers)
		})
	})

	r.With(authMiddleware.Handle).Get("/ws", chatHandler.ServeWs)
	r.Mount("/admin", adminHandler.Routes(authMiddleware.Optional))

	if cfg.MediaEnabled() {
		presigner, err := media.NewPresigner(ctx, media.Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			TTL:       cfg.MediaURLTTL,
		})
		if err != nil {
			return fmt.Errorf("media: %w", err)
		}
		mediaHandler := media.NewHandler(presigner, log)
		r.Route("/api/media", func(r chi.Router) {
			r.Use(authMiddleware.Handle)
			r.Post("/upload-url", mediaHandler.UploadURL)
			r.Get("/download-url", mediaHandler.DownloadURL)
		})
	}

	// 7. Serve until signalled
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "server starting", "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "shutdown failed", "err", err)
	}
	stop()
	<-hubDone
	return nil
}
