package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/text/language"

	"roster/internal/attendance"
	"roster/internal/auth"
	"roster/internal/config"
	"roster/internal/handler"
	"roster/internal/httpmiddleware"
	"roster/internal/mailer"
	"roster/internal/queue"
	"roster/internal/session"
	"roster/internal/store"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

// backend is the blob store chosen by STORE_BACKEND plus its health check.
type backend struct {
	blob   store.Blob
	pinger store.Pinger
	closer io.Closer
}

func openStore(ctx context.Context, cfg config.App) (backend, error) {
	switch cfg.StoreBackend {
	case "memory":
		m := store.NewMemory()
		return backend{blob: m, pinger: m}, nil
	case "bolt":
		b, err := store.OpenBolt(cfg.BoltPath)
		if err != nil {
			return backend{}, err
		}
		return backend{blob: b, pinger: b, closer: b}, nil
	case "postgres":
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return backend{}, err
		}
		return backend{blob: db, pinger: db, closer: db}, nil
	case "redis":
		r := store.NewRedis(cfg.RedisAddr, "roster:")
		return backend{blob: r, pinger: r, closer: r}, nil
	}
	return backend{}, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

func newSender(cfg config.App) mailer.Sender {
	if cfg.MailBackend == "sendgrid" {
		return mailer.NewSendGrid(cfg.SendgridAPIKey, cfg.AppName, cfg.MailFrom)
	}
	return mailer.LogSender{}
}

func runHTTP(cfg config.App) error {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	be, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	if be.closer != nil {
		defer be.closer.Close()
	}
	checks := map[string]store.Pinger{"store": be.pinger}

	// With a Redis queue the worker process delivers mail; with the
	// in-memory queue this process runs the delivery loop itself.
	var q queue.Queue
	if cfg.QueueBackend == "redis" {
		rc := store.NewRedis(cfg.RedisAddr, "roster:")
		defer rc.Close()
		q = queue.NewRedisQueue(rc.Client, cfg.QueueKey)
		checks["queue"] = rc
	} else {
		mem := queue.NewInMemory(64)
		q = mem
		go func() {
			if err := mailer.Run(ctx, mem, newSender(cfg)); err != nil {
				log.Printf("mail loop stopped: %v", err)
			}
		}()
	}

	tokens := auth.TokenConfig{
		Issuer:     cfg.JWTIssuer,
		SigningKey: cfg.JWTSigningKey,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	}
	accounts, err := auth.NewAccounts(ctx, be.blob, mailer.QueueNotifier{Queue: q}, tokens, cfg.BcryptCost)
	if err != nil {
		return err
	}
	if cfg.AdminUsername != "" && cfg.AdminPassword != "" {
		if err := accounts.EnsureUser(ctx, cfg.AdminUsername, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
	}

	locale, err := language.Parse(cfg.CollationLocale)
	if err != nil {
		log.Printf("invalid COLLATION_LOCALE %q, using und: %v", cfg.CollationLocale, err)
		locale = language.Und
	}
	sessions := session.NewManager(be.blob, cfg.SnapshotInterval, attendance.Options{
		StrictCollegeMatch: cfg.StrictCollege,
		Locale:             locale,
	})
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go sessions.Sweep(sweepCtx, cfg.SessionIdleTTL, time.Minute)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           24 * time.Hour,
	}))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware(httpmiddleware.ClientIP))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	userLimit := httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	handler.New(accounts, sessions, checks).Routes(r, userLimit.GinMiddleware(httpmiddleware.ContextKey(auth.IdentityKey)))

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("starting server on :%s (store=%s queue=%s mail=%s)", cfg.HTTPPort, cfg.StoreBackend, cfg.QueueBackend, cfg.MailBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return err
	}
	log.Println("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced shutdown: %v", err)
	}
	stopSweep()
	if err := sessions.Close(shutdownCtx); err != nil {
		log.Printf("final snapshot failed: %v", err)
	}

	log.Println("server exited")
	return nil
}
