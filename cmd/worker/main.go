package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"roster/internal/config"
	"roster/internal/mailer"
	"roster/internal/queue"
	"roster/internal/store"
)

// Worker consumes mail jobs published by the API and delivers them.
func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.QueueBackend != "redis" {
		log.Fatalf("worker needs QUEUE_BACKEND=redis, got %q", cfg.QueueBackend)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr, "")
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Printf("WARNING: redis at %s not reachable, will keep retrying", cfg.RedisAddr)
	}
	q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)

	var sender mailer.Sender = mailer.LogSender{}
	if cfg.MailBackend == "sendgrid" {
		sender = mailer.NewSendGrid(cfg.SendgridAPIKey, cfg.AppName, cfg.MailFrom)
	}

	log.Printf("worker started, consuming %s (mail=%s)", cfg.QueueKey, cfg.MailBackend)
	if err := mailer.Run(ctx, q, sender); err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}
	log.Println("worker stopped")
}
