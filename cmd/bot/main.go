package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"ragout-bot/internal/bootstrap"
	"ragout-bot/internal/config"
	"ragout-bot/internal/server"
	"ragout-bot/internal/tracer"

	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 0. Tracer
	shutdownTracer := tracer.InitTracer(ctx)
	defer shutdownTracer(context.Background())

	// 1. Configuration
	cfg := config.Load()

	// 2. Dependencies
	container, err := bootstrap.NewContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("[FATAL] Bootstrap failed: %v", err)
	}
	defer container.Close()

	// 3. Background services
	if cfg.Infra.SweepOrphansOnStart {
		swept, err := container.CleanupService.SweepOrphans(ctx)
		if err != nil {
			log.Printf("[WARN] Orphan sweep incomplete: %v", err)
		}
		log.Printf("[INFO] Orphan sweep removed %d keys", swept)
	}
	if err := container.CleanupService.Consume(ctx); err != nil {
		log.Fatalf("[FATAL] Cleanup consumer failed: %v", err)
	}
	if container.AuditService != nil {
		if err := container.AuditService.Start(ctx); err != nil {
			log.Printf("[WARN] Audit subscriber failed: %v", err)
		}
	}
	go container.WebSocketHub.Run(ctx)

	// 4. Shared book. Without it, questions asked before any upload get the no-data reply.
	if err := bootstrap.LoadBook(ctx, cfg.App.BookPath, container.Knowledge, container.Logger, cfg.App.ReindexBook); err != nil {
		log.Printf("[WARN] Book not loaded: %v", err)
	}

	// 5. Transports
	srv := server.New(cfg, container)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Run()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	switch cfg.Telegram.Mode {
	case "polling":
		g.Go(func() error {
			return container.TelegramBot.RunPolling(gctx)
		})
	case "webhook":
		if err := container.TelegramClient.SetWebhook(ctx, cfg.Telegram.WebhookURL, cfg.Telegram.WebhookSecret); err != nil {
			log.Fatalf("[FATAL] setWebhook failed: %v", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			container.TelegramBot.Wait()
			return nil
		})
	case "disabled":
		log.Println("[INFO] Telegram disabled, serving HTTP only")
	default:
		log.Fatalf("[FATAL] unknown TELEGRAM_MODE %q", cfg.Telegram.Mode)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[ERROR] %v", err)
	}
	log.Println("[INFO] Shutdown complete")
}
