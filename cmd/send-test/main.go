package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/newsletter-dispatch/internal/config"
	"github.com/ignite/newsletter-dispatch/internal/content"
	"github.com/ignite/newsletter-dispatch/internal/dispatch"
	"github.com/ignite/newsletter-dispatch/internal/pkg/distlock"
	"github.com/ignite/newsletter-dispatch/internal/pkg/logger"
	"github.com/ignite/newsletter-dispatch/internal/resend"
	"github.com/ignite/newsletter-dispatch/internal/store"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cfg, err := config.LoadFromEnv("config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: loading configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.Resend.APIKey == "" {
		fmt.Fprintln(os.Stderr, "FATAL: RESEND_API_KEY is not set")
		os.Exit(1)
	}

	disp, cleanup, err := buildDispatcher(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	report, err := disp.RunTest(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "test dispatch failed: %v\n", err)
		os.Exit(1)
	}
	if report.NoOp() {
		fmt.Println("no pending campaign; nothing to do")
		return
	}
	fmt.Printf("test dispatch complete: delivered=%d skipped=%d\n", report.Delivered, report.Skipped)
}

func buildDispatcher(ctx context.Context, cfg *config.Config) (*dispatch.Dispatcher, func(), error) {
	st, err := store.New(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to archive store: %w", err)
	}

	provider := resend.NewClient(resend.Config{
		APIKey:  cfg.Resend.APIKey,
		BaseURL: cfg.Resend.BaseURL,
		Timeout: cfg.Resend.Timeout(),
	})

	cleanup := func() {}
	var locker *distlock.Locker
	if cfg.Redis.Enabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable; dispatch lease disabled", "error", err.Error())
			client.Close()
		} else {
			locker = distlock.NewLocker(client, cfg.Dispatch.LeaseTTL())
			cleanup = func() { client.Close() }
		}
	}

	orch := dispatch.NewOrchestrator(st, content.NewLoader(st), provider, cfg.Resend)
	disp := dispatch.NewDispatcher(st, orch, provider, locker,
		cfg.Storage.BaseURL, cfg.Dispatch, cfg.Scheduler.Window())
	return disp, cleanup, nil
}
