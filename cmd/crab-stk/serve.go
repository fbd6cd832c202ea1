package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"crabstack.local/projects/crab-stk/internal/cardlink"
	"crabstack.local/projects/crab-stk/internal/config"
	dbpkg "crabstack.local/projects/crab-stk/internal/db"
	"crabstack.local/projects/crab-stk/internal/device"
	"crabstack.local/projects/crab-stk/internal/httpapi"
	"crabstack.local/projects/crab-stk/internal/journal"
	"crabstack.local/projects/crab-stk/internal/launcher"
	"crabstack.local/projects/crab-stk/internal/notify"
	logging "crabstack.local/projects/crab-stk/internal/notify/logging"
	"crabstack.local/projects/crab-stk/internal/notify/webhook"
	"crabstack.local/projects/crab-stk/internal/slots"
	"crabstack.local/projects/crab-stk/internal/uihub"
)

const shutdownTimeout = 10 * time.Second

func serve(ctx context.Context, logger *log.Logger, cfg config.Config) error {
	db, err := dbpkg.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer dbpkg.Close(db)

	journalStore, err := journal.NewGormStoreFromDB(db)
	if err != nil {
		return fmt.Errorf("initialize journal: %w", err)
	}
	launcherStore, err := launcher.NewGormStoreFromDB(db)
	if err != nil {
		return fmt.Errorf("initialize launcher store: %w", err)
	}
	launch, err := launcher.NewController(ctx, logger, launcherStore)
	if err != nil {
		return fmt.Errorf("restore launcher: %w", err)
	}

	subs := []notify.Subscriber{logging.New(logger), journal.NewSubscriber(journalStore)}
	for idx, webhookURL := range cfg.NotifyWebhooks {
		subs = append(subs, webhook.New(webhookSubscriberName(idx, webhookURL), webhookURL, logger))
	}
	events := notify.NewHub(logger, subs)
	defer events.Wait()

	hub := uihub.New(logger)
	defer hub.Close()
	monitor := device.NewMonitor(logger, device.DefaultState())
	policy := config.NewPolicyStore(cfg.Policy)

	manager := slots.New(logger, slots.Deps{
		Presenter: hub,
		Device:    monitor,
		Bridge:    monitor,
		Home:      monitor,
		Carrier:   policy,
		Launcher:  launch,
		Menus:     policy,
		Browser:   hub,
		Notifier:  events,
		Links:     cardlink.Factory(logger, cfg.CardLinkURL, cfg.CardLinkTimeout),
	}, slots.Options{
		SlotCount: cfg.SlotCount,
		Dispatch:  cfg.DispatchConfig(),
	})
	hub.Bind(manager)
	monitor.Bind(manager)

	srv := httpapi.NewServer(logger, cfg.HTTPAddr, httpapi.Deps{
		Manager:  manager,
		Journal:  journalStore,
		Device:   monitor,
		Launcher: launch,
		UI:       hub,
	}, httpapi.Options{
		RateLimit: cfg.APIRateLimit,
		Burst:     cfg.APIBurst,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return manager.Run(gctx)
	})
	g.Go(func() error {
		logger.Printf("listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server crashed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Printf("http server shutdown error: %v", err)
		}
		return nil
	})
	if cfg.ConfigFile != "" {
		watcher := config.NewWatcher(logger, cfg.ConfigFile, policy)
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Printf("stopped")
	return nil
}

func webhookSubscriberName(idx int, rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || strings.TrimSpace(parsed.Host) == "" {
		return fmt.Sprintf("webhook-%d", idx+1)
	}
	return fmt.Sprintf("webhook-%d-%s", idx+1, parsed.Host)
}
