// Code generated by hand in the shape wire would generate (wire is never
// invoked in this build); see wire.go for the injector this mirrors.
//go:build !wireinject
// +build !wireinject

package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ssh352/codex-lb-sub001/internal/balancer"
	"github.com/ssh352/codex-lb-sub001/internal/config"
	"github.com/ssh352/codex-lb-sub001/internal/logging"
	"github.com/ssh352/codex-lb-sub001/internal/pkg/cryptor"
	"github.com/ssh352/codex-lb-sub001/internal/repository"
	"github.com/ssh352/codex-lb-sub001/internal/server"
	"github.com/ssh352/codex-lb-sub001/internal/service"
	"github.com/ssh352/codex-lb-sub001/internal/upstream"
)

// Application is the fully-wired process: a ready-to-mount HTTP handler
// plus a cleanup func releasing pooled resources.
type Application struct {
	Addr    string
	Router  *server.Handler
	Cleanup func()
}

func initializeApplication() (*Application, error) {
	cfg, err := config.ProvideConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	c, err := cryptor.New(cfg.Balancer.EncryptionKeyFile)
	if err != nil {
		return nil, fmt.Errorf("build cryptor: %w", err)
	}

	db, err := repository.OpenDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := repository.ApplyMigrations(context.Background(), db, cfg.Database.Driver); err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	rdb := repository.NewRedisClient(cfg.Redis)

	accounts := repository.NewAccountStore(db, cfg.Database.Driver)
	usageHistory := repository.NewUsageHistoryStore(db, cfg.Database.Driver)
	dashboardSettings := repository.NewDashboardSettingsStore(db, cfg.Database.Driver, cfg.Balancer.PreferEarlierReset)
	balancerCache := repository.NewBalancerCache(rdb, log)

	tokenClient := upstream.NewOAuthTokenClient(cfg.Upstream.ConnectTimeout, cfg.Upstream.ReadTimeout)
	usageClient := upstream.NewUsageHTTPClient(cfg.Upstream.BaseURL, cfg.Upstream.ConnectTimeout, cfg.Upstream.ReadTimeout)

	authManager := service.NewAuthManager(accounts, tokenClient, c, log)
	usageRefresher := service.NewUsageRefresher(accounts, usageHistory, usageClient, authManager, c,
		service.UsageRefresherConfig{
			Enabled:         cfg.Balancer.UsageRefreshEnabled,
			IntervalSeconds: cfg.Balancer.UsageRefreshIntervalSeconds,
		}, log)

	settings, err := dashboardSettings.Get(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load dashboard settings: %w", err)
	}

	balancerCfg := balancer.Config{
		TierWeights:                   cfg.Balancer.TierWeights,
		TierCapacityCredits:           cfg.Balancer.TierCapacityCredits,
		PreferEarlierReset:            settings.PreferEarlierReset,
		UsageLimitEscalationThreshold: cfg.Balancer.UsageLimitEscalationThreshold(),
		UsageLimitInitialCooldownCap:  cfg.Balancer.UsageLimitInitialCooldownCap(),
	}

	facade, err := service.NewFacade(accounts, usageHistory, usageRefresher, balancerCache,
		service.FacadeConfig{
			SnapshotTTL:        cfg.Balancer.SnapshotTTL(),
			StickyTTL:          cfg.Upstream.ReadTimeout,
			PreferEarlierReset: settings.PreferEarlierReset,
			PinnedAccountIDs:   settings.PinnedAccountIDs,
			StickyCacheSize:    cfg.Balancer.StickyKeyCacheSize,
			Balancer:           balancerCfg,
		}, log)
	if err != nil {
		return nil, fmt.Errorf("build facade: %w", err)
	}

	proxy := server.NewProxy(facade, c, cfg.Upstream.BaseURL, cfg.Upstream.ConnectTimeout, cfg.Upstream.ReadTimeout, log)
	handler := server.NewHandler(facade, log).WithProxy(proxy)

	if cfg.Balancer.UsageRefreshEnabled {
		if startErr := usageRefresher.Start(context.Background()); startErr != nil {
			log.Warn("usage refresher failed to start", zap.Error(startErr))
		}
	}

	cleanup := func() {
		usageRefresher.Stop()
		_ = rdb.Close()
		_ = db.Close()
	}

	return &Application{Addr: cfg.Server.Addr, Router: handler, Cleanup: cleanup}, nil
}
