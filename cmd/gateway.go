package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/asa/internal/autoreply"
	"github.com/nextlevelbuilder/asa/internal/channels"
	"github.com/nextlevelbuilder/asa/internal/channels/amqpin"
	"github.com/nextlevelbuilder/asa/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/asa/internal/config"
	"github.com/nextlevelbuilder/asa/internal/gateway"
	httpapi "github.com/nextlevelbuilder/asa/internal/http"
	"github.com/nextlevelbuilder/asa/internal/providers"
	"github.com/nextlevelbuilder/asa/internal/store"
	"github.com/nextlevelbuilder/asa/internal/store/pg"
	"github.com/nextlevelbuilder/asa/internal/store/sqlite"
	"github.com/nextlevelbuilder/asa/internal/tracing"
)

func runGateway() {
	// Setup structured logging
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		slog.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}

	stores, err := openStores(cfg)
	if err != nil {
		slog.Error("failed to open stores", "error", err)
		os.Exit(1)
	}

	provider := buildProvider(cfg)
	if provider == nil {
		slog.Warn("no AI provider API key configured; replies fall back to rules and the generic text")
	}

	// The manager is the outbound transport for the dispatcher; channels
	// register after the service exists because they need it as handler.
	channelMgr := channels.NewManager()
	svc := autoreply.New(autoreply.Options{
		Stores:          stores,
		Provider:        provider,
		Transport:       channelMgr,
		AutoReply:       cfg.AutoReply,
		MaxTokens:       cfg.Provider.MaxTokens,
		Temperature:     cfg.Provider.Temperature,
		MaxMessageChars: cfg.Gateway.MaxMessageChars,
	})

	if err := registerChannels(cfg, channelMgr, svc); err != nil {
		slog.Error("failed to set up channels", "error", err)
		os.Exit(1)
	}

	server := gateway.NewServer(cfg, Version, channelMgr,
		httpapi.NewConversationsHandler(svc, stores.Conversations, stores.Messages, cfg.Gateway.Token),
		httpapi.NewRulesHandler(stores.Rules, cfg.Gateway.Token),
		httpapi.NewSettingsHandler(stores.Settings, svc.AI(), cfg.Gateway.Token),
		httpapi.NewWebhooksHandler(svc, cfg.Gateway.WebhookToken, cfg.Gateway.RateLimitRPM, cfg.Channels.WhatsApp.AllowFrom),
	)

	slog.Info("asa gateway starting",
		"version", Version,
		"mode", storeMode(cfg),
		"ai", provider != nil,
		"debounce", cfg.AutoReply.DebounceWindow(),
		"channels", channelMgr.GetStatus(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})
	g.Go(func() error {
		if err := channelMgr.StartAll(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return channelMgr.StopAll(stopCtx)
	})
	g.Go(func() error {
		err := config.Watch(gctx, cfgPath, func(next *config.Config) {
			cfg.ReplaceFrom(next)
			svc.Apply(cfg)
			slog.Info("config reloaded", "path", cfgPath)
		})
		if err != nil {
			// Hot reload is optional; keep serving with the loaded config.
			slog.Warn("config watcher disabled", "error", err)
		}
		return nil
	})

	runErr := g.Wait()
	slog.Info("graceful shutdown initiated")

	svc.Close()
	if err := stores.Close(); err != nil {
		slog.Warn("close stores", "error", err)
	}
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(flushCtx); err != nil {
		slog.Warn("flush traces", "error", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("gateway error", "error", runErr)
		os.Exit(1)
	}
}

// openStores selects Postgres in managed mode and SQLite otherwise.
func openStores(cfg *config.Config) (*store.Stores, error) {
	if cfg.Database.Mode == "managed" {
		if !cfg.IsManagedMode() {
			return nil, fmt.Errorf("managed mode requires ASA_POSTGRES_DSN")
		}
		return pg.NewPGStores(store.StoreConfig{PostgresDSN: cfg.Database.PostgresDSN})
	}
	return sqlite.NewSQLiteStores(store.StoreConfig{SQLitePath: cfg.SQLitePath()})
}

func storeMode(cfg *config.Config) string {
	if cfg.IsManagedMode() {
		return "managed"
	}
	return "standalone"
}

// buildProvider returns nil when no API key is set, which disables the AI tier.
func buildProvider(cfg *config.Config) providers.Provider {
	if !cfg.HasProvider() {
		return nil
	}
	pc := cfg.Provider
	var p *providers.OpenAIProvider
	switch pc.Name {
	case "", "gemini":
		p = providers.NewGeminiProvider(pc.APIKey, pc.Model)
	default:
		p = providers.NewOpenAIProvider(pc.Name, pc.APIKey, pc.APIBase, pc.Model)
	}
	return p.WithTimeout(time.Duration(pc.TimeoutSec) * time.Second)
}

func registerChannels(cfg *config.Config, mgr *channels.Manager, svc *autoreply.Service) error {
	limiter := channels.NewSenderLimiter(cfg.Gateway.RateLimitRPM)

	if wa := cfg.Channels.WhatsApp; wa.Enabled {
		t, err := whatsapp.Factory(wa, svc)
		if err != nil {
			return fmt.Errorf("whatsapp: %w", err)
		}
		if lc, ok := t.(interface{ SetLimiter(*channels.SenderLimiter) }); ok {
			lc.SetLimiter(limiter)
		}
		mgr.RegisterChannel(t)
		slog.Info("whatsapp channel enabled", "transport", wa.Transport)
	} else {
		slog.Warn("whatsapp channel disabled; replies cannot be delivered")
	}

	if aq := cfg.Channels.AMQP; aq.Enabled {
		c, err := amqpin.New(aq, svc, cfg.Channels.WhatsApp.AllowFrom)
		if err != nil {
			return fmt.Errorf("amqp: %w", err)
		}
		c.SetLimiter(limiter)
		mgr.RegisterChannel(c)
		slog.Info("amqp consumer enabled", "queue", aq.Queue)
	}
	return nil
}
