// cmd/gatewayhub/main.go
// Binary entrypoint for the gatewayhub process: the HTTP+WebSocket front
// door that brokers terminal sessions between a gateway daemon and browser
// subscribers, backed by Postgres metadata and an optional Redis replay
// buffer. Structured the same way as the teacher's
// cmd/flarego-gateway/main.go: flags/config parsed first, collaborators
// wired in dependency order, then serve until a signal arrives.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tangramhq/gatewayhub/internal/hub"
	"github.com/tangramhq/gatewayhub/internal/hub/replay"
	"github.com/tangramhq/gatewayhub/internal/logging"
	"github.com/tangramhq/gatewayhub/internal/metrics"
	"github.com/tangramhq/gatewayhub/internal/reconcile"
	"github.com/tangramhq/gatewayhub/internal/security"
	"github.com/tangramhq/gatewayhub/internal/store"
)

func main() {
	flags := parseFlags()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	logging.Set(lg)
	defer lg.Sync()

	cfg, err := hub.LoadConfig(flags.configPath)
	if err != nil {
		lg.Fatal("load config", zap.Error(err))
	}

	db, err := store.Open(cfg.DatabaseDSN)
	if err != nil {
		lg.Fatal("open store", zap.Error(err))
	}
	defer db.Close()

	if flags.redisAddr != "" {
		cfg.RedisAddr = flags.redisAddr
	}
	var redisCli *redis.Client
	if cfg.RedisAddr != "" {
		redisCli = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	replayMgr := replay.NewManager(2*time.Minute, redisCli)

	provider := reconcile.NewRetryingProvider(reconcile.ManualOnlyProvider{})
	var reconOpts []reconcile.Option
	if cipher, err := security.NewHostCredentialCipher([]byte(cfg.HostTokenKEK)); err != nil {
		lg.Warn("host credential cipher disabled, refreshed provider tokens won't be persisted", zap.Error(err))
	} else {
		reconOpts = append(reconOpts, reconcile.WithCredentialCipher(cipher))
	}
	recon := reconcile.New(db, provider, flags.reconcileConfig(), reconOpts...)

	auth := hub.NewAuthenticator(cfg.AuthMode, []byte(cfg.SessionCookieSecret), cfg.GatewayTokenSalt, db)
	router := hub.NewRouter(cfg.HubConfig(), func(gatewayID string) hub.Lifecycle {
		return hub.NewStoreLifecycle(db)
	}, replayMgr)
	listener := hub.NewListener(router, auth, db, recon, cfg)

	metrics.Register()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		lg.Info("signal received, shutting down")
		cancel()
	}()

	go recon.Run(ctx)

	srv := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: listener.Routes(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		router.Shutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			lg.Warn("http shutdown", zap.Error(err))
		}
	}()

	lg.Info("gatewayhub listening", zap.String("addr", cfg.BindAddr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		lg.Fatal("serve", zap.Error(err))
	}

	lg.Info("goodbye")
}
