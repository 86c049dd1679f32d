package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"swarmgate/internal/adminapi"
	"swarmgate/internal/banindex"
	"swarmgate/internal/banstore"
	"swarmgate/internal/config"
	"swarmgate/internal/database"
	"swarmgate/internal/gateway"
	"swarmgate/internal/ratelimit"
	"swarmgate/internal/support"
)

func Run() error {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found. Falling back to system environment variables.")
	}

	log.SetLevel(log.DebugLevel)

	config.ReadSettings()
	cfg := config.GetConfig()

	if _, err := database.SetupDB(); err != nil {
		return fmt.Errorf("set up database: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	index := banindex.New()
	store := banstore.New(index)
	if err := store.Load(ctx); err != nil {
		return fmt.Errorf("load ban ranges: %w", err)
	}
	log.Info("Ban range index loaded", "ranges", index.Len())

	authChain, err := buildAuthChain(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := support.CloseRedisClient(); err != nil {
			log.Warn("error closing redis client", "error", err)
		}
	}()

	gw, err := gateway.New(index, gatewayOptions(cfg))
	if err != nil {
		return err
	}
	if err := gw.Start(ctx); err != nil {
		return err
	}

	adminServer := &http.Server{
		Addr:    cfg.Admin.Listen,
		Handler: adminapi.NewServer(store, authChain).Routes(),
	}
	go func() {
		log.Info("Admin API listening", "addr", cfg.Admin.Listen)
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Admin server terminated", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("Admin server shutdown", "error", err)
	}
	if err := gw.Stop(); err != nil {
		log.Error("Transport shutdown reported errors", "error", err)
	}
	return nil
}

// buildAuthChain backs the auth-route quota with redis when configured so
// several gateway instances share one brute-force budget.
func buildAuthChain(cfg config.Config) (*ratelimit.Chain, error) {
	var counters ratelimit.CounterStore = ratelimit.NewMemoryStore()
	if cfg.Redis.Enabled {
		client, err := support.GetRedisClient()
		if err != nil {
			return nil, fmt.Errorf("get redis client: %w", err)
		}
		counters = ratelimit.NewRedisStore(client)
	}

	limit := cfg.RateLimit.AuthQuota.Limit
	if limit <= 0 {
		limit = 10
	}
	window := time.Duration(cfg.RateLimit.AuthQuota.WindowSec) * time.Second
	if window <= 0 {
		window = 15 * time.Minute
	}
	return ratelimit.NewChain(ratelimit.NewQuota(counters, "auth", limit, window)), nil
}

func gatewayOptions(cfg config.Config) gateway.Options {
	return gateway.Options{
		HTTPAddr: cfg.Tracker.HTTPListen,

		EnableUDP: cfg.Transports.UDP.Enabled,
		UDPAddr:   cfg.Transports.UDP.Listen,

		EnableWS: cfg.Transports.WebSocket.Enabled,
		WSAddr:   cfg.Transports.WebSocket.Listen,

		AnnounceInterval: config.AnnounceInterval(),
		PeerTTL:          time.Duration(cfg.Tracker.PeerTTLSec) * time.Second,
		ConnIDTTL:        config.ConnIDTTL(),
		WSReadTimeout:    config.WSReadTimeout(),

		SlowDownLimit:    cfg.RateLimit.SlowDown.Limit,
		SlowDownWindow:   time.Duration(cfg.RateLimit.SlowDown.WindowSec) * time.Second,
		SlowDownDelay:    time.Duration(cfg.RateLimit.SlowDown.DelayMs) * time.Millisecond,
		SlowDownMaxDelay: time.Duration(cfg.RateLimit.SlowDown.MaxDelayMs) * time.Millisecond,

		QuotaLimit:  cfg.RateLimit.Quota.Limit,
		QuotaWindow: time.Duration(cfg.RateLimit.Quota.WindowSec) * time.Second,

		GeoMMDBPath:     cfg.Geo.MMDBPath,
		DeniedCountries: cfg.Geo.DeniedCountries,
	}
}
