// Package gateway composes the admission filter, rate limit chain, tracker
// engine and the enabled transport strategies into one supervised unit.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"swarmgate/internal/admission"
	"swarmgate/internal/banindex"
	"swarmgate/internal/ratelimit"
	"swarmgate/internal/tracker"
	"swarmgate/internal/transport"
	"swarmgate/internal/transport/httptrack"
	"swarmgate/internal/transport/udptrack"
	"swarmgate/internal/transport/wstrack"

	"github.com/charmbracelet/log"
)

// Options captures everything the gateway needs from configuration, read
// once at construction.
type Options struct {
	HTTPAddr string

	EnableUDP bool
	UDPAddr   string

	EnableWS bool
	WSAddr   string

	AnnounceInterval time.Duration
	PeerTTL          time.Duration
	ConnIDTTL        time.Duration
	WSReadTimeout    time.Duration

	SlowDownLimit    int64
	SlowDownWindow   time.Duration
	SlowDownDelay    time.Duration
	SlowDownMaxDelay time.Duration

	QuotaLimit  int64
	QuotaWindow time.Duration

	// GeoMMDBPath enables the country-deny admission extension.
	GeoMMDBPath     string
	DeniedCountries []string
}

// Gateway owns the strategy instances and supervises their lifecycles as
// one unit: all started or none, stopped in reverse start order.
type Gateway struct {
	engine     *tracker.Engine
	filter     *admission.Filter
	strategies []transport.Strategy
	started    []transport.Strategy
	geo        *admission.GeoDeny
}

func New(index *banindex.Index, opts Options) (*Gateway, error) {
	g := &Gateway{}

	g.filter = admission.New(index)
	if opts.GeoMMDBPath != "" {
		geo, err := admission.NewGeoDeny(opts.GeoMMDBPath, opts.DeniedCountries)
		if err != nil {
			return nil, fmt.Errorf("gateway: geo extension: %w", err)
		}
		g.geo = geo
		g.filter.Register("geo-deny", geo.Check)
	}

	g.engine = tracker.NewEngine(g.filter.Evaluate,
		tracker.WithInterval(opts.AnnounceInterval),
		tracker.WithPeerTTL(opts.PeerTTL))

	store := ratelimit.NewMemoryStore()
	chain := ratelimit.NewChain(
		ratelimit.NewSlowDown(store, opts.SlowDownLimit, opts.SlowDownWindow,
			opts.SlowDownDelay, opts.SlowDownMaxDelay),
		ratelimit.NewQuota(store, "announce", opts.QuotaLimit, opts.QuotaWindow),
	)

	g.strategies = append(g.strategies, httptrack.New(opts.HTTPAddr, g.engine, chain))
	if opts.EnableUDP {
		g.strategies = append(g.strategies, udptrack.New(opts.UDPAddr, g.engine, chain, opts.ConnIDTTL))
	}
	if opts.EnableWS {
		g.strategies = append(g.strategies, wstrack.New(opts.WSAddr, g.engine, chain, opts.WSReadTimeout))
	}
	return g, nil
}

// Engine exposes the swarm engine so tests and the admin surface can reach
// it; transports already hold their own reference.
func (g *Gateway) Engine() *tracker.Engine {
	return g.engine
}

// Start brings up every enabled transport. A bind failure is fatal: the
// transports already started are torn down again and the error returned,
// rather than running with a partially-available transport set.
func (g *Gateway) Start(ctx context.Context) error {
	for _, strat := range g.strategies {
		if err := strat.Start(ctx); err != nil {
			log.Error("Transport failed to start", "transport", strat.Name(), "error", err)
			if stopErr := g.Stop(); stopErr != nil {
				log.Error("Rollback stop reported errors", "error", stopErr)
			}
			return fmt.Errorf("gateway: start %s: %w", strat.Name(), err)
		}
		g.started = append(g.started, strat)
		log.Info("Transport started", "transport", strat.Name())
	}
	return nil
}

// Stop tears the started transports down in reverse start order. A failing
// stop never aborts the loop; errors are collected and reported together.
func (g *Gateway) Stop() error {
	var errs []error
	for i := len(g.started) - 1; i >= 0; i-- {
		strat := g.started[i]
		if err := strat.Stop(); err != nil {
			log.Error("Transport failed to stop", "transport", strat.Name(), "error", err)
			errs = append(errs, err)
			continue
		}
		log.Info("Transport stopped", "transport", strat.Name())
	}
	g.started = nil

	if g.geo != nil {
		if err := g.geo.Close(); err != nil {
			errs = append(errs, err)
		}
		g.geo = nil
	}
	return errors.Join(errs...)
}
