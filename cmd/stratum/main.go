// Command stratum runs the pool server: config load, Store/Treasury/
// TemplateManager/Stratum/Pool wiring, and graceful shutdown on SIGINT/
// SIGTERM. Grounded on the teacher's cmd/stratum/main.go wiring shape and
// signal.Notify idiom before its Litecoin-specific RPC/broadcast bodies
// were replaced with this pool's component set.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/chimera-pool/kaspa-pool-core/internal/addr"
	"github.com/chimera-pool/kaspa-pool-core/internal/api"
	"github.com/chimera-pool/kaspa-pool-core/internal/bigrat"
	"github.com/chimera-pool/kaspa-pool-core/internal/config"
	"github.com/chimera-pool/kaspa-pool-core/internal/livestats"
	"github.com/chimera-pool/kaspa-pool-core/internal/metrics"
	"github.com/chimera-pool/kaspa-pool-core/internal/nodeclient"
	"github.com/chimera-pool/kaspa-pool-core/internal/pool"
	"github.com/chimera-pool/kaspa-pool-core/internal/store"
	"github.com/chimera-pool/kaspa-pool-core/internal/stratum"
	"github.com/chimera-pool/kaspa-pool-core/internal/stratum/vardiff"
	"github.com/chimera-pool/kaspa-pool-core/internal/templates"
	"github.com/chimera-pool/kaspa-pool-core/internal/treasury"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	dataDir := flag.String("data-dir", "./data", "directory for the embedded store")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	st, err := store.Open(*dataDir)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	// The node RPC client's transport/wire format is out of scope for this
	// pool core (spec'd as a consumed interface); a production deployment
	// swaps NewFake for a real client implementing nodeclient.Client.
	node := nodeclient.NewFake()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	payAddress := addr.Externalize(cfg.Templates.Identity)
	tm := templates.New(node, templates.DefaultPoWFactory, payAddress, nil, cfg.Templates.DAAWindow)

	startDiff, err := bigrat.ParseDifficulty(cfg.Stratum.Difficulty)
	if err != nil {
		log.Fatalf("parse stratum.difficulty %q: %v", cfg.Stratum.Difficulty, err)
	}

	srv := stratum.New(stratum.Config{
		HostName:        cfg.Stratum.HostName,
		Port:            cfg.Stratum.Port,
		StartDifficulty: startDiff,
		VardiffEnabled:  cfg.Stratum.Vardiff.Enabled,
		Vardiff: vardiff.Config{
			MinDifficulty:   cfg.Stratum.Vardiff.MinDifficulty,
			MaxDifficulty:   cfg.Stratum.Vardiff.MaxDifficulty,
			TargetTime:      cfg.Stratum.Vardiff.TargetTime,
			VariancePercent: cfg.Stratum.Vardiff.VariancePercent,
			MaxChange:       cfg.Stratum.Vardiff.MaxChange,
			ChangeInterval:  cfg.Stratum.Vardiff.ChangeInterval,
		},
	}, tm)

	if err := tm.Register(ctx, srv.Announce); err != nil {
		log.Fatalf("register template manager: %v", err)
	}

	tr := treasury.New(treasury.Config{
		PrivateKey:     cfg.Treasury.PrivateKey,
		FundingAddress: payAddress,
		FeeBps:         cfg.FeeBps(),
		StartedAt:      time.Now(),
	}, node)
	tr.Run(ctx)

	p := pool.New(pool.Config{
		DefaultPaymentThreshold: cfg.Treasury.Rewarding.PaymentThreshold,
	}, st, node, tr)
	if err := p.Start(ctx, srv.Events()); err != nil {
		log.Fatalf("start pool: %v", err)
	}

	if cfg.API.Enabled {
		reg := prometheus.NewRegistry()
		metrics.New(reg)
		apiSrv := api.New(st, reg)
		go func() {
			addrStr := net.JoinHostPort("", strconv.Itoa(cfg.API.Port))
			if err := apiSrv.Run(addrStr); err != nil {
				log.Printf("api server stopped: %v", err)
			}
		}()
	}

	go func() {
		if err := srv.Listen(ctx); err != nil {
			log.Fatalf("stratum listen: %v", err)
		}
	}()

	if cfg.Redis.Addr != "" {
		cache := livestats.New(cfg.Redis.Addr)
		defer cache.Close()
		go mirrorLiveStats(ctx, srv, cache)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received %s, shutting down", sig)
	cancel()
}

// mirrorLiveStats periodically mirrors connected-session counts into the
// best-effort Redis cache until ctx is cancelled.
func mirrorLiveStats(ctx context.Context, srv *stratum.Server, cache *livestats.Cache) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cache.SetConnectedMiners(ctx, srv.SessionCount())
		}
	}
}
