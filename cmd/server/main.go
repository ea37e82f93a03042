package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"dexmatch/api/grpcserver"
	"dexmatch/infra/config"
	"dexmatch/infra/kafka"
	"dexmatch/infra/logging"
	"dexmatch/infra/metrics"
	entrywal "dexmatch/infra/wal/entry"
	exitwal "dexmatch/infra/wal/exit"
	"dexmatch/jobs/broadcaster"
	"dexmatch/ledger"
	"dexmatch/service"
	"dexmatch/snapshot"
	"dexmatch/store"
)

func main() {
	app := &cli.App{
		Name:  "dexmatch",
		Usage: "order matching core of a ledger-backed exchange",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env-file", Usage: "read DEXMATCH_* settings from `FILE`"},
			&cli.StringFlag{Name: "data-dir", Usage: "override DEXMATCH_DATA_DIR"},
			&cli.StringFlag{Name: "log-level", Usage: "override DEXMATCH_LOG_LEVEL"},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "recover state and accept orders (default)",
				Action: serve,
			},
			{
				Name:   "snapshot-info",
				Usage:  "print the offsets of the newest snapshot",
				Action: snapshotInfo,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("dexmatch failed")
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("env-file"))
	if err != nil {
		return nil, err
	}
	if v := c.String("data-dir"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := c.String("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config")
	}
	return cfg, nil
}

// closers releases resources in reverse order of acquisition.
type closers []func() error

func (cs *closers) add(fn func() error) { *cs = append(*cs, fn) }

func (cs closers) closeAll() {
	for i := len(cs) - 1; i >= 0; i-- {
		if err := cs[i](); err != nil {
			log.WithError(err).Warn("shutdown")
		}
	}
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logFile, err := logging.Setup(cfg.Logging)
	if err != nil {
		return err
	}
	defer logFile.Close()
	log.WithField("config", cfg.String()).Info("starting")

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cs closers
	defer cs.closeAll()

	// ---------------- Markets & balances ----------------

	registry, err := cfg.Markets.Registry()
	if err != nil {
		return err
	}
	balances := service.NewStaticBalances()
	if cfg.BalancesFile != "" {
		if balances, err = service.LoadBalances(cfg.BalancesFile); err != nil {
			return err
		}
	} else {
		log.Warn("no balances file, every address starts empty")
	}

	// ---------------- Storage ----------------

	var orders store.OrderStore
	switch cfg.Storage.StoreType {
	case "pebble":
		orders, err = store.OpenPebble(cfg.Storage.StoreDir(), store.PebbleOptions{
			MaxOrders: cfg.Engine.MaxOrders,
			Sync:      cfg.Storage.SyncWrites,
		})
		if err != nil {
			return err
		}
	default:
		orders = store.NewMemory(cfg.Engine.MaxOrders)
	}
	cs.add(orders.Close)

	events, err := entrywal.Open(entrywal.Config{
		Dir:             cfg.Storage.EventsDir(),
		SegmentSize:     cfg.Storage.SegmentSize,
		SegmentDuration: cfg.Storage.SegmentDuration,
		SyncEveryWrite:  cfg.Storage.SyncWrites,
	})
	if err != nil {
		return err
	}
	cs.add(events.Close)

	outbox, err := exitwal.Open(cfg.Storage.OutboxDir(), exitwal.Options{})
	if err != nil {
		return err
	}
	cs.add(outbox.Close)

	// ---------------- Metrics ----------------

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mtr := metrics.New(promReg)
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(promReg))
		srv := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("metrics server stopped")
			}
		}()
		cs.add(func() error { return srv.Shutdown(context.Background()) })
	}

	// ---------------- Ledger & matcher ----------------

	led := ledger.New(ledger.Config{
		InboxSize:    cfg.Engine.InboxSize,
		QueryTimeout: cfg.Engine.QueryTimeout,
	}, registry, orders)
	cs.add(func() error { led.Close(); return nil })

	deps := service.Deps{
		Registry:  registry,
		Ledger:    led,
		Store:     orders,
		Events:    events,
		Outbox:    outbox,
		Snapshots: &snapshot.Store{Dir: cfg.Storage.SnapshotsDir(), Keep: cfg.Engine.SnapshotsToKeep},
		Balances:  balances,
		Metrics:   mtr,
	}
	if len(cfg.Kafka.Brokers) > 0 {
		feed := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic, 0)
		feed.Start(ctx)
		cs.add(feed.Close)
		deps.Feed = feed
	}

	m, err := service.New(service.Config{
		InboxSize: cfg.Engine.InboxSize,
		RecentIDs: cfg.Engine.RecentIDs,
	}, deps)
	if err != nil {
		return err
	}

	// ---------------- gRPC ----------------

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", cfg.Server.GRPCAddr)
	}
	api := grpcserver.New(m)
	api.Serve(lis)
	cs.add(func() error { api.Stop(); return nil })

	// ---------------- Recovery ----------------

	if err := m.Start(ctx); err != nil {
		return err
	}
	cs.add(func() error {
		// Final snapshot shortens the next recovery.
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := m.SaveSnapshot(sctx); err != nil {
			log.WithError(err).Warn("final snapshot skipped")
		}
		m.Close()
		return nil
	})
	m.StartSnapshotJob(ctx, cfg.Engine.SnapshotInterval)

	// ---------------- Settlement ----------------

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := broadcaster.NewProducer(cfg.Kafka.Brokers)
		if err != nil {
			return err
		}
		bc := broadcaster.New(outbox, producer, cfg.Kafka.SettlementTopic, cfg.Kafka.PublishInterval, mtr)
		bc.Start(ctx)
		cs.add(bc.Close)
	} else {
		log.Warn("no kafka brokers, settlements stay in the outbox")
	}

	api.SetServing(true)
	api.NotServingAfter(m.Halted())
	log.WithField("addr", cfg.Server.GRPCAddr).Info("dexmatch ready")

	<-ctx.Done()
	log.Info("shutting down")
	api.SetServing(false)
	return nil
}

func snapshotInfo(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	st, err := (&snapshot.Store{Dir: cfg.Storage.SnapshotsDir()}).LoadLatest()
	if err != nil {
		return err
	}
	return printSnapshot(c.App.Writer, st)
}

func printSnapshot(w io.Writer, st *snapshot.State) error {
	if st == nil {
		_, err := fmt.Fprintln(w, "no snapshot")
		return err
	}
	fmt.Fprintf(w, "offset:      %d\n", st.Offset)
	fmt.Fprintf(w, "replay from: %d\n", st.ReplayFrom())
	fmt.Fprintf(w, "created:     %s\n", time.UnixMilli(st.Created).UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "addresses:   %d\n", len(st.Addresses))
	for _, b := range st.Books {
		fmt.Fprintf(w, "book %-12s offset %d, %d orders\n", b.Pair, b.Offset, len(b.Orders))
	}
	return nil
}
