package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/grafana/pyroscope-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"riskguard/internal/api"
	"riskguard/internal/core"
	"riskguard/internal/ingest"
	"riskguard/internal/obs"
	"riskguard/internal/ops"
	"riskguard/internal/state"
	"riskguard/internal/store"
	"riskguard/pkg/conn"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "riskguard.yaml", "Path to JSON or YAML config")
	envFile := flag.String("env", ".env", "Optional env file with overrides")
	recoverEnabled := flag.Bool("recover", true, "Restore the latest exported snapshot at startup")
	printSnapshot := flag.Bool("print-snapshot", true, "Print the ledger table on exit")
	flag.Parse()

	loaded, err := ops.Load(*configPath, *envFile)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if addr := loaded.Observability.PyroscopeAddr; addr != "" {
		profiler, err := startProfiler(loaded.Observability.AppName, addr)
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	svc, err := core.New(core.Config{
		Risk:                 loaded.Risk,
		LedgerLockTimeout:    loaded.LedgerLockTimeout,
		SessionCheckInterval: loaded.SessionCheckInterval,
		Instance:             uint16(loaded.Observability.Instance),
	})
	if err != nil {
		log.Fatalf("risk service init failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sinks, db, err := openSinks(ctx, loaded.Export)
	if err != nil {
		log.Fatalf("export sink init failed: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()

	if *recoverEnabled {
		if err := recoverLedger(ctx, svc, loaded.Export, sinks); err != nil {
			log.Fatalf("recovery failed: %v", err)
		}
	}

	if err := svc.Start(ctx); err != nil {
		log.Fatalf("risk service start failed: %v", err)
	}

	var wg sync.WaitGroup
	server := serveHTTP(loaded.Observability.MetricsAddr, svc)

	var exporter *store.Exporter
	if len(sinks.all) > 0 {
		exporter, err = store.NewExporter(svc.Ledger(), svc.Prices(), loaded.Export.Interval, sinks.all...)
		if err != nil {
			log.Fatalf("exporter init failed: %v", err)
		}
		logs.Infof("exporting snapshots every %s as instance %s", loaded.Export.Interval, exporter.InstanceID())
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = exporter.Run(ctx)
		}()
	}

	if loaded.Ingest.Enabled() {
		source, err := startIngest(ctx, loaded.Ingest, svc)
		if err != nil {
			log.Fatalf("ingest start failed: %v", err)
		}
		defer source.Close()
	}

	<-sys.Shutdown()
	logs.Info("shutdown signal received")
	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logs.Errorf("http server shutdown, err: %+v", err)
		}
	}
	if exporter != nil {
		if err := exporter.Export(shutdownCtx); err != nil {
			logs.Errorf("final snapshot export failed, err: %+v", err)
		}
	}

	snapshot, snapErr := svc.Snapshot(shutdownCtx)
	if err := svc.Close(shutdownCtx); err != nil {
		logs.Errorf("risk service close, err: %+v", err)
	}
	if *printSnapshot && snapErr == nil {
		state.RenderSnapshot(os.Stdout, snapshot)
	}
}

type sinkSet struct {
	store *store.Store
	all   []store.Sink
}

func openSinks(ctx context.Context, spec ops.ExportSpec) (sinkSet, *conn.Client, error) {
	var set sinkSet
	if spec.SnapshotPath != "" {
		set.all = append(set.all, store.FileSink{Path: spec.SnapshotPath})
	}
	if spec.StoreDSN == "" {
		return set, nil, nil
	}
	s, client, err := store.Open(ctx, spec.StoreDSN)
	if err != nil {
		return sinkSet{}, nil, err
	}
	s.SetRetention(spec.Retain)
	set.store = s
	set.all = append(set.all, s)
	return set, client, nil
}

// recoverLedger prefers the database, then the snapshot file.
func recoverLedger(ctx context.Context, svc *core.Service, spec ops.ExportSpec, sinks sinkSet) error {
	if sinks.store != nil {
		snapshot, ok, err := sinks.store.LatestSnapshot(ctx)
		if err != nil {
			return err
		}
		if ok {
			res, err := svc.Recover(ctx, snapshot)
			if err != nil {
				return err
			}
			logs.Infof("ledger recovered from store, open positions %d, session counters restored %t",
				res.OpenPositions, res.DailyRestored)
			return nil
		}
	}
	_, err := svc.RecoverFromFile(ctx, spec.SnapshotPath)
	return err
}

func serveHTTP(addr string, svc *core.Service) *http.Server {
	if addr == "" {
		return nil
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		obs.NewCollector(svc.Metrics()),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/", api.NewHandler(svc))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logs.Infof("http server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logs.Errorf("http server stopped, err: %+v", err)
		}
	}()
	return server
}

func startIngest(ctx context.Context, spec ops.IngestSpec, svc *core.Service) (*ingest.Source, error) {
	source, err := ingest.NewSource(ctx, spec.URL, spec.Stream, svc, svc.Metrics())
	if err != nil {
		return nil, err
	}
	if err := source.Start(ctx); err != nil {
		return nil, err
	}
	source.Observe(ctx)
	if err := source.Subscribe(ctx, spec.Symbols); err != nil {
		source.Close()
		return nil, err
	}
	return source, nil
}

func startProfiler(appName, addr string) (*pyroscope.Profiler, error) {
	return pyroscope.Start(pyroscope.Config{
		ApplicationName: appName,
		ServerAddress:   addr,
		Logger:          pyroscopeLogger{},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
}

type pyroscopeLogger struct{}

func (pyroscopeLogger) Infof(format string, args ...any)  { logs.Infof(format, args...) }
func (pyroscopeLogger) Debugf(string, ...any)             {}
func (pyroscopeLogger) Errorf(format string, args ...any) { logs.Errorf(format, args...) }
