// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/autonomy"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/backend"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/backend/nftables"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/config"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/correlate"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/deploy"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/errors"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/facade"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/facade/rpc"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/ingest"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/install"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/logging"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/metrics"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/store"
)

const pruneInterval = 6 * time.Hour

// feedFanout tries each configured feed's Lookup in turn, returning the
// first hit. correlate.New wants exactly one FeedChecker; the daemon may be
// configured with several feed.* blocks, so this composes them.
type feedFanout struct {
	feeds []*ingest.FeedSource
}

func (f feedFanout) Lookup(value string) (ingest.FeedIndicator, bool) {
	for _, feed := range f.feeds {
		if ind, ok := feed.Lookup(value); ok {
			return ind, true
		}
	}
	return ingest.FeedIndicator{}, false
}

func defaultConfigPath() string {
	return filepath.Join(install.GetConfigDir(), "orchestrator.hcl")
}

func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	return defaultConfigPath()
}

// runDaemon builds every component in the dependency order the system is
// specified against (policy model and backend contract are compile-time
// dependencies; nftables adapter, conflict analyzer, and state store come
// up first here, then the deployment controller, event bus, log sources,
// correlator, autonomy controller, and finally the service facade) and
// serves until ctx is canceled or a termination signal arrives.
func runDaemon(ctx context.Context, configPath string) error {
	if err := setProcessName("orchestrator"); err != nil {
		logging.Warn("failed to set process name", "error", err)
	}

	if err := install.EnsureDirs(); err != nil {
		return errors.Wrap(err, errors.KindSystem, "failed to prepare install directories")
	}

	cfg, err := config.Load(resolveConfigPath(configPath))
	if err != nil {
		return err
	}

	logging.SetDefault(logging.New(logging.DefaultConfig()))
	log := logging.WithComponent("daemon")

	st, err := store.Open(install.GetStatePath())
	if err != nil {
		return errors.Wrap(err, errors.KindSystem, "failed to open state store")
	}
	defer st.Close()

	if err := syncNeverBlock(ctx, cfg, st); err != nil {
		return err
	}

	registry := backend.NewRegistry()
	nftOpts := nftables.DefaultOptions()
	nftOpts.BackupPath = filepath.Join(install.GetBackupDir(), "nftables.last.nft")
	if opts, err := cfg.Backend.StringOptions(); err != nil {
		return err
	} else if table := opts["table"]; table != "" {
		nftOpts.TableName = table
	}
	registry.Register(nftables.Name, nftables.KernelSubsystem, nftables.Factory(nftOpts))
	if _, err := registry.Activate(cfg.Backend.Name); err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "failed to activate backend adapter")
	}

	deployCtl := deploy.New(cfg.ResolveDeploy(), st, registry.Activate)

	activeFor := func() (backend.Adapter, error) {
		a := registry.Active()
		if a == nil {
			return nil, errors.New(errors.KindUnavailable, "no backend adapter is active")
		}
		return a, nil
	}
	autonomyCtl := autonomy.New(cfg.ResolveAutonomy(), st, deployCtl, activeFor)
	if level := cfg.AutonomyLevel(); level != "" {
		if err := autonomyCtl.SetLevel(ctx, level); err != nil {
			return err
		}
	}

	feeds := cfg.ResolveFeeds()
	correlator := correlate.New(correlate.DefaultConfig(), st, feedFanout{feeds: feeds}, nil)

	sources, err := cfg.ResolveSources(st)
	if err != nil {
		return err
	}

	queueDepth := 1000
	bus := ingest.NewBus(st, queueDepth)

	deployCtl.SetCausalTagPublisher(func(subject string, kindMask []string, validUntil time.Time) {
		bus.PublishCausalTag(ingest.CausalTag{
			Tag:        uuid.NewString(),
			Subject:    subject,
			KindMask:   kindMask,
			ValidUntil: validUntil,
		})
	})

	f := facade.New(st, registry, deployCtl, autonomyCtl, nil, cfg.ResolveHeartbeatProbe())

	m := metrics.New()
	promReg := prometheus.NewRegistry()
	if err := m.Register(promReg); err != nil {
		return errors.Wrap(err, errors.KindSystem, "failed to register metrics")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, src := range sources {
		go bus.Run(runCtx, src)
	}
	for _, feed := range feeds {
		go bus.Run(runCtx, feed)
	}
	go correlator.Run(runCtx, bus.Events())
	go autonomyCtl.Run(runCtx, correlator.Assessments())
	go metrics.TailAudit(runCtx, st, m, 2*time.Second)
	go feedGaugeLoop(runCtx, feeds, m)
	go pruneLoop(runCtx, st, cfg.RetentionWindow())
	go deploy.NewExpiryReconciler(deployCtl, activeFor, time.Minute).Run(runCtx)
	go neverBlockResolver(cfg, st).Run(runCtx)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: "127.0.0.1:9110", Handler: metricsMux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics listener exited", "error", err)
		}
	}()

	rpcServer := rpc.NewServer(rpc.DefaultConfig(install.GetSocketPath()), f)

	if err := writePIDFile(); err != nil {
		return err
	}
	defer removePIDFile()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGHUP:
				log.Info("received SIGHUP, reloading configuration")
				if err := reloadLiveConfig(runCtx, resolveConfigPath(configPath), st, autonomyCtl); err != nil {
					log.Warn("configuration reload failed, continuing with prior settings", "error", err)
				}
			default:
				log.Info("received termination signal, shutting down", "signal", sig.String())
				cancel()
				return
			}
		}
	}()

	log.Info("orchestrator daemon started", "backend", cfg.Backend.Name, "autonomy_level", string(cfg.AutonomyLevel()))

	serveErr := rpcServer.Start(runCtx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx)

	return serveErr
}

// reloadLiveConfig re-reads the config file and applies the subset of
// settings that can change without re-wiring the adapter, bus, or
// correlator: autonomy level and never_block entries. Sources, feeds, and
// the backend selection require a restart to take effect.
func reloadLiveConfig(ctx context.Context, path string, st *store.Store, autonomyCtl *autonomy.Controller) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if level := cfg.AutonomyLevel(); level != "" {
		if err := autonomyCtl.SetLevel(ctx, level); err != nil {
			return err
		}
	}

	return syncNeverBlock(ctx, cfg, st)
}

// syncNeverBlock adds any configured never_block.entries[] not already
// present in the store. Entries are additive only: an operator-added entry
// that isn't in the config file is left alone, and removing an entry from
// the file doesn't retract a protection already in effect.
func syncNeverBlock(ctx context.Context, cfg *config.Config, st *store.Store) error {
	entries, err := cfg.ResolveNeverBlock()
	if err != nil {
		return err
	}
	existing, err := st.ListNeverBlock(ctx)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(existing))
	for _, e := range existing {
		seen[e.Value] = true
	}
	for _, e := range entries {
		if !seen[e.Value] {
			if err := st.AddNeverBlock(ctx, e); err != nil {
				return err
			}
		}
	}
	return nil
}

func neverBlockResolver(cfg *config.Config, st *store.Store) *deploy.NeverBlockResolver {
	interval := time.Duration(cfg.NeverBlock.ResolveIntervalSeconds) * time.Second
	return deploy.NewNeverBlockResolver(st, interval, cfg.NeverBlock.ManagementDiscovery, cfg.NeverBlock.ManagementInterface)
}

func feedGaugeLoop(ctx context.Context, feeds []*ingest.FeedSource, m *metrics.Metrics) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, feed := range feeds {
			m.FeedIndicatorCounts.WithLabelValues(feed.Name()).Set(float64(feed.Count()))
		}
	}
}

func pruneLoop(ctx context.Context, st *store.Store, retention time.Duration) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if _, err := st.Prune(ctx, time.Now().Add(-retention)); err != nil {
			logging.Warn("periodic prune failed", "error", err)
		}
	}
}

func pidFilePath() string {
	return filepath.Join(install.GetRunDir(), "orchestrator.pid")
}

func writePIDFile() error {
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func removePIDFile() {
	os.Remove(pidFilePath())
}
