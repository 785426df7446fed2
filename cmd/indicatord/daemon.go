package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"git.home.luguber.info/inful/indicatord/internal/activation"
	"git.home.luguber.info/inful/indicatord/internal/config"
	"git.home.luguber.info/inful/indicatord/internal/indicator"
	"git.home.luguber.info/inful/indicatord/internal/indicator/natsbackend"
	"git.home.luguber.info/inful/indicatord/internal/metrics"
)

func runDaemon() error {
	registry := prom.NewRegistry()
	registry.MustRegister(
		promcollect.NewGoCollector(),
		promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewPrometheusRecorder(registry)

	cfgMgr, err := config.NewManager(CLI.Config, config.DefaultTuning(), config.WithRecorder(recorder))
	if err != nil {
		return fmt.Errorf("failed to start config manager: %w", err)
	}

	act := activation.New(cfgMgr.Current().AutoSleepTimeout())

	var factory indicator.Factory
	switch CLI.Run.Backend {
	case "mock":
		factory = func(p indicator.Position) (indicator.Backend, error) {
			return indicator.NewMockBackend(p), nil
		}
	default:
		natsCfg := natsbackend.DefaultConfig()
		natsCfg.URL = CLI.Run.NatsURL
		natsCfg.Subject = CLI.Run.NatsSubject
		factory = natsbackend.Factory(natsCfg)
	}

	ind := indicator.NewManager(cfgMgr, act, factory, indicator.DefaultTicks(),
		indicator.WithRecorder(recorder))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go retuneActivation(ctx, act, cfgMgr)
	go runActivationDemo(ctx, act, cfgMgr)

	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(time.Minute),
		gocron.NewTask(func() { logStatus(act, cfgMgr, ind) }),
		gocron.WithName("status-report"),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule status report: %w", err)
	}
	sched.Start()

	server := newAdminServer(CLI.Run.AdminAddr, registry, act, cfgMgr, ind)
	go func() {
		slog.Info("Admin server listening", "addr", CLI.Run.AdminAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Admin server failed", "error", err)
		}
	}()

	slog.Info("indicatord started",
		"backend", CLI.Run.Backend,
		"config", CLI.Config,
		"auto_sleep_timeout", cfgMgr.Current().AutoSleepTimeout())

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigC
	slog.Info("Shutting down", "signal", sig.String())

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Admin server shutdown failed", "error", err)
	}
	if err := sched.Shutdown(); err != nil {
		slog.Warn("Scheduler shutdown failed", "error", err)
	}

	// Indicator first so it releases the backend before its upstreams close.
	ind.Close()
	act.Close()
	cfgMgr.Close()

	slog.Info("indicatord stopped")
	return nil
}

// retuneActivation applies config reloads to the running inactivity timer.
func retuneActivation(ctx context.Context, act *activation.Manager, cfgMgr *config.Manager) {
	sub := cfgMgr.Subscribe()
	defer sub.Cancel()
	for {
		if err := sub.Changed(ctx); err != nil {
			return
		}
		timeout := sub.Value().AutoSleepTimeout()
		act.SetTimeout(timeout)
		slog.Info("Activation timeout retuned", "timeout", timeout)
	}
}

// runActivationDemo toggles awake/asleep at the configured interval while
// the demo flag is on. The flag and interval are re-read every cycle so a
// live reload can switch the demo on and off.
func runActivationDemo(ctx context.Context, act *activation.Manager, cfgMgr *config.Manager) {
	for {
		cfg := cfgMgr.Current()
		interval := cfg.ActivationDemoInterval()
		if interval <= 0 {
			interval = 10 * time.Second
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		if !cfgMgr.Current().EnableActivationDemo {
			continue
		}
		if act.CurrentState() == activation.StateAwake {
			act.Sleep()
		} else {
			act.Wake()
		}
		slog.Debug("Activation demo toggled", "state", act.CurrentState().String())
	}
}

func logStatus(act *activation.Manager, cfgMgr *config.Manager, ind *indicator.Manager) {
	recon := ind.ReconnectionStatus()
	slog.Info("Status report",
		"activation", act.CurrentState().String(),
		"watcher_health", cfgMgr.Health().String(),
		"indicator_error", ind.HasError(),
		"reconnect_attempts", recon.Attempts)
}

type statusResponse struct {
	Activation        string                       `json:"activation"`
	WatcherHealth     string                       `json:"watcher_health"`
	IndicatorError    bool                         `json:"indicator_error"`
	IndicatorPosition string                       `json:"indicator_position"`
	Reconnection      indicator.ReconnectionStatus `json:"reconnection"`
	Config            statusConfig                 `json:"config"`
}

type statusConfig struct {
	AutoSleepTimeoutSecs int    `json:"auto_sleep_timeout_secs"`
	Position             string `json:"position"`
}

func newAdminServer(addr string, registry *prom.Registry, act *activation.Manager, cfgMgr *config.Manager, ind *indicator.Manager) *http.Server {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if cfgMgr.Health().State == config.HealthFailed {
			http.Error(w, "config watcher failed", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/statusz", func(w http.ResponseWriter, r *http.Request) {
		cfg := cfgMgr.Current()
		resp := statusResponse{
			Activation:        act.CurrentState().String(),
			WatcherHealth:     cfgMgr.Health().String(),
			IndicatorError:    ind.HasError(),
			IndicatorPosition: ind.CurrentState().Position.String(),
			Reconnection:      ind.ReconnectionStatus(),
			Config: statusConfig{
				AutoSleepTimeoutSecs: cfg.AutoSleepTimeoutSecs,
				Position:             cfg.Indicator.Position,
			},
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.Warn("Failed to encode status response", "error", err)
		}
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
