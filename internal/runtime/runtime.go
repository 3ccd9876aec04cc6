package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-fwtypes/internal/bus"
	"github.com/loqalabs/loqa-fwtypes/internal/config"
	"github.com/loqalabs/loqa-fwtypes/internal/engine"
	"github.com/loqalabs/loqa-fwtypes/internal/eventstore"
	"github.com/loqalabs/loqa-fwtypes/internal/natsserver"
	"github.com/loqalabs/loqa-fwtypes/internal/profile"
	"github.com/loqalabs/loqa-fwtypes/internal/schema"
	"github.com/loqalabs/loqa-fwtypes/internal/stt"
)

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	nats          *natsserver.EmbeddedServer
	bus           *bus.Client
	journal       *eventstore.Store
	profiles      *profile.Set
	stt           *stt.Service
	ready         atomic.Bool
	wg            sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// LoadProfiles returns the profiles named by cfg, or the builtin presets
// when no file is configured. The default profile must exist.
func LoadProfiles(cfg config.STTConfig) (*profile.Set, error) {
	set := profile.Builtin()
	if cfg.ProfilesPath != "" {
		loaded, err := profile.Load(cfg.ProfilesPath)
		if err != nil {
			return nil, err
		}
		set = loaded
	}
	if _, ok := set.Get(cfg.DefaultProfile); !ok {
		return nil, fmt.Errorf("%w: default profile %q", profile.ErrUnknownProfile, cfg.DefaultProfile)
	}
	return set, nil
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = tel.shutdown

	if err := r.startServices(ctx); err != nil {
		r.stopServices()
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/profiles", r.handleProfiles)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	if tel.metrics != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", tel.metrics)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.serve(r.metricsServer, "metrics")
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr), slog.String("metrics", r.cfg.Telemetry.PrometheusBind))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()
	r.stopServices()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) startServices(ctx context.Context) error {
	ns, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return err
	}
	r.nats = ns

	busCfg := r.cfg.Bus
	if url := ns.ClientURL(); url != "" {
		busCfg.Servers = []string{url}
	}
	r.bus, err = bus.Connect(ctx, r.cfg.RuntimeName, busCfg, r.logger)
	if err != nil {
		return err
	}

	r.journal, err = eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	if err := r.journal.Ensure(ctx); err != nil {
		return fmt.Errorf("check journal: %w", err)
	}

	r.profiles, err = LoadProfiles(r.cfg.STT)
	if err != nil {
		return fmt.Errorf("load profiles: %w", err)
	}

	eng, err := engine.New(r.cfg.Engine)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	r.stt = stt.NewService(ctx, r.cfg.STT, r.bus, r.profiles, eng, r.journal, r.logger)
	if err := r.stt.Start(); err != nil {
		return fmt.Errorf("start stt service: %w", err)
	}
	return nil
}

func (r *Runtime) stopServices() {
	if r.stt != nil {
		r.stt.Close()
	}
	if r.journal != nil {
		if err := r.journal.Close(); err != nil {
			r.logger.Error("journal close error", slog.String("error", err.Error()))
		}
	}
	r.bus.Close()
	r.nats.Shutdown()
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error(name+" server failed", slog.String("error", err.Error()))
		}
	}()
}

// Healthy reports whether the bus connection and the service are up.
func (r *Runtime) Healthy() bool {
	return r.ready.Load() && r.bus.Healthy() && (r.stt == nil || r.stt.Healthy())
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

type profileView struct {
	Name    string         `json:"name"`
	Batched bool           `json:"batched"`
	Options map[string]any `json:"options"`
}

// handleProfiles lists the loaded profiles with their full option sets.
func (r *Runtime) handleProfiles(w http.ResponseWriter, _ *http.Request) {
	views := []profileView{}
	if r.profiles != nil {
		for _, name := range r.profiles.Names() {
			p, _ := r.profiles.Get(name)
			views = append(views, profileView{Name: name, Batched: p.Batched, Options: schema.JSONSafe(p.Request.ToMap())})
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(views); err != nil {
		r.logger.Warn("failed to encode profiles", slog.String("error", err.Error()))
	}
}
