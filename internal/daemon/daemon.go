package daemon

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/sengac/mindstrike-sub006/internal/api"
	"github.com/sengac/mindstrike-sub006/internal/catalog"
	"github.com/sengac/mindstrike-sub006/internal/health"
	_ "github.com/sengac/mindstrike-sub006/internal/metrics" // register Prometheus metrics
	"github.com/sengac/mindstrike-sub006/internal/proxy"
	"github.com/sengac/mindstrike-sub006/internal/settings"
	"github.com/sengac/mindstrike-sub006/internal/store"
	"github.com/sengac/mindstrike-sub006/internal/tools"
)

// Daemon is the controller runtime. It owns the database, the worker
// proxy, and the HTTP server, and supervises the worker's lifecycle
// through the proxy.
type Daemon struct {
	Config    Config
	DB        *store.DB
	Proxy     *proxy.Proxy
	Settings  *settings.Service
	Downloads *catalog.Downloader
	Tools     *tools.Registry
	Server    *api.Server
	Health    *health.Checker

	cancel context.CancelFunc
}

// New creates a daemon from the on-disk configuration.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a daemon with all services wired. The worker is
// spawned by re-executing the current binary with the worker subcommand;
// cfg.Worker.Exe overrides the executable for tests.
func NewWithConfig(cfg Config) (*Daemon, error) {
	db, err := store.Open(Home())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	modelsDir := cfg.Models.Dir
	if modelsDir == "" {
		cfg.Models.Dir = DefaultConfig().Models.Dir
		modelsDir = cfg.Models.Dir
	}
	source, err := catalog.NewSource(modelsDir)
	if err != nil {
		db.Close()
		return nil, err
	}
	seedCatalog(db, source)

	if id, err := db.GetDaemonInfo("install_id"); err == nil && id == "" {
		if err := db.SetDaemonInfo("install_id", uuid.NewString()); err != nil {
			log.Printf("[daemon] persist install id: %v", err)
		}
	}

	exe := cfg.Worker.Exe
	if exe == "" {
		exe, err = os.Executable()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("locate executable: %w", err)
		}
	}

	toolReg := tools.NewRegistry()
	px := proxy.New(&proxy.SubprocessTransport{
		Exe:    exe,
		Args:   []string{"worker", "--models-dir", modelsDir},
		Stderr: os.Stderr,
	}, toolReg)

	d := &Daemon{
		Config:    cfg,
		DB:        db,
		Proxy:     px,
		Settings:  settings.New(db, px),
		Downloads: catalog.NewDownloader(modelsDir),
		Tools:     toolReg,
	}

	d.Health = health.NewChecker(db, modelsDir, px)
	d.Server = api.NewServer(px, d.Settings, d.Downloads, d.Health, db)
	if cfg.API.Metrics {
		d.Server.EnableMetrics()
	}

	px.Subscribe(func(err error) {
		log.Printf("[daemon] worker event: %v", err)
	})

	return d, nil
}

// seedCatalog mirrors the models already on disk into the database so the
// catalog is populated before the first API request arrives.
func seedCatalog(db *store.DB, source *catalog.Source) {
	models, err := source.LocalModels()
	if err != nil {
		log.Printf("[daemon] catalog scan: %v", err)
		return
	}
	for _, m := range models {
		if err := db.UpsertModel(m); err != nil {
			log.Printf("[daemon] catalog upsert %s: %v", m.ID, err)
		}
	}
}

// Serve starts the worker and the HTTP server, blocking until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.Proxy.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	initCtx, initCancel := context.WithTimeout(ctx, 60*time.Second)
	defer initCancel()
	if err := d.Proxy.WaitForInitialization(initCtx); err != nil {
		d.Proxy.Terminate()
		return fmt.Errorf("worker init: %w", err)
	}

	go d.Health.Run(ctx)

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	if err := d.DB.SetDaemonInfo("api_addr", addr); err != nil {
		log.Printf("[daemon] persist api address: %v", err)
	}
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // long for streaming
		IdleTimeout:  2 * time.Minute,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		d.Proxy.Terminate()
		_ = httpServer.Shutdown(shutdownCtx)
		_ = d.DB.Close()
	}()

	fmt.Printf("mindstrike serving on http://%s\n", addr)
	if d.Config.API.Metrics {
		fmt.Printf("  metrics: http://%s/metrics\n", addr)
	}

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.Proxy != nil {
		d.Proxy.Terminate()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}
