package core

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/vrsandeep/plugman/internal/catalog"
	"github.com/vrsandeep/plugman/internal/config"
	"github.com/vrsandeep/plugman/internal/db"
	"github.com/vrsandeep/plugman/internal/jobs"
	"github.com/vrsandeep/plugman/internal/loader"
	"github.com/vrsandeep/plugman/internal/manager"
	"github.com/vrsandeep/plugman/internal/metrics"
	"github.com/vrsandeep/plugman/internal/netutil"
	"github.com/vrsandeep/plugman/internal/pluginhost"
	"github.com/vrsandeep/plugman/internal/store"
	"github.com/vrsandeep/plugman/internal/websocket"
)

// Version is the application version reported by the API and CLI.
var Version = "dev"

// App holds the core components of the application that are shared
// between the server and the CLI.
type App struct {
	config     *config.Config
	db         *sql.DB
	store      *store.Store
	loader     *loader.LocalLoader
	registry   *pluginhost.Registry
	plugins    *manager.Manager
	wsHub      *websocket.Hub
	jobManager *jobs.JobManager
	metrics    *prometheus.Registry
}

// New sets up and returns a new App instance. It handles loading the
// configuration, initializing the database connection, and running migrations.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	database, err := db.InitDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := db.RunMigrations(database); err != nil {
		// We can't proceed without a valid database schema.
		database.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	app := NewApp(cfg, database, LogOpener{})
	log.Println("Core application setup complete.")
	return app, nil
}

// NewApp wires the plugin components over an open, migrated database.
// The websocket hub is started; the job scheduler is not.
func NewApp(cfg *config.Config, database *sql.DB, opener manager.Opener) *App {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)

	timeout := time.Duration(cfg.Registry.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := netutil.NewClient(cfg.Registry.RetryMax, timeout)

	hub := websocket.NewHub()
	go hub.Run()

	st := store.New(database)
	local := loader.NewLocal(cfg.Plugins.Path, loader.WithHTTPClient(netutil.NewClient(cfg.Registry.RetryMax, 10*time.Minute)))
	registry := pluginhost.NewRegistry(nil)

	var cat manager.Catalog
	if cfg.Registry.URL != "" {
		cat = catalog.NewClient(cfg.Registry.URL, client)
	}

	plugins := manager.New(local, registry, cat,
		manager.WithNotifier(hub),
		manager.WithOpener(opener),
		manager.WithLedger(st),
		manager.WithMetrics(m),
		manager.WithHTTPClient(client),
		manager.WithHostVersion(cfg.HostVersion),
		manager.WithDefaultBranch(cfg.GitHub.DefaultBranch),
		manager.WithSettleDelay(time.Duration(cfg.Plugins.SettleDelayMs)*time.Millisecond),
		manager.WithReportURLTemplate(cfg.Report.URLTemplate),
	)

	app := &App{
		config:   cfg,
		db:       database,
		store:    st,
		loader:   local,
		registry: registry,
		plugins:  plugins,
		wsHub:    hub,
		metrics:  reg,
	}
	app.jobManager = jobs.NewManager(app)
	jobs.RegisterDefaultJobs(app.jobManager)
	return app
}

func (a *App) Config() *config.Config { return a.config }

func (a *App) DB() *sql.DB { return a.db }

func (a *App) Store() *store.Store { return a.store }

func (a *App) Loader() *loader.LocalLoader { return a.loader }

func (a *App) Registry() *pluginhost.Registry { return a.registry }

func (a *App) Plugins() *manager.Manager { return a.plugins }

func (a *App) WsHub() *websocket.Hub { return a.wsHub }

func (a *App) JobManager() *jobs.JobManager { return a.jobManager }

// Metrics returns the registry holding the application's collectors.
func (a *App) Metrics() *prometheus.Registry { return a.metrics }

// Close gracefully closes the application's resources, like the DB connection.
func (a *App) Close() {
	if a.plugins != nil {
		a.plugins.Close()
	}
	if a.registry != nil {
		a.registry.Dispose()
	}
	if a.db != nil {
		a.db.Close()
	}
}

// LogOpener logs links instead of opening them, for headless servers.
type LogOpener struct{}

func (LogOpener) Open(url string) error {
	log.Printf("Open link: %s", url)
	return nil
}
