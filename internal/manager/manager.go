// Package manager is the facade over plugin discovery, the registry catalog,
// remote manifests and the download/install pipeline. All mutable state it
// keeps lives in ManagerState and is only touched through Manager methods.
package manager

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/vrsandeep/plugman/internal/catalog"
	"github.com/vrsandeep/plugman/internal/loader"
	"github.com/vrsandeep/plugman/internal/metrics"
	"github.com/vrsandeep/plugman/internal/models"
	"github.com/vrsandeep/plugman/internal/netutil"
	"github.com/vrsandeep/plugman/internal/pluginhost"
	"github.com/vrsandeep/plugman/internal/plugins"
)

// Runtime is the part of the plugin runtime registry the manager uses.
type Runtime interface {
	Push(inst *pluginhost.Instance)
	FindByID(id string) (*pluginhost.Instance, bool)
	RemoveByID(id string) bool
	All() []*pluginhost.Instance
	Configurations() []*plugins.Configuration
	IsEnabled(profileID, id string) bool
	IsRunning(id string) bool
}

// Catalog lists the plugins published in the registry.
type Catalog interface {
	FetchAll(ctx context.Context) ([]catalog.Entry, error)
}

// Notifier receives user-facing notifications and progress updates.
type Notifier interface {
	Notify(n models.Notification)
	PublishProgress(p models.ProgressUpdate)
}

// Opener opens an external link, usually in the user's browser.
type Opener interface {
	Open(url string) error
}

// InstallLedger records install outcomes.
type InstallLedger interface {
	RecordInstall(rec models.InstallRecord) (*models.InstallRecord, error)
	DeleteInstallHistory(pluginID, profileID string) error
}

// ManagerState is the mutable state owned by a Manager.
type ManagerState struct {
	fetchedPackages     []*plugins.Configuration
	adHocConfigurations []*plugins.Configuration
	// adHocSources maps an ad-hoc configuration's id to the URL it was
	// fetched from, which may name a monorepo subdirectory.
	adHocSources   map[string]string
	filters        string
	updateProgress map[string]UpdateProgress
	// updating holds the ids with an update in flight.
	updating map[string]bool

	// aggregated caches Aggregate(installed, remote); nil means stale.
	aggregated []*plugins.Configuration
	// generation is bumped on every invalidation so a result computed
	// from an older snapshot is not cached.
	generation uint64
}

// Manager composes the loader, runtime registry and catalog.
type Manager struct {
	mu     sync.Mutex
	state  ManagerState
	closed bool

	loader   loader.Loader
	runtime  Runtime
	catalog  Catalog
	client   *retryablehttp.Client
	notifier Notifier
	opener   Opener
	ledger   InstallLedger
	metrics  *metrics.Metrics

	hostVersion    string
	defaultBranch  string
	settleDelay    time.Duration
	reportTemplate string
}

// Option configures a Manager.
type Option func(*Manager)

func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

func WithOpener(o Opener) Option {
	return func(m *Manager) { m.opener = o }
}

func WithLedger(l InstallLedger) Option {
	return func(m *Manager) { m.ledger = l }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithHTTPClient sets the client used for remote manifest fetches.
func WithHTTPClient(c *retryablehttp.Client) Option {
	return func(m *Manager) { m.client = c }
}

// WithHostVersion sets the host version used for compatibility checks.
func WithHostVersion(v string) Option {
	return func(m *Manager) { m.hostVersion = v }
}

// WithDefaultBranch sets the branch assumed for repository URLs without one.
func WithDefaultBranch(b string) Option {
	return func(m *Manager) { m.defaultBranch = b }
}

// WithSettleDelay sets how long a finished update waits before it is
// reported as completed.
func WithSettleDelay(d time.Duration) Option {
	return func(m *Manager) { m.settleDelay = d }
}

// WithReportURLTemplate sets the report link template. "{id}" and
// "{version}" are substituted.
func WithReportURLTemplate(tmpl string) Option {
	return func(m *Manager) { m.reportTemplate = tmpl }
}

// DefaultSettleDelay is used when no settle delay is configured.
const DefaultSettleDelay = 500 * time.Millisecond

// New returns a manager. cat may be nil when no registry is configured.
func New(ld loader.Loader, runtime Runtime, cat Catalog, opts ...Option) *Manager {
	m := &Manager{
		loader:        ld,
		runtime:       runtime,
		catalog:       cat,
		hostVersion:   plugins.DefaultVersion,
		defaultBranch: plugins.DefaultBranch,
		settleDelay:   DefaultSettleDelay,
		state: ManagerState{
			adHocSources:   make(map[string]string),
			updateProgress: make(map[string]UpdateProgress),
			updating:       make(map[string]bool),
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.client == nil {
		m.client = netutil.NewClient(3, 30*time.Second)
	}
	if m.notifier == nil {
		m.notifier = logNotifier{}
	}
	if m.metrics == nil {
		m.metrics = metrics.New(nil)
	}
	return m
}

// logNotifier is used when no notifier is configured.
type logNotifier struct{}

func (logNotifier) Notify(n models.Notification) {
	log.Printf("[%s] %s: %s", n.Level, n.Title, n.Message)
}

func (logNotifier) PublishProgress(models.ProgressUpdate) {}

func (m *Manager) notifyError(title string, err error) {
	m.notifier.Notify(models.Notification{Level: "error", Title: title, Message: err.Error()})
}

func (m *Manager) notifySuccess(title, message string) {
	m.notifier.Notify(models.Notification{Level: "success", Title: title, Message: message})
}

// HostVersion returns the host version used for compatibility checks.
func (m *Manager) HostVersion() string {
	return m.hostVersion
}

// invalidateLocked marks the derived collections stale. m.mu must be held.
func (m *Manager) invalidateLocked() {
	m.state.aggregated = nil
	m.state.generation++
}

func (m *Manager) invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidateLocked()
}

// LoadInstalled pushes every plugin found in a profile into the runtime
// registry and drops instances whose directory has disappeared. It returns
// the number of plugins found.
func (m *Manager) LoadInstalled(ctx context.Context, profileID string) (int, error) {
	found, err := m.loader.Search(ctx, profileID)
	if err != nil {
		return 0, fmt.Errorf("failed to search plugins: %w", err)
	}

	for _, f := range found {
		cfg := plugins.NewConfiguration(f.Manifest, f.Dir)
		m.runtime.Push(&pluginhost.Instance{Config: cfg, Dir: f.Dir, SourcePath: f.SourcePath})
	}
	for _, inst := range m.runtime.All() {
		if _, err := os.Stat(inst.Dir); os.IsNotExist(err) {
			log.Printf("Plugin %s is gone from %s, unloading", inst.ID(), inst.Dir)
			m.runtime.RemoveByID(inst.ID())
		}
	}

	m.metrics.Installed.Set(float64(len(m.runtime.All())))
	m.invalidate()
	log.Printf("Loaded %d plugins for profile %s", len(found), profileID)
	return len(found), nil
}

// FetchPluginPackages replaces the fetched registry packages with the
// current catalog. A failed fetch leaves the list empty and notifies the
// user; it is never returned to the caller. Overlapping calls are not
// serialized: the last one to finish wins.
func (m *Manager) FetchPluginPackages(ctx context.Context) []*plugins.Configuration {
	var configs []*plugins.Configuration
	var err error
	if m.catalog == nil {
		err = fmt.Errorf("no plugin registry is configured")
	} else {
		var entries []catalog.Entry
		entries, err = m.catalog.FetchAll(ctx)
		for _, e := range entries {
			configs = append(configs, e.Configuration())
		}
	}
	m.metrics.CatalogFetches.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		log.Printf("Failed to fetch plugin packages: %v", err)
		m.notifyError("Failed to fetch plugins", err)
		configs = []*plugins.Configuration{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return configs
	}
	m.state.fetchedPackages = configs
	m.invalidateLocked()
	return configs
}

// manifestURL derives the raw package.json URL from a repository URL. A URL
// that already names a .json document is used as is.
func (m *Manager) manifestURL(rawURL string) (string, error) {
	if manifest, err := plugins.ResolveManifestURL(rawURL, m.defaultBranch); err == nil {
		return manifest, nil
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") && strings.HasSuffix(u.Path, ".json") {
		return u.String(), nil
	}
	return "", &plugins.ResolutionError{URL: rawURL, Reason: "unsupported repository url"}
}

// FetchLatestPackageConfiguration fetches and validates the manifest behind
// a repository URL, then records it as the newest ad-hoc configuration.
func (m *Manager) FetchLatestPackageConfiguration(ctx context.Context, rawURL string) (*plugins.Configuration, error) {
	cfg, err := m.fetchManifest(ctx, rawURL)
	m.metrics.ManifestFetches.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		log.Printf("Failed to fetch plugin manifest from %s: %v", rawURL, err)
		m.notifyError("Failed to fetch plugin", err)
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return cfg, nil
	}
	kept := make([]*plugins.Configuration, 0, len(m.state.adHocConfigurations)+1)
	kept = append(kept, cfg)
	for _, c := range m.state.adHocConfigurations {
		if c.ID() != cfg.ID() {
			kept = append(kept, c)
		}
	}
	m.state.adHocConfigurations = kept
	if _, ok := plugins.ParseRepositoryURL(rawURL); ok {
		m.state.adHocSources[cfg.ID()] = strings.TrimSpace(rawURL)
	}
	m.invalidateLocked()
	return cfg, nil
}

func (m *Manager) fetchManifest(ctx context.Context, rawURL string) (*plugins.Configuration, error) {
	manifestURL, err := m.manifestURL(rawURL)
	if err != nil {
		return nil, err
	}
	data, err := netutil.GetBytes(ctx, m.client, manifestURL)
	if err != nil {
		return nil, err
	}
	cfg, err := plugins.ParseConfiguration(data, "")
	if err != nil {
		return nil, &plugins.ValidationError{Message: err.Error(), Cause: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DownloadPlugin downloads an archive and returns its local path. Progress
// is published to the notifier.
func (m *Manager) DownloadPlugin(ctx context.Context, name, archiveURL string) (string, error) {
	progress, stop := m.progressStream(name)
	defer stop()
	return m.loader.Download(ctx, loader.DownloadRequest{Name: name, URL: archiveURL}, progress)
}

// InstallPlugin installs a downloaded archive, reloads its configuration
// from the installed directory and replaces the runtime instance. Enabled
// state is left as it was.
func (m *Manager) InstallPlugin(ctx context.Context, req loader.InstallRequest) (*plugins.Configuration, error) {
	dir, err := m.loader.Install(ctx, req)
	if err != nil {
		return nil, err
	}
	found, err := m.loader.Find(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read installed plugin: %w", err)
	}
	cfg := plugins.NewConfiguration(found.Manifest, found.Dir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ID() != req.Name {
		return nil, &plugins.ValidationError{
			Field:   "name",
			Message: fmt.Sprintf("installed plugin %q does not match requested %q", cfg.ID(), req.Name),
		}
	}

	m.runtime.Push(&pluginhost.Instance{Config: cfg, Dir: found.Dir, SourcePath: found.SourcePath})
	m.metrics.Installed.Set(float64(len(m.runtime.All())))
	m.invalidate()
	return cfg, nil
}

// DeletePlugin removes an installed plugin's directory. The runtime
// instance is only dropped, and success only reported, once the directory
// is gone.
func (m *Manager) DeletePlugin(ctx context.Context, id, profileID string) error {
	inst, ok := m.runtime.FindByID(id)
	if !ok {
		return fmt.Errorf("plugin %s is not installed", id)
	}

	if err := m.loader.Remove(ctx, inst.Dir); err != nil {
		m.metrics.Removals.WithLabelValues(metrics.ResultFailure).Inc()
		rerr := &plugins.RemovalError{PluginID: id, Dir: inst.Dir, Cause: err}
		log.Printf("Failed to delete plugin %s: %v", id, err)
		m.notifyError("Failed to remove plugin", rerr)
		return rerr
	}

	m.runtime.RemoveByID(id)
	if m.ledger != nil {
		if err := m.ledger.DeleteInstallHistory(id, profileID); err != nil {
			log.Printf("Warning: failed to delete install history of %s: %v", id, err)
		}
	}
	m.metrics.Removals.WithLabelValues(metrics.ResultSuccess).Inc()
	m.metrics.Installed.Set(float64(len(m.runtime.All())))
	m.invalidate()
	m.notifySuccess("Plugin removed", fmt.Sprintf("%s was removed successfully", inst.Config.Title()))
	return nil
}

// FilterBy sets the free-text query applied by Packages.
func (m *Manager) FilterBy(query string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.filters = query
}

func (m *Manager) ResetFilters() {
	m.FilterBy("")
}

func (m *Manager) Filters() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.filters
}

// remoteLocked returns ad-hoc configurations, newest first, followed by
// the fetched registry packages. m.mu must be held.
func (m *Manager) remoteLocked() []*plugins.Configuration {
	out := make([]*plugins.Configuration, 0, len(m.state.adHocConfigurations)+len(m.state.fetchedPackages))
	out = append(out, m.state.adHocConfigurations...)
	return append(out, m.state.fetchedPackages...)
}

// All returns installed and remote configurations, deduplicated by id with
// installed ones taking precedence, sorted by id.
func (m *Manager) All() []*plugins.Configuration {
	m.mu.Lock()
	if m.state.aggregated != nil {
		defer m.mu.Unlock()
		return m.state.aggregated
	}
	gen := m.state.generation
	m.mu.Unlock()

	installed := m.runtime.Configurations()

	m.mu.Lock()
	defer m.mu.Unlock()
	all := plugins.Aggregate(installed, m.remoteLocked())
	if m.state.generation == gen {
		m.state.aggregated = all
	}
	return all
}

// Packages returns All filtered by the current query.
func (m *Manager) Packages() []*plugins.Configuration {
	return plugins.FilterByQuery(m.All(), m.Filters())
}

// List maps Packages to plugin data for a profile.
func (m *Manager) List(profileID string) []plugins.PluginData {
	pkgs := m.Packages()
	out := make([]plugins.PluginData, len(pkgs))
	for i, cfg := range pkgs {
		out[i] = m.MapConfigToPluginData(profileID, cfg)
	}
	return out
}

// Find returns the aggregated configuration of a plugin.
func (m *Manager) Find(id string) (*plugins.Configuration, bool) {
	cfg := plugins.FindByID(m.All(), id)
	return cfg, cfg != nil
}

func (m *Manager) findRemote(id string) *plugins.Configuration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return plugins.FindByID(m.remoteLocked(), id)
}

// Remote returns the newest known remote configuration of a plugin, from
// an ad-hoc manifest or the registry catalog.
func (m *Manager) Remote(id string) (*plugins.Configuration, bool) {
	cfg := m.findRemote(id)
	return cfg, cfg != nil
}

// CheckUpdateStatus compares the installed configuration of a plugin with
// the newest known remote one.
func (m *Manager) CheckUpdateStatus(id string) plugins.UpdateStatus {
	inst, ok := m.runtime.FindByID(id)
	if !ok {
		return plugins.UpdateStatus{}
	}
	return plugins.CheckUpdateStatus(inst.Config, m.findRemote(id), m.hostVersion)
}

// MapConfigToPluginData joins a configuration with its installed, enabled
// and launchable state in a profile.
func (m *Manager) MapConfigToPluginData(profileID string, cfg *plugins.Configuration) plugins.PluginData {
	data := cfg.ToSerializable()
	inst, ok := m.runtime.FindByID(cfg.ID())
	if !ok {
		return data
	}
	data.Installed = true
	data.Dir = inst.Dir
	data.Enabled = m.runtime.IsEnabled(profileID, cfg.ID())
	data.Launchable = data.Enabled && inst.Config.IsCompatible(m.hostVersion)
	data.Running = m.runtime.IsRunning(cfg.ID())
	if status := m.CheckUpdateStatus(cfg.ID()); status.IsAvailable != nil {
		data.Update = &status
	}
	return data
}

// ReportURL returns the link used to report a plugin. A report URL in the
// manifest takes precedence over the configured template.
func (m *Manager) ReportURL(id string) (string, error) {
	cfg, ok := m.Find(id)
	if !ok {
		return "", fmt.Errorf("plugin %s not found", id)
	}
	if link := cfg.Vendor().URLs.Report; link != "" {
		return link, nil
	}
	if m.reportTemplate == "" {
		return "", fmt.Errorf("no report url is configured")
	}
	r := strings.NewReplacer("{id}", url.QueryEscape(cfg.ID()), "{version}", url.QueryEscape(cfg.Version()))
	return r.Replace(m.reportTemplate), nil
}

// OpenReport opens the report link of a plugin.
func (m *Manager) OpenReport(id string) error {
	link, err := m.ReportURL(id)
	if err != nil {
		return err
	}
	if m.opener == nil {
		return fmt.Errorf("no opener is configured")
	}
	return m.opener.Open(link)
}

// Close stops the manager from accepting late state writes from operations
// still in flight.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}
