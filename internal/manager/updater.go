package manager

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/vrsandeep/plugman/internal/loader"
	"github.com/vrsandeep/plugman/internal/metrics"
	"github.com/vrsandeep/plugman/internal/models"
	"github.com/vrsandeep/plugman/internal/plugins"
)

// UpdateState is the stage an update has reached.
type UpdateState string

const (
	StateIdle        UpdateState = "idle"
	StateDownloading UpdateState = "downloading"
	StateInstalling  UpdateState = "installing"
	StateCompleted   UpdateState = "completed"
	StateFailed      UpdateState = "failed"
)

var (
	// ErrUpdateInProgress is returned when an update of the same plugin
	// has not finished yet.
	ErrUpdateInProgress = errors.New("update already in progress")
	ErrClosed           = errors.New("manager is closed")
)

// progressJobID tags progress broadcasts of the update pipeline.
const progressJobID = "plugin-update"

// UpdateProgress is the state of the latest update of one plugin.
type UpdateProgress struct {
	plugins.PluginData
	State            UpdateState `json:"state"`
	Percent          float64     `json:"percent"`
	TotalBytes       int64       `json:"totalBytes"`
	TransferredBytes int64       `json:"transferredBytes"`
	Completed        bool        `json:"completed"`
	Failed           bool        `json:"failed"`
	Error            string      `json:"error,omitempty"`
}

func (p UpdateProgress) message() string {
	switch p.State {
	case StateDownloading:
		return fmt.Sprintf("Downloading %s", p.Title)
	case StateInstalling:
		return fmt.Sprintf("Installing %s", p.Title)
	case StateCompleted:
		return fmt.Sprintf("%s %s installed", p.Title, p.Version)
	case StateFailed:
		return p.Error
	}
	return ""
}

// UpdateProgress returns the latest update state of a plugin.
func (m *Manager) UpdateProgress(id string) (UpdateProgress, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.updateProgress[id]
	return p, ok
}

// AllUpdateProgress returns a copy of every tracked update.
func (m *Manager) AllUpdateProgress() map[string]UpdateProgress {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]UpdateProgress, len(m.state.updateProgress))
	for id, p := range m.state.updateProgress {
		out[id] = p
	}
	return out
}

// setProgress applies fn to the progress entry of id and publishes the
// result. Writes after Close are dropped.
func (m *Manager) setProgress(id string, fn func(p *UpdateProgress)) {
	m.applyProgress(id, fn, false)
}

// finishProgress writes the terminal state of an update and releases its
// reservation in the same critical section, so a caller that observes the
// terminal state can start the next update.
func (m *Manager) finishProgress(id string, fn func(p *UpdateProgress)) {
	m.applyProgress(id, fn, true)
}

func (m *Manager) applyProgress(id string, fn func(p *UpdateProgress), release bool) {
	m.mu.Lock()
	if release {
		delete(m.state.updating, id)
	}
	if m.closed {
		m.mu.Unlock()
		return
	}
	p := m.state.updateProgress[id]
	fn(&p)
	m.state.updateProgress[id] = p
	m.mu.Unlock()
	m.publishProgress(id, p)
}

func (m *Manager) publishProgress(id string, p UpdateProgress) {
	m.notifier.PublishProgress(models.ProgressUpdate{
		JobID:    progressJobID,
		ItemID:   id,
		Message:  p.message(),
		Progress: p.Percent,
		Status:   string(p.State),
		Done:     p.Completed || p.Failed,
	})
}

// progressStream returns a channel for the download progress of name and
// a stop function that closes it and waits for the consumer to drain it.
// stop may be called more than once. Events for other names are ignored.
func (m *Manager) progressStream(name string) (chan<- loader.Progress, func()) {
	events := make(chan loader.Progress, 16)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for ev := range events {
			if ev.Name != name {
				continue
			}
			m.mu.Lock()
			_, tracked := m.state.updateProgress[name]
			m.mu.Unlock()
			if !tracked {
				m.notifier.PublishProgress(models.ProgressUpdate{
					JobID:    progressJobID,
					ItemID:   name,
					Progress: ev.Percent,
					Status:   string(StateDownloading),
				})
				continue
			}
			m.setProgress(name, func(p *UpdateProgress) {
				p.Percent = ev.Percent
				p.TotalBytes = ev.TotalBytes
				p.TransferredBytes = ev.TransferredBytes
			})
		}
	}()

	var once sync.Once
	return events, func() {
		once.Do(func() {
			close(events)
			<-done
		})
	}
}

// resolveDownload picks the archive to download for data: its explicit
// archive URL, else the archive of a known remote package, else an archive
// derived from a repository URL. The returned subpath names the archive
// directory to install for monorepo plugins.
func (m *Manager) resolveDownload(data plugins.PluginData) (archiveURL, subpath string, err error) {
	if data.ArchiveURL != "" {
		return data.ArchiveURL, "", nil
	}

	remote := m.findRemote(data.ID)
	if remote != nil && remote.ArchiveURL() != "" {
		return remote.ArchiveURL(), "", nil
	}

	m.mu.Lock()
	source := m.state.adHocSources[data.ID]
	m.mu.Unlock()
	candidates := []string{source, data.RepositoryURL}
	if remote != nil {
		candidates = append(candidates, remote.RepositoryURL())
	}
	for _, repo := range candidates {
		if repo != "" {
			return plugins.ResolveArchive(repo, m.defaultBranch)
		}
	}
	return "", "", &plugins.ResolutionError{Reason: fmt.Sprintf("no download location known for plugin %s", data.ID)}
}

// beginUpdate reserves data.ID for one update and resets its progress to
// downloading. The check and the reservation happen under one lock.
func (m *Manager) beginUpdate(data plugins.PluginData) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state.updating[data.ID] {
		m.mu.Unlock()
		return ErrUpdateInProgress
	}
	m.state.updating[data.ID] = true
	p := UpdateProgress{PluginData: data, State: StateDownloading}
	m.state.updateProgress[data.ID] = p
	m.mu.Unlock()
	m.publishProgress(data.ID, p)
	return nil
}

// UpdatePlugin downloads and installs the latest version of a plugin into
// a profile. Progress is tracked under the plugin id. On failure the
// previous installation stays authoritative and a *plugins.PipelineError
// is returned. A second update of the same plugin fails with stage
// "start" and ErrUpdateInProgress while the first is running.
func (m *Manager) UpdatePlugin(ctx context.Context, data plugins.PluginData, profileID string) error {
	if err := m.beginUpdate(data); err != nil {
		return &plugins.PipelineError{PluginID: data.ID, Stage: "start", Cause: err}
	}
	return m.runUpdate(ctx, data, profileID)
}

// StartUpdate reserves the plugin and runs UpdatePlugin in the background.
// The reservation error is returned synchronously.
func (m *Manager) StartUpdate(ctx context.Context, data plugins.PluginData, profileID string) error {
	if err := m.beginUpdate(data); err != nil {
		return &plugins.PipelineError{PluginID: data.ID, Stage: "start", Cause: err}
	}
	go func() {
		_ = m.runUpdate(ctx, data, profileID)
	}()
	return nil
}

// runUpdate runs the pipeline of a reserved update. Every return path
// ends in finishProgress, which releases the reservation.
func (m *Manager) runUpdate(ctx context.Context, data plugins.PluginData, profileID string) (err error) {
	id := data.ID
	start := time.Now()

	progress, stop := m.progressStream(id)
	defer stop()

	var stage string
	defer func() {
		m.metrics.Updates.WithLabelValues(metrics.Result(err)).Inc()
		m.metrics.UpdateDuration.Observe(time.Since(start).Seconds())
		if err == nil {
			return
		}
		err = &plugins.PipelineError{PluginID: id, Stage: stage, Cause: err}
		log.Printf("Plugin update failed: %v", err)
		m.finishProgress(id, func(p *UpdateProgress) {
			p.State = StateFailed
			p.Failed = true
			p.Completed = false
			p.Error = err.Error()
		})
		m.record(models.InstallRecord{
			PluginID:  id,
			ProfileID: profileID,
			Version:   data.Version,
			Status:    models.InstallFailed,
			Message:   err.Error(),
		})
		m.notifyError(fmt.Sprintf("Failed to install %s", data.Title), err)
	}()

	stage = "resolve"
	archiveURL, subpath, err := m.resolveDownload(data)
	if err != nil {
		return err
	}

	stage = "download"
	saved, err := m.loader.Download(ctx, loader.DownloadRequest{Name: id, URL: archiveURL}, progress)
	// The loader is done sending; drain so late events cannot overwrite
	// the install state.
	stop()
	if err != nil {
		return err
	}
	defer os.Remove(saved)
	if info, statErr := os.Stat(saved); statErr == nil {
		m.metrics.DownloadedBytes.Add(float64(info.Size()))
	}

	stage = "install"
	m.setProgress(id, func(p *UpdateProgress) {
		p.State = StateInstalling
		p.Percent = 100
	})
	cfg, err := m.InstallPlugin(ctx, loader.InstallRequest{
		Name:         id,
		ProfileID:    profileID,
		SavedPath:    saved,
		SubDirectory: subpath,
	})
	if err != nil {
		return err
	}

	source := archiveURL
	if data.RepositoryURL != "" {
		source = data.RepositoryURL
	}
	m.record(models.InstallRecord{
		PluginID:  id,
		ProfileID: profileID,
		Version:   cfg.Version(),
		SourceURL: source,
		Dir:       cfg.Dir(),
		Status:    models.InstallCompleted,
	})

	stage = "settle"
	if m.settleDelay > 0 {
		t := time.NewTimer(m.settleDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
	}

	installed := cfg.ToSerializable()
	m.finishProgress(id, func(p *UpdateProgress) {
		p.PluginData = installed
		p.State = StateCompleted
		p.Completed = true
		p.Failed = false
		p.Error = ""
	})
	log.Printf("Plugin %s updated to %s", id, cfg.Version())
	m.notifySuccess("Plugin installed", fmt.Sprintf("%s %s was installed successfully", cfg.Title(), cfg.Version()))
	return nil
}

func (m *Manager) record(rec models.InstallRecord) {
	if m.ledger == nil {
		return
	}
	if _, err := m.ledger.RecordInstall(rec); err != nil {
		log.Printf("Warning: failed to record install of %s: %v", rec.PluginID, err)
	}
}
