package jobs

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"
)

// Job ids.
const (
	CatalogRefreshJob = "catalog-refresh"
	PluginRescanJob   = "plugin-rescan"
)

// RegisterDefaultJobs registers the plugin jobs with jm.
func RegisterDefaultJobs(jm *JobManager) {
	jm.Register(CatalogRefreshJob, "Refresh Plugin Catalog", RunCatalogRefresh)
	jm.Register(PluginRescanJob, "Rescan Installed Plugins", RunPluginRescan)
}

// RunCatalogRefresh replaces the fetched registry packages.
func RunCatalogRefresh(app JobContext) {
	pkgs := app.Plugins().FetchPluginPackages(context.Background())
	log.Printf("Catalog refresh found %d plugins", len(pkgs))
}

// RunPluginRescan reloads the plugins installed in the default profile.
func RunPluginRescan(app JobContext) {
	profile := app.Config().Plugins.DefaultProfile
	if _, err := app.Plugins().LoadInstalled(context.Background(), profile); err != nil {
		log.Printf("Plugin rescan of profile %s failed: %v", profile, err)
	}
}

// StartJobs starts the background job scheduler. The returned scheduler
// is stopped by the caller on shutdown.
func StartJobs(app JobContext) *gocron.Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	startCatalogRefreshJob(s, app)

	log.Println("Starting background job scheduler...")
	s.StartAsync()
	return s
}

func startCatalogRefreshJob(s *gocron.Scheduler, app JobContext) {
	interval := app.Config().Registry.RefreshInterval
	if interval == 0 {
		log.Println("Catalog refresh interval is 0, scheduled refresh is disabled.")
		return
	}

	log.Printf("Scheduling job: '%s' to run every %d minutes.", CatalogRefreshJob, interval)

	_, err := s.Every(interval).Minutes().Do(func() {
		log.Println("Scheduler is triggering job:", CatalogRefreshJob)
		// Submit through the manager so it cannot overlap a manual run.
		if err := app.JobManager().RunJob(CatalogRefreshJob, app); err != nil {
			log.Printf("Scheduled job '%s' could not start: %v", CatalogRefreshJob, err)
		}
	})
	if err != nil {
		log.Printf("Error scheduling '%s' job: %v", CatalogRefreshJob, err)
	}
}
