package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vrsandeep/plugman/internal/api"
	"github.com/vrsandeep/plugman/internal/core"
	"github.com/vrsandeep/plugman/internal/jobs"
	"github.com/vrsandeep/plugman/internal/watcher"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize the core application components
	app, err := core.New()
	if err != nil {
		log.Fatalf("Fatal error during application setup: %v", err)
	}
	defer app.Close()

	// Load the plugins already installed in the default profile
	profile := app.Config().Plugins.DefaultProfile
	if _, err := app.Plugins().LoadInstalled(context.Background(), profile); err != nil {
		log.Printf("Warning: failed to load plugins: %v", err)
	}

	// Refresh the registry catalog in the background
	scheduler := jobs.StartJobs(app)
	defer scheduler.Stop()

	// Pick up plugins added or removed on disk
	pluginWatcher := watcher.NewWatcherService(app, profile, app.Loader().ProfileDir(profile))
	if err := pluginWatcher.Start(); err != nil {
		log.Printf("Warning: failed to start plugin watcher: %v", err)
	} else {
		defer pluginWatcher.Stop()
	}

	// Setup the API server
	server := api.NewServer(app)
	addr := fmt.Sprintf(":%d", app.Config().Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Router(),
	}
	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		log.Printf("Starting web server on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not start server: %v", err)
		}
	}()

	// Wait for an interrupt signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Create a context with a timeout to allow existing connections to finish.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Attempt a graceful shutdown.
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting.")
}
