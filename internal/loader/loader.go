// Package loader finds, downloads, installs and removes plugin directories
// on the local filesystem. Plugins live under <root>/<profile>/<plugin>,
// each with a package.json manifest at its top level.
package loader

import (
	"context"
)

// ManifestFile is the manifest every plugin directory carries.
const ManifestFile = "package.json"

// Found is a plugin directory discovered on disk.
type Found struct {
	Manifest   map[string]any `json:"manifest"`
	Dir        string         `json:"dir"`
	SourcePath string         `json:"sourcePath"`
}

// Progress reports the state of one download. Percent is in [0, 100].
type Progress struct {
	Name             string  `json:"name"`
	Percent          float64 `json:"percent"`
	TotalBytes       int64   `json:"totalBytes"`
	TransferredBytes int64   `json:"transferredBytes"`
}

type DownloadRequest struct {
	Name string
	URL  string
}

// InstallRequest installs the archive at SavedPath into a profile. When
// SubDirectory is set only that directory of the archive is installed.
type InstallRequest struct {
	Name         string
	ProfileID    string
	SavedPath    string
	SubDirectory string
}

// Loader is the filesystem side of plugin management.
type Loader interface {
	Search(ctx context.Context, profileID string) ([]Found, error)
	Find(ctx context.Context, dir string) (*Found, error)
	Remove(ctx context.Context, dir string) error
	// Download saves the artifact at req.URL and returns its local path.
	// Progress events are sent on progress, which may be nil; the caller
	// owns the channel.
	Download(ctx context.Context, req DownloadRequest, progress chan<- Progress) (string, error)
	// Install extracts a downloaded archive and returns the plugin directory.
	Install(ctx context.Context, req InstallRequest) (string, error)
}
