package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/errgroup"

	"github.com/vrsandeep/plugman/internal/netutil"
	"github.com/vrsandeep/plugman/internal/plugins"
	"github.com/vrsandeep/plugman/internal/util"
)

// searchConcurrency bounds the manifests read in parallel by Search.
const searchConcurrency = 8

// LocalLoader implements Loader on the local filesystem.
type LocalLoader struct {
	root        string
	downloadDir string
	client      *retryablehttp.Client
}

// Option configures a LocalLoader.
type Option func(*LocalLoader)

// WithHTTPClient sets the client used by Download.
func WithHTTPClient(client *retryablehttp.Client) Option {
	return func(l *LocalLoader) {
		l.client = client
	}
}

// WithDownloadDir sets where downloaded archives are saved. It defaults to
// the system temp directory.
func WithDownloadDir(dir string) Option {
	return func(l *LocalLoader) {
		l.downloadDir = dir
	}
}

// NewLocal returns a loader rooted at root.
func NewLocal(root string, opts ...Option) *LocalLoader {
	l := &LocalLoader{
		root:        root,
		downloadDir: os.TempDir(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.client == nil {
		l.client = netutil.NewClient(3, 5*time.Minute)
	}
	return l
}

// Root returns the directory holding all profiles.
func (l *LocalLoader) Root() string {
	return l.root
}

// ProfileDir returns the directory holding the plugins of a profile.
func (l *LocalLoader) ProfileDir(profileID string) string {
	return filepath.Join(l.root, util.SanitizeFolderName(profileID))
}

// Search lists every plugin directory of a profile. Directories without a
// readable manifest are skipped. A missing profile directory yields no
// plugins.
func (l *LocalLoader) Search(ctx context.Context, profileID string) ([]Found, error) {
	profileDir := l.ProfileDir(profileID)
	entries, err := os.ReadDir(profileDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read profile directory %s: %w", profileDir, err)
	}

	var dirs []string
	for _, entry := range entries {
		// Staging directories start with a dot.
		if entry.IsDir() && entry.Name()[0] != '.' {
			dirs = append(dirs, filepath.Join(profileDir, entry.Name()))
		}
	}
	sort.Strings(dirs)

	results := make([]*Found, len(dirs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(searchConcurrency)
	for i, dir := range dirs {
		g.Go(func() error {
			found, err := l.Find(gctx, dir)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Printf("Skipping plugin directory %s: %v", dir, err)
				return nil
			}
			results[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Found, 0, len(results))
	for _, found := range results {
		if found != nil {
			out = append(out, *found)
		}
	}
	return out, nil
}

// Find reads the plugin at dir.
func (l *LocalLoader) Find(ctx context.Context, dir string) (*Found, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(abs, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ManifestFile, err)
	}
	var manifest map[string]any
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", ManifestFile, err)
	}
	if manifest == nil {
		return nil, fmt.Errorf("%s is not an object", ManifestFile)
	}

	entry := plugins.NewConfiguration(manifest, "").EntryPoint()
	return &Found{
		Manifest:   manifest,
		Dir:        abs,
		SourcePath: filepath.Join(abs, filepath.FromSlash(entry)),
	}, nil
}

// Remove deletes a plugin directory. Only directories strictly inside the
// loader root can be removed.
func (l *LocalLoader) Remove(ctx context.Context, dir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	root, err := filepath.Abs(l.root)
	if err != nil {
		return err
	}
	target, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if target == root || !util.WithinDir(root, target) {
		return fmt.Errorf("refusing to remove %s: outside of plugin root %s", target, root)
	}
	if _, err := os.Stat(target); err != nil {
		return fmt.Errorf("failed to stat plugin directory: %w", err)
	}
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("failed to remove plugin directory: %w", err)
	}
	log.Printf("Removed plugin directory %s", target)
	return nil
}
