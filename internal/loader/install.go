package loader

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/mholt/archives"

	"github.com/vrsandeep/plugman/internal/plugins"
	"github.com/vrsandeep/plugman/internal/util"
)

// Install extracts req.SavedPath into a staging directory, picks the plugin
// root inside it and moves that into place, replacing any previous install.
// The staged manifest must be valid and named req.Name; otherwise the
// previous install is left untouched.
func (l *LocalLoader) Install(ctx context.Context, req InstallRequest) (string, error) {
	name := util.PluginDirName(req.Name)
	if name == "" {
		return "", fmt.Errorf("invalid plugin name %q", req.Name)
	}
	subdir, err := util.CleanSubpath(req.SubDirectory)
	if err != nil {
		return "", err
	}

	profileDir := l.ProfileDir(req.ProfileID)
	if err := util.EnsureWritableDir(profileDir); err != nil {
		return "", fmt.Errorf("profile directory is not usable: %w", err)
	}
	staging, err := os.MkdirTemp(profileDir, ".install-")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := extractArchive(ctx, req.SavedPath, staging); err != nil {
		return "", err
	}

	source, err := archiveRoot(staging)
	if err != nil {
		return "", err
	}
	if subdir != "" {
		source = filepath.Join(source, filepath.FromSlash(subdir))
		info, err := os.Stat(source)
		if err != nil || !info.IsDir() {
			return "", fmt.Errorf("subdirectory %q not found in archive", subdir)
		}
	}
	if _, err := os.Stat(filepath.Join(source, ManifestFile)); err != nil {
		return "", fmt.Errorf("archive has no %s at its plugin root", ManifestFile)
	}
	if err := l.checkStaged(ctx, source, req.Name); err != nil {
		return "", err
	}

	// The backup sits beside the staging directory, never inside the source.
	target := filepath.Join(profileDir, name)
	backup := staging + ".previous"
	defer os.RemoveAll(backup)
	if err := swapInto(source, target, backup); err != nil {
		return "", err
	}

	if err := os.Remove(req.SavedPath); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: could not remove downloaded archive %s: %v", req.SavedPath, err)
	}
	return target, nil
}

// checkStaged validates the manifest at dir and requires it to name the
// plugin being installed.
func (l *LocalLoader) checkStaged(ctx context.Context, dir, name string) error {
	found, err := l.Find(ctx, dir)
	if err != nil {
		return &plugins.ValidationError{Field: "name", Message: err.Error(), Cause: err}
	}
	cfg := plugins.NewConfiguration(found.Manifest, dir)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.ID() != name {
		return &plugins.ValidationError{
			Field:   "name",
			Message: fmt.Sprintf("archive contains plugin %q, expected %q", cfg.ID(), name),
		}
	}
	return nil
}

// swapInto moves source to target. An existing target is parked at backup
// first and put back when the move fails.
func swapInto(source, target, backup string) error {
	hadPrevious := false
	if _, err := os.Stat(target); err == nil {
		if err := os.Rename(target, backup); err != nil {
			return fmt.Errorf("failed to move existing plugin aside: %w", err)
		}
		hadPrevious = true
	}
	if err := os.Rename(source, target); err != nil {
		if hadPrevious {
			if rerr := os.Rename(backup, target); rerr != nil {
				log.Printf("Warning: could not restore previous plugin at %s: %v", target, rerr)
			}
		}
		return fmt.Errorf("failed to move plugin into place: %w", err)
	}
	return nil
}

// archiveRoot descends into the single top-level folder that repository
// archives wrap their contents in, unless a manifest already sits at the top.
func archiveRoot(dir string) (string, error) {
	if _, err := os.Stat(filepath.Join(dir, ManifestFile)); err == nil {
		return dir, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dir, entries[0].Name()), nil
	}
	return dir, nil
}

func extractArchive(ctx context.Context, archivePath, dest string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	format, _, err := archives.Identify(ctx, filepath.Base(archivePath), file)
	if err != nil {
		return fmt.Errorf("failed to identify archive format: %w", err)
	}
	extractor, ok := format.(archives.Extractor)
	if !ok {
		return fmt.Errorf("archive format %s cannot be extracted", format.Extension())
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	return extractor.Extract(ctx, file, func(ctx context.Context, f archives.FileInfo) error {
		name, err := util.CleanSubpath(f.NameInArchive)
		if err != nil {
			return fmt.Errorf("unsafe archive entry: %w", err)
		}
		if name == "" {
			return nil
		}
		target := filepath.Join(dest, filepath.FromSlash(name))
		if !util.WithinDir(dest, target) {
			return fmt.Errorf("unsafe archive entry %q", f.NameInArchive)
		}

		if f.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		// Links and special files are not part of a plugin.
		if f.LinkTarget != "" || !f.Mode().IsRegular() {
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		return writeEntry(f, target)
	})
}

func writeEntry(f archives.FileInfo, target string) error {
	in, err := f.Open()
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
