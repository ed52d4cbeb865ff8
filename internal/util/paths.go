package util

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	controlChars  = regexp.MustCompile(`[\x00-\x1f\x7f]`)
	reservedChars = regexp.MustCompile(`[\\/:*?"<>|]`)
	dashRuns      = regexp.MustCompile(`-+`)
)

// Reserved device names on Windows (CON, PRN, AUX, NUL, COM1-9, LPT1-9).
var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// SanitizeFolderName removes characters that cannot be used in folder or
// file names on Windows, macOS and Linux. Use it for a single component.
func SanitizeFolderName(folderName string) string {
	if folderName == "" {
		return ""
	}

	safeName := controlChars.ReplaceAllString(folderName, "")
	safeName = reservedChars.ReplaceAllString(safeName, "-")
	// Windows rejects leading/trailing spaces and dots.
	safeName = strings.Trim(safeName, " .")
	safeName = dashRuns.ReplaceAllString(safeName, "-")
	safeName = strings.Trim(safeName, "-")

	if reservedNames[strings.ToUpper(safeName)] {
		safeName = safeName + "_"
	}
	return safeName
}

// PluginDirName maps a plugin id, possibly scoped, to the name of its
// directory inside a profile.
func PluginDirName(id string) string {
	return SanitizeFolderName(strings.ReplaceAll(id, "/", "__"))
}

// CleanSubpath normalizes a slash-separated path inside an archive. It
// rejects absolute paths and any path that climbs out of its root.
func CleanSubpath(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("subpath %q must be relative", p)
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return "", fmt.Errorf("subpath %q contains directory traversal", p)
		}
	}
	clean := path.Clean(p)
	if clean == "." {
		return "", nil
	}
	return clean, nil
}

// WithinDir reports whether target lies inside root after cleaning.
func WithinDir(root, target string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(target))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator)) && !filepath.IsAbs(rel)
}

// EnsureWritableDir creates dirPath if needed and checks that files can be
// written into it.
func EnsureWritableDir(dirPath string) error {
	if dirPath == "" {
		return fmt.Errorf("folder path cannot be empty")
	}
	info, err := os.Stat(dirPath)
	switch {
	case err == nil && !info.IsDir():
		return fmt.Errorf("path exists but is not a directory: %s", dirPath)
	case os.IsNotExist(err):
		if err := os.MkdirAll(dirPath, 0755); err != nil {
			return fmt.Errorf("cannot create directory: %w", err)
		}
	case err != nil:
		return fmt.Errorf("cannot access path: %w", err)
	}

	check := filepath.Join(dirPath, ".plugman_write_check")
	file, err := os.Create(check)
	if err != nil {
		return fmt.Errorf("no write permission for directory: %w", err)
	}
	file.Close()
	os.Remove(check)
	return nil
}
