package plugins

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultBranch is assumed for repository URLs that do not name a branch.
const DefaultBranch = "master"

// repositoryPattern accepts
//
//	https?://(www.)?github.com/<owner>/<repo>(/tree/<branch>(/<subpath...>)?)?/?
//
// Segments never contain "?" or "#", so URLs with a query or fragment do
// not match.
var repositoryPattern = regexp.MustCompile(`^https?://(?:www\.)?github\.com/([^/\s?#]+)/([^/\s?#]+?)(?:\.git)?(?:/tree/([^/\s?#]+)(?:/([^\s?#]+?))?)?/?$`)

// RepositoryLocation is a GitHub repository, optionally narrowed to a
// subdirectory at a branch.
type RepositoryLocation struct {
	Owner   string
	Repo    string
	Branch  string
	Subpath string
}

// ParseRepositoryURL classifies a GitHub URL. It returns false when the URL
// does not match the supported grammar.
func ParseRepositoryURL(url string) (*RepositoryLocation, bool) {
	m := repositoryPattern.FindStringSubmatch(strings.TrimSpace(url))
	if m == nil {
		return nil, false
	}
	return &RepositoryLocation{
		Owner:   m[1],
		Repo:    m[2],
		Branch:  m[3],
		Subpath: strings.Trim(m[4], "/"),
	}, true
}

// IsRoot reports whether the location names the whole repository.
func (l *RepositoryLocation) IsRoot() bool {
	return l.Subpath == ""
}

func (l *RepositoryLocation) branch(defaultBranch string) string {
	if l.Branch != "" {
		return l.Branch
	}
	if defaultBranch != "" {
		return defaultBranch
	}
	return DefaultBranch
}

// ArchiveURL returns the zip archive of the whole repository. For a
// subdirectory location the installer extracts Subpath from it.
func (l *RepositoryLocation) ArchiveURL(defaultBranch string) string {
	return fmt.Sprintf("https://github.com/%s/%s/archive/%s.zip", l.Owner, l.Repo, l.branch(defaultBranch))
}

// ManifestURL returns the raw package.json URL of the location.
func (l *RepositoryLocation) ManifestURL(defaultBranch string) string {
	base := fmt.Sprintf("https://github.com/%s/%s/raw/%s", l.Owner, l.Repo, l.branch(defaultBranch))
	if l.IsRoot() {
		return base + "/package.json"
	}
	return base + "/" + l.Subpath + "/package.json"
}

// ResolveArchive turns a repository URL into an archive URL and the
// subdirectory to extract. It fails before any network call is made.
func ResolveArchive(url, defaultBranch string) (archiveURL, subpath string, err error) {
	loc, ok := ParseRepositoryURL(url)
	if !ok {
		return "", "", &ResolutionError{URL: url, Reason: "unsupported repository url"}
	}
	return loc.ArchiveURL(defaultBranch), loc.Subpath, nil
}

// ResolveManifestURL turns a repository URL into its raw package.json URL.
func ResolveManifestURL(url, defaultBranch string) (string, error) {
	loc, ok := ParseRepositoryURL(url)
	if !ok {
		return "", &ResolutionError{URL: url, Reason: "unsupported repository url"}
	}
	return loc.ManifestURL(defaultBranch), nil
}
