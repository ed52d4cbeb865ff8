package plugins

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// DefaultVersion is reported for manifests without a usable version.
const DefaultVersion = "0.0.0"

var coercePattern = regexp.MustCompile(`(\d+)(?:\.(\d+))?(?:\.(\d+))?`)

// CompareVersions orders two semantic versions, ignoring a leading "v".
// It returns -1, 0 or 1, or an error naming the unparsable side.
func CompareVersions(v1, v2 string) (int, error) {
	a, err := semver.NewVersion(strings.TrimPrefix(v1, "v"))
	if err != nil {
		return 0, fmt.Errorf("invalid version %s: %w", v1, err)
	}
	b, err := semver.NewVersion(strings.TrimPrefix(v2, "v"))
	if err != nil {
		return 0, fmt.Errorf("invalid version %s: %w", v2, err)
	}
	return a.Compare(b), nil
}

// IsNewerVersion reports whether candidate is newer than current.
func IsNewerVersion(current, candidate string) (bool, error) {
	cmp, err := CompareVersions(current, candidate)
	if err != nil {
		return false, err
	}
	return cmp < 0, nil
}

// NormalizeVersion returns the canonical form of version, or DefaultVersion
// when it cannot be parsed.
func NormalizeVersion(version string) string {
	v, err := semver.NewVersion(strings.TrimPrefix(strings.TrimSpace(version), "v"))
	if err != nil {
		return DefaultVersion
	}
	return v.String()
}

// CoerceVersion extracts the first major[.minor[.patch]] run from s and
// returns it as a full version, so ">=2.1" becomes "2.1.0".
func CoerceVersion(s string) (string, bool) {
	m := coercePattern.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	parts := [3]int{}
	for i := 0; i < 3; i++ {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return "", false
		}
		parts[i] = n
	}
	return fmt.Sprintf("%d.%d.%d", parts[0], parts[1], parts[2]), true
}

// UpdateStatus describes whether a remote configuration is an update for an
// installed one. Nil fields are absent: an empty status means no update
// concept applies, and IsCompatible/MinimumVersion are only set when an
// update is available.
type UpdateStatus struct {
	IsAvailable    *bool   `json:"isAvailable,omitempty"`
	IsCompatible   *bool   `json:"isCompatible,omitempty"`
	MinimumVersion *string `json:"minimumVersion,omitempty"`
}

// Available reports whether an update is available.
func (s UpdateStatus) Available() bool {
	return s.IsAvailable != nil && *s.IsAvailable
}

// CheckUpdateStatus compares a remote configuration against the installed one
// for the same plugin and the running host version.
func CheckUpdateStatus(installed, remote *Configuration, hostVersion string) UpdateStatus {
	if installed == nil || remote == nil {
		return UpdateStatus{}
	}

	// Version() is always normalized, so the comparison cannot fail.
	available, _ := IsNewerVersion(installed.Version(), remote.Version())

	status := UpdateStatus{IsAvailable: &available}
	if !available {
		return status
	}

	minimum := remote.MinimumHostVersion()
	if minimum == "" {
		minimum = DefaultVersion
	}
	compatible := hostSatisfies(hostVersion, minimum)
	status.MinimumVersion = &minimum
	status.IsCompatible = &compatible
	return status
}

// hostSatisfies reports whether hostVersion >= minimum. An unparsable host
// version is treated as DefaultVersion.
func hostSatisfies(hostVersion, minimum string) bool {
	cmp, err := CompareVersions(NormalizeVersion(hostVersion), minimum)
	if err != nil {
		return true
	}
	return cmp >= 0
}
