package plugins

import (
	"sort"
	"strings"
)

// Aggregate merges installed configurations with remote listings. The first
// configuration seen for an id wins, so an installed plugin is never shadowed
// by a remote listing of the same id. The result is sorted by id.
func Aggregate(local, remote []*Configuration) []*Configuration {
	seen := make(map[string]bool, len(local)+len(remote))
	out := make([]*Configuration, 0, len(local)+len(remote))
	for _, group := range [][]*Configuration{local, remote} {
		for _, c := range group {
			if c == nil || seen[c.ID()] {
				continue
			}
			seen[c.ID()] = true
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ID() < out[j].ID()
	})
	return out
}

// FilterByQuery keeps configurations whose title contains query, ignoring
// case. A blank query returns all configurations.
func FilterByQuery(all []*Configuration, query string) []*Configuration {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return all
	}
	out := make([]*Configuration, 0, len(all))
	for _, c := range all {
		if strings.Contains(strings.ToLower(c.Title()), query) {
			out = append(out, c)
		}
	}
	return out
}

// FindByID returns the first configuration with the given id.
func FindByID(all []*Configuration, id string) *Configuration {
	for _, c := range all {
		if c.ID() == id {
			return c
		}
	}
	return nil
}
