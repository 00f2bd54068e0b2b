package lifecycle

import (
	"slices"
	"sort"
)

// Selections is the operator's current intent, independent of any single
// run. It persists across runs until explicitly replaced or merged.
type Selections struct {
	Profile       string
	AppsInstall   []string
	AppsUninstall []string
}

// Normalize sorts and de-duplicates both app sets in place.
func (s *Selections) Normalize() {
	s.AppsInstall = dedupe(s.AppsInstall)
	s.AppsUninstall = dedupe(s.AppsUninstall)
}

// Merge overlays other onto s: a non-empty profile replaces, app sets union.
func (s *Selections) Merge(other Selections) {
	if other.Profile != "" {
		s.Profile = other.Profile
	}
	s.AppsInstall = dedupe(append(s.AppsInstall, other.AppsInstall...))
	s.AppsUninstall = dedupe(append(s.AppsUninstall, other.AppsUninstall...))
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return slices.Compact(out)
}
