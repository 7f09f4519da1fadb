package match

import (
	"sort"
	"strings"
)

// NormalizeInterests lowercases, trims and dedupes, returning a sorted list.
func NormalizeInterests(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// SharedInterests returns the normalized intersection of a and b.
func SharedInterests(a, b []string) []string {
	na, nb := NormalizeInterests(a), NormalizeInterests(b)
	set := make(map[string]struct{}, len(na))
	for _, s := range na {
		set[s] = struct{}{}
	}
	var out []string
	for _, s := range nb {
		if _, ok := set[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// SearchProfile is what pairing needs from each side.
type SearchProfile struct {
	Interests []string
	Location  Location
	RadiusKm  float64
}

func (p SearchProfile) Complete() bool {
	return len(NormalizeInterests(p.Interests)) > 0 && p.Location.Valid() && p.RadiusKm > 0
}

// Compatibility is the outcome of matching two search profiles.
type Compatibility struct {
	Shared     []string
	DistanceKm float64
	LimitKm    float64
}

func (c Compatibility) OK() bool {
	return len(c.Shared) > 0 && c.DistanceKm <= c.LimitKm
}

// Compare requires one shared interest and a distance within both radii.
func Compare(a, b SearchProfile) Compatibility {
	return Compatibility{
		Shared:     SharedInterests(a.Interests, b.Interests),
		DistanceKm: HaversineKm(a.Location, b.Location),
		LimitKm:    minFloat(a.RadiusKm, b.RadiusKm),
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
