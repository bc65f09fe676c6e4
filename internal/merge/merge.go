// ABOUTME: Deterministic preference merge policy - the collaboration core's pure engine.
// ABOUTME: Union for set fields, min budget, window intersection, location centroid.

package merge

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/concord-agents/concord-gateway/internal/profile"
)

// ErrNoOverlap is returned when participant time windows do not intersect.
// This is terminal for the request: silently dropping a party's window is
// disallowed, a joint recommendation must fit everyone.
var ErrNoOverlap = errors.New("participant time windows do not overlap")

// ErrNoProfiles is returned when Merge is called with no input.
var ErrNoProfiles = errors.New("no profiles to merge")

// Field names used in provenance records.
const (
	FieldCuisines   = "cuisines"
	FieldDietary    = "dietary_restrictions"
	FieldBudget     = "budget_level"
	FieldAtmosphere = "atmosphere"
	FieldWindow     = "time_window"
	FieldLocation   = "location"
)

// Merged is the unified constraint set produced from N participant
// profiles, plus a record of which participants contributed each field.
type Merged struct {
	Cuisines            []string
	DietaryRestrictions []string
	Budget              profile.Budget
	Atmosphere          []string
	Window              profile.TimeWindow
	Location            profile.Location

	// Provenance maps a field name to the sorted identities whose profile
	// shaped that field's merged value.
	Provenance map[string][]profile.Identity
}

// Merge combines participant profiles under the deterministic policy:
//
//	cuisines / dietary_restrictions / atmosphere: union
//	budget_level: minimum (most conservative)
//	time_window: intersection, ErrNoOverlap if empty
//	location: centroid, max travel = minimum stated bound
//
// The result is independent of participant order for the union fields and
// deterministic for the tie-break fields; callers may pass profiles in any
// order and get an identical Merged.
func Merge(profiles []*profile.Profile) (*Merged, error) {
	if len(profiles) == 0 {
		return nil, ErrNoProfiles
	}

	m := &Merged{
		Provenance: make(map[string][]profile.Identity),
	}

	m.Cuisines = mergeUnion(profiles, FieldCuisines, m.Provenance,
		func(p *profile.Profile) []string { return p.Cuisines })
	m.DietaryRestrictions = mergeUnion(profiles, FieldDietary, m.Provenance,
		func(p *profile.Profile) []string { return p.DietaryRestrictions })
	m.Atmosphere = mergeUnion(profiles, FieldAtmosphere, m.Provenance,
		func(p *profile.Profile) []string { return p.Atmosphere })

	mergeBudget(profiles, m)
	if err := mergeWindows(profiles, m); err != nil {
		return nil, err
	}
	mergeLocations(profiles, m)

	return m, nil
}

// mergeUnion collects the union of a set-valued field and records which
// identities contributed at least one element.
func mergeUnion(profiles []*profile.Profile, field string, prov map[string][]profile.Identity, get func(*profile.Profile) []string) []string {
	seen := make(map[string]struct{})
	var out []string
	var contributors []profile.Identity
	for _, p := range profiles {
		values := get(p)
		if len(values) > 0 {
			contributors = append(contributors, p.Identity)
		}
		for _, v := range values {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Strings(out)
	recordProvenance(prov, field, contributors)
	return out
}

// mergeBudget takes the most conservative stated ceiling. The merged level
// never exceeds any individual participant's.
func mergeBudget(profiles []*profile.Profile, m *Merged) {
	min := profile.Budget("")
	for _, p := range profiles {
		b := p.Budget
		if b == "" {
			continue
		}
		if min == "" {
			min = b
			continue
		}
		min = profile.MinBudget(min, b)
	}
	if min == "" {
		min = profile.BudgetMedium
	}
	m.Budget = min

	var contributors []profile.Identity
	for _, p := range profiles {
		if p.Budget != "" && p.Budget.Rank() == min.Rank() {
			contributors = append(contributors, p.Identity)
		}
	}
	recordProvenance(m.Provenance, FieldBudget, contributors)
}

// mergeWindows intersects all stated windows.
func mergeWindows(profiles []*profile.Profile, m *Merged) error {
	window := profile.TimeWindow{}
	var contributors []profile.Identity
	for _, p := range profiles {
		if p.Window.IsZero() {
			continue
		}
		contributors = append(contributors, p.Identity)
		next, ok := window.Intersect(p.Window)
		if !ok {
			return fmt.Errorf("%w: %s excludes [%s, %s]", ErrNoOverlap, p.Identity,
				window.Earliest.Format(time.RFC3339), window.Latest.Format(time.RFC3339))
		}
		window = next
	}
	m.Window = window
	recordProvenance(m.Provenance, FieldWindow, contributors)
	return nil
}

// mergeLocations computes the centroid of stated locations and the tightest
// stated travel bound. A fair midpoint that respects everyone's limit.
// Summation runs in identity order: float addition is not associative, so a
// fixed order keeps the centroid bit-identical under participant permutation.
func mergeLocations(profiles []*profile.Profile, m *Merged) {
	var stated []*profile.Profile
	for _, p := range profiles {
		if !p.Location.IsZero() {
			stated = append(stated, p)
		}
	}
	sort.Slice(stated, func(i, j int) bool { return stated[i].Identity < stated[j].Identity })

	var latSum, lngSum float64
	var minTravel time.Duration
	var contributors []profile.Identity

	for _, p := range stated {
		contributors = append(contributors, p.Identity)
		latSum += p.Location.Lat
		lngSum += p.Location.Lng
		if p.Location.MaxTravel > 0 {
			if minTravel == 0 || p.Location.MaxTravel < minTravel {
				minTravel = p.Location.MaxTravel
			}
		}
	}

	if len(stated) > 0 {
		m.Location = profile.Location{
			Lat:       latSum / float64(len(stated)),
			Lng:       lngSum / float64(len(stated)),
			MaxTravel: minTravel,
		}
	}
	recordProvenance(m.Provenance, FieldLocation, contributors)
}

// recordProvenance stores a sorted, deduplicated contributor list so the
// provenance record itself is order-independent.
func recordProvenance(prov map[string][]profile.Identity, field string, contributors []profile.Identity) {
	if len(contributors) == 0 {
		return
	}
	seen := make(map[profile.Identity]struct{}, len(contributors))
	out := make([]profile.Identity, 0, len(contributors))
	for _, id := range contributors {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	prov[field] = out
}

// Satisfies reports whether a candidate's attributes honor the merged hard
// constraints: every merged dietary restriction must be covered and the
// candidate's price level must not exceed the merged ceiling. Used as a
// local re-validation after the selector returns.
func (m *Merged) Satisfies(dietaryTags []string, price profile.Budget) bool {
	if price != "" && price.Rank() > m.Budget.Rank() {
		return false
	}
	tagSet := make(map[string]struct{}, len(dietaryTags))
	for _, tag := range dietaryTags {
		tagSet[tag] = struct{}{}
	}
	for _, restriction := range m.DietaryRestrictions {
		if _, ok := tagSet[restriction]; !ok {
			return false
		}
	}
	return true
}
