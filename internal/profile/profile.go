// ABOUTME: Core preference data model - Identity, Profile, budget levels, time windows.
// ABOUTME: Profiles are owned by exactly one identity; consumers work on copies.

package profile

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested profile does not exist.
var ErrNotFound = errors.New("profile not found")

// ErrInvalidProfile is returned when a profile fails validation.
var ErrInvalidProfile = errors.New("invalid profile")

// Identity is an opaque handle naming one human and their personal agent.
// Immutable once created.
type Identity string

// Budget is an ordered spending ceiling. Lower values are more conservative.
type Budget string

const (
	BudgetLow    Budget = "low"
	BudgetMedium Budget = "medium"
	BudgetHigh   Budget = "high"
	BudgetLuxury Budget = "luxury"
)

// budgetRank orders budget levels from most to least conservative.
var budgetRank = map[Budget]int{
	BudgetLow:    1,
	BudgetMedium: 2,
	BudgetHigh:   3,
	BudgetLuxury: 4,
}

// Valid reports whether b is a known budget level.
func (b Budget) Valid() bool {
	_, ok := budgetRank[b]
	return ok
}

// Rank returns the ordering of the budget level (1 = most conservative).
// Unknown levels rank as medium, matching how unknown values were treated
// upstream of merging.
func (b Budget) Rank() int {
	if r, ok := budgetRank[b]; ok {
		return r
	}
	return budgetRank[BudgetMedium]
}

// MinBudget returns the more conservative of two budget levels.
func MinBudget(a, b Budget) Budget {
	if b.Rank() < a.Rank() {
		return b
	}
	return a
}

// TimeWindow is a closed [Earliest, Latest] interval.
type TimeWindow struct {
	Earliest time.Time `json:"earliest" yaml:"earliest"`
	Latest   time.Time `json:"latest" yaml:"latest"`
}

// IsZero reports whether the window is unset.
func (w TimeWindow) IsZero() bool {
	return w.Earliest.IsZero() && w.Latest.IsZero()
}

// Validate checks the earliest <= latest invariant.
func (w TimeWindow) Validate() error {
	if w.IsZero() {
		return nil
	}
	if w.Latest.Before(w.Earliest) {
		return fmt.Errorf("%w: time window earliest %s is after latest %s",
			ErrInvalidProfile, w.Earliest.Format(time.RFC3339), w.Latest.Format(time.RFC3339))
	}
	return nil
}

// Intersect returns the overlap of two windows. A zero window is treated as
// unbounded and does not constrain the result. The second return value is
// false when the windows do not overlap.
func (w TimeWindow) Intersect(other TimeWindow) (TimeWindow, bool) {
	if w.IsZero() {
		return other, true
	}
	if other.IsZero() {
		return w, true
	}
	out := w
	if other.Earliest.After(out.Earliest) {
		out.Earliest = other.Earliest
	}
	if other.Latest.Before(out.Latest) {
		out.Latest = other.Latest
	}
	if out.Latest.Before(out.Earliest) {
		return TimeWindow{}, false
	}
	return out, true
}

// Location is a geographic point with an optional travel bound.
// MaxTravel of zero means the person has not stated a bound.
type Location struct {
	Lat       float64       `json:"lat" yaml:"lat"`
	Lng       float64       `json:"lng" yaml:"lng"`
	MaxTravel time.Duration `json:"max_travel,omitempty" yaml:"max_travel,omitempty"`
}

// IsZero reports whether the location is unset.
func (l Location) IsZero() bool {
	return l.Lat == 0 && l.Lng == 0 && l.MaxTravel == 0
}

// Profile holds one person's structured preferences.
// Mutated only by the owning identity; the collaboration layer reads
// request-scoped copies and never writes.
type Profile struct {
	Identity            Identity   `json:"identity"`
	Cuisines            []string   `json:"cuisines,omitempty"`
	DietaryRestrictions []string   `json:"dietary_restrictions,omitempty"`
	Budget              Budget     `json:"budget_level"`
	Atmosphere          []string   `json:"atmosphere,omitempty"`
	Window              TimeWindow `json:"time_window"`
	Location            Location   `json:"location"`
	CreatedAt           time.Time  `json:"created_at,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at,omitempty"`
}

// Validate checks structural invariants before a profile is stored.
func (p *Profile) Validate() error {
	if p.Identity == "" {
		return fmt.Errorf("%w: identity is required", ErrInvalidProfile)
	}
	if p.Budget != "" && !p.Budget.Valid() {
		return fmt.Errorf("%w: unknown budget level %q", ErrInvalidProfile, p.Budget)
	}
	return p.Window.Validate()
}

// Normalize canonicalizes set-valued fields: lowercased, deduplicated,
// sorted. Applied on write so stored profiles compare deterministically.
func (p *Profile) Normalize() {
	p.Cuisines = normalizeSet(p.Cuisines)
	p.DietaryRestrictions = normalizeSet(p.DietaryRestrictions)
	p.Atmosphere = normalizeSet(p.Atmosphere)
	if p.Budget == "" {
		p.Budget = BudgetMedium
	}
}

// Clone returns a deep copy. The collaboration layer snapshots profiles at
// resolve time so a mid-request update never affects an in-flight merge.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	out := *p
	out.Cuisines = append([]string(nil), p.Cuisines...)
	out.DietaryRestrictions = append([]string(nil), p.DietaryRestrictions...)
	out.Atmosphere = append([]string(nil), p.Atmosphere...)
	return &out
}

// normalizeSet lowercases, trims, deduplicates and sorts a string set.
func normalizeSet(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}
