// ABOUTME: Tests for the merge policy - order independence, conservative budget, overlap.
// ABOUTME: Includes the Alice+Bob scenarios and permutation properties.

package merge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concord-agents/concord-gateway/internal/profile"
)

func window(t *testing.T, earliest, latest string) profile.TimeWindow {
	t.Helper()
	e, err := time.Parse(time.RFC3339, earliest)
	require.NoError(t, err)
	l, err := time.Parse(time.RFC3339, latest)
	require.NoError(t, err)
	return profile.TimeWindow{Earliest: e, Latest: l}
}

func aliceProfile(t *testing.T) *profile.Profile {
	return &profile.Profile{
		Identity: "alice",
		Cuisines: []string{"italian"},
		Budget:   profile.BudgetMedium,
		Window:   window(t, "2026-03-01T12:00:00Z", "2026-03-01T14:00:00Z"),
		Location: profile.Location{Lat: 37.76, Lng: -122.44, MaxTravel: 30 * time.Minute},
	}
}

func bobProfile(t *testing.T) *profile.Profile {
	return &profile.Profile{
		Identity: "bob",
		Cuisines: []string{"japanese"},
		Budget:   profile.BudgetHigh,
		Window:   window(t, "2026-03-01T13:00:00Z", "2026-03-01T15:00:00Z"),
		Location: profile.Location{Lat: 37.80, Lng: -122.40, MaxTravel: 20 * time.Minute},
	}
}

func TestMerge_AliceAndBob(t *testing.T) {
	m, err := Merge([]*profile.Profile{aliceProfile(t), bobProfile(t)})
	require.NoError(t, err)

	assert.Equal(t, []string{"italian", "japanese"}, m.Cuisines)
	assert.Equal(t, profile.BudgetMedium, m.Budget)
	assert.Equal(t, window(t, "2026-03-01T13:00:00Z", "2026-03-01T14:00:00Z"), m.Window)

	assert.InDelta(t, 37.78, m.Location.Lat, 0.0001)
	assert.InDelta(t, -122.42, m.Location.Lng, 0.0001)
	assert.Equal(t, 20*time.Minute, m.Location.MaxTravel)
}

func TestMerge_OrderIndependent(t *testing.T) {
	carol := &profile.Profile{
		Identity:            "carol",
		Cuisines:            []string{"thai", "italian"},
		DietaryRestrictions: []string{"vegan"},
		Budget:              profile.BudgetLow,
		Window:              window(t, "2026-03-01T13:30:00Z", "2026-03-01T16:00:00Z"),
		Location:            profile.Location{Lat: 37.70, Lng: -122.45},
	}

	profiles := []*profile.Profile{aliceProfile(t), bobProfile(t), carol}

	// All 6 permutations of 3 participants must merge identically.
	permutations := [][]int{
		{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
	}

	reference, err := Merge(profiles)
	require.NoError(t, err)

	for _, perm := range permutations {
		ordered := []*profile.Profile{profiles[perm[0]], profiles[perm[1]], profiles[perm[2]]}
		m, err := Merge(ordered)
		require.NoError(t, err)
		assert.Equal(t, reference, m, "permutation %v diverged", perm)
	}
}

func TestMerge_CentroidStableUnderPermutation(t *testing.T) {
	// These latitudes sum to different float64 values depending on
	// addition order; the centroid must not depend on it.
	profiles := []*profile.Profile{
		{Identity: "a", Location: profile.Location{Lat: 0.1, Lng: 0.1}},
		{Identity: "b", Location: profile.Location{Lat: 0.2, Lng: 0.2}},
		{Identity: "c", Location: profile.Location{Lat: 0.3, Lng: 0.3}},
	}

	reference, err := Merge(profiles)
	require.NoError(t, err)

	permutations := [][]int{{0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	for _, perm := range permutations {
		ordered := []*profile.Profile{profiles[perm[0]], profiles[perm[1]], profiles[perm[2]]}
		m, err := Merge(ordered)
		require.NoError(t, err)
		assert.Equal(t, reference.Location.Lat, m.Location.Lat, "permutation %v diverged", perm)
		assert.Equal(t, reference.Location.Lng, m.Location.Lng, "permutation %v diverged", perm)
	}
}

func TestMerge_BudgetNeverExceedsAnyCeiling(t *testing.T) {
	budgets := []profile.Budget{
		profile.BudgetLuxury, profile.BudgetHigh, profile.BudgetMedium, profile.BudgetLow,
	}

	for i, a := range budgets {
		for j, b := range budgets {
			m, err := Merge([]*profile.Profile{
				{Identity: "a", Budget: a},
				{Identity: "b", Budget: b},
			})
			require.NoError(t, err)
			assert.LessOrEqual(t, m.Budget.Rank(), a.Rank(), "case %d/%d", i, j)
			assert.LessOrEqual(t, m.Budget.Rank(), b.Rank(), "case %d/%d", i, j)
		}
	}
}

func TestMerge_DietarySuperset(t *testing.T) {
	a := &profile.Profile{Identity: "a", DietaryRestrictions: []string{"vegetarian", "gluten_free"}}
	b := &profile.Profile{Identity: "b", DietaryRestrictions: []string{"halal"}}

	m, err := Merge([]*profile.Profile{a, b})
	require.NoError(t, err)

	for _, p := range []*profile.Profile{a, b} {
		for _, restriction := range p.DietaryRestrictions {
			assert.Contains(t, m.DietaryRestrictions, restriction)
		}
	}
}

func TestMerge_DisjointWindows(t *testing.T) {
	a := &profile.Profile{Identity: "alice", Window: window(t, "2026-03-01T12:00:00Z", "2026-03-01T13:00:00Z")}
	b := &profile.Profile{Identity: "bob", Window: window(t, "2026-03-01T14:00:00Z", "2026-03-01T15:00:00Z")}

	_, err := Merge([]*profile.Profile{a, b})
	require.ErrorIs(t, err, ErrNoOverlap)

	// Merging the same inputs again yields the same failure.
	_, err = Merge([]*profile.Profile{a, b})
	require.ErrorIs(t, err, ErrNoOverlap)
}

func TestMerge_EmptyInput(t *testing.T) {
	_, err := Merge(nil)
	assert.ErrorIs(t, err, ErrNoProfiles)
}

func TestMerge_SingleProfile(t *testing.T) {
	m, err := Merge([]*profile.Profile{aliceProfile(t)})
	require.NoError(t, err)

	assert.Equal(t, []string{"italian"}, m.Cuisines)
	assert.Equal(t, profile.BudgetMedium, m.Budget)
	assert.Equal(t, 30*time.Minute, m.Location.MaxTravel)
}

func TestMerge_UnstatedFieldsDoNotConstrain(t *testing.T) {
	a := &profile.Profile{Identity: "a", Window: window(t, "2026-03-01T12:00:00Z", "2026-03-01T14:00:00Z")}
	b := &profile.Profile{Identity: "b"} // no window, no location, no budget

	m, err := Merge([]*profile.Profile{a, b})
	require.NoError(t, err)
	assert.Equal(t, a.Window, m.Window)
	assert.Equal(t, profile.BudgetMedium, m.Budget)
}

func TestMerge_Provenance(t *testing.T) {
	m, err := Merge([]*profile.Profile{bobProfile(t), aliceProfile(t)})
	require.NoError(t, err)

	assert.Equal(t, []profile.Identity{"alice", "bob"}, m.Provenance[FieldCuisines])
	// Alice holds the conservative ceiling
	assert.Equal(t, []profile.Identity{"alice"}, m.Provenance[FieldBudget])
	assert.Equal(t, []profile.Identity{"alice", "bob"}, m.Provenance[FieldWindow])
	assert.NotContains(t, m.Provenance, FieldDietary)
}

func TestMerged_Satisfies(t *testing.T) {
	m := &Merged{
		DietaryRestrictions: []string{"vegetarian"},
		Budget:              profile.BudgetMedium,
	}

	assert.True(t, m.Satisfies([]string{"vegetarian", "gluten_free"}, profile.BudgetLow))
	assert.False(t, m.Satisfies([]string{"gluten_free"}, profile.BudgetLow), "missing dietary tag")
	assert.False(t, m.Satisfies([]string{"vegetarian"}, profile.BudgetHigh), "over budget")
	assert.True(t, m.Satisfies([]string{"vegetarian"}, ""), "unstated price passes budget check")
}
