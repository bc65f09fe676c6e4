// ABOUTME: Tests for the Store implementations - memory and SQLite.
// ABOUTME: Both implementations run against the same behavioral suite.

package profile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactories lets both implementations run the same suite.
var storeFactories = map[string]func(t *testing.T) Store{
	"memory": func(t *testing.T) Store {
		return NewMemoryStore()
	},
	"sqlite": func(t *testing.T) Store {
		s, err := NewSQLiteStore(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	},
}

func TestStore_PutGet(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			p := &Profile{
				Identity:            "alice",
				Cuisines:            []string{"Italian", "italian"},
				DietaryRestrictions: []string{"vegetarian"},
				Budget:              BudgetMedium,
				Window: TimeWindow{
					Earliest: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
					Latest:   time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC),
				},
				Location: Location{Lat: 37.77, Lng: -122.42, MaxTravel: 30 * time.Minute},
			}
			require.NoError(t, s.Put(ctx, p))

			got, err := s.Get(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, Identity("alice"), got.Identity)
			assert.Equal(t, []string{"italian"}, got.Cuisines)
			assert.Equal(t, []string{"vegetarian"}, got.DietaryRestrictions)
			assert.Equal(t, BudgetMedium, got.Budget)
			assert.Equal(t, 30*time.Minute, got.Location.MaxTravel)
			assert.True(t, got.Window.Earliest.Equal(p.Window.Earliest))
		})
	}
}

func TestStore_GetMissing(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			_, err := s.Get(context.Background(), "nobody")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_PutRejectsInvalid(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			err := s.Put(context.Background(), &Profile{Identity: "bob", Budget: "platinum"})
			assert.ErrorIs(t, err, ErrInvalidProfile)
		})
	}
}

func TestStore_UpdateReplaces(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			require.NoError(t, s.Put(ctx, &Profile{Identity: "alice", Cuisines: []string{"italian"}}))
			require.NoError(t, s.Put(ctx, &Profile{Identity: "alice", Cuisines: []string{"japanese"}}))

			got, err := s.Get(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, []string{"japanese"}, got.Cuisines)
		})
	}
}

func TestStore_Deactivate(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			require.NoError(t, s.Put(ctx, &Profile{Identity: "alice"}))
			require.NoError(t, s.Deactivate(ctx, "alice"))

			_, err := s.Get(ctx, "alice")
			assert.ErrorIs(t, err, ErrNotFound)

			ids, err := s.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, ids)

			// Re-onboarding reactivates
			require.NoError(t, s.Put(ctx, &Profile{Identity: "alice"}))
			_, err = s.Get(ctx, "alice")
			assert.NoError(t, err)
		})
	}
}

func TestStore_DeactivateMissing(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			err := s.Deactivate(context.Background(), "nobody")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_List(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			require.NoError(t, s.Put(ctx, &Profile{Identity: "carol"}))
			require.NoError(t, s.Put(ctx, &Profile{Identity: "alice"}))
			require.NoError(t, s.Put(ctx, &Profile{Identity: "bob"}))

			ids, err := s.List(ctx)
			require.NoError(t, err)
			assert.Equal(t, []Identity{"alice", "bob", "carol"}, ids)
		})
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, &Profile{Identity: "alice", Cuisines: []string{"italian"}}))

	got, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	got.Cuisines[0] = "mutated"

	again, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"italian"}, again.Cuisines)
}
