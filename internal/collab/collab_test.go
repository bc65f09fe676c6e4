// ABOUTME: Tests for the collaborative middleware pipeline and its abort paths.
// ABOUTME: Uses in-package fakes for the profile source, registry, and invoker.

package collab

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concord-agents/concord-gateway/internal/merge"
	"github.com/concord-agents/concord-gateway/internal/profile"
	"github.com/concord-agents/concord-gateway/internal/registry"
	"github.com/concord-agents/concord-gateway/internal/selector"
)

// fakeProfiles is a map-backed ProfileSource.
type fakeProfiles map[profile.Identity]*profile.Profile

func (f fakeProfiles) Get(ctx context.Context, id profile.Identity) (*profile.Profile, error) {
	if p, ok := f[id]; ok {
		return p.Clone(), nil
	}
	return nil, profile.ErrNotFound
}

// fakeDirectory returns fixed registrations per capability.
type fakeDirectory struct {
	mu      sync.Mutex
	entries map[string][]*registry.Registration
	queries []string
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{entries: make(map[string][]*registry.Registration)}
}

func (f *fakeDirectory) Add(capability string, id profile.Identity, endpoint string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[capability] = append(f.entries[capability], &registry.Registration{
		Identity: id, Endpoint: endpoint, Capabilities: []string{capability},
	})
}

func (f *fakeDirectory) Find(capability string) []*registry.Registration {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, capability)
	return f.entries[capability]
}

// fakeInvoker scripts selector behavior per call.
type fakeInvoker struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, constraints *selector.Constraints) ([]selector.Candidate, error)
}

func (f *fakeInvoker) Invoke(ctx context.Context, endpoint string, constraints *selector.Constraints) ([]selector.Candidate, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	fn := f.fn
	f.mu.Unlock()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return fn(call, constraints)
}

func (f *fakeInvoker) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func window(t *testing.T, earliest, latest string) profile.TimeWindow {
	t.Helper()
	e, err := time.Parse(time.RFC3339, earliest)
	require.NoError(t, err)
	l, err := time.Parse(time.RFC3339, latest)
	require.NoError(t, err)
	return profile.TimeWindow{Earliest: e, Latest: l}
}

func testStore(t *testing.T) fakeProfiles {
	return fakeProfiles{
		"alice": {
			Identity: "alice",
			Cuisines: []string{"italian"},
			Budget:   profile.BudgetMedium,
			Window:   window(t, "2026-03-01T12:00:00Z", "2026-03-01T14:00:00Z"),
		},
		"bob": {
			Identity: "bob",
			Cuisines: []string{"japanese"},
			Budget:   profile.BudgetHigh,
			Window:   window(t, "2026-03-01T13:00:00Z", "2026-03-01T15:00:00Z"),
		},
	}
}

func goodCandidates() []selector.Candidate {
	return []selector.Candidate{
		{Name: "Trattoria Verde", Address: "123 Main St", Score: 0.92, PriceLevel: profile.BudgetMedium},
		{Name: "Sushi Note", Address: "456 Oak Ave", Score: 0.81, PriceLevel: profile.BudgetLow},
	}
}

func newTestMiddleware(t *testing.T, profiles ProfileSource, directory SelectorDirectory, invoker Invoker) *Middleware {
	t.Helper()
	return New(profiles, directory, invoker, Config{
		SelectorTimeout: 200 * time.Millisecond,
		RequestDeadline: 2 * time.Second,
	}, nil)
}

func TestStateProgression(t *testing.T) {
	// The pipeline walks these states strictly in order; dispatch sits
	// between the merge and the arrival of candidates.
	order := []State{
		StateReceived,
		StateParticipantsResolved,
		StateMerged,
		StateDispatched,
		StateCandidatesReceived,
		StateValidated,
		StateCompleted,
	}
	names := []string{
		"received", "participants_resolved", "merged", "dispatched",
		"candidates_received", "validated", "completed",
	}
	for i, s := range order {
		assert.Equal(t, names[i], s.String())
		if i > 0 {
			assert.Greater(t, s, order[i-1])
		}
	}
	assert.Equal(t, "aborted", StateAborted.String())
}

func TestRun_Success(t *testing.T) {
	directory := newFakeDirectory()
	directory.Add("restaurant", "restaurant-selector", "http://selector:8080")

	invoker := &fakeInvoker{fn: func(call int, c *selector.Constraints) ([]selector.Candidate, error) {
		assert.Equal(t, []string{"italian", "japanese"}, c.Cuisines)
		assert.Equal(t, profile.BudgetMedium, c.BudgetLevel)
		assert.Equal(t, []string{"2026-03-01T13:00:00Z", "2026-03-01T14:00:00Z"}, c.TimeWindow)
		return goodCandidates(), nil
	}}

	m := newTestMiddleware(t, testStore(t), directory, invoker)
	outcome, err := m.Run(context.Background(), &Request{
		ID:           "req-1",
		Participants: []profile.Identity{"alice", "bob"},
		Kind:         TaskRestaurant,
	})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, outcome.State)
	assert.Empty(t, outcome.Reason)
	require.NotNil(t, outcome.Recommendation)
	assert.Equal(t, "Trattoria Verde", outcome.Recommendation.Name)
	assert.Equal(t, profile.Identity("restaurant-selector"), outcome.SelectorID)
	assert.Equal(t, 1, outcome.Rounds)
	assert.Equal(t, 1, invoker.Calls())
}

func TestRun_ParticipantNotFound(t *testing.T) {
	directory := newFakeDirectory()
	directory.Add("restaurant", "restaurant-selector", "http://selector:8080")
	invoker := &fakeInvoker{fn: func(int, *selector.Constraints) ([]selector.Candidate, error) {
		return goodCandidates(), nil
	}}

	m := newTestMiddleware(t, testStore(t), directory, invoker)
	outcome, err := m.Run(context.Background(), &Request{
		ID:           "req-2",
		Participants: []profile.Identity{"alice", "ghost"},
		Kind:         TaskRestaurant,
	})
	require.ErrorIs(t, err, ErrParticipantNotFound)

	assert.Equal(t, StateAborted, outcome.State)
	assert.Equal(t, ReasonParticipantNotFound, outcome.Reason)
	// No partial collaboration: nothing was merged or dispatched.
	assert.Nil(t, outcome.Merged)
	assert.Equal(t, 0, invoker.Calls())
}

func TestRun_NoOverlapAbortsBeforeDispatch(t *testing.T) {
	store := testStore(t)
	store["bob"] = &profile.Profile{
		Identity: "bob",
		Window:   window(t, "2026-03-01T14:30:00Z", "2026-03-01T15:00:00Z"),
	}
	directory := newFakeDirectory()
	directory.Add("restaurant", "restaurant-selector", "http://selector:8080")
	invoker := &fakeInvoker{fn: func(int, *selector.Constraints) ([]selector.Candidate, error) {
		return goodCandidates(), nil
	}}

	m := newTestMiddleware(t, store, directory, invoker)
	outcome, err := m.Run(context.Background(), &Request{
		ID:           "req-3",
		Participants: []profile.Identity{"alice", "bob"},
		Kind:         TaskRestaurant,
	})
	require.ErrorIs(t, err, merge.ErrNoOverlap)

	assert.Equal(t, StateAborted, outcome.State)
	assert.Equal(t, ReasonNoOverlap, outcome.Reason)
	assert.Equal(t, 0, invoker.Calls(), "no dispatch after a merge failure")
	assert.Empty(t, directory.queries, "no discovery after a merge failure")
}

func TestRun_NoAvailableSelector(t *testing.T) {
	directory := newFakeDirectory() // nothing registered
	invoker := &fakeInvoker{fn: func(int, *selector.Constraints) ([]selector.Candidate, error) {
		return goodCandidates(), nil
	}}

	m := newTestMiddleware(t, testStore(t), directory, invoker)
	outcome, err := m.Run(context.Background(), &Request{
		ID:           "req-4",
		Participants: []profile.Identity{"alice", "bob"},
		Kind:         TaskRestaurant,
	})
	require.ErrorIs(t, err, ErrNoAvailableSelector)

	assert.Equal(t, ReasonNoSelector, outcome.Reason)
	assert.Equal(t, 0, invoker.Calls(), "discovery failure precedes any network call")
}

func TestRun_SelectorTimeoutRetriedOnce(t *testing.T) {
	directory := newFakeDirectory()
	directory.Add("restaurant", "restaurant-selector", "http://selector:8080")

	var gotFirst, gotSecond *selector.Constraints
	invoker := &fakeInvoker{fn: func(call int, c *selector.Constraints) ([]selector.Candidate, error) {
		if call == 1 {
			gotFirst = c
			return nil, context.DeadlineExceeded
		}
		gotSecond = c
		return goodCandidates(), nil
	}}

	m := newTestMiddleware(t, testStore(t), directory, invoker)
	outcome, err := m.Run(context.Background(), &Request{
		ID:           "req-5",
		Participants: []profile.Identity{"alice", "bob"},
		Kind:         TaskRestaurant,
	})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, outcome.State)
	assert.Equal(t, 2, invoker.Calls())
	assert.Equal(t, gotFirst, gotSecond, "retry must reuse identical constraints")
}

func TestRun_SelectorTimeoutTwiceFails(t *testing.T) {
	directory := newFakeDirectory()
	directory.Add("restaurant", "restaurant-selector", "http://selector:8080")
	invoker := &fakeInvoker{fn: func(int, *selector.Constraints) ([]selector.Candidate, error) {
		return nil, context.DeadlineExceeded
	}}

	m := newTestMiddleware(t, testStore(t), directory, invoker)
	outcome, err := m.Run(context.Background(), &Request{
		ID:           "req-6",
		Participants: []profile.Identity{"alice", "bob"},
		Kind:         TaskRestaurant,
	})
	require.ErrorIs(t, err, ErrSelectorTimeout)

	assert.Equal(t, ReasonSelectorTimeout, outcome.Reason)
	assert.Equal(t, 2, invoker.Calls(), "exactly one retry, never more")
}

func TestRun_HardConstraintRevalidation(t *testing.T) {
	store := testStore(t)
	store["alice"].DietaryRestrictions = []string{"vegetarian"}

	directory := newFakeDirectory()
	directory.Add("restaurant", "restaurant-selector", "http://selector:8080")

	// Top candidate misses the vegetarian tag the selector should have
	// honored; the second one carries it.
	invoker := &fakeInvoker{fn: func(int, *selector.Constraints) ([]selector.Candidate, error) {
		return []selector.Candidate{
			{Name: "Steakhouse Prime", Score: 0.95, PriceLevel: profile.BudgetMedium},
			{Name: "Green Table", Score: 0.80, PriceLevel: profile.BudgetMedium, DietaryTags: []string{"vegetarian"}},
		}, nil
	}}

	m := newTestMiddleware(t, store, directory, invoker)
	outcome, err := m.Run(context.Background(), &Request{
		ID:           "req-7",
		Participants: []profile.Identity{"alice", "bob"},
		Kind:         TaskRestaurant,
	})
	require.NoError(t, err)
	assert.Equal(t, "Green Table", outcome.Recommendation.Name)
}

func TestRun_NoAcceptableCandidate(t *testing.T) {
	store := testStore(t)
	store["alice"].DietaryRestrictions = []string{"vegan"}

	directory := newFakeDirectory()
	directory.Add("restaurant", "restaurant-selector", "http://selector:8080")
	invoker := &fakeInvoker{fn: func(int, *selector.Constraints) ([]selector.Candidate, error) {
		return []selector.Candidate{
			{Name: "Steakhouse Prime", Score: 0.95},
			{Name: "Oyster Bar", Score: 0.90},
		}, nil
	}}

	m := newTestMiddleware(t, store, directory, invoker)
	outcome, err := m.Run(context.Background(), &Request{
		ID:           "req-8",
		Participants: []profile.Identity{"alice", "bob"},
		Kind:         TaskRestaurant,
	})
	require.ErrorIs(t, err, ErrNoAcceptableCandidate)
	assert.Equal(t, ReasonNoAcceptableCandidate, outcome.Reason)
}

func TestRun_OuterDeadline(t *testing.T) {
	directory := newFakeDirectory()
	directory.Add("restaurant", "restaurant-selector", "http://selector:8080")
	invoker := &fakeInvoker{fn: func(int, *selector.Constraints) ([]selector.Candidate, error) {
		time.Sleep(500 * time.Millisecond)
		return nil, context.DeadlineExceeded
	}}

	m := New(testStore(t), directory, invoker, Config{
		SelectorTimeout: time.Second,
		RequestDeadline: 100 * time.Millisecond,
	}, nil)

	outcome, err := m.Run(context.Background(), &Request{
		ID:           "req-9",
		Participants: []profile.Identity{"alice", "bob"},
		Kind:         TaskRestaurant,
	})
	require.Error(t, err)
	assert.Equal(t, ReasonTimeout, outcome.Reason)
	assert.Equal(t, 1, invoker.Calls(), "no retry once the outer deadline has passed")
}

func TestRun_CallerCancellation(t *testing.T) {
	directory := newFakeDirectory()
	directory.Add("restaurant", "restaurant-selector", "http://selector:8080")

	started := make(chan struct{})
	invoker := &fakeInvoker{fn: func(int, *selector.Constraints) ([]selector.Candidate, error) {
		close(started)
		time.Sleep(300 * time.Millisecond)
		return nil, context.Canceled
	}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	m := newTestMiddleware(t, testStore(t), directory, invoker)
	outcome, err := m.Run(ctx, &Request{
		ID:           "req-10",
		Participants: []profile.Identity{"alice", "bob"},
		Kind:         TaskRestaurant,
	})
	require.Error(t, err)
	assert.Equal(t, ReasonCancelled, outcome.Reason)
}

func TestRun_RawConstraintOverrides(t *testing.T) {
	directory := newFakeDirectory()
	directory.Add("restaurant", "restaurant-selector", "http://selector:8080")

	invoker := &fakeInvoker{fn: func(call int, c *selector.Constraints) ([]selector.Candidate, error) {
		assert.Equal(t, []string{"thai"}, c.Cuisines)
		assert.Equal(t, profile.BudgetLow, c.BudgetLevel)
		return []selector.Candidate{{Name: "Basil Leaf", Score: 0.9, PriceLevel: profile.BudgetLow}}, nil
	}}

	m := newTestMiddleware(t, testStore(t), directory, invoker)
	outcome, err := m.Run(context.Background(), &Request{
		ID:           "req-11",
		Participants: []profile.Identity{"alice", "bob"},
		Kind:         TaskRestaurant,
		RawConstraints: &selector.Constraints{
			Cuisines:    []string{"thai"},
			BudgetLevel: profile.BudgetLow,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Basil Leaf", outcome.Recommendation.Name)
}

func TestRun_DeterministicSelectorChoice(t *testing.T) {
	directory := newFakeDirectory()
	directory.Add("restaurant", "selector-a", "http://a")
	directory.Add("restaurant", "selector-b", "http://b")

	invoker := &fakeInvoker{fn: func(int, *selector.Constraints) ([]selector.Candidate, error) {
		return goodCandidates(), nil
	}}

	m := newTestMiddleware(t, testStore(t), directory, invoker)
	for i := 0; i < 3; i++ {
		outcome, err := m.Run(context.Background(), &Request{
			ID:           "req-12",
			Participants: []profile.Identity{"alice"},
			Kind:         TaskRestaurant,
		})
		require.NoError(t, err)
		assert.Equal(t, profile.Identity("selector-a"), outcome.SelectorID)
	}
}
