// ABOUTME: Collaborative middleware - resolve participants, merge, dispatch, assemble.
// ABOUTME: Turns N preference profiles into one joint recommendation or a reasoned abort.

package collab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/concord-agents/concord-gateway/internal/merge"
	"github.com/concord-agents/concord-gateway/internal/profile"
	"github.com/concord-agents/concord-gateway/internal/registry"
	"github.com/concord-agents/concord-gateway/internal/selector"
)

// Middleware errors.
var (
	// ErrParticipantNotFound means a referenced identity has no profile.
	// The whole request aborts: a joint recommendation missing one party's
	// constraints is worse than no recommendation.
	ErrParticipantNotFound = errors.New("participant profile not found")

	// ErrNoAvailableSelector means no live agent advertises the capability.
	ErrNoAvailableSelector = errors.New("no available selector for capability")

	// ErrSelectorTimeout means the selector did not answer within the
	// per-attempt deadline, after the single transparent retry.
	ErrSelectorTimeout = errors.New("selector invocation timed out")

	// ErrNoAcceptableCandidate means every returned candidate failed local
	// hard-constraint re-validation.
	ErrNoAcceptableCandidate = errors.New("no candidate satisfies all hard constraints")
)

// TaskKind selects which specialist handles the request.
type TaskKind string

const (
	TaskRestaurant TaskKind = "restaurant"
	TaskEvent      TaskKind = "event"
	TaskGeneric    TaskKind = "generic"
)

// Request is one ephemeral joint-planning task. Created per inbound user
// message, destroyed after the response; never persisted.
type Request struct {
	ID           string
	Participants []profile.Identity // arrival order, used for tie-breaking
	Kind         TaskKind

	// RawConstraints optionally overrides merged fields; any non-empty
	// field replaces the corresponding merge result.
	RawConstraints *selector.Constraints
}

// State tracks a request through the collaboration pipeline.
type State int

const (
	StateReceived State = iota
	StateParticipantsResolved
	StateMerged
	StateDispatched
	StateCandidatesReceived
	StateValidated
	StateCompleted
	StateAborted
)

// String returns the state name for logs and telemetry.
func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateParticipantsResolved:
		return "participants_resolved"
	case StateMerged:
		return "merged"
	case StateDispatched:
		return "dispatched"
	case StateCandidatesReceived:
		return "candidates_received"
	case StateValidated:
		return "validated"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// AbortReason is the machine-readable cause carried on aborted outcomes.
type AbortReason string

const (
	ReasonParticipantNotFound   AbortReason = "participant_not_found"
	ReasonNoOverlap             AbortReason = "no_overlap"
	ReasonNoSelector            AbortReason = "no_selector"
	ReasonSelectorTimeout       AbortReason = "selector_timeout"
	ReasonSelectorFailed        AbortReason = "selector_failed"
	ReasonNoAcceptableCandidate AbortReason = "no_acceptable_candidate"
	ReasonTimeout               AbortReason = "timeout"
	ReasonCancelled             AbortReason = "cancelled"
	ReasonInternal              AbortReason = "internal_error"
)

// Outcome is the structured result of one collaboration request. On abort,
// Reason explains why and Recommendation is nil; no partial or degraded
// joint answers are produced.
type Outcome struct {
	RequestID      string
	State          State
	Reason         AbortReason
	Merged         *merge.Merged
	Recommendation *selector.Candidate
	Candidates     []selector.Candidate
	SelectorID     profile.Identity
	Rounds         int
}

// ProfileSource is the preference-store boundary the middleware reads
// through. It never writes: profile ownership stays with the personal agent.
type ProfileSource interface {
	Get(ctx context.Context, id profile.Identity) (*profile.Profile, error)
}

// SelectorDirectory answers capability discovery queries.
type SelectorDirectory interface {
	Find(capability string) []*registry.Registration
}

// Invoker sends merged constraints to a selector endpoint.
type Invoker interface {
	Invoke(ctx context.Context, endpoint string, constraints *selector.Constraints) ([]selector.Candidate, error)
}

// Config holds the middleware's timing knobs.
type Config struct {
	// SelectorTimeout bounds each selector invocation attempt.
	SelectorTimeout time.Duration

	// RequestDeadline bounds the whole request; past it the outcome is
	// Aborted(timeout).
	RequestDeadline time.Duration
}

// Middleware is the coordination core. It owns no persistent state; every
// request works on its own transient Request and Merged objects, so
// concurrent requests need no cross-request locking.
type Middleware struct {
	profiles ProfileSource
	registry SelectorDirectory
	invoker  Invoker
	cfg      Config
	logger   *slog.Logger
}

// New creates the middleware.
func New(profiles ProfileSource, directory SelectorDirectory, invoker Invoker, cfg Config, logger *slog.Logger) *Middleware {
	if cfg.SelectorTimeout <= 0 {
		cfg.SelectorTimeout = 5 * time.Second
	}
	if cfg.RequestDeadline <= 0 {
		cfg.RequestDeadline = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{
		profiles: profiles,
		registry: directory,
		invoker:  invoker,
		cfg:      cfg,
		logger:   logger.With("component", "collab"),
	}
}

// Run executes one collaboration request: resolve -> merge -> dispatch ->
// assemble, strictly in that order. The returned Outcome is always non-nil;
// on failure it carries the abort reason and the error wraps the matching
// sentinel.
func (m *Middleware) Run(ctx context.Context, req *Request) (*Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.RequestDeadline)
	defer cancel()

	outcome := &Outcome{RequestID: req.ID, State: StateReceived, Rounds: 1}
	logger := m.logger.With("request_id", req.ID, "kind", req.Kind)

	profiles, err := m.resolveParticipants(ctx, req)
	if err != nil {
		return m.abort(outcome, logger, err)
	}
	outcome.State = StateParticipantsResolved

	merged, err := m.mergeProfiles(profiles, req.RawConstraints)
	if err != nil {
		return m.abort(outcome, logger, err)
	}
	outcome.State = StateMerged
	outcome.Merged = merged

	outcome.State = StateDispatched
	candidates, selectorID, err := m.dispatch(ctx, merged, req.Kind, logger)
	if err != nil {
		return m.abort(outcome, logger, err)
	}
	outcome.State = StateCandidatesReceived
	outcome.Candidates = candidates
	outcome.SelectorID = selectorID

	recommendation, err := assemble(candidates, merged)
	if err != nil {
		return m.abort(outcome, logger, err)
	}
	outcome.State = StateValidated
	outcome.Recommendation = recommendation
	outcome.State = StateCompleted

	logger.Info("collaboration completed",
		"participants", len(req.Participants),
		"selector", selectorID,
		"recommendation", recommendation.Name,
	)
	return outcome, nil
}

// resolveParticipants looks up every participant's profile. Lookups for
// distinct participants are independent and run concurrently; all must
// complete before merging. Profiles come back as snapshots, so an update
// arriving mid-request does not affect this merge.
func (m *Middleware) resolveParticipants(ctx context.Context, req *Request) ([]*profile.Profile, error) {
	if len(req.Participants) == 0 {
		return nil, fmt.Errorf("%w: request has no participants", ErrParticipantNotFound)
	}

	g, gctx := errgroup.WithContext(ctx)
	profiles := make([]*profile.Profile, len(req.Participants))
	for i, id := range req.Participants {
		i, id := i, id
		g.Go(func() error {
			p, err := m.profiles.Get(gctx, id)
			if errors.Is(err, profile.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrParticipantNotFound, id)
			}
			if err != nil {
				return fmt.Errorf("looking up profile %s: %w", id, err)
			}
			profiles[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return profiles, nil
}

// mergeProfiles runs the pure merge and applies caller overrides on top.
func (m *Middleware) mergeProfiles(profiles []*profile.Profile, overrides *selector.Constraints) (*merge.Merged, error) {
	merged, err := merge.Merge(profiles)
	if err != nil {
		return nil, err
	}
	if overrides != nil {
		applyOverrides(merged, overrides)
	}
	return merged, nil
}

// applyOverrides replaces merged fields with any non-empty caller-supplied
// constraint. Overrides are trusted as explicit user intent.
func applyOverrides(m *merge.Merged, c *selector.Constraints) {
	if len(c.Cuisines) > 0 {
		m.Cuisines = c.Cuisines
	}
	if len(c.DietaryRestrictions) > 0 {
		m.DietaryRestrictions = c.DietaryRestrictions
	}
	if c.BudgetLevel != "" {
		m.Budget = c.BudgetLevel
	}
	if len(c.Atmosphere) > 0 {
		m.Atmosphere = c.Atmosphere
	}
	if overridden, err := c.ToMerged(); err == nil {
		if !overridden.Window.IsZero() {
			m.Window = overridden.Window
		}
		if !overridden.Location.IsZero() {
			m.Location = overridden.Location
		}
	}
}

// dispatch selects a live selector by capability and invokes it with the
// merged constraints. Discovery happens before any network call; a timeout
// is retried exactly once with identical constraints.
func (m *Middleware) dispatch(ctx context.Context, merged *merge.Merged, kind TaskKind, logger *slog.Logger) ([]selector.Candidate, profile.Identity, error) {
	capability := string(kind)
	available := m.registry.Find(capability)
	if len(available) == 0 {
		return nil, "", fmt.Errorf("%w: %s", ErrNoAvailableSelector, capability)
	}
	target := available[0]

	constraints := selector.FromMerged(merged)
	candidates, err := m.invokeOnce(ctx, target.Endpoint, constraints)
	if errors.Is(err, ErrSelectorTimeout) && ctx.Err() == nil {
		logger.Warn("selector timed out, retrying once",
			"selector", target.Identity,
			"endpoint", target.Endpoint,
		)
		candidates, err = m.invokeOnce(ctx, target.Endpoint, constraints)
	}
	if err != nil {
		return nil, "", err
	}
	return candidates, target.Identity, nil
}

// invokeOnce runs a single bounded invocation attempt, translating the
// attempt's own deadline into ErrSelectorTimeout. The outer request
// deadline and caller cancellation pass through untranslated.
func (m *Middleware) invokeOnce(ctx context.Context, endpoint string, constraints *selector.Constraints) ([]selector.Candidate, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.SelectorTimeout)
	defer cancel()

	candidates, err := m.invoker.Invoke(attemptCtx, endpoint, constraints)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %s", ErrSelectorTimeout, endpoint)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("invoking selector %s: %w", endpoint, err)
	}
	return candidates, nil
}

// assemble picks the top-ranked candidate that survives local re-validation
// of the hard constraints. The selector should have filtered already; this
// is the second check before anything reaches a user.
func assemble(candidates []selector.Candidate, merged *merge.Merged) (*selector.Candidate, error) {
	for i := range candidates {
		c := candidates[i]
		if merged.Satisfies(c.DietaryTags, c.PriceLevel) {
			return &c, nil
		}
	}
	return nil, ErrNoAcceptableCandidate
}

// abort finalizes an outcome with the reason derived from err.
func (m *Middleware) abort(outcome *Outcome, logger *slog.Logger, err error) (*Outcome, error) {
	outcome.State = StateAborted
	outcome.Reason = reasonFor(err)
	logger.Warn("collaboration aborted", "reason", outcome.Reason, "error", err)
	return outcome, err
}

// reasonFor maps an error to its telemetry reason code. Every abort carries
// one; nothing is silently swallowed.
func reasonFor(err error) AbortReason {
	switch {
	case errors.Is(err, ErrParticipantNotFound):
		return ReasonParticipantNotFound
	case errors.Is(err, merge.ErrNoOverlap):
		return ReasonNoOverlap
	case errors.Is(err, ErrNoAvailableSelector):
		return ReasonNoSelector
	case errors.Is(err, ErrSelectorTimeout):
		return ReasonSelectorTimeout
	case errors.Is(err, ErrNoAcceptableCandidate):
		return ReasonNoAcceptableCandidate
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return ReasonCancelled
	case errors.Is(err, selector.ErrBadStatus):
		return ReasonSelectorFailed
	default:
		return ReasonInternal
	}
}
