// ABOUTME: Personal agent that turns a user's message into a recommendation.
// ABOUTME: Classifies the request, gathers participants, and runs the collaboration pipeline.

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/concord-agents/concord-gateway/internal/classify"
	"github.com/concord-agents/concord-gateway/internal/collab"
	"github.com/concord-agents/concord-gateway/internal/profile"
	"github.com/concord-agents/concord-gateway/internal/telemetry"
)

// Message is one inbound user message addressed to a personal agent.
// Participants, when set, names the collaborators explicitly and bypasses
// name extraction from the text.
type Message struct {
	ID           string
	Text         string
	Participants []profile.Identity
}

// ReplyKind distinguishes the three possible agent responses.
type ReplyKind int

const (
	// ReplyRecommendation carries a validated recommendation.
	ReplyRecommendation ReplyKind = iota
	// ReplyClarification asks the user to fix something in their message.
	ReplyClarification
	// ReplyFailure reports that no recommendation could be produced.
	ReplyFailure
)

// Reply is the agent's answer to one message. Exactly one of the produced
// replies goes back to the user; aborted requests never yield a partial
// recommendation.
type Reply struct {
	Kind    ReplyKind
	Text    string
	Outcome *collab.Outcome
}

// Runner executes one collaboration request. Satisfied by *collab.Middleware.
type Runner interface {
	Run(ctx context.Context, req *collab.Request) (*collab.Outcome, error)
}

// Agent is one user's personal agent. It owns that user's participation in
// collaborative requests: the user is always the first participant, and
// collaborators named in the message join after resolution.
type Agent struct {
	owner      profile.Identity
	classifier classify.Classifier
	runner     Runner
	sink       telemetry.Sink
	logger     *slog.Logger
}

// New creates a personal agent for owner. A nil sink disables telemetry.
func New(owner profile.Identity, classifier classify.Classifier, runner Runner, sink telemetry.Sink, logger *slog.Logger) *Agent {
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		owner:      owner,
		classifier: classifier,
		runner:     runner,
		sink:       sink,
		logger:     logger.With("component", "agent", "owner", owner),
	}
}

// Handle processes one inbound message end to end. It always returns a
// usable Reply; errors from the pipeline become failure or clarification
// replies rather than propagating to the transport.
func (a *Agent) Handle(ctx context.Context, msg *Message) *Reply {
	start := time.Now()

	result, err := a.classifier.Classify(ctx, msg.Text, a.owner)
	if err != nil {
		a.logger.Error("classification failed", "error", err)
		return &Reply{Kind: ReplyFailure, Text: "Sorry, I couldn't understand that request."}
	}
	participants := result.Participants
	if len(msg.Participants) > 0 {
		participants = a.withOwnerFirst(msg.Participants)
	} else if result.Variant == classify.Unrecognized {
		return &Reply{
			Kind: ReplyClarification,
			Text: clarifyUnknownNames(result.UnknownNames),
		}
	}

	req := &collab.Request{
		ID:           a.requestID(msg),
		Participants: participants,
		Kind:         collab.TaskKind(result.Kind),
	}

	outcome, err := a.runner.Run(ctx, req)
	a.emit(req.ID, outcome, start)

	if err != nil {
		a.logger.Warn("request failed", "request_id", req.ID, "error", err)
		return a.failureReply(outcome, err)
	}

	return &Reply{
		Kind:    ReplyRecommendation,
		Text:    recommendationText(outcome),
		Outcome: outcome,
	}
}

// withOwnerFirst puts the owner at the head of an explicit participant
// list, deduplicating any mention of the owner itself.
func (a *Agent) withOwnerFirst(explicit []profile.Identity) []profile.Identity {
	out := []profile.Identity{a.owner}
	for _, p := range explicit {
		if p == a.owner {
			continue
		}
		out = append(out, p)
	}
	return out
}

// requestID uses the transport's message ID when present so duplicate
// deliveries dedupe to the same request.
func (a *Agent) requestID(msg *Message) string {
	if msg.ID != "" {
		return msg.ID
	}
	return uuid.New().String()
}

// emit sends the outcome event without blocking the reply path.
func (a *Agent) emit(requestID string, outcome *collab.Outcome, start time.Time) {
	ev := telemetry.Event{
		RequestID: requestID,
		LatencyMS: time.Since(start).Milliseconds(),
		Outcome:   "completed",
	}
	if outcome != nil {
		ev.NegotiationRounds = outcome.Rounds
		if outcome.State == collab.StateAborted {
			ev.Outcome = string(outcome.Reason)
		}
	}
	a.sink.Emit(ev)
}

// failureReply maps pipeline errors to user-facing text. A missing
// participant profile reads as a clarification since the user can fix the
// name; everything else is a failure.
func (a *Agent) failureReply(outcome *collab.Outcome, err error) *Reply {
	if errors.Is(err, collab.ErrParticipantNotFound) {
		return &Reply{
			Kind:    ReplyClarification,
			Text:    "I couldn't find one of the people you mentioned. Could you check the names?",
			Outcome: outcome,
		}
	}

	text := "Sorry, I couldn't find a recommendation."
	if outcome != nil {
		switch outcome.Reason {
		case collab.ReasonNoOverlap:
			text = "Sorry, there's no time that works for everyone."
		case collab.ReasonNoSelector:
			text = "Sorry, the recommendation service isn't available right now."
		case collab.ReasonSelectorTimeout, collab.ReasonTimeout:
			text = "Sorry, finding a recommendation took too long. Please try again."
		case collab.ReasonNoAcceptableCandidate:
			text = "Sorry, nothing I found worked for everyone's requirements."
		}
	}
	return &Reply{Kind: ReplyFailure, Text: text, Outcome: outcome}
}

// clarifyUnknownNames builds the clarification text for unresolvable names.
func clarifyUnknownNames(names []string) string {
	if len(names) == 0 {
		return "I'm not sure what you're asking for. Try something like \"find a restaurant with Bob\"."
	}
	return fmt.Sprintf("I don't know who %s is. Could you check the name?", strings.Join(names, " or "))
}

// recommendationText renders a completed outcome for the user.
func recommendationText(outcome *collab.Outcome) string {
	rec := outcome.Recommendation
	if rec.Address != "" {
		return fmt.Sprintf("How about %s at %s?", rec.Name, rec.Address)
	}
	return fmt.Sprintf("How about %s?", rec.Name)
}
