// ABOUTME: Request classification - decides single-party, multi-party, or unrecognized.
// ABOUTME: Keyword implementation behind an interface so NLP stays swappable.

package classify

import (
	"context"
	"regexp"
	"strings"

	"github.com/concord-agents/concord-gateway/internal/profile"
)

// Kind tags the task a message asks for.
type Kind string

const (
	KindRestaurant Kind = "restaurant"
	KindEvent      Kind = "event"
	KindGeneric    Kind = "generic"
)

// Variant discriminates classification outcomes.
type Variant int

const (
	// SingleParty means only the caller's own preferences apply.
	SingleParty Variant = iota
	// MultiParty means other identities were referenced and a merge is needed.
	MultiParty
	// Unrecognized means the message names collaborators that could not be
	// resolved; the caller should ask for clarification.
	Unrecognized
)

// Result is the tagged classification outcome.
type Result struct {
	Variant Variant
	Kind    Kind

	// Participants is the resolved identity list for MultiParty, caller
	// first then collaborators in mention order.
	Participants []profile.Identity

	// UnknownNames holds referenced names that did not resolve, set for
	// Unrecognized.
	UnknownNames []string
}

// Directory resolves human-readable names to identities. Backed by the
// preference store in production, by a map in tests.
type Directory interface {
	ResolveName(ctx context.Context, name string) (profile.Identity, bool)
}

// Classifier inspects an inbound message for collaboration signals.
type Classifier interface {
	Classify(ctx context.Context, message string, caller profile.Identity) (*Result, error)
}

// Keyword lists for task kind detection. The selector still does the real
// ranking; these only pick which specialist to ask.
var (
	restaurantKeywords = []string{
		"dinner", "lunch", "breakfast", "brunch", "restaurant", "food",
		"eat", "meal", "cuisine", "dine",
	}
	eventKeywords = []string{
		"concert", "music", "show", "band", "artist", "gig", "venue",
		"tickets", "event", "festival",
	}
)

// collaboratorPattern matches "with Bob", "with Bob and Carol".
var collaboratorPattern = regexp.MustCompile(`(?i)\bwith\s+([A-Za-z]+(?:\s+and\s+[A-Za-z]+)*)`)

// Words that look like names in a "with X" phrase but never are.
var stopWords = map[string]struct{}{
	"me": {}, "us": {}, "you": {}, "them": {}, "everyone": {},
	"friends": {}, "family": {}, "the": {}, "a": {}, "an": {},
}

// KeywordClassifier is the default Classifier: keyword task detection plus
// "with <Name>" collaborator extraction resolved through a Directory.
type KeywordClassifier struct {
	directory Directory
}

// NewKeywordClassifier creates a classifier backed by the given directory.
func NewKeywordClassifier(directory Directory) *KeywordClassifier {
	return &KeywordClassifier{directory: directory}
}

// Classify extracts the task kind and any referenced collaborators.
func (c *KeywordClassifier) Classify(ctx context.Context, message string, caller profile.Identity) (*Result, error) {
	result := &Result{
		Kind: detectKind(message),
	}

	names := extractCollaborators(message)
	if len(names) == 0 {
		result.Variant = SingleParty
		result.Participants = []profile.Identity{caller}
		return result, nil
	}

	participants := []profile.Identity{caller}
	var unknown []string
	for _, name := range names {
		id, ok := c.directory.ResolveName(ctx, name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		if id == caller {
			continue
		}
		participants = append(participants, id)
	}

	if len(unknown) > 0 {
		result.Variant = Unrecognized
		result.UnknownNames = unknown
		return result, nil
	}
	if len(participants) == 1 {
		result.Variant = SingleParty
		result.Participants = participants
		return result, nil
	}

	result.Variant = MultiParty
	result.Participants = participants
	return result, nil
}

// detectKind scans for task keywords; restaurant wins ties since it is the
// most common request shape.
func detectKind(message string) Kind {
	lower := strings.ToLower(message)
	for _, kw := range restaurantKeywords {
		if containsWord(lower, kw) {
			return KindRestaurant
		}
	}
	for _, kw := range eventKeywords {
		if containsWord(lower, kw) {
			return KindEvent
		}
	}
	return KindGeneric
}

// containsWord matches kw on word boundaries to avoid "treat" hitting "eat".
func containsWord(text, kw string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], kw)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(kw)
		beforeOK := start == 0 || !isWordByte(text[start-1])
		afterOK := end == len(text) || !isWordByte(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

// extractCollaborators pulls candidate names out of "with X and Y" phrases.
func extractCollaborators(message string) []string {
	matches := collaboratorPattern.FindAllStringSubmatch(message, -1)
	seen := make(map[string]struct{})
	var out []string
	for _, match := range matches {
		for _, raw := range strings.Split(strings.ToLower(match[1]), " and ") {
			name := strings.TrimSpace(raw)
			if name == "" {
				continue
			}
			if _, stop := stopWords[name]; stop {
				continue
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}
