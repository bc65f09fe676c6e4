// ABOUTME: Selector wire contract - merged constraints out, ranked candidates back.
// ABOUTME: JSON over HTTP; conversion helpers keep the round trip lossless.

package selector

import (
	"fmt"
	"time"

	"github.com/concord-agents/concord-gateway/internal/merge"
	"github.com/concord-agents/concord-gateway/internal/profile"
)

// Constraints is the request body sent to a selector's /invoke endpoint.
type Constraints struct {
	Cuisines            []string       `json:"cuisines"`
	DietaryRestrictions []string       `json:"dietary_restrictions"`
	BudgetLevel         profile.Budget `json:"budget_level"`
	Atmosphere          []string       `json:"atmosphere"`

	// TimeWindow is [start, end] in RFC 3339, omitted when unconstrained.
	TimeWindow []string `json:"time_window,omitempty"`

	Location *LocationPayload `json:"location,omitempty"`
}

// LocationPayload carries the merged location on the wire.
type LocationPayload struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`

	// MaxTravelTime is in whole seconds, 0 when unbounded.
	MaxTravelTime int64 `json:"max_travel_time,omitempty"`
}

// Candidate is one ranked result from a selector. DietaryTags and
// PriceLevel expose the selector's own filtering metadata so the caller can
// re-validate hard constraints locally.
type Candidate struct {
	Name        string            `json:"name"`
	Address     string            `json:"address"`
	Score       float64           `json:"score"`
	DietaryTags []string          `json:"dietary_tags,omitempty"`
	PriceLevel  profile.Budget    `json:"price_level,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Response is the selector's reply: candidates in rank order, best first.
type Response struct {
	Candidates []Candidate `json:"candidates"`
}

// FromMerged converts a merged constraint set into its wire form.
func FromMerged(m *merge.Merged) *Constraints {
	c := &Constraints{
		Cuisines:            m.Cuisines,
		DietaryRestrictions: m.DietaryRestrictions,
		BudgetLevel:         m.Budget,
		Atmosphere:          m.Atmosphere,
	}
	if !m.Window.IsZero() {
		c.TimeWindow = []string{
			m.Window.Earliest.UTC().Format(time.RFC3339),
			m.Window.Latest.UTC().Format(time.RFC3339),
		}
	}
	if !m.Location.IsZero() {
		c.Location = &LocationPayload{
			Lat:           m.Location.Lat,
			Lng:           m.Location.Lng,
			MaxTravelTime: int64(m.Location.MaxTravel / time.Second),
		}
	}
	return c
}

// ToMerged converts wire constraints back into the internal form. Selectors
// use this to apply the same validation helpers as the gateway.
func (c *Constraints) ToMerged() (*merge.Merged, error) {
	m := &merge.Merged{
		Cuisines:            c.Cuisines,
		DietaryRestrictions: c.DietaryRestrictions,
		Budget:              c.BudgetLevel,
		Atmosphere:          c.Atmosphere,
	}
	if len(c.TimeWindow) > 0 {
		if len(c.TimeWindow) != 2 {
			return nil, fmt.Errorf("time_window must have exactly 2 elements, got %d", len(c.TimeWindow))
		}
		earliest, err := time.Parse(time.RFC3339, c.TimeWindow[0])
		if err != nil {
			return nil, fmt.Errorf("parsing time_window start: %w", err)
		}
		latest, err := time.Parse(time.RFC3339, c.TimeWindow[1])
		if err != nil {
			return nil, fmt.Errorf("parsing time_window end: %w", err)
		}
		m.Window = profile.TimeWindow{Earliest: earliest, Latest: latest}
	}
	if c.Location != nil {
		m.Location = profile.Location{
			Lat:       c.Location.Lat,
			Lng:       c.Location.Lng,
			MaxTravel: time.Duration(c.Location.MaxTravelTime) * time.Second,
		}
	}
	return m, nil
}
