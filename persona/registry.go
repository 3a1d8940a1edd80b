// Package persona provides the static expert catalog consulted by the
// facilitator and the contribution executor. The registry is read-only to the
// engine; panels are fixed at construction time.
package persona

import (
	"fmt"

	"github.com/hupe1980/boardroom/core"
)

// Registry is an in-memory core.PersonaRegistry. List order is the insertion
// order of the panel, which the facilitator uses as a deterministic
// tie-breaker.
type Registry struct {
	byCode map[string]core.Persona
	order  []string
}

// NewRegistry builds a registry from an explicit panel. Duplicate codes are
// rejected.
func NewRegistry(panel ...core.Persona) (*Registry, error) {
	r := &Registry{byCode: make(map[string]core.Persona, len(panel))}
	for _, p := range panel {
		if p.Code == "" {
			return nil, fmt.Errorf("persona with empty code")
		}
		if _, exists := r.byCode[p.Code]; exists {
			return nil, fmt.Errorf("duplicate persona code %q", p.Code)
		}
		r.byCode[p.Code] = p
		r.order = append(r.order, p.Code)
	}
	return r, nil
}

// Get implements core.PersonaRegistry.
func (r *Registry) Get(code string) (core.Persona, error) {
	p, ok := r.byCode[code]
	if !ok {
		return core.Persona{}, fmt.Errorf("persona %q: %w", code, core.ErrPersonaNotFound)
	}
	return p, nil
}

// List implements core.PersonaRegistry returning personas in panel order.
func (r *Registry) List() []core.Persona {
	out := make([]core.Persona, 0, len(r.order))
	for _, code := range r.order {
		out = append(out, r.byCode[code])
	}
	return out
}

// Codes returns the panel codes in stable order.
func (r *Registry) Codes() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Subset returns a registry restricted to the given codes, preserving panel
// order. Unknown codes are an error.
func (r *Registry) Subset(codes ...string) (*Registry, error) {
	want := make(map[string]bool, len(codes))
	for _, c := range codes {
		if _, ok := r.byCode[c]; !ok {
			return nil, fmt.Errorf("persona %q: %w", c, core.ErrPersonaNotFound)
		}
		want[c] = true
	}
	var panel []core.Persona
	for _, code := range r.order {
		if want[code] {
			panel = append(panel, r.byCode[code])
		}
	}
	return NewRegistry(panel...)
}

// DefaultPanel returns the built-in expert panel. The selection covers the
// perspectives a business deliberation needs: strategy, finance, operations,
// market and a devil's advocate.
func DefaultPanel() []core.Persona {
	return []core.Persona{
		{
			Code:      "strategist",
			Name:      "Chief Strategist",
			Expertise: "long-term positioning, competitive dynamics",
			SystemPrompt: "You are the panel's strategist. Evaluate the problem in terms of " +
				"competitive positioning, second-order effects and strategic options. Be concrete.",
		},
		{
			Code:      "economist",
			Name:      "Financial Economist",
			Expertise: "unit economics, pricing, capital allocation",
			SystemPrompt: "You are the panel's economist. Quantify costs, revenue impact and " +
				"unit economics. Flag any claim that lacks a number.",
		},
		{
			Code:      "operator",
			Name:      "Operations Lead",
			Expertise: "execution, staffing, process design",
			SystemPrompt: "You are the panel's operator. Assess feasibility, sequencing and the " +
				"operational load of each option. Name the first three execution steps.",
		},
		{
			Code:      "marketer",
			Name:      "Market Analyst",
			Expertise: "customer demand, segmentation, go-to-market",
			SystemPrompt: "You are the panel's market analyst. Ground the discussion in customer " +
				"demand and market evidence. Request research when evidence is missing.",
		},
		{
			Code:      "skeptic",
			Name:      "Devil's Advocate",
			Expertise: "risk, failure modes, hidden assumptions",
			SystemPrompt: "You are the panel's skeptic. Attack the strongest emerging consensus, " +
				"surface hidden assumptions and enumerate failure modes.",
		},
	}
}

// DefaultRegistry returns a registry over DefaultPanel. It never fails; the
// built-in panel has unique codes.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultPanel()...)
	if err != nil {
		panic(fmt.Sprintf("persona: invalid default panel: %v", err))
	}
	return r
}
