package model

// Operation names the purpose of a model call, used for cost-aware routing
// and for tagging cost records.
type Operation string

const (
	// OpDecomposition splits the problem statement into sub-problems.
	OpDecomposition Operation = "decomposition"
	// OpContribution produces a persona's round contribution.
	OpContribution Operation = "contribution"
	// OpResearch answers an external research query.
	OpResearch Operation = "research"
	// OpSynthesis combines contributions of a sub-problem.
	OpSynthesis Operation = "synthesis"
	// OpMetaSynthesis combines sub-problem syntheses.
	OpMetaSynthesis Operation = "meta_synthesis"
	// OpSummary produces per-expert summaries at synthesis time.
	OpSummary Operation = "summary"
)

// Router performs cost-aware model selection: structured low-stakes
// operations (decomposition, summaries) go to the economy model while
// contributions and syntheses use the primary model. When both models are the
// same instance routing is a no-op with zero avoided cost.
type Router struct {
	primary Model
	economy Model
}

// NewRouter builds a Router. A nil economy model routes everything to primary.
func NewRouter(primary, economy Model) *Router {
	if economy == nil {
		economy = primary
	}
	return &Router{primary: primary, economy: economy}
}

// Pick returns the model to use for the given operation.
func (r *Router) Pick(op Operation) Model {
	switch op {
	case OpDecomposition, OpSummary:
		return r.economy
	default:
		return r.primary
	}
}

// Avoided estimates the cost saved by routing op to the economy model instead
// of the primary one, given the actual usage of the call. Returns 0 when the
// call was routed to the primary model.
func (r *Router) Avoided(op Operation, u Usage) float64 {
	picked := r.Pick(op)
	if picked == r.primary {
		return 0
	}
	saved := Cost(r.primary.Info(), u) - Cost(picked.Info(), u)
	if saved < 0 {
		return 0
	}
	return saved
}
