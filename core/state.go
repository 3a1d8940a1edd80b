package core

// State is the read view exposed to collaborators: the admin UI, the event
// streaming layer and the downstream action-extraction feature that parses
// Synthesis once Status reaches completed.
//
// BlockedReason always carries the most specific cause of a non-advancing
// session: a pending CRITICAL clarification, a provider error code or a kill
// reason. It is never silently empty while the session cannot advance.
type State struct {
	Session       *Session           `json:"session"`
	Outstanding   []Clarification    `json:"outstanding_clarifications,omitempty"`
	Results       []SubProblemResult `json:"results,omitempty"`
	BlockedReason string             `json:"blocked_reason,omitempty"`
	LastDecision  *Decision          `json:"last_decision,omitempty"`
}
