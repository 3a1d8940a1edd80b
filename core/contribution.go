package core

import "time"

// Contribution is one persona output within a session round. A persona may
// contribute multiple times per round/phase under facilitator direction;
// ordering is defined by creation time, not by any uniqueness constraint.
type Contribution struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	PersonaCode string    `json:"persona_code"`
	Round       int       `json:"round"`
	Phase       Phase     `json:"phase"`
	SubProblem  int       `json:"sub_problem"`
	Content     string    `json:"content"`
	Cost        float64   `json:"cost"`
	Tokens      int       `json:"tokens"`
	Model       string    `json:"model"`
	Embedding   []float32 `json:"embedding,omitempty"`
	Failed      bool      `json:"failed,omitempty"`
	Error       string    `json:"error,omitempty"`
	Created     time.Time `json:"created"`
}
