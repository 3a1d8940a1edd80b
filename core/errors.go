package core

import "errors"

// Sentinel errors shared across store implementations and the orchestrator.
var (
	// ErrSessionNotFound indicates a lookup for an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrPersonaNotFound indicates a registry lookup for an unknown persona code.
	ErrPersonaNotFound = errors.New("persona not found")
	// ErrClarificationNotFound indicates an answer submission for an unknown clarification.
	ErrClarificationNotFound = errors.New("clarification not found")
	// ErrTerminalSession indicates an attempted mutation of a terminal session.
	ErrTerminalSession = errors.New("session is terminal")
	// ErrMissingReasoning indicates a facilitator decision without reasoning
	// text. Reasoning is mandatory for audit and UI replay; its absence is a
	// contract violation, not missing metadata.
	ErrMissingReasoning = errors.New("facilitator decision missing reasoning")
)
