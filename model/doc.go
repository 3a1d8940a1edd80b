// Package model defines the provider-neutral LLM interface used by the
// deliberation engine, together with token usage accounting, cost estimation
// and the transient/permanent provider error taxonomy. Concrete adapters live
// in the anthropic and openai sub-packages; MockModel serves tests and demos.
package model
