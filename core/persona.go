package core

// Persona is a named expert role with a fixed system prompt, one voice in the
// deliberation panel. Personas are static catalog entries; the engine never
// mutates them.
type Persona struct {
	Code         string `json:"code"`
	Name         string `json:"name"`
	Expertise    string `json:"expertise"`
	SystemPrompt string `json:"system_prompt"`
}

// PersonaRegistry is a read-only catalog lookup by persona code.
//
// Contract:
//   - Get returns ErrPersonaNotFound-style errors for unknown codes
//   - List returns personas in a stable order; callers rely on that order for
//     deterministic tie-breaking
type PersonaRegistry interface {
	Get(code string) (Persona, error)
	List() []Persona
}
