// Package core defines the shared domain types of the deliberation engine:
// sessions, contributions, facilitator decisions, clarifications, sub-problems,
// cost records and ordered engine events, plus the store interfaces the
// orchestrator persists them through.
//
// The Session is the aggregate root. Contributions, decisions, clarifications,
// sub-problem results and the session's slice of cost records are owned by and
// cascade-deleted with their session. Research cache entries are cross-session
// shared state and live outside this ownership tree (see package research).
package core
