package store

// migrations are applied in order inside one transaction per migration. The
// schema is append-mostly: session rows are the only mutable summary, every
// other table is an audit log keyed by session and cascade-deleted with it.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id             TEXT PRIMARY KEY,
		owner          TEXT NOT NULL DEFAULT '',
		problem        TEXT NOT NULL,
		context        TEXT NOT NULL DEFAULT '',
		status         TEXT NOT NULL,
		phase          TEXT NOT NULL,
		round_number   INTEGER NOT NULL DEFAULT 0,
		max_rounds     INTEGER NOT NULL,
		total_cost     REAL NOT NULL DEFAULT 0,
		total_tokens   INTEGER NOT NULL DEFAULT 0,
		synthesis      TEXT NOT NULL DEFAULT '',
		recommendation TEXT NOT NULL DEFAULT '',
		failure_reason TEXT NOT NULL DEFAULT '',
		pending_research TEXT NOT NULL DEFAULT '',
		kill_actor     TEXT,
		kill_reason    TEXT,
		kill_time      TIMESTAMP,
		replan_of      TEXT NOT NULL DEFAULT '',
		event_seq      INTEGER NOT NULL DEFAULT 0,
		created        TIMESTAMP NOT NULL,
		updated        TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS contributions (
		id           TEXT PRIMARY KEY,
		session_id   TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		persona_code TEXT NOT NULL,
		round        INTEGER NOT NULL,
		phase        TEXT NOT NULL,
		sub_problem  INTEGER NOT NULL DEFAULT 0,
		content      TEXT NOT NULL,
		cost         REAL NOT NULL DEFAULT 0,
		tokens       INTEGER NOT NULL DEFAULT 0,
		model        TEXT NOT NULL DEFAULT '',
		embedding    BLOB,
		failed       INTEGER NOT NULL DEFAULT 0,
		error        TEXT NOT NULL DEFAULT '',
		created      TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_contributions_session ON contributions(session_id, created)`,

	`CREATE TABLE IF NOT EXISTS decisions (
		id          TEXT PRIMARY KEY,
		session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		round       INTEGER NOT NULL,
		sub_problem INTEGER NOT NULL DEFAULT 0,
		kind        TEXT NOT NULL,
		speakers    TEXT NOT NULL DEFAULT '[]',
		query       TEXT NOT NULL DEFAULT '',
		reasoning   TEXT NOT NULL,
		created     TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_decisions_session ON decisions(session_id, created)`,

	`CREATE TABLE IF NOT EXISTS clarifications (
		id           TEXT PRIMARY KEY,
		session_id   TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		persona_code TEXT NOT NULL,
		question     TEXT NOT NULL,
		priority     TEXT NOT NULL,
		reasoning    TEXT NOT NULL DEFAULT '',
		round        INTEGER NOT NULL,
		answer       TEXT NOT NULL DEFAULT '',
		answered_at  TIMESTAMP,
		created      TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS sub_problems (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		idx        INTEGER NOT NULL,
		goal       TEXT NOT NULL,
		PRIMARY KEY (session_id, idx)
	)`,

	`CREATE TABLE IF NOT EXISTS sub_problem_results (
		session_id         TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		idx                INTEGER NOT NULL,
		goal               TEXT NOT NULL,
		synthesis          TEXT NOT NULL,
		expert_summaries   TEXT NOT NULL DEFAULT '{}',
		cost               REAL NOT NULL DEFAULT 0,
		duration_ns        INTEGER NOT NULL DEFAULT 0,
		contribution_count INTEGER NOT NULL DEFAULT 0,
		created            TIMESTAMP NOT NULL,
		PRIMARY KEY (session_id, idx)
	)`,

	`CREATE TABLE IF NOT EXISTS cost_records (
		id                    TEXT PRIMARY KEY,
		session_id            TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		provider              TEXT NOT NULL,
		model                 TEXT NOT NULL,
		operation             TEXT NOT NULL,
		phase                 TEXT NOT NULL DEFAULT '',
		persona_code          TEXT NOT NULL DEFAULT '',
		round                 INTEGER NOT NULL DEFAULT 0,
		input_tokens          INTEGER NOT NULL DEFAULT 0,
		output_tokens         INTEGER NOT NULL DEFAULT 0,
		cache_creation_tokens INTEGER NOT NULL DEFAULT 0,
		cache_read_tokens     INTEGER NOT NULL DEFAULT 0,
		cache_hit             INTEGER NOT NULL DEFAULT 0,
		cost                  REAL NOT NULL DEFAULT 0,
		cost_avoided          REAL NOT NULL DEFAULT 0,
		optimization          TEXT NOT NULL DEFAULT '',
		status                TEXT NOT NULL,
		error                 TEXT NOT NULL DEFAULT '',
		latency_ns            INTEGER NOT NULL DEFAULT 0,
		created               TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cost_records_session ON cost_records(session_id, created)`,

	`CREATE TABLE IF NOT EXISTS events (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		seq        INTEGER NOT NULL,
		id         TEXT NOT NULL,
		kind       TEXT NOT NULL,
		phase      TEXT NOT NULL,
		round      INTEGER NOT NULL,
		detail     TEXT NOT NULL DEFAULT '',
		created    TIMESTAMP NOT NULL,
		PRIMARY KEY (session_id, seq)
	)`,
}
