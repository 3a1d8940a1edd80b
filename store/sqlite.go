package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hupe1980/boardroom/core"
	"github.com/hupe1980/boardroom/logging"
)

// SQLiteStore is the durable core.SessionStore implementation. A single
// connection with WAL journaling serializes writers; AppendStep commits the
// whole step in one transaction so counters and audit rows cannot drift.
type SQLiteStore struct {
	db     *sql.DB
	logger logging.Logger
}

// SQLiteOptions configures SQLite store construction.
type SQLiteOptions struct {
	Logger logging.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path and applies
// the schema. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string, optFns ...func(o *SQLiteOptions)) (*SQLiteStore, error) {
	opts := SQLiteOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// Single writer avoids SQLITE_BUSY under concurrent sessions.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	for i, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply migration %d: %w", i, err)
		}
	}

	return &SQLiteStore{db: db, logger: opts.Logger}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Create implements core.SessionStore.
func (s *SQLiteStore) Create(ctx context.Context, step core.StepResult) error {
	if step.Session == nil {
		return fmt.Errorf("create requires a session")
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		sess := step.Session
		var killActor, killReason sql.NullString
		var killTime sql.NullTime
		if sess.Kill != nil {
			killActor = sql.NullString{String: sess.Kill.Actor, Valid: true}
			killReason = sql.NullString{String: sess.Kill.Reason, Valid: true}
			killTime = sql.NullTime{Time: sess.Kill.Time, Valid: true}
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO sessions
			(id, owner, problem, context, status, phase, round_number, max_rounds,
			 total_cost, total_tokens, synthesis, recommendation, failure_reason,
			 pending_research, kill_actor, kill_reason, kill_time, replan_of,
			 event_seq, created, updated)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, sess.Owner, sess.Problem, sess.Context, string(sess.Status),
			string(sess.Phase), sess.RoundNumber, sess.MaxRounds, sess.TotalCost,
			sess.TotalTokens, sess.Synthesis, sess.Recommendation, sess.FailureReason,
			sess.PendingResearch, killActor, killReason, killTime, sess.ReplanOf,
			sess.EventSeq, sess.Created, sess.Updated)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return s.appendRecordsTx(ctx, tx, step)
	})
}

// AppendStep implements core.SessionStore. The stored session row's status is
// re-checked inside the transaction; a terminal status rejects the commit
// with core.ErrTerminalSession so a kill always wins over an in-flight step.
func (s *SQLiteStore) AppendStep(ctx context.Context, step core.StepResult) error {
	if step.Session == nil {
		return fmt.Errorf("append requires a session")
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM sessions WHERE id = ?`, step.Session.ID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("session %s: %w", step.Session.ID, core.ErrSessionNotFound)
		}
		if err != nil {
			return fmt.Errorf("load session status: %w", err)
		}
		if core.Status(status).IsTerminal() {
			return fmt.Errorf("session %s: %w", step.Session.ID, core.ErrTerminalSession)
		}

		sess := step.Session
		var killActor, killReason sql.NullString
		var killTime sql.NullTime
		if sess.Kill != nil {
			killActor = sql.NullString{String: sess.Kill.Actor, Valid: true}
			killReason = sql.NullString{String: sess.Kill.Reason, Valid: true}
			killTime = sql.NullTime{Time: sess.Kill.Time, Valid: true}
		}
		_, err = tx.ExecContext(ctx, `UPDATE sessions SET
			status = ?, phase = ?, round_number = ?, total_cost = ?, total_tokens = ?,
			synthesis = ?, recommendation = ?, failure_reason = ?, pending_research = ?,
			kill_actor = ?, kill_reason = ?, kill_time = ?, event_seq = ?, updated = ?
			WHERE id = ?`,
			string(sess.Status), string(sess.Phase), sess.RoundNumber, sess.TotalCost,
			sess.TotalTokens, sess.Synthesis, sess.Recommendation, sess.FailureReason,
			sess.PendingResearch, killActor, killReason, killTime, sess.EventSeq,
			sess.Updated, sess.ID)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		return s.appendRecordsTx(ctx, tx, step)
	})
}

// appendRecordsTx inserts the append-only parts of one step.
func (s *SQLiteStore) appendRecordsTx(ctx context.Context, tx *sql.Tx, step core.StepResult) error {
	if step.Decision != nil {
		d := step.Decision
		speakers, err := json.Marshal(d.Speakers)
		if err != nil {
			return fmt.Errorf("encode speakers: %w", err)
		}
		if d.Speakers == nil {
			speakers = []byte("[]")
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO decisions
			(id, session_id, round, sub_problem, kind, speakers, query, reasoning, created)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, d.SessionID, d.Round, d.SubProblem, string(d.Kind),
			string(speakers), d.Query, d.Reasoning, d.Created)
		if err != nil {
			return fmt.Errorf("insert decision: %w", err)
		}
	}

	for _, c := range step.Contributions {
		_, err := tx.ExecContext(ctx, `INSERT INTO contributions
			(id, session_id, persona_code, round, phase, sub_problem, content,
			 cost, tokens, model, embedding, failed, error, created)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.SessionID, c.PersonaCode, c.Round, string(c.Phase), c.SubProblem,
			c.Content, c.Cost, c.Tokens, c.Model, encodeEmbedding(c.Embedding),
			boolInt(c.Failed), c.Error, c.Created)
		if err != nil {
			return fmt.Errorf("insert contribution: %w", err)
		}
	}

	for _, c := range step.Clarifications {
		var answered sql.NullTime
		if c.AnsweredAt != nil {
			answered = sql.NullTime{Time: *c.AnsweredAt, Valid: true}
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO clarifications
			(id, session_id, persona_code, question, priority, reasoning, round,
			 answer, answered_at, created)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.SessionID, c.PersonaCode, c.Question, string(c.Priority),
			c.Reasoning, c.Round, c.Answer, answered, c.Created)
		if err != nil {
			return fmt.Errorf("insert clarification: %w", err)
		}
	}

	for _, sp := range step.SubProblems {
		_, err := tx.ExecContext(ctx, `INSERT INTO sub_problems (session_id, idx, goal)
			VALUES (?, ?, ?)`, step.Session.ID, sp.Index, sp.Goal)
		if err != nil {
			return fmt.Errorf("insert sub-problem: %w", err)
		}
	}

	for _, r := range step.Results {
		summaries, err := json.Marshal(r.ExpertSummaries)
		if err != nil {
			return fmt.Errorf("encode expert summaries: %w", err)
		}
		if r.ExpertSummaries == nil {
			summaries = []byte("{}")
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO sub_problem_results
			(session_id, idx, goal, synthesis, expert_summaries, cost, duration_ns,
			 contribution_count, created)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.SessionID, r.Index, r.Goal, r.Synthesis, string(summaries), r.Cost,
			int64(r.Duration), r.ContributionCnt, r.Created)
		if err != nil {
			return fmt.Errorf("insert sub-problem result: %w", err)
		}
	}

	for _, rec := range step.CostRecords {
		_, err := tx.ExecContext(ctx, `INSERT INTO cost_records
			(id, session_id, provider, model, operation, phase, persona_code, round,
			 input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens,
			 cache_hit, cost, cost_avoided, optimization, status, error, latency_ns, created)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.SessionID, rec.Provider, rec.Model, rec.Operation,
			string(rec.Phase), rec.PersonaCode, rec.Round, rec.Tokens.Input,
			rec.Tokens.Output, rec.Tokens.CacheCreation, rec.Tokens.CacheRead,
			boolInt(rec.CacheHit), rec.Cost, rec.CostAvoided, rec.Optimization,
			rec.Status, rec.Error, int64(rec.Latency), rec.Created)
		if err != nil {
			return fmt.Errorf("insert cost record: %w", err)
		}
	}

	for _, ev := range step.Events {
		_, err := tx.ExecContext(ctx, `INSERT INTO events
			(session_id, seq, id, kind, phase, round, detail, created)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.SessionID, ev.Seq, ev.ID, string(ev.Kind), string(ev.Phase),
			ev.Round, ev.Detail, ev.Timestamp)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	return nil
}

// GetSession implements core.SessionStore.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*core.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, owner, problem, context, status,
		phase, round_number, max_rounds, total_cost, total_tokens, synthesis,
		recommendation, failure_reason, pending_research, kill_actor, kill_reason,
		kill_time, replan_of, event_seq, created, updated
		FROM sessions WHERE id = ?`, id)

	var sess core.Session
	var status, phase string
	var killActor, killReason sql.NullString
	var killTime sql.NullTime
	err := row.Scan(&sess.ID, &sess.Owner, &sess.Problem, &sess.Context, &status,
		&phase, &sess.RoundNumber, &sess.MaxRounds, &sess.TotalCost,
		&sess.TotalTokens, &sess.Synthesis, &sess.Recommendation,
		&sess.FailureReason, &sess.PendingResearch, &killActor, &killReason,
		&killTime, &sess.ReplanOf, &sess.EventSeq, &sess.Created, &sess.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, core.ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	sess.Status = core.Status(status)
	sess.Phase = core.Phase(phase)
	if killActor.Valid {
		sess.Kill = &core.KillInfo{Actor: killActor.String, Reason: killReason.String, Time: killTime.Time}
	}
	return &sess, nil
}

// ListContributions implements core.SessionStore.
func (s *SQLiteStore) ListContributions(ctx context.Context, sessionID string) ([]core.Contribution, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, session_id, persona_code,
		round, phase, sub_problem, content, cost, tokens, model, embedding,
		failed, error, created
		FROM contributions WHERE session_id = ? ORDER BY rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list contributions: %w", err)
	}
	defer rows.Close()

	var out []core.Contribution
	for rows.Next() {
		var c core.Contribution
		var phase string
		var embedding []byte
		var failed int
		if err := rows.Scan(&c.ID, &c.SessionID, &c.PersonaCode, &c.Round, &phase,
			&c.SubProblem, &c.Content, &c.Cost, &c.Tokens, &c.Model, &embedding,
			&failed, &c.Error, &c.Created); err != nil {
			return nil, fmt.Errorf("scan contribution: %w", err)
		}
		c.Phase = core.Phase(phase)
		c.Embedding = decodeEmbedding(embedding)
		c.Failed = failed != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListDecisions implements core.SessionStore.
func (s *SQLiteStore) ListDecisions(ctx context.Context, sessionID string) ([]core.Decision, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, session_id, round, sub_problem,
		kind, speakers, query, reasoning, created
		FROM decisions WHERE session_id = ? ORDER BY rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []core.Decision
	for rows.Next() {
		var d core.Decision
		var kind, speakers string
		if err := rows.Scan(&d.ID, &d.SessionID, &d.Round, &d.SubProblem, &kind,
			&speakers, &d.Query, &d.Reasoning, &d.Created); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d.Kind = core.DecisionKind(kind)
		if err := json.Unmarshal([]byte(speakers), &d.Speakers); err != nil {
			return nil, fmt.Errorf("decode speakers: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListClarifications implements core.SessionStore.
func (s *SQLiteStore) ListClarifications(ctx context.Context, sessionID string) ([]core.Clarification, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, session_id, persona_code,
		question, priority, reasoning, round, answer, answered_at, created
		FROM clarifications WHERE session_id = ? ORDER BY rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list clarifications: %w", err)
	}
	defer rows.Close()

	var out []core.Clarification
	for rows.Next() {
		c, err := scanClarification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanClarification(row interface{ Scan(...any) error }) (core.Clarification, error) {
	var c core.Clarification
	var priority string
	var answered sql.NullTime
	if err := row.Scan(&c.ID, &c.SessionID, &c.PersonaCode, &c.Question, &priority,
		&c.Reasoning, &c.Round, &c.Answer, &answered, &c.Created); err != nil {
		return core.Clarification{}, fmt.Errorf("scan clarification: %w", err)
	}
	c.Priority = core.Priority(priority)
	if answered.Valid {
		t := answered.Time
		c.AnsweredAt = &t
	}
	return c, nil
}

// AnswerClarification implements core.SessionStore. Answering is idempotent:
// a second submission for an already answered clarification is a no-op.
func (s *SQLiteStore) AnswerClarification(ctx context.Context, sessionID, clarificationID, answer string) (core.Clarification, error) {
	var out core.Clarification
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT id, session_id, persona_code,
			question, priority, reasoning, round, answer, answered_at, created
			FROM clarifications WHERE session_id = ? AND id = ?`, sessionID, clarificationID)
		c, err := scanClarification(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("clarification %s: %w", clarificationID, core.ErrClarificationNotFound)
			}
			return err
		}
		if !c.IsAnswered() {
			now := time.Now().UTC()
			if _, err := tx.ExecContext(ctx,
				`UPDATE clarifications SET answer = ?, answered_at = ? WHERE id = ?`,
				answer, now, clarificationID); err != nil {
				return fmt.Errorf("answer clarification: %w", err)
			}
			c.Answer = answer
			c.AnsweredAt = &now
		}
		out = c
		return nil
	})
	return out, err
}

// ListSubProblems implements core.SessionStore.
func (s *SQLiteStore) ListSubProblems(ctx context.Context, sessionID string) ([]core.SubProblem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, goal FROM sub_problems WHERE session_id = ? ORDER BY idx`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list sub-problems: %w", err)
	}
	defer rows.Close()

	var out []core.SubProblem
	for rows.Next() {
		var sp core.SubProblem
		if err := rows.Scan(&sp.Index, &sp.Goal); err != nil {
			return nil, fmt.Errorf("scan sub-problem: %w", err)
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

// ListResults implements core.SessionStore.
func (s *SQLiteStore) ListResults(ctx context.Context, sessionID string) ([]core.SubProblemResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id, idx, goal, synthesis,
		expert_summaries, cost, duration_ns, contribution_count, created
		FROM sub_problem_results WHERE session_id = ? ORDER BY idx`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list sub-problem results: %w", err)
	}
	defer rows.Close()

	var out []core.SubProblemResult
	for rows.Next() {
		var r core.SubProblemResult
		var summaries string
		var durationNs int64
		if err := rows.Scan(&r.SessionID, &r.Index, &r.Goal, &r.Synthesis,
			&summaries, &r.Cost, &durationNs, &r.ContributionCnt, &r.Created); err != nil {
			return nil, fmt.Errorf("scan sub-problem result: %w", err)
		}
		r.Duration = time.Duration(durationNs)
		if err := json.Unmarshal([]byte(summaries), &r.ExpertSummaries); err != nil {
			return nil, fmt.Errorf("decode expert summaries: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListEvents implements core.SessionStore returning events with Seq > afterSeq.
func (s *SQLiteStore) ListEvents(ctx context.Context, sessionID string, afterSeq uint64) ([]core.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, session_id, seq, kind, phase,
		round, detail, created
		FROM events WHERE session_id = ? AND seq > ? ORDER BY seq`, sessionID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []core.Event
	for rows.Next() {
		var ev core.Event
		var kind, phase string
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Seq, &kind, &phase,
			&ev.Round, &ev.Detail, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Kind = core.EventKind(kind)
		ev.Phase = core.Phase(phase)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// SessionCostReport implements core.SessionStore using SQL aggregation.
func (s *SQLiteStore) SessionCostReport(ctx context.Context, sessionID string) (*core.CostReport, error) {
	return s.costReport(ctx, `WHERE session_id = ?`, sessionID)
}

// GlobalCostReport implements core.SessionStore aggregating across all sessions.
func (s *SQLiteStore) GlobalCostReport(ctx context.Context) (*core.CostReport, error) {
	return s.costReport(ctx, ``)
}

func (s *SQLiteStore) costReport(ctx context.Context, where string, args ...any) (*core.CostReport, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT provider, model, operation,
		COUNT(*),
		COALESCE(SUM(input_tokens + output_tokens + cache_creation_tokens + cache_read_tokens), 0),
		COALESCE(SUM(cost), 0),
		COALESCE(SUM(cost_avoided), 0)
		FROM cost_records `+where+` GROUP BY provider, model, operation`, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate cost records: %w", err)
	}
	defer rows.Close()

	report := core.NewCostReport()
	for rows.Next() {
		var provider, model, operation string
		var group core.CostTotals
		if err := rows.Scan(&provider, &model, &operation, &group.Calls,
			&group.Tokens, &group.Cost, &group.CostAvoided); err != nil {
			return nil, fmt.Errorf("scan cost group: %w", err)
		}
		addTotals(&report.Total, group)
		p := report.ByProvider[provider]
		addTotals(&p, group)
		report.ByProvider[provider] = p
		m := report.ByModel[model]
		addTotals(&m, group)
		report.ByModel[model] = m
		o := report.ByOperation[operation]
		addTotals(&o, group)
		report.ByOperation[operation] = o
	}
	return report, rows.Err()
}

func addTotals(dst *core.CostTotals, src core.CostTotals) {
	dst.Calls += src.Calls
	dst.Tokens += src.Tokens
	dst.Cost += src.Cost
	dst.CostAvoided += src.CostAvoided
}

// Purge implements core.SessionStore; child rows cascade via foreign keys.
func (s *SQLiteStore) Purge(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("purge session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("purge session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, core.ErrSessionNotFound)
	}
	return nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// encodeEmbedding serializes a vector as little-endian float32, the layout
// sqlite-vec expects for FLOAT[] columns.
func encodeEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	if len(buf) < 4 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
