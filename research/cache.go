package research

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/google/uuid"
	"github.com/hupe1980/boardroom/embedding"
	"github.com/hupe1980/boardroom/logging"
)

// CacheOptions configures a Cache.
type CacheOptions struct {
	// Threshold is the minimum cosine similarity for a lookup to count as a
	// hit. Operators adjust it based on Tuner recommendations; the cache
	// never adjusts it on its own.
	Threshold float64
	// DedupeThreshold is the similarity above which a Store call is treated
	// as a near-duplicate of an unexpired entry and ignored.
	DedupeThreshold float64
	// Logger receives cache diagnostics.
	Logger logging.Logger
	// Now overrides the clock for tests.
	Now func() time.Time
}

// Cache is the SQLite-backed semantic research cache.
//
// Contract:
//   - Lookup never returns an entry whose freshness window has elapsed, even
//     at similarity 1.0
//   - Entries are immutable after Store except for access bumps
//   - Store uses insert-or-ignore semantics keyed by near-duplicate detection
//   - Reads are safe for concurrent use; writes are serialized by SQLite
//
// When the sqlite-vec extension is compiled in (build tag sqlite_vec) ANN
// lookups use the vec0 virtual table; otherwise lookups fall back to a
// brute-force cosine scan, which is adequate for the cache's scale.
type Cache struct {
	db        *sql.DB
	mu        sync.RWMutex
	threshold float64
	dedupe    float64
	vectorExt bool
	logger    logging.Logger
	now       func() time.Time
	closed    bool
}

// NewCache opens (or creates) the cache database at path.
func NewCache(path string, optFns ...func(o *CacheOptions)) (*Cache, error) {
	opts := CacheOptions{
		Threshold:       0.85,
		DedupeThreshold: 0.97,
		Logger:          logging.NoOpLogger{},
		Now:             func() time.Time { return time.Now().UTC() },
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			opts.Logger.Debug("research cache pragma failed", "error", err)
		}
	}

	c := &Cache{
		db:        db,
		threshold: opts.Threshold,
		dedupe:    opts.DedupeThreshold,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	c.detectVecExtension()
	return c, nil
}

func (c *Cache) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS research_entries (
	id             TEXT PRIMARY KEY,
	question       TEXT NOT NULL,
	embedding      BLOB NOT NULL,
	answer         TEXT NOT NULL,
	confidence     TEXT NOT NULL,
	sources        TEXT NOT NULL DEFAULT '[]',
	category       TEXT NOT NULL DEFAULT '',
	industry       TEXT NOT NULL DEFAULT '',
	freshness_days INTEGER NOT NULL,
	research_date  TIMESTAMP NOT NULL,
	access_count   INTEGER NOT NULL DEFAULT 0,
	last_accessed  TIMESTAMP,
	cost           REAL NOT NULL DEFAULT 0,
	tokens         INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_research_tags ON research_entries(category, industry);
CREATE TABLE IF NOT EXISTS lookup_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	ts         TIMESTAMP NOT NULL,
	similarity REAL NOT NULL,
	threshold  REAL NOT NULL,
	hit        INTEGER NOT NULL
);`
	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize cache schema: %w", err)
	}
	return nil
}

// detectVecExtension probes for the sqlite-vec extension. The build-tagged
// registration in vec_sqlite.go makes vec_version() available.
func (c *Cache) detectVecExtension() {
	var version string
	if err := c.db.QueryRow("SELECT vec_version()").Scan(&version); err == nil {
		c.vectorExt = true
		c.logger.Info("sqlite-vec extension detected", "version", version)
		if _, err := c.db.Exec(
			"CREATE VIRTUAL TABLE IF NOT EXISTS research_vec USING vec0(entry_id TEXT, embedding FLOAT[768] distance_metric=cosine)",
		); err != nil {
			c.logger.Warn("failed to create vec0 table, falling back to scan", "error", err)
			c.vectorExt = false
		}
		return
	}
	c.logger.Debug("sqlite-vec extension not available; using brute-force cosine scan")
}

// Threshold returns the current similarity threshold.
func (c *Cache) Threshold() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.threshold
}

// SetThreshold applies an operator-approved threshold change.
func (c *Cache) SetThreshold(t float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threshold = t
}

// Lookup returns the best unexpired match above the similarity threshold, or
// nil when the cache misses. Every lookup outcome is logged for the Tuner.
func (c *Cache) Lookup(ctx context.Context, queryEmbedding []float32, opts LookupOptions) (*Match, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, ErrClosed
	}
	threshold := c.threshold
	c.mu.RUnlock()

	best, bestSim, err := c.bestCandidate(ctx, queryEmbedding, opts)
	if err != nil {
		return nil, err
	}

	now := c.now()
	hit := best != nil && bestSim >= threshold && !best.Expired(now)
	c.logLookup(now, bestSim, threshold, hit)
	if rl, ok := c.logger.(logging.ResearchLookupLogger); ok {
		rl.LogResearchLookup(math.Max(bestSim, 0), threshold, hit)
	}

	if !hit {
		return nil, nil
	}
	return &Match{Entry: *best, Similarity: bestSim}, nil
}

// annCandidateLimit bounds how many neighbors the vec0 index resolves per
// lookup. Tag filters are applied after the id join, so the limit leaves
// headroom for filtered-out neighbors.
const annCandidateLimit = 16

// bestCandidate finds the nearest stored entry regardless of threshold or
// freshness; filtering happens in Lookup so near-misses are still observable
// by the tuner. With the sqlite-vec extension present the candidate set comes
// from the vec0 index; index failures fall back to the brute-force scan.
func (c *Cache) bestCandidate(ctx context.Context, query []float32, opts LookupOptions) (*Entry, float64, error) {
	if c.vectorExt {
		if entry, sim, ok := c.annCandidate(ctx, query, opts); ok {
			return entry, sim, nil
		}
	}
	rows, err := c.db.QueryContext(ctx, `
SELECT id, question, embedding, answer, confidence, sources, category, industry,
       freshness_days, research_date, access_count, last_accessed, cost, tokens
FROM research_entries
WHERE (? = '' OR category = ?) AND (? = '' OR industry = ?)`,
		opts.Category, opts.Category, opts.Industry, opts.Industry)
	if err != nil {
		return nil, 0, fmt.Errorf("cache scan failed: %w", err)
	}
	defer rows.Close()

	var best *Entry
	bestSim := -1.0
	for rows.Next() {
		entry, blob, err := scanEntry(rows)
		if err != nil {
			c.logger.Debug("skipping unreadable cache row", "error", err)
			continue
		}
		vec := decodeVector(blob)
		sim, err := embedding.CosineSimilarity(query, vec)
		if err != nil {
			continue
		}
		if sim > bestSim {
			entry.Embedding = vec
			e := entry
			best = &e
			bestSim = sim
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return best, bestSim, nil
}

// annCandidate resolves the nearest entry through the vec0 index and joins the
// matched ids back to research_entries, so tag filters and the similarity
// reported upward come from the canonical rows. Returns ok=false when the
// index cannot serve the query, in which case the caller scans.
func (c *Cache) annCandidate(ctx context.Context, query []float32, opts LookupOptions) (*Entry, float64, bool) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT entry_id FROM research_vec WHERE embedding MATCH ? ORDER BY distance LIMIT ?",
		encodeVector(query), annCandidateLimit)
	if err != nil {
		c.logger.Warn("vec0 query failed, falling back to scan", "error", err)
		return nil, 0, false
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, 0, false
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, false
	}
	if len(ids) == 0 {
		// the index may lag behind research_entries after a failed insert;
		// let the scan decide whether the cache is truly empty
		return nil, 0, false
	}

	var best *Entry
	bestSim := -1.0
	for _, id := range ids {
		entry, err := c.Get(ctx, id)
		if err != nil {
			c.logger.Debug("vec0 index references missing entry", "entry_id", id)
			continue
		}
		if opts.Category != "" && entry.Category != opts.Category {
			continue
		}
		if opts.Industry != "" && entry.Industry != opts.Industry {
			continue
		}
		sim, err := embedding.CosineSimilarity(query, entry.Embedding)
		if err != nil {
			continue
		}
		if sim > bestSim {
			best = entry
			bestSim = sim
		}
	}
	if best == nil {
		// every neighbor was filtered out or unreadable; a matching entry may
		// still exist beyond the candidate limit
		return nil, 0, false
	}
	return best, bestSim, true
}

// Store inserts a new entry unless a near-duplicate unexpired entry already
// exists, in which case the existing entry's id is returned unchanged.
func (c *Cache) Store(ctx context.Context, entry Entry) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrClosed
	}

	if dup, sim, err := c.bestCandidate(ctx, entry.Embedding, LookupOptions{}); err == nil &&
		dup != nil && sim >= c.dedupe && !dup.Expired(c.now()) {
		c.logger.Debug("near-duplicate cache entry ignored", "similarity", sim, "existing", dup.ID)
		return dup.ID, nil
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.ResearchDate.IsZero() {
		entry.ResearchDate = c.now()
	}
	sources, err := json.Marshal(entry.Sources)
	if err != nil {
		return "", fmt.Errorf("failed to serialize sources: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
INSERT INTO research_entries
	(id, question, embedding, answer, confidence, sources, category, industry,
	 freshness_days, research_date, access_count, cost, tokens)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		entry.ID, entry.Question, encodeVector(entry.Embedding), entry.Answer,
		string(entry.Confidence), string(sources), entry.Category, entry.Industry,
		entry.FreshnessDays, entry.ResearchDate, entry.Cost, entry.Tokens)
	if err != nil {
		return "", fmt.Errorf("failed to store cache entry: %w", err)
	}

	if c.vectorExt {
		if _, err := c.db.ExecContext(ctx,
			"INSERT INTO research_vec(entry_id, embedding) VALUES (?, ?)",
			entry.ID, encodeVector(entry.Embedding)); err != nil {
			c.logger.Warn("vec0 index insert failed", "entry_id", entry.ID, "error", err)
		}
	}
	return entry.ID, nil
}

// RecordAccess bumps access_count and last_accessed for a consumed entry.
// This is the only permitted mutation of a stored entry.
func (c *Cache) RecordAccess(ctx context.Context, entryID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	res, err := c.db.ExecContext(ctx,
		"UPDATE research_entries SET access_count = access_count + 1, last_accessed = ? WHERE id = ?",
		c.now(), entryID)
	if err != nil {
		return fmt.Errorf("failed to record access: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("cache entry %s not found", entryID)
	}
	return nil
}

// Get returns a single entry by id.
func (c *Cache) Get(ctx context.Context, entryID string) (*Entry, error) {
	row := c.db.QueryRowContext(ctx, `
SELECT id, question, embedding, answer, confidence, sources, category, industry,
       freshness_days, research_date, access_count, last_accessed, cost, tokens
FROM research_entries WHERE id = ?`, entryID)
	entry, blob, err := scanEntry(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("cache entry %s not found", entryID)
		}
		return nil, err
	}
	entry.Embedding = decodeVector(blob)
	return &entry, nil
}

func (c *Cache) logLookup(ts time.Time, similarity, threshold float64, hit bool) {
	if similarity < 0 {
		similarity = 0
	}
	if _, err := c.db.Exec(
		"INSERT INTO lookup_log (ts, similarity, threshold, hit) VALUES (?, ?, ?, ?)",
		ts, similarity, threshold, boolToInt(hit)); err != nil {
		c.logger.Debug("failed to log cache lookup", "error", err)
	}
}

// Close releases the underlying database.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (Entry, []byte, error) {
	var (
		entry        Entry
		blob         []byte
		confidence   string
		sources      string
		lastAccessed sql.NullTime
	)
	err := r.Scan(&entry.ID, &entry.Question, &blob, &entry.Answer, &confidence,
		&sources, &entry.Category, &entry.Industry, &entry.FreshnessDays,
		&entry.ResearchDate, &entry.AccessCount, &lastAccessed, &entry.Cost, &entry.Tokens)
	if err != nil {
		return Entry{}, nil, err
	}
	entry.Confidence = Confidence(confidence)
	if lastAccessed.Valid {
		entry.LastAccessed = lastAccessed.Time
	}
	if err := json.Unmarshal([]byte(sources), &entry.Sources); err != nil {
		entry.Sources = nil
	}
	return entry, blob, nil
}

// encodeVector serializes a float32 slice as little-endian bytes, the layout
// sqlite-vec expects for FLOAT columns.
func encodeVector(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func decodeVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
