package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/user/memex/internal/types"
)

// Local is a MemoryFacade backed by a single-file, pure-Go SQLite database
// (no cgo). Grounded on HendryAvila-Hoofy/internal/memory/store.go's
// pragma/migrate/query shape, chosen over the teacher's flat-JSON-file store
// because QA search needs WHERE status = ? AND validation_level >= ?
// filtering a directory of JSON files can't do efficiently.
type Local struct {
	db *sql.DB
}

// NewLocal opens (creating if necessary) the sqlite database at path and
// runs its migrations.
func NewLocal(path string) (*Local, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create memory db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}

	l := &Local{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Local) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS qa_records (
		qa_id             TEXT PRIMARY KEY,
		project_id        TEXT NOT NULL,
		query             TEXT NOT NULL,
		answer            TEXT NOT NULL,
		score             REAL NOT NULL DEFAULT 0,
		trust             REAL NOT NULL DEFAULT 0,
		validation_level  INTEGER NOT NULL DEFAULT 0,
		freshness         REAL NOT NULL DEFAULT 1,
		status            TEXT NOT NULL DEFAULT 'active',
		consecutive_fail  INTEGER NOT NULL DEFAULT 0,
		last_validation_key TEXT,
		metadata          TEXT,
		created_at        TEXT NOT NULL,
		updated_at        TEXT NOT NULL,
		synced_at         TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_qa_project ON qa_records(project_id);
	CREATE INDEX IF NOT EXISTS idx_qa_status ON qa_records(status);

	CREATE TABLE IF NOT EXISTS hits (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id TEXT NOT NULL,
		qa_id      TEXT NOT NULL,
		shown      INTEGER NOT NULL,
		used       INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS validations (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id TEXT NOT NULL,
		qa_id      TEXT NOT NULL,
		result     TEXT NOT NULL,
		notes      TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS candidates (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		query      TEXT NOT NULL,
		answer     TEXT NOT NULL,
		context    TEXT,
		tags       TEXT,
		confidence REAL NOT NULL,
		created_at TEXT NOT NULL,
		synced_at  TEXT
	);
	`
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate memory db: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (l *Local) Close() error {
	return l.db.Close()
}

// Search implements types.MemoryFacade. Results are ordered by score
// descending, matching "result order SHOULD be non-increasing score"
// (spec §4.2); the engine re-sorts defensively regardless.
func (l *Local) Search(ctx context.Context, payload types.SearchPayload) ([]types.QARecord, error) {
	limit := payload.Limit
	if limit <= 0 || limit > 20 {
		limit = 20
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT qa_id, query, answer, score, trust, validation_level, freshness, status, consecutive_fail, metadata
		FROM qa_records
		WHERE project_id = ? AND score >= ? AND instr(lower(query), lower(?)) > 0
		ORDER BY score DESC
		LIMIT ?`,
		payload.ProjectID, payload.MinScore, payload.Query, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search qa_records: %w", err)
	}
	defer rows.Close()

	var out []types.QARecord
	for rows.Next() {
		var rec types.QARecord
		var metaJSON sql.NullString
		if err := rows.Scan(&rec.QAID, &rec.Query, &rec.Answer, &rec.Score, &rec.Trust,
			&rec.ValidationLevel, &rec.Freshness, &rec.Status, &rec.ConsecutiveFail, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan qa_record: %w", err)
		}
		if metaJSON.Valid && metaJSON.String != "" {
			_ = json.Unmarshal([]byte(metaJSON.String), &rec.Metadata)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate qa_records: %w", err)
	}
	return out, nil
}

// RecordHit implements types.MemoryFacade. Each call appends one row per
// ref to the hits table, an append-only audit trail; repeated calls with
// the same refs are not deduplicated and append further rows.
func (l *Local) RecordHit(ctx context.Context, projectID string, refs []types.HitRef) error {
	now := time.Now().UTC().Format(time.RFC3339)
	for _, ref := range refs {
		if _, err := l.db.ExecContext(ctx,
			`INSERT INTO hits (project_id, qa_id, shown, used, created_at) VALUES (?, ?, ?, ?, ?)`,
			projectID, ref.QAID, boolToInt(ref.Shown), boolToInt(ref.Used), now,
		); err != nil {
			return fmt.Errorf("record hit %s: %w", ref.QAID, err)
		}
	}
	return nil
}

// RecordValidation implements types.MemoryFacade. Idempotent with respect to
// its carried identifier (qa_id): applying the same (qa_id, result, notes)
// twice in a row converges to the same consecutive_fail state as applying it
// once, instead of double-incrementing/decrementing the fail streak (spec
// §4.2, testable property §8 #2). Repeats are detected by comparing against
// the last validation key stamped on the qa_record; a genuinely new
// validation (a different result/notes, or one separated by an intervening
// validation) always applies.
func (l *Local) RecordValidation(ctx context.Context, projectID string, qaID types.QAID, result string, notes string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record validation %s: %w", qaID, err)
	}
	defer tx.Rollback()

	key := result + "\x00" + notes
	var lastKey sql.NullString
	switch err := tx.QueryRowContext(ctx, `SELECT last_validation_key FROM qa_records WHERE qa_id = ?`, qaID).Scan(&lastKey); {
	case err != nil && err != sql.ErrNoRows:
		return fmt.Errorf("lookup last validation key for %s: %w", qaID, err)
	case err == nil && lastKey.Valid && lastKey.String == key:
		return tx.Commit() // duplicate of the most recently applied validation: no-op
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO validations (project_id, qa_id, result, notes, created_at) VALUES (?, ?, ?, ?, ?)`,
		projectID, qaID, result, notes, now,
	); err != nil {
		return fmt.Errorf("record validation %s: %w", qaID, err)
	}

	var delta int
	switch result {
	case types.ValidationFail:
		delta = 1
	default:
		delta = -1 // pass/partial decrements the fail streak by one, floored at 0 below
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE qa_records SET consecutive_fail = MAX(0, consecutive_fail + ?), last_validation_key = ?, updated_at = ? WHERE qa_id = ?`,
		delta, key, now, qaID,
	); err != nil {
		return fmt.Errorf("update consecutive_fail for %s: %w", qaID, err)
	}
	return tx.Commit()
}

// RecordCandidate implements types.MemoryFacade.
func (l *Local) RecordCandidate(ctx context.Context, draft types.CandidateDraft) error {
	tagsJSON, err := json.Marshal(draft.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := l.db.ExecContext(ctx,
		`INSERT INTO candidates (query, answer, context, tags, confidence, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		draft.Query, draft.Answer, draft.Context, string(tagsJSON), draft.Confidence, now,
	); err != nil {
		return fmt.Errorf("record candidate: %w", err)
	}
	return nil
}

// TaskGrade implements types.MemoryFacade. The local provider has no
// calibration signal of its own; it reports the lowest grade, deferring to
// remote/hybrid providers where one is configured.
func (l *Local) TaskGrade(ctx context.Context, prompt string) (string, error) {
	return types.TaskGradeL0, nil
}

// UnsyncedCandidates returns candidates not yet pushed to a remote service,
// used by the hybrid provider's sync loop.
func (l *Local) UnsyncedCandidates(ctx context.Context, limit int) ([]types.CandidateDraft, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT query, answer, context, tags, confidence FROM candidates WHERE synced_at IS NULL LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query unsynced candidates: %w", err)
	}
	defer rows.Close()

	var out []types.CandidateDraft
	for rows.Next() {
		var d types.CandidateDraft
		var tagsJSON string
		if err := rows.Scan(&d.Query, &d.Answer, &d.Context, &tagsJSON, &d.Confidence); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		_ = json.Unmarshal([]byte(tagsJSON), &d.Tags)
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkCandidatesSynced stamps synced_at on every currently-unsynced
// candidate, used after a successful hybrid sync push.
func (l *Local) MarkCandidatesSynced(ctx context.Context) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := l.db.ExecContext(ctx, `UPDATE candidates SET synced_at = ? WHERE synced_at IS NULL`, now)
	if err != nil {
		return fmt.Errorf("mark candidates synced: %w", err)
	}
	return nil
}

// ExportRecord is a qa_records row with its project_id, the shape "memex db
// export"/"memex db import" round-trip (project_id is deliberately absent
// from types.QARecord, which stays opaque to the core beyond search-result
// fields).
type ExportRecord struct {
	types.QARecord
	ProjectID string    `json:"project_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Info reports row counts for each table, used by "memex db info".
type Info struct {
	QARecords   int `json:"qa_records"`
	Hits        int `json:"hits"`
	Validations int `json:"validations"`
	Candidates  int `json:"candidates"`
	Unsynced    int `json:"unsynced_candidates"`
}

// Info summarizes the database's row counts.
func (l *Local) Info(ctx context.Context) (Info, error) {
	var info Info
	for table, dest := range map[string]*int{
		"qa_records":  &info.QARecords,
		"hits":        &info.Hits,
		"validations": &info.Validations,
		"candidates":  &info.Candidates,
	} {
		if err := l.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(dest); err != nil {
			return Info{}, fmt.Errorf("count %s: %w", table, err)
		}
	}
	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM candidates WHERE synced_at IS NULL").Scan(&info.Unsynced); err != nil {
		return Info{}, fmt.Errorf("count unsynced candidates: %w", err)
	}
	return info, nil
}

// ExportAll returns every qa_records row, for "memex db export".
func (l *Local) ExportAll(ctx context.Context) ([]ExportRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT qa_id, project_id, query, answer, score, trust, validation_level, freshness,
		       status, consecutive_fail, metadata, created_at, updated_at
		FROM qa_records ORDER BY qa_id`)
	if err != nil {
		return nil, fmt.Errorf("export qa_records: %w", err)
	}
	defer rows.Close()

	var out []ExportRecord
	for rows.Next() {
		var r ExportRecord
		var metaJSON sql.NullString
		var createdAt, updatedAt string
		if err := rows.Scan(&r.QAID, &r.ProjectID, &r.Query, &r.Answer, &r.Score, &r.Trust,
			&r.ValidationLevel, &r.Freshness, &r.Status, &r.ConsecutiveFail, &metaJSON, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan export row: %w", err)
		}
		if metaJSON.Valid && metaJSON.String != "" {
			_ = json.Unmarshal([]byte(metaJSON.String), &r.Metadata)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ImportAll upserts each record by qa_id, for "memex db import".
func (l *Local) ImportAll(ctx context.Context, records []ExportRecord) error {
	now := time.Now().UTC().Format(time.RFC3339)
	for _, r := range records {
		metaJSON, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", r.QAID, err)
		}
		if _, err := l.db.ExecContext(ctx, `
			INSERT INTO qa_records (qa_id, project_id, query, answer, score, trust, validation_level,
			                         freshness, status, consecutive_fail, metadata, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(qa_id) DO UPDATE SET
				project_id = excluded.project_id, query = excluded.query, answer = excluded.answer,
				score = excluded.score, trust = excluded.trust, validation_level = excluded.validation_level,
				freshness = excluded.freshness, status = excluded.status,
				consecutive_fail = excluded.consecutive_fail, metadata = excluded.metadata,
				updated_at = excluded.updated_at`,
			r.QAID, r.ProjectID, r.Query, r.Answer, r.Score, r.Trust, r.ValidationLevel,
			r.Freshness, r.Status, r.ConsecutiveFail, string(metaJSON), now, now,
		); err != nil {
			return fmt.Errorf("import qa_record %s: %w", r.QAID, err)
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ types.MemoryFacade = (*Local)(nil)
