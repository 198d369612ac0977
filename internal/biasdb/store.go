// Package biasdb is the embedded analytical store holding cohort
// definitions and membership, plus a transient copy of the source's person
// table bridged in on demand so demographic joins run locally.
package biasdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/CohortBias-25-26J/cohort-bias-backend/internal/cohorts/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS cohort_definition (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    description TEXT,
    created_date TEXT,
    creation_info TEXT,
    created_by TEXT
);

CREATE TABLE IF NOT EXISTS cohort (
    subject_id INTEGER NOT NULL,
    cohort_definition_id INTEGER NOT NULL,
    cohort_start_date TEXT,
    cohort_end_date TEXT,
    PRIMARY KEY (cohort_definition_id, subject_id),
    FOREIGN KEY (cohort_definition_id) REFERENCES cohort_definition(id)
);
`

const personSchema = `
CREATE TABLE IF NOT EXISTS person (
    person_id INTEGER PRIMARY KEY,
    year_of_birth INTEGER,
    gender_concept_id INTEGER,
    race_concept_id INTEGER,
    ethnicity_concept_id INTEGER
);
`

// personSelect is what gets pulled from the source when bridging.
const personSelect = `SELECT person_id, year_of_birth, gender_concept_id, race_concept_id, ethnicity_concept_id FROM person`

// PersonSource supplies demographic rows for bridging, typically the
// read-only OMOP connector.
type PersonSource interface {
	ExecuteReadOnly(ctx context.Context, queryText string) (domain.ResultSet, error)
}

// Store owns all persisted cohort state for the process lifetime. It is
// in-memory by default and safe for concurrent callers: writes (including
// the person-table bridge) take the write lock, reads share the read lock,
// so id assignment and membership insertion never interleave.
type Store struct {
	db  *sql.DB
	log *zap.Logger

	mu       sync.RWMutex
	source   PersonSource
	personOK bool

	closeOnce sync.Once
}

// Open creates the embedded store and its schema. An empty path opens an
// in-memory database that lives until Close.
func Open(path string, log *zap.Logger) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open bias db: %w", err)
	}
	// A single connection keeps :memory: databases coherent and gives the
	// store its single-writer discipline.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	log.Info("bias database ready", zap.String("path", path))
	return &Store{db: db, log: log}, nil
}

// SetPersonSource wires the read-only source used to bridge the person
// table. A nil source leaves the store in the "not configured" state where
// demographic stats report unavailable.
func (s *Store) SetPersonSource(src PersonSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = src
	s.personOK = false
}

// CreateCohortDefinition inserts a new definition and returns the assigned
// id. Ids come from the table's single autoincrement sequence and are
// monotonic even under concurrent callers.
func (s *Store) CreateCohortDefinition(ctx context.Context, def domain.CohortDefinition) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	id, err := insertDefinition(ctx, tx, def)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// AppendMembership inserts membership rows for an existing cohort. A
// duplicate (cohort_definition_id, subject_id) pair fails the whole batch
// with IntegrityError and nothing is committed.
func (s *Store) AppendMembership(ctx context.Context, cohortID int64, members []domain.CohortMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := insertMembers(ctx, tx, cohortID, members); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// CreateCohort persists a definition and its membership as one unit: either
// both land or neither does.
func (s *Store) CreateCohort(ctx context.Context, def domain.CohortDefinition, members []domain.CohortMember) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	id, err := insertDefinition(ctx, tx, def)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := insertMembers(ctx, tx, id, members); err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	s.log.Info("cohort created",
		zap.Int64("cohort_definition_id", id),
		zap.String("name", def.Name),
		zap.Int("members", len(members)))
	return id, nil
}

func insertDefinition(ctx context.Context, tx *sql.Tx, def domain.CohortDefinition) (int64, error) {
	if def.Name == "" {
		return 0, fmt.Errorf("cohort name required")
	}
	created := def.CreatedDate
	if created.IsZero() {
		created = time.Now()
	}
	const q = `
INSERT INTO cohort_definition (name, description, created_date, creation_info, created_by)
VALUES (?, ?, ?, ?, ?)
RETURNING id;
`
	var id int64
	err := tx.QueryRowContext(ctx, q,
		def.Name,
		def.Description,
		created.Format(domain.DateLayout),
		def.CreationInfo,
		def.CreatedBy,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert cohort definition: %w", err)
	}
	return id, nil
}

func insertMembers(ctx context.Context, tx *sql.Tx, cohortID int64, members []domain.CohortMember) error {
	const q = `
INSERT INTO cohort (subject_id, cohort_definition_id, cohort_start_date, cohort_end_date)
VALUES (?, ?, ?, ?);
`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("prepare membership insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	for _, m := range members {
		_, err := stmt.ExecContext(ctx,
			m.SubjectID,
			cohortID,
			m.CohortStartDate.Format(domain.DateLayout),
			m.CohortEndDate.Format(domain.DateLayout),
		)
		if err != nil {
			if isConstraintErr(err) {
				return &domain.IntegrityError{
					CohortDefinitionID: cohortID,
					SubjectID:          m.SubjectID,
					Err:                err,
				}
			}
			return fmt.Errorf("insert membership: %w", err)
		}
	}
	return nil
}

func isConstraintErr(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}

// GetCohortDefinition returns the stored definition, or nil (not an error)
// when the id is unknown.
func (s *Store) GetCohortDefinition(ctx context.Context, cohortID int64) (*domain.CohortDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	const q = `
SELECT id, name, description, created_date, creation_info, created_by
FROM cohort_definition
WHERE id = ?;
`
	var (
		def     domain.CohortDefinition
		created string
	)
	err := s.db.QueryRowContext(ctx, q, cohortID).Scan(
		&def.ID, &def.Name, &def.Description, &created, &def.CreationInfo, &def.CreatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cohort definition: %w", err)
	}
	if t, perr := time.Parse(domain.DateLayout, created); perr == nil {
		def.CreatedDate = t
	}
	return &def, nil
}

// GetCohortMembership returns the cohort's membership rows. An empty slice
// is a valid state (cohort defined but empty), not an error.
func (s *Store) GetCohortMembership(ctx context.Context, cohortID int64) ([]domain.CohortMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	const q = `
SELECT subject_id, cohort_definition_id, cohort_start_date, cohort_end_date
FROM cohort
WHERE cohort_definition_id = ?
ORDER BY subject_id;
`
	rows, err := s.db.QueryContext(ctx, q, cohortID)
	if err != nil {
		return nil, fmt.Errorf("get cohort membership: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]domain.CohortMember, 0, 16)
	for rows.Next() {
		var (
			m          domain.CohortMember
			start, end string
		)
		if err := rows.Scan(&m.SubjectID, &m.CohortDefinitionID, &start, &end); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		if t, perr := time.Parse(domain.DateLayout, start); perr == nil {
			m.CohortStartDate = t
		}
		if t, perr := time.Parse(domain.DateLayout, end); perr == nil {
			m.CohortEndDate = t
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read membership: %w", err)
	}
	return out, nil
}

// BridgePersonTable mirrors the source's person table locally so catalog
// joins run without round-tripping to the source. It returns false (not an
// error) when no source is configured. The rebuild holds the write lock, so
// it never races a read against the same table. Once bridged, the copy is
// reused for the life of the store.
func (s *Store) BridgePersonTable(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bridgePersonLocked(ctx)
}

func (s *Store) bridgePersonLocked(ctx context.Context) (bool, error) {
	if s.source == nil {
		return false, nil
	}
	if s.personOK {
		return true, nil
	}
	res, err := s.source.ExecuteReadOnly(ctx, personSelect)
	if err != nil {
		return false, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin bridge: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS person`); err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("drop person: %w", err)
	}
	if _, err := tx.ExecContext(ctx, personSchema); err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("create person: %w", err)
	}
	const ins = `
INSERT INTO person (person_id, year_of_birth, gender_concept_id, race_concept_id, ethnicity_concept_id)
VALUES (?, ?, ?, ?, ?);
`
	stmt, err := tx.PrepareContext(ctx, ins)
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("prepare person insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	for _, row := range res.Rows {
		_, err := stmt.ExecContext(ctx,
			row["person_id"],
			row["year_of_birth"],
			row["gender_concept_id"],
			row["race_concept_id"],
			row["ethnicity_concept_id"],
		)
		if err != nil {
			_ = tx.Rollback()
			return false, fmt.Errorf("insert person: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit bridge: %w", err)
	}
	s.personOK = true
	s.log.Info("person table bridged from source", zap.Int("rows", len(res.Rows)))
	return true, nil
}

// RunQuery executes a catalog template bound with a validated cohort id.
// Zero rows is an empty (valid) result, not an error.
func (s *Store) RunQuery(ctx context.Context, template string, cohortID int64) (domain.ResultSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runQueryLocked(ctx, template, cohortID)
}

func (s *Store) runQueryLocked(ctx context.Context, template string, cohortID int64) (domain.ResultSet, error) {
	q, err := bindCohortID(template, cohortID)
	if err != nil {
		return domain.ResultSet{}, err
	}
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return domain.ResultSet{}, &domain.QueryError{Op: "catalog", Err: err}
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return domain.ResultSet{}, &domain.QueryError{Op: "catalog columns", Err: err}
	}
	out := domain.ResultSet{Columns: cols, Rows: make([]domain.Row, 0, 16)}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return domain.ResultSet{}, &domain.QueryError{Op: "catalog scan", Err: err}
		}
		row := make(domain.Row, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return domain.ResultSet{}, &domain.QueryError{Op: "catalog rows", Err: err}
	}
	return out, nil
}

// Ping reports store liveness for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close tears the store down. Idempotent; never errors on a second call.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.db.Close()
		s.log.Info("bias database closed")
	})
	return err
}
