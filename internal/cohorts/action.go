// Package cohorts orchestrates cohort creation and comparison: membership
// comes from the read-only source, everything persisted lives in the
// embedded bias database.
package cohorts

import (
	"context"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/CohortBias-25-26J/cohort-bias-backend/internal/biasdb"
	"github.com/CohortBias-25-26J/cohort-bias-backend/internal/cohorts/domain"
)

// SourceExecutor is the slice of the OMOP connector the action service
// needs.
type SourceExecutor interface {
	ExecuteReadOnly(ctx context.Context, queryText string) (domain.ResultSet, error)
}

// Columns every source result row must carry to become a membership row.
var requiredColumns = []string{"person_id", "cohort_start_date", "cohort_end_date"}

// Action drives cohort creation and comparison.
type Action struct {
	source SourceExecutor
	store  *biasdb.Store
	log    *zap.Logger
}

func NewAction(source SourceExecutor, store *biasdb.Store, log *zap.Logger) *Action {
	if log == nil {
		log = zap.NewNop()
	}
	return &Action{source: source, store: store, log: log}
}

// CreateCohort executes queryText against the source and persists the
// resulting definition and membership as one unit. Any result row missing
// person_id or the start/end dates fails the whole operation with
// MalformedResultError and nothing is committed.
func (a *Action) CreateCohort(ctx context.Context, name, description, queryText, createdBy string) (*Handle, error) {
	res, err := a.source.ExecuteReadOnly(ctx, queryText)
	if err != nil {
		return nil, err
	}
	members, err := membersFromResult(res)
	if err != nil {
		return nil, err
	}
	def := domain.CohortDefinition{
		Name:         strings.TrimSpace(name),
		Description:  description,
		CreatedDate:  time.Now(),
		CreationInfo: queryText,
		CreatedBy:    createdBy,
	}
	id, err := a.store.CreateCohort(ctx, def, members)
	if err != nil {
		return nil, err
	}
	a.log.Info("cohort persisted",
		zap.Int64("cohort_definition_id", id),
		zap.String("created_by", createdBy))
	return NewHandle(id, a.store), nil
}

// CompareCohorts fetches basic stats for both ids independently. An unknown
// id contributes the store's zero-count stats row rather than an error, so
// a comparison never fails just because one side is missing.
func (a *Action) CompareCohorts(ctx context.Context, id1, id2 int64) (map[int64]domain.ResultSet, error) {
	stats1, err := a.store.GetCohortBasicStats(ctx, id1)
	if err != nil {
		return nil, err
	}
	stats2, err := a.store.GetCohortBasicStats(ctx, id2)
	if err != nil {
		return nil, err
	}
	return map[int64]domain.ResultSet{id1: stats1, id2: stats2}, nil
}

func membersFromResult(res domain.ResultSet) ([]domain.CohortMember, error) {
	members := make([]domain.CohortMember, 0, len(res.Rows))
	for i, row := range res.Rows {
		var missing []string
		for _, col := range requiredColumns {
			if v, ok := row[col]; !ok || v == nil {
				missing = append(missing, col)
			}
		}
		if len(missing) > 0 {
			return nil, &domain.MalformedResultError{RowIndex: i, Missing: missing}
		}
		subject, ok := asInt64(row["person_id"])
		if !ok {
			return nil, &domain.MalformedResultError{RowIndex: i, Missing: []string{"person_id"}}
		}
		start, ok := asDate(row["cohort_start_date"])
		if !ok {
			return nil, &domain.MalformedResultError{RowIndex: i, Missing: []string{"cohort_start_date"}}
		}
		end, ok := asDate(row["cohort_end_date"])
		if !ok {
			return nil, &domain.MalformedResultError{RowIndex: i, Missing: []string{"cohort_end_date"}}
		}
		members = append(members, domain.CohortMember{
			SubjectID:       subject,
			CohortStartDate: start,
			CohortEndDate:   end,
		})
	}
	return members, nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}

func asDate(v any) (time.Time, bool) {
	switch d := v.(type) {
	case time.Time:
		return d, true
	case string:
		if t, err := time.Parse(domain.DateLayout, d); err == nil {
			return t, true
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}
