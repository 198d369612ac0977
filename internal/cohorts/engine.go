package cohorts

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/CohortBias-25-26J/cohort-bias-backend/config"
	"github.com/CohortBias-25-26J/cohort-bias-backend/internal/audit"
	"github.com/CohortBias-25-26J/cohort-bias-backend/internal/biasdb"
	"github.com/CohortBias-25-26J/cohort-bias-backend/internal/cohorts/domain"
	"github.com/CohortBias-25-26J/cohort-bias-backend/internal/omop"
)

// SourceConnector is the full connector surface the engine owns.
type SourceConnector interface {
	SourceExecutor
	Ping(ctx context.Context) error
	Close() error
}

// Engine wires the store, the source connector and the action service into
// the public operations surface. It is explicitly constructed and injected;
// there are no ambient process-wide instances, so tests can run isolated
// engines in parallel.
type Engine struct {
	store  *biasdb.Store
	source SourceConnector
	action *Action
	audit  *audit.Publisher
	log    *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewEngine assembles an engine from already constructed parts. source and
// auditor may be nil: without a source the engine serves local reads only
// and cohort creation reports ConfigurationError.
func NewEngine(store *biasdb.Store, source SourceConnector, auditor *audit.Publisher, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if auditor == nil {
		auditor = audit.NewPublisher(nil, log)
	}
	e := &Engine{store: store, source: source, audit: auditor, log: log}
	if source != nil {
		e.action = NewAction(source, store, log)
		store.SetPersonSource(source)
	}
	return e
}

// Build constructs the engine from configuration: embedded store always,
// source connector only when the source database is configured.
func Build(ctx context.Context, cfg *config.Config, auditor *audit.Publisher, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	store, err := biasdb.Open("", log)
	if err != nil {
		return nil, err
	}
	var source SourceConnector
	if cfg.Source.Configured() {
		url := omop.BuildURL(cfg.Source.Username, cfg.Source.Password, cfg.Source.Hostname, cfg.Source.Port, cfg.Source.Database)
		conn, err := omop.Connect(ctx, url, omop.Options{
			QueryTimeout: cfg.Source.QueryTimeout,
			Logger:       log,
		})
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		source = conn
	} else {
		log.Warn("no source database configured; cohort creation and demographic stats are unavailable")
	}
	return NewEngine(store, source, auditor, log), nil
}

// Store exposes the analytical store for health checks.
func (e *Engine) Store() *biasdb.Store { return e.store }

// SourceConfigured reports whether a live source connector is attached.
func (e *Engine) SourceConfigured() bool { return e.source != nil }

// SourcePing checks source reachability; nil source reports nil.
func (e *Engine) SourcePing(ctx context.Context) error {
	if e.source == nil {
		return nil
	}
	return e.source.Ping(ctx)
}

// CreateCohort materializes a cohort from a source query and returns its
// handle. Without a configured source it fails with ConfigurationError.
func (e *Engine) CreateCohort(ctx context.Context, name, description, queryText, createdBy string) (*Handle, error) {
	if e.action == nil {
		return nil, &domain.ConfigurationError{Reason: "no source database configured; set the root OMOP CDM source first"}
	}
	h, err := e.action.CreateCohort(ctx, name, description, queryText, createdBy)
	if err != nil {
		return nil, err
	}
	if err := e.audit.CohortCreated(ctx, h.ID(), name, createdBy); err != nil {
		e.log.Warn("audit record failed", zap.Int64("cohort_definition_id", h.ID()), zap.Error(err))
	}
	return h, nil
}

// Cohort returns a fresh lazy handle for an existing cohort id.
func (e *Engine) Cohort(cohortID int64) *Handle {
	return NewHandle(cohortID, e.store)
}

// CompareCohorts fetches basic stats for two cohorts. Works without a
// source since basic stats need no demographic join.
func (e *Engine) CompareCohorts(ctx context.Context, id1, id2 int64) (map[int64]domain.ResultSet, error) {
	action := e.action
	if action == nil {
		action = NewAction(nil, e.store, e.log)
	}
	res, err := action.CompareCohorts(ctx, id1, id2)
	if err != nil {
		return nil, err
	}
	if err := e.audit.CohortsCompared(ctx, id1, id2); err != nil {
		e.log.Warn("audit event failed", zap.Error(err))
	}
	return res, nil
}

// AuditRecord fetches the cohort's stored creation record from the audit
// trail. Nil (with no error) means the record expired, was never written,
// or auditing is disabled.
func (e *Engine) AuditRecord(ctx context.Context, cohortID int64) (*audit.Event, error) {
	return e.audit.CohortRecord(ctx, cohortID)
}

// Close tears down the source connection and the store. Idempotent: later
// calls return the first result without re-running teardown.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		if e.source != nil {
			if err := e.source.Close(); err != nil {
				e.closeErr = err
			}
		}
		if err := e.store.Close(); err != nil && e.closeErr == nil {
			e.closeErr = err
		}
	})
	return e.closeErr
}
