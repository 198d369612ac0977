package cohorts

import (
	"context"

	"github.com/CohortBias-25-26J/cohort-bias-backend/internal/biasdb"
	"github.com/CohortBias-25-26J/cohort-bias-backend/internal/cohorts/domain"
)

// Handle is a lazy read-only view over one cohort. Data and Metadata are
// cached on first fetch; Stats and Distribution are always recomputed since
// they may run against a freshly bridged person table. The handle never
// mutates store state, and its caches die with it.
type Handle struct {
	cohortID int64
	store    *biasdb.Store

	data       []domain.CohortMember
	dataLoaded bool
	meta       *domain.CohortDefinition
	metaLoaded bool
}

func NewHandle(cohortID int64, store *biasdb.Store) *Handle {
	return &Handle{cohortID: cohortID, store: store}
}

// ID returns the cohort definition id this handle points at.
func (h *Handle) ID() int64 { return h.cohortID }

// Data returns the cohort's membership rows, fetching them at most once.
func (h *Handle) Data(ctx context.Context) ([]domain.CohortMember, error) {
	if !h.dataLoaded {
		rows, err := h.store.GetCohortMembership(ctx, h.cohortID)
		if err != nil {
			return nil, err
		}
		h.data = rows
		h.dataLoaded = true
	}
	return h.data, nil
}

// Metadata returns the cohort definition, fetching it at most once. Nil
// (with no error) means the id is unknown to the store.
func (h *Handle) Metadata(ctx context.Context) (*domain.CohortDefinition, error) {
	if !h.metaLoaded {
		def, err := h.store.GetCohortDefinition(ctx, h.cohortID)
		if err != nil {
			return nil, err
		}
		h.meta = def
		h.metaLoaded = true
	}
	return h.meta, nil
}

// Stats recomputes the cohort's basic stats on every call.
func (h *Handle) Stats(ctx context.Context) (domain.ResultSet, error) {
	return h.store.GetCohortBasicStats(ctx, h.cohortID)
}

// VariableStats recomputes per-variable stats on every call.
func (h *Handle) VariableStats(ctx context.Context, variable string) (domain.StatsResult, error) {
	return h.store.GetCohortVariableStats(ctx, h.cohortID, variable)
}

// Distribution recomputes the variable's distribution on every call.
func (h *Handle) Distribution(ctx context.Context, variable string) (domain.StatsResult, error) {
	return h.store.GetCohortDistribution(ctx, h.cohortID, variable)
}
