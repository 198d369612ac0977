package domain

import "time"

// DateLayout is the wire format for dates exchanged with the analytical store.
const DateLayout = "2006-01-02"

// CohortDefinition describes how and when a cohort was created.
// Definitions are immutable once persisted; ID is assigned by the store.
type CohortDefinition struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	CreatedDate  time.Time `json:"created_date"`
	CreationInfo string    `json:"creation_info"`
	CreatedBy    string    `json:"created_by"`
}

// CohortMember is one subject's inclusion record within a cohort.
// (CohortDefinitionID, SubjectID) is unique per store.
type CohortMember struct {
	SubjectID          int64     `json:"subject_id"`
	CohortDefinitionID int64     `json:"cohort_definition_id"`
	CohortStartDate    time.Time `json:"cohort_start_date"`
	CohortEndDate      time.Time `json:"cohort_end_date"`
}

// Row maps column name to value for one result row.
type Row map[string]any

// ResultSet holds fully materialized query results. Columns preserves the
// select-list order, which Row alone cannot.
type ResultSet struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// StatsResult is the outcome of a catalog query that needs the bridged
// person table. Unavailable is true when no source database is configured,
// so demographic joins cannot run; callers degrade instead of erroring.
type StatsResult struct {
	Unavailable bool     `json:"unavailable"`
	Columns     []string `json:"columns,omitempty"`
	Rows        []Row    `json:"rows,omitempty"`
}
