package domain

import (
	"fmt"
	"strings"
)

// ConfigurationError reports a missing or invalid source-database
// configuration. The system stays up in an unconfigured state.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration: " + e.Reason
}

// ConnectionError reports that the source database is unreachable or
// rejected the credentials. Retryable after reconfiguration.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("source connection (%s): %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// QueryError reports malformed SQL or a read-only violation. It aborts the
// single operation; nothing is committed.
type QueryError struct {
	Op  string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query (%s): %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// MalformedResultError reports a source query result row missing the
// columns required for cohort membership.
type MalformedResultError struct {
	RowIndex int
	Missing  []string
}

func (e *MalformedResultError) Error() string {
	return fmt.Sprintf("source result row %d missing required columns: %s",
		e.RowIndex, strings.Join(e.Missing, ", "))
}

// IntegrityError reports a duplicate (cohort_definition_id, subject_id)
// membership pair.
type IntegrityError struct {
	CohortDefinitionID int64
	SubjectID          int64
	Err                error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("membership integrity: subject %d already in cohort %d",
		e.SubjectID, e.CohortDefinitionID)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// UnsupportedVariableError reports an unknown stats/distribution variable
// and names the valid set.
type UnsupportedVariableError struct {
	Variable string
	Valid    []string
}

func (e *UnsupportedVariableError) Error() string {
	return fmt.Sprintf("variable %q is not available; valid variables are {%s}",
		e.Variable, strings.Join(e.Valid, ", "))
}
