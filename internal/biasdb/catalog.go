package biasdb

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/CohortBias-25-26J/cohort-bias-backend/internal/cohorts/domain"
)

// Catalog templates are fixed SQL parameterized solely by the cohort
// definition id. The id is the only value ever substituted into the text,
// and only after integer validation; nothing caller-supplied reaches the
// SQL. Templates marked with a person join require BridgePersonTable first.

const cohortIDPlaceholder = "{cohort_id}"

// bindCohortID substitutes the validated integer cohort id into a template.
func bindCohortID(template string, cohortID int64) (string, error) {
	if cohortID <= 0 {
		return "", &domain.QueryError{Op: "bind", Err: fmt.Errorf("invalid cohort id %d", cohortID)}
	}
	if !strings.Contains(template, cohortIDPlaceholder) {
		return "", &domain.QueryError{Op: "bind", Err: fmt.Errorf("template has no cohort id placeholder")}
	}
	return strings.ReplaceAll(template, cohortIDPlaceholder, strconv.FormatInt(cohortID, 10)), nil
}

// basicStatsQuery aggregates over membership rows only; it needs no person
// table and always returns exactly one row (zero counts and NULL aggregates
// for an empty or unknown cohort).
const basicStatsQuery = `
WITH cohort_duration AS (
    SELECT subject_id,
           cohort_start_date,
           cohort_end_date,
           CAST(julianday(cohort_end_date) - julianday(cohort_start_date) AS INTEGER) AS duration_days
    FROM cohort
    WHERE cohort_definition_id = {cohort_id}
)
SELECT COUNT(*) AS total_count,
       MIN(cohort_start_date) AS earliest_start_date,
       MAX(cohort_start_date) AS latest_start_date,
       MIN(cohort_end_date) AS earliest_end_date,
       MAX(cohort_end_date) AS latest_end_date,
       MIN(duration_days) AS min_duration_days,
       MAX(duration_days) AS max_duration_days,
       ROUND(AVG(duration_days), 2) AS avg_duration_days,
       (SELECT CAST(AVG(duration_days) AS INTEGER)
        FROM (SELECT duration_days
              FROM cohort_duration
              ORDER BY duration_days
              LIMIT 2 - (SELECT COUNT(*) FROM cohort_duration) % 2
              OFFSET (SELECT (COUNT(*) - 1) / 2 FROM cohort_duration))) AS median_duration,
       CASE WHEN COUNT(*) > 1 THEN
           ROUND(sqrt((SUM(duration_days * duration_days * 1.0)
                       - SUM(duration_days) * 1.0 * SUM(duration_days) / COUNT(*))
                      / (COUNT(*) - 1)), 2)
       END AS stddev_duration
FROM cohort_duration;
`

// statsQueries are the per-variable aggregate templates. Categorical
// variables report every fixed category, including zero-match ones, with
// unmapped concept ids folded into the other bucket.
var statsQueries = map[string]string{
	"age": `
WITH age_cohort AS (
    SELECT p.person_id,
           CAST(strftime('%Y', c.cohort_start_date) AS INTEGER) - p.year_of_birth AS age
    FROM cohort c
    JOIN person p ON c.subject_id = p.person_id
    WHERE c.cohort_definition_id = {cohort_id}
)
SELECT COUNT(*) AS total_count,
       MIN(age) AS min_age,
       MAX(age) AS max_age,
       ROUND(AVG(age), 2) AS avg_age,
       (SELECT CAST(AVG(age) AS INTEGER)
        FROM (SELECT age
              FROM age_cohort
              ORDER BY age
              LIMIT 2 - (SELECT COUNT(*) FROM age_cohort) % 2
              OFFSET (SELECT (COUNT(*) - 1) / 2 FROM age_cohort))) AS median_age,
       CASE WHEN COUNT(*) > 1 THEN
           ROUND(sqrt((SUM(age * age * 1.0)
                       - SUM(age) * 1.0 * SUM(age) / COUNT(*))
                      / (COUNT(*) - 1)), 2)
       END AS stddev_age
FROM age_cohort;
`,
	"gender": `
WITH categories(gender) AS (
    VALUES ('female'), ('male'), ('other')
),
members AS (
    SELECT CASE
               WHEN p.gender_concept_id = 8507 THEN 'male'
               WHEN p.gender_concept_id = 8532 THEN 'female'
               ELSE 'other'
           END AS gender
    FROM cohort c
    JOIN person p ON c.subject_id = p.person_id
    WHERE c.cohort_definition_id = {cohort_id}
)
SELECT g.gender,
       COUNT(m.gender) AS gender_count,
       ROUND(COUNT(m.gender) * 100.0 / NULLIF(SUM(COUNT(m.gender)) OVER (), 0), 2) AS percentage
FROM categories g
LEFT JOIN members m ON m.gender = g.gender
GROUP BY g.gender
ORDER BY g.gender;
`,
	"race": `
WITH categories(race) AS (
    VALUES ('American Indian or Alaska Native'),
           ('Asian'),
           ('Black or African American'),
           ('Native Hawaiian or Other Pacific Islander'),
           ('Other'),
           ('White')
),
members AS (
    SELECT CASE
               WHEN p.race_concept_id = 8516 THEN 'Black or African American'
               WHEN p.race_concept_id = 8515 THEN 'Asian'
               WHEN p.race_concept_id = 8657 THEN 'American Indian or Alaska Native'
               WHEN p.race_concept_id = 8527 THEN 'White'
               WHEN p.race_concept_id = 8557 THEN 'Native Hawaiian or Other Pacific Islander'
               ELSE 'Other'
           END AS race
    FROM cohort c
    JOIN person p ON c.subject_id = p.person_id
    WHERE c.cohort_definition_id = {cohort_id}
)
SELECT g.race,
       COUNT(m.race) AS race_count,
       ROUND(COUNT(m.race) * 100.0 / NULLIF(SUM(COUNT(m.race)) OVER (), 0), 2) AS percentage
FROM categories g
LEFT JOIN members m ON m.race = g.race
GROUP BY g.race
ORDER BY g.race;
`,
	"ethnicity": `
WITH categories(ethnicity) AS (
    VALUES ('Hispanic or Latino'),
           ('Not Hispanic or Latino'),
           ('other')
),
members AS (
    SELECT CASE
               WHEN p.ethnicity_concept_id = 38003563 THEN 'Hispanic or Latino'
               WHEN p.ethnicity_concept_id = 38003564 THEN 'Not Hispanic or Latino'
               ELSE 'other'
           END AS ethnicity
    FROM cohort c
    JOIN person p ON c.subject_id = p.person_id
    WHERE c.cohort_definition_id = {cohort_id}
)
SELECT g.ethnicity,
       COUNT(m.ethnicity) AS ethnicity_count,
       ROUND(COUNT(m.ethnicity) * 100.0 / NULLIF(SUM(COUNT(m.ethnicity)) OVER (), 0), 2) AS percentage
FROM categories g
LEFT JOIN members m ON m.ethnicity = g.ethnicity
GROUP BY g.ethnicity
ORDER BY g.ethnicity;
`,
}

// distributionQueries bin age into ten fixed ranges with probabilities
// (4 decimals) and break gender into three fixed categories with
// percentages (2 decimals), alphabetically ordered.
var distributionQueries = map[string]string{
	"age": `
WITH age_cohort AS (
    SELECT p.person_id,
           CAST(strftime('%Y', c.cohort_start_date) AS INTEGER) - p.year_of_birth AS age
    FROM cohort c
    JOIN person p ON c.subject_id = p.person_id
    WHERE c.cohort_definition_id = {cohort_id}
),
age_bins(age_bin, min_age, max_age) AS (
    VALUES ('0-10', 0, 10),
           ('11-20', 11, 20),
           ('21-30', 21, 30),
           ('31-40', 31, 40),
           ('41-50', 41, 50),
           ('51-60', 51, 60),
           ('61-70', 61, 70),
           ('71-80', 71, 80),
           ('81-90', 81, 90),
           ('91+', 91, 150)
),
age_distribution AS (
    SELECT b.age_bin,
           COUNT(ac.person_id) AS bin_count
    FROM age_bins b
    LEFT JOIN age_cohort ac ON ac.age BETWEEN b.min_age AND b.max_age
    GROUP BY b.age_bin
)
SELECT age_bin,
       bin_count,
       COALESCE(ROUND(bin_count * 1.0 / NULLIF(SUM(bin_count) OVER (), 0), 4), 0.0) AS probability
FROM age_distribution
ORDER BY age_bin;
`,
	"gender": `
WITH categories(gender) AS (
    VALUES ('female'), ('male'), ('other')
),
members AS (
    SELECT CASE
               WHEN p.gender_concept_id = 8507 THEN 'male'
               WHEN p.gender_concept_id = 8532 THEN 'female'
               ELSE 'other'
           END AS gender
    FROM cohort c
    JOIN person p ON c.subject_id = p.person_id
    WHERE c.cohort_definition_id = {cohort_id}
)
SELECT g.gender,
       COUNT(m.gender) AS gender_count,
       COALESCE(ROUND(COUNT(m.gender) * 100.0 / NULLIF(SUM(COUNT(m.gender)) OVER (), 0), 2), 0.0) AS probability
FROM categories g
LEFT JOIN members m ON m.gender = g.gender
GROUP BY g.gender
ORDER BY g.gender;
`,
}

// StatsVariables lists the valid per-variable stats names.
func StatsVariables() []string {
	return sortedKeys(statsQueries)
}

// DistributionVariables lists the valid distribution names.
func DistributionVariables() []string {
	return sortedKeys(distributionQueries)
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// GetCohortBasicStats returns the duration/date aggregates over the
// cohort's membership rows. An empty or unknown cohort yields one row with
// total_count 0 and NULL aggregates.
func (s *Store) GetCohortBasicStats(ctx context.Context, cohortID int64) (domain.ResultSet, error) {
	return s.RunQuery(ctx, basicStatsQuery, cohortID)
}

// GetCohortVariableStats computes aggregates for one demographic variable.
// When no source is configured for the person bridge, the result is marked
// Unavailable so callers can degrade gracefully.
func (s *Store) GetCohortVariableStats(ctx context.Context, cohortID int64, variable string) (domain.StatsResult, error) {
	template, ok := statsQueries[variable]
	if !ok {
		return domain.StatsResult{}, &domain.UnsupportedVariableError{Variable: variable, Valid: StatsVariables()}
	}
	return s.runBridged(ctx, template, cohortID)
}

// GetCohortDistribution computes the binned/categorical distribution for a
// variable, with the same unavailable semantics as variable stats.
func (s *Store) GetCohortDistribution(ctx context.Context, cohortID int64, variable string) (domain.StatsResult, error) {
	template, ok := distributionQueries[variable]
	if !ok {
		return domain.StatsResult{}, &domain.UnsupportedVariableError{Variable: variable, Valid: DistributionVariables()}
	}
	return s.runBridged(ctx, template, cohortID)
}

// runBridged holds the write lock across bridge and query so a concurrent
// rebuild can never swap the person table out from under the join.
func (s *Store) runBridged(ctx context.Context, template string, cohortID int64) (domain.StatsResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok, err := s.bridgePersonLocked(ctx)
	if err != nil {
		return domain.StatsResult{}, err
	}
	if !ok {
		return domain.StatsResult{Unavailable: true}, nil
	}
	res, err := s.runQueryLocked(ctx, template, cohortID)
	if err != nil {
		return domain.StatsResult{}, err
	}
	return domain.StatsResult{Columns: res.Columns, Rows: res.Rows}, nil
}
