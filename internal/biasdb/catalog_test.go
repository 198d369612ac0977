package biasdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CohortBias-25-26J/cohort-bias-backend/internal/cohorts/domain"
)

func seedCohort(t *testing.T, s *Store, members []domain.CohortMember) int64 {
	t.Helper()
	id, err := s.CreateCohort(context.Background(), domain.CohortDefinition{Name: "seed"}, members)
	require.NoError(t, err)
	return id
}

func rowsByKey(res []domain.Row, key string) map[string]domain.Row {
	out := make(map[string]domain.Row, len(res))
	for _, r := range res {
		out[r[key].(string)] = r
	}
	return out
}

func TestBasicStats(t *testing.T) {
	s := openTestStore(t)
	id := seedCohort(t, s, []domain.CohortMember{
		{SubjectID: 1, CohortStartDate: day("2020-01-01"), CohortEndDate: day("2020-01-11")}, // 10 days
		{SubjectID: 2, CohortStartDate: day("2020-02-01"), CohortEndDate: day("2020-02-21")}, // 20 days
	})

	res, err := s.GetCohortBasicStats(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)

	row := res.Rows[0]
	assert.EqualValues(t, 2, row["total_count"])
	assert.Equal(t, "2020-01-01", row["earliest_start_date"])
	assert.Equal(t, "2020-02-01", row["latest_start_date"])
	assert.Equal(t, "2020-01-11", row["earliest_end_date"])
	assert.Equal(t, "2020-02-21", row["latest_end_date"])
	assert.EqualValues(t, 10, row["min_duration_days"])
	assert.EqualValues(t, 20, row["max_duration_days"])
	assert.InDelta(t, 15.0, row["avg_duration_days"].(float64), 1e-9)
	assert.EqualValues(t, 15, row["median_duration"])
	assert.InDelta(t, 7.07, row["stddev_duration"].(float64), 1e-9)
}

func TestBasicStats_EmptyCohortIsZeroRowNotError(t *testing.T) {
	s := openTestStore(t)
	id := seedCohort(t, s, nil)

	res, err := s.GetCohortBasicStats(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)

	row := res.Rows[0]
	assert.EqualValues(t, 0, row["total_count"])
	assert.Nil(t, row["min_duration_days"])
	assert.Nil(t, row["max_duration_days"])
	assert.Nil(t, row["avg_duration_days"])
	assert.Nil(t, row["median_duration"])
	assert.Nil(t, row["stddev_duration"])
}

func TestBasicStats_RejectsInvalidCohortID(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetCohortBasicStats(context.Background(), 0)
	var queryErr *domain.QueryError
	require.ErrorAs(t, err, &queryErr)
}

func TestVariableStats_UnavailableWithoutSource(t *testing.T) {
	s := openTestStore(t)
	id := seedCohort(t, s, testMembers(1))

	res, err := s.GetCohortVariableStats(context.Background(), id, "age")
	require.NoError(t, err)
	assert.True(t, res.Unavailable)
	assert.Empty(t, res.Rows)
}

func TestVariableStats_UnknownVariable(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetCohortVariableStats(context.Background(), 1, "height")
	var varErr *domain.UnsupportedVariableError
	require.ErrorAs(t, err, &varErr)
	assert.Equal(t, "height", varErr.Variable)
	assert.Equal(t, []string{"age", "ethnicity", "gender", "race"}, varErr.Valid)
}

func TestDistribution_UnknownVariableListsValidSet(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetCohortDistribution(context.Background(), 1, "income")
	var varErr *domain.UnsupportedVariableError
	require.ErrorAs(t, err, &varErr)
	assert.Equal(t, []string{"age", "gender"}, varErr.Valid)
}

func TestAgeStats(t *testing.T) {
	s := openTestStore(t)
	id := seedCohort(t, s, []domain.CohortMember{
		{SubjectID: 1, CohortStartDate: day("2020-06-01"), CohortEndDate: day("2020-07-01")},
		{SubjectID: 2, CohortStartDate: day("2020-06-01"), CohortEndDate: day("2020-07-01")},
		{SubjectID: 3, CohortStartDate: day("2020-06-01"), CohortEndDate: day("2020-07-01")},
	})
	s.SetPersonSource(&fakePersonSource{rows: []domain.Row{
		person(1, 2000, 8507, 8527, 38003564), // age 20
		person(2, 1990, 8532, 8527, 38003564), // age 30
		person(3, 1980, 8507, 8527, 38003564), // age 40
	}})

	res, err := s.GetCohortVariableStats(context.Background(), id, "age")
	require.NoError(t, err)
	require.False(t, res.Unavailable)
	require.Len(t, res.Rows, 1)

	row := res.Rows[0]
	assert.EqualValues(t, 3, row["total_count"])
	assert.EqualValues(t, 20, row["min_age"])
	assert.EqualValues(t, 40, row["max_age"])
	assert.InDelta(t, 30.0, row["avg_age"].(float64), 1e-9)
	assert.EqualValues(t, 30, row["median_age"])
	assert.InDelta(t, 10.0, row["stddev_age"].(float64), 1e-9)
}

func TestGenderStats_ZeroCategoriesStillReported(t *testing.T) {
	s := openTestStore(t)
	id := seedCohort(t, s, []domain.CohortMember{
		{SubjectID: 1, CohortStartDate: day("2020-01-01"), CohortEndDate: day("2020-02-01")},
		{SubjectID: 2, CohortStartDate: day("2020-01-01"), CohortEndDate: day("2020-02-01")},
		{SubjectID: 3, CohortStartDate: day("2020-01-01"), CohortEndDate: day("2020-02-01")},
	})
	s.SetPersonSource(&fakePersonSource{rows: []domain.Row{
		person(1, 1990, 8507, 8527, 38003564),
		person(2, 1990, 8507, 8527, 38003564),
		person(3, 1990, 99999, 8527, 38003564), // unmapped code falls into other
	}})

	res, err := s.GetCohortVariableStats(context.Background(), id, "gender")
	require.NoError(t, err)
	require.Len(t, res.Rows, 3)

	// Alphabetical category order.
	assert.Equal(t, "female", res.Rows[0]["gender"])
	assert.Equal(t, "male", res.Rows[1]["gender"])
	assert.Equal(t, "other", res.Rows[2]["gender"])

	byGender := rowsByKey(res.Rows, "gender")
	assert.EqualValues(t, 0, byGender["female"]["gender_count"])
	assert.EqualValues(t, 2, byGender["male"]["gender_count"])
	assert.EqualValues(t, 1, byGender["other"]["gender_count"])

	var total int64
	for _, r := range res.Rows {
		total += r["gender_count"].(int64)
	}
	assert.EqualValues(t, 3, total, "category counts must sum to membership count")

	assert.InDelta(t, 66.67, byGender["male"]["percentage"].(float64), 1e-9)
	assert.InDelta(t, 33.33, byGender["other"]["percentage"].(float64), 1e-9)
}

func TestRaceStats_FixedMappingAndOtherBucket(t *testing.T) {
	s := openTestStore(t)
	id := seedCohort(t, s, []domain.CohortMember{
		{SubjectID: 1, CohortStartDate: day("2020-01-01"), CohortEndDate: day("2020-02-01")},
		{SubjectID: 2, CohortStartDate: day("2020-01-01"), CohortEndDate: day("2020-02-01")},
		{SubjectID: 3, CohortStartDate: day("2020-01-01"), CohortEndDate: day("2020-02-01")},
	})
	s.SetPersonSource(&fakePersonSource{rows: []domain.Row{
		person(1, 1990, 8507, 8516, 38003564),  // Black or African American
		person(2, 1990, 8507, 8515, 38003564),  // Asian
		person(3, 1990, 8507, 12345, 38003564), // unmapped -> Other
	}})

	res, err := s.GetCohortVariableStats(context.Background(), id, "race")
	require.NoError(t, err)
	require.Len(t, res.Rows, 6)

	byRace := rowsByKey(res.Rows, "race")
	assert.EqualValues(t, 1, byRace["Black or African American"]["race_count"])
	assert.EqualValues(t, 1, byRace["Asian"]["race_count"])
	assert.EqualValues(t, 1, byRace["Other"]["race_count"])
	assert.EqualValues(t, 0, byRace["White"]["race_count"])
	assert.EqualValues(t, 0, byRace["American Indian or Alaska Native"]["race_count"])
	assert.EqualValues(t, 0, byRace["Native Hawaiian or Other Pacific Islander"]["race_count"])
}

func TestEthnicityStats(t *testing.T) {
	s := openTestStore(t)
	id := seedCohort(t, s, []domain.CohortMember{
		{SubjectID: 1, CohortStartDate: day("2020-01-01"), CohortEndDate: day("2020-02-01")},
		{SubjectID: 2, CohortStartDate: day("2020-01-01"), CohortEndDate: day("2020-02-01")},
	})
	s.SetPersonSource(&fakePersonSource{rows: []domain.Row{
		person(1, 1990, 8507, 8527, 38003563),
		person(2, 1990, 8507, 8527, 7),
	}})

	res, err := s.GetCohortVariableStats(context.Background(), id, "ethnicity")
	require.NoError(t, err)
	require.Len(t, res.Rows, 3)

	byEth := rowsByKey(res.Rows, "ethnicity")
	assert.EqualValues(t, 1, byEth["Hispanic or Latino"]["ethnicity_count"])
	assert.EqualValues(t, 0, byEth["Not Hispanic or Latino"]["ethnicity_count"])
	assert.EqualValues(t, 1, byEth["other"]["ethnicity_count"])
}

func TestAgeDistribution_BinsPartitionExhaustively(t *testing.T) {
	s := openTestStore(t)
	id := seedCohort(t, s, []domain.CohortMember{
		{SubjectID: 1, CohortStartDate: day("2020-01-01"), CohortEndDate: day("2020-02-01")},
		{SubjectID: 2, CohortStartDate: day("2020-01-01"), CohortEndDate: day("2020-02-01")},
		{SubjectID: 3, CohortStartDate: day("2020-01-01"), CohortEndDate: day("2020-02-01")},
	})
	s.SetPersonSource(&fakePersonSource{rows: []domain.Row{
		person(1, 2015, 8507, 8527, 38003564), // age 5
		person(2, 1995, 8532, 8527, 38003564), // age 25
		person(3, 1925, 8507, 8527, 38003564), // age 95
	}})

	res, err := s.GetCohortDistribution(context.Background(), id, "age")
	require.NoError(t, err)
	require.Len(t, res.Rows, 10)

	byBin := rowsByKey(res.Rows, "age_bin")
	assert.EqualValues(t, 1, byBin["0-10"]["bin_count"])
	assert.InDelta(t, 0.3333, byBin["0-10"]["probability"].(float64), 1e-9)
	assert.EqualValues(t, 1, byBin["21-30"]["bin_count"])
	assert.InDelta(t, 0.3333, byBin["21-30"]["probability"].(float64), 1e-9)
	assert.EqualValues(t, 1, byBin["91+"]["bin_count"])
	assert.InDelta(t, 0.3333, byBin["91+"]["probability"].(float64), 1e-9)

	for _, bin := range []string{"11-20", "31-40", "41-50", "51-60", "61-70", "71-80", "81-90"} {
		assert.EqualValues(t, 0, byBin[bin]["bin_count"], "bin %s", bin)
		assert.InDelta(t, 0.0, byBin[bin]["probability"].(float64), 1e-9, "bin %s", bin)
	}

	var totalCount, totalProb float64
	for _, r := range res.Rows {
		totalCount += float64(r["bin_count"].(int64))
		totalProb += r["probability"].(float64)
	}
	assert.EqualValues(t, 3, totalCount)
	assert.InDelta(t, 1.0, totalProb, 0.0002, "bin probabilities sum to 1 within rounding tolerance")
}

func TestGenderDistribution_AlphabeticalWithPercentages(t *testing.T) {
	s := openTestStore(t)
	id := seedCohort(t, s, []domain.CohortMember{
		{SubjectID: 1, CohortStartDate: day("2020-01-01"), CohortEndDate: day("2020-02-01")},
		{SubjectID: 2, CohortStartDate: day("2020-01-01"), CohortEndDate: day("2020-02-01")},
		{SubjectID: 3, CohortStartDate: day("2020-01-01"), CohortEndDate: day("2020-02-01")},
		{SubjectID: 4, CohortStartDate: day("2020-01-01"), CohortEndDate: day("2020-02-01")},
	})
	s.SetPersonSource(&fakePersonSource{rows: []domain.Row{
		person(1, 1990, 8532, 8527, 38003564),
		person(2, 1990, 8532, 8527, 38003564),
		person(3, 1990, 8532, 8527, 38003564),
		person(4, 1990, 8507, 8527, 38003564),
	}})

	res, err := s.GetCohortDistribution(context.Background(), id, "gender")
	require.NoError(t, err)
	require.Len(t, res.Rows, 3)

	assert.Equal(t, "female", res.Rows[0]["gender"])
	assert.Equal(t, "male", res.Rows[1]["gender"])
	assert.Equal(t, "other", res.Rows[2]["gender"])

	assert.EqualValues(t, 3, res.Rows[0]["gender_count"])
	assert.InDelta(t, 75.0, res.Rows[0]["probability"].(float64), 1e-9)
	assert.EqualValues(t, 1, res.Rows[1]["gender_count"])
	assert.InDelta(t, 25.0, res.Rows[1]["probability"].(float64), 1e-9)
	assert.EqualValues(t, 0, res.Rows[2]["gender_count"])
	assert.InDelta(t, 0.0, res.Rows[2]["probability"].(float64), 1e-9)
}

func TestDistribution_UnavailableWithoutSource(t *testing.T) {
	s := openTestStore(t)
	id := seedCohort(t, s, testMembers(1))

	res, err := s.GetCohortDistribution(context.Background(), id, "age")
	require.NoError(t, err)
	assert.True(t, res.Unavailable)
}
