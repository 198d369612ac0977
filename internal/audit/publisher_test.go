package audit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPublisher(t *testing.T) (*Publisher, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewPublisher(client, nil), mr, client
}

func TestCohortCreated_WritesRecordWithTTL(t *testing.T) {
	p, mr, _ := testPublisher(t)

	require.NoError(t, p.CohortCreated(context.Background(), 42, "diabetes-2020", "alice"))

	key := "bias:cohort:42"
	require.True(t, mr.Exists(key))
	assert.Greater(t, mr.TTL(key), time.Duration(0))

	ev, err := p.CohortRecord(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "cohort_created", ev.Kind)
	assert.EqualValues(t, 42, ev.CohortID)
	assert.Equal(t, "diabetes-2020", ev.CohortName)
	assert.Equal(t, "alice", ev.CreatedBy)
	assert.NotEmpty(t, ev.EventID)
}

func TestCohortRecord_MissingIsNilNotError(t *testing.T) {
	p, _, _ := testPublisher(t)

	ev, err := p.CohortRecord(context.Background(), 7)
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestCohortsCompared_Publishes(t *testing.T) {
	p, _, client := testPublisher(t)

	sub := client.Subscribe(context.Background(), "bias:events")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(context.Background()) // wait for subscription
	require.NoError(t, err)

	require.NoError(t, p.CohortsCompared(context.Background(), 1, 2))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Contains(t, msg.Payload, `"cohorts_compared"`)
}

func TestNilClientIsNoOp(t *testing.T) {
	p := NewPublisher(nil, nil)

	require.NoError(t, p.CohortCreated(context.Background(), 1, "n", "u"))
	require.NoError(t, p.CohortsCompared(context.Background(), 1, 2))
	ev, err := p.CohortRecord(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, ev)
	assert.False(t, p.Enabled())
}
