package negotiation

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newsroom-ai/newsroom/internal/config"
	"github.com/newsroom-ai/newsroom/internal/store"
	"github.com/newsroom-ai/newsroom/pkg/types"
)

type brokerFixture struct {
	broker       *Broker
	negotiations *store.NegotiationStore
	tasks        *store.TaskStore
}

func newBrokerFixture(t *testing.T, cfg *types.Config) *brokerFixture {
	t.Helper()

	s := store.NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, s.Initialize())
	t.Cleanup(func() { s.Close() })

	negotiations := store.NewNegotiationStore(s)
	tasks := store.NewTaskStore(s)
	return &brokerFixture{
		broker:       NewBroker(config.Static(cfg), negotiations, tasks),
		negotiations: negotiations,
		tasks:        tasks,
	}
}

func analystAsk() *Ask {
	return &Ask{
		RequestingAgent: "analyst",
		RespondingAgent: "researcher",
		RequestTaskID:   "task-1",
		Summary:         "need recent incident data",
		QualityCriteria: "at least three sourced examples",
	}
}

func TestOpenDisallowedPair(t *testing.T) {
	f := newBrokerFixture(t, types.DefaultConfig())

	ask := analystAsk()
	ask.RespondingAgent = "newsletter" // analyst may only ask researcher

	_, err := f.broker.Open(ask)
	assert.ErrorIs(t, err, ErrPairNotAllowed)

	// Nothing recorded, nothing enqueued.
	all, err := f.negotiations.ListByStatus()
	require.NoError(t, err)
	assert.Empty(t, all)
	count, err := f.tasks.Count(nil)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestOpenEnqueuesDataRequest(t *testing.T) {
	f := newBrokerFixture(t, types.DefaultConfig())

	n, err := f.broker.Open(analystAsk())
	require.NoError(t, err)
	assert.Equal(t, types.NegotiationOpen, n.Status)
	assert.Equal(t, 1, n.Round)
	require.NotNil(t, n.NeededBy)

	queued, err := f.tasks.List(&types.TaskFilter{AssignedTo: "researcher"})
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, types.TaskDataRequest, queued[0].Type)
	assert.Equal(t, "broker", queued[0].CreatedBy)
	assert.Contains(t, string(queued[0].Input), n.ID)
}

func TestOpenConcurrentCeiling(t *testing.T) {
	f := newBrokerFixture(t, types.DefaultConfig()) // ceiling 2

	for i := 0; i < 2; i++ {
		_, err := f.broker.Open(analystAsk())
		require.NoError(t, err)
	}

	_, err := f.broker.Open(analystAsk())
	assert.ErrorIs(t, err, ErrCeilingExceeded)
}

func TestRespondCriteriaMetCloses(t *testing.T) {
	f := newBrokerFixture(t, types.DefaultConfig())

	n, err := f.broker.Open(analystAsk())
	require.NoError(t, err)

	applied, err := f.broker.Respond(n.ID, "resp-task", "found four examples", true)
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := f.negotiations.Get(n.ID)
	require.NoError(t, err)
	assert.Equal(t, types.NegotiationClosed, got.Status)
	require.NotNil(t, got.CriteriaMet)
	assert.True(t, *got.CriteriaMet)
	assert.NotNil(t, got.ClosedAt)
}

func TestRespondUnmetOpensFollowUp(t *testing.T) {
	f := newBrokerFixture(t, types.DefaultConfig()) // 3 rounds max

	n, err := f.broker.Open(analystAsk())
	require.NoError(t, err)

	applied, err := f.broker.Respond(n.ID, "resp-task", "only one example so far", false)
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := f.negotiations.Get(n.ID)
	require.NoError(t, err)
	assert.Equal(t, types.NegotiationFollowUp, got.Status)
	assert.Equal(t, 2, got.Round)
	assert.Nil(t, got.ClosedAt)

	// A second data_request landed on the responder's queue.
	queued, err := f.tasks.List(&types.TaskFilter{AssignedTo: "researcher"})
	require.NoError(t, err)
	assert.Len(t, queued, 2)
}

func TestRespondUnmetAtRoundCapCloses(t *testing.T) {
	cfg := types.DefaultConfig()
	cfg.Negotiation.MaxRounds = 2
	f := newBrokerFixture(t, cfg)

	n, err := f.broker.Open(analystAsk())
	require.NoError(t, err)

	_, err = f.broker.Respond(n.ID, "resp-1", "not enough", false)
	require.NoError(t, err)
	_, err = f.broker.Respond(n.ID, "resp-2", "still not enough", false)
	require.NoError(t, err)

	got, err := f.negotiations.Get(n.ID)
	require.NoError(t, err)
	assert.Equal(t, types.NegotiationClosed, got.Status)
	require.NotNil(t, got.CriteriaMet)
	assert.False(t, *got.CriteriaMet, "round cap closes without met criteria")
}

func TestSweepTimeoutsAndLateResponse(t *testing.T) {
	f := newBrokerFixture(t, types.DefaultConfig()) // 30 min timeout

	now := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	f.broker.SetNow(func() time.Time { return now })

	n, err := f.broker.Open(analystAsk())
	require.NoError(t, err)

	// Not yet timed out at 29 minutes.
	now = now.Add(29 * time.Minute)
	swept, err := f.broker.SweepTimeouts()
	require.NoError(t, err)
	assert.Zero(t, swept)

	now = now.Add(2 * time.Minute)
	swept, err = f.broker.SweepTimeouts()
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	got, err := f.negotiations.Get(n.ID)
	require.NoError(t, err)
	assert.Equal(t, types.NegotiationTimedOut, got.Status)

	// The responder finishing late is discarded.
	applied, err := f.broker.Respond(n.ID, "resp-task", "too late", true)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err = f.negotiations.Get(n.ID)
	require.NoError(t, err)
	assert.Equal(t, types.NegotiationTimedOut, got.Status)
}
