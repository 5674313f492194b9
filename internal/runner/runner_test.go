package runner

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/surge/internal/config"
	"github.com/wesleyorama2/surge/internal/metrics"
	"github.com/wesleyorama2/surge/internal/scenario"
	"github.com/wesleyorama2/surge/internal/transport"
)

func parseScenario(t *testing.T, yamlSrc string) *config.Scenario {
	t.Helper()
	sc, err := config.Parse([]byte(yamlSrc))
	require.NoError(t, err)
	return sc
}

func TestRunner_AllUsersSucceed(t *testing.T) {
	sc := parseScenario(t, `
config:
  target: mem://local
flow:
  - emit:
      channel: events
      data: { kind: ping }
`)
	broker := transport.NewBroker()
	engine := metrics.NewEngine()

	r, err := New(sc, &transport.MemDialer{Broker: broker}, engine, nil, nil, Options{VUs: 4})
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, res.Users)
	assert.Equal(t, 4, res.Succeeded)
	assert.Zero(t, res.Failed)
	assert.Empty(t, res.Errors)
	assert.Len(t, broker.Sent(), 4)

	require.NotNil(t, res.Snapshot)
	assert.Equal(t, int64(4), res.Snapshot.Started)
	assert.Equal(t, int64(4), res.Snapshot.Requests)
}

func TestRunner_FailureIsolation(t *testing.T) {
	// Users alternate between success and failure; one user's failure must
	// not stop the others.
	var calls atomic.Int64
	delegate := scenario.DelegateFunc(func(ctx context.Context, spec *config.DelegateSpec, sctx *scenario.Context) error {
		if calls.Add(1)%2 == 0 {
			return assert.AnError
		}
		return nil
	})

	sc := parseScenario(t, `
config: {}
flow:
  - delegate:
      name: flaky
`)
	r, err := New(sc, &transport.MemDialer{Broker: transport.NewBroker()}, metrics.NewEngine(), nil, delegate, Options{VUs: 4})
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err, "user failures are results, not run errors")

	assert.Equal(t, 4, res.Users)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 2, res.Failed)
	require.Len(t, res.Errors, 2)
	for _, ue := range res.Errors {
		assert.NotEmpty(t, ue.ContextID)
		assert.ErrorIs(t, ue.Err, assert.AnError)
	}
}

func TestRunner_DefaultsToOneUser(t *testing.T) {
	sc := parseScenario(t, `
config:
  target: mem://local
flow:
  - emit:
      channel: events
`)
	r, err := New(sc, &transport.MemDialer{Broker: transport.NewBroker()}, metrics.NewEngine(), nil, nil, Options{})
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Users)
	assert.Equal(t, 1, res.Succeeded)
}

func TestRunner_CompileFailure(t *testing.T) {
	sc := parseScenario(t, `
config:
  target: mem://local
flow:
  - emit:
      channel: query
      beforeResponse: unregistered
      response:
        channel: reply
`)
	_, err := New(sc, &transport.MemDialer{Broker: transport.NewBroker()}, metrics.NewEngine(), nil, nil, Options{VUs: 2})
	require.Error(t, err, "a bad hook name fails before any user starts")
}

func TestRunner_CancelledBeforeStart(t *testing.T) {
	sc := parseScenario(t, `
config:
  target: mem://local
flow:
  - emit:
      channel: events
`)
	r, err := New(sc, &transport.MemDialer{Broker: transport.NewBroker()}, metrics.NewEngine(), nil, nil, Options{VUs: 3, RampRate: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, res.Users, "no user starts once the run is cancelled")
}

func TestRunner_SeedsVariablesPerUser(t *testing.T) {
	sc := parseScenario(t, `
config:
  target: mem://local
variables:
  room: lobby
flow:
  - emit:
      channel: "chat/{{room}}"
`)
	broker := transport.NewBroker()
	r, err := New(sc, &transport.MemDialer{Broker: broker}, metrics.NewEngine(), nil, nil, Options{VUs: 2})
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	require.NoError(t, err)

	for _, msg := range broker.Sent() {
		assert.Equal(t, "chat/lobby", msg.Channel)
	}
}
