package node

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stratusevm/stratus/pkg/executor"
	"github.com/stratusevm/stratus/pkg/miner"
	"github.com/stratusevm/stratus/pkg/storage/memory"
)

type fakeImporter struct {
	healthy atomic.Bool
	started atomic.Bool
}

func (f *fakeImporter) Run(ctx context.Context) error {
	f.started.Store(true)
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeImporter) Healthy() bool {
	return f.healthy.Load()
}

func newTestNode(t *testing.T) (*Node, *fakeImporter) {
	t.Helper()
	store := memory.New()
	exec := executor.New()
	m := miner.New(store, exec, miner.Config{
		Interval:           time.Hour, // ticks are driven manually in tests
		EnableGenesis:      true,
		EnableTestAccounts: true,
	})
	imp := &fakeImporter{}
	imp.healthy.Store(true)
	factory := func(params FollowerParams) (Importer, error) {
		return imp, nil
	}
	return New(store, exec, m, factory), imp
}

func followerParams() FollowerParams {
	return FollowerParams{
		HTTPURL:      "http://leader:3000",
		WSURL:        "ws://leader:3001",
		RPCTimeout:   2 * time.Second,
		SyncInterval: 100 * time.Millisecond,
	}
}

func TestLeaderState(t *testing.T) {
	n, _ := newTestNode(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, n.StartLeader(ctx))

	state := n.State()
	require.True(t, state.IsLeader)
	require.True(t, state.IsImporterShutdown)
	require.True(t, state.IsIntervalMinerRunning)
	require.False(t, state.MinerPaused)
	require.True(t, state.TransactionsEnabled)
	require.True(t, n.Healthy())
}

func TestChangeToFollowerPreconditions(t *testing.T) {
	n, _ := newTestNode(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, n.StartLeader(ctx))

	// ingestion still enabled
	_, err := n.ChangeToFollower(followerParams())
	require.ErrorIs(t, err, ErrTransactionsEnabled)

	// miner still producing
	n.DisableTransactions()
	_, err = n.ChangeToFollower(followerParams())
	require.ErrorIs(t, err, ErrMinerEnabled)
}

func TestChangeToFollowerAndBack(t *testing.T) {
	n, imp := newTestNode(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, n.StartLeader(ctx))

	n.DisableTransactions()
	n.DisableMiner()

	changed, err := n.ChangeToFollower(followerParams())
	require.NoError(t, err)
	require.True(t, changed)

	state := n.State()
	require.False(t, state.IsLeader)
	require.False(t, state.IsImporterShutdown)
	require.False(t, state.IsIntervalMinerRunning)
	require.Eventually(t, func() bool { return imp.started.Load() }, time.Second, 10*time.Millisecond)

	// a second call is a no-op
	changed, err = n.ChangeToFollower(followerParams())
	require.NoError(t, err)
	require.False(t, changed)

	// transactions are rejected while following
	_, err = n.SendTransaction(ctx, nil)
	require.ErrorIs(t, err, ErrTransactionsDisabled)

	changed, err = n.ChangeToLeader()
	require.NoError(t, err)
	require.True(t, changed)

	state = n.State()
	require.True(t, state.IsLeader)
	require.True(t, state.IsImporterShutdown)
	require.True(t, state.IsIntervalMinerRunning)

	// a second call is a no-op
	changed, err = n.ChangeToLeader()
	require.NoError(t, err)
	require.False(t, changed)
}

func TestChangeToLeaderRequiresDisabledTransactions(t *testing.T) {
	n, _ := newTestNode(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, n.StartFollower(ctx, followerParams()))

	n.EnableTransactions()
	_, err := n.ChangeToLeader()
	require.ErrorIs(t, err, ErrTransactionsEnabled)
}

func TestToggleIdempotence(t *testing.T) {
	n, _ := newTestNode(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, n.StartLeader(ctx))

	require.True(t, n.EnableTransactions())
	require.True(t, n.EnableTransactions())
	require.False(t, n.DisableTransactions())
	require.False(t, n.DisableTransactions())

	require.False(t, n.DisableMiner())
	require.False(t, n.DisableMiner())
	require.True(t, n.State().MinerPaused)
	require.True(t, n.EnableMiner())
	require.False(t, n.State().MinerPaused)
}

func TestFollowerHealthTracksImporter(t *testing.T) {
	n, imp := newTestNode(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, n.StartFollower(ctx, followerParams()))

	require.True(t, n.Healthy())
	imp.healthy.Store(false)
	require.False(t, n.Healthy())
}

func TestModeGuardSingleFlight(t *testing.T) {
	n, _ := newTestNode(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, n.StartLeader(ctx))
	n.DisableTransactions()
	n.DisableMiner()

	// while one transition holds the guard, every other change request
	// fails fast with the contention error
	require.NoError(t, n.tryAcquireModeGuard())

	const attempts = 1000
	var wg sync.WaitGroup
	var contentionErrors atomic.Int64
	for i := 0; i < attempts; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			changed, err := n.ChangeToFollower(followerParams())
			require.False(t, changed)
			if errors.Is(err, ErrModeChangeInProgress) {
				contentionErrors.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			changed, err := n.ChangeToLeader()
			require.False(t, changed)
			if errors.Is(err, ErrModeChangeInProgress) {
				contentionErrors.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int64(2*attempts), contentionErrors.Load())

	n.releaseModeGuard()

	// once released, exactly one direction can win per transition
	changed, err := n.ChangeToFollower(followerParams())
	require.NoError(t, err)
	require.True(t, changed)
}
