package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/PartnerCenter/internal/pipeline"
)

type fakeUsers []int64

func (f fakeUsers) ListUsersWithAlertableProfiles(context.Context) ([]int64, error) {
	return f, nil
}

type countingSyncer struct {
	mu    sync.Mutex
	calls map[int64]int
	done  chan int64
}

func (c *countingSyncer) Sync(_ context.Context, userID int64) *pipeline.Result {
	c.mu.Lock()
	c.calls[userID]++
	c.mu.Unlock()
	c.done <- userID
	return &pipeline.Result{RunID: "r", UserID: userID, Sent: 1}
}

func waitFor(t *testing.T, ch chan int64, n int) []int64 {
	t.Helper()
	var got []int64
	for len(got) < n {
		select {
		case id := <-ch:
			got = append(got, id)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out after %d of %d syncs", len(got), n)
		}
	}
	return got
}

func TestSchedulerAndWorker(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	syncer := &countingSyncer{calls: make(map[int64]int), done: make(chan int64, 16)}
	worker := NewWorker(bus, syncer, 2)
	workerDone := make(chan error, 1)
	go func() { workerDone <- worker.Run(ctx) }()

	// Let the worker subscribe before anything is published.
	time.Sleep(50 * time.Millisecond)

	sched := NewScheduler(fakeUsers{1, 2}, bus, time.Hour)
	go sched.Run(ctx)

	got := waitFor(t, syncer.done, 2)
	assert.ElementsMatch(t, []int64{1, 2}, got)

	require.NoError(t, RequestSync(bus, 2, SourceUser))
	waitFor(t, syncer.done, 1)

	syncer.mu.Lock()
	assert.Equal(t, 1, syncer.calls[1])
	assert.Equal(t, 2, syncer.calls[2])
	syncer.mu.Unlock()

	assert.Eventually(t, func() bool {
		r := worker.LastResult(2)
		return r != nil && r.UserID == 2
	}, time.Second, 10*time.Millisecond)
	assert.Nil(t, worker.LastResult(99))

	cancel()
	select {
	case err := <-workerDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}
