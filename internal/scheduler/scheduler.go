// Package scheduler turns timer ticks and user clicks into sync requests on
// an in-process event bus and runs them.
package scheduler

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/PartnerCenter/internal/logging"
	"github.com/TobiSchelling/PartnerCenter/internal/pipeline"
)

// TopicSyncRequested carries SyncRequest payloads.
const TopicSyncRequested = "sync.requested"

// Request sources.
const (
	SourceSchedule = "schedule"
	SourceUser     = "user"
)

// SyncRequest asks for one sync run for a user.
type SyncRequest struct {
	UserID int64  `json:"user_id"`
	Source string `json:"source"`
}

// NewBus creates the in-process event bus.
func NewBus() *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 64},
		watermill.NewStdLogger(false, false),
	)
}

// RequestSync publishes a sync request.
func RequestSync(pub message.Publisher, userID int64, source string) error {
	data, err := json.Marshal(SyncRequest{UserID: userID, Source: source})
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.Metadata.Set("user_id", strconv.FormatInt(userID, 10))
	return pub.Publish(TopicSyncRequested, msg)
}

// UserLister lists users that should be synced on schedule.
type UserLister interface {
	ListUsersWithAlertableProfiles(ctx context.Context) ([]int64, error)
}

// Scheduler publishes a sync request for every alertable user on each tick.
type Scheduler struct {
	users    UserLister
	pub      message.Publisher
	interval time.Duration
}

// NewScheduler creates a scheduler ticking every interval.
func NewScheduler(users UserLister, pub message.Publisher, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Scheduler{users: users, pub: pub, interval: interval}
}

// Run ticks until ctx ends. The first tick happens immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	users, err := s.users.ListUsersWithAlertableProfiles(ctx)
	if err != nil {
		logging.Log.WithError(err).Error("scheduler: listing users")
		return
	}
	for _, id := range users {
		if err := RequestSync(s.pub, id, SourceSchedule); err != nil {
			logging.Log.WithError(err).Errorf("scheduler: publishing sync for user %d", id)
		}
	}
	logging.Log.Debugf("scheduler: requested %d syncs", len(users))
}

// Syncer runs one sync.
type Syncer interface {
	Sync(ctx context.Context, userID int64) *pipeline.Result
}

// Worker consumes sync requests. Runs for the same user may overlap; the
// per-post claim keeps them from sending twice.
type Worker struct {
	sub         message.Subscriber
	syncer      Syncer
	concurrency int

	mu   sync.Mutex
	last map[int64]*pipeline.Result
}

// NewWorker creates a worker running at most concurrency syncs at a time.
func NewWorker(sub message.Subscriber, syncer Syncer, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Worker{sub: sub, syncer: syncer, concurrency: concurrency, last: make(map[int64]*pipeline.Result)}
}

// Run processes requests until ctx ends, then waits for running syncs.
func (w *Worker) Run(ctx context.Context) error {
	messages, err := w.sub.Subscribe(ctx, TopicSyncRequested)
	if err != nil {
		return errors.Wrap(err, "subscribing to sync requests")
	}

	var g errgroup.Group
	g.SetLimit(w.concurrency)

	for msg := range messages {
		var req SyncRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			logging.Log.WithError(err).Warn("dropping malformed sync request")
			msg.Ack()
			continue
		}
		msg.Ack()

		g.Go(func() error {
			logging.Log.WithField("user_id", req.UserID).Debugf("sync requested by %s", req.Source)
			// A sync is not interrupted halfway by shutdown.
			res := w.syncer.Sync(context.WithoutCancel(ctx), req.UserID)
			w.mu.Lock()
			w.last[req.UserID] = res
			w.mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// LastResult returns the most recent finished sync of a user, or nil.
func (w *Worker) LastResult(userID int64) *pipeline.Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last[userID]
}
