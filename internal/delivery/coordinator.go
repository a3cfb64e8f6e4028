// Package delivery claims qualifying posts, batches them per recipient and
// sends one message per batch, rolling claims back when a batch fails.
package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/PartnerCenter/internal/database"
	"github.com/TobiSchelling/PartnerCenter/internal/logging"
	"github.com/TobiSchelling/PartnerCenter/internal/notify"
	"github.com/TobiSchelling/PartnerCenter/internal/ratelimit"
	"github.com/TobiSchelling/PartnerCenter/internal/selector"
)

// DefaultSendTimeout bounds one gateway call.
const DefaultSendTimeout = 10 * time.Second

// Store is the part of database.Store the coordinator writes.
type Store interface {
	ClaimPost(ctx context.Context, postID int64) (bool, error)
	ReleaseClaim(ctx context.Context, postID int64) error
	InsertDelivery(ctx context.Context, d database.Delivery) error
}

// Limiter is the per-recipient rate limiter.
type Limiter interface {
	TryAcquire(ctx context.Context, recipient string) ratelimit.Decision
}

// Result summarizes one delivery pass.
type Result struct {
	Claimed        int
	AlreadyClaimed int
	Batches        int
	FailedBatches  int
	// Messages counts successful gateway calls, Sent the posts they carried.
	Messages   int
	Sent       int
	RolledBack int
	Errors     []string
}

func (r *Result) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Coordinator runs the claim, send and finalize-or-rollback protocol.
type Coordinator struct {
	store       Store
	limiter     Limiter
	gateway     notify.Gateway
	sendTimeout time.Duration
	newID       func() string
}

// New creates a coordinator. A non-positive timeout uses DefaultSendTimeout.
func New(store Store, limiter Limiter, gateway notify.Gateway, sendTimeout time.Duration) *Coordinator {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &Coordinator{
		store:       store,
		limiter:     limiter,
		gateway:     gateway,
		sendTimeout: sendTimeout,
		newID:       uuid.NewString,
	}
}

// Deliver claims candidates in order, sends one message per recipient and
// finalizes or rolls back each batch as a unit. Expected failures are
// reported in the result, never returned.
func (c *Coordinator) Deliver(ctx context.Context, runID string, candidates []selector.Candidate) *Result {
	log := logging.Log.WithField("run_id", runID)
	r := &Result{}

	var claimed []selector.Candidate
	for _, cand := range candidates {
		ok, err := c.store.ClaimPost(ctx, cand.Post.ID)
		if err != nil {
			log.WithField("post_id", cand.Post.ID).WithError(err).Error("claim failed")
			r.errorf("claim post %d: %v", cand.Post.ID, err)
			continue
		}
		if !ok {
			log.WithField("post_id", cand.Post.ID).Debug("already claimed by another run")
			r.AlreadyClaimed++
			continue
		}
		claimed = append(claimed, cand)
	}
	r.Claimed = len(claimed)

	// Claims are held from here on; finish the batches even if the caller
	// goes away so nothing stays claimed without a send.
	ctx = context.WithoutCancel(ctx)

	for _, batch := range GroupByRecipient(claimed) {
		r.Batches++
		c.deliverBatch(ctx, log, runID, batch, r)
	}

	log.WithFields(logrus.Fields{
		"claimed":         r.Claimed,
		"already_claimed": r.AlreadyClaimed,
		"batches":         r.Batches,
		"failed_batches":  r.FailedBatches,
		"sent":            r.Sent,
	}).Info("delivery complete")
	return r
}

func (c *Coordinator) deliverBatch(ctx context.Context, log *logrus.Entry, runID string, b Batch, r *Result) {
	log = log.WithFields(logrus.Fields{"recipient": b.RecipientID, "posts": len(b.Candidates)})
	message := RenderMessage(b, c.gateway.Channel(), c.gateway.MaxLength())

	decision := c.limiter.TryAcquire(ctx, b.RecipientID)
	if !decision.Allowed {
		reason := fmt.Sprintf("rate limited until %s", decision.ResetAt.UTC().Format(time.RFC3339))
		log.Warn(reason)
		c.rollback(ctx, log, runID, b, message, reason, r)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	err := c.gateway.Send(sendCtx, b.RecipientID, message)
	cancel()
	if err != nil {
		log.WithError(err).Warn("send failed")
		c.rollback(ctx, log, runID, b, message, err.Error(), r)
		return
	}

	for _, cand := range b.Candidates {
		c.record(ctx, log, runID, cand, b.RecipientID, message, database.DeliverySent, nil, r)
	}
	r.Messages++
	r.Sent += len(b.Candidates)
	log.Info("batch sent")
}

// rollback releases every claim of a failed batch and records why.
func (c *Coordinator) rollback(ctx context.Context, log *logrus.Entry, runID string, b Batch, message, reason string, r *Result) {
	r.FailedBatches++
	r.errorf("recipient %s: %s", b.RecipientID, reason)

	for _, cand := range b.Candidates {
		if err := c.store.ReleaseClaim(ctx, cand.Post.ID); err != nil {
			log.WithField("post_id", cand.Post.ID).WithError(err).Error("release claim failed, post stays marked notified")
			r.errorf("release post %d: %v", cand.Post.ID, err)
		} else {
			r.RolledBack++
		}
		c.record(ctx, log, runID, cand, b.RecipientID, message, database.DeliveryFailed, &reason, r)
	}
}

func (c *Coordinator) record(ctx context.Context, log *logrus.Entry, runID string, cand selector.Candidate, recipient, message, status string, reason *string, r *Result) {
	err := c.store.InsertDelivery(ctx, database.Delivery{
		ID:          c.newID(),
		PostID:      cand.Post.ID,
		RunID:       runID,
		RecipientID: recipient,
		Channel:     c.gateway.Channel(),
		Message:     message,
		Status:      status,
		Error:       reason,
	})
	if err != nil {
		log.WithField("post_id", cand.Post.ID).WithError(err).Error("recording delivery failed")
		r.errorf("record delivery for post %d: %v", cand.Post.ID, err)
	}
}
