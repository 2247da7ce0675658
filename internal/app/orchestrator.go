/**
 * @description
 * Billing batch orchestrator: queries every subscription due today, fans one
 * goroutine out per subscription, and joins them all before returning. Workers
 * commit their own database changes; the orchestrator only tallies outcomes,
 * publishes billing events, and logs the batch boundaries.
 */
package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/creatorly/billing-service/internal/domain"
	"github.com/creatorly/billing-service/pkg/rabbitmq"
)

// BatchResult summarizes one orchestrator run.
type BatchResult struct {
	Due        int  `json:"due"`
	Billed     int  `json:"billed"`
	Cancelled  int  `json:"cancelled"`
	NoMainCard int  `json:"no_main_card"`
	Stuck      int  `json:"stuck"`
	Skipped    bool `json:"skipped"`
}

// Failed reports how many subscriptions ended the batch without a terminal
// success (billed or cancelled).
func (r *BatchResult) Failed() int {
	return r.NoMainCard + r.Stuck
}

// RunLock guards against two concurrent batch runs double-charging.
type RunLock interface {
	TryAcquire(ctx context.Context) (bool, func(), error)
}

// Orchestrator drives one billing batch.
type Orchestrator struct {
	repo          Repository
	worker        *Worker
	lock          RunLock
	publisher     rabbitmq.Publisher
	logger        *slog.Logger
	maxConcurrent int // 0 = one goroutine per due subscription, no bound
}

// NewOrchestrator creates a new orchestrator. lock and publisher may be nil.
func NewOrchestrator(repo Repository, worker *Worker, lock RunLock, publisher rabbitmq.Publisher, logger *slog.Logger, maxConcurrent int) *Orchestrator {
	return &Orchestrator{
		repo:          repo,
		worker:        worker,
		lock:          lock,
		publisher:     publisher,
		logger:        logger,
		maxConcurrent: maxConcurrent,
	}
}

// Run executes one billing batch for today's calendar date (UTC). It returns
// once every worker has finished; there is no join timeout, so a worker stuck
// in an unbounded retry loop holds the batch open.
func (o *Orchestrator) Run(ctx context.Context) (*BatchResult, error) {
	o.logger.Info("billing batch started")

	if o.lock != nil {
		ok, release, err := o.lock.TryAcquire(ctx)
		if err != nil {
			// The lock is advisory; proceed if the lock backend is down.
			o.logger.Warn("run lock unavailable, proceeding without it", "error", err)
		} else if !ok {
			o.logger.Info("another billing batch holds the run lock, skipping")
			return &BatchResult{Skipped: true}, nil
		} else {
			defer release()
		}
	}

	items, err := o.repo.DueSubscriptions(ctx, time.Now().UTC())
	if err != nil {
		o.logger.Error("failed to query due subscriptions", "error", err)
		return nil, err
	}

	if len(items) == 0 {
		o.logger.Info("no subscriptions due")
		return &BatchResult{}, nil
	}

	o.logger.Info("dispatching billing workers", "count", len(items))

	// One goroutine per due subscription, launched eagerly. The optional
	// semaphore bounds how many run at once without changing the fan-out.
	var sem chan struct{}
	if o.maxConcurrent > 0 {
		sem = make(chan struct{}, o.maxConcurrent)
	}

	outcomes := make(chan domain.WorkerOutcome, len(items))
	var wg sync.WaitGroup
	for _, item := range items {
		wg.Add(1)
		go func(item domain.BillingItem) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			outcomes <- o.processIsolated(ctx, item)
		}(item)
	}
	wg.Wait()
	close(outcomes)

	result := &BatchResult{Due: len(items)}
	for outcome := range outcomes {
		switch outcome.Kind {
		case domain.OutcomeBilled:
			result.Billed++
		case domain.OutcomeCancelled:
			result.Cancelled++
		case domain.OutcomeNoMainCard:
			result.NoMainCard++
		default:
			result.Stuck++
		}
		o.publishOutcome(ctx, outcome)
	}

	o.logger.Info("billing batch finished",
		"due", result.Due,
		"billed", result.Billed,
		"cancelled", result.Cancelled,
		"no_main_card", result.NoMainCard,
		"stuck", result.Stuck,
	)

	return result, nil
}

// processIsolated runs one worker and converts a panic into a stuck outcome so
// a single subscription can never take down its siblings or the batch.
func (o *Orchestrator) processIsolated(ctx context.Context, item domain.BillingItem) (outcome domain.WorkerOutcome) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("billing worker panicked",
				"subscription_id", item.Subscription.ID,
				"panic", r,
			)
			outcome = domain.WorkerOutcome{
				SubscriptionID: item.Subscription.ID,
				UserID:         item.Subscription.UserID,
				Kind:           domain.OutcomeStuck,
			}
		}
	}()
	return o.worker.Process(ctx, item)
}

type billingEvent struct {
	SubscriptionID string    `json:"subscription_id"`
	UserID         string    `json:"user_id"`
	Outcome        string    `json:"outcome"`
	Attempts       int       `json:"attempts"`
	Timestamp      time.Time `json:"timestamp"`
}

func (o *Orchestrator) publishOutcome(ctx context.Context, outcome domain.WorkerOutcome) {
	if o.publisher == nil {
		return
	}

	routingKey := "billing." + string(outcome.Kind)
	event := billingEvent{
		SubscriptionID: outcome.SubscriptionID.String(),
		UserID:         outcome.UserID.String(),
		Outcome:        string(outcome.Kind),
		Attempts:       outcome.Attempts,
		Timestamp:      time.Now().UTC(),
	}

	if err := o.publisher.Publish(ctx, routingKey, event); err != nil {
		o.logger.Warn("failed to publish billing event", "routing_key", routingKey, "error", err)
	}
}
