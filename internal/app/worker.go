/**
 * @description
 * Per-subscription billing worker. Each due subscription gets one worker
 * invocation for the billing day: cancel-requested subscriptions are closed
 * without a charge, active ones are driven through the
 * ledger-write-then-gateway-charge sequence with retry until success.
 *
 * @notes
 * - The pending ledger row must commit before the gateway is called. Money
 *   never moves without an audit record already on disk.
 * - The retry loop is unbounded by default, matching the production batch:
 *   a permanently failing gateway keeps the worker alive, generating one
 *   ledger row and one operator alert per attempt, until the process is
 *   stopped. MaxAttempts > 0 caps it for deployments that opt in.
 */
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/creatorly/billing-service/internal/domain"
)

// Repository defines the database operations the billing batch needs.
type Repository interface {
	DueSubscriptions(ctx context.Context, day time.Time) ([]domain.BillingItem, error)
	CreateTransaction(ctx context.Context, txn *domain.Transaction) error
	CloseSubscription(ctx context.Context, subscriptionID uuid.UUID) error
}

// Gateway defines the interface for the payment gateway client.
type Gateway interface {
	Charge(ctx context.Context, cardToken string, amount int64, correlationID string) error
}

// Alerter defines the interface for the operator alert channel.
type Alerter interface {
	NotifyChargeFailure(ctx context.Context, userID string) error
}

// Worker processes one subscription's billing-day lifecycle. It holds no
// per-subscription state, so one Worker serves all goroutines of a batch.
type Worker struct {
	repo          Repository
	gateway       Gateway
	alerter       Alerter
	logger        *slog.Logger
	retryInterval time.Duration
	maxAttempts   int // 0 = retry until success
}

// NewWorker creates a new billing worker.
func NewWorker(repo Repository, gateway Gateway, alerter Alerter, logger *slog.Logger, retryInterval time.Duration, maxAttempts int) *Worker {
	return &Worker{
		repo:          repo,
		gateway:       gateway,
		alerter:       alerter,
		logger:        logger,
		retryInterval: retryInterval,
		maxAttempts:   maxAttempts,
	}
}

// Process runs the state machine for one due subscription and reports the
// terminal outcome. It never panics its way out and never returns early on a
// sibling's behalf; failure isolation is per subscription.
func (w *Worker) Process(ctx context.Context, item domain.BillingItem) domain.WorkerOutcome {
	sub := item.Subscription
	log := w.logger.With("subscription_id", sub.ID, "user_id", sub.UserID)

	switch sub.Status {
	case domain.StatusCancelRequested:
		return w.processCancellation(ctx, sub, log)
	case domain.StatusActive:
		return w.processCharge(ctx, item, log)
	default:
		// The due-query only selects active and cancel-requested rows.
		log.Warn("subscription with unexpected status reached worker", "status", sub.Status)
		return domain.WorkerOutcome{
			SubscriptionID: sub.ID,
			UserID:         sub.UserID,
			Kind:           domain.OutcomeStuck,
		}
	}
}

func (w *Worker) processCancellation(ctx context.Context, sub domain.Subscription, log *slog.Logger) domain.WorkerOutcome {
	outcome := domain.WorkerOutcome{SubscriptionID: sub.ID, UserID: sub.UserID}

	if err := w.repo.CloseSubscription(ctx, sub.ID); err != nil {
		log.Error("failed to close cancel-requested subscription", "error", err)
		w.alert(ctx, sub.UserID, log)
		outcome.Kind = domain.OutcomeStuck
		outcome.Err = err
		return outcome
	}

	log.Info("subscription marked as cancelled")
	outcome.Kind = domain.OutcomeCancelled
	return outcome
}

func (w *Worker) processCharge(ctx context.Context, item domain.BillingItem, log *slog.Logger) domain.WorkerOutcome {
	sub := item.Subscription
	outcome := domain.WorkerOutcome{SubscriptionID: sub.ID, UserID: sub.UserID}

	card := item.MainCard
	if card == nil || !card.IsValid || card.SendID == nil || *card.SendID == "" {
		// No usable main card: retrying cannot help until the user or an
		// operator fixes the payment method. Alert once and stop.
		log.Error("no usable main card for subscription")
		w.alert(ctx, sub.UserID, log)
		outcome.Kind = domain.OutcomeNoMainCard
		return outcome
	}

	for {
		outcome.Attempts++

		err := w.attemptCharge(ctx, item, *card.SendID)
		if err == nil {
			break
		}

		log.Error("charge attempt failed", "attempt", outcome.Attempts, "error", err)
		w.alert(ctx, sub.UserID, log)

		if w.maxAttempts > 0 && outcome.Attempts >= w.maxAttempts {
			log.Error("giving up after attempt cap", "attempts", outcome.Attempts)
			outcome.Kind = domain.OutcomeStuck
			outcome.Err = err
			return outcome
		}

		select {
		case <-ctx.Done():
			outcome.Kind = domain.OutcomeStuck
			outcome.Err = ctx.Err()
			return outcome
		case <-time.After(w.retryInterval):
		}
	}

	// The status transition is a separate, final commit after the charge settled.
	if err := w.repo.CloseSubscription(ctx, sub.ID); err != nil {
		log.Error("charge settled but status transition failed", "error", err)
		w.alert(ctx, sub.UserID, log)
		outcome.Kind = domain.OutcomeStuck
		outcome.Err = err
		return outcome
	}

	log.Info("subscription billed", "attempts", outcome.Attempts)
	outcome.Kind = domain.OutcomeBilled
	return outcome
}

// attemptCharge performs one ledger-write-then-charge iteration. A failure at
// either step is transient: the caller alerts, backs off, and tries again with
// a fresh ledger row.
func (w *Worker) attemptCharge(ctx context.Context, item domain.BillingItem, cardToken string) error {
	sub := item.Subscription

	txn := &domain.Transaction{
		Type:       domain.TransactionTypeRecurring,
		Status:     domain.TransactionStatusPending,
		ProviderID: sub.ProviderID,
		OrderID:    sub.OrderID,
		UserID:     sub.UserID,
		SessionID:  domain.NewAttemptSessionID(sub.UserID, time.Now().UTC()),
	}
	if err := w.repo.CreateTransaction(ctx, txn); err != nil {
		return fmt.Errorf("ledger write failed: %w", err)
	}

	correlationID := "B_" + txn.ID.String()
	if err := w.gateway.Charge(ctx, cardToken, item.Payment.Amount, correlationID); err != nil {
		return fmt.Errorf("gateway charge failed: %w", err)
	}

	return nil
}

// alert pages the operator channel. Alerting is best-effort: a send failure is
// logged and swallowed, never folded into the billing control flow.
func (w *Worker) alert(ctx context.Context, userID uuid.UUID, log *slog.Logger) {
	if w.alerter == nil {
		return
	}
	if err := w.alerter.NotifyChargeFailure(ctx, userID.String()); err != nil {
		log.Warn("failed to send operator alert", "error", err)
	}
}
