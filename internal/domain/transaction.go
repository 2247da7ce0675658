/**
 * @description
 * Ledger and outcome models for the billing-service.
 *
 * @notes
 * - A Transaction row is written and committed before every gateway call,
 *   regardless of how the charge turns out. Its existence is the audit trail;
 *   status reconciliation is owned by the main platform, not this service.
 */
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Transaction type and status codes, matching the platform's payment_transactions table.
const (
	TransactionTypeRecurring int16 = 2
	TransactionStatusPending int16 = 1
)

// Transaction is one billing-attempt ledger entry.
type Transaction struct {
	ID         uuid.UUID `json:"id"`
	Type       int16     `json:"type"`
	Status     int16     `json:"status"`
	ProviderID uuid.UUID `json:"provider_id"`
	OrderID    uuid.UUID `json:"order_id"`
	UserID     uuid.UUID `json:"user_id"`
	SessionID  string    `json:"session_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewAttemptSessionID builds the caller-generated idempotency token for one
// charge attempt. Nanosecond precision keeps tokens distinct even when two
// attempts for the same user land within the same second.
func NewAttemptSessionID(userID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("%s-batch-subscriptions-%d", userID, at.UnixNano())
}

// OutcomeKind classifies how a worker's run for one subscription ended.
type OutcomeKind string

const (
	// OutcomeCancelled: cancel-requested subscription closed without a charge.
	OutcomeCancelled OutcomeKind = "cancelled"
	// OutcomeBilled: charge succeeded and the subscription was closed for this cycle.
	OutcomeBilled OutcomeKind = "billed"
	// OutcomeNoMainCard: user had no usable main card; no charge was attempted.
	OutcomeNoMainCard OutcomeKind = "no_main_card"
	// OutcomeStuck: the retry loop was stopped (attempt cap or cancellation)
	// before the charge succeeded.
	OutcomeStuck OutcomeKind = "stuck"
)

// WorkerOutcome is the terminal result one worker reports back to the orchestrator.
type WorkerOutcome struct {
	SubscriptionID uuid.UUID   `json:"subscription_id"`
	UserID         uuid.UUID   `json:"user_id"`
	Kind           OutcomeKind `json:"kind"`
	Attempts       int         `json:"attempts"`
	Err            error       `json:"-"`
}
