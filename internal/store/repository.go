/**
 * @description
 * This file implements the data access layer for the billing-service.
 * It contains all the SQL queries and logic for interacting with the database
 * for the daily billing batch.
 *
 * @notes
 * - Workers run concurrently; they share the pool but never share a
 *   connection, and each worker only touches rows belonging to its own
 *   subscription, so row-level isolation is all the coordination needed.
 */
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/creatorly/billing-service/internal/domain"
)

// Repository handles database operations for the billing batch.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// DueSubscriptions fetches every recurring subscription whose next_billing_date
// falls on the given calendar day, joined with the user's current main card and
// the amount definition. The card join is a LEFT JOIN on purpose: a subscriber
// without a main card must reach the worker so it can alert, rather than being
// silently dropped from the batch.
func (r *Repository) DueSubscriptions(ctx context.Context, day time.Time) ([]domain.BillingItem, error) {
	var items []domain.BillingItem
	query := `
        SELECT s.id, s.user_id, s.order_id, s.provider_id, s.payment_id,
               s.next_billing_date, s.access_type, s.status,
               up.id, up.user_id, up.provider_id, up.sendid, up.is_main_card, up.is_valid,
               p.id, p.payment_amount
        FROM subscriptions s
        LEFT JOIN user_providers up
               ON up.user_id = s.user_id AND up.is_main_card = TRUE
        JOIN payments p ON p.id = s.payment_id
        WHERE s.next_billing_date::date = $1::date
          AND s.access_type = $2
          AND s.status IN ($3, $4)
    `
	rows, err := r.db.Query(ctx, query,
		day.UTC(),
		domain.AccessTypeRecurring,
		domain.StatusActive,
		domain.StatusCancelRequested,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item       domain.BillingItem
			cardID     *uuid.UUID
			cardUserID *uuid.UUID
			cardProvID *uuid.UUID
			sendID     *string
			isMainCard *bool
			isValid    *bool
		)
		err := rows.Scan(
			&item.Subscription.ID, &item.Subscription.UserID, &item.Subscription.OrderID,
			&item.Subscription.ProviderID, &item.Subscription.PaymentID,
			&item.Subscription.NextBillingDate, &item.Subscription.AccessType, &item.Subscription.Status,
			&cardID, &cardUserID, &cardProvID, &sendID, &isMainCard, &isValid,
			&item.Payment.ID, &item.Payment.Amount,
		)
		if err != nil {
			return nil, err
		}

		if cardID != nil {
			item.MainCard = &domain.UserProvider{
				ID:         *cardID,
				UserID:     *cardUserID,
				ProviderID: *cardProvID,
				SendID:     sendID,
				IsMainCard: isMainCard != nil && *isMainCard,
				IsValid:    isValid != nil && *isValid,
			}
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

// CreateTransaction inserts one pending ledger entry for a charge attempt.
// The insert commits on its own; callers rely on the row existing before any
// gateway call is made.
func (r *Repository) CreateTransaction(ctx context.Context, txn *domain.Transaction) error {
	query := `
        INSERT INTO payment_transactions
            (type, status, provider_id, order_id, user_id, session_id, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
        RETURNING id, created_at, updated_at
    `
	return r.db.QueryRow(ctx, query,
		txn.Type,
		txn.Status,
		txn.ProviderID,
		txn.OrderID,
		txn.UserID,
		txn.SessionID,
	).Scan(&txn.ID, &txn.CreatedAt, &txn.UpdatedAt)
}

// CloseSubscription sets a subscription's status to closed. Used both when a
// cancellation request is honored and after a successful charge; the platform
// reuses one terminal status for both (see DESIGN.md).
func (r *Repository) CloseSubscription(ctx context.Context, subscriptionID uuid.UUID) error {
	query := `
        UPDATE subscriptions
        SET status = $1,
            updated_at = NOW()
        WHERE id = $2
    `
	_, err := r.db.Exec(ctx, query, domain.StatusClosed, subscriptionID)
	return err
}
