/**
 * @description
 * This file defines the core domain models for the billing-service.
 * These structs map to the subscription, payment-method, and price tables
 * owned by the main platform; the billing-service only ever reads them and
 * mutates the subscription's status fields.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus mirrors the smallint status column on subscriptions.
type SubscriptionStatus int16

const (
	StatusActive          SubscriptionStatus = 1
	StatusCancelRequested SubscriptionStatus = 2
	StatusClosed          SubscriptionStatus = 3
)

// AccessTypeRecurring marks subscriptions that are auto-charged each cycle.
// Other access types (one-off purchases, comp grants) are never billed here.
const AccessTypeRecurring int16 = 1

// Subscription represents one user's recurring order.
type Subscription struct {
	ID              uuid.UUID          `json:"id"`
	UserID          uuid.UUID          `json:"user_id"`
	OrderID         uuid.UUID          `json:"order_id"`
	ProviderID      uuid.UUID          `json:"provider_id"`
	PaymentID       uuid.UUID          `json:"payment_id"`
	NextBillingDate time.Time          `json:"next_billing_date"`
	AccessType      int16              `json:"access_type"`
	Status          SubscriptionStatus `json:"status"`
}

// UserProvider links a user to a payment provider and carries the provider-side
// card token (sendid) used for tokenized repeat billing.
type UserProvider struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	ProviderID uuid.UUID `json:"provider_id"`
	SendID     *string   `json:"sendid"`
	IsMainCard bool      `json:"is_main_card"`
	IsValid    bool      `json:"is_valid"`
}

// Payment is the immutable amount definition for one billing cycle.
// Amounts are stored as integer yen; no fractional units.
type Payment struct {
	ID     uuid.UUID `json:"id"`
	Amount int64     `json:"payment_amount"`
}

// BillingItem is one due-query result tuple: the subscription joined with the
// user's current main card (nil when the user has none) and the amount owed.
type BillingItem struct {
	Subscription Subscription
	MainCard     *UserProvider
	Payment      Payment
}
