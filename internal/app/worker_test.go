package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/creatorly/billing-service/internal/domain"
)

type chargeCall struct {
	cardToken     string
	amount        int64
	correlationID string
}

type repoStub struct {
	mu           sync.Mutex
	items        []domain.BillingItem
	dueErr       error
	transactions []domain.Transaction
	closed       []uuid.UUID
	failCreates  int
	closeErr     error
}

func (s *repoStub) DueSubscriptions(ctx context.Context, day time.Time) ([]domain.BillingItem, error) {
	if s.dueErr != nil {
		return nil, s.dueErr
	}
	return s.items, nil
}

func (s *repoStub) CreateTransaction(ctx context.Context, txn *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreates > 0 {
		s.failCreates--
		return errors.New("ledger unavailable")
	}
	txn.ID = uuid.New()
	txn.CreatedAt = time.Now().UTC()
	txn.UpdatedAt = txn.CreatedAt
	s.transactions = append(s.transactions, *txn)
	return nil
}

func (s *repoStub) CloseSubscription(ctx context.Context, subscriptionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeErr != nil {
		return s.closeErr
	}
	s.closed = append(s.closed, subscriptionID)
	return nil
}

func (s *repoStub) transactionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transactions)
}

type gatewayStub struct {
	mu       sync.Mutex
	failures int // fail this many calls before succeeding
	err      error
	calls    []chargeCall
}

func (s *gatewayStub) Charge(ctx context.Context, cardToken string, amount int64, correlationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, chargeCall{cardToken: cardToken, amount: amount, correlationID: correlationID})
	if s.failures > 0 {
		s.failures--
		return errors.New("card declined")
	}
	return s.err
}

func (s *gatewayStub) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type alerterStub struct {
	mu    sync.Mutex
	err   error
	users []string
}

func (s *alerterStub) NotifyChargeFailure(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, userID)
	return s.err
}

func (s *alerterStub) alertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWorker(repo *repoStub, gateway *gatewayStub, alerter *alerterStub, maxAttempts int) *Worker {
	return NewWorker(repo, gateway, alerter, testLogger(), time.Millisecond, maxAttempts)
}

func billingItem(status domain.SubscriptionStatus) domain.BillingItem {
	token := "card-token-1"
	return domain.BillingItem{
		Subscription: domain.Subscription{
			ID:         uuid.New(),
			UserID:     uuid.New(),
			OrderID:    uuid.New(),
			ProviderID: uuid.New(),
			PaymentID:  uuid.New(),
			AccessType: domain.AccessTypeRecurring,
			Status:     status,
		},
		MainCard: &domain.UserProvider{
			ID:         uuid.New(),
			SendID:     &token,
			IsMainCard: true,
			IsValid:    true,
		},
		Payment: domain.Payment{ID: uuid.New(), Amount: 980},
	}
}

func TestProcess_CancelRequestedClosesWithoutCharge(t *testing.T) {
	repo := &repoStub{}
	gateway := &gatewayStub{}
	alerter := &alerterStub{}
	worker := newTestWorker(repo, gateway, alerter, 0)
	item := billingItem(domain.StatusCancelRequested)

	outcome := worker.Process(context.Background(), item)

	if outcome.Kind != domain.OutcomeCancelled {
		t.Fatalf("expected cancelled outcome, got %q", outcome.Kind)
	}
	if repo.transactionCount() != 0 {
		t.Fatalf("expected no ledger entries, got %d", repo.transactionCount())
	}
	if gateway.callCount() != 0 {
		t.Fatalf("expected no gateway calls, got %d", gateway.callCount())
	}
	if len(repo.closed) != 1 || repo.closed[0] != item.Subscription.ID {
		t.Fatalf("expected subscription %s closed, got %v", item.Subscription.ID, repo.closed)
	}
}

func TestProcess_ActiveBillsOnFirstSuccess(t *testing.T) {
	repo := &repoStub{}
	gateway := &gatewayStub{}
	alerter := &alerterStub{}
	worker := newTestWorker(repo, gateway, alerter, 0)
	item := billingItem(domain.StatusActive)

	outcome := worker.Process(context.Background(), item)

	if outcome.Kind != domain.OutcomeBilled {
		t.Fatalf("expected billed outcome, got %q (err %v)", outcome.Kind, outcome.Err)
	}
	if outcome.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", outcome.Attempts)
	}
	if repo.transactionCount() != 1 {
		t.Fatalf("expected exactly one ledger entry, got %d", repo.transactionCount())
	}
	if len(repo.closed) != 1 {
		t.Fatalf("expected subscription closed, got %v", repo.closed)
	}
	if alerter.alertCount() != 0 {
		t.Fatalf("expected no alerts, got %d", alerter.alertCount())
	}

	call := gateway.calls[0]
	if call.cardToken != "card-token-1" {
		t.Fatalf("unexpected card token %q", call.cardToken)
	}
	if call.amount != 980 {
		t.Fatalf("unexpected amount %d", call.amount)
	}
	if !strings.HasPrefix(call.correlationID, "B_") {
		t.Fatalf("expected correlation id with B_ prefix, got %q", call.correlationID)
	}
	if call.correlationID != "B_"+repo.transactions[0].ID.String() {
		t.Fatalf("correlation id %q does not reference ledger entry %s", call.correlationID, repo.transactions[0].ID)
	}
}

func TestProcess_RetriesUntilGatewaySucceeds(t *testing.T) {
	const failures = 3
	repo := &repoStub{}
	gateway := &gatewayStub{failures: failures}
	alerter := &alerterStub{}
	worker := newTestWorker(repo, gateway, alerter, 0)
	item := billingItem(domain.StatusActive)

	outcome := worker.Process(context.Background(), item)

	if outcome.Kind != domain.OutcomeBilled {
		t.Fatalf("expected billed outcome, got %q", outcome.Kind)
	}
	if outcome.Attempts != failures+1 {
		t.Fatalf("expected %d attempts, got %d", failures+1, outcome.Attempts)
	}
	// One pending ledger row per attempt, success or not.
	if repo.transactionCount() != failures+1 {
		t.Fatalf("expected %d ledger entries, got %d", failures+1, repo.transactionCount())
	}
	if alerter.alertCount() != failures {
		t.Fatalf("expected %d alerts, got %d", failures, alerter.alertCount())
	}
	if alerter.users[0] != item.Subscription.UserID.String() {
		t.Fatalf("alert names user %q, want %q", alerter.users[0], item.Subscription.UserID)
	}
}

func TestProcess_LedgerWriteFailureIsRetried(t *testing.T) {
	repo := &repoStub{failCreates: 2}
	gateway := &gatewayStub{}
	alerter := &alerterStub{}
	worker := newTestWorker(repo, gateway, alerter, 0)
	item := billingItem(domain.StatusActive)

	outcome := worker.Process(context.Background(), item)

	if outcome.Kind != domain.OutcomeBilled {
		t.Fatalf("expected billed outcome, got %q", outcome.Kind)
	}
	if outcome.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", outcome.Attempts)
	}
	// The gateway must never be called without a committed ledger row.
	if gateway.callCount() != 1 {
		t.Fatalf("expected 1 gateway call, got %d", gateway.callCount())
	}
	if alerter.alertCount() != 2 {
		t.Fatalf("expected 2 alerts, got %d", alerter.alertCount())
	}
}

func TestProcess_AttemptCapYieldsStuck(t *testing.T) {
	const maxAttempts = 5
	repo := &repoStub{}
	gateway := &gatewayStub{err: errors.New("gateway down")}
	alerter := &alerterStub{}
	worker := newTestWorker(repo, gateway, alerter, maxAttempts)
	item := billingItem(domain.StatusActive)

	outcome := worker.Process(context.Background(), item)

	if outcome.Kind != domain.OutcomeStuck {
		t.Fatalf("expected stuck outcome, got %q", outcome.Kind)
	}
	if outcome.Attempts != maxAttempts {
		t.Fatalf("expected %d attempts, got %d", maxAttempts, outcome.Attempts)
	}
	if repo.transactionCount() != maxAttempts {
		t.Fatalf("expected %d ledger entries, got %d", maxAttempts, repo.transactionCount())
	}
	if alerter.alertCount() != maxAttempts {
		t.Fatalf("expected %d alerts, got %d", maxAttempts, alerter.alertCount())
	}
	if len(repo.closed) != 0 {
		t.Fatalf("subscription must not be closed after a failed run, got %v", repo.closed)
	}
}

// With no attempt cap the retry loop never gives up on its own; the only way
// out of a permanently failing gateway is cancelling the worker.
func TestProcess_UnboundedRetryStopsOnlyOnCancel(t *testing.T) {
	repo := &repoStub{}
	gateway := &gatewayStub{err: errors.New("gateway down")}
	alerter := &alerterStub{}
	worker := newTestWorker(repo, gateway, alerter, 0)
	item := billingItem(domain.StatusActive)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	done := make(chan domain.WorkerOutcome, 1)
	go func() { done <- worker.Process(ctx, item) }()

	select {
	case outcome := <-done:
		if outcome.Kind != domain.OutcomeStuck {
			t.Fatalf("expected stuck outcome, got %q", outcome.Kind)
		}
		if !errors.Is(outcome.Err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", outcome.Err)
		}
		if outcome.Attempts < 2 {
			t.Fatalf("expected the worker to keep retrying until cancelled, got %d attempts", outcome.Attempts)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}

	if len(repo.closed) != 0 {
		t.Fatalf("subscription must not be closed, got %v", repo.closed)
	}
}

func TestProcess_MissingMainCardAlertsOnceAndStops(t *testing.T) {
	emptyToken := ""
	tests := []struct {
		name string
		card *domain.UserProvider
	}{
		{name: "no card row", card: nil},
		{name: "card without token", card: &domain.UserProvider{IsMainCard: true, IsValid: true}},
		{name: "card with empty token", card: &domain.UserProvider{IsMainCard: true, IsValid: true, SendID: &emptyToken}},
		{name: "invalidated card", card: &domain.UserProvider{IsMainCard: true, SendID: &emptyToken, IsValid: false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &repoStub{}
			gateway := &gatewayStub{}
			alerter := &alerterStub{}
			worker := newTestWorker(repo, gateway, alerter, 0)
			item := billingItem(domain.StatusActive)
			item.MainCard = tt.card

			outcome := worker.Process(context.Background(), item)

			if outcome.Kind != domain.OutcomeNoMainCard {
				t.Fatalf("expected no_main_card outcome, got %q", outcome.Kind)
			}
			if repo.transactionCount() != 0 {
				t.Fatalf("expected no ledger entries, got %d", repo.transactionCount())
			}
			if gateway.callCount() != 0 {
				t.Fatalf("expected no gateway calls, got %d", gateway.callCount())
			}
			if alerter.alertCount() != 1 {
				t.Fatalf("expected exactly one alert, got %d", alerter.alertCount())
			}
		})
	}
}

func TestProcess_AlertFailureDoesNotAffectBilling(t *testing.T) {
	repo := &repoStub{}
	gateway := &gatewayStub{failures: 1}
	alerter := &alerterStub{err: errors.New("slack unreachable")}
	worker := newTestWorker(repo, gateway, alerter, 0)
	item := billingItem(domain.StatusActive)

	outcome := worker.Process(context.Background(), item)

	if outcome.Kind != domain.OutcomeBilled {
		t.Fatalf("expected billed outcome despite alert failures, got %q", outcome.Kind)
	}
	if outcome.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", outcome.Attempts)
	}
}

func TestProcess_StatusTransitionFailureIsStuck(t *testing.T) {
	repo := &repoStub{closeErr: errors.New("db gone")}
	gateway := &gatewayStub{}
	alerter := &alerterStub{}
	worker := newTestWorker(repo, gateway, alerter, 0)
	item := billingItem(domain.StatusActive)

	outcome := worker.Process(context.Background(), item)

	if outcome.Kind != domain.OutcomeStuck {
		t.Fatalf("expected stuck outcome, got %q", outcome.Kind)
	}
	if repo.transactionCount() != 1 {
		t.Fatalf("expected one ledger entry, got %d", repo.transactionCount())
	}
	if alerter.alertCount() != 1 {
		t.Fatalf("expected one alert, got %d", alerter.alertCount())
	}
}
