package entitlements

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Provider failure classes. Implementations wrap their own errors with these
// so the reconciler can classify without knowing the provider.
var (
	ErrProviderUnavailable = errors.New("billing provider unavailable")
	ErrProviderRejected    = errors.New("billing provider rejected request")
)

// BillingProvider lists a customer's subscriptions, most recent first.
type BillingProvider interface {
	ListSubscriptions(ctx context.Context, customerID string) ([]SubscriptionSnapshot, error)
}

// EntitlementStore persists per-user plan state. SetEntitlement must be
// atomic per user and idempotent.
type EntitlementStore interface {
	SetEntitlement(ctx context.Context, userID int, e Entitlement) error
	GetEntitlement(ctx context.Context, userID int) (*Entitlement, error)
}

// CustomerSource yields the set of users with a billing relationship.
type CustomerSource interface {
	ListBillingCustomers(ctx context.Context) ([]BillingCustomer, error)
}

// downgradeNotifier fires when a reconcile run takes a customer off premium;
// wired to the mailer from main. Best effort only.
var downgradeNotifier = func(userID int) {}

// RegisterDowngradeNotifier sets the post-downgrade notification hook.
func RegisterDowngradeNotifier(fn func(userID int)) { downgradeNotifier = fn }

type FailureKind string

const (
	FailureProviderUnavailable FailureKind = "provider_unavailable"
	FailureProviderRejected    FailureKind = "provider_rejected"
	FailureStore               FailureKind = "store_error"
)

// CustomerFailure records one customer that could not be reconciled.
type CustomerFailure struct {
	UserID           int         `json:"user_id"`
	StripeCustomerID string      `json:"stripe_customer_id"`
	Kind             FailureKind `json:"kind"`
	Detail           string      `json:"detail"`
}

// RunSummary is the structured result of one reconciliation run.
type RunSummary struct {
	RunID      string            `json:"run_id"`
	Customers  int               `json:"customers"`
	Upgraded   int               `json:"upgraded"`
	Downgraded int               `json:"downgraded"`
	Unchanged  int               `json:"unchanged"`
	Failures   []CustomerFailure `json:"failures,omitempty"`
	Elapsed    time.Duration     `json:"-"`
}

func (s *RunSummary) Failed() int { return len(s.Failures) }

// Reconciler brings stored entitlements into agreement with the billing
// provider. Customers are independent: one customer failing never stops the
// rest, and the run as a whole only fails when the customer list itself
// cannot be loaded.
type Reconciler struct {
	customers CustomerSource
	provider  BillingProvider
	store     EntitlementStore
	timeout   time.Duration // per-customer budget for provider call + write
	workers   int
}

func NewReconciler(customers CustomerSource, provider BillingProvider, store EntitlementStore) *Reconciler {
	return &Reconciler{
		customers: customers,
		provider:  provider,
		store:     store,
		timeout:   15 * time.Second,
		workers:   1,
	}
}

// WithTimeout overrides the per-customer budget.
func (r *Reconciler) WithTimeout(d time.Duration) *Reconciler {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// WithWorkers enables bounded concurrent processing. Correctness does not
// depend on it; customers touch no shared state besides their own row.
func (r *Reconciler) WithWorkers(n int) *Reconciler {
	if n > 0 {
		r.workers = n
	}
	return r
}

// Run executes one reconciliation pass over every billing customer.
func (r *Reconciler) Run(ctx context.Context) (*RunSummary, error) {
	start := time.Now()
	customers, err := r.customers.ListBillingCustomers(ctx)
	if err != nil {
		return nil, fmt.Errorf("load billing customers: %w", err)
	}

	summary := &RunSummary{RunID: uuid.NewString(), Customers: len(customers)}
	log.Printf("[RECONCILE][start] run=%s customers=%d workers=%d", summary.RunID, len(customers), r.workers)

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(r.workers)
	for _, c := range customers {
		c := c
		g.Go(func() error {
			outcome, failure := r.reconcileCustomer(ctx, c)
			mu.Lock()
			defer mu.Unlock()
			if failure != nil {
				summary.Failures = append(summary.Failures, *failure)
				return nil
			}
			switch outcome {
			case outcomeUpgraded:
				summary.Upgraded++
			case outcomeDowngraded:
				summary.Downgraded++
			default:
				summary.Unchanged++
			}
			return nil
		})
	}
	_ = g.Wait() // goroutines never return errors; failures live in the summary

	summary.Elapsed = time.Since(start)
	log.Printf("[RECONCILE][done] run=%s customers=%d upgraded=%d downgraded=%d unchanged=%d failed=%d elapsed=%s",
		summary.RunID, summary.Customers, summary.Upgraded, summary.Downgraded, summary.Unchanged, summary.Failed(), summary.Elapsed)
	for _, f := range summary.Failures {
		log.Printf("[RECONCILE][fail] run=%s user=%d customer=%s kind=%s detail=%s", summary.RunID, f.UserID, f.StripeCustomerID, f.Kind, f.Detail)
	}
	return summary, nil
}

type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomeUpgraded
	outcomeDowngraded
)

func (r *Reconciler) reconcileCustomer(ctx context.Context, c BillingCustomer) (outcome, *CustomerFailure) {
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	fail := func(kind FailureKind, err error) (outcome, *CustomerFailure) {
		return outcomeUnchanged, &CustomerFailure{
			UserID:           c.UserID,
			StripeCustomerID: c.StripeCustomerID,
			Kind:             kind,
			Detail:           err.Error(),
		}
	}

	subs, err := r.provider.ListSubscriptions(cctx, c.StripeCustomerID)
	if err != nil {
		if errors.Is(err, ErrProviderRejected) {
			return fail(FailureProviderRejected, err)
		}
		return fail(FailureProviderUnavailable, err)
	}

	var snap *SubscriptionSnapshot
	if len(subs) > 0 {
		snap = &subs[0] // provider returns most-recent first
	}
	target := TargetFor(snap)

	// Prior state is read only to classify the transition for the summary.
	// The write below is unconditional: the store upsert is idempotent, so
	// there is no read-then-write race on the decision to write.
	prev, err := r.store.GetEntitlement(cctx, c.UserID)
	if err != nil {
		log.Printf("[RECONCILE][read] user=%d prior state unavailable: %v", c.UserID, err)
		prev = nil
	}

	if err := r.store.SetEntitlement(cctx, c.UserID, target); err != nil {
		return fail(FailureStore, err)
	}

	prevPlan := PlanFree
	if prev != nil {
		prevPlan = prev.Plan
	}
	switch {
	case prevPlan != PlanPremium && target.Plan == PlanPremium:
		return outcomeUpgraded, nil
	case prevPlan == PlanPremium && target.Plan != PlanPremium:
		downgradeNotifier(c.UserID)
		return outcomeDowngraded, nil
	}
	return outcomeUnchanged, nil
}
