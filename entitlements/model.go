package entitlements

import "time"

// Plan is the tier an account is entitled to use.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanPremium Plan = "premium"
)

// Provider-side subscription statuses we care about. The set mirrors what
// Stripe reports; anything unknown is treated as not entitled.
type SubscriptionStatus string

const (
	StatusActive            SubscriptionStatus = "active"
	StatusTrialing          SubscriptionStatus = "trialing"
	StatusPastDue           SubscriptionStatus = "past_due"
	StatusCanceled          SubscriptionStatus = "canceled"
	StatusIncomplete        SubscriptionStatus = "incomplete"
	StatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	StatusUnpaid            SubscriptionStatus = "unpaid"
	StatusPaused            SubscriptionStatus = "paused"
)

// SubscriptionSnapshot is a point-in-time read of one provider subscription.
// Ephemeral: consumed by the reconciler, never persisted.
type SubscriptionSnapshot struct {
	Status             SubscriptionStatus
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
}

// BillingCustomer maps an internal user to the provider's customer id.
// At most one record per user; read-only to the reconciler.
type BillingCustomer struct {
	UserID           int    `json:"user_id"`
	StripeCustomerID string `json:"stripe_customer_id"`
}

// Entitlement is the authoritative plan state stored per user.
// StartedAt/ExpiresAt are nil when the user is on the free plan.
type Entitlement struct {
	Plan              Plan       `json:"plan"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
}

// PlanForStatus maps a provider status to the internal plan. past_due keeps
// premium so the provider's payment-retry window does not lock users out.
func PlanForStatus(status SubscriptionStatus) Plan {
	switch status {
	case StatusActive, StatusTrialing, StatusPastDue:
		return PlanPremium
	}
	return PlanFree
}

// TargetFor computes the entitlement a snapshot should produce. A nil
// snapshot means the customer has no current subscription.
func TargetFor(snap *SubscriptionSnapshot) Entitlement {
	if snap == nil || PlanForStatus(snap.Status) == PlanFree {
		return Entitlement{Plan: PlanFree}
	}
	start := snap.CurrentPeriodStart
	end := snap.CurrentPeriodEnd
	return Entitlement{
		Plan:              PlanPremium,
		StartedAt:         &start,
		ExpiresAt:         &end,
		CancelAtPeriodEnd: snap.CancelAtPeriodEnd,
	}
}
