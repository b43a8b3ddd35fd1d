package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"cineclub-backend/entitlements"
)

// CustomerLinker persists the user<->Stripe customer mapping.
type CustomerLinker interface {
	LinkBillingCustomer(ctx context.Context, userID int, stripeCustomerID string) error
	GetBillingCustomer(ctx context.Context, userID int) (*entitlements.BillingCustomer, error)
}

// Service wraps the Stripe API for checkout, webhooks and subscription reads.
// If STRIPE_SECRET_KEY is not set the service is disabled (nil).
type Service struct {
	links         CustomerLinker
	store         entitlements.EntitlementStore
	secretKey     string
	webhookSecret string
	successURL    string
	cancelURL     string
	// Premium plan Stripe objects; created lazily when unset. priceMu guards
	// them against concurrent /checkout requests.
	priceMu   sync.Mutex
	productID string
	priceID   string
	sc        *client.API
	// Once detected, short-circuit further remote calls. Atomic because the
	// reconciler may call ListSubscriptions from several workers at once.
	invalidKey atomic.Bool
}

var ErrStripeInvalidAPIKey = errors.New("stripe_invalid_api_key")

func maskKey(k string) string {
	if len(k) < 12 {
		return "****"
	}
	return k[:7] + "..." + k[len(k)-4:]
}

// NewFromEnv returns a configured service or nil when STRIPE_SECRET_KEY is missing.
func NewFromEnv(links CustomerLinker, store entitlements.EntitlementStore) *Service {
	key := os.Getenv("STRIPE_SECRET_KEY")
	if key == "" {
		return nil
	}
	success := os.Getenv("STRIPE_SUCCESS_URL")
	if success == "" {
		success = "https://example.com/checkout/success"
	}
	cancel := os.Getenv("STRIPE_CANCEL_URL")
	if cancel == "" {
		cancel = "https://example.com/checkout/cancel"
	}
	sc := &client.API{}
	sc.Init(key, nil)
	return &Service{
		links:         links,
		store:         store,
		secretKey:     key,
		webhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		successURL:    success,
		cancelURL:     cancel,
		priceID:       os.Getenv("STRIPE_PREMIUM_PRICE_ID"),
		sc:            sc,
	}
}

// isInvalidKey flags 401s so we stop hammering Stripe with a bad key.
func (s *Service) isInvalidKey(err error) bool {
	var se *stripe.Error
	if errors.As(err, &se) && se.HTTPStatusCode == 401 {
		log.Printf("[STRIPE] invalid api key (%s): %v", maskKey(s.secretKey), se)
		s.invalidKey.Store(true)
		return true
	}
	return false
}

// ListSubscriptions returns the customer's subscriptions most-recent first
// (Stripe lists by creation date, descending). Transient failures wrap
// entitlements.ErrProviderUnavailable; a rejected customer id wraps
// entitlements.ErrProviderRejected.
func (s *Service) ListSubscriptions(ctx context.Context, customerID string) ([]entitlements.SubscriptionSnapshot, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: stripe not configured", entitlements.ErrProviderUnavailable)
	}
	if s.invalidKey.Load() {
		return nil, fmt.Errorf("%w: %v", entitlements.ErrProviderUnavailable, ErrStripeInvalidAPIKey)
	}
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(5)
	snaps := []entitlements.SubscriptionSnapshot{}
	iter := s.sc.Subscriptions.List(params)
	for iter.Next() {
		sub := iter.Subscription()
		snaps = append(snaps, snapshotOf(sub))
	}
	if err := iter.Err(); err != nil {
		return nil, s.classify(err)
	}
	return snaps, nil
}

func snapshotOf(sub *stripe.Subscription) entitlements.SubscriptionSnapshot {
	return entitlements.SubscriptionSnapshot{
		Status:             entitlements.SubscriptionStatus(sub.Status),
		CurrentPeriodStart: unixTime(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   unixTime(sub.CurrentPeriodEnd),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
	}
}

// classify maps Stripe/network failures onto the reconciler's error classes.
func (s *Service) classify(err error) error {
	if s.isInvalidKey(err) {
		return fmt.Errorf("%w: %v", entitlements.ErrProviderUnavailable, ErrStripeInvalidAPIKey)
	}
	var se *stripe.Error
	if errors.As(err, &se) {
		if se.HTTPStatusCode == 429 || se.HTTPStatusCode >= 500 {
			return fmt.Errorf("%w: %v", entitlements.ErrProviderUnavailable, err)
		}
		// 4xx from Stripe: the request itself is bad (unknown customer id etc).
		return fmt.Errorf("%w: %v", entitlements.ErrProviderRejected, err)
	}
	// Network / timeout
	return fmt.Errorf("%w: %v", entitlements.ErrProviderUnavailable, err)
}

// premiumPriceID creates the premium product/price on first use when no
// price id was configured, and returns the id to use. Old prices are kept
// for historic invoices.
func (s *Service) premiumPriceID(ctx context.Context) (string, error) {
	s.priceMu.Lock()
	defer s.priceMu.Unlock()
	if s.priceID != "" {
		return s.priceID, nil
	}
	if s.productID == "" {
		prod, err := s.sc.Products.New(&stripe.ProductParams{Name: stripe.String("Cineclub Premium")})
		if err != nil {
			return "", err
		}
		s.productID = prod.ID
	}
	cents := int64(499)
	if v := os.Getenv("STRIPE_PREMIUM_PRICE_CENTS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cents = n
		}
	}
	price, err := s.sc.Prices.New(&stripe.PriceParams{
		Product:    stripe.String(s.productID),
		Currency:   stripe.String("usd"),
		UnitAmount: stripe.Int64(cents),
		Recurring:  &stripe.PriceRecurringParams{Interval: stripe.String("month")},
	})
	if err != nil {
		return "", err
	}
	s.priceID = price.ID
	return s.priceID, nil
}

// CreateCheckoutSession creates a Stripe Checkout session for the premium
// plan and returns its URL plus session id.
func (s *Service) CreateCheckoutSession(ctx context.Context, userID int) (string, string, error) {
	if s == nil {
		return "", "", errors.New("stripe not configured")
	}
	if s.invalidKey.Load() {
		return "", "", ErrStripeInvalidAPIKey
	}
	priceID, err := s.premiumPriceID(ctx)
	if err != nil {
		if s.isInvalidKey(err) {
			return "", "", ErrStripeInvalidAPIKey
		}
		return "", "", err
	}
	params := &stripe.CheckoutSessionParams{
		SuccessURL: stripe.String(s.successURL),
		CancelURL:  stripe.String(s.cancelURL),
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(priceID),
			Quantity: stripe.Int64(1),
		}},
		Metadata: map[string]string{
			"user_id": strconv.Itoa(userID),
		},
	}
	params.Context = ctx
	// Reuse the customer when the user already has a billing relationship so
	// the new subscription lands under the same customer id.
	if existing, err := s.links.GetBillingCustomer(ctx, userID); err == nil && existing != nil {
		params.Customer = stripe.String(existing.StripeCustomerID)
	}
	sess, err := s.sc.CheckoutSessions.New(params)
	if err != nil {
		if s.isInvalidKey(err) {
			return "", "", ErrStripeInvalidAPIKey
		}
		log.Printf("[STRIPE][checkout] error: %v", err)
		return "", "", err
	}
	return sess.URL, sess.ID, nil
}

// ConfirmSession queries Stripe for a checkout session; if it completed,
// the customer link and entitlement are applied (idempotent).
func (s *Service) ConfirmSession(ctx context.Context, sessionID string) (bool, error) {
	if s == nil {
		return false, errors.New("stripe not configured")
	}
	if sessionID == "" {
		return false, errors.New("session_id required")
	}
	getParams := &stripe.CheckoutSessionParams{}
	getParams.Context = ctx
	sess, err := s.sc.CheckoutSessions.Get(sessionID, getParams)
	if err != nil {
		return false, err
	}
	if sess.Status != stripe.CheckoutSessionStatusComplete {
		return false, nil
	}
	uid, _ := strconv.Atoi(sess.Metadata["user_id"])
	if uid == 0 || sess.Customer == nil {
		return false, errors.New("incomplete session metadata")
	}
	if err := s.activate(ctx, uid, sess.Customer.ID); err != nil {
		return false, err
	}
	return true, nil
}

// activate links the customer and applies the current provider state right
// away instead of waiting for the next scheduled reconcile run.
func (s *Service) activate(ctx context.Context, userID int, customerID string) error {
	if err := s.links.LinkBillingCustomer(ctx, userID, customerID); err != nil {
		return err
	}
	subs, err := s.ListSubscriptions(ctx, customerID)
	if err != nil {
		// Link is in place; the next reconcile run converges the plan.
		log.Printf("[STRIPE][activate] user=%d customer=%s subscription read failed, deferring to reconcile: %v", userID, customerID, err)
		return nil
	}
	var snap *entitlements.SubscriptionSnapshot
	if len(subs) > 0 {
		snap = &subs[0]
	}
	target := entitlements.TargetFor(snap)
	if err := s.store.SetEntitlement(ctx, userID, target); err != nil {
		log.Printf("[STRIPE][activate] user=%d entitlement write failed: %v", userID, err)
		return nil
	}
	log.Printf("[STRIPE][activate] user=%d customer=%s plan=%s", userID, customerID, target.Plan)
	return nil
}
