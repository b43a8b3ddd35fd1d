package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v78/webhook"
)

// userEmailResolver lets main wire notification emails without coupling this
// package to the user store.
var userEmailResolver = func(userID int) string { return "" }

// RegisterUserEmailResolver provides the user id -> email lookup for notices.
func RegisterUserEmailResolver(fn func(userID int) string) { userEmailResolver = fn }

// premiumNotifier is invoked after a checkout completes; wired to the mailer
// from main. Best effort only.
var premiumNotifier = func(email string) {}

// RegisterPremiumNotifier sets the post-activation notification hook.
func RegisterPremiumNotifier(fn func(email string)) { premiumNotifier = fn }

// HandleWebhook consumes Stripe webhook payloads. A completed checkout
// session links the internal user to the Stripe customer and applies the
// entitlement immediately; every later correction belongs to the scheduled
// reconcile runs. Signature verification applies when STRIPE_WEBHOOK_SECRET
// is set.
func (s *Service) HandleWebhook(w http.ResponseWriter, r *http.Request) error {
	if s == nil {
		return errors.New("stripe not configured")
	}
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	sig := r.Header.Get("Stripe-Signature")
	if s.webhookSecret != "" {
		if _, err := webhook.ConstructEvent(payload, sig, s.webhookSecret); err != nil {
			return fmt.Errorf("invalid signature: %w", err)
		}
	}

	var event struct {
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID       string            `json:"id"`
				Customer string            `json:"customer"`
				Metadata map[string]string `json:"metadata"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return err
	}
	if event.Type != "checkout.session.completed" {
		// Subscription lifecycle events are converged by the reconcile runs.
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ignored"))
		return nil
	}
	uid, _ := strconv.Atoi(event.Data.Object.Metadata["user_id"])
	if uid == 0 || event.Data.Object.Customer == "" {
		return fmt.Errorf("incomplete metadata")
	}
	if err := s.activate(r.Context(), uid, event.Data.Object.Customer); err != nil {
		return err
	}
	if addr := userEmailResolver(uid); addr != "" {
		go premiumNotifier(addr)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
	return nil
}

func unixTime(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}
