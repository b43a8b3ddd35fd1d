package entitlements

import (
	"context"
	"database/sql"
)

// Repository is the MySQL-backed entitlement store and billing-customer
// source. The entitlement write is a single-row upsert, so concurrent
// readers never observe a half-written record.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) SetEntitlement(ctx context.Context, userID int, e Entitlement) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO user_entitlements (user_id, plan, started_at, expires_at, cancel_at_period_end)
		VALUES (?,?,?,?,?)
		ON DUPLICATE KEY UPDATE plan=VALUES(plan), started_at=VALUES(started_at), expires_at=VALUES(expires_at), cancel_at_period_end=VALUES(cancel_at_period_end)`,
		userID, string(e.Plan), e.StartedAt, e.ExpiresAt, e.CancelAtPeriodEnd)
	return err
}

func (r *Repository) GetEntitlement(ctx context.Context, userID int) (*Entitlement, error) {
	row := r.db.QueryRowContext(ctx, `SELECT plan, started_at, expires_at, cancel_at_period_end FROM user_entitlements WHERE user_id=? LIMIT 1`, userID)
	var plan string
	var started, expires sql.NullTime
	var cancel bool
	if err := row.Scan(&plan, &started, &expires, &cancel); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	e := &Entitlement{Plan: Plan(plan), CancelAtPeriodEnd: cancel}
	if started.Valid {
		t := started.Time
		e.StartedAt = &t
	}
	if expires.Valid {
		t := expires.Time
		e.ExpiresAt = &t
	}
	return e, nil
}

func (r *Repository) ListBillingCustomers(ctx context.Context) ([]BillingCustomer, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id, stripe_customer_id FROM billing_customers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	customers := []BillingCustomer{}
	for rows.Next() {
		var c BillingCustomer
		if err := rows.Scan(&c.UserID, &c.StripeCustomerID); err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

// LinkBillingCustomer records the user<->provider customer mapping. Repeated
// links for the same user overwrite the customer id (idempotent per session).
func (r *Repository) LinkBillingCustomer(ctx context.Context, userID int, stripeCustomerID string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO billing_customers (user_id, stripe_customer_id) VALUES (?,?)
		ON DUPLICATE KEY UPDATE stripe_customer_id=VALUES(stripe_customer_id)`, userID, stripeCustomerID)
	return err
}

// GetBillingCustomer returns the mapping for one user, or nil when absent.
func (r *Repository) GetBillingCustomer(ctx context.Context, userID int) (*BillingCustomer, error) {
	row := r.db.QueryRowContext(ctx, `SELECT user_id, stripe_customer_id FROM billing_customers WHERE user_id=? LIMIT 1`, userID)
	var c BillingCustomer
	if err := row.Scan(&c.UserID, &c.StripeCustomerID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}
