package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/newsletter/internal/domain"
	"github.com/ignite/newsletter/internal/service/subscription"
)

// SubscriptionRepo implements subscription.Repository against PostgreSQL.
type SubscriptionRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewSubscriptionRepo creates a Postgres-backed subscription repository.
func NewSubscriptionRepo(db *sql.DB) *SubscriptionRepo {
	return &SubscriptionRepo{db: db, now: time.Now}
}

// CreatePending inserts the subscriber and its token in one transaction.
// The deferred rollback releases the connection on every early return.
func (r *SubscriptionRepo) CreatePending(ctx context.Context, name domain.SubscriberName, email domain.SubscriberEmail) (string, string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", "", classify("begin transaction", err)
	}
	defer tx.Rollback()

	id := uuid.New().String()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO subscriptions (id, email, name, subscribed_at, status)
		VALUES ($1, $2, $3, $4, $5)
	`, id, email.String(), name.String(), r.now().UTC(), string(domain.SubscriberPending)); err != nil {
		return "", "", classify("insert subscriber", err)
	}

	token, err := subscription.GenerateToken()
	if err != nil {
		return "", "", subscription.NewTransientError("generate token", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO subscription_tokens (subscription_token, subscriber_id)
		VALUES ($1, $2)
	`, token, id); err != nil {
		return "", "", classify("insert token", err)
	}

	if err := tx.Commit(); err != nil {
		return "", "", classify("commit", err)
	}
	return id, token, nil
}

func (r *SubscriptionRepo) FindSubscriberByToken(ctx context.Context, token string) (string, bool, error) {
	var id string
	err := r.db.QueryRowContext(ctx,
		`SELECT subscriber_id FROM subscription_tokens WHERE subscription_token = $1`,
		token,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify("find subscriber by token", err)
	}
	return id, true, nil
}

// Confirm sets status to confirmed. Re-confirming matches the row again, so
// the call is idempotent; subscribed_at is never written.
func (r *SubscriptionRepo) Confirm(ctx context.Context, subscriberID string) error {
	if _, err := uuid.Parse(subscriberID); err != nil {
		return subscription.ErrSubscriberNotFound
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET status = $1 WHERE id = $2`,
		string(domain.SubscriberConfirmed), subscriberID,
	)
	if err != nil {
		return classify("confirm subscriber", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("confirm subscriber", err)
	}
	if n == 0 {
		return subscription.ErrSubscriberNotFound
	}
	return nil
}

func (r *SubscriptionRepo) Get(ctx context.Context, subscriberID string) (*domain.Subscriber, error) {
	if _, err := uuid.Parse(subscriberID); err != nil {
		return nil, subscription.ErrSubscriberNotFound
	}
	var s domain.Subscriber
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, name, status, subscribed_at
		FROM subscriptions WHERE id = $1
	`, subscriberID).Scan(&s.ID, &s.Email, &s.Name, &s.Status, &s.SubscribedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, subscription.ErrSubscriberNotFound
	}
	if err != nil {
		return nil, classify("get subscriber", err)
	}
	return &s, nil
}

func (r *SubscriptionRepo) FindTokenBySubscriber(ctx context.Context, subscriberID string) (string, bool, error) {
	if _, err := uuid.Parse(subscriberID); err != nil {
		return "", false, nil
	}
	var token string
	err := r.db.QueryRowContext(ctx,
		`SELECT subscription_token FROM subscription_tokens WHERE subscriber_id = $1 LIMIT 1`,
		subscriberID,
	).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify("find token by subscriber", err)
	}
	return token, true, nil
}

// classify maps integrity constraint violations (SQLSTATE class 23, e.g.
// 23505 unique_violation) to Conflict and everything else to Transient.
func classify(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "23" {
		return subscription.NewConflictError(op, fmt.Errorf("%s: %w", pqErr.Code.Name(), err))
	}
	return subscription.NewTransientError(op, err)
}
