package domain

import "time"

// SubscriberStatus enumerates the states a subscriber can be in.
type SubscriberStatus string

const (
	SubscriberPending   SubscriberStatus = "pending"
	SubscriberConfirmed SubscriberStatus = "confirmed"
)

// CanTransitionTo reports whether moving from s to next is allowed.
// Confirmed is terminal; re-confirming is accepted so redemption stays idempotent.
func (s SubscriberStatus) CanTransitionTo(next SubscriberStatus) bool {
	switch s {
	case SubscriberPending:
		return next == SubscriberPending || next == SubscriberConfirmed
	case SubscriberConfirmed:
		return next == SubscriberConfirmed
	}
	return false
}

// Subscriber represents a single registered address on the mailing list.
type Subscriber struct {
	ID           string           `json:"id" db:"id"`
	Email        string           `json:"email" db:"email"`
	Name         string           `json:"name" db:"name"`
	Status       SubscriberStatus `json:"status" db:"status"`
	SubscribedAt time.Time        `json:"subscribed_at" db:"subscribed_at"`
}

// IsConfirmed reports whether the subscriber has redeemed their token.
func (s *Subscriber) IsConfirmed() bool { return s.Status == SubscriberConfirmed }

// ConfirmationToken links an opaque token string to exactly one subscriber.
type ConfirmationToken struct {
	Token        string `json:"-" db:"subscription_token"`
	SubscriberID string `json:"subscriber_id" db:"subscriber_id"`
}
