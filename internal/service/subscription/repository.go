package subscription

import (
	"context"

	"github.com/ignite/newsletter/internal/domain"
)

// Repository defines the data access contract for subscribers and their
// confirmation tokens. Implementations must be safe for concurrent use.
type Repository interface {
	// CreatePending inserts a pending subscriber and a freshly generated
	// token in one transaction. Either both rows become visible or neither
	// does. Failures are returned as *StoreError.
	CreatePending(ctx context.Context, name domain.SubscriberName, email domain.SubscriberEmail) (subscriberID, token string, err error)

	// FindSubscriberByToken resolves a token to its subscriber id. found is
	// false, with a nil error, when the token does not exist.
	FindSubscriberByToken(ctx context.Context, token string) (subscriberID string, found bool, err error)

	// Confirm marks the subscriber confirmed. Confirming twice succeeds and
	// leaves subscribed_at untouched. Returns ErrSubscriberNotFound for
	// unknown ids.
	Confirm(ctx context.Context, subscriberID string) error

	// Get returns a single subscriber or ErrSubscriberNotFound.
	Get(ctx context.Context, subscriberID string) (*domain.Subscriber, error)

	// FindTokenBySubscriber returns the token issued to a subscriber.
	FindTokenBySubscriber(ctx context.Context, subscriberID string) (token string, found bool, err error)
}
