// Package memory provides an in-process subscription.Repository used when no
// database is configured and by end-to-end tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/newsletter/internal/domain"
	"github.com/ignite/newsletter/internal/service/subscription"
)

// Step names accepted by FailNext.
const (
	StepInsertSubscriber = "insert_subscriber"
	StepInsertToken      = "insert_token"
	StepFindToken        = "find_token"
	StepConfirm          = "confirm"
)

// SubscriptionRepo is a mutex-guarded, all-or-nothing store. Writes for a
// registration are staged and applied only once every step has succeeded.
type SubscriptionRepo struct {
	mu          sync.RWMutex
	subscribers map[string]*domain.Subscriber
	byEmail     map[string]string
	tokens      map[string]string // token -> subscriber id
	faults      map[string]error
	now         func() time.Time
}

// NewSubscriptionRepo returns an empty store.
func NewSubscriptionRepo() *SubscriptionRepo {
	return &SubscriptionRepo{
		subscribers: make(map[string]*domain.Subscriber),
		byEmail:     make(map[string]string),
		tokens:      make(map[string]string),
		faults:      make(map[string]error),
		now:         time.Now,
	}
}

// FailNext makes the next call reaching step return err. Tests use it to
// exercise rollback paths.
func (r *SubscriptionRepo) FailNext(step string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults[step] = err
}

// fault pops the injected error for step. Caller holds the write lock.
func (r *SubscriptionRepo) fault(step string) error {
	err, ok := r.faults[step]
	if !ok {
		return nil
	}
	delete(r.faults, step)
	return err
}

func (r *SubscriptionRepo) CreatePending(_ context.Context, name domain.SubscriberName, email domain.SubscriberEmail) (string, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.fault(StepInsertSubscriber); err != nil {
		return "", "", subscription.NewTransientError("insert subscriber", err)
	}
	if _, exists := r.byEmail[email.String()]; exists {
		return "", "", subscription.NewConflictError("insert subscriber", errDuplicateEmail)
	}
	sub := &domain.Subscriber{
		ID:           uuid.New().String(),
		Email:        email.String(),
		Name:         name.String(),
		Status:       domain.SubscriberPending,
		SubscribedAt: r.now().UTC(),
	}

	token, err := subscription.GenerateToken()
	if err != nil {
		return "", "", subscription.NewTransientError("generate token", err)
	}
	if err := r.fault(StepInsertToken); err != nil {
		return "", "", subscription.NewTransientError("insert token", err)
	}
	if _, exists := r.tokens[token]; exists {
		return "", "", subscription.NewConflictError("insert token", errDuplicateToken)
	}

	r.subscribers[sub.ID] = sub
	r.byEmail[sub.Email] = sub.ID
	r.tokens[token] = sub.ID
	return sub.ID, token, nil
}

func (r *SubscriptionRepo) FindSubscriberByToken(_ context.Context, token string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fault(StepFindToken); err != nil {
		return "", false, subscription.NewTransientError("find subscriber by token", err)
	}
	id, ok := r.tokens[token]
	return id, ok, nil
}

func (r *SubscriptionRepo) Confirm(_ context.Context, subscriberID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fault(StepConfirm); err != nil {
		return subscription.NewTransientError("confirm subscriber", err)
	}
	sub, ok := r.subscribers[subscriberID]
	if !ok {
		return subscription.ErrSubscriberNotFound
	}
	if sub.Status.CanTransitionTo(domain.SubscriberConfirmed) {
		sub.Status = domain.SubscriberConfirmed
	}
	return nil
}

func (r *SubscriptionRepo) Get(_ context.Context, subscriberID string) (*domain.Subscriber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subscribers[subscriberID]
	if !ok {
		return nil, subscription.ErrSubscriberNotFound
	}
	cp := *sub
	return &cp, nil
}

func (r *SubscriptionRepo) FindTokenBySubscriber(_ context.Context, subscriberID string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for token, id := range r.tokens {
		if id == subscriberID {
			return token, true, nil
		}
	}
	return "", false, nil
}

// Count returns the number of stored subscribers.
func (r *SubscriptionRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}

// TokenCount returns the number of stored tokens.
func (r *SubscriptionRepo) TokenCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens)
}
