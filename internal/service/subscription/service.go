package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/newsletter/internal/domain"
)

// DefaultNotifyTimeout bounds a single confirmation send when Options does
// not set one.
const DefaultNotifyTimeout = 10 * time.Second

// Options configures a Service.
type Options struct {
	// BaseURL is the public address confirmation links point to.
	BaseURL string
	// NotifyTimeout bounds the notifier call. Expiry is a NotifyError.
	NotifyTimeout time.Duration
	// Observer receives workflow events. Defaults to NopObserver.
	Observer Observer
	// Resend, when set, is handed subscribers whose notification failed.
	Resend ResendScheduler
	// Now is the clock used for event timestamps.
	Now func() time.Time
}

// Registration is the outcome of a completed registration.
type Registration struct {
	SubscriberID string
	Email        string
	State        State
}

// Service runs the registration and confirmation workflows. It is safe for
// concurrent use; it holds no per-request state.
type Service struct {
	repo     Repository
	notifier Notifier
	renderer *messageRenderer
	opts     Options
}

// NewService creates a subscription service.
func NewService(repo Repository, notifier Notifier, opts Options) (*Service, error) {
	if repo == nil {
		return nil, errors.New("subscription: repository is required")
	}
	if notifier == nil {
		return nil, errors.New("subscription: notifier is required")
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = DefaultNotifyTimeout
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	renderer, err := newMessageRenderer()
	if err != nil {
		return nil, err
	}
	return &Service{repo: repo, notifier: notifier, renderer: renderer, opts: opts}, nil
}

// Register validates the submitted identity, stores a pending subscriber with
// its token, and sends the confirmation message.
//
// The returned error is a *domain.ValidationError, a *StoreError or a
// *NotifyError. After a NotifyError the pending subscriber stays committed.
func (s *Service) Register(ctx context.Context, rawName, rawEmail string) (*Registration, error) {
	s.emit(Event{State: StateReceived, Email: rawEmail})

	identity, err := domain.NewSubscriberIdentity(rawName, rawEmail)
	if err != nil {
		s.fail(StateReceived, "", rawEmail, err)
		return nil, err
	}
	s.emit(Event{State: StateValidated, From: StateReceived, Email: rawEmail})

	// The store and notifier must not be cut short by a client disconnect
	// once the workflow has started writing.
	detached := context.WithoutCancel(ctx)

	id, token, err := s.repo.CreatePending(detached, identity.Name, identity.Email)
	if err != nil {
		err = asStoreError("create pending subscriber", err)
		s.fail(StateValidated, "", rawEmail, err)
		return nil, err
	}
	s.emit(Event{State: StatePersisted, From: StateValidated, SubscriberID: id, Email: rawEmail})

	if err := s.notify(detached, id, identity.Email.String(), identity.Name.String(), token); err != nil {
		s.fail(StatePersisted, id, rawEmail, err)
		s.scheduleResend(detached, id)
		return nil, err
	}
	s.emit(Event{State: StateNotified, From: StatePersisted, SubscriberID: id, Email: rawEmail})
	s.emit(Event{State: StateCompleted, From: StateNotified, SubscriberID: id, Email: rawEmail})

	return &Registration{
		SubscriberID: id,
		Email:        identity.Email.String(),
		State:        StateCompleted,
	}, nil
}

// Confirm redeems a confirmation token. An unknown token yields
// ErrTokenNotFound; redeeming the same token twice succeeds.
func (s *Service) Confirm(ctx context.Context, token string) error {
	if token == "" {
		return ErrMissingToken
	}
	detached := context.WithoutCancel(ctx)

	id, found, err := s.repo.FindSubscriberByToken(detached, token)
	if err != nil {
		return asStoreError("find subscriber by token", err)
	}
	if !found {
		return ErrTokenNotFound
	}
	if err := s.repo.Confirm(detached, id); err != nil {
		if errors.Is(err, ErrSubscriberNotFound) {
			// The token references a row that no longer exists.
			return ErrTokenNotFound
		}
		return asStoreError("confirm subscriber", err)
	}
	s.emit(Event{State: StateConfirmed, SubscriberID: id})
	return nil
}

// Resend delivers the confirmation message again for a pending subscriber.
// Confirmed subscribers are skipped without error.
func (s *Service) Resend(ctx context.Context, subscriberID string) error {
	sub, err := s.repo.Get(ctx, subscriberID)
	if err != nil {
		if errors.Is(err, ErrSubscriberNotFound) {
			return err
		}
		return asStoreError("get subscriber", err)
	}
	if sub.IsConfirmed() {
		return nil
	}
	token, found, err := s.repo.FindTokenBySubscriber(ctx, subscriberID)
	if err != nil {
		return asStoreError("find token by subscriber", err)
	}
	if !found {
		return fmt.Errorf("resend %s: %w", subscriberID, ErrTokenNotFound)
	}
	if err := s.notify(ctx, subscriberID, sub.Email, sub.Name, token); err != nil {
		return err
	}
	s.emit(Event{State: StateNotified, SubscriberID: subscriberID, Email: sub.Email})
	return nil
}

func (s *Service) notify(ctx context.Context, id, email, name, token string) error {
	msg, err := s.renderer.render(email, name, ConfirmationLink(s.opts.BaseURL, token))
	if err != nil {
		return &NotifyError{SubscriberID: id, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.NotifyTimeout)
	defer cancel()

	// Send runs on its own goroutine so the deadline holds even for a
	// notifier that ignores ctx; the buffered channel lets it exit late.
	done := make(chan error, 1)
	go func() { done <- s.notifier.Send(ctx, msg) }()

	select {
	case err := <-done:
		if err != nil {
			return &NotifyError{SubscriberID: id, Err: err}
		}
		return nil
	case <-ctx.Done():
		return &NotifyError{SubscriberID: id, Err: ctx.Err()}
	}
}

func (s *Service) scheduleResend(ctx context.Context, id string) {
	if s.opts.Resend == nil {
		return
	}
	if err := s.opts.Resend.ScheduleResend(ctx, id); err != nil {
		s.emit(Event{State: StateFailed, From: StateFailed, SubscriberID: id, Err: fmt.Errorf("schedule resend: %w", err)})
	}
}

func (s *Service) fail(from State, id, email string, err error) {
	s.emit(Event{State: StateFailed, From: from, SubscriberID: id, Email: email, Err: err})
}

func (s *Service) emit(e Event) {
	e.At = s.opts.Now()
	s.opts.Observer.Observe(e)
}

// asStoreError keeps an existing *StoreError and classifies anything else as
// transient.
func asStoreError(op string, err error) error {
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return NewTransientError(op, err)
}
