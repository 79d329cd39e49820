package subscription

import "context"

// Message is a single outbound confirmation email.
type Message struct {
	To       string
	Subject  string
	TextBody string
	HTMLBody string
}

// Notifier delivers confirmation messages. Implementations live in the
// email package (HTTP API and SES). Send should return once ctx is done;
// the service stops waiting at its notify deadline either way.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// NotifierFunc adapts a plain function to the Notifier interface.
type NotifierFunc func(ctx context.Context, msg Message) error

func (f NotifierFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// ResendScheduler receives subscribers whose confirmation message could not
// be delivered, so a background job can try again later.
type ResendScheduler interface {
	ScheduleResend(ctx context.Context, subscriberID string) error
}
