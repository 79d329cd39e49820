package subscription

import "time"

// State is a step of the registration workflow.
type State string

const (
	StateReceived  State = "received"
	StateValidated State = "validated"
	StatePersisted State = "persisted"
	StateNotified  State = "notified"
	StateCompleted State = "completed"
	StateFailed    State = "failed"

	// StateConfirmed is emitted when a token is redeemed.
	StateConfirmed State = "confirmed"
)

// Event describes one workflow transition. Err is set only for StateFailed.
// Email is the raw submitted address and must be redacted before logging.
type Event struct {
	State        State
	From         State
	SubscriberID string
	Email        string
	Err          error
	At           time.Time
}

// Observer receives workflow events. Implementations must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

type nopObserver struct{}

func (nopObserver) Observe(Event) {}

// NopObserver discards every event.
var NopObserver Observer = nopObserver{}
