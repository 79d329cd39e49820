// Package observability turns subscription workflow events into log lines
// and Prometheus metrics.
package observability

import (
	"errors"

	"github.com/ignite/newsletter/internal/domain"
	"github.com/ignite/newsletter/internal/pkg/logger"
	"github.com/ignite/newsletter/internal/service/subscription"
)

// Multi fans one event out to several observers in order.
func Multi(observers ...subscription.Observer) subscription.Observer {
	return subscription.ObserverFunc(func(e subscription.Event) {
		for _, o := range observers {
			o.Observe(e)
		}
	})
}

// FailureReason classifies a workflow error for logs and metric labels.
func FailureReason(err error) string {
	var verr *domain.ValidationError
	var serr *subscription.StoreError
	var nerr *subscription.NotifyError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr):
		return "validation_" + verr.Field
	case errors.As(err, &serr):
		return "store_" + serr.Kind.String()
	case errors.As(err, &nerr):
		return "notify"
	}
	return "other"
}

// LogObserver writes workflow events through the JSON logger. Emails are
// redacted by the logger; tokens never appear in events.
type LogObserver struct {
	log *logger.Logger
}

func NewLogObserver(l *logger.Logger) *LogObserver {
	return &LogObserver{log: l.With("component", "subscription")}
}

func (o *LogObserver) Observe(e subscription.Event) {
	fields := []interface{}{"state", string(e.State), "subscriber_id", e.SubscriberID}
	if e.Email != "" {
		fields = append(fields, "email", e.Email)
	}

	switch e.State {
	case subscription.StateFailed:
		fields = append(fields, "from", string(e.From), "reason", FailureReason(e.Err), "error", e.Err)
		if errors.As(e.Err, new(*domain.ValidationError)) {
			o.log.Info("registration rejected", fields...)
			return
		}
		o.log.Warn("registration failed", fields...)
	case subscription.StateCompleted:
		o.log.Info("registration completed", fields...)
	case subscription.StateConfirmed:
		o.log.Info("subscription confirmed", fields...)
	default:
		o.log.Debug("registration transition", fields...)
	}
}
