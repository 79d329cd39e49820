package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/newsletter/internal/pkg/distlock"
	"github.com/ignite/newsletter/internal/pkg/logger"
	"github.com/ignite/newsletter/internal/service/subscription"
)

const (
	DefaultResendInterval    = 30 * time.Second
	DefaultResendBatchSize   = 50
	DefaultResendMaxAttempts = 5
	DefaultResendBaseBackoff = time.Minute

	// maxResendBackoff caps the exponential delay between attempts.
	maxResendBackoff = 6 * time.Hour
)

// Resender re-delivers a confirmation message. subscription.Service
// implements it.
type Resender interface {
	Resend(ctx context.Context, subscriberID string) error
}

// ResendQueue is the queue the worker drains.
type ResendQueue interface {
	Due(ctx context.Context, limit int) ([]string, error)
	Claim(ctx context.Context, subscriberID string) (bool, error)
	RecordFailure(ctx context.Context, subscriberID string) (int, error)
	Reschedule(ctx context.Context, subscriberID string, at time.Time) error
	Forget(ctx context.Context, subscriberID string) error
}

// ResendConfig tunes a ResendWorker. Zero fields take the defaults above.
type ResendConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	BaseBackoff time.Duration
}

// ResendStats are cumulative counters since the worker was created.
type ResendStats struct {
	Delivered   int64
	Rescheduled int64
	Dropped     int64
	Skipped     int64
}

// ResendWorker periodically drains the resend queue. Each tick runs under a
// distributed lock so only one replica sends at a time.
type ResendWorker struct {
	queue    ResendQueue
	resender Resender
	lock     distlock.DistLock
	cfg      ResendConfig
	log      *logger.Logger
	now      func() time.Time

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	delivered   int64
	rescheduled int64
	dropped     int64
	skipped     int64
}

// NewResendWorker creates a worker. lock may be nil when a single replica
// runs.
func NewResendWorker(queue ResendQueue, resender Resender, lock distlock.DistLock, cfg ResendConfig, log *logger.Logger) *ResendWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultResendInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultResendBatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultResendMaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultResendBaseBackoff
	}
	if log == nil {
		log = logger.Default()
	}
	return &ResendWorker{
		queue:    queue,
		resender: resender,
		lock:     lock,
		cfg:      cfg,
		log:      log.With("component", "resend_worker"),
		now:      time.Now,
	}
}

// Start launches the polling loop.
func (w *ResendWorker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("resend worker already running")
	}
	w.running = true

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.wg.Add(1)
	go w.loop(ctx)

	w.log.Info("resend worker started",
		"interval", w.cfg.Interval.String(),
		"batch_size", w.cfg.BatchSize,
		"max_attempts", w.cfg.MaxAttempts)
	return nil
}

// Stop cancels the loop and waits for the current tick to finish.
func (w *ResendWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.cancel()
	w.mu.Unlock()

	w.wg.Wait()
	s := w.Stats()
	w.log.Info("resend worker stopped",
		"delivered", s.Delivered,
		"rescheduled", s.Rescheduled,
		"dropped", s.Dropped)
}

// Stats returns a snapshot of the worker counters.
func (w *ResendWorker) Stats() ResendStats {
	return ResendStats{
		Delivered:   atomic.LoadInt64(&w.delivered),
		Rescheduled: atomic.LoadInt64(&w.rescheduled),
		Dropped:     atomic.LoadInt64(&w.dropped),
		Skipped:     atomic.LoadInt64(&w.skipped),
	}
}

func (w *ResendWorker) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.tick(ctx); err != nil {
				w.log.Warn("resend tick failed", "error", err)
			}
		}
	}
}

// tick processes one batch of due ids if the lock can be taken.
func (w *ResendWorker) tick(ctx context.Context) error {
	if w.lock != nil {
		ok, err := w.lock.Acquire(ctx)
		if err != nil {
			return err
		}
		if !ok {
			atomic.AddInt64(&w.skipped, 1)
			return nil
		}
		defer func() {
			// Release must run even when ctx was canceled mid-batch.
			if err := w.lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, distlock.ErrNotHeld) {
				w.log.Warn("resend lock release failed", "error", err)
			}
		}()
	}

	ids, err := w.queue.Due(ctx, w.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return nil
		}
		claimed, err := w.queue.Claim(ctx, id)
		if err != nil {
			return err
		}
		if !claimed {
			continue
		}
		w.process(ctx, id)
	}
	return nil
}

func (w *ResendWorker) process(ctx context.Context, id string) {
	err := w.resender.Resend(ctx, id)

	// The id left the queue on Claim. Bookkeeping must finish even when Stop
	// canceled the send, or the subscriber is never retried.
	bg := context.WithoutCancel(ctx)
	switch {
	case err == nil:
		atomic.AddInt64(&w.delivered, 1)
		w.forget(bg, id)
		w.log.Info("confirmation resent", "subscriber_id", id)
	case errors.Is(err, subscription.ErrSubscriberNotFound), errors.Is(err, subscription.ErrTokenNotFound):
		atomic.AddInt64(&w.dropped, 1)
		w.forget(bg, id)
		w.log.Warn("resend dropped, subscriber gone", "subscriber_id", id, "error", err)
	default:
		w.retry(bg, id, err)
	}
}

func (w *ResendWorker) retry(ctx context.Context, id string, cause error) {
	attempts, err := w.queue.RecordFailure(ctx, id)
	if err != nil {
		w.log.Error("resend failure not recorded", "subscriber_id", id, "error", err)
		w.requeue(ctx, id)
		return
	}
	if attempts >= w.cfg.MaxAttempts {
		atomic.AddInt64(&w.dropped, 1)
		w.forget(ctx, id)
		w.log.Error("resend abandoned", "subscriber_id", id, "attempts", attempts, "error", cause)
		return
	}

	next := w.now().Add(w.backoff(attempts))
	if err := w.queue.Reschedule(ctx, id, next); err != nil {
		w.log.Error("resend not rescheduled", "subscriber_id", id, "error", err)
		w.requeue(ctx, id)
		return
	}
	atomic.AddInt64(&w.rescheduled, 1)
	w.log.Warn("resend failed, rescheduled",
		"subscriber_id", id, "attempts", attempts, "next_attempt", next, "error", cause)
}

// requeue puts a claimed id straight back so the next tick picks it up.
func (w *ResendWorker) requeue(ctx context.Context, id string) {
	if err := w.queue.Reschedule(ctx, id, w.now()); err != nil {
		w.log.Error("resend lost from queue", "subscriber_id", id, "error", err)
		return
	}
	atomic.AddInt64(&w.rescheduled, 1)
}

func (w *ResendWorker) forget(ctx context.Context, id string) {
	if err := w.queue.Forget(ctx, id); err != nil {
		w.log.Warn("resend history not cleared", "subscriber_id", id, "error", err)
	}
}

// backoff doubles the base delay per failed attempt.
func (w *ResendWorker) backoff(attempts int) time.Duration {
	d := w.cfg.BaseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxResendBackoff {
			return maxResendBackoff
		}
	}
	return d
}
