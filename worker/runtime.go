// Package worker runs the process-wide receive loop: it fans queue messages
// out to a bounded pool of handlers and owns graceful shutdown.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/shutterd/shutterd/coordinator"
	"github.com/shutterd/shutterd/queue"
	"github.com/shutterd/shutterd/render"
)

// DefaultDrainTimeout bounds how long shutdown waits for in-flight handlers.
const DefaultDrainTimeout = 30 * time.Second

// ErrDrainTimeout is returned by Run when in-flight handlers outlive the
// shutdown deadline. The process should exit non-zero.
var ErrDrainTimeout = errors.New("shutdown deadline elapsed with handlers in flight")

// Queue is the receive/ack surface the runtime requires.
type Queue interface {
	Receive(ctx context.Context) ([]queue.Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Handler disposes of one message body. A nil error acknowledges the message.
type Handler interface {
	Handle(ctx context.Context, body []byte) (coordinator.Outcome, error)
}

// Runtime is the worker process loop.
type Runtime struct {
	queue         Queue
	handler       Handler
	concurrency   int
	handleTimeout time.Duration
	drainTimeout  time.Duration
}

// New returns a Runtime dispatching up to concurrency concurrent handlers,
// each bounded by handleTimeout (normally the queue visibility timeout).
func New(q Queue, h Handler, concurrency int, handleTimeout time.Duration) *Runtime {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Runtime{
		queue:         q,
		handler:       h,
		concurrency:   concurrency,
		handleTimeout: handleTimeout,
		drainTimeout:  DefaultDrainTimeout,
	}
}

// Run receives and dispatches messages until ctx is cancelled, then drains
// in-flight handlers. It returns nil on a clean drain and ErrDrainTimeout if
// the deadline fires first.
func (r *Runtime) Run(ctx context.Context) error {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	var sem = make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup
	var receiveBackoff = backoff{initialMillis: 500, maxMillis: 10000, multiplier: 2.0}

	for runCtx.Err() == nil {
		var messages, err = r.queue.Receive(runCtx)
		if err != nil {
			if runCtx.Err() != nil {
				break
			}
			log.WithField("error", err).Warn("receiving messages failed (will retry)")
			select {
			case <-receiveBackoff.nextBackoff():
			case <-runCtx.Done():
			}
			continue
		}
		receiveBackoff.reset()

		for _, msg := range messages {
			select {
			case sem <- struct{}{}:
			case <-runCtx.Done():
			}
			if runCtx.Err() != nil {
				// Undispatched messages stay invisible until the
				// visibility timeout and are then redelivered.
				break
			}
			wg.Add(1)
			go func(m queue.Message) {
				defer wg.Done()
				defer func() { <-sem }()
				r.handleOne(runCtx, m, stop)
			}(msg)
		}
	}

	log.Info("receiver stopped, draining in-flight handlers")
	var done = make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(r.drainTimeout):
		return ErrDrainTimeout
	}
}

func (r *Runtime) handleOne(runCtx context.Context, m queue.Message, stop context.CancelFunc) {
	inflightHandlers.Inc()
	defer inflightHandlers.Dec()

	// Handlers are detached from the shutdown signal so in-flight work can
	// finish during the drain; the handle timeout bounds them instead.
	var hctx, cancel = context.WithTimeout(context.WithoutCancel(runCtx), r.handleTimeout)
	defer cancel()

	var outcome, err = r.handler.Handle(hctx, m.Body)
	if err != nil {
		messagesHandled.WithLabelValues("error").Inc()
		var logEntry = log.WithFields(log.Fields{
			"messageId": m.ID,
			"error":     err,
		})

		var malformed *coordinator.MalformedError
		switch {
		case errors.As(err, &malformed):
			logEntry.Warn("malformed message, leaving it for the dead-letter queue")
		case errors.Is(err, render.ErrEngine):
			logEntry.Error("browser engine unavailable, shutting down")
			stop()
		default:
			logEntry.Error("handling message failed, leaving it for redelivery")
		}
		return
	}

	messagesHandled.WithLabelValues(string(outcome)).Inc()

	if err := r.queue.Delete(hctx, m.ReceiptHandle); err != nil {
		// Redelivery of an already-finished request is safe: the record's
		// terminal status turns the retry into a skip.
		log.WithFields(log.Fields{
			"messageId": m.ID,
			"error":     err,
		}).Warn("acknowledging message failed")
	}
}
