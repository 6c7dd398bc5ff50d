// Package coordinator implements the per-message lifecycle state machine that
// lets many workers compete over the same logical requests.
//
// Correctness over at-least-once delivery rests on three legs rather than a
// distributed lock: the consumerProcessing + staleness check is an optimistic
// skip, object keys are deterministic so concurrent uploads of one request
// collapse onto one object, and status writes are idempotent. Occasional
// double work is accepted as the cheap side of that trade.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/shutterd/shutterd/blob"
	"github.com/shutterd/shutterd/render"
	"github.com/shutterd/shutterd/store"
)

// StaleAfter is how old a consumerProcessing record's updatedAt must be
// before another worker presumes the owner dead and takes over.
const StaleAfter = 10 * time.Minute

// maxErrorMessage bounds the errorMessage written to a failed record.
const maxErrorMessage = 2000

// Outcome says how an acknowledged message was disposed of.
type Outcome string

const (
	// OutcomeCompleted: rendered, uploaded, and recorded as success.
	OutcomeCompleted Outcome = "completed"
	// OutcomeSkippedDone: the record already reached success.
	OutcomeSkippedDone Outcome = "skippedDone"
	// OutcomeSkippedOwned: another live worker holds the claim.
	OutcomeSkippedOwned Outcome = "skippedOwned"
)

// RecordStore is the record persistence surface the coordinator requires.
type RecordStore interface {
	Create(ctx context.Context, rec store.Record, onlyIfAbsent bool) error
	Get(ctx context.Context, id string) (*store.Record, error)
	UpdateStatus(ctx context.Context, id string, status store.Status, patch store.Patch) error
}

// ObjectStore uploads a payload and returns its public URL.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Renderer turns a request into image bytes.
type Renderer interface {
	Render(ctx context.Context, req render.Request) ([]byte, error)
}

// Defaults fills request fields the message leaves unset.
type Defaults struct {
	Width         int
	Height        int
	RenderTimeout time.Duration
}

// Coordinator handles one message at a time; a single Coordinator is shared
// by all concurrent handlers.
type Coordinator struct {
	records  RecordStore
	objects  ObjectStore
	renderer Renderer
	defaults Defaults

	// now and retryDelays are fixed in production and overridden in tests.
	now         func() time.Time
	retryDelays []time.Duration
}

// New returns a Coordinator over the given collaborators.
func New(records RecordStore, objects ObjectStore, renderer Renderer, defaults Defaults) *Coordinator {
	return &Coordinator{
		records:     records,
		objects:     objects,
		renderer:    renderer,
		defaults:    defaults,
		now:         time.Now,
		retryDelays: []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
	}
}

// Handle processes one delivery. A nil error means the message must be
// acknowledged; a non-nil error means it must be left for redelivery.
func (c *Coordinator) Handle(ctx context.Context, body []byte) (Outcome, error) {
	var req, err = decodeRequest(body, c.defaults)
	if err != nil {
		return "", err
	}

	var logEntry = log.WithFields(log.Fields{
		"requestId": req.RequestID,
		"url":       req.URL,
	})

	rec, err := c.readOrCreate(ctx, req, logEntry)
	if err != nil {
		return "", err
	}

	switch rec.Status {
	case store.StatusSuccess:
		// Idempotent redelivery of finished work.
		logEntry.Info("request already succeeded, skipping")
		return OutcomeSkippedDone, nil

	case store.StatusConsumerProcessing:
		var age = c.recordAge(rec)
		if age <= StaleAfter {
			logEntry.WithField("claimAge", age.String()).Info("request owned by a live worker, skipping")
			return OutcomeSkippedOwned, nil
		}
		// The only permitted non-monotone transition: a fresh worker
		// re-claims consumerProcessing after the prior owner went stale.
		logEntry.WithField("claimAge", age.String()).Warn("stale claim, taking over")

	case store.StatusFailed, store.StatusProcessing:
		// failed is retriable via queue redelivery; processing is the
		// normal first delivery.
	}

	if err = c.claim(ctx, req); err != nil {
		return "", c.fail(ctx, logEntry, req.RequestID, err)
	}

	var started = c.now()
	payload, err := c.renderer.Render(ctx, render.Request{
		URL:      req.URL,
		Width:    req.Width,
		Height:   req.Height,
		Format:   req.Format,
		Quality:  *req.Quality,
		FullPage: req.FullPage,
		Timeout:  c.defaults.RenderTimeout,
	})
	if err != nil {
		return "", c.fail(ctx, logEntry, req.RequestID, err)
	}
	renderDuration.Observe(c.now().Sub(started).Seconds())

	var key = blob.DeriveKey(req.URL, req.RequestID, req.Format, c.now())
	started = c.now()
	objectURL, err := c.objects.Put(ctx, key, payload, blob.ContentType(req.Format))
	if err != nil {
		return "", c.fail(ctx, logEntry, req.RequestID, err)
	}
	uploadDuration.Observe(c.now().Sub(started).Seconds())

	err = c.withRetry(ctx, func() error {
		return c.records.UpdateStatus(ctx, req.RequestID, store.StatusSuccess, store.Patch{
			ObjectURL: &objectURL,
			ObjectKey: &key,
		})
	})
	if err != nil {
		return "", c.fail(ctx, logEntry, req.RequestID, err)
	}

	logEntry.WithFields(log.Fields{
		"objectKey": key,
		"bytes":     len(payload),
	}).Info("request completed")
	return OutcomeCompleted, nil
}

// readOrCreate fetches the request record, creating a fresh processing record
// when none exists. An absent record is anomalous (the enqueuer writes it
// before sending the message) but tolerated: the older enqueuer path relied
// on the consumer to create it on first sight.
func (c *Coordinator) readOrCreate(ctx context.Context, req captureRequest, logEntry *log.Entry) (*store.Record, error) {
	var rec *store.Record
	var err = c.withRetry(ctx, func() error {
		var getErr error
		rec, getErr = c.records.Get(ctx, req.RequestID)
		return getErr
	})
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("reading record: %w", err)
	}

	logEntry.Warn("no record for message, creating one")
	var nowStr = c.now().UTC().Format(store.TimeFormat)
	var fresh = store.Record{
		ID:        req.RequestID,
		URL:       req.URL,
		Status:    store.StatusProcessing,
		Width:     req.Width,
		Height:    req.Height,
		Format:    req.Format,
		Quality:   *req.Quality,
		FullPage:  req.FullPage,
		CreatedAt: nowStr,
		UpdatedAt: nowStr,
	}
	err = c.withRetry(ctx, func() error {
		return c.records.Create(ctx, fresh, true)
	})
	if err == nil {
		return &fresh, nil
	}
	if !errors.Is(err, store.ErrAlreadyExists) {
		return nil, fmt.Errorf("creating record: %w", err)
	}

	// Lost the creation race; proceed with whatever the winner wrote.
	err = c.withRetry(ctx, func() error {
		var getErr error
		rec, getErr = c.records.Get(ctx, req.RequestID)
		return getErr
	})
	if err != nil {
		return nil, fmt.Errorf("re-reading record after create race: %w", err)
	}
	return rec, nil
}

// claim marks the record consumerProcessing. The write is unconditional so a
// stale takeover can succeed, and it refreshes updatedAt so staleness is
// measured from the current owner.
func (c *Coordinator) claim(ctx context.Context, req captureRequest) error {
	var err = c.withRetry(ctx, func() error {
		return c.records.UpdateStatus(ctx, req.RequestID, store.StatusConsumerProcessing, store.Patch{
			Width:  &req.Width,
			Height: &req.Height,
			Format: &req.Format,
		})
	})
	if err != nil {
		return fmt.Errorf("claiming record: %w", err)
	}
	return nil
}

// fail writes the failed record best-effort and returns the primary error so
// the message is redelivered. A secondary failure of the status write is
// logged, never allowed to mask the primary error.
func (c *Coordinator) fail(ctx context.Context, logEntry *log.Entry, id string, primary error) error {
	var message = primary.Error()
	if len(message) > maxErrorMessage {
		message = message[:maxErrorMessage]
	}

	var err = c.withRetry(ctx, func() error {
		return c.records.UpdateStatus(ctx, id, store.StatusFailed, store.Patch{
			ErrorMessage: &message,
		})
	})
	if err != nil {
		logEntry.WithField("error", err).Error("writing failed status")
	}

	logEntry.WithField("error", primary).Error("request failed")
	return primary
}

// recordAge measures how long ago the record was last touched. An unparsable
// updatedAt is treated as infinitely stale so the record stays actionable.
func (c *Coordinator) recordAge(rec *store.Record) time.Duration {
	var updatedAt, err = rec.UpdatedAtTime()
	if err != nil {
		return StaleAfter + time.Hour
	}
	return c.now().Sub(updatedAt)
}

// withRetry runs fn, retrying only throttled record-store errors up to three
// times with 1s/2s/4s waits. Everything else surfaces immediately; the
// queue's redelivery is the outer retry loop.
func (c *Coordinator) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil || !errors.Is(err, store.ErrThrottled) {
			return err
		}
		if attempt == len(c.retryDelays) {
			return err
		}
		select {
		case <-time.After(c.retryDelays[attempt]):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
