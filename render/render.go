// Package render drives a headless Chrome engine over the DevTools protocol
// to turn URLs into screenshot payloads.
//
// A Renderer holds one long-lived browser handle shared by all concurrent
// renders. Each render opens its own tab, so renders overlap freely; the
// handle's mutex is held only while probing or (re-)launching the engine.
package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultTimeout is the per-render hard timeout when the request
	// doesn't carry one.
	DefaultTimeout = 30 * time.Second

	// settleDelay is a fixed wait after networkIdle for late dynamic
	// content.
	settleDelay = 2 * time.Second

	probeTimeout = 5 * time.Second

	desktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// ErrEngine marks the browser engine as unavailable after exhausting launch
// retries. It is fatal for the process: the worker shuts down rather than
// churning through messages it cannot serve.
var ErrEngine = errors.New("browser engine unavailable")

// Error is a page-level render failure: navigation, viewport, or capture.
type Error struct {
	URL string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("rendering %s: %v", e.URL, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Request describes a single screenshot render.
type Request struct {
	URL      string
	Width    int
	Height   int
	Format   string // "png" or "jpeg"
	Quality  int    // meaningful only for jpeg
	FullPage bool
	Timeout  time.Duration
}

// Renderer owns the shared browser engine handle.
type Renderer struct {
	mu            sync.Mutex // guards engine (re-)initialization only
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	closed        bool
}

// New launches the browser engine and returns a warm Renderer. Launch is
// retried with backoff; a final failure is returned wrapped in ErrEngine.
func New() (*Renderer, error) {
	var r = &Renderer{}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.launchLocked(); err != nil {
		return nil, err
	}
	return r, nil
}

// Render captures a screenshot of the requested URL in a fresh tab. The tab
// is torn down on every exit path. Page-level failures surface as *Error.
func (r *Renderer) Render(ctx context.Context, req Request) ([]byte, error) {
	var engineCtx, err = r.engine()
	if err != nil {
		return nil, err
	}

	var url = NormalizeURL(req.URL)
	var timeout = req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	tabCtx, cancelTab := chromedp.NewContext(engineCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, timeout)
	defer cancelTimeout()

	// Propagate caller cancellation into the tab.
	go func() {
		select {
		case <-ctx.Done():
			cancelTab()
		case <-tabCtx.Done():
		}
	}()

	// Navigation is considered complete at the page's networkIdle lifecycle
	// event, not merely at document load.
	var idle = make(chan struct{})
	var once sync.Once
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if lc, ok := ev.(*page.EventLifecycleEvent); ok && lc.Name == "networkIdle" {
			once.Do(func() { close(idle) })
		}
	})

	var buf []byte
	err = chromedp.Run(tabCtx,
		chromedp.EmulateViewport(int64(req.Width), int64(req.Height)),
		emulation.SetUserAgentOverride(desktopUserAgent),
		page.SetLifecycleEventsEnabled(true),
		chromedp.Navigate(url),
		waitFor(idle),
		chromedp.Sleep(settleDelay),
		capture(req, &buf),
	)
	if err != nil {
		return nil, &Error{URL: url, Err: err}
	}
	return buf, nil
}

// Close tears down the browser engine. Subsequent renders fail with ErrEngine.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teardownLocked()
	r.closed = true
	return nil
}

// engine probes the shared handle with a cheap target listing, relaunches it
// if the probe fails, and returns the live browser context.
func (r *Renderer) engine() (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fmt.Errorf("%w: renderer is closed", ErrEngine)
	}
	if r.browserCtx != nil {
		probeCtx, cancel := context.WithTimeout(r.browserCtx, probeTimeout)
		var _, err = chromedp.Targets(probeCtx)
		cancel()
		if err == nil {
			return r.browserCtx, nil
		}
		log.WithField("error", err).Warn("browser engine probe failed, relaunching")
		r.teardownLocked()
	}
	if err := r.launchLocked(); err != nil {
		return nil, err
	}
	return r.browserCtx, nil
}

// launchLocked starts the engine, retrying up to 3 times with 2s/4s/6s
// backoff. Must be called with r.mu held.
func (r *Renderer) launchLocked() error {
	var delays = []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second}
	var err error
	for attempt := 0; ; attempt++ {
		if err = r.startLocked(); err == nil {
			return nil
		}
		if attempt == len(delays) {
			break
		}
		log.WithFields(log.Fields{
			"error":   err,
			"attempt": attempt + 1,
		}).Warn("browser engine launch failed (will retry)")
		time.Sleep(delays[attempt])
	}
	return fmt.Errorf("%w: %v", ErrEngine, err)
}

func (r *Renderer) startLocked() error {
	var allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(),
		chromedp.DefaultExecAllocatorOptions[:]...)

	// Silence chromedp's internal logging of CDP events it cannot unmarshal;
	// they arise from version skew with the installed Chrome and the affected
	// events are simply dropped.
	var browserCtx, browserCancel = chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(string, ...interface{}) {}),
		chromedp.WithErrorf(func(string, ...interface{}) {}),
	)

	// An empty Run starts the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("starting browser: %w", err)
	}

	r.allocCancel = allocCancel
	r.browserCtx = browserCtx
	r.browserCancel = browserCancel
	return nil
}

// teardownLocked destroys the engine handle. Must be called with r.mu held.
func (r *Renderer) teardownLocked() {
	if r.browserCancel != nil {
		r.browserCancel()
		r.browserCancel = nil
	}
	if r.allocCancel != nil {
		r.allocCancel()
		r.allocCancel = nil
	}
	r.browserCtx = nil
}

// waitFor blocks until ch closes or the tab context expires.
func waitFor(ch <-chan struct{}) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		select {
		case <-ch:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// capture takes the screenshot with the requested format, quality, and
// full-page setting.
func capture(req Request, out *[]byte) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var params = page.CaptureScreenshot().
			WithCaptureBeyondViewport(req.FullPage)
		if req.Format == "jpeg" {
			params = params.
				WithFormat(page.CaptureScreenshotFormatJpeg).
				WithQuality(int64(req.Quality))
		} else {
			params = params.WithFormat(page.CaptureScreenshotFormatPng)
		}

		var buf, err = params.Do(ctx)
		if err != nil {
			return fmt.Errorf("capturing screenshot: %w", err)
		}
		*out = buf
		return nil
	})
}
