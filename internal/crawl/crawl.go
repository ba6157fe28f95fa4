// Package crawl drives a headless-browser session through scroll-triggered
// pagination, feeding DOM snapshots and intercepted RPC payloads into a
// caller-supplied collector until a convergence condition is met.
package crawl

import (
	"context"
	"time"

	"soyosaki-backend/internal/components/assert"
	"soyosaki-backend/internal/components/telemetry"
)

// Page is one browser tab under the orchestrator's control. The production
// implementation is BrowserPage; tests substitute a scripted fake so the
// loop is checkable without a browser.
type Page interface {
	// Navigate loads the search url and waits for the document to be
	// constructed.
	Navigate(ctx context.Context) error
	// WaitReady blocks until the result list selector appears. It runs
	// under a shorter timeout than the overall call so a stalled page
	// still allows partial-DOM parsing to proceed.
	WaitReady(ctx context.Context) error
	// HTML returns the current DOM snapshot.
	HTML(ctx context.Context) (string, error)
	// Scroll scrolls to the bottom of the document, triggering the
	// platform's lazy loading.
	Scroll(ctx context.Context) error
	// DrainResponses returns intercepted RPC payload bodies that arrived
	// since the previous drain.
	DrainResponses() []string
	Close() error
}

// Collector accumulates parsed items. Implementations own the parsing and
// dedup; the orchestrator only watches Len() for growth.
type Collector interface {
	CollectHTML(html string)
	CollectResponse(body string)
	Len() int
}

type Options struct {
	// TargetTotal is how many accumulated items satisfy the caller.
	TargetTotal int
	// MaxScrolls is the configured scroll ceiling; the effective ceiling
	// scales with TargetTotal so deep pagination gets enough scrolls.
	MaxScrolls int
	// StableRounds is how many consecutive no-growth iterations (neither
	// DOM items nor intercepted payloads) end the loop. Both signals must
	// stall: the DOM can stop growing while RPC responses are still in
	// flight, and vice versa.
	StableRounds int

	InitialWait time.Duration
	ScrollWait  time.Duration

	Telemetry telemetry.API
}

func (o Options) withDefaults() Options {
	if o.StableRounds == 0 {
		o.StableRounds = 6
	}
	if o.MaxScrolls == 0 {
		o.MaxScrolls = 15
	}
	if o.InitialWait == 0 {
		o.InitialWait = 2 * time.Second
	}
	if o.ScrollWait == 0 {
		o.ScrollWait = 1500 * time.Millisecond
	}
	return o
}

// effectiveMaxScrolls scales the ceiling with the requested depth.
func (o Options) effectiveMaxScrolls() int {
	scaled := o.TargetTotal/5 + 10
	if scaled > o.MaxScrolls {
		return scaled
	}
	return o.MaxScrolls
}

type Result struct {
	Scrolls   int
	Rounds    int
	Converged bool
}

type state int

const (
	stateNavigating state = iota
	stateSettling
	stateScanning
	stateScrolling
	stateConverged
	stateExhausted
)

const (
	report_crawl_navigate = "crawl.navigate"
	report_crawl_ready    = "crawl.wait-ready"
	report_crawl_html     = "crawl.html"
	report_crawl_scroll   = "crawl.scroll"
)

// Run executes the crawl loop until the collector reaches TargetTotal,
// growth stalls for StableRounds consecutive rounds, or the scroll ceiling
// is hit. Responses still buffered when the loop ends are drained into the
// collector before returning, so nothing intercepted in flight is lost.
func Run(ctx context.Context, page Page, collector Collector, opts Options) (Result, error) {
	assert.NotNil(page)
	assert.NotNil(collector)
	assert.NotNil(opts.Telemetry)
	opts = opts.withDefaults()
	tel := telemetry.NewScopedAPI("crawl", opts.Telemetry)

	maxScrolls := opts.effectiveMaxScrolls()

	var res Result
	lastCount := 0
	lastDrained := 0
	drained := 0
	stable := 0
	wait := opts.InitialWait

	st := stateNavigating
	for {
		if err := ctx.Err(); err != nil {
			drainRemaining(page, collector)
			return res, err
		}

		switch st {
		case stateNavigating:
			if err := page.Navigate(ctx); err != nil {
				tel.ReportBroken(report_crawl_navigate, err)
				return res, err
			}
			if err := page.WaitReady(ctx); err != nil {
				// non-fatal: parse whatever portion of the DOM exists
				tel.ReportWarning(report_crawl_ready, err)
			}
			st = stateSettling

		case stateSettling:
			select {
			case <-ctx.Done():
				drainRemaining(page, collector)
				return res, ctx.Err()
			case <-time.After(wait):
			}
			wait = opts.ScrollWait
			st = stateScanning

		case stateScanning:
			res.Rounds++

			html, err := page.HTML(ctx)
			if err != nil {
				tel.ReportWarning(report_crawl_html, err)
			} else {
				collector.CollectHTML(html)
			}
			for _, body := range page.DrainResponses() {
				drained++
				collector.CollectResponse(body)
			}

			count := collector.Len()
			if count == lastCount && drained == lastDrained {
				stable++
			} else {
				stable = 0
			}
			lastCount = count
			lastDrained = drained

			switch {
			case count >= opts.TargetTotal:
				st = stateConverged
			case stable >= opts.StableRounds:
				st = stateExhausted
			case res.Scrolls >= maxScrolls:
				st = stateExhausted
			default:
				st = stateScrolling
			}

		case stateScrolling:
			if err := page.Scroll(ctx); err != nil {
				tel.ReportWarning(report_crawl_scroll, err)
			}
			res.Scrolls++
			st = stateSettling

		case stateConverged:
			drainRemaining(page, collector)
			res.Converged = true
			tel.ReportCount("crawl.items", int64(collector.Len()))
			return res, nil

		case stateExhausted:
			drainRemaining(page, collector)
			tel.ReportCount("crawl.items", int64(collector.Len()))
			return res, nil
		}
	}
}

func drainRemaining(page Page, collector Collector) {
	for _, body := range page.DrainResponses() {
		collector.CollectResponse(body)
	}
}
