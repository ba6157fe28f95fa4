package crawl

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"soyosaki-backend/internal/components/telemetry"

	"github.com/stretchr/testify/require"
)

// fastOpts keeps the settle delays out of test runtime.
func fastOpts(target int) Options {
	return Options{
		TargetTotal: target,
		InitialWait: time.Millisecond,
		ScrollWait:  time.Millisecond,
		Telemetry:   telemetry.SlogAPI{},
	}
}

// scriptedPage serves a fixed sequence of DOM snapshots, one per HTML call,
// repeating the last one once the script runs out. Responses are queued
// explicitly by the test.
type scriptedPage struct {
	snapshots []string
	htmlCalls int
	scrolls   int
	queued    [][]string
	closed    bool
}

func (p *scriptedPage) Navigate(ctx context.Context) error  { return nil }
func (p *scriptedPage) WaitReady(ctx context.Context) error { return nil }

func (p *scriptedPage) HTML(ctx context.Context) (string, error) {
	i := p.htmlCalls
	p.htmlCalls++
	if i >= len(p.snapshots) {
		i = len(p.snapshots) - 1
	}
	return p.snapshots[i], nil
}

func (p *scriptedPage) Scroll(ctx context.Context) error {
	p.scrolls++
	return nil
}

func (p *scriptedPage) DrainResponses() []string {
	if len(p.queued) == 0 {
		return nil
	}
	out := p.queued[0]
	p.queued = p.queued[1:]
	return out
}

func (p *scriptedPage) Close() error {
	p.closed = true
	return nil
}

// setCollector parses comma-separated ids out of snapshots and payloads,
// deduping across both channels.
type setCollector struct {
	seen  map[string]bool
	order []string
}

func newSetCollector() *setCollector {
	return &setCollector{seen: map[string]bool{}}
}

func (c *setCollector) add(raw string) {
	for _, id := range strings.Split(raw, ",") {
		id = strings.TrimSpace(id)
		if id == "" || c.seen[id] {
			continue
		}
		c.seen[id] = true
		c.order = append(c.order, id)
	}
}

func (c *setCollector) CollectHTML(html string)     { c.add(html) }
func (c *setCollector) CollectResponse(body string) { c.add(body) }
func (c *setCollector) Len() int                    { return len(c.order) }

func ids(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("item%d", i)
	}
	return strings.Join(parts, ",")
}

func TestRunTerminatesWhenGrowthStalls(t *testing.T) {
	// the page plateaus at 20 items while 50 were requested and no rpc
	// payloads ever arrive; the loop must end instead of scrolling forever
	page := &scriptedPage{snapshots: []string{ids(10), ids(20)}}
	collector := newSetCollector()

	res, err := Run(context.Background(), page, collector, fastOpts(50))
	require.NoError(t, err)
	require.False(t, res.Converged)
	require.Equal(t, 20, collector.Len())

	// plateau snapshots repeat the same ids each round; dedup holds
	for _, id := range collector.order {
		require.True(t, collector.seen[id])
	}
	require.Len(t, collector.order, len(collector.seen))

	// growth rounds reset the counter, then 6 flat rounds end it
	require.Equal(t, 2+6, res.Rounds)
}

func TestRunConvergesAtTarget(t *testing.T) {
	page := &scriptedPage{snapshots: []string{ids(4), ids(8), ids(12)}}
	collector := newSetCollector()

	res, err := Run(context.Background(), page, collector, fastOpts(12))
	require.NoError(t, err)
	require.True(t, res.Converged)
	require.Equal(t, 12, collector.Len())
	require.Equal(t, 3, res.Rounds)
	require.Equal(t, 2, res.Scrolls)
}

func TestRunCountsRPCPayloadsTowardTarget(t *testing.T) {
	page := &scriptedPage{
		snapshots: []string{ids(3)},
		queued:    [][]string{nil, {"rpc1,rpc2"}, {"rpc3"}},
	}
	collector := newSetCollector()

	res, err := Run(context.Background(), page, collector, fastOpts(6))
	require.NoError(t, err)
	require.True(t, res.Converged)
	require.Equal(t, 6, collector.Len())
}

func TestRunStallCounterResetsOnRPCActivity(t *testing.T) {
	// the dom is flat the whole time but a payload arrives mid-crawl;
	// that alone must reset the stability counter
	queued := make([][]string, 10)
	queued[4] = []string{"late1"}
	page := &scriptedPage{snapshots: []string{ids(5)}, queued: queued}
	collector := newSetCollector()

	res, err := Run(context.Background(), page, collector, fastOpts(50))
	require.NoError(t, err)
	require.False(t, res.Converged)
	require.Equal(t, 6, collector.Len())
	// 4 flat rounds, the payload round, then 6 more flat rounds
	require.Equal(t, 11, res.Rounds)
}

func TestRunRespectsScrollCeiling(t *testing.T) {
	// every snapshot grows by one item, so the stall counter never fires;
	// the scroll ceiling has to end the crawl instead
	snapshots := make([]string, 250)
	for i := range snapshots {
		snapshots[i] = ids(i + 1)
	}
	page := &scriptedPage{snapshots: snapshots}
	collector := newSetCollector()

	opts := fastOpts(1000)
	opts.MaxScrolls = 5
	// TargetTotal-scaled ceiling overrides the configured one
	wantScrolls := 1000/5 + 10

	res, err := Run(context.Background(), page, collector, opts)
	require.NoError(t, err)
	require.False(t, res.Converged)
	require.Equal(t, wantScrolls, res.Scrolls)
}

func TestRunDrainsBufferedResponsesOnExit(t *testing.T) {
	// a payload is still buffered when the target is reached on the dom
	// side; it must be handed to the collector before returning
	page := &scriptedPage{
		snapshots: []string{ids(4)},
		queued:    [][]string{nil, {"inflight1"}},
	}
	collector := newSetCollector()

	res, err := Run(context.Background(), page, collector, fastOpts(4))
	require.NoError(t, err)
	require.True(t, res.Converged)
	require.True(t, collector.seen["inflight1"])
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	page := &scriptedPage{snapshots: []string{ids(3)}}
	collector := newSetCollector()

	_, err := Run(ctx, page, collector, fastOpts(50))
	require.ErrorIs(t, err, context.Canceled)
}

func TestParseCookieHeader(t *testing.T) {
	cookies := ParseCookieHeader("LOFTER-PHONE-LOGIN-AUTH=abc; NTES_SESS=x=y; ; bad", ".lofter.com")
	require.Equal(t, []Cookie{
		{Name: "LOFTER-PHONE-LOGIN-AUTH", Value: "abc", Domain: ".lofter.com"},
		{Name: "NTES_SESS", Value: "x=y", Domain: ".lofter.com"},
	}, cookies)
}
