package adapters

import (
	"context"
	"fmt"

	"soyosaki-backend/internal/components/assert"
	"soyosaki-backend/internal/components/telemetry"
	"soyosaki-backend/internal/crawl"
	"soyosaki-backend/internal/novel"
	"soyosaki-backend/internal/scrapers/ao3"
)

const (
	report_ao3_search   = "ao3_adapter.search"
	report_ao3_fallback = "ao3_adapter.browser-fallback"
)

type AO3Options struct {
	// BrowserFallback retries a failed static search through a headless
	// browser session, which clears the interstitial challenges the
	// archive sometimes serves even past the bypass transport.
	BrowserFallback bool
	Telemetry       telemetry.API

	// FetchHTML is swapped out in tests.
	FetchHTML func(ctx context.Context, opts crawl.BrowserOptions) (string, error)
}

// AO3Adapter searches the archive anonymously; no credential is involved.
type AO3Adapter struct {
	client    *ao3.Client
	fallback  bool
	fetchHTML func(ctx context.Context, opts crawl.BrowserOptions) (string, error)
	tel       telemetry.API
}

var _ Adapter = (*AO3Adapter)(nil)

func NewAO3Adapter(opts AO3Options) (*AO3Adapter, error) {
	assert.NotNil(opts.Telemetry)

	client, err := ao3.NewClient(opts.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("ao3 client: %w", err)
	}
	if opts.FetchHTML == nil {
		opts.FetchHTML = crawl.FetchHTML
	}
	return &AO3Adapter{
		client:    client,
		fallback:  opts.BrowserFallback,
		fetchHTML: opts.FetchHTML,
		tel:       opts.Telemetry,
	}, nil
}

func (a *AO3Adapter) Source() novel.Source {
	return novel.SourceAO3
}

func (a *AO3Adapter) Search(ctx context.Context, req SearchRequest) []novel.Novel {
	req = req.withDefaults()
	tags := searchTags(req, novel.SourceAO3)
	sortColumn := ao3.SortColumn(req.SortBy)

	items, err := a.client.Search(ctx, tags, sortColumn, req.Page, req.ExcludeTags)
	if err != nil {
		a.tel.ReportWarning(report_ao3_search, err)
		if !a.fallback {
			return nil
		}
		items = a.searchViaBrowser(ctx, tags, sortColumn, req)
	}
	if len(items) > req.PageSize {
		items = items[:req.PageSize]
	}
	return items
}

func (a *AO3Adapter) searchViaBrowser(ctx context.Context, tags []string, sortColumn string, req SearchRequest) []novel.Novel {
	html, err := a.fetchHTML(ctx, crawl.BrowserOptions{
		URL:          ao3.SearchURL(tags, sortColumn, req.Page),
		WaitSelector: "li.work",
		Telemetry:    a.tel,
	})
	if err != nil {
		a.tel.ReportWarning(report_ao3_fallback, err)
		return nil
	}
	items, err := ao3.ParseSearchPage(html, req.ExcludeTags)
	if err != nil {
		a.tel.ReportWarning(report_ao3_fallback, err)
		return nil
	}
	return items
}

func (a *AO3Adapter) GetDetail(ctx context.Context, id string) (*novel.Novel, error) {
	return a.client.Work(ctx, id)
}

func (a *AO3Adapter) GetChapters(ctx context.Context, id string) ([]novel.Chapter, error) {
	return a.client.Chapters(ctx, id)
}

func (a *AO3Adapter) GetChapterContent(ctx context.Context, id string, number int) (string, error) {
	return a.client.ChapterContent(ctx, id, number)
}
