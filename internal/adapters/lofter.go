package adapters

import (
	"context"
	"fmt"
	"sync"

	"soyosaki-backend/internal/components/assert"
	"soyosaki-backend/internal/components/telemetry"
	"soyosaki-backend/internal/crawl"
	"soyosaki-backend/internal/keychain"
	"soyosaki-backend/internal/novel"
	"soyosaki-backend/internal/scrapers/lofter"
	"soyosaki-backend/internal/searchcache"
)

const (
	report_lofter_search = "lofter_adapter.search"
	report_lofter_crawl  = "lofter_adapter.crawl"
)

type LofterOptions struct {
	Credentials keychain.Store
	Cache       *searchcache.Cache
	Telemetry   telemetry.API

	// DynamicCrawl searches through a scrolled browser session instead of
	// the DWR endpoint alone. The browser path sees everything the tag
	// page renders; the DWR path is cheaper but shallower.
	DynamicCrawl bool
	// Crawl is the orchestrator baseline; TargetTotal is set per request.
	Crawl crawl.Options

	// NewPage is swapped out in tests.
	NewPage func(ctx context.Context, opts crawl.BrowserOptions) (crawl.Page, error)
}

// LofterAdapter serves tag searches from the crawl cache, filling it
// through either a browser crawl or direct DWR calls. The whole source is
// disabled until the keychain holds a login cookie.
type LofterAdapter struct {
	creds   keychain.Store
	cache   *searchcache.Cache
	tel     telemetry.API
	dynamic bool
	crawlO  crawl.Options
	newPage func(ctx context.Context, opts crawl.BrowserOptions) (crawl.Page, error)

	mu     sync.Mutex
	client *lofter.Client
	cookie string
}

var _ Adapter = (*LofterAdapter)(nil)

func NewLofterAdapter(opts LofterOptions) *LofterAdapter {
	assert.NotNil(opts.Credentials)
	assert.NotNil(opts.Cache)
	assert.NotNil(opts.Telemetry)
	if opts.NewPage == nil {
		opts.NewPage = func(ctx context.Context, o crawl.BrowserOptions) (crawl.Page, error) {
			return crawl.NewBrowserPage(ctx, o)
		}
	}
	return &LofterAdapter{
		creds:   opts.Credentials,
		cache:   opts.Cache,
		tel:     opts.Telemetry,
		dynamic: opts.DynamicCrawl,
		crawlO:  opts.Crawl,
		newPage: opts.NewPage,
	}
}

func (a *LofterAdapter) Source() novel.Source {
	return novel.SourceLofter
}

func (a *LofterAdapter) cookieValue(ctx context.Context) (string, error) {
	cred, err := a.creds.Get(ctx, novel.SourceLofter)
	if err != nil {
		return "", fmt.Errorf("read keychain: %w", err)
	}
	if cred.Cookie == "" {
		return "", ErrNoCredential
	}
	return cred.Cookie, nil
}

func (a *LofterAdapter) clientFor(cookie string) *lofter.Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil || a.cookie != cookie {
		a.client = lofter.NewClient(cookie, a.tel)
		a.cookie = cookie
	}
	return a.client
}

func (a *LofterAdapter) Search(ctx context.Context, req SearchRequest) []novel.Novel {
	req = req.withDefaults()
	cookie, err := a.cookieValue(ctx)
	if err != nil {
		a.tel.ReportDebug("lofter search skipped", "reason", err)
		return nil
	}

	tag := primaryTag(req, novel.SourceLofter)
	mode := lofter.Ranking(req.SortBy)
	key := searchcache.Key(tag, string(mode), req.ExcludeTags)
	offset := req.Offset()
	need := offset + req.PageSize

	if entry, ok := a.cache.Get(key); ok {
		if len(entry.Items) >= need || entry.Exhausted {
			return pageSlice(entry.Items, offset, req.PageSize)
		}
	}

	var entry searchcache.Entry
	if a.dynamic {
		entry = a.crawlSearch(ctx, cookie, tag, mode, key, need, req.ExcludeTags)
	} else {
		items, err := a.clientFor(cookie).Search(ctx, tag, mode, need, 0, req.ExcludeTags)
		if err != nil {
			a.tel.ReportWarning(report_lofter_search, err, tag)
			return nil
		}
		// the DWR endpoint stops paginating at some depth; a short page
		// means asking deeper is pointless until the entry expires
		entry = a.cache.Put(key, items, len(items) < need)
	}
	return pageSlice(entry.Items, offset, req.PageSize)
}

// crawlSearch runs one browser session against the tag page, collecting
// items from both the rendered DOM and the intercepted TagBean RPC
// bodies, and folds the haul into the cache entry for key.
func (a *LofterAdapter) crawlSearch(ctx context.Context, cookie, tag string, mode lofter.RankingMode, key string, target int, excludeTags []string) searchcache.Entry {
	page, err := a.newPage(ctx, crawl.BrowserOptions{
		URL:                lofter.TagPageURL(tag, mode),
		WaitSelector:       "div.m-mlist",
		InterceptSubstring: "TagBean.search.dwr",
		Cookies:            crawl.ParseCookieHeader(cookie, ".lofter.com"),
		Telemetry:          a.tel,
	})
	if err != nil {
		a.tel.ReportBroken(report_lofter_crawl, err, tag)
		return searchcache.Entry{}
	}
	defer page.Close()

	collector := newLofterCollector(excludeTags)
	opts := a.crawlO
	opts.TargetTotal = target
	opts.Telemetry = a.tel

	result, err := crawl.Run(ctx, page, collector, opts)
	if err != nil {
		a.tel.ReportWarning(report_lofter_crawl, err, tag)
		// partial haul is still worth caching
	}
	return a.cache.Extend(key, collector.Items(), !result.Converged)
}

// GetDetail is a structural no-op: the tag feed already carries every
// field the platform exposes, so there is no richer record to fetch
// short of the content itself.
func (a *LofterAdapter) GetDetail(ctx context.Context, id string) (*novel.Novel, error) {
	return nil, nil
}

func (a *LofterAdapter) GetChapters(ctx context.Context, id string) ([]novel.Chapter, error) {
	return []novel.Chapter{{Number: 1, Title: "正文"}}, nil
}

func (a *LofterAdapter) GetChapterContent(ctx context.Context, id string, number int) (string, error) {
	cookie, err := a.cookieValue(ctx)
	if err != nil {
		return "", err
	}
	return a.clientFor(cookie).Content(ctx, id)
}

// lofterCollector accumulates parsed items from DOM snapshots and DWR
// payloads, deduplicating across both feeds.
type lofterCollector struct {
	mu          sync.Mutex
	excludeTags []string
	items       []novel.Novel
	index       map[string]int
}

var _ crawl.Collector = (*lofterCollector)(nil)

func newLofterCollector(excludeTags []string) *lofterCollector {
	return &lofterCollector{
		excludeTags: excludeTags,
		index:       map[string]int{},
	}
}

func (c *lofterCollector) CollectHTML(html string) {
	parsed, err := lofter.ParseTagPage(html, c.excludeTags, 0)
	if err != nil {
		return
	}
	c.merge(parsed)
}

func (c *lofterCollector) CollectResponse(body string) {
	c.merge(lofter.ParseDWR(body, c.excludeTags))
}

func (c *lofterCollector) merge(incoming []novel.Novel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = novel.MergeList(c.items, incoming, c.index)
}

func (c *lofterCollector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *lofterCollector) Items() []novel.Novel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items
}
