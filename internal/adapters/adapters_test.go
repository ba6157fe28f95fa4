package adapters

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"soyosaki-backend/internal/components/chrono"
	"soyosaki-backend/internal/components/telemetry"
	"soyosaki-backend/internal/crawl"
	"soyosaki-backend/internal/keychain"
	"soyosaki-backend/internal/novel"
	"soyosaki-backend/internal/scrapers/bilibili"
	"soyosaki-backend/internal/scrapers/lofter"
	"soyosaki-backend/internal/searchcache"
)

func newTestCache(t *testing.T) *searchcache.Cache {
	t.Helper()
	cache, err := searchcache.Open(searchcache.Options{
		TTL:       time.Minute,
		Time:      chrono.StandardImpl{},
		Telemetry: telemetry.SlogAPI{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func TestSearchRequestDefaults(t *testing.T) {
	req := SearchRequest{}.withDefaults()
	require.Equal(t, 1, req.Page)
	require.Equal(t, 20, req.PageSize)
	require.Equal(t, novel.SortByDate, req.SortBy)
	require.Equal(t, 0, req.Offset())

	req = SearchRequest{Page: 3, PageSize: 500}.withDefaults()
	require.Equal(t, MaxPageSize, req.PageSize)
	require.Equal(t, 2*MaxPageSize, req.Offset())
}

func TestSearchTags(t *testing.T) {
	// defaults kick in when the caller supplies nothing
	tags := searchTags(SearchRequest{}, novel.SourceLofter)
	require.Equal(t, []string{"素祥", "祥素", "そよさき"}, tags)
	require.Equal(t, "素祥", primaryTag(SearchRequest{}, novel.SourceLofter))

	// caller tags are trimmed and deduped, order preserved
	tags = searchTags(SearchRequest{Tags: []string{" b ", "a", "b", ""}}, novel.SourceAO3)
	require.Equal(t, []string{"b", "a"}, tags)
}

func TestPageSlice(t *testing.T) {
	items := []novel.Novel{{ID: "1"}, {ID: "2"}, {ID: "3"}}
	require.Len(t, pageSlice(items, 0, 2), 2)
	require.Equal(t, "3", pageSlice(items, 2, 2)[0].ID)
	require.Nil(t, pageSlice(items, 3, 2))
}

func TestSortItems(t *testing.T) {
	items := []novel.Novel{
		{ID: "old", PublishedAt: "2023-01-01T00:00:00Z", Kudos: 90},
		{ID: "new", PublishedAt: "2024-06-01T00:00:00Z", Kudos: 10},
	}
	sortItems(items, novel.SortByDate)
	require.Equal(t, "new", items[0].ID)
	sortItems(items, novel.SortByKudos)
	require.Equal(t, "old", items[0].ID)
}

type stubAdapter struct {
	source novel.Source
	items  []novel.Novel
	calls  atomic.Int32
}

func (s *stubAdapter) Source() novel.Source { return s.source }

func (s *stubAdapter) Search(context.Context, SearchRequest) []novel.Novel {
	s.calls.Add(1)
	return s.items
}

func (s *stubAdapter) GetDetail(context.Context, string) (*novel.Novel, error) {
	return nil, nil
}

func (s *stubAdapter) GetChapters(context.Context, string) ([]novel.Chapter, error) {
	return nil, nil
}

func (s *stubAdapter) GetChapterContent(context.Context, string, int) (string, error) {
	return "", nil
}

func TestRegistrySearchAllMergesAndSorts(t *testing.T) {
	older := &stubAdapter{source: novel.SourceAO3, items: []novel.Novel{
		{ID: "a", Source: novel.SourceAO3, PublishedAt: "2023-05-01T00:00:00Z"},
	}}
	newer := &stubAdapter{source: novel.SourcePixiv, items: []novel.Novel{
		{ID: "p", Source: novel.SourcePixiv, PublishedAt: "2024-05-01T00:00:00Z"},
	}}

	registry := NewRegistry(2, telemetry.SlogAPI{})
	registry.Register(older)
	registry.Register(newer)
	require.Equal(t, []novel.Source{novel.SourceAO3, novel.SourcePixiv}, registry.Sources())

	items := registry.SearchAll(context.Background(), SearchRequest{}, nil)
	require.Len(t, items, 2)
	require.Equal(t, "p", items[0].ID)
	require.Equal(t, "a", items[1].ID)
}

func TestRegistrySearchAllSelectsSources(t *testing.T) {
	wanted := &stubAdapter{source: novel.SourceAO3, items: []novel.Novel{{ID: "a", Source: novel.SourceAO3}}}
	ignored := &stubAdapter{source: novel.SourcePixiv}

	registry := NewRegistry(2, telemetry.SlogAPI{})
	registry.Register(wanted)
	registry.Register(ignored)

	// an unregistered source is skipped, not fatal
	items := registry.SearchAll(context.Background(), SearchRequest{},
		[]novel.Source{novel.SourceAO3, novel.SourceBilibili})
	require.Len(t, items, 1)
	require.Equal(t, int32(1), wanted.calls.Load())
	require.Equal(t, int32(0), ignored.calls.Load())
}

// dwrPost renders one flattened DWR assignment block.
func dwrPost(slot int, blog, postID, title string, publishMillis int64) string {
	return fmt.Sprintf(
		`s%d.blogName="%s";s%d.postId="%s";s%d.title="%s";s%d.publishTime=%d;s%d.hot=5;`,
		slot, blog, slot, postID, slot, title, slot, publishMillis, slot)
}

type fakePage struct {
	html   string
	closed bool

	mu        sync.Mutex
	responses [][]string
}

func (p *fakePage) Navigate(context.Context) error  { return nil }
func (p *fakePage) WaitReady(context.Context) error { return nil }
func (p *fakePage) Scroll(context.Context) error    { return nil }
func (p *fakePage) Close() error                    { p.closed = true; return nil }

func (p *fakePage) HTML(context.Context) (string, error) {
	return p.html, nil
}

func (p *fakePage) DrainResponses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.responses) == 0 {
		return nil
	}
	batch := p.responses[0]
	p.responses = p.responses[1:]
	return batch
}

func fastCrawlOptions() crawl.Options {
	return crawl.Options{
		InitialWait:  time.Millisecond,
		ScrollWait:   time.Millisecond,
		StableRounds: 2,
	}
}

func TestLofterSearchDisabledWithoutCookie(t *testing.T) {
	pageCalls := 0
	adapter := NewLofterAdapter(LofterOptions{
		Credentials:  keychain.StaticStore{},
		Cache:        newTestCache(t),
		Telemetry:    telemetry.SlogAPI{},
		DynamicCrawl: true,
		NewPage: func(context.Context, crawl.BrowserOptions) (crawl.Page, error) {
			pageCalls++
			return nil, fmt.Errorf("must not be reached")
		},
	})

	items := adapter.Search(context.Background(), SearchRequest{})
	require.Nil(t, items)
	require.Equal(t, 0, pageCalls)
}

func TestLofterDynamicSearchCachesCrawl(t *testing.T) {
	// reference edges keep the parse order deterministic
	payload := dwrPost(0, "blogA", "aa11", "First", 1700000000001) +
		dwrPost(1, "blogB", "bb22", "Second", 1700000000002) +
		dwrPost(2, "blogC", "cc33", "Third", 1700000000003) +
		`s10.post=s0;s11.post=s1;s12.post=s2;`
	pages := []*fakePage{
		{html: "<html></html>", responses: [][]string{{payload}}},
		{html: "<html></html>"},
	}

	pageCalls := 0
	adapter := NewLofterAdapter(LofterOptions{
		Credentials:  keychain.StaticStore{novel.SourceLofter: {Cookie: "LOFTER_SESS=abc"}},
		Cache:        newTestCache(t),
		Telemetry:    telemetry.SlogAPI{},
		DynamicCrawl: true,
		Crawl:        fastCrawlOptions(),
		NewPage: func(_ context.Context, opts crawl.BrowserOptions) (crawl.Page, error) {
			require.Contains(t, opts.URL, "lofter.com/tag/")
			require.Equal(t, "TagBean.search.dwr", opts.InterceptSubstring)
			require.NotEmpty(t, opts.Cookies)
			page := pages[pageCalls]
			pageCalls++
			return page, nil
		},
	})

	ctx := context.Background()
	req := SearchRequest{Tags: []string{"素祥"}, PageSize: 2}

	first := adapter.Search(ctx, req)
	require.Len(t, first, 2)
	require.Equal(t, "blogA:aa11", first[0].ID)
	require.Equal(t, 1, pageCalls)
	require.True(t, pages[0].closed)

	// same page served from cache, no second browser session
	again := adapter.Search(ctx, req)
	require.Len(t, again, 2)
	require.Equal(t, 1, pageCalls)

	// deeper page forces a new crawl; it stalls, marking the entry
	// exhausted, and the tail of the cached haul is returned
	deeper := adapter.Search(ctx, SearchRequest{Tags: []string{"素祥"}, Page: 2, PageSize: 2})
	require.Len(t, deeper, 1)
	require.Equal(t, "blogC:cc33", deeper[0].ID)
	require.Equal(t, 2, pageCalls)

	// exhausted entries stop deeper requests from crawling again
	deepest := adapter.Search(ctx, SearchRequest{Tags: []string{"素祥"}, Page: 3, PageSize: 2})
	require.Empty(t, deepest)
	require.Equal(t, 2, pageCalls)
}

func TestLofterStaticSearchUsesDWR(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.Equal(t, http.MethodPost, r.Method)
		require.Contains(t, r.URL.Path, "TagBean.search.dwr")
		_, _ = w.Write([]byte(dwrPost(0, "blogA", "aa11", "Only", 1700000000001) + `s10.post=s0;`))
	}))
	defer server.Close()

	const cookie = "LOFTER_SESS=abc"
	adapter := NewLofterAdapter(LofterOptions{
		Credentials: keychain.StaticStore{novel.SourceLofter: {Cookie: cookie}},
		Cache:       newTestCache(t),
		Telemetry:   telemetry.SlogAPI{},
	})
	adapter.client = lofter.NewClient(cookie, telemetry.SlogAPI{})
	adapter.client.Http.SetBaseURL(server.URL)
	adapter.cookie = cookie

	ctx := context.Background()
	items := adapter.Search(ctx, SearchRequest{Tags: []string{"素祥"}, PageSize: 20})
	require.Len(t, items, 1)
	require.Equal(t, "blogA:aa11", items[0].ID)
	require.Equal(t, int32(1), hits.Load())

	// a short page marks the entry exhausted; deeper requests stay local
	deeper := adapter.Search(ctx, SearchRequest{Tags: []string{"素祥"}, Page: 2, PageSize: 20})
	require.Empty(t, deeper)
	require.Equal(t, int32(1), hits.Load())
}

func TestLofterDetailIsStructuralNoOp(t *testing.T) {
	adapter := NewLofterAdapter(LofterOptions{
		Credentials: keychain.StaticStore{},
		Cache:       newTestCache(t),
		Telemetry:   telemetry.SlogAPI{},
	})
	detail, err := adapter.GetDetail(context.Background(), "blog:post")
	require.NoError(t, err)
	require.Nil(t, detail)
}

func TestLofterContentRequiresCookie(t *testing.T) {
	adapter := NewLofterAdapter(LofterOptions{
		Credentials: keychain.StaticStore{},
		Cache:       newTestCache(t),
		Telemetry:   telemetry.SlogAPI{},
	})
	_, err := adapter.GetChapterContent(context.Background(), "blog:post", 1)
	require.ErrorIs(t, err, ErrNoCredential)
}

func TestBilibiliEnrichmentFiltersByRealTags(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		switch {
		case strings.Contains(r.URL.Path, "/search/"):
			_, _ = w.Write([]byte(`{"code":0,"data":{"result":[
				{"id":101,"title":"daily one","uname":"writer","pub_time":1700000000},
				{"id":102,"title":"other one","uname":"writer","pub_time":1700000001},
				{"id":103,"title":"broken one","uname":"writer","pub_time":1700000002}
			]}}`))
		case r.URL.Query().Get("id") == "101":
			_, _ = w.Write([]byte(`{"code":0,"data":{"title":"daily one","author":{"name":"writer"},"tags":["日常"],"publish_time":1700000000}}`))
		case r.URL.Query().Get("id") == "102":
			_, _ = w.Write([]byte(`{"code":0,"data":{"title":"other one","author":{"name":"writer"},"tags":["Mujica"],"publish_time":1700000001}}`))
		default:
			_, _ = w.Write([]byte(`{"code":-404,"message":"啥都木有"}`))
		}
	}))
	defer server.Close()

	adapter := NewBilibiliAdapter(BilibiliOptions{
		Credentials: keychain.StaticStore{},
		Telemetry:   telemetry.SlogAPI{},
	})
	adapter.limiter = rate.NewLimiter(rate.Inf, 1)
	adapter.client = bilibili.NewClient("", telemetry.SlogAPI{})
	adapter.client.Http.SetBaseURL(server.URL)

	items := adapter.Search(context.Background(), SearchRequest{
		Tags:        []string{"素祥"},
		ExcludeTags: []string{"mujica"},
	})

	// 102 is dropped by its real tag list; 103's failed detail fetch
	// keeps the unenriched search hit
	require.Len(t, items, 2)
	require.Equal(t, "101", items[0].ID)
	require.Equal(t, []string{"日常"}, items[0].Tags)
	require.Equal(t, "103", items[1].ID)
}

func TestPixivDisabledWithoutToken(t *testing.T) {
	adapter := NewPixivAdapter(PixivOptions{
		Credentials: keychain.StaticStore{},
		Telemetry:   telemetry.SlogAPI{},
	})

	items := adapter.Search(context.Background(), SearchRequest{})
	require.Nil(t, items)

	_, err := adapter.GetDetail(context.Background(), "314")
	require.ErrorIs(t, err, ErrNoCredential)
	_, err = adapter.GetChapterContent(context.Background(), "314", 1)
	require.ErrorIs(t, err, ErrNoCredential)
}

const ao3FallbackFixture = `
<ol class="work index group">
  <li id="work_7" class="work blurb group">
    <h4 class="heading">
      <a href="/works/7">Seven Mornings</a>
      by <a rel="author" href="/users/writer">writer</a>
    </h4>
    <ul class="tags"><li><a class="tag">Fluff</a></li></ul>
    <blockquote class="summary"><p>coffee again</p></blockquote>
  </li>
</ol>`

func TestAO3BrowserFallbackParsesResults(t *testing.T) {
	var captured crawl.BrowserOptions
	adapter, err := NewAO3Adapter(AO3Options{
		BrowserFallback: true,
		Telemetry:       telemetry.SlogAPI{},
		FetchHTML: func(_ context.Context, opts crawl.BrowserOptions) (string, error) {
			captured = opts
			return ao3FallbackFixture, nil
		},
	})
	require.NoError(t, err)

	req := SearchRequest{Tags: []string{"Nagasaki Soyo/Toyokawa Sakiko"}}.withDefaults()
	items := adapter.searchViaBrowser(context.Background(), req.Tags, "revised_at", req)
	require.Len(t, items, 1)
	require.Equal(t, "7", items[0].ID)
	require.Equal(t, "Seven Mornings", items[0].Title)

	require.Contains(t, captured.URL, "work_search")
	require.Equal(t, "li.work", captured.WaitSelector)
}
