package adapters

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"soyosaki-backend/internal/components/assert"
	"soyosaki-backend/internal/components/telemetry"
	"soyosaki-backend/internal/keychain"
	"soyosaki-backend/internal/novel"
	"soyosaki-backend/internal/scrapers/bilibili"
	"soyosaki-backend/internal/textutil"
)

const (
	report_bilibili_search = "bilibili_adapter.search"
	report_bilibili_enrich = "bilibili_adapter.enrich"
)

// enrichConcurrency bounds how many detail fetches run at once during
// search enrichment.
const enrichConcurrency = 3

type BilibiliOptions struct {
	// Credentials is optional for this source: SESSDATA widens the result
	// set but anonymous search works.
	Credentials keychain.Store
	Telemetry   telemetry.API
}

// BilibiliAdapter searches the column-article API. Search hits list only
// carry a category, so when exclude tags are in play each hit's real tag
// list is fetched through a rate-limited enrichment pass before
// filtering.
type BilibiliAdapter struct {
	creds   keychain.Store
	tel     telemetry.API
	limiter *rate.Limiter

	mu       sync.Mutex
	client   *bilibili.Client
	sessdata string
}

var _ Adapter = (*BilibiliAdapter)(nil)

func NewBilibiliAdapter(opts BilibiliOptions) *BilibiliAdapter {
	assert.NotNil(opts.Credentials)
	assert.NotNil(opts.Telemetry)
	return &BilibiliAdapter{
		creds:   opts.Credentials,
		tel:     opts.Telemetry,
		limiter: rate.NewLimiter(rate.Limit(3), 1),
	}
}

func (a *BilibiliAdapter) Source() novel.Source {
	return novel.SourceBilibili
}

// clientFor reuses the client until the stored SESSDATA changes, so the
// process-lifetime buvid3 identity survives across calls.
func (a *BilibiliAdapter) clientFor(ctx context.Context) *bilibili.Client {
	sessdata := ""
	if cred, err := a.creds.Get(ctx, novel.SourceBilibili); err == nil {
		sessdata = cred.Sessdata
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil || a.sessdata != sessdata {
		a.client = bilibili.NewClient(sessdata, a.tel)
		a.sessdata = sessdata
	}
	return a.client
}

func (a *BilibiliAdapter) Search(ctx context.Context, req SearchRequest) []novel.Novel {
	req = req.withDefaults()
	client := a.clientFor(ctx)

	keyword := primaryTag(req, novel.SourceBilibili)
	items, err := client.Search(ctx, keyword, req.Page, req.PageSize, bilibili.SortOrder(req.SortBy))
	if err != nil {
		a.tel.ReportWarning(report_bilibili_search, err, keyword)
		return nil
	}

	var kept []novel.Novel
	for _, item := range items {
		if textutil.Exclude(item.Title, req.ExcludeTags) ||
			textutil.Exclude(item.Summary, req.ExcludeTags) {
			continue
		}
		kept = append(kept, item)
	}
	if len(req.ExcludeTags) == 0 {
		return kept
	}
	return a.enrich(ctx, client, kept, req.ExcludeTags)
}

// enrich fetches each hit's article detail to recover the real tag list,
// then re-applies the exclude filter. Dispatch is paced by the limiter
// with at most enrichConcurrency fetches in flight; a failed fetch keeps
// the unenriched item rather than dropping it.
func (a *BilibiliAdapter) enrich(ctx context.Context, client *bilibili.Client, items []novel.Novel, excludeTags []string) []novel.Novel {
	results := make([]*novel.Novel, len(items))
	sem := make(chan struct{}, enrichConcurrency)
	var wg sync.WaitGroup

	for i := range items {
		if err := a.limiter.Wait(ctx); err != nil {
			// context gone; keep the rest unenriched
			for j := i; j < len(items); j++ {
				results[j] = &items[j]
			}
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			detail, err := client.Article(ctx, items[i].ID)
			if err != nil {
				a.tel.ReportDebug("bilibili enrich failed", "id", items[i].ID, "err", err)
				results[i] = &items[i]
				return
			}
			if textutil.ExcludeAnyTag(detail.Tags, excludeTags) {
				return
			}
			merged := items[i]
			novel.MergeFields(&merged, *detail)
			merged.Tags = detail.Tags
			results[i] = &merged
		}(i)
	}
	wg.Wait()

	var kept []novel.Novel
	for _, item := range results {
		if item != nil {
			kept = append(kept, *item)
		}
	}
	return kept
}

func (a *BilibiliAdapter) GetDetail(ctx context.Context, id string) (*novel.Novel, error) {
	return a.clientFor(ctx).Article(ctx, id)
}

func (a *BilibiliAdapter) GetChapters(ctx context.Context, id string) ([]novel.Chapter, error) {
	return []novel.Chapter{{Number: 1, Title: "正文"}}, nil
}

func (a *BilibiliAdapter) GetChapterContent(ctx context.Context, id string, number int) (string, error) {
	return a.clientFor(ctx).Content(ctx, id)
}
