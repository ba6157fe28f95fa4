// Package adapters unifies the per-source clients behind one capability
// contract and fans search requests out across sources. Search absorbs
// upstream failure into an empty result; detail and content operations
// surface errors, with ErrNoCredential marking a source that is disabled
// because its keychain entry is empty.
package adapters

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"soyosaki-backend/internal/components/assert"
	"soyosaki-backend/internal/components/telemetry"
	"soyosaki-backend/internal/novel"
)

// ErrNoCredential signals that the operation needs a credential the
// keychain does not hold. Callers distinguish it from upstream failure so
// the surface can say "configure this source" instead of "try again".
var ErrNoCredential = errors.New("no credential configured for source")

// MaxPageSize caps how many items one search request may ask for.
const MaxPageSize = 50

// SearchRequest is one page of an aggregated search. Page is 1-based.
// Empty Tags means the adapter falls back to its default pairing tags.
type SearchRequest struct {
	Tags        []string
	ExcludeTags []string
	Page        int
	PageSize    int
	SortBy      novel.SortBy
}

func (r SearchRequest) withDefaults() SearchRequest {
	if r.Page < 1 {
		r.Page = 1
	}
	if r.PageSize <= 0 {
		r.PageSize = 20
	}
	if r.PageSize > MaxPageSize {
		r.PageSize = MaxPageSize
	}
	if r.SortBy == "" {
		r.SortBy = novel.SortByDate
	}
	return r
}

// Offset is how many items precede this page.
func (r SearchRequest) Offset() int {
	return (r.Page - 1) * r.PageSize
}

// Adapter is the capability contract every source implements. Search
// never returns an error: upstream trouble is reported through telemetry
// and degrades to an empty slice so one broken source cannot take the
// aggregate down.
type Adapter interface {
	Source() novel.Source
	Search(ctx context.Context, req SearchRequest) []novel.Novel
	GetDetail(ctx context.Context, id string) (*novel.Novel, error)
	GetChapters(ctx context.Context, id string) ([]novel.Chapter, error)
	GetChapterContent(ctx context.Context, id string, number int) (string, error)
}

// defaultTags are the pairing tags searched when the caller supplies
// none. AO3 tags are relationship canonicals; the CJK sources use the
// fandom shorthand their communities tag with.
var defaultTags = map[novel.Source][]string{
	novel.SourceAO3:      {"Nagasaki Soyo/Toyokawa Sakiko"},
	novel.SourcePixiv:    {"素祥"},
	novel.SourceLofter:   {"素祥", "祥素", "そよさき"},
	novel.SourceBilibili: {"素祥", "祥素", "长崎素世", "丰川祥子"},
}

// searchTags resolves the effective tag list for a source, deduplicated
// with first-seen order preserved.
func searchTags(req SearchRequest, source novel.Source) []string {
	tags := req.Tags
	if len(tags) == 0 {
		tags = defaultTags[source]
	}
	var out []string
	seen := map[string]bool{}
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

// primaryTag is for sources whose search endpoint takes a single term.
func primaryTag(req SearchRequest, source novel.Source) string {
	tags := searchTags(req, source)
	if len(tags) == 0 {
		return ""
	}
	return tags[0]
}

// pageSlice cuts one page out of an accumulated result list.
func pageSlice(items []novel.Novel, offset, size int) []novel.Novel {
	if offset >= len(items) {
		return nil
	}
	end := offset + size
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

// sortItems orders a result list in place. Date sorting compares the
// ISO-8601 strings directly, which is why every parser normalizes
// timestamps to that format.
func sortItems(items []novel.Novel, by novel.SortBy) {
	slices.SortStableFunc(items, func(a, b novel.Novel) int {
		switch by {
		case novel.SortByKudos:
			return b.Kudos - a.Kudos
		case novel.SortByHits:
			return b.Hits - a.Hits
		case novel.SortByWordCount:
			return b.WordCount - a.WordCount
		default:
			return strings.Compare(b.PublishedAt, a.PublishedAt)
		}
	})
}

const (
	report_registry_search = "registry.search"
)

// Registry holds the registered adapters and runs fan-out searches over
// a bounded worker pool.
type Registry struct {
	adapters map[novel.Source]Adapter
	order    []novel.Source
	workers  int
	tel      telemetry.API
}

func NewRegistry(workers int, tel telemetry.API) *Registry {
	assert.NotNil(tel)
	if workers <= 0 {
		workers = 4
	}
	return &Registry{
		adapters: map[novel.Source]Adapter{},
		workers:  workers,
		tel:      tel,
	}
}

func (r *Registry) Register(adapter Adapter) {
	source := adapter.Source()
	if _, ok := r.adapters[source]; !ok {
		r.order = append(r.order, source)
	}
	r.adapters[source] = adapter
}

func (r *Registry) Get(source novel.Source) (Adapter, bool) {
	adapter, ok := r.adapters[source]
	return adapter, ok
}

// Sources lists the registered sources in registration order.
func (r *Registry) Sources() []novel.Source {
	return slices.Clone(r.order)
}

// SearchAll fans the request out to the named sources (all registered
// sources when nil), merges the per-source pages and re-sorts the
// aggregate. At most `workers` adapter searches run concurrently.
func (r *Registry) SearchAll(ctx context.Context, req SearchRequest, sources []novel.Source) []novel.Novel {
	req = req.withDefaults()
	if len(sources) == 0 {
		sources = r.order
	}

	type slot struct {
		source novel.Source
		items  []novel.Novel
	}

	sem := make(chan struct{}, r.workers)
	results := make([]slot, len(sources))
	var wg sync.WaitGroup
	for i, source := range sources {
		adapter, ok := r.adapters[source]
		if !ok {
			r.tel.ReportWarning(report_registry_search, "unregistered source", string(source))
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, adapter Adapter) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = slot{
				source: adapter.Source(),
				items:  adapter.Search(ctx, req),
			}
		}(i, adapter)
	}
	wg.Wait()

	var merged []novel.Novel
	index := map[string]int{}
	for _, res := range results {
		merged = novel.MergeList(merged, res.items, index)
	}
	sortItems(merged, req.SortBy)
	return merged
}
