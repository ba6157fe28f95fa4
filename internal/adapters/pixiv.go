package adapters

import (
	"context"
	"fmt"

	"soyosaki-backend/internal/components/assert"
	"soyosaki-backend/internal/components/telemetry"
	"soyosaki-backend/internal/keychain"
	"soyosaki-backend/internal/novel"
	"soyosaki-backend/internal/scrapers/pixiv"
	"soyosaki-backend/internal/textutil"
)

const (
	report_pixiv_search  = "pixiv_adapter.search"
	report_pixiv_session = "pixiv_adapter.session"
)

// pixivPageStride is the upstream search page size: tag searches advance
// their offset by one upstream page per requested page.
const pixivPageStride = 30

type PixivOptions struct {
	Credentials keychain.Store
	Telemetry   telemetry.API
}

// PixivAdapter searches the app API. It is disabled until the keychain
// holds a refresh token; the client keeps the authenticated session
// alive across calls.
type PixivAdapter struct {
	creds  keychain.Store
	client *pixiv.Client
	tel    telemetry.API
}

var _ Adapter = (*PixivAdapter)(nil)

func NewPixivAdapter(opts PixivOptions) *PixivAdapter {
	assert.NotNil(opts.Credentials)
	assert.NotNil(opts.Telemetry)
	return &PixivAdapter{
		creds:  opts.Credentials,
		client: pixiv.NewClient(opts.Telemetry),
		tel:    opts.Telemetry,
	}
}

func (a *PixivAdapter) Source() novel.Source {
	return novel.SourcePixiv
}

// ensure resolves the refresh token and brings the session up.
func (a *PixivAdapter) ensure(ctx context.Context) error {
	cred, err := a.creds.Get(ctx, novel.SourcePixiv)
	if err != nil {
		return fmt.Errorf("read keychain: %w", err)
	}
	if cred.RefreshToken == "" {
		return ErrNoCredential
	}
	return a.client.Ensure(ctx, cred.RefreshToken)
}

func (a *PixivAdapter) Search(ctx context.Context, req SearchRequest) []novel.Novel {
	req = req.withDefaults()
	if err := a.ensure(ctx); err != nil {
		a.tel.ReportDebug("pixiv search skipped", "reason", err)
		return nil
	}

	sort := pixiv.SearchSort(req.SortBy)
	offset := (req.Page - 1) * pixivPageStride

	// One upstream search per tag, merged with first-seen dedup.
	var merged []novel.Novel
	index := map[string]int{}
	for _, tag := range searchTags(req, novel.SourcePixiv) {
		items, err := a.client.SearchNovels(ctx, tag, sort, offset)
		if err != nil {
			a.tel.ReportWarning(report_pixiv_search, err, tag)
			continue
		}
		merged = novel.MergeList(merged, items, index)
	}

	var kept []novel.Novel
	for _, item := range merged {
		if textutil.Exclude(item.Title, req.ExcludeTags) ||
			textutil.ExcludeAnyTag(item.Tags, req.ExcludeTags) {
			continue
		}
		kept = append(kept, item)
	}
	sortItems(kept, req.SortBy)
	if len(kept) > req.PageSize {
		kept = kept[:req.PageSize]
	}
	return kept
}

func (a *PixivAdapter) GetDetail(ctx context.Context, id string) (*novel.Novel, error) {
	if err := a.ensure(ctx); err != nil {
		return nil, err
	}
	return a.client.NovelDetail(ctx, id)
}

func (a *PixivAdapter) GetChapters(ctx context.Context, id string) ([]novel.Chapter, error) {
	if err := a.ensure(ctx); err != nil {
		return nil, err
	}
	return []novel.Chapter{{Number: 1, Title: "正文"}}, nil
}

func (a *PixivAdapter) GetChapterContent(ctx context.Context, id string, number int) (string, error) {
	if err := a.ensure(ctx); err != nil {
		return "", err
	}
	if number != 1 {
		return "", fmt.Errorf("pixiv novels are single-chapter, got chapter %d", number)
	}
	return a.client.NovelText(ctx, id)
}
