// client.go speaks to the archive over plain HTTP with a cloudflare-aware
// transport. When the static path gets challenged anyway, the adapter layer
// falls back to a browser fetch of the same urls.

package ao3

import (
	"context"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"soyosaki-backend/internal/components/assert"
	"soyosaki-backend/internal/components/telemetry"
	"soyosaki-backend/internal/novel"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	browser "github.com/EDDYCJY/fake-useragent"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const BaseURL = "https://archiveofourown.org"

const (
	report_client_search   = "client.search"
	report_client_work     = "client.work"
	report_client_chapters = "client.chapters"
)

// SortColumn maps the caller's ordering onto the archive's search columns.
func SortColumn(sortBy novel.SortBy) string {
	switch sortBy {
	case novel.SortByKudos:
		return "kudos_count"
	case novel.SortByHits:
		return "hits"
	case novel.SortByWordCount:
		return "word_count"
	}
	return "revised_at"
}

// SearchURL builds a work search url. Tags containing a slash are pairing
// tags and go through the relationship filter; everything else lands in the
// free-text query joined with OR.
func SearchURL(tags []string, sortColumn string, page int) string {
	var relationships, anyField []string
	for _, tag := range tags {
		if strings.Contains(tag, "/") {
			relationships = append(relationships, tag)
		} else {
			anyField = append(anyField, fmt.Sprintf("%q", tag))
		}
	}

	params := url.Values{}
	params.Set("commit", "Search")
	params.Set("work_search[query]", strings.Join(anyField, " OR "))
	params.Set("work_search[relationship_names]", strings.Join(relationships, ","))
	params.Set("work_search[sort_column]", sortColumn)
	params.Set("work_search[sort_direction]", "desc")
	params.Set("page", strconv.Itoa(page))

	return BaseURL + "/works/search?" + params.Encode()
}

// WorkURL is the work landing page; view_adult skips the content notice
// interstitial.
func WorkURL(id string) string {
	return fmt.Sprintf("%s/works/%s?view_adult=true", BaseURL, id)
}

func ChapterURL(workID, chapterID string) string {
	return fmt.Sprintf("%s/works/%s/chapters/%s?view_adult=true", BaseURL, workID, chapterID)
}

type Client struct {
	Http *resty.Client

	tel telemetry.API
}

func NewClient(tel telemetry.API) (*Client, error) {
	assert.NotNil(tel)

	tel = telemetry.NewScopedAPI("ao3_scraper", tel)

	httpClient := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	httpClient.SetCookieJar(jar)
	httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)
	httpClient.SetHeader("user-agent", browser.Chrome())
	httpClient.SetTimeout(time.Second * 30)

	// the archive rate limits aggressively; stay well under it
	rateLimiter := rate.NewLimiter(1, 2)
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(httpClient, tel)

	return &Client{
		Http: httpClient,
		tel:  tel,
	}, nil
}

func (c *Client) fetch(ctx context.Context, reportID, endpoint string) (string, error) {
	res, err := c.Http.R().
		SetContext(ctx).
		Get(endpoint)
	if err != nil {
		c.tel.ReportBroken(reportID, fmt.Errorf("fetch: %w", err), endpoint)
		return "", err
	}
	if res.StatusCode() != 200 {
		err := fmt.Errorf("ao3: status %d", res.StatusCode())
		c.tel.ReportBroken(reportID, err, endpoint)
		return "", err
	}
	return string(res.Body()), nil
}

// Search fetches one search result page and parses the work blurbs.
func (c *Client) Search(ctx context.Context, tags []string, sortColumn string, page int, excludeTags []string) ([]novel.Novel, error) {
	html, err := c.fetch(ctx, report_client_search, SearchURL(tags, sortColumn, page))
	if err != nil {
		return nil, err
	}
	return ParseSearchPage(html, excludeTags)
}

// Work fetches a work page and parses its full metadata.
func (c *Client) Work(ctx context.Context, id string) (*novel.Novel, error) {
	html, err := c.fetch(ctx, report_client_work, WorkURL(id))
	if err != nil {
		return nil, err
	}
	n, err := ParseWorkPage(html, id)
	if err != nil {
		c.tel.ReportBroken(report_client_work, err, id)
		return nil, err
	}
	return n, nil
}

// Chapters lists the chapters of a work from the chapter navigation select.
// Single-chapter works have no select and yield one entry.
func (c *Client) Chapters(ctx context.Context, id string) ([]novel.Chapter, error) {
	html, err := c.fetch(ctx, report_client_chapters, WorkURL(id))
	if err != nil {
		return nil, err
	}
	return ParseChapterList(html), nil
}

// ChapterContent fetches the body of one chapter, by 1-based number.
func (c *Client) ChapterContent(ctx context.Context, id string, number int) (string, error) {
	html, err := c.fetch(ctx, report_client_chapters, WorkURL(id))
	if err != nil {
		return "", err
	}

	refs := ParseChapterRefs(html)
	if len(refs) == 0 {
		// single-chapter work: the landing page is the content
		if number != 1 {
			return "", fmt.Errorf("work %s has a single chapter, requested %d", id, number)
		}
		content := ExtractWorkskin(html)
		if content == "" {
			return "", fmt.Errorf("work %s: no content found", id)
		}
		return content, nil
	}

	if number < 1 || number > len(refs) {
		return "", fmt.Errorf("work %s has %d chapters, requested %d", id, len(refs), number)
	}
	chapterHTML, err := c.fetch(ctx, report_client_chapters, ChapterURL(id, refs[number-1]))
	if err != nil {
		return "", err
	}
	content := ExtractWorkskin(chapterHTML)
	if content == "" {
		return "", fmt.Errorf("work %s chapter %d: no content found", id, number)
	}
	return content, nil
}
