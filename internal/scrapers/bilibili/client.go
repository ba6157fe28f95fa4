// client.go talks to the unofficial article APIs directly; pairing-specific
// behavior (default tags, exclusion filtering) lives in the adapter layer.

package bilibili

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"soyosaki-backend/internal/components/assert"
	"soyosaki-backend/internal/components/telemetry"
	"soyosaki-backend/internal/novel"
	"soyosaki-backend/internal/retry"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	searchPath  = "/x/web-interface/search/type"
	articlePath = "/x/article/view"
)

const (
	report_client_search  = "client.search"
	report_client_article = "client.article"
)

// generateBuvid3 fabricates the device-id cookie the api gates on. Format
// is an uppercase uuid with an "infoc" suffix.
func generateBuvid3() string {
	return strings.ToUpper(uuid.NewString()) + "infoc"
}

// apiError is a non-zero code in an otherwise well-formed api envelope.
type apiError struct {
	Code    int
	Message string
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("bilibili api: code %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("bilibili api: code %d", e.Code)
}

// retryable codes mean the device id was rejected, not the request itself;
// a fresh buvid3 usually clears them.
func (e *apiError) retryable() bool {
	switch e.Code {
	case -352, -401, -412:
		return true
	}
	return false
}

type Client struct {
	Http *resty.Client

	buvid3   string
	sessdata string

	tel telemetry.API
}

func NewClient(sessdata string, tel telemetry.API) *Client {
	assert.NotNil(tel)

	tel = telemetry.NewScopedAPI("bilibili_scraper", tel)

	httpClient := resty.New()
	httpClient.SetBaseURL("https://api.bilibili.com")
	httpClient.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	httpClient.SetHeader("referer", "https://search.bilibili.com/")
	httpClient.SetHeader("origin", "https://search.bilibili.com")
	httpClient.SetTimeout(time.Second * 15)

	rateLimiter := rate.NewLimiter(2, 2)
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(httpClient, tel)

	return &Client{
		Http:     httpClient,
		buvid3:   generateBuvid3(),
		sessdata: sessdata,
		tel:      tel,
	}
}

func (c *Client) cookieHeader() string {
	cookies := []string{"buvid3=" + c.buvid3}
	if c.sessdata != "" {
		cookies = append(cookies, "SESSDATA="+c.sessdata)
	}
	return strings.Join(cookies, "; ")
}

type apiEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// getJSON performs a request and unwraps the standard envelope. A non-zero
// code comes back as *apiError so callers can tell rejection from
// unreachability.
func (c *Client) getJSON(ctx context.Context, path string, params map[string]string, out any) error {
	res, err := c.Http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetHeader("cookie", c.cookieHeader()).
		Get(path)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	var envelope apiEnvelope
	err = json.Unmarshal(res.Body(), &envelope)
	if err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.Code != 0 {
		return &apiError{Code: envelope.Code, Message: envelope.Message}
	}
	if out != nil && len(envelope.Data) > 0 {
		err = json.Unmarshal(envelope.Data, out)
		if err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}

// SortOrder maps the caller's ordering onto the search api's order values.
func SortOrder(sortBy novel.SortBy) string {
	switch sortBy {
	case novel.SortByKudos:
		return "totalrank"
	case novel.SortByHits:
		return "click"
	}
	return "pubdate"
}

// Search queries the article search api for one keyword. An upstream
// rejection is reported and surfaces as an empty page rather than an error
// so one hostile source never sinks the whole aggregation.
func (c *Client) Search(ctx context.Context, keyword string, page, pageSize int, order string) ([]novel.Novel, error) {
	var data struct {
		Result []searchItem `json:"result"`
	}
	err := c.getJSON(ctx, searchPath, map[string]string{
		"search_type": "article",
		"keyword":     keyword,
		"page":        strconv.Itoa(page),
		"page_size":   strconv.Itoa(pageSize),
		"order":       order,
	}, &data)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) {
			c.tel.ReportWarning(report_client_search, apiErr, keyword)
			return nil, nil
		}
		c.tel.ReportBroken(report_client_search, err, keyword)
		return nil, err
	}

	var novels []novel.Novel
	for _, item := range data.Result {
		parsed, ok := parseSearchItem(item)
		if !ok {
			c.tel.ReportWarning(report_client_search, "unparseable search item")
			continue
		}
		novels = append(novels, parsed)
	}
	return novels, nil
}

// fetchArticle retries the rejection codes with a regenerated device id and
// exponential backoff; other codes surface the upstream message untouched.
func (c *Client) fetchArticle(ctx context.Context, id string) (articleData, error) {
	return retry.Do(ctx, retry.Options{
		Retries: 5,
		Retryable: func(err error) bool {
			var apiErr *apiError
			if errors.As(err, &apiErr) {
				return apiErr.retryable()
			}
			// transport-level failures are always worth another attempt
			return true
		},
		OnRetry: func(err error, attempt int) {
			c.buvid3 = generateBuvid3()
			c.tel.ReportWarning(report_client_article, fmt.Errorf("regenerated identity after attempt %d: %w", attempt, err), id)
		},
	}, func() (articleData, error) {
		var data articleData
		err := c.getJSON(ctx, articlePath, map[string]string{"id": id}, &data)
		return data, err
	})
}

// Article fetches the full article record used by both Detail and Content.
func (c *Client) Article(ctx context.Context, id string) (*novel.Novel, error) {
	data, err := c.fetchArticle(ctx, id)
	if err != nil {
		c.tel.ReportBroken(report_client_article, err, id)
		return nil, err
	}
	n := parseArticleDetail(data, id)
	return &n, nil
}

// Content fetches and renders the article body as html.
func (c *Client) Content(ctx context.Context, id string) (string, error) {
	data, err := c.fetchArticle(ctx, id)
	if err != nil {
		c.tel.ReportBroken(report_client_article, err, id)
		return "", err
	}
	return renderContent(data), nil
}
