// client.go covers the two plain-HTTP surfaces: the DWR tag search endpoint
// and post pages. Scroll-driven deep pagination lives behind the crawl
// package and is orchestrated by the adapter layer.

package lofter

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"soyosaki-backend/internal/components/assert"
	"soyosaki-backend/internal/components/telemetry"
	"soyosaki-backend/internal/novel"

	"github.com/go-resty/resty/v2"
	"github.com/mazen160/go-random"
	"golang.org/x/time/rate"
)

const dwrPath = "/dwr/call/plaincall/TagBean.search.dwr"

const (
	report_client_search  = "client.search"
	report_client_content = "client.fetch-post"
)

// RankingMode selects which tag feed a search walks.
type RankingMode string

const (
	RankingNew   RankingMode = "new"
	RankingTotal RankingMode = "total"
)

// Ranking maps the caller's ordering onto the tag feeds: date-ish orderings
// walk the chronological feed, popularity orderings the heat feed.
func Ranking(sortBy novel.SortBy) RankingMode {
	switch sortBy {
	case novel.SortByKudos, novel.SortByHits:
		return RankingTotal
	}
	return RankingNew
}

// TagPageURL is the browser entry point for a tag feed.
func TagPageURL(tag string, mode RankingMode) string {
	return fmt.Sprintf("https://www.lofter.com/tag/%s/%s", url.QueryEscape(tag), mode)
}

type Client struct {
	Http *resty.Client

	cookie string

	tel telemetry.API
}

func NewClient(cookie string, tel telemetry.API) *Client {
	assert.NotNil(tel)
	assert.NotEmptyStr(cookie)

	tel = telemetry.NewScopedAPI("lofter_scraper", tel)

	httpClient := resty.New()
	httpClient.SetBaseURL("https://www.lofter.com")
	httpClient.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	httpClient.SetHeader("cookie", cookie)
	httpClient.SetTimeout(time.Second * 30)

	rateLimiter := rate.NewLimiter(2, 2)
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(httpClient, tel)

	return &Client{
		Http:   httpClient,
		cookie: cookie,
		tel:    tel,
	}
}

func (c *Client) Cookie() string {
	return c.cookie
}

// dwrBody assembles the x-www-form-urlencoded call frame. Parameter order
// matters to the endpoint, so this is a literal string build rather than
// url.Values.
func dwrBody(tag string, mode RankingMode, pageSize, offset int) string {
	batchID, err := random.IntRange(100000, 999999)
	if err != nil {
		batchID = 493053
	}
	pairs := [][2]string{
		{"callCount", "1"},
		{"scriptSessionId", "${scriptSessionId}187"},
		{"httpSessionId", ""},
		{"c0-scriptName", "TagBean"},
		{"c0-methodName", "search"},
		{"c0-id", "0"},
		{"c0-param0", "string:" + tag},
		{"c0-param1", "number:0"},
		{"c0-param2", "string:"},
		{"c0-param3", "string:" + string(mode)},
		{"c0-param4", "boolean:false"},
		{"c0-param5", "number:0"},
		{"c0-param6", "number:" + strconv.Itoa(pageSize)},
		{"c0-param7", "number:" + strconv.Itoa(offset)},
		{"c0-param8", "number:0"},
		{"batchId", strconv.Itoa(batchID)},
	}
	body := ""
	for i, kv := range pairs {
		if i > 0 {
			body += "&"
		}
		body += kv[0] + "=" + kv[1]
	}
	return body
}

// Search runs one DWR tag search call and parses the reply.
func (c *Client) Search(ctx context.Context, tag string, mode RankingMode, pageSize, offset int, excludeTags []string) ([]novel.Novel, error) {
	res, err := c.Http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/x-www-form-urlencoded; charset=UTF-8").
		SetHeader("referer", "https://www.lofter.com/tag/"+url.QueryEscape(tag)).
		SetHeader("origin", "https://www.lofter.com").
		SetHeader("accept", "*/*").
		SetBody(dwrBody(tag, mode, pageSize, offset)).
		Post(dwrPath)
	if err != nil {
		c.tel.ReportBroken(report_client_search, fmt.Errorf("fetch: %w", err), tag)
		return nil, err
	}
	if res.StatusCode() != 200 {
		err := fmt.Errorf("dwr endpoint: status %d", res.StatusCode())
		c.tel.ReportBroken(report_client_search, err, tag)
		return nil, err
	}

	novels := ParseDWR(string(res.Body()), excludeTags)
	c.tel.ReportDebug("dwr search", tag, len(novels))
	return novels, nil
}

// FetchPostHTML retrieves the rendered post page for a blogName:postId id.
func (c *Client) FetchPostHTML(ctx context.Context, id string) (string, error) {
	postURL, ok := PostURL(id)
	if !ok {
		return "", fmt.Errorf("malformed post id: %q", id)
	}

	res, err := c.Http.R().
		SetContext(ctx).
		Get(postURL)
	if err != nil {
		c.tel.ReportBroken(report_client_content, fmt.Errorf("fetch: %w", err), postURL)
		return "", err
	}
	if res.StatusCode() != 200 {
		err := fmt.Errorf("post page: status %d", res.StatusCode())
		c.tel.ReportBroken(report_client_content, err, postURL)
		return "", err
	}
	return string(res.Body()), nil
}

// Content fetches a post page and extracts the readable body.
func (c *Client) Content(ctx context.Context, id string) (string, error) {
	html, err := c.FetchPostHTML(ctx, id)
	if err != nil {
		return "", err
	}
	content := ExtractPostContent(html)
	if content == "" {
		postURL, _ := PostURL(id)
		return "", fmt.Errorf("no recognizable content in %s", postURL)
	}
	return content, nil
}
