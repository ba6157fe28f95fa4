// client.go implements the mobile-app api surface: an OAuth refresh-token
// exchange against the auth host, then bearer-authenticated calls against
// the app api host.

package pixiv

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"soyosaki-backend/internal/components/assert"
	"soyosaki-backend/internal/components/chrono"
	"soyosaki-backend/internal/components/telemetry"
	"soyosaki-backend/internal/novel"
	"soyosaki-backend/internal/retry"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// App client credentials, shared by every install of the official app.
const (
	clientID     = "MOBrBDS8blbauoSck0ZfDbtuzpyT"
	clientSecret = "lsACyCD94FhDUtGTXi3QzcFE2uU1hqtDaKeqrdwj"
	hashSecret   = "28c1fdd170a5204386cb1313c7077b34f83e4aaf4aa829ce78c231e05b0bae2c"
	userAgent    = "PixivAndroidApp/5.0.234 (Android 11; Pixel 5)"
)

const (
	report_client_auth   = "client.auth"
	report_client_search = "client.search"
	report_client_detail = "client.detail"
	report_client_text   = "client.text"
)

// ErrAuthFailed marks a session whose refresh token was rejected. The
// session stays failed until a different token is supplied, so a bad
// credential costs one upstream call instead of one per operation.
var ErrAuthFailed = errors.New("pixiv: authentication failed")

type sessionState int

const (
	sessionUninitialized sessionState = iota
	sessionReady
	sessionFailed
)

// SearchSort maps the caller's ordering onto the api's sort values.
func SearchSort(sortBy novel.SortBy) string {
	if sortBy == novel.SortByDate || sortBy == novel.SortByWordCount {
		return "date_desc"
	}
	return "popular_desc"
}

type Client struct {
	// AuthHttp talks to the oauth host, Http to the app api host. Both are
	// exported so tests can point them at local servers.
	AuthHttp *resty.Client
	Http     *resty.Client

	// mu guards the session fields below; the adapter layer calls one
	// shared client from concurrent requests.
	mu          sync.Mutex
	state       sessionState
	token       string
	accessToken string

	time chrono.API
	tel  telemetry.API
}

func NewClient(tel telemetry.API) *Client {
	assert.NotNil(tel)

	tel = telemetry.NewScopedAPI("pixiv_scraper", tel)

	authHttp := resty.New()
	authHttp.SetBaseURL("https://oauth.secure.pixiv.net")
	authHttp.SetHeader("user-agent", userAgent)
	authHttp.SetTimeout(time.Second * 30)

	apiHttp := resty.New()
	apiHttp.SetBaseURL("https://app-api.pixiv.net")
	apiHttp.SetHeader("user-agent", userAgent)
	apiHttp.SetTimeout(time.Second * 30)

	rateLimiter := rate.NewLimiter(2, 2)
	apiHttp.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(authHttp, tel)
	telemetry.InstrumentResty(apiHttp, tel)

	return &Client{
		AuthHttp: authHttp,
		Http:     apiHttp,
		time:     chrono.StandardImpl{},
		tel:      tel,
	}
}

// clientHeaders computes the request-time signature the auth host checks.
func (c *Client) clientHeaders() map[string]string {
	clientTime := c.time.Now().Format(time.RFC3339)
	sum := md5.Sum([]byte(clientTime + hashSecret))
	return map[string]string{
		"x-client-time": clientTime,
		"x-client-hash": hex.EncodeToString(sum[:]),
	}
}

// Ensure brings the session to a usable state for the given refresh token.
// A token it has already authenticated is free; a token it has already
// failed on returns ErrAuthFailed without touching the network.
func (c *Client) Ensure(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return fmt.Errorf("%w: no refresh token configured", ErrAuthFailed)
	}

	// held across the exchange so concurrent callers share one upstream
	// call instead of racing the state machine
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == refreshToken {
		switch c.state {
		case sessionReady:
			return nil
		case sessionFailed:
			return ErrAuthFailed
		}
	}

	c.token = refreshToken
	err := c.authenticate(ctx, refreshToken)
	if err != nil {
		c.state = sessionFailed
		c.tel.ReportBroken(report_client_auth, err)
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	c.state = sessionReady
	return nil
}

func (c *Client) authenticate(ctx context.Context, refreshToken string) error {
	var body struct {
		Response struct {
			AccessToken string `json:"access_token"`
		} `json:"response"`
	}
	res, err := c.AuthHttp.R().
		SetContext(ctx).
		SetHeaders(c.clientHeaders()).
		SetFormData(map[string]string{
			"client_id":      clientID,
			"client_secret":  clientSecret,
			"grant_type":     "refresh_token",
			"refresh_token":  refreshToken,
			"get_secure_url": "1",
			"include_policy": "true",
		}).
		SetResult(&body).
		Post("/auth/token")
	if err != nil {
		return fmt.Errorf("token exchange: %w", err)
	}
	if res.StatusCode() != 200 {
		return fmt.Errorf("token exchange: status %d", res.StatusCode())
	}
	if body.Response.AccessToken == "" {
		return fmt.Errorf("token exchange: empty access token")
	}
	c.accessToken = body.Response.AccessToken
	return nil
}

// session snapshots the guarded state for one api call.
func (c *Client) session() (sessionState, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.accessToken
}

func (c *Client) getJSON(ctx context.Context, path string, params map[string]string, out any) error {
	state, accessToken := c.session()
	if state != sessionReady {
		return ErrAuthFailed
	}
	return retry.DoVoid(ctx, retry.Options{}, func() error {
		res, err := c.Http.R().
			SetContext(ctx).
			SetAuthToken(accessToken).
			SetQueryParams(params).
			SetResult(out).
			Get(path)
		if err != nil {
			return fmt.Errorf("fetch: %w", err)
		}
		if res.StatusCode() != 200 {
			return fmt.Errorf("%s: status %d", path, res.StatusCode())
		}
		return nil
	})
}

// SearchNovels runs one tag search call at the given result offset.
func (c *Client) SearchNovels(ctx context.Context, word, sort string, offset int) ([]novel.Novel, error) {
	var body struct {
		Novels []apiNovel `json:"novels"`
	}
	err := c.getJSON(ctx, "/v1/search/novel", map[string]string{
		"word":          word,
		"sort":          sort,
		"search_target": "partial_match_for_tags",
		"offset":        strconv.Itoa(offset),
	}, &body)
	if err != nil {
		c.tel.ReportBroken(report_client_search, err, word)
		return nil, err
	}

	novels := make([]novel.Novel, 0, len(body.Novels))
	for _, raw := range body.Novels {
		novels = append(novels, parseNovel(raw, c.time))
	}
	return novels, nil
}

// NovelDetail fetches full metadata for one novel.
func (c *Client) NovelDetail(ctx context.Context, id string) (*novel.Novel, error) {
	var body struct {
		Novel apiNovel `json:"novel"`
	}
	err := c.getJSON(ctx, "/v2/novel/detail", map[string]string{
		"novel_id": id,
	}, &body)
	if err != nil {
		c.tel.ReportBroken(report_client_detail, err, id)
		return nil, err
	}
	if body.Novel.ID == 0 {
		return nil, fmt.Errorf("novel %s: empty detail", id)
	}
	n := parseNovel(body.Novel, c.time)
	return &n, nil
}

// NovelText fetches the novel body and renders it as html paragraphs.
func (c *Client) NovelText(ctx context.Context, id string) (string, error) {
	var body struct {
		NovelText string `json:"novel_text"`
	}
	err := c.getJSON(ctx, "/v1/novel/text", map[string]string{
		"novel_id": id,
	}, &body)
	if err != nil {
		c.tel.ReportBroken(report_client_text, err, id)
		return "", err
	}
	return renderText(body.NovelText), nil
}
