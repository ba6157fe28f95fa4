package crawl

import (
	"context"
	"strings"
	"sync"
	"time"

	"soyosaki-backend/internal/components/telemetry"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// hides the automation flag the platforms sniff for
const antiDetectScript = "Object.defineProperty(navigator, 'webdriver', {get: () => undefined});"

// sub-resources that only cost bandwidth when all we want is markup
var blockedResourceTypes = map[network.ResourceType]bool{
	network.ResourceTypeImage:      true,
	network.ResourceTypeFont:       true,
	network.ResourceTypeStylesheet: true,
	network.ResourceTypeMedia:      true,
}

type Cookie struct {
	Name   string
	Value  string
	Domain string
}

// ParseCookieHeader splits a raw Cookie header into individual cookies
// scoped to the given domain, for injection into a browser context.
func ParseCookieHeader(header, domain string) []Cookie {
	var cookies []Cookie
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		eq := strings.Index(part, "=")
		if part == "" || eq <= 0 {
			continue
		}
		cookies = append(cookies, Cookie{
			Name:   part[:eq],
			Value:  part[eq+1:],
			Domain: domain,
		})
	}
	return cookies
}

type BrowserOptions struct {
	URL string
	// WaitSelector is the css selector WaitReady blocks on.
	WaitSelector string
	// InterceptSubstring selects which response bodies get buffered; empty
	// disables interception.
	InterceptSubstring string

	Cookies      []Cookie
	ExtraHeaders map[string]string
	UserAgent    string

	NavigateTimeout time.Duration
	WaitTimeout     time.Duration

	Telemetry telemetry.API
}

func (o BrowserOptions) withDefaults() BrowserOptions {
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	if o.NavigateTimeout == 0 {
		o.NavigateTimeout = 60 * time.Second
	}
	if o.WaitTimeout == 0 {
		o.WaitTimeout = 20 * time.Second
	}
	if o.Telemetry == nil {
		o.Telemetry = telemetry.SlogAPI{}
	}
	return o
}

// BrowserPage implements Page on a dedicated headless-chrome tab. One
// instance serves exactly one search call; intercepted buffers are never
// shared between concurrent crawls.
type BrowserPage struct {
	opts BrowserOptions
	tel  telemetry.API

	ctx     context.Context
	cancels []context.CancelFunc

	mu       sync.Mutex
	tracked  map[network.RequestID]bool
	payloads []string
}

var _ Page = (*BrowserPage)(nil)

const (
	report_browser_setup = "browser.setup"
	report_browser_body  = "browser.response-body"
)

// NewBrowserPage launches a browser tab configured for hostile platforms:
// spoofed user agent, automation flag hidden, non-essential sub-resources
// blocked, optional auth cookies, and response interception for the RPC
// endpoint.
func NewBrowserPage(parent context.Context, opts BrowserOptions) (*BrowserPage, error) {
	opts = opts.withDefaults()
	tel := telemetry.NewScopedAPI("browser", opts.Telemetry)

	allocOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(opts.UserAgent),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("no-proxy-server", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	p := &BrowserPage{
		opts:    opts,
		tel:     tel,
		ctx:     tabCtx,
		cancels: []context.CancelFunc{cancelTab, cancelAlloc},
		tracked: map[network.RequestID]bool{},
	}
	p.listen()

	err := chromedp.Run(tabCtx,
		network.Enable(),
		fetch.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(antiDetectScript).Do(ctx)
			return err
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if len(opts.ExtraHeaders) == 0 {
				return nil
			}
			headers := network.Headers{}
			for k, v := range opts.ExtraHeaders {
				headers[k] = v
			}
			return network.SetExtraHTTPHeaders(headers).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			for _, c := range opts.Cookies {
				err := network.SetCookie(c.Name, c.Value).
					WithDomain(c.Domain).
					WithPath("/").
					Do(ctx)
				if err != nil {
					return err
				}
			}
			return nil
		}),
	)
	if err != nil {
		tel.ReportBroken(report_browser_setup, err)
		p.Close()
		return nil, err
	}

	return p, nil
}

// listen wires the CDP event handlers: request interception for resource
// blocking and response-body capture for the RPC endpoint.
func (p *BrowserPage) listen() {
	executor := func() context.Context {
		c := chromedp.FromContext(p.ctx)
		return cdp.WithExecutor(p.ctx, c.Target)
	}

	chromedp.ListenTarget(p.ctx, func(ev any) {
		switch e := ev.(type) {
		case *fetch.EventRequestPaused:
			go func() {
				ctx := executor()
				if blockedResourceTypes[e.ResourceType] {
					_ = fetch.FailRequest(e.RequestID, network.ErrorReasonBlockedByClient).Do(ctx)
					return
				}
				_ = fetch.ContinueRequest(e.RequestID).Do(ctx)
			}()

		case *network.EventResponseReceived:
			if p.opts.InterceptSubstring == "" {
				return
			}
			if !strings.Contains(e.Response.URL, p.opts.InterceptSubstring) {
				return
			}
			p.mu.Lock()
			p.tracked[e.RequestID] = true
			p.mu.Unlock()

		case *network.EventLoadingFinished:
			p.mu.Lock()
			matched := p.tracked[e.RequestID]
			delete(p.tracked, e.RequestID)
			p.mu.Unlock()
			if !matched {
				return
			}
			go func() {
				body, err := network.GetResponseBody(e.RequestID).Do(executor())
				if err != nil {
					p.tel.ReportWarning(report_browser_body, err)
					return
				}
				p.mu.Lock()
				p.payloads = append(p.payloads, string(body))
				p.mu.Unlock()
			}()
		}
	})
}

func (p *BrowserPage) Navigate(ctx context.Context) error {
	navCtx, cancel := context.WithTimeout(p.ctx, p.opts.NavigateTimeout)
	defer cancel()
	return chromedp.Run(navCtx, chromedp.Navigate(p.opts.URL))
}

func (p *BrowserPage) WaitReady(ctx context.Context) error {
	if p.opts.WaitSelector == "" {
		return nil
	}
	waitCtx, cancel := context.WithTimeout(p.ctx, p.opts.WaitTimeout)
	defer cancel()
	return chromedp.Run(waitCtx, chromedp.WaitReady(p.opts.WaitSelector, chromedp.ByQuery))
}

func (p *BrowserPage) HTML(ctx context.Context) (string, error) {
	var html string
	err := chromedp.Run(p.ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (p *BrowserPage) Scroll(ctx context.Context) error {
	return chromedp.Run(p.ctx,
		chromedp.Evaluate("window.scrollTo(0, document.body.scrollHeight)", nil),
	)
}

func (p *BrowserPage) DrainResponses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.payloads
	p.payloads = nil
	return out
}

func (p *BrowserPage) Close() error {
	for _, cancel := range p.cancels {
		cancel()
	}
	return nil
}

// FetchHTML is the one-shot path: navigate, wait for the selector under its
// own timeout, return the DOM. Used where a browser is needed only to get
// past anti-bot checks rather than to scroll.
func FetchHTML(ctx context.Context, opts BrowserOptions) (string, error) {
	p, err := NewBrowserPage(ctx, opts)
	if err != nil {
		return "", err
	}
	defer p.Close()

	if err := p.Navigate(ctx); err != nil {
		return "", err
	}
	if err := p.WaitReady(ctx); err != nil {
		// partial DOM beats nothing
		p.tel.ReportWarning(report_crawl_ready, err)
	}
	return p.HTML(ctx)
}
