package provider

import (
	"bytes"
	"context"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	defaultProbeAttempts = 3
	defaultBaseBackoff   = 500 * time.Millisecond
	defaultMaxBackoff    = 5 * time.Second
	defaultMaxPreDelay   = 300 * time.Millisecond
	probeBodyBytes       = 256 << 10
	// Wall pages carry little text; a longer page is read by its title only.
	wallTextLimit = 1500
)

// userAgents are rotated between probe attempts.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_6) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.6 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:131.0) Gecko/20100101 Firefox/131.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.6 Mobile/15E148 Safari/604.1",
}

// botMarkers in the visible text of a 2xx page mean it is an anti-bot wall,
// not the listing.
var botMarkers = []string{
	"captcha",
	"are you a robot",
	"just a moment",
	"attention required",
	"access denied",
	"unusual traffic",
}

// Prober checks whether a listing link is still live.
//
// A 404/410 is the only answer read as "gone". Throttling, 5xx, network
// errors and bot walls are retried with backoff and rotated identities, and
// end up inconclusive if they persist.
type Prober struct {
	client      *http.Client
	attempts    int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	maxPreDelay time.Duration
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithBackoff overrides the backoff base and cap.
func WithBackoff(base, maxDelay time.Duration) ProberOption {
	return func(p *Prober) {
		p.baseBackoff = base
		p.maxBackoff = maxDelay
	}
}

// WithPreDelay overrides the maximum randomized delay before each request.
func WithPreDelay(d time.Duration) ProberOption {
	return func(p *Prober) { p.maxPreDelay = d }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) ProberOption {
	return func(p *Prober) { p.client = c }
}

// NewProber returns a Prober with three attempts and capped exponential backoff.
func NewProber(opts ...ProberOption) *Prober {
	p := &Prober{
		client:      &http.Client{Timeout: httpTimeout},
		attempts:    defaultProbeAttempts,
		baseBackoff: defaultBaseBackoff,
		maxBackoff:  defaultMaxBackoff,
		maxPreDelay: defaultMaxPreDelay,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe returns SignalActive, SignalGone or SignalInconclusive for link.
func (p *Prober) Probe(ctx context.Context, link string) Signal {
	if link == "" {
		return SignalInconclusive
	}

	offset := rand.IntN(len(userAgents))
	for attempt := 0; attempt < p.attempts; attempt++ {
		if attempt > 0 {
			if !sleep(ctx, p.backoff(attempt)) {
				return SignalInconclusive
			}
		}
		if p.maxPreDelay > 0 && !sleep(ctx, rand.N(p.maxPreDelay)) {
			return SignalInconclusive
		}

		signal, retry := p.probeOnce(ctx, link, userAgents[(offset+attempt)%len(userAgents)])
		if !retry {
			return signal
		}
	}
	return SignalInconclusive
}

func (p *Prober) probeOnce(ctx context.Context, link, userAgent string) (signal Signal, retry bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return SignalInconclusive, false
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.8,de;q=0.6")

	resp, err := p.client.Do(req)
	if err != nil {
		return SignalInconclusive, ctx.Err() == nil
	}
	defer resp.Body.Close()

	code := resp.StatusCode
	switch {
	case code == http.StatusNotFound || code == http.StatusGone:
		return SignalGone, false
	case code >= 200 && code < 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, probeBodyBytes))
		if looksBlocked(body) {
			return SignalInconclusive, true
		}
		return SignalActive, false
	case code == http.StatusForbidden || code == http.StatusTooManyRequests ||
		code == http.StatusRequestTimeout || code >= 500:
		return SignalInconclusive, true
	default:
		return SignalInconclusive, false
	}
}

// backoff is base*2^(attempt-1), capped, plus up to base of jitter.
func (p *Prober) backoff(attempt int) time.Duration {
	d := p.baseBackoff << (attempt - 1)
	if d > p.maxBackoff || d <= 0 {
		d = p.maxBackoff
	}
	if p.baseBackoff > 0 {
		d += rand.N(p.baseBackoff)
	}
	return d
}

// looksBlocked checks the page title and, on short pages, the visible text.
// Scripts are ignored so an embedded captcha widget on a live page does not
// count.
func looksBlocked(body []byte) bool {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	doc.Find("script, style, noscript").Remove()

	text := collapse(doc.Find("title").Text())
	if visible := collapse(doc.Find("body").Text()); len(visible) <= wallTextLimit {
		text += " " + visible
	}
	lower := strings.ToLower(text)
	for _, m := range botMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
