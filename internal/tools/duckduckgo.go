package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

const (
	DuckDuckGoName       = "ddg-search"
	noDuckDuckGoResults  = "No good DuckDuckGo Search Result was found"
	defaultDuckDuckGoURL = "https://lite.duckduckgo.com/lite/"
)

// ddgLimiter is shared by every DuckDuckGo instance: one query per second.
var ddgLimiter = rate.NewLimiter(rate.Every(time.Second), 1)

// errRateLimited marks a 429 so the retry loop tries again.
var errRateLimited = errors.New("tools: duckduckgo rate limited")

// DuckDuckGo searches the web through DuckDuckGo's lite HTML page.
type DuckDuckGo struct {
	client     *http.Client
	endpoint   string
	region     string
	maxResults int
	limiter    *rate.Limiter
	newBackOff func() backoff.BackOff
}

type DuckDuckGoOption func(*DuckDuckGo)

func WithDuckDuckGoURL(endpoint string) DuckDuckGoOption {
	return func(d *DuckDuckGo) {
		if e := strings.TrimSpace(endpoint); e != "" {
			d.endpoint = e
		}
	}
}

func WithDuckDuckGoHTTPClient(client *http.Client) DuckDuckGoOption {
	return func(d *DuckDuckGo) {
		if client != nil {
			d.client = client
		}
	}
}

// WithRegion sets the kl parameter, e.g. "wt-wt" or "br-pt".
func WithRegion(region string) DuckDuckGoOption {
	return func(d *DuckDuckGo) {
		d.region = strings.TrimSpace(region)
	}
}

func WithMaxResults(n int) DuckDuckGoOption {
	return func(d *DuckDuckGo) {
		if n > 0 {
			d.maxResults = n
		}
	}
}

func WithRateLimiter(l *rate.Limiter) DuckDuckGoOption {
	return func(d *DuckDuckGo) {
		if l != nil {
			d.limiter = l
		}
	}
}

// WithBackOff replaces the 429 retry policy.
func WithBackOff(newBackOff func() backoff.BackOff) DuckDuckGoOption {
	return func(d *DuckDuckGo) {
		if newBackOff != nil {
			d.newBackOff = newBackOff
		}
	}
}

func NewDuckDuckGo(opts ...DuckDuckGoOption) *DuckDuckGo {
	d := &DuckDuckGo{
		client:     &http.Client{Timeout: 15 * time.Second},
		endpoint:   defaultDuckDuckGoURL,
		maxResults: 5,
		limiter:    ddgLimiter,
		newBackOff: defaultBackOff,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// defaultBackOff doubles from 1s up to 30s and gives up after two minutes.
func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 2 * time.Minute
	return b
}

func (d *DuckDuckGo) Name() string {
	return DuckDuckGoName
}

func (d *DuckDuckGo) Description() string {
	return "A wrapper around DuckDuckGo Search. Useful for when you need to answer questions about current events. Input should be a search query."
}

// Call returns the result snippets joined by spaces.
func (d *DuckDuckGo) Call(ctx context.Context, input string) (string, error) {
	query := strings.TrimSpace(input)
	if query == "" {
		return "", errors.New("tools: duckduckgo: query is empty")
	}

	var body string
	op := func() error {
		if err := d.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		b, err := d.post(ctx, query)
		if err != nil {
			if errors.Is(err, errRateLimited) {
				return err
			}
			return backoff.Permanent(err)
		}
		body = b
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(d.newBackOff(), ctx)); err != nil {
		return "", fmt.Errorf("tools: duckduckgo: %w", err)
	}

	snippets, err := parseLiteResults(body, d.maxResults)
	if err != nil {
		return "", fmt.Errorf("tools: duckduckgo: parse results: %w", err)
	}
	if len(snippets) == 0 {
		return noDuckDuckGoResults, nil
	}
	return strings.Join(snippets, " "), nil
}

func (d *DuckDuckGo) post(ctx context.Context, query string) (string, error) {
	form := url.Values{}
	form.Set("q", query)
	if d.region != "" {
		form.Set("kl", d.region)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", errRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("http %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return string(raw), nil
}

// parseLiteResults pairs each a.result-link with the td.result-snippet in the
// rows below it, up to the next result link. A result without a snippet falls
// back to its title.
func parseLiteResults(html string, limit int) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var out []string
	doc.Find("a.result-link").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := snippetFor(s)
		if text == "" {
			text = collapseSpace(s.Text())
		}
		if text != "" {
			out = append(out, text)
		}
		return limit <= 0 || len(out) < limit
	})
	return out, nil
}

func snippetFor(link *goquery.Selection) string {
	for row := link.Closest("tr").Next(); row.Length() > 0; row = row.Next() {
		if row.Find("a.result-link").Length() > 0 {
			return ""
		}
		if snippet := row.Find("td.result-snippet"); snippet.Length() > 0 {
			return collapseSpace(snippet.First().Text())
		}
	}
	return ""
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
