// Package loader fetches pages and keeps only the configured sections.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"travel-planner/internal/domain"
)

const maxPageBytes = 10 << 20

// Web loads one page and extracts the text of elements carrying any of the
// configured CSS classes.
type Web struct {
	client  *http.Client
	classes []string
}

type Option func(*Web)

func WithHTTPClient(client *http.Client) Option {
	return func(w *Web) {
		if client != nil {
			w.client = client
		}
	}
}

func NewWeb(classes []string, opts ...Option) (*Web, error) {
	var cleaned []string
	for _, c := range classes {
		if c = strings.TrimSpace(c); c != "" {
			cleaned = append(cleaned, c)
		}
	}
	if len(cleaned) == 0 {
		return nil, errors.New("loader: at least one CSS class is required")
	}
	w := &Web{
		client:  &http.Client{Timeout: 30 * time.Second},
		classes: cleaned,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Load returns a single Document. Content is empty when nothing matches.
func (w *Web) Load(ctx context.Context, url string) (domain.Document, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return domain.Document{}, errors.New("loader: url must not be empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.Document{}, fmt.Errorf("loader: build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")

	resp, err := w.client.Do(req)
	if err != nil {
		return domain.Document{}, fmt.Errorf("loader: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Document{}, fmt.Errorf("loader: fetch %s: http %d", url, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return domain.Document{}, fmt.Errorf("loader: parse %s: %w", url, err)
	}
	return domain.Document{Source: url, Content: w.extract(doc)}, nil
}

// extract walks matches in document order. A match nested inside an earlier
// match is skipped so its text is not repeated.
func (w *Web) extract(doc *goquery.Document) string {
	doc.Find("script, style, noscript").Remove()

	selector := "." + strings.Join(w.classes, ", .")
	matches := doc.Find(selector)

	var parts []string
	matches.Each(func(_ int, s *goquery.Selection) {
		if s.ParentsFiltered(selector).Length() > 0 {
			return
		}
		if text := cleanText(s.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, "\n\n")
}

// cleanText collapses runs of spaces inside lines and drops blank lines.
func cleanText(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
