package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	WikipediaName      = "wikipedia"
	noWikipediaResults = "No good Wikipedia Search Result was found"
)

// Wikipedia looks pages up through the MediaWiki action API.
type Wikipedia struct {
	client      *http.Client
	endpoint    string
	topK        int
	maxDocChars int
}

type WikipediaOption func(*Wikipedia)

// WithWikipediaURL overrides the api.php endpoint derived from the language.
func WithWikipediaURL(endpoint string) WikipediaOption {
	return func(w *Wikipedia) {
		if e := strings.TrimSpace(endpoint); e != "" {
			w.endpoint = e
		}
	}
}

func WithWikipediaHTTPClient(client *http.Client) WikipediaOption {
	return func(w *Wikipedia) {
		if client != nil {
			w.client = client
		}
	}
}

func WithTopK(k int) WikipediaOption {
	return func(w *Wikipedia) {
		if k > 0 {
			w.topK = k
		}
	}
}

// WithMaxDocChars caps the rendered output in runes.
func WithMaxDocChars(n int) WikipediaOption {
	return func(w *Wikipedia) {
		if n > 0 {
			w.maxDocChars = n
		}
	}
}

func NewWikipedia(lang string, opts ...WikipediaOption) *Wikipedia {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		lang = "en"
	}
	w := &Wikipedia{
		client:      &http.Client{Timeout: 15 * time.Second},
		endpoint:    fmt.Sprintf("https://%s.wikipedia.org/w/api.php", lang),
		topK:        3,
		maxDocChars: 4000,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Wikipedia) Name() string {
	return WikipediaName
}

func (w *Wikipedia) Description() string {
	return "A wrapper around Wikipedia. Useful for when you need to answer general questions about people, places, companies, facts, historical events, or other subjects. Input should be a search query."
}

// Call renders each matching page as "Page: <title>\nSummary: <extract>".
func (w *Wikipedia) Call(ctx context.Context, input string) (string, error) {
	query := strings.TrimSpace(input)
	if query == "" {
		return "", errors.New("tools: wikipedia: query is empty")
	}

	titles, err := w.search(ctx, query)
	if err != nil {
		return "", fmt.Errorf("tools: wikipedia: search: %w", err)
	}

	var pages []string
	for _, title := range titles {
		extract, err := w.extract(ctx, title)
		if err != nil {
			return "", fmt.Errorf("tools: wikipedia: extract %q: %w", title, err)
		}
		if strings.TrimSpace(extract) == "" {
			continue
		}
		pages = append(pages, "Page: "+title+"\nSummary: "+strings.TrimSpace(extract))
	}
	if len(pages) == 0 {
		return noWikipediaResults, nil
	}
	return truncateRunes(strings.Join(pages, "\n\n"), w.maxDocChars), nil
}

type searchResponse struct {
	Query struct {
		Search []struct {
			Title string `json:"title"`
		} `json:"search"`
	} `json:"query"`
}

type extractResponse struct {
	Query struct {
		Pages []struct {
			Title   string `json:"title"`
			Extract string `json:"extract"`
			Missing bool   `json:"missing"`
		} `json:"pages"`
	} `json:"query"`
}

func (w *Wikipedia) search(ctx context.Context, query string) ([]string, error) {
	params := url.Values{
		"action":        {"query"},
		"list":          {"search"},
		"srsearch":      {query},
		"srlimit":       {strconv.Itoa(w.topK)},
		"format":        {"json"},
		"formatversion": {"2"},
	}
	var out searchResponse
	if err := w.get(ctx, params, &out); err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(out.Query.Search))
	for _, s := range out.Query.Search {
		if t := strings.TrimSpace(s.Title); t != "" {
			titles = append(titles, t)
		}
		if len(titles) == w.topK {
			break
		}
	}
	return titles, nil
}

func (w *Wikipedia) extract(ctx context.Context, title string) (string, error) {
	params := url.Values{
		"action":        {"query"},
		"prop":          {"extracts"},
		"exintro":       {"1"},
		"explaintext":   {"1"},
		"redirects":     {"1"},
		"titles":        {title},
		"format":        {"json"},
		"formatversion": {"2"},
	}
	var out extractResponse
	if err := w.get(ctx, params, &out); err != nil {
		return "", err
	}
	for _, p := range out.Query.Pages {
		if !p.Missing {
			return p.Extract, nil
		}
	}
	return "", nil
}

func (w *Wikipedia) get(ctx context.Context, params url.Values, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
