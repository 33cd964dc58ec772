package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"travel-planner/internal/domain"
)

const (
	defaultBaseURL        = "https://api.openai.com/v1/"
	defaultEmbeddingModel = "text-embedding-ada-002"
	defaultTimeout        = 60 * time.Second
)

// StatusError captures non-2xx upstream responses with status-aware context.
type StatusError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d: %s", e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

func (e *StatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused OpenAI client for chat completions and embeddings.
type Client struct {
	sdk            sdk.Client
	embeddingModel string

	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

// WithAPIKey sets the bearer token. An empty key leaves the SDK's own
// OPENAI_API_KEY lookup in place.
func WithAPIKey(apiKey string) Option {
	return func(c *Client) {
		c.apiKey = strings.TrimSpace(apiKey)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithMaxRetries sets how many times the SDK retries 429 and 5xx responses.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

func WithEmbeddingModel(model string) Option {
	return func(c *Client) {
		if m := strings.TrimSpace(model); m != "" {
			c.embeddingModel = m
		}
	}
}

// NewClient creates a Client. Retries are disabled unless WithMaxRetries says otherwise.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:        defaultBaseURL,
		embeddingModel: defaultEmbeddingModel,
		httpClient:     &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}

	sdkOpts := []option.RequestOption{
		option.WithBaseURL(normalizeBaseURL(c.baseURL)),
		option.WithHTTPClient(c.resolvedHTTPClient()),
		option.WithMaxRetries(c.maxRetries),
	}
	if c.apiKey != "" {
		sdkOpts = append(sdkOpts, option.WithAPIKey(c.apiKey))
	}
	c.sdk = sdk.NewClient(sdkOpts...)
	return c
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: defaultTimeout}
}

// normalizeBaseURL makes every base end in "/v1/" so SDK paths resolve under it.
func normalizeBaseURL(baseURL string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base + "/"
	}
	return base + "/v1/"
}

// Chat sends one completion request and returns the first choice's text.
func (c *Client) Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error) {
	if strings.TrimSpace(model) == "" {
		return "", errors.New("openai: model must not be empty")
	}
	if len(messages) == 0 {
		return "", errors.New("openai: at least one message is required")
	}

	resp, err := c.sdk.Chat.Completions.New(ctx, sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(model),
		Messages: toSDKMessages(messages),
	})
	if err != nil {
		return "", fmt.Errorf("openai: request failed: %w", mapError(err))
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed returns one vector per input, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := c.sdk.Embeddings.New(ctx, sdk.EmbeddingNewParams{
		Model: sdk.EmbeddingModel(c.embeddingModel),
		Input: sdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: embedding request failed: %w", mapError(err))
	}
	if resp == nil || len(resp.Data) != len(texts) {
		got := 0
		if resp != nil {
			got = len(resp.Data)
		}
		return nil, fmt.Errorf("openai: expected %d embeddings, got %d", len(texts), got)
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([][]float32, len(data))
	for i, d := range data {
		if int(d.Index) != i {
			return nil, fmt.Errorf("openai: embedding index %d out of range", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	return out, nil
}

func toSDKMessages(messages []domain.ChatMessage) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, len(messages))
	for i, m := range messages {
		switch m.Role {
		case domain.RoleSystem:
			out[i] = sdk.SystemMessage(m.Content)
		case domain.RoleAssistant:
			out[i] = sdk.AssistantMessage(m.Content)
		default:
			out[i] = sdk.UserMessage(m.Content)
		}
	}
	return out
}

func mapError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return &StatusError{
			StatusCode: apiErr.StatusCode,
			Message:    strings.TrimSpace(apiErr.Message),
			Err:        err,
		}
	}
	return err
}
