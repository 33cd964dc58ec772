// Package app wires configuration into the services both entry points run.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog"

	"travel-planner/internal/agent"
	"travel-planner/internal/config"
	"travel-planner/internal/integrations/openai"
	"travel-planner/internal/integrations/paramstore"
	"travel-planner/internal/loader"
	"travel-planner/internal/prompt"
	"travel-planner/internal/repository"
	"travel-planner/internal/textsplit"
	"travel-planner/internal/tools"
	"travel-planner/internal/usecase"
	"travel-planner/internal/vectorstore"
)

// App holds the wired services.
type App struct {
	Config     *config.Config
	Completion *usecase.CompletionService
	Plan       *usecase.PlanService
	Indexer    *usecase.Indexer
}

type options struct {
	params        paramstore.Getter
	backend       vectorstore.Backend
	requireAPIKey bool
	loadAWS       func(ctx context.Context) (aws.Config, error)
}

type Option func(*options)

// WithParamGetter replaces the SSM-backed parameter getter.
func WithParamGetter(g paramstore.Getter) Option {
	return func(o *options) {
		o.params = g
	}
}

// WithBackend replaces the backend chosen by index.store.
func WithBackend(b vectorstore.Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

// RequireAPIKey makes a missing OpenAI key a build error.
func RequireAPIKey() Option {
	return func(o *options) {
		o.requireAPIKey = true
	}
}

func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	o := &options{loadAWS: defaultAWSLoader()}
	for _, opt := range opts {
		opt(o)
	}

	prompts, err := prompt.Load()
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	apiKey, err := resolveAPIKey(ctx, cfg, o)
	if err != nil {
		return nil, err
	}
	if apiKey == "" {
		if o.requireAPIKey {
			return nil, errors.New("app: no OpenAI API key configured")
		}
		logger.Warn().Msg("no OpenAI API key configured; requests will fail to authenticate")
	}

	llm := openai.NewClient(
		openai.WithAPIKey(apiKey),
		openai.WithBaseURL(cfg.OpenAI.BaseURL),
		openai.WithHTTPClient(&http.Client{Timeout: cfg.OpenAI.Timeout.Duration}),
		openai.WithMaxRetries(cfg.OpenAI.MaxRetries),
		openai.WithEmbeddingModel(cfg.OpenAI.EmbeddingModel),
	)

	backend, err := selectBackend(ctx, cfg, o)
	if err != nil {
		return nil, err
	}
	store, err := vectorstore.New(llm, backend, cfg.Index.Collection,
		vectorstore.WithBatchSize(cfg.Index.BatchSize),
		vectorstore.WithConcurrency(cfg.Index.Concurrency),
	)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	web, err := loader.NewWeb(cfg.Index.Classes)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	splitter, err := textsplit.New(cfg.Index.ChunkSize, cfg.Index.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	indexer, err := usecase.NewIndexer(web, splitter, store, cfg.Index.URL, logger.With().Str("component", "indexer").Logger())
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	registry, err := newToolRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	executor, err := agent.New(llm, cfg.OpenAI.ChatModel, registry, prompts.Agent,
		agent.WithMaxIterations(cfg.Agent.MaxIterations),
		agent.WithVerbose(cfg.Agent.Verbose),
		agent.WithLogger(logger.With().Str("component", "agent").Logger()),
	)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	plan, err := usecase.NewPlanService(usecase.PlanDeps{
		Researcher: executor,
		Indexer:    indexer,
		Retriever:  vectorstore.Retriever{Store: store, K: cfg.Index.TopK},
		LLM:        llm,
		Model:      cfg.OpenAI.ChatModel,
		Synthesis:  prompts.Synthesis,
		Reindex:    cfg.Index.Reindex,
		Logger:     logger.With().Str("component", "plan").Logger(),
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	completion, err := usecase.NewCompletionService(llm, cfg.OpenAI.ChatModel,
		usecase.NewConversation(cfg.Prompts.Persona, cfg.Prompts.Request),
		logger.With().Str("component", "completion").Logger(),
	)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	return &App{Config: cfg, Completion: completion, Plan: plan, Indexer: indexer}, nil
}

// resolveAPIKey prefers the configured key and falls back to Parameter Store
// when a prefix is set.
func resolveAPIKey(ctx context.Context, cfg *config.Config, o *options) (string, error) {
	if key := strings.TrimSpace(cfg.OpenAI.APIKey); key != "" {
		return key, nil
	}
	if strings.TrimSpace(cfg.AWS.ParamPrefix) == "" {
		return "", nil
	}

	getter := o.params
	if getter == nil {
		awsCfg, err := o.loadAWS(ctx)
		if err != nil {
			return "", fmt.Errorf("app: load AWS config: %w", err)
		}
		client, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			return "", fmt.Errorf("app: %w", err)
		}
		getter = client
	}

	resolver, err := paramstore.NewKeyResolver(getter, cfg.AWS.ParamPrefix)
	if err != nil {
		return "", fmt.Errorf("app: %w", err)
	}
	key, err := resolver.APIKey(ctx)
	if err != nil {
		return "", fmt.Errorf("app: resolve API key: %w", err)
	}
	return key, nil
}

func selectBackend(ctx context.Context, cfg *config.Config, o *options) (vectorstore.Backend, error) {
	if o.backend != nil {
		return o.backend, nil
	}
	switch cfg.Index.Store {
	case config.StoreDynamoDB:
		awsCfg, err := o.loadAWS(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: load AWS config: %w", err)
		}
		client, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.Index.Table)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		return client, nil
	case config.StoreMemory, "":
		return vectorstore.NewMemory(), nil
	default:
		return nil, fmt.Errorf("app: unknown store %q", cfg.Index.Store)
	}
}

func newToolRegistry(cfg *config.Config) (*tools.Registry, error) {
	httpClient := &http.Client{Timeout: cfg.Search.Timeout.Duration}
	return tools.NewRegistry(
		tools.NewDuckDuckGo(
			tools.WithDuckDuckGoURL(cfg.Search.DuckDuckGoURL),
			tools.WithDuckDuckGoHTTPClient(httpClient),
			tools.WithRegion(cfg.Search.Region),
			tools.WithMaxResults(cfg.Search.MaxResults),
		),
		tools.NewWikipedia(cfg.Search.WikipediaLang,
			tools.WithWikipediaURL(cfg.Search.WikipediaAPIURL),
			tools.WithWikipediaHTTPClient(httpClient),
			tools.WithTopK(cfg.Search.WikipediaTopK),
			tools.WithMaxDocChars(cfg.Search.MaxDocChars),
		),
	)
}

// defaultAWSLoader loads the shared AWS config at most once.
func defaultAWSLoader() func(ctx context.Context) (aws.Config, error) {
	var (
		loaded bool
		cfg    aws.Config
		err    error
	)
	return func(ctx context.Context) (aws.Config, error) {
		if !loaded {
			cfg, err = awsconfig.LoadDefaultConfig(ctx)
			loaded = true
		}
		return cfg, err
	}
}
