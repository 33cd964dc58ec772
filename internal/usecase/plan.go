package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"travel-planner/internal/agent"
	"travel-planner/internal/domain"
	"travel-planner/internal/integrations/openai"
	"travel-planner/internal/prompt"
)

type Researcher interface {
	Run(ctx context.Context, question string) (agent.Result, error)
}

type IndexRunner interface {
	Index(ctx context.Context) (int, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]domain.Chunk, error)
}

// PlanDeps wires a PlanService. Indexer may be nil when Reindex is false.
type PlanDeps struct {
	Researcher Researcher
	Indexer    IndexRunner
	Retriever  Retriever
	LLM        LLMClient
	Model      string
	Synthesis  *prompt.Template
	Reindex    bool
	Logger     zerolog.Logger
}

// PlanService runs Research → Index → Retrieve → Synthesize for one query.
type PlanService struct {
	research    Researcher
	indexer     IndexRunner
	retriever   Retriever
	llm         LLMClient
	model       string
	synthesis   *prompt.Template
	reindex     bool
	logger      zerolog.Logger
	countTokens func(model, text string) (int, error)
}

type PlanOutput struct {
	RunID     string
	Research  string
	Documents []domain.Chunk
	Answer    string
}

func NewPlanService(d PlanDeps) (*PlanService, error) {
	if d.Researcher == nil {
		return nil, errors.New("usecase: researcher must not be nil")
	}
	if d.Reindex && d.Indexer == nil {
		return nil, errors.New("usecase: indexer is required when reindexing")
	}
	if d.Retriever == nil {
		return nil, errors.New("usecase: retriever must not be nil")
	}
	if d.LLM == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if strings.TrimSpace(d.Model) == "" {
		return nil, errors.New("usecase: model must not be empty")
	}
	if d.Synthesis == nil {
		return nil, errors.New("usecase: synthesis prompt must not be nil")
	}
	return &PlanService{
		research:    d.Researcher,
		indexer:     d.Indexer,
		retriever:   d.Retriever,
		llm:         d.LLM,
		model:       d.Model,
		synthesis:   d.Synthesis,
		reindex:     d.Reindex,
		logger:      d.Logger,
		countTokens: openai.CountTokens,
	}, nil
}

// Plan stops at the first failing stage. Empty research or retrieval is
// passed to synthesis as-is.
func (s *PlanService) Plan(ctx context.Context, query string) (PlanOutput, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return PlanOutput{}, newError(ErrorInvalidInput, "empty_query", nil)
	}

	out := PlanOutput{RunID: newUUID()}
	logger := s.logger.With().Str("run_id", out.RunID).Logger()

	logger.Info().Str("stage", StageResearch).Msg("stage started")
	res, err := s.research.Run(ctx, query)
	switch {
	case errors.Is(err, agent.ErrMaxIterations):
		logger.Warn().Int("steps", len(res.Steps)).Msg("research hit the iteration limit, using best-effort answer")
	case err != nil:
		return PlanOutput{}, stageError(StageResearch, err)
	}
	out.Research = res.Output

	if s.reindex {
		logger.Info().Str("stage", StageIndex).Msg("stage started")
		if _, err := s.indexer.Index(ctx); err != nil {
			return PlanOutput{}, stageError(StageIndex, err)
		}
	}

	logger.Info().Str("stage", StageRetrieve).Msg("stage started")
	docs, err := s.retriever.Retrieve(ctx, query)
	if err != nil {
		return PlanOutput{}, stageError(StageRetrieve, err)
	}
	out.Documents = docs

	logger.Info().Str("stage", StageSynthesis).Int("documents", len(docs)).Msg("stage started")
	rendered, err := s.synthesis.Format(map[string]string{
		"web_context":        out.Research,
		"relevant_documents": joinChunks(docs),
		"query":              query,
	})
	if err != nil {
		return PlanOutput{}, newError(ErrorInternal, "prompt_format_failed", err)
	}
	if n, err := s.countTokens(s.model, rendered); err == nil {
		logger.Info().Int("prompt_tokens", n).Msg("synthesis prompt built")
	} else {
		logger.Debug().Err(err).Msg("token count unavailable")
	}

	answer, err := s.llm.Chat(ctx, s.model, []domain.ChatMessage{{Role: domain.RoleUser, Content: rendered}})
	if err != nil {
		return PlanOutput{}, stageError(StageSynthesis, err)
	}
	out.Answer = answer
	return out, nil
}

func joinChunks(chunks []domain.Chunk) string {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return strings.Join(texts, "\n\n")
}

var newUUID = func() string {
	return uuid.NewString()
}
