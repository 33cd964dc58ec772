package usecase

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"travel-planner/internal/agent"
	"travel-planner/internal/domain"
	"travel-planner/internal/integrations/openai"
	"travel-planner/internal/loader"
	"travel-planner/internal/prompt"
	"travel-planner/internal/textsplit"
	"travel-planner/internal/vectorstore"
)

type fakeResearcher struct {
	res   agent.Result
	err   error
	calls []string
	order *[]string
}

func (f *fakeResearcher) Run(_ context.Context, q string) (agent.Result, error) {
	f.calls = append(f.calls, q)
	if f.order != nil {
		*f.order = append(*f.order, "research")
	}
	return f.res, f.err
}

type fakeIndexer struct {
	n     int
	err   error
	calls int
	order *[]string
}

func (f *fakeIndexer) Index(context.Context) (int, error) {
	f.calls++
	if f.order != nil {
		*f.order = append(*f.order, "index")
	}
	return f.n, f.err
}

type fakeRetriever struct {
	docs  []domain.Chunk
	err   error
	query string
	order *[]string
}

func (f *fakeRetriever) Retrieve(_ context.Context, q string) ([]domain.Chunk, error) {
	f.query = q
	if f.order != nil {
		*f.order = append(*f.order, "retrieve")
	}
	return f.docs, f.err
}

func synthesisPrompt(t *testing.T) *prompt.Template {
	t.Helper()
	set, err := prompt.Load()
	require.NoError(t, err)
	return set.Synthesis
}

// newPlanService fills defaults and discards logs unless keepLogger is set.
func newPlanService(t *testing.T, d PlanDeps, keepLogger ...bool) *PlanService {
	t.Helper()
	if len(keepLogger) == 0 || !keepLogger[0] {
		d.Logger = zerolog.Nop()
	}
	if d.Model == "" {
		d.Model = "gpt-mock"
	}
	if d.Synthesis == nil {
		d.Synthesis = synthesisPrompt(t)
	}
	svc, err := NewPlanService(d)
	require.NoError(t, err)
	return svc
}

func TestPlan_HappyPathRunsStagesInOrder(t *testing.T) {
	prev := newUUID
	newUUID = func() string { return "run-1" }
	t.Cleanup(func() { newUUID = prev })

	var order []string
	research := &fakeResearcher{res: agent.Result{Output: "Carnival on 25 August; flights from R$ 4.500"}, order: &order}
	idx := &fakeIndexer{n: 2, order: &order}
	ret := &fakeRetriever{docs: []domain.Chunk{{Text: "Visit the British Museum."}, {Text: "Buy an Oyster card."}}, order: &order}
	llm := &mockLLM{responses: []chatResponse{{answer: "Day 1: ..."}}}

	svc := newPlanService(t, PlanDeps{Researcher: research, Indexer: idx, Retriever: ret, LLM: llm, Reindex: true})
	out, err := svc.Plan(context.Background(), "  London in August  ")
	require.NoError(t, err)

	require.Equal(t, []string{"research", "index", "retrieve"}, order)
	require.Equal(t, []string{"London in August"}, research.calls)
	require.Equal(t, "London in August", ret.query)
	require.Equal(t, PlanOutput{
		RunID:     "run-1",
		Research:  "Carnival on 25 August; flights from R$ 4.500",
		Documents: ret.docs,
		Answer:    "Day 1: ...",
	}, out)

	require.Len(t, llm.messages, 1)
	sent := llm.messages[0][0]
	require.Equal(t, domain.RoleUser, sent.Role)
	require.Contains(t, sent.Content, "Carnival on 25 August")
	require.Contains(t, sent.Content, "Visit the British Museum.\n\nBuy an Oyster card.")
	require.Contains(t, sent.Content, "User: London in August")
}

func TestPlan_SkipsIndexWhenNotReindexing(t *testing.T) {
	idx := &fakeIndexer{}
	svc := newPlanService(t, PlanDeps{
		Researcher: &fakeResearcher{},
		Indexer:    idx,
		Retriever:  &fakeRetriever{},
		LLM:        &mockLLM{responses: []chatResponse{{answer: "ok"}}},
	})
	_, err := svc.Plan(context.Background(), "q")
	require.NoError(t, err)
	require.Zero(t, idx.calls)
}

func TestPlan_MaxIterationsUsesBestEffortResearch(t *testing.T) {
	var logs bytes.Buffer
	llm := &mockLLM{responses: []chatResponse{{answer: "plan"}}}
	svc := newPlanService(t, PlanDeps{
		Researcher: &fakeResearcher{res: agent.Result{Output: "partial"}, err: agent.ErrMaxIterations},
		Retriever:  &fakeRetriever{},
		LLM:        llm,
		Logger:     zerolog.New(&logs),
	}, true)
	out, err := svc.Plan(context.Background(), "q")
	require.NoError(t, err)
	require.Equal(t, "partial", out.Research)
	require.Contains(t, logs.String(), "iteration limit")
}

func TestPlan_EmptyResearchAndDocumentsPassThrough(t *testing.T) {
	llm := &mockLLM{responses: []chatResponse{{answer: "plan"}}}
	svc := newPlanService(t, PlanDeps{
		Researcher: &fakeResearcher{},
		Retriever:  &fakeRetriever{docs: []domain.Chunk{}},
		LLM:        llm,
	})
	out, err := svc.Plan(context.Background(), "q")
	require.NoError(t, err)
	require.Equal(t, "plan", out.Answer)
	require.Empty(t, out.Documents)
	require.Contains(t, llm.messages[0][0].Content, "Web research:\n\n")
}

func TestPlan_LogsPromptTokens(t *testing.T) {
	var logs bytes.Buffer
	svc := newPlanService(t, PlanDeps{
		Researcher: &fakeResearcher{},
		Retriever:  &fakeRetriever{},
		LLM:        &mockLLM{responses: []chatResponse{{answer: "plan"}}},
		Logger:     zerolog.New(&logs),
	}, true)
	svc.countTokens = func(model, text string) (int, error) {
		require.Equal(t, "gpt-mock", model)
		return 42, nil
	}
	_, err := svc.Plan(context.Background(), "q")
	require.NoError(t, err)
	require.Contains(t, logs.String(), `"prompt_tokens":42`)
}

func TestPlan_StageFailuresStopThePipeline(t *testing.T) {
	upstream := &openai.StatusError{StatusCode: http.StatusBadGateway}
	limited := &openai.StatusError{StatusCode: http.StatusTooManyRequests}

	cases := []struct {
		name       string
		research   error
		index      error
		retrieve   error
		synthesis  error
		wantCode   ErrorCode
		wantReason string
		llmCalls   int
	}{
		{name: "research", research: upstream, wantCode: ErrorUpstream, wantReason: "research_failed"},
		{name: "research rate limited", research: limited, wantCode: ErrorRateLimited, wantReason: "research_rate_limited"},
		{name: "index", index: errors.New("fetch failed"), wantCode: ErrorUpstream, wantReason: "index_failed"},
		{name: "retrieve", retrieve: limited, wantCode: ErrorRateLimited, wantReason: "retrieve_rate_limited"},
		{name: "synthesis", synthesis: upstream, wantCode: ErrorUpstream, wantReason: "synthesis_failed", llmCalls: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			idx := &fakeIndexer{err: tc.index}
			ret := &fakeRetriever{err: tc.retrieve}
			llm := &mockLLM{responses: []chatResponse{{answer: "plan", err: tc.synthesis}}}
			svc := newPlanService(t, PlanDeps{
				Researcher: &fakeResearcher{err: tc.research},
				Indexer:    idx,
				Retriever:  ret,
				LLM:        llm,
				Reindex:    true,
			})

			out, err := svc.Plan(context.Background(), "q")
			require.Equal(t, PlanOutput{}, out)
			var ucErr *Error
			require.True(t, errors.As(err, &ucErr))
			require.Equal(t, tc.wantCode, ucErr.Code)
			require.Equal(t, tc.wantReason, ucErr.Reason)
			require.Equal(t, tc.llmCalls, llm.callCount)
		})
	}
}

func TestPlan_EmptyQuery(t *testing.T) {
	research := &fakeResearcher{}
	svc := newPlanService(t, PlanDeps{Researcher: research, Retriever: &fakeRetriever{}, LLM: &mockLLM{}})
	_, err := svc.Plan(context.Background(), "   ")
	var ucErr *Error
	require.True(t, errors.As(err, &ucErr))
	require.Equal(t, ErrorInvalidInput, ucErr.Code)
	require.Empty(t, research.calls)
}

func TestNewPlanService_Validation(t *testing.T) {
	tmpl := synthesisPrompt(t)
	base := PlanDeps{Researcher: &fakeResearcher{}, Retriever: &fakeRetriever{}, LLM: &mockLLM{}, Model: "m", Synthesis: tmpl}

	_, err := NewPlanService(base)
	require.NoError(t, err)

	for name, mutate := range map[string]func(*PlanDeps){
		"researcher":   func(d *PlanDeps) { d.Researcher = nil },
		"retriever":    func(d *PlanDeps) { d.Retriever = nil },
		"llm":          func(d *PlanDeps) { d.LLM = nil },
		"model":        func(d *PlanDeps) { d.Model = "" },
		"synthesis":    func(d *PlanDeps) { d.Synthesis = nil },
		"reindex only": func(d *PlanDeps) { d.Reindex = true },
	} {
		d := base
		mutate(&d)
		_, err := NewPlanService(d)
		require.Error(t, err, name)
	}
}

type hashEmbedder struct {
	calls int
}

func (h *hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	h.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), float32(strings.Count(t, "London"))}
	}
	return out, nil
}

func TestPlan_PageWithoutMatchingSectionsRetrievesNothing(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><div class="sidebar">London ads</div></body></html>`))
	}))
	defer page.Close()

	web, err := loader.NewWeb([]string{"postcontentwrap"})
	require.NoError(t, err)
	splitter, err := textsplit.New(1000, 200)
	require.NoError(t, err)
	emb := &hashEmbedder{}
	store, err := vectorstore.New(emb, vectorstore.NewMemory(), "guide")
	require.NoError(t, err)
	indexer, err := NewIndexer(web, splitter, store, page.URL, zerolog.Nop())
	require.NoError(t, err)

	llm := &mockLLM{responses: []chatResponse{{answer: "plan"}}}
	svc := newPlanService(t, PlanDeps{
		Researcher: &fakeResearcher{res: agent.Result{Output: "research"}},
		Indexer:    indexer,
		Retriever:  vectorstore.Retriever{Store: store, K: 4},
		LLM:        llm,
		Reindex:    true,
	})

	out, err := svc.Plan(context.Background(), "London in August")
	require.NoError(t, err)
	require.Empty(t, out.Documents)
	require.Equal(t, "plan", out.Answer)
	require.Zero(t, emb.calls)
}
