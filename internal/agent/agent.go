// Package agent runs a zero-shot ReAct loop over a chat model and a tool set.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"travel-planner/internal/domain"
	"travel-planner/internal/prompt"
	"travel-planner/internal/tools"
)

const (
	defaultMaxIterations = 5
	stoppedOutput        = "Agent stopped due to iteration limit or time limit."
	finalizeSuffix       = "\n\nI now need to return a final answer based on the previous steps:"
	logPreviewRunes      = 200
)

// ErrMaxIterations is returned, together with a best-effort Result, when the
// loop runs out of steps before the model gives a final answer.
var ErrMaxIterations = errors.New("agent: stopped due to iteration limit")

type ChatModel interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

// Step is one Think → Act → Observe round.
type Step struct {
	Log         string
	Tool        string
	ToolInput   string
	Observation string
}

type Result struct {
	Output string
	Steps  []Step
}

type state int

const (
	stateThink state = iota
	stateAct
	stateObserve
	stateDone
)

func (s state) String() string {
	switch s {
	case stateThink:
		return "think"
	case stateAct:
		return "act"
	case stateObserve:
		return "observe"
	default:
		return "done"
	}
}

// Executor binds a model, a tool set, and the ReAct prompt.
type Executor struct {
	llm           ChatModel
	model         string
	tools         *tools.Registry
	prompt        *prompt.Template
	maxIterations int
	verbose       bool
	logger        zerolog.Logger
}

type Option func(*Executor)

func WithMaxIterations(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// WithVerbose logs every transition at info level instead of debug.
func WithVerbose(v bool) Option {
	return func(e *Executor) {
		e.verbose = v
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Executor) {
		e.logger = l
	}
}

func New(llm ChatModel, model string, registry *tools.Registry, tmpl *prompt.Template, opts ...Option) (*Executor, error) {
	if llm == nil {
		return nil, errors.New("agent: model client must not be nil")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("agent: model name must not be empty")
	}
	if registry == nil || registry.Len() == 0 {
		return nil, errors.New("agent: at least one tool is required")
	}
	if tmpl == nil {
		return nil, errors.New("agent: prompt must not be nil")
	}
	e := &Executor{
		llm:           llm,
		model:         model,
		tools:         registry,
		prompt:        tmpl,
		maxIterations: defaultMaxIterations,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run answers question. Model and context errors abort the run; tool errors
// and unparseable replies are fed back to the model as observations.
func (e *Executor) Run(ctx context.Context, question string) (Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Result{}, errors.New("agent: question must not be empty")
	}

	var (
		res     Result
		pending Step
		next    decision
	)
	st := stateThink
	for {
		switch st {
		case stateThink:
			if len(res.Steps) >= e.maxIterations {
				res.Output = e.finalize(ctx, question, res.Steps)
				e.event().Int("steps", len(res.Steps)).Msg("agent stopped at iteration limit")
				return res, ErrMaxIterations
			}
			reply, err := e.think(ctx, question, res.Steps, "")
			if err != nil {
				return res, fmt.Errorf("agent: step %d: %w", len(res.Steps)+1, err)
			}
			pending = Step{Log: reply}
			d, err := parseReply(reply)
			switch {
			case err != nil:
				pending.Tool = "_Exception"
				pending.ToolInput = reply
				pending.Observation = err.Error()
				st = stateObserve
			case d.final:
				res.Output = d.output
				st = stateDone
			default:
				next = d
				st = stateAct
			}
			e.trace(len(res.Steps)+1, stateThink).Str("reply", preview(reply)).Msg("agent thought")

		case stateAct:
			pending.Tool = next.tool
			pending.ToolInput = next.input
			obs, err := e.act(ctx, next)
			if err != nil {
				return res, fmt.Errorf("agent: step %d: %w", len(res.Steps)+1, err)
			}
			pending.Observation = obs
			e.trace(len(res.Steps)+1, stateAct).Str("tool", next.tool).Str("input", next.input).Msg("agent action")
			st = stateObserve

		case stateObserve:
			res.Steps = append(res.Steps, pending)
			e.trace(len(res.Steps), stateObserve).Str("observation", preview(pending.Observation)).Msg("agent observation")
			st = stateThink

		case stateDone:
			e.trace(len(res.Steps), stateDone).Str("output", preview(res.Output)).Msg("agent finished")
			return res, nil
		}
	}
}

func (e *Executor) think(ctx context.Context, question string, steps []Step, suffix string) (string, error) {
	rendered, err := e.prompt.Format(map[string]string{
		"tools":            e.tools.Describe(),
		"tool_names":       strings.Join(e.tools.Names(), ", "),
		"input":            question,
		"agent_scratchpad": scratchpad(steps) + suffix,
	})
	if err != nil {
		return "", err
	}
	reply, err := e.llm.Chat(ctx, e.model, []domain.ChatMessage{{Role: domain.RoleUser, Content: rendered}})
	if err != nil {
		return "", err
	}
	return truncateAtObservation(reply), nil
}

// act runs the chosen tool. Only context cancellation is returned as an
// error; everything else becomes the observation.
func (e *Executor) act(ctx context.Context, d decision) (string, error) {
	tool, ok := e.tools.Lookup(d.tool)
	if !ok {
		return fmt.Sprintf("%s is not a valid tool, try one of [%s].", d.tool, strings.Join(e.tools.Names(), ", ")), nil
	}
	out, err := tool.Call(ctx, d.input)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "Error: " + err.Error(), nil
	}
	return out, nil
}

// finalize asks once more for an answer from the steps gathered so far.
func (e *Executor) finalize(ctx context.Context, question string, steps []Step) string {
	reply, err := e.think(ctx, question, steps, finalizeSuffix)
	if err != nil {
		e.logger.Warn().Err(err).Msg("agent best-effort answer failed")
		return stoppedOutput
	}
	if d, err := parseReply(reply); err == nil && d.final {
		return d.output
	}
	if s := strings.TrimSpace(reply); s != "" {
		return s
	}
	return stoppedOutput
}

func scratchpad(steps []Step) string {
	var b strings.Builder
	for _, s := range steps {
		b.WriteString(s.Log)
		b.WriteString("\nObservation: ")
		b.WriteString(s.Observation)
		b.WriteString("\nThought: ")
	}
	return b.String()
}

func (e *Executor) event() *zerolog.Event {
	if e.verbose {
		return e.logger.Info()
	}
	return e.logger.Debug()
}

func (e *Executor) trace(step int, st state) *zerolog.Event {
	return e.event().Int("step", step).Stringer("state", st)
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= logPreviewRunes {
		return s
	}
	return string(r[:logPreviewRunes]) + "..."
}
