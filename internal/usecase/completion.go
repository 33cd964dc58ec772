package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"travel-planner/internal/domain"
)

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

// NewConversation builds the fixed persona + request conversation.
func NewConversation(persona, request string) domain.Conversation {
	return domain.Conversation{
		{Role: domain.RoleSystem, Content: persona},
		{Role: domain.RoleUser, Content: request},
	}
}

// CompletionService sends one conversation to the chat model and returns
// the first choice. It never retries.
type CompletionService struct {
	llm          LLMClient
	model        string
	conversation domain.Conversation
	logger       zerolog.Logger
}

func NewCompletionService(llm LLMClient, model string, conversation domain.Conversation, logger zerolog.Logger) (*CompletionService, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("usecase: model must not be empty")
	}
	return &CompletionService{
		llm:          llm,
		model:        model,
		conversation: conversation.Clone(),
		logger:       logger,
	}, nil
}

func (s *CompletionService) Complete(ctx context.Context, conversation domain.Conversation) (string, error) {
	if len(conversation) == 0 {
		return "", newError(ErrorInvalidInput, "empty_conversation", nil)
	}
	for i, m := range conversation {
		switch m.Role {
		case domain.RoleSystem, domain.RoleUser, domain.RoleAssistant:
		default:
			return "", newError(ErrorInvalidInput, "invalid_role", fmt.Errorf("message %d has role %q", i, m.Role))
		}
	}

	sent := conversation.Clone()
	s.logger.Debug().Str("model", s.model).Int("messages", len(sent)).Msg("sending completion request")
	text, err := s.llm.Chat(ctx, s.model, sent)
	if err != nil {
		return "", stageError(StageCompletion, err)
	}
	return text, nil
}

// Print completes the configured conversation and writes the text as one line.
func (s *CompletionService) Print(ctx context.Context, w io.Writer) error {
	text, err := s.Complete(ctx, s.conversation)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, text); err != nil {
		return newError(ErrorInternal, "write_failed", err)
	}
	return nil
}
