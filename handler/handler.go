package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"travel-planner/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type PlanUseCase interface {
	Plan(ctx context.Context, query string) (usecase.PlanOutput, error)
}

type Handler struct {
	uc           PlanUseCase
	defaultQuery string
	logger       zerolog.Logger
}

type Option func(*Handler)

// WithDefaultQuery sets the query used when a request body carries none.
func WithDefaultQuery(q string) Option {
	return func(h *Handler) {
		h.defaultQuery = strings.TrimSpace(q)
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(h *Handler) {
		h.logger = l
	}
}

func NewHandler(uc PlanUseCase, opts ...Option) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: plan use case must not be nil")
	}
	h := &Handler{uc: uc, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type planRequest struct {
	Query string `json:"query"`
}

type planDocument struct {
	Source string `json:"source"`
	Index  int    `json:"index"`
	Text   string `json:"text"`
}

type planResponse struct {
	RunID     string         `json:"runId"`
	Answer    string         `json:"answer"`
	Research  string         `json:"research"`
	Documents []planDocument `json:"documents"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(req.Headers)
	logger := h.logger.With().Str("correlation_id", corrID).Logger()

	if req.HTTPMethod != "" && req.HTTPMethod != http.MethodPost {
		return jsonResponse(http.StatusMethodNotAllowed, corrID, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "method_not_allowed"}), nil
	}

	var in planRequest
	if strings.TrimSpace(req.Body) != "" {
		if err := json.Unmarshal([]byte(req.Body), &in); err != nil {
			return jsonResponse(http.StatusBadRequest, corrID, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_json"}), nil
		}
	}
	query := strings.TrimSpace(in.Query)
	if query == "" {
		query = h.defaultQuery
	}

	out, err := h.uc.Plan(ctx, query)
	if err != nil {
		status, body := mapError(err)
		logger.Error().Err(err).Int("status", status).Msg("plan request failed")
		return jsonResponse(status, corrID, body), nil
	}

	docs := make([]planDocument, len(out.Documents))
	for i, d := range out.Documents {
		docs[i] = planDocument{Source: d.Source, Index: d.Index, Text: d.Text}
	}
	logger.Info().Str("run_id", out.RunID).Int("documents", len(docs)).Msg("plan request served")
	return jsonResponse(http.StatusOK, corrID, planResponse{
		RunID:     out.RunID,
		Answer:    out.Answer,
		Research:  out.Research,
		Documents: docs,
	}), nil
}

func mapError(err error) (int, errorResponse) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)}
	}
	body := errorResponse{Error: string(ucErr.Code), Reason: ucErr.Reason}
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest, body
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests, body
	case usecase.ErrorUpstream:
		return http.StatusBadGateway, body
	default:
		return http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal), Reason: ucErr.Reason}
	}
}

// correlationID reads X-Correlation-Id case-insensitively or mints one.
func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return uuid.NewString()
}

func jsonResponse(status int, corrID string, body any) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		raw = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(raw),
	}
}
