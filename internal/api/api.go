package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"textclf/internal/inference"
	"textclf/pkg/api"

	"github.com/go-chi/chi/v5"
)

// InferenceService exposes a single scorer, chosen at startup, over HTTP.
type InferenceService struct {
	scorer inference.Scorer
}

func NewInferenceService(scorer inference.Scorer) *InferenceService {
	return &InferenceService{scorer: scorer}
}

func (s *InferenceService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Post("/predict", RestHandler(s.Predict))
	r.Get("/predict", RestHandler(s.PredictQuery))
}

func (s *InferenceService) Predict(r *http.Request) (any, error) {
	req, err := ParseRequest[api.PredictRequest](r)
	if err != nil {
		return nil, err
	}
	return s.score(r.Context(), req)
}

func (s *InferenceService) PredictQuery(r *http.Request) (any, error) {
	req, err := ParseRequestQueryParams[api.PredictRequest](r)
	if err != nil {
		return nil, err
	}
	return s.score(r.Context(), req)
}

func (s *InferenceService) score(ctx context.Context, req api.PredictRequest) (api.PredictResponse, error) {
	start := time.Now()
	scores, err := s.scorer.Score(ctx, req.Inputs)
	if err != nil {
		if errors.Is(err, inference.ErrBackend) {
			return nil, CodedError(http.StatusBadGateway, err)
		}
		return nil, CodedError(http.StatusInternalServerError, err)
	}

	slog.Debug("scored input", "chars", len(req.Inputs), "labels", len(scores), "duration", time.Since(start))
	return api.PredictResponse(scores), nil
}
