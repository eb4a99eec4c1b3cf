package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	aws_config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
)

type sagemakerRequest struct {
	Inputs     string              `json:"inputs"`
	Parameters sagemakerParameters `json:"parameters"`
}

type sagemakerParameters struct {
	ReturnAllScores bool `json:"return_all_scores"`
}

type sagemakerPrediction struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// SageMakerScorer forwards texts to a deployed Hugging Face text
// classification endpoint. Requests are not retried.
type SageMakerScorer struct {
	client   *sagemakerruntime.Client
	endpoint string
}

var _ Scorer = (*SageMakerScorer)(nil)

func NewSageMakerScorer(ctx context.Context, endpoint, region string) (*SageMakerScorer, error) {
	opts := []func(*aws_config.LoadOptions) error{}
	if region != "" {
		opts = append(opts, aws_config.WithRegion(region))
	}
	cfg, err := aws_config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("error loading aws config: %w", err)
	}

	client := sagemakerruntime.NewFromConfig(cfg, func(o *sagemakerruntime.Options) {
		o.RetryMaxAttempts = 1
	})
	slog.Info("using sagemaker endpoint", "endpoint", endpoint, "region", cfg.Region)
	return NewSageMakerScorerWithClient(client, endpoint), nil
}

func NewSageMakerScorerWithClient(client *sagemakerruntime.Client, endpoint string) *SageMakerScorer {
	return &SageMakerScorer{client: client, endpoint: endpoint}
}

func (s *SageMakerScorer) Score(ctx context.Context, text string) (LabelScores, error) {
	body, err := json.Marshal(sagemakerRequest{Inputs: text, Parameters: sagemakerParameters{ReturnAllScores: true}})
	if err != nil {
		return nil, fmt.Errorf("error encoding request: %w", err)
	}

	res, err := s.client.InvokeEndpoint(ctx, &sagemakerruntime.InvokeEndpointInput{
		EndpointName: aws.String(s.endpoint),
		ContentType:  aws.String("application/json"),
		Body:         body,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: error invoking endpoint %s: %w", ErrBackend, s.endpoint, err)
	}

	var preds [][]sagemakerPrediction
	if err := json.Unmarshal(res.Body, &preds); err != nil {
		return nil, fmt.Errorf("%w: invalid response from endpoint %s: %w", ErrBackend, s.endpoint, err)
	}
	if len(preds) == 0 {
		return nil, fmt.Errorf("%w: endpoint %s returned no predictions", ErrBackend, s.endpoint)
	}

	scores := make(LabelScores, len(preds[0]))
	for _, p := range preds[0] {
		scores[p.Label] = p.Score
	}
	return scores, nil
}
