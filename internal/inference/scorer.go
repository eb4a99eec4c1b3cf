package inference

import (
	"context"
	"errors"
	"fmt"
	"math"

	"textclf/internal/core/types"
)

// LabelScores maps every label of a model to its score for one text.
type LabelScores map[string]float64

type Scorer interface {
	Score(ctx context.Context, text string) (LabelScores, error)
}

// ErrBackend marks failures of the serving backend, as opposed to invalid
// requests.
var ErrBackend = errors.New("inference backend error")

type LoaderFunc func(ctx context.Context, modelDir string) (Scorer, error)

// Loaders maps MODEL_TYPE values to the scorer loader serving them.
type Loaders map[string]LoaderFunc

func (l Loaders) Load(ctx context.Context, modelType, modelDir string) (Scorer, error) {
	loader, ok := l[modelType]
	if !ok {
		return nil, fmt.Errorf("unsupported model type '%s'", modelType)
	}
	scorer, err := loader(ctx, modelDir)
	if err != nil {
		return nil, fmt.Errorf("error loading %s model from %s: %w", modelType, modelDir, err)
	}
	return scorer, nil
}

// Probabilities turns raw logits into scores: an independent sigmoid per
// label for multilabel models, softmax otherwise.
func Probabilities(problem types.ProblemType, logits []float64) []float64 {
	out := make([]float64, len(logits))
	if problem == types.Multilabel {
		for i, l := range logits {
			out[i] = 1 / (1 + math.Exp(-l))
		}
		return out
	}

	maxLogit := math.Inf(-1)
	for _, l := range logits {
		maxLogit = max(maxLogit, l)
	}
	sum := 0.0
	for i, l := range logits {
		out[i] = math.Exp(l - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Named pairs scores with the label names of labels.
func Named(labels types.LabelMapping, scores []float64) (LabelScores, error) {
	if len(scores) != labels.Len() {
		return nil, fmt.Errorf("model returned %d scores for %d labels", len(scores), labels.Len())
	}
	out := make(LabelScores, len(scores))
	for i, s := range scores {
		name, _ := labels.Label(i)
		out[name] = s
	}
	return out, nil
}
