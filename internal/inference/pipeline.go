package inference

import (
	"context"
	"log/slog"

	"textclf/internal/config"
	"textclf/internal/linear"
	"textclf/internal/tokenizer"
)

// PipelineScorer runs a saved linear model and the tokenizer stored next to
// it in-process.
type PipelineScorer struct {
	model     *linear.Model
	tokenizer tokenizer.Tokenizer
}

var _ Scorer = (*PipelineScorer)(nil)

func NewPipelineScorer(ctx context.Context, modelDir string, tokenizers tokenizer.Loaders) (*PipelineScorer, error) {
	model, err := linear.Load(modelDir)
	if err != nil {
		return nil, err
	}
	tok, err := tokenizers.Load(ctx, config.TokenizerRef{NameOrPath: modelDir}, "")
	if err != nil {
		return nil, err
	}

	slog.Info("loaded local pipeline", "dir", modelDir, "problem_type", model.ProblemType(), "labels", model.Labels().Names())
	return &PipelineScorer{model: model, tokenizer: tok}, nil
}

// PipelineLoader serves MODEL_TYPE=linear.
func PipelineLoader(tokenizers tokenizer.Loaders) LoaderFunc {
	return func(ctx context.Context, modelDir string) (Scorer, error) {
		return NewPipelineScorer(ctx, modelDir, tokenizers)
	}
}

func (p *PipelineScorer) Score(_ context.Context, text string) (LabelScores, error) {
	enc := p.tokenizer.Encode(text)
	probs := p.model.Probabilities(p.model.Logits(enc.InputIDs, enc.AttentionMask))
	return Named(p.model.Labels(), probs)
}
