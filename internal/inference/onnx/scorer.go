// Package onnx serves sequence classification models exported to ONNX. It
// needs cgo, libtokenizers and the onnxruntime shared library.
package onnx

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"textclf/internal/core/types"
	"textclf/internal/inference"
	"textclf/internal/tokenizer"

	"github.com/daulet/tokenizers"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	modelFile     = "model.onnx"
	configFile    = "config.json"
	tokenizerFile = "tokenizer.json"

	multiLabelProblem = "multi_label_classification"
)

var (
	initOnce sync.Once
	initErr  error
)

// initRuntime loads the onnxruntime library once per process. An empty
// dylib keeps the library's default search path.
func initRuntime(dylib string) error {
	initOnce.Do(func() {
		if dylib != "" {
			ort.SetSharedLibraryPath(dylib)
		}
		initErr = ort.InitializeEnvironment()
	})
	return initErr
}

type modelConfig struct {
	ID2Label    map[string]string `json:"id2label"`
	ProblemType string            `json:"problem_type"`
}

func loadConfig(dir string) (types.LabelMapping, types.ProblemType, error) {
	data, err := os.ReadFile(filepath.Join(dir, configFile))
	if err != nil {
		return types.LabelMapping{}, "", fmt.Errorf("error reading model config: %w", err)
	}
	var cfg modelConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return types.LabelMapping{}, "", fmt.Errorf("error parsing model config: %w", err)
	}
	labels, err := types.LabelMappingFromID2Label(cfg.ID2Label)
	if err != nil {
		return types.LabelMapping{}, "", fmt.Errorf("invalid id2label: %w", err)
	}

	problem := types.Multiclass
	if cfg.ProblemType == multiLabelProblem {
		problem = types.Multilabel
	} else if labels.Len() == 2 {
		problem = types.Binary
	}
	return labels, problem, nil
}

type Scorer struct {
	session   *ort.DynamicAdvancedSession
	tokenizer *tokenizers.Tokenizer
	labels    types.LabelMapping
	problem   types.ProblemType
	maxLength int
}

var _ inference.Scorer = (*Scorer)(nil)

// Load reads model.onnx, config.json and tokenizer.json from modelDir. The
// graph must take input_ids and attention_mask and produce logits.
func Load(modelDir, dylib string) (*Scorer, error) {
	if err := initRuntime(dylib); err != nil {
		return nil, fmt.Errorf("error initializing onnxruntime: %w", err)
	}

	labels, problem, err := loadConfig(modelDir)
	if err != nil {
		return nil, err
	}

	tk, err := tokenizers.FromFile(filepath.Join(modelDir, tokenizerFile))
	if err != nil {
		return nil, fmt.Errorf("tokenizer load: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(
		filepath.Join(modelDir, modelFile),
		[]string{"input_ids", "attention_mask"},
		[]string{"logits"},
		nil,
	)
	if err != nil {
		tk.Close()
		return nil, fmt.Errorf("failed to create onnx session: %w", err)
	}

	slog.Info("loaded onnx model", "dir", modelDir, "problem_type", problem, "labels", labels.Names())
	return &Scorer{
		session:   session,
		tokenizer: tk,
		labels:    labels,
		problem:   problem,
		maxLength: tokenizer.DefaultMaxLength,
	}, nil
}

// Loader serves MODEL_TYPE=onnx.
func Loader(dylib string) inference.LoaderFunc {
	return func(_ context.Context, modelDir string) (inference.Scorer, error) {
		return Load(modelDir, dylib)
	}
}

func (s *Scorer) Score(_ context.Context, text string) (inference.LabelScores, error) {
	enc := s.tokenizer.EncodeWithOptions(text, true, tokenizers.WithReturnAttentionMask())
	ids32 := make([]int32, len(enc.IDs))
	for i, v := range enc.IDs {
		ids32[i] = int32(v)
	}
	ids32 = tokenizer.Truncate(ids32, s.maxLength, true)

	ids := make([]int64, len(ids32))
	mask := make([]int64, len(ids32))
	for i, v := range ids32 {
		ids[i] = int64(v)
		mask[i] = 1
	}

	B, L, N := int64(1), int64(len(ids)), int64(s.labels.Len())
	idsT, err := ort.NewTensor(ort.NewShape(B, L), ids)
	if err != nil {
		return nil, err
	}
	defer idsT.Destroy()
	maskT, err := ort.NewTensor(ort.NewShape(B, L), mask)
	if err != nil {
		return nil, err
	}
	defer maskT.Destroy()
	outT, err := ort.NewEmptyTensor[float32](ort.NewShape(B, N))
	if err != nil {
		return nil, err
	}
	defer outT.Destroy()

	if err := s.session.Run([]ort.Value{idsT, maskT}, []ort.Value{outT}); err != nil {
		return nil, fmt.Errorf("%w: session run error: %w", inference.ErrBackend, err)
	}

	flat := outT.GetData()
	logits := make([]float64, len(flat))
	for i, v := range flat {
		logits[i] = float64(v)
	}
	return inference.Named(s.labels, inference.Probabilities(s.problem, logits))
}

func (s *Scorer) Release() {
	s.session.Destroy()
	s.tokenizer.Close()
}
