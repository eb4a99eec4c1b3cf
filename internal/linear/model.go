package linear

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"

	"textclf/internal/core/types"
)

const (
	ModelType = "linear"

	configFile  = "config.json"
	weightsFile = "model.json"
)

// ModelConfig is written as config.json next to the weights.
type ModelConfig struct {
	Architectures []string          `json:"architectures"`
	ModelType     string            `json:"model_type"`
	ProblemType   types.ProblemType `json:"problem_type"`
	NumFeatures   int               `json:"num_features"`
	NumLabels     int               `json:"num_labels"`
	ID2Label      map[string]string `json:"id2label"`
	Label2ID      map[string]int    `json:"label2id"`
}

type weights struct {
	Weights [][]float64 `json:"weights"`
	Bias    []float64   `json:"bias"`
}

// Model is a linear classifier over a bag of hashed token ids.
type Model struct {
	problem     types.ProblemType
	labels      types.LabelMapping
	numFeatures int

	weights [][]float64
	bias    []float64
}

func NewModel(problem types.ProblemType, labels types.LabelMapping, numFeatures int) *Model {
	w := make([][]float64, labels.Len())
	for i := range w {
		w[i] = make([]float64, numFeatures)
	}
	return &Model{
		problem:     problem,
		labels:      labels,
		numFeatures: numFeatures,
		weights:     w,
		bias:        make([]float64, labels.Len()),
	}
}

func (m *Model) ProblemType() types.ProblemType {
	return m.problem
}

func (m *Model) Labels() types.LabelMapping {
	return m.labels
}

type feature struct {
	index int
	value float64
}

// featurize averages the one-hot vectors of the attended token ids.
func (m *Model) featurize(ids, mask []int32) []feature {
	counts := map[int]float64{}
	total := 0.0
	for i, id := range ids {
		if i < len(mask) && mask[i] == 0 {
			continue
		}
		counts[int(id)%m.numFeatures]++
		total++
	}
	out := make([]feature, 0, len(counts))
	for idx, c := range counts {
		out = append(out, feature{index: idx, value: c / total})
	}
	// fixed order keeps floating point sums reproducible
	slices.SortFunc(out, func(a, b feature) int { return a.index - b.index })
	return out
}

func (m *Model) logits(x []feature) []float64 {
	out := make([]float64, len(m.bias))
	for c := range out {
		sum := m.bias[c]
		for _, f := range x {
			sum += m.weights[c][f.index] * f.value
		}
		out[c] = sum
	}
	return out
}

// Logits scores one encoded text.
func (m *Model) Logits(ids, mask []int32) []float64 {
	return m.logits(m.featurize(ids, mask))
}

// Probabilities applies softmax for single label problems and an
// independent sigmoid per label for multilabel ones.
func (m *Model) Probabilities(logits []float64) []float64 {
	if m.problem == types.Multilabel {
		out := make([]float64, len(logits))
		for i, l := range logits {
			out[i] = sigmoid(l)
		}
		return out
	}
	return softmax(logits)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func softmax(logits []float64) []float64 {
	out := make([]float64, len(logits))
	maxLogit := math.Inf(-1)
	for _, l := range logits {
		maxLogit = math.Max(maxLogit, l)
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

func (m *Model) config() ModelConfig {
	return ModelConfig{
		Architectures: []string{"LinearForSequenceClassification"},
		ModelType:     ModelType,
		ProblemType:   m.problem,
		NumFeatures:   m.numFeatures,
		NumLabels:     m.labels.Len(),
		ID2Label:      m.labels.ID2Label(),
		Label2ID:      m.labels.Label2ID(),
	}
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("error parsing %s: %w", path, err)
	}
	return nil
}

// Save writes config.json and model.json into dir.
func (m *Model) Save(dir string) error {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return fmt.Errorf("error creating model dir: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, configFile), m.config()); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, weightsFile), weights{Weights: m.weights, Bias: m.bias})
}

func LoadConfig(dir string) (ModelConfig, error) {
	var cfg ModelConfig
	if err := readJSON(filepath.Join(dir, configFile), &cfg); err != nil {
		return ModelConfig{}, fmt.Errorf("error reading model config: %w", err)
	}
	if cfg.ModelType != ModelType {
		return ModelConfig{}, fmt.Errorf("model in %s has type '%s', expected '%s'", dir, cfg.ModelType, ModelType)
	}
	return cfg, nil
}

// Load reads a model written by Save.
func Load(dir string) (*Model, error) {
	cfg, err := LoadConfig(dir)
	if err != nil {
		return nil, err
	}
	labels, err := types.LabelMappingFromID2Label(cfg.ID2Label)
	if err != nil {
		return nil, fmt.Errorf("invalid id2label in %s: %w", dir, err)
	}

	model := NewModel(cfg.ProblemType, labels, cfg.NumFeatures)
	if err := model.loadWeights(dir); err != nil {
		return nil, err
	}
	return model, nil
}

func (m *Model) loadWeights(dir string) error {
	var w weights
	if err := readJSON(filepath.Join(dir, weightsFile), &w); err != nil {
		return fmt.Errorf("error reading model weights: %w", err)
	}
	if len(w.Weights) != len(m.weights) || len(w.Bias) != len(m.bias) {
		return fmt.Errorf("model weights in %s have %d labels, expected %d", dir, len(w.Bias), len(m.bias))
	}
	for _, row := range w.Weights {
		if len(row) != m.numFeatures {
			return fmt.Errorf("model weights in %s have %d features, expected %d", dir, len(row), m.numFeatures)
		}
	}
	m.weights, m.bias = w.Weights, w.Bias
	return nil
}

func isModelDir(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, weightsFile))
	return err == nil
}
