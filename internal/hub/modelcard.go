package hub

import (
	"bytes"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v2"
)

type cardMetadata struct {
	Language  []string `yaml:"language,omitempty"`
	License   string   `yaml:"license,omitempty"`
	BaseModel string   `yaml:"base_model,omitempty"`
	Tags      []string `yaml:"tags,omitempty"`
	Datasets  []string `yaml:"datasets,omitempty"`
	Metrics   []string `yaml:"metrics,omitempty"`
	ModelName string   `yaml:"model_name,omitempty"`
}

type ModelCard struct {
	ModelName       string
	Language        string
	License         string
	FinetunedFrom   string
	Tasks           []string
	Datasets        []string
	ProblemType     string
	Labels          []string
	EvalResults     map[string]float64
	Hyperparameters map[string]any
}

func (c ModelCard) metadata() cardMetadata {
	meta := cardMetadata{
		License:   c.License,
		BaseModel: c.FinetunedFrom,
		Tags:      append([]string{"text-classification"}, c.Tasks...),
		Datasets:  c.Datasets,
		ModelName: c.ModelName,
	}
	if c.Language != "" {
		meta.Language = []string{c.Language}
	}
	for _, name := range slices.Sorted(maps.Keys(c.EvalResults)) {
		meta.Metrics = append(meta.Metrics, name)
	}
	return meta
}

// Render produces a README.md with yaml front matter understood by the hub.
func (c ModelCard) Render() ([]byte, error) {
	front, err := yaml.Marshal(c.metadata())
	if err != nil {
		return nil, fmt.Errorf("error rendering model card metadata: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(front)
	buf.WriteString("---\n\n")

	title := c.ModelName
	if title == "" {
		title = "Text classification model"
	}
	fmt.Fprintf(&buf, "# %s\n\n", title)

	if c.FinetunedFrom != "" {
		fmt.Fprintf(&buf, "This model is a fine-tuned version of [%s](https://huggingface.co/%s)", c.FinetunedFrom, c.FinetunedFrom)
	} else {
		buf.WriteString("This model was trained from scratch")
	}
	if len(c.Datasets) > 0 {
		fmt.Fprintf(&buf, " on %s", joinQuoted(c.Datasets))
	}
	buf.WriteString(".\n\n")

	if c.ProblemType != "" {
		fmt.Fprintf(&buf, "Problem type: %s\n\n", c.ProblemType)
	}
	if len(c.Labels) > 0 {
		buf.WriteString("Labels: ")
		buf.WriteString(joinQuoted(c.Labels))
		buf.WriteString("\n\n")
	}

	if len(c.EvalResults) > 0 {
		buf.WriteString("## Evaluation results\n\n| Metric | Value |\n|:--|--:|\n")
		for _, name := range slices.Sorted(maps.Keys(c.EvalResults)) {
			fmt.Fprintf(&buf, "| %s | %.5g |\n", name, c.EvalResults[name])
		}
		buf.WriteString("\n")
	}

	if len(c.Hyperparameters) > 0 {
		buf.WriteString("## Training hyperparameters\n\n")
		for _, name := range slices.Sorted(maps.Keys(c.Hyperparameters)) {
			fmt.Fprintf(&buf, "- %s: %v\n", name, c.Hyperparameters[name])
		}
		buf.WriteString("\n")
	}

	return buf.Bytes(), nil
}

func (c ModelCard) Write(dir string) error {
	data, err := c.Render()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), data, 0o644); err != nil {
		return fmt.Errorf("error writing model card: %w", err)
	}
	return nil
}

func joinQuoted(values []string) string {
	var buf bytes.Buffer
	for i, v := range values {
		if i > 0 {
			buf.WriteString(", ")
		}
		fmt.Fprintf(&buf, "`%s`", v)
	}
	return buf.String()
}
