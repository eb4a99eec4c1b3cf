package tokenizer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"textclf/internal/config"
)

const DefaultMaxLength = 512

type Encoding struct {
	InputIDs      []int32 `json:"input_ids"`
	AttentionMask []int32 `json:"attention_mask"`
}

type Tokenizer interface {
	Encode(text string) Encoding

	EncodeBatch(texts []string) []Encoding

	VocabSize() int

	// MaxLength is the length encodings are truncated to.
	MaxLength() int

	Save(dir string) error
}

type Type string

const (
	Hashing     Type = "hashing"
	HuggingFace Type = "hf"
)

type LoaderFunc func(ctx context.Context, ref config.TokenizerRef, token string) (Tokenizer, error)

// Loaders maps tokenizer types to their loaders. The hashing tokenizer is
// always available; cgo backed ones are registered by the binaries.
type Loaders map[Type]LoaderFunc

func DefaultLoaders() Loaders {
	return Loaders{
		Hashing: func(_ context.Context, ref config.TokenizerRef, _ string) (Tokenizer, error) {
			if ref.NameOrPath == string(Hashing) {
				return NewHashingTokenizer(DefaultNumBuckets, DefaultMaxLength), nil
			}
			return LoadHashingTokenizer(localDir(ref))
		},
	}
}

func localDir(ref config.TokenizerRef) string {
	return filepath.Join(ref.NameOrPath, ref.Subfolder)
}

// Detect picks the tokenizer type for ref: the builtin hashing tokenizer when
// ref names it or points at a directory it saved, otherwise a Hugging Face
// tokenizer.
func Detect(ref config.TokenizerRef) Type {
	if ref.NameOrPath == string(Hashing) {
		return Hashing
	}
	if _, err := os.Stat(filepath.Join(localDir(ref), hashingConfigFile)); err == nil {
		return Hashing
	}
	return HuggingFace
}

func (l Loaders) Load(ctx context.Context, ref config.TokenizerRef, token string) (Tokenizer, error) {
	tokType := Detect(ref)
	loader, ok := l[tokType]
	if !ok {
		return nil, fmt.Errorf("no loader registered for tokenizer type '%s' needed by %s", tokType, ref.NameOrPath)
	}

	tok, err := loader(ctx, ref, token)
	if err != nil {
		return nil, fmt.Errorf("error loading tokenizer %s: %w", ref.NameOrPath, err)
	}
	slog.Info("loaded tokenizer", "name", ref.NameOrPath, "type", tokType, "vocab_size", tok.VocabSize(), "max_length", tok.MaxLength())
	return tok, nil
}

// Truncate cuts ids to maxLength. When keepLast is set the final id (usually
// a separator token) survives the cut.
func Truncate(ids []int32, maxLength int, keepLast bool) []int32 {
	if maxLength <= 0 || len(ids) <= maxLength {
		return ids
	}
	if keepLast && maxLength > 1 {
		out := make([]int32, maxLength)
		copy(out, ids[:maxLength-1])
		out[maxLength-1] = ids[len(ids)-1]
		return out
	}
	return ids[:maxLength]
}

func Ones(n int) []int32 {
	mask := make([]int32, n)
	for i := range mask {
		mask[i] = 1
	}
	return mask
}
