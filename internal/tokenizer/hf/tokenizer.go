// Package hf wraps Hugging Face tokenizer.json files through the rust
// tokenizers library. It needs cgo and libtokenizers at link time.
package hf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"textclf/internal/config"
	"textclf/internal/hub"
	"textclf/internal/tokenizer"

	"github.com/daulet/tokenizers"
)

const (
	tokenizerFile       = "tokenizer.json"
	tokenizerConfigFile = "tokenizer_config.json"

	// Some configs use a huge sentinel for "no limit".
	maxSaneLength = 1 << 20
)

type Tokenizer struct {
	tk        *tokenizers.Tokenizer
	maxLength int
	files     string
}

var _ tokenizer.Tokenizer = (*Tokenizer)(nil)

// Loader returns a tokenizer loader resolving hub ids through client. Files of
// hub tokenizers are cached below cacheDir.
func Loader(client *hub.Client, cacheDir string) tokenizer.LoaderFunc {
	return func(ctx context.Context, ref config.TokenizerRef, _ string) (tokenizer.Tokenizer, error) {
		dir := filepath.Join(ref.NameOrPath, ref.Subfolder)
		if _, err := os.Stat(filepath.Join(dir, tokenizerFile)); err == nil {
			return Load(dir)
		}

		dir = filepath.Join(cacheDir, ref.NameOrPath, ref.Revision, ref.Subfolder)
		for _, name := range []string{tokenizerFile, tokenizerConfigFile} {
			err := client.DownloadFile(ctx, ref.NameOrPath, ref.Revision, filepath.ToSlash(filepath.Join(ref.Subfolder, name)), filepath.Join(dir, name))
			if err != nil && !(name == tokenizerConfigFile && errors.Is(err, hub.ErrFileNotFound)) {
				return nil, err
			}
		}
		return Load(dir)
	}
}

// Load reads tokenizer.json and, when present, tokenizer_config.json from dir.
func Load(dir string) (*Tokenizer, error) {
	tk, err := tokenizers.FromFile(filepath.Join(dir, tokenizerFile))
	if err != nil {
		return nil, fmt.Errorf("tokenizer load: %w", err)
	}

	maxLength, err := readMaxLength(dir)
	if err != nil {
		tk.Close()
		return nil, err
	}

	return &Tokenizer{tk: tk, maxLength: maxLength, files: dir}, nil
}

func readMaxLength(dir string) (int, error) {
	data, err := os.ReadFile(filepath.Join(dir, tokenizerConfigFile))
	if errors.Is(err, os.ErrNotExist) {
		return tokenizer.DefaultMaxLength, nil
	}
	if err != nil {
		return 0, fmt.Errorf("error reading tokenizer config: %w", err)
	}

	var cfg struct {
		ModelMaxLength float64 `json:"model_max_length"`
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return 0, fmt.Errorf("error parsing tokenizer config: %w", err)
	}
	if cfg.ModelMaxLength <= 0 || cfg.ModelMaxLength > maxSaneLength {
		return tokenizer.DefaultMaxLength, nil
	}
	return int(cfg.ModelMaxLength), nil
}

func (t *Tokenizer) Encode(text string) tokenizer.Encoding {
	enc := t.tk.EncodeWithOptions(text, true, tokenizers.WithReturnAllAttributes())
	ids := make([]int32, len(enc.IDs))
	for i, v := range enc.IDs {
		ids[i] = int32(v)
	}
	ids = tokenizer.Truncate(ids, t.maxLength, true)
	return tokenizer.Encoding{InputIDs: ids, AttentionMask: tokenizer.Ones(len(ids))}
}

func (t *Tokenizer) EncodeBatch(texts []string) []tokenizer.Encoding {
	out := make([]tokenizer.Encoding, len(texts))
	for i, text := range texts {
		out[i] = t.Encode(text)
	}
	return out
}

func (t *Tokenizer) VocabSize() int {
	return int(t.tk.VocabSize())
}

func (t *Tokenizer) MaxLength() int {
	return t.maxLength
}

// Save copies the tokenizer files next to a saved model.
func (t *Tokenizer) Save(dir string) error {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return err
	}
	for _, name := range []string{tokenizerFile, tokenizerConfigFile} {
		if err := copyFile(filepath.Join(t.files, name), filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("error saving %s: %w", name, err)
		}
	}
	return nil
}

func (t *Tokenizer) Close() {
	t.tk.Close()
}

func copyFile(src, dest string) error {
	if src == dest {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
