package tokenizer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	DefaultNumBuckets = 1 << 18

	hashingConfigFile = "hashing_tokenizer.json"

	// Id 0 is reserved for padding.
	firstTokenID = 1
)

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]+|[^\p{L}\p{N}_\s]`)

type hashingConfig struct {
	Type       string `json:"type"`
	NumBuckets int    `json:"num_buckets"`
	MaxLength  int    `json:"max_length"`
	Lowercase  bool   `json:"lowercase"`
}

// HashingTokenizer maps lower cased words and punctuation into a fixed id
// space with feature hashing, so it needs no vocabulary.
type HashingTokenizer struct {
	numBuckets int
	maxLength  int
}

var _ Tokenizer = (*HashingTokenizer)(nil)

func NewHashingTokenizer(numBuckets, maxLength int) *HashingTokenizer {
	if numBuckets <= firstTokenID {
		numBuckets = DefaultNumBuckets
	}
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &HashingTokenizer{numBuckets: numBuckets, maxLength: maxLength}
}

func LoadHashingTokenizer(dir string) (*HashingTokenizer, error) {
	data, err := os.ReadFile(filepath.Join(dir, hashingConfigFile))
	if err != nil {
		return nil, fmt.Errorf("error reading hashing tokenizer config: %w", err)
	}
	var cfg hashingConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing hashing tokenizer config: %w", err)
	}
	return NewHashingTokenizer(cfg.NumBuckets, cfg.MaxLength), nil
}

func (h *HashingTokenizer) Encode(text string) Encoding {
	words := wordPattern.FindAllString(strings.ToLower(text), h.maxLength)
	ids := make([]int32, len(words))
	span := uint64(h.numBuckets - firstTokenID)
	for i, w := range words {
		ids[i] = int32(firstTokenID + xxhash.Sum64String(w)%span)
	}
	return Encoding{InputIDs: ids, AttentionMask: Ones(len(ids))}
}

func (h *HashingTokenizer) EncodeBatch(texts []string) []Encoding {
	out := make([]Encoding, len(texts))
	for i, text := range texts {
		out[i] = h.Encode(text)
	}
	return out
}

func (h *HashingTokenizer) VocabSize() int {
	return h.numBuckets
}

func (h *HashingTokenizer) MaxLength() int {
	return h.maxLength
}

func (h *HashingTokenizer) Save(dir string) error {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return fmt.Errorf("error creating tokenizer directory: %w", err)
	}
	data, err := json.MarshalIndent(hashingConfig{
		Type:       string(Hashing),
		NumBuckets: h.numBuckets,
		MaxLength:  h.maxLength,
		Lowercase:  true,
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, hashingConfigFile), data, 0o644); err != nil {
		return fmt.Errorf("error saving hashing tokenizer: %w", err)
	}
	return nil
}
