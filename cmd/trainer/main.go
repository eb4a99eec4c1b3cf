package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"textclf/cmd"
	"textclf/internal/hub"
	"textclf/internal/linear"
	"textclf/internal/tokenizer"
	"textclf/internal/tokenizer/hf"
	"textclf/internal/training"
)

func cacheDir() string {
	if dir := os.Getenv("TEXTCLF_CACHE"); dir != "" {
		return dir
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "textclf")
	}
	return filepath.Join(dir, "textclf")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cache := cacheDir()
	endpoint := os.Getenv("HF_ENDPOINT")
	if endpoint == "" {
		endpoint = hub.DefaultEndpoint
	}

	tokenizers := tokenizer.DefaultLoaders()
	tokenizers[tokenizer.HuggingFace] = hf.Loader(hub.NewClient(endpoint, hub.TokenFromEnv("")), filepath.Join(cache, "tokenizers"))

	deps := training.Deps{
		Frameworks: training.Frameworks{
			linear.FromScratch: linear.Framework{CacheDir: filepath.Join(cache, "models")},
		},
		Tokenizers:  tokenizers,
		HubEndpoint: endpoint,
	}

	if err := cmd.NewTrainerCommand(deps).ExecuteContext(ctx); err != nil {
		log.Fatalf("trainer: %v", err)
	}
}
