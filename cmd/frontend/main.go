package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"textclf/cmd"
	"textclf/internal/api"
	"textclf/internal/config"
	"textclf/internal/inference"
	"textclf/internal/inference/onnx"
	"textclf/internal/linear"
	"textclf/internal/tokenizer"
	"textclf/internal/tokenizer/hf"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// newScorer picks the backend once; it is never re-checked per request.
func newScorer(ctx context.Context, cfg *config.FrontendConfig) (inference.Scorer, error) {
	if cfg.UseSageMaker() {
		return inference.NewSageMakerScorer(ctx, cfg.SageMakerEndpoint, cfg.SageMakerRegion)
	}

	tokenizers := tokenizer.DefaultLoaders()
	tokenizers[tokenizer.HuggingFace] = func(_ context.Context, ref config.TokenizerRef, _ string) (tokenizer.Tokenizer, error) {
		return hf.Load(ref.NameOrPath)
	}

	loaders := inference.Loaders{
		linear.ModelType: inference.PipelineLoader(tokenizers),
		"onnx":           onnx.Loader(cfg.OnnxRuntimeDylib),
	}
	return loaders.Load(ctx, cfg.ModelType, cfg.ModelDir)
}

func main() {
	log.Println("Starting inference front-end...")

	cmd.LoadEnvFile()

	cfg, err := config.LoadFrontendConfig()
	if err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	scorer, err := newScorer(context.Background(), cfg)
	if err != nil {
		log.Fatalf("could not load scorer: %v", err)
	}

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	api.NewInferenceService(scorer).AddRoutes(r)

	server := &http.Server{
		Addr:    cfg.Addr(),
		Handler: r,
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	slog.Info("front-end listening", "addr", cfg.Addr(), "sagemaker", cfg.UseSageMaker(), "model_type", cfg.ModelType)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v\n", cfg.Addr(), err)
	}

	log.Println("Server stopped.")
}
