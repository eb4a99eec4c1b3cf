package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
)

type FrontendConfig struct {
	Host              string `env:"HOST" envDefault:"0.0.0.0"`
	Port              int    `env:"PORT" envDefault:"7860"`
	SageMakerEndpoint string `env:"SAGEMAKER_ENDPOINT"`
	SageMakerRegion   string `env:"SAGEMAKER_REGION"`
	ModelDir          string `env:"MODEL_DIR"`
	ModelType         string `env:"MODEL_TYPE" envDefault:"linear"`
	OnnxRuntimeDylib  string `env:"ONNX_RUNTIME_DYLIB"`
}

// UseSageMaker reports whether requests go to a remote endpoint instead of a
// local pipeline. The choice is made once at startup.
func (c *FrontendConfig) UseSageMaker() bool {
	return c.SageMakerEndpoint != ""
}

func (c *FrontendConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func LoadFrontendConfig() (*FrontendConfig, error) {
	var cfg FrontendConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing frontend config: %w", err)
	}

	if !cfg.UseSageMaker() && cfg.ModelDir == "" {
		return nil, fmt.Errorf("either SAGEMAKER_ENDPOINT or MODEL_DIR must be set")
	}
	if cfg.UseSageMaker() && cfg.SageMakerRegion == "" {
		slog.Warn("SAGEMAKER_ENDPOINT is set but SAGEMAKER_REGION is missing, using default AWS region resolution")
	}

	return &cfg, nil
}
