package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrontendConfig(t *testing.T) {
	t.Setenv("SAGEMAKER_ENDPOINT", "emotions-endpoint")
	t.Setenv("SAGEMAKER_REGION", "eu-west-1")
	t.Setenv("PORT", "8080")

	cfg, err := LoadFrontendConfig()
	require.NoError(t, err)
	assert.True(t, cfg.UseSageMaker())
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, "linear", cfg.ModelType)
}

func TestLoadFrontendConfigRequiresBackend(t *testing.T) {
	t.Setenv("SAGEMAKER_ENDPOINT", "")
	t.Setenv("MODEL_DIR", "")

	_, err := LoadFrontendConfig()
	require.Error(t, err)

	t.Setenv("MODEL_DIR", "/models/emotions")
	cfg, err := LoadFrontendConfig()
	require.NoError(t, err)
	assert.False(t, cfg.UseSageMaker())
	assert.Equal(t, 7860, cfg.Port)
}
