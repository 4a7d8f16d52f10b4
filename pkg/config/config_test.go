package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("SERVER_PORT", "")
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9003, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 10.0, cfg.Merge.TfidfWeight)
	assert.Equal(t, "glove", cfg.Embedding.Provider)
	assert.Equal(t, 7, cfg.Model.MaxAnsLen)
	assert.Equal(t, "ip", string(cfg.Model.Metric))
	assert.True(t, cfg.Model.Dense)
}

func TestLoadFromFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "piqa.yaml")
	content := `
model:
  hidden_size: 64
  metric: l2
  sparse: true
  sparse_activation: sigmoid
merge:
  tfidf_weight: 3
  draft: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	viper.SetConfigFile(path)
	require.NoError(t, viper.ReadInConfig())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Model.HiddenSize)
	assert.Equal(t, "l2", string(cfg.Model.Metric))
	assert.True(t, cfg.Model.Sparse)
	assert.Equal(t, "sigmoid", string(cfg.Model.SparseActivation))
	assert.Equal(t, 3.0, cfg.Merge.TfidfWeight)
	assert.True(t, cfg.Merge.Draft)
	// untouched keys keep their defaults
	assert.Equal(t, 300, cfg.Model.EmbedSize)
}

func TestLoadRejectsInvalidModel(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("model.metric", "manhattan")

	_, err := Load()
	assert.Error(t, err)
}

func TestEnvironmentOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("SERVER_PORT", "9100")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("PIQA_CHECKPOINT_DIR", "/tmp/ckpt")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "sk-test", cfg.Embedding.APIKey)
	assert.Equal(t, "/tmp/ckpt", cfg.Checkpoint.Dir)
}
