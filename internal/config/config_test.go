package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("INFERENCE_API_KEY", "")
	t.Setenv("STARTING_CREDITS", "")
	t.Setenv("REDIS_URL", "")

	cfg := Load()

	assert.Equal(t, 20, cfg.StartingCredits)
	assert.Equal(t, 1, cfg.ReferralSignupBonus)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, "mistralai/Mistral-7B-Instruct-v0.2", cfg.InferenceModel)
	assert.False(t, cfg.InferenceConfigured())
	assert.Empty(t, cfg.RedisURL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("INFERENCE_API_KEY", "hf_test")
	t.Setenv("INFERENCE_TIMEOUT_SECONDS", "3")
	t.Setenv("STARTING_CREDITS", "5")
	t.Setenv("SESSION_COOKIE_SECURE", "true")

	cfg := Load()

	assert.True(t, cfg.InferenceConfigured())
	assert.Equal(t, 3*time.Second, cfg.InferenceTimeout)
	assert.Equal(t, 5, cfg.StartingCredits)
	assert.True(t, cfg.CookieSecure)
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("STARTING_CREDITS", "twenty")
	t.Setenv("INFERENCE_TIMEOUT_SECONDS", "soon")
	t.Setenv("MINIO_USE_SSL", "maybe")

	cfg := Load()

	assert.Equal(t, 20, cfg.StartingCredits)
	assert.Equal(t, 20*time.Second, cfg.InferenceTimeout)
	assert.False(t, cfg.MinioUseSSL)
}
