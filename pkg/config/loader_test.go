package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talenthub/flagkit/pkg/config"
)

type testConfig struct {
	Host string `env:"FLAGKIT_TEST_HOST" envDefault:"localhost"`
	Port int    `env:"FLAGKIT_TEST_PORT" envDefault:"6379"`
}

type overriddenConfig struct {
	Value string `env:"FLAGKIT_TEST_VALUE" envDefault:"fallback"`
}

func TestLoadDefaults(t *testing.T) {
	var cfg testConfig
	require.NoError(t, config.Load(&cfg))

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 6379, cfg.Port)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("FLAGKIT_TEST_VALUE", "from-env")

	var cfg overriddenConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "from-env", cfg.Value)
}

func TestLoadCachesPerType(t *testing.T) {
	var first testConfig
	require.NoError(t, config.Load(&first))

	// A later change to the environment does not affect the cached type.
	t.Setenv("FLAGKIT_TEST_HOST", "elsewhere")
	var second testConfig
	require.NoError(t, config.Load(&second))
	assert.Equal(t, first.Host, second.Host)
}

func TestLoadNilPointer(t *testing.T) {
	err := config.Load[testConfig](nil)
	assert.ErrorIs(t, err, config.ErrNilPointer)
}
