package config_test

import (
	"os"
	"testing"

	"github.com/sakganji/datasetd/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.ListenAddress())
}

func TestEnvOverride(t *testing.T) {
	os.Setenv("DATASETD_PORT", "9090")
	os.Setenv("DATASETD_BATCH_SIZE", "500")
	defer os.Unsetenv("DATASETD_PORT")
	defer os.Unsetenv("DATASETD_BATCH_SIZE")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 500, cfg.Import.BatchSize)
}

func TestInvalidPortRejected(t *testing.T) {
	os.Setenv("DATASETD_PORT", "99999")
	defer os.Unsetenv("DATASETD_PORT")

	_, err := config.Load("")
	require.Error(t, err)
}
