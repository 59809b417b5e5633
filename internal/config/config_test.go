package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.NumThreads)
	assert.Equal(t, 10*time.Second, cfg.PollingInterval)
	assert.Equal(t, "FINISH_ALL_POSSIBLE", cfg.FailureOption)
	assert.Equal(t, 10*time.Minute, cfg.JobStartSLA)
	assert.Equal(t, time.Duration(0), cfg.JobSubmitTimeout)

	assert.Equal(t, "fs", cfg.DagStateStore.Class)
	assert.Equal(t, "fs", cfg.FailedDagStore.Class)
	assert.Equal(t, 7*24*time.Hour, cfg.FailedDagStore.RetentionTime)
	assert.Equal(t, 60*time.Minute, cfg.FailedDagStore.RetentionPollingPeriod)
	assert.Equal(t, "fs", cfg.DagActionStore.Class)

	assert.True(t, cfg.HTTP.Enabled)
	assert.Equal(t, "127.0.0.1:9090", cfg.HTTP.Addr)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DAGMGR_NUMTHREADS", "7")
	t.Setenv("DAGMGR_FAILUREOPTION", "CANCEL")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.NumThreads)
	assert.Equal(t, "CANCEL", cfg.FailureOption)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/dagmanager.yaml"
	require.NoError(t, os.WriteFile(path, []byte("numThreads: 9\nhttp:\n  enabled: false\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.NumThreads)
	assert.False(t, cfg.HTTP.Enabled)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load("/nonexistent/dagmanager.yaml")
	assert.Error(t, err)
}
