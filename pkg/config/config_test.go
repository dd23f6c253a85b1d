package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("REDLETTERS_DATA_ROOT", "")
	t.Setenv("REDLETTERS_WORKSPACE_ROOT", "")
	t.Setenv("REDLETTERS_INTEGRITY_SIZE_THRESHOLD", "")

	c := Load()
	assert.NotEmpty(t, c.DataRoot)
	assert.NotEmpty(t, c.WorkspaceRoot)
	assert.Equal(t, "INFO", c.LogLevel)
	assert.Equal(t, int64(50*1024*1024), c.IntegritySizeThreshold)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("REDLETTERS_DATA_ROOT", "/tmp/rl-data")
	t.Setenv("REDLETTERS_INTEGRITY_SIZE_THRESHOLD", "1024")

	c := Load()
	assert.Equal(t, "/tmp/rl-data", c.DataRoot)
	assert.Equal(t, int64(1024), c.IntegritySizeThreshold)
}
