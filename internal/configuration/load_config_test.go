package configuration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name+".yml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err, "failed to write yaml %s", path)
}

func TestLoad_profileOverlaysBase(t *testing.T) {
	dir := t.TempDir()

	writeYAML(t, dir, "application", "app:\n  profile: test\n  log-level: info\nagency:\n  initial-funds: 500\n  workers: 2\n")
	writeYAML(t, dir, "application-test", "app:\n  log-level: debug\nagency:\n  workers: 3\n")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Application.Profile)
	assert.Equal(t, "debug", cfg.Application.LogLevel)
	assert.Equal(t, int64(500), cfg.Agency.InitialFunds)
	assert.Equal(t, 3, cfg.Agency.Workers)
}

func TestLoad_defaultsFillGaps(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "application", "")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Application.LogLevel)
	assert.Equal(t, "submit_research_proposal", cfg.Agency.Queue)
	assert.Equal(t, "university_requests", cfg.University.Queue)
	assert.Equal(t, int64(1000000), cfg.Agency.InitialFunds)
	assert.Equal(t, int64(200000), cfg.Agency.MinGrant)
	assert.Equal(t, int64(500000), cfg.Agency.MaxGrant)
	assert.Equal(t, 6, cfg.Agency.GrantMonths)
	assert.Equal(t, 30*time.Second, cfg.RPC.TimeoutDuration())
	assert.Equal(t, 4*time.Second, cfg.Clock.MinTickDuration())
	assert.Equal(t, 6*time.Second, cfg.Clock.MaxTickDuration())
	assert.Equal(t, 5*time.Second, cfg.Agency.ResumeIntervalDuration())
	assert.Equal(t, "127.0.0.1:5680", cfg.Broker.Addr())
}

func TestLoad_missingBaseFile(t *testing.T) {
	cfg, err := Load(t.TempDir())

	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "application.yml not found")
}

func TestLoad_missingProfileFile(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "application", "app:\n  profile: prod\n")

	cfg, err := Load(dir)

	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "application-prod")
}

func TestLoad_invalidYaml(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "application", "app:\n  profile: test\n")
	writeYAML(t, dir, "application-test", "foo \"bar\"\nfoo:: \"bar\"\nfoo: \"bar\"")

	cfg, err := Load(dir)

	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "mapping values are not allowed in this context")
}

func TestLoad_expandsEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("GRANTFED_TEST_PORT", "7777")
	writeYAML(t, dir, "application", "broker:\n  port: \"${GRANTFED_TEST_PORT}\"\n")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "7777", cfg.Broker.Port)
}

func TestLoad_missingEnvironmentVariable(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "application", "broker:\n  port: \"${GRANTFED_SURELY_UNSET_VAR}\"\n")

	cfg, err := Load(dir)

	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "GRANTFED_SURELY_UNSET_VAR is not set")
}
