package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := NewLoader(filepath.Join(dir, "absent.json")).Load()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Governor.MaxReActSessions)
	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, filepath.Join(cfg.DataDir, "audit.db"), cfg.Audit.DBPath)
}

func TestLoader_ReadsJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sigap.json")
	content := `{
  "governor": {"max_react_sessions": 2, "max_workflows": 1},
  "tools": {"timeout": "5s", "repetition_match": "normalized"},
  "router": {"classifier": "keyword", "confidence_threshold": 0.7},
  "data_dir": "` + dir + `"
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Governor.MaxReActSessions)
	assert.Equal(t, 1, cfg.Governor.MaxWorkflows)
	assert.Equal(t, 5*time.Second, cfg.Tools.Timeout)
	assert.Equal(t, "normalized", cfg.Tools.RepetitionMatch)
	assert.Equal(t, 0.7, cfg.Router.ConfidenceThreshold)
	// Keys absent from the file keep their defaults
	assert.Equal(t, 500, cfg.Tools.MaxResultChars)
	assert.Equal(t, dir, cfg.DataDir)
	require.NoError(t, cfg.Validate())
}

func TestLoader_ReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sigap.yaml")
	content := "orchestrator:\n  max_parallel: 2\n  workflow_timeout: 1m\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Orchestrator.MaxParallel)
	assert.Equal(t, time.Minute, cfg.Orchestrator.WorkflowTimeout)
}

func TestLoader_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SIGAP_GOVERNOR_MAX_WORKFLOWS", "7")

	cfg, err := NewLoader(filepath.Join(dir, "absent.json")).Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Governor.MaxWorkflows)
}

func TestLoader_SaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "sigap.json")
	loader := NewLoader(path)

	cfg := DefaultConfig()
	cfg.DataDir = dir
	cfg.Governor.MaxReActSessions = 4
	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.Governor.MaxReActSessions)
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sigap.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"governor": {"max_react_sessions": 3}}`), 0644))

	w, err := NewWatcher(NewLoader(path), 20*time.Millisecond)
	require.NoError(t, err)

	reloaded := make(chan *Config, 4)
	w.OnReload(func(cfg *Config) { reloaded <- cfg })
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte(`{"governor": {"max_react_sessions": 8}}`), 0644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 8, cfg.Governor.MaxReActSessions)
	case <-time.After(3 * time.Second):
		t.Fatal("config was not reloaded")
	}
}

func TestWatcher_InvalidConfigIsIgnored(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sigap.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0644))

	w, err := NewWatcher(NewLoader(path), 20*time.Millisecond)
	require.NoError(t, err)

	reloaded := make(chan *Config, 4)
	w.OnReload(func(cfg *Config) { reloaded <- cfg })
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte(`{"governor": {"max_react_sessions": -1}}`), 0644))

	select {
	case <-reloaded:
		t.Fatal("invalid config must not be delivered")
	case <-time.After(300 * time.Millisecond):
	}
}
