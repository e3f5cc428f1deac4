package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
}

const baseYAML = `
clusterapi:
  base_url: http://localhost:3000
  timeout: 10
watcher:
  log_level: INFO
kubernetes:
  clusters:
    - name: base-cluster
      config_file: /tmp/kubeconfig
`

func TestLoad_BaseOnly(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", baseYAML)

	cfg, err := Load(dir, "development")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "http://localhost:3000", cfg.ClusterAPI.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.ClusterAPI.Timeout())
	require.Len(t, cfg.Kubernetes.Clusters, 1)
	assert.Equal(t, "base-cluster", cfg.Kubernetes.Clusters[0].Name)
}

func TestLoad_OverlayWins(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", baseYAML)
	writeConfig(t, dir, "production.yaml", `
watcher:
  log_level: WARNING
  critical_events_only: true
kubernetes:
  clusters:
    - name: prod
      host: https://prod.example.com:6443
      token: tok
`)

	cfg, err := Load(dir, "production")
	require.NoError(t, err)

	// Overlay replaces scalars and lists, but merged maps keep base values
	assert.Equal(t, "WARNING", cfg.Watcher.LogLevel)
	assert.True(t, cfg.Watcher.CriticalEventsOnly)
	assert.Equal(t, "http://localhost:3000", cfg.ClusterAPI.BaseURL)
	require.Len(t, cfg.Kubernetes.Clusters, 1)
	assert.Equal(t, "prod", cfg.Kubernetes.Clusters[0].Name)
	assert.Equal(t, "https://prod.example.com:6443", cfg.Kubernetes.Clusters[0].Host)
}

func TestLoad_EnvSubstitution(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", `
clusterapi:
  base_url: ${TEST_CLUSTERAPI_URL:-http://fallback:3000}
  auth:
    api_key: ${TEST_CLUSTERAPI_KEY}
kubernetes:
  clusters:
    - name: c1
      host: https://example.com
      token: ${TEST_CLUSTER_TOKEN:-default-token}
`)

	t.Setenv("TEST_CLUSTERAPI_URL", "http://from-env:3000")
	os.Unsetenv("TEST_CLUSTERAPI_KEY")

	cfg, err := Load(dir, "development")
	require.NoError(t, err)

	assert.Equal(t, "http://from-env:3000", cfg.ClusterAPI.BaseURL)
	// Unset without default collapses to empty
	assert.Empty(t, cfg.ClusterAPI.Auth.APIKey)
	// Unset with default uses the default
	assert.Equal(t, "default-token", cfg.Kubernetes.Clusters[0].Token)
}

func TestLoad_MissingOverlayTolerated(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", baseYAML)

	_, err := Load(dir, "staging")
	assert.NoError(t, err)
}

func TestLoad_MissingBaseFails(t *testing.T) {
	_, err := Load(t.TempDir(), "development")
	assert.Error(t, err)
}

func TestLoad_UnsupportedEnvironment(t *testing.T) {
	_, err := Load(t.TempDir(), "qa")
	assert.Error(t, err)
}

func TestLoad_NoClustersFails(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", `
clusterapi:
  base_url: http://localhost:3000
kubernetes:
  clusters: []
`)

	_, err := Load(dir, "development")
	assert.Error(t, err)
}

func TestClusterConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cluster ClusterConfig
		wantErr bool
	}{
		{
			name:    "host based",
			cluster: ClusterConfig{Name: "c1", Host: "https://example.com", Token: "t"},
		},
		{
			name:    "kubeconfig based",
			cluster: ClusterConfig{Name: "c1", ConfigFile: "/tmp/kubeconfig"},
		},
		{
			name:    "missing name",
			cluster: ClusterConfig{Host: "https://example.com"},
			wantErr: true,
		},
		{
			name:    "no connection parameters",
			cluster: ClusterConfig{Name: "c1"},
			wantErr: true,
		},
		{
			name:    "unsupported resource",
			cluster: ClusterConfig{Name: "c1", Host: "h", Resources: []string{"secrets"}},
			wantErr: true,
		},
		{
			name:    "explicit resources",
			cluster: ClusterConfig{Name: "c1", Host: "h", Resources: []string{ResourcePods}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cluster.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestClusterConfig_Defaults(t *testing.T) {
	c := ClusterConfig{Name: "c1", Host: "h"}

	assert.True(t, c.TLSVerify())
	assert.Equal(t, []string{ResourcePods, ResourcePVCs}, c.WatchResources())

	noVerify := false
	c.VerifySSL = &noVerify
	assert.False(t, c.TLSVerify())
}

func TestWatcherConfig_Defaults(t *testing.T) {
	w := WatcherConfig{}
	assert.Equal(t, 5*time.Minute, w.IdleTimeout())
	assert.Equal(t, 24*time.Hour, w.HistoryTTL())

	w = WatcherConfig{IdleTimeoutSeconds: 60, HistoryTTLMinutes: 30}
	assert.Equal(t, time.Minute, w.IdleTimeout())
	assert.Equal(t, 30*time.Minute, w.HistoryTTL())
}
