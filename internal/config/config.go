// Package config loads the watcher configuration: config/base.yaml overlaid
// with config/<environment>.yaml, with ${VAR} and ${VAR:-default} references
// substituted from the process environment.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"
)

// Environments the watcher can be started in.
var SupportedEnvironments = []string{"development", "staging", "production"}

// Resource kinds a cluster can be configured to watch.
const (
	ResourcePods = "pods"
	ResourcePVCs = "persistentvolumeclaims"
)

// ClusterConfig describes one cluster connection. Either Host (with Token)
// or ConfigFile must be set. The supervisor hands each session its own copy.
type ClusterConfig struct {
	Name       string   `json:"name"`
	Host       string   `json:"host,omitempty"`
	VerifySSL  *bool    `json:"verify_ssl,omitempty"`
	Token      string   `json:"token,omitempty"`
	ConfigFile string   `json:"config_file,omitempty"`
	Resources  []string `json:"resources,omitempty"`
}

// TLSVerify reports whether server certificates should be verified.
// Unset means verify.
func (c ClusterConfig) TLSVerify() bool {
	return c.VerifySSL == nil || *c.VerifySSL
}

// WatchResources returns the resource kinds to watch, defaulting to pods
// and persistent volume claims.
func (c ClusterConfig) WatchResources() []string {
	if len(c.Resources) == 0 {
		return []string{ResourcePods, ResourcePVCs}
	}
	return c.Resources
}

// Validate reports whether this entry can produce a client. A bad entry only
// skips its own cluster, never the others.
func (c ClusterConfig) Validate() error {
	if c.Name == "" {
		return errors.New("cluster name is required")
	}
	if c.Host == "" && c.ConfigFile == "" {
		return errors.Errorf("cluster %q needs either host or config_file", c.Name)
	}
	for _, r := range c.Resources {
		if r != ResourcePods && r != ResourcePVCs {
			return errors.Errorf("cluster %q watches unsupported resource %q", c.Name, r)
		}
	}
	return nil
}

type KubernetesConfig struct {
	Clusters []ClusterConfig `json:"clusters"`
}

type WatcherConfig struct {
	// Namespaces is an allow-list; empty means all namespaces.
	Namespaces         []string `json:"namespaces,omitempty"`
	LogLevel           string   `json:"log_level,omitempty"`
	CriticalEventsOnly bool     `json:"critical_events_only,omitempty"`
	IdleTimeoutSeconds int      `json:"idle_timeout_seconds,omitempty"`
	HistoryTTLMinutes  int      `json:"history_ttl_minutes,omitempty"`
}

// IdleTimeout is how long a watch stream may stay silent before it is
// treated as dead and reopened.
func (w WatcherConfig) IdleTimeout() time.Duration {
	if w.IdleTimeoutSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(w.IdleTimeoutSeconds) * time.Second
}

// HistoryTTL bounds how long an unseen resource stays in the phase history.
func (w WatcherConfig) HistoryTTL() time.Duration {
	if w.HistoryTTLMinutes <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(w.HistoryTTLMinutes) * time.Minute
}

type ClusterAPIAuth struct {
	APIKey string `json:"api_key,omitempty"`
}

type ClusterAPIConfig struct {
	BaseURL        string         `json:"base_url"`
	Auth           ClusterAPIAuth `json:"auth,omitempty"`
	TimeoutSeconds int            `json:"timeout,omitempty"`
}

func (c ClusterAPIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Config is the fully resolved configuration handed to the supervisor.
type Config struct {
	Environment string           `json:"-"`
	Kubernetes  KubernetesConfig `json:"kubernetes"`
	Watcher     WatcherConfig    `json:"watcher"`
	ClusterAPI  ClusterAPIConfig `json:"clusterapi"`
}

func (c *Config) Validate() error {
	if len(c.Kubernetes.Clusters) == 0 {
		return errors.New("no clusters configured")
	}
	if c.ClusterAPI.BaseURL == "" {
		return errors.New("clusterapi.base_url is required")
	}
	return nil
}

// SupportedEnvironment reports whether env is one of the known environments.
func SupportedEnvironment(env string) bool {
	for _, e := range SupportedEnvironments {
		if e == env {
			return true
		}
	}
	return false
}

// Load reads base.yaml overlaid with <environment>.yaml from dir, substitutes
// environment variables and validates the result. A missing overlay file is
// tolerated; a missing base.yaml is not.
func Load(dir, environment string) (*Config, error) {
	if !SupportedEnvironment(environment) {
		return nil, errors.Errorf("unsupported environment %q, expected one of %v",
			environment, SupportedEnvironments)
	}

	base, err := loadFile(filepath.Join(dir, "base.yaml"))
	if err != nil {
		return nil, err
	}

	overlayPath := filepath.Join(dir, environment+".yaml")
	overlay, err := loadFile(overlayPath)
	if err != nil {
		if !os.IsNotExist(errors.Cause(err)) {
			return nil, err
		}
		overlay = map[string]interface{}{}
	}

	merged := merge(base, overlay)
	substituteEnv(merged)

	raw, err := yaml.Marshal(merged)
	if err != nil {
		return nil, errors.Wrap(err, "failed to re-encode merged config")
	}

	cfg := &Config{Environment: environment}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string) (map[string]interface{}, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", path)
	}
	out := map[string]interface{}{}
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config file %s", path)
	}
	return out, nil
}

// merge overlays override onto base recursively; override wins on conflicts.
func merge(base, override map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(base))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if baseMap, ok := result[k].(map[string]interface{}); ok {
			if overrideMap, ok := v.(map[string]interface{}); ok {
				result[k] = merge(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// substituteEnv replaces string values of the form ${VAR} or ${VAR:-default}
// in place. Only whole-value references are substituted.
func substituteEnv(obj map[string]interface{}) {
	for k, v := range obj {
		obj[k] = substituteValue(v)
	}
}

func substituteValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		substituteEnv(val)
		return val
	case []interface{}:
		for i, item := range val {
			val[i] = substituteValue(item)
		}
		return val
	case string:
		if !strings.HasPrefix(val, "${") || !strings.HasSuffix(val, "}") {
			return val
		}
		ref := val[2 : len(val)-1]
		name, fallback := ref, ""
		if idx := strings.Index(ref, ":-"); idx >= 0 {
			name, fallback = ref[:idx], ref[idx+2:]
		}
		if env, ok := os.LookupEnv(name); ok {
			return env
		}
		return fallback
	default:
		return v
	}
}
