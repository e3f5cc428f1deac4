// Package cluster builds per-cluster Kubernetes clients. Each session gets
// its own rest.Config; no process-wide client state is ever mutated.
package cluster

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/u2takey/go-utils/filesystem/homedir"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/aonescu/miharu/internal/config"
)

// RESTConfig resolves the connection parameters of one cluster into a
// rest.Config. Host-based entries use bearer-token auth directly; otherwise
// the referenced kubeconfig file is loaded ("~" expands to the home
// directory, and an empty path falls back to ~/.kube/config).
func RESTConfig(cluster config.ClusterConfig) (*rest.Config, error) {
	if cluster.Host != "" {
		cfg := &rest.Config{
			Host:        cluster.Host,
			BearerToken: cluster.Token,
		}
		if !cluster.TLSVerify() {
			cfg.TLSClientConfig = rest.TLSClientConfig{Insecure: true}
		}
		return cfg, nil
	}

	kubeconfig := cluster.ConfigFile
	if strings.HasPrefix(kubeconfig, "~/") {
		kubeconfig = filepath.Join(homedir.HomeDir(), kubeconfig[2:])
	}
	if kubeconfig == "" {
		if home := homedir.HomeDir(); home != "" {
			kubeconfig = filepath.Join(home, ".kube", "config")
		}
	}

	cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load kubeconfig for cluster %q", cluster.Name)
	}
	return cfg, nil
}

// NewClientset builds a typed clientset for one cluster.
func NewClientset(cluster config.ClusterConfig) (kubernetes.Interface, error) {
	cfg, err := RESTConfig(cluster)
	if err != nil {
		return nil, err
	}
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create clientset for cluster %q", cluster.Name)
	}
	return clientset, nil
}
