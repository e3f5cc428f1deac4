// Package clusterapi is the HTTP client for the external ClusterAPI status
// service. Every call converts transport and HTTP-level failures into a plain
// boolean so the watch loops' control flow is never interrupted by the sink.
package clusterapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/aonescu/miharu/internal/types"
)

const healthCheckTimeout = 5 * time.Second

// Notifier is the sink interface the watch loops depend on.
type Notifier interface {
	PodEvent(event types.PodEvent) bool
	PVCEvent(event types.PVCEvent) bool
	HealthCheck() bool
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ Notifier = &Client{}

// NewClient builds a client for the ClusterAPI endpoint. timeout bounds every
// notification request; apiKey may be empty for unauthenticated endpoints.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// PodEvent posts a pod phase-change notification. Returns true only on a 2xx
// response.
func (c *Client) PodEvent(event types.PodEvent) bool {
	return c.post("/api/pods/update", event)
}

// PVCEvent posts a claim notification. Returns true only on a 2xx response.
func (c *Client) PVCEvent(event types.PVCEvent) bool {
	return c.post("/api/pvcs/update", event)
}

// HealthCheck reports whether ClusterAPI answers its health endpoint.
func (c *Client) HealthCheck() bool {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	c.setHeaders(req)

	client := &http.Client{Timeout: healthCheckTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) post(path string, payload interface{}) bool {
	endpoint := c.baseURL + path

	body, err := json.Marshal(payload)
	if err != nil {
		klog.Errorf("Failed to encode payload for %s: %v", endpoint, err)
		return false
	}

	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		klog.Errorf("Failed to build request for %s: %v", endpoint, err)
		return false
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		klog.Errorf("Request to %s failed: %v", endpoint, err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		klog.Errorf("ClusterAPI returned status %d for %s", resp.StatusCode, endpoint)
		return false
	}

	klog.V(2).Infof("Notified ClusterAPI at %s", endpoint)
	return true
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
