package watcher

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/aonescu/miharu/internal/clusterapi"
	"github.com/aonescu/miharu/internal/config"
	"github.com/aonescu/miharu/internal/history"
)

// Supervisor starts one Session per configured cluster and waits for all of
// them. It carries no restart policy of its own; reconnection lives inside
// the sessions' watch loops.
type Supervisor struct {
	notifier   clusterapi.Notifier
	podHistory history.Store
	pvcHistory history.Store
	opts       Options

	// newSession is swappable so tests can observe session lifecycles.
	newSession func(config.ClusterConfig) *Session
}

func NewSupervisor(notifier clusterapi.Notifier, podHistory, pvcHistory history.Store, opts Options) *Supervisor {
	s := &Supervisor{
		notifier:   notifier,
		podHistory: podHistory,
		pvcHistory: pvcHistory,
		opts:       opts,
	}
	s.newSession = func(cfg config.ClusterConfig) *Session {
		return NewSession(cfg, s.notifier, s.podHistory, s.pvcHistory, s.opts)
	}
	return s
}

// StartAll runs every valid cluster concurrently and blocks until all
// sessions have terminated. An invalid or failing cluster is logged and
// skipped; one cluster's misconfiguration never blocks the others. The
// returned error is non-nil only when not a single session could start.
func (s *Supervisor) StartAll(ctx context.Context, clusters []config.ClusterConfig) error {
	if len(clusters) == 0 {
		return errors.New("no clusters configured")
	}

	var wg sync.WaitGroup
	started := 0
	for _, cfg := range clusters {
		if err := cfg.Validate(); err != nil {
			klog.Errorf("Skipping cluster: %v", err)
			continue
		}

		started++
		sess := s.newSession(cfg)
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := sess.Run(ctx); err != nil {
				klog.Errorf("Cluster session %q terminated: %v", name, err)
			}
		}(cfg.Name)
	}

	if started == 0 {
		return errors.New("no cluster sessions could be started")
	}

	klog.Infof("Supervising %d cluster sessions", started)
	wg.Wait()
	return nil
}
