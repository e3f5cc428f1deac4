package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/klog/v2"

	"github.com/aonescu/miharu/internal/cluster"
	"github.com/aonescu/miharu/internal/clusterapi"
	"github.com/aonescu/miharu/internal/config"
	"github.com/aonescu/miharu/internal/history"
	"github.com/aonescu/miharu/internal/translate"
)

// Pod phases that are forwarded even when critical_events_only is set.
func criticalPhase(phase string) bool {
	return phase == string(corev1.PodFailed) || phase == translate.PhaseUnknown
}

// Session owns one cluster's client and runs one watch loop per configured
// resource kind. The loops are independent: a failing pod stream never tears
// down the claim stream and vice versa.
type Session struct {
	cluster    config.ClusterConfig
	notifier   clusterapi.Notifier
	podHistory history.Store
	pvcHistory history.Store
	opts       Options

	// newClientset is swappable so tests can inject a fake clientset.
	newClientset func(config.ClusterConfig) (kubernetes.Interface, error)

	clock func() time.Time
}

func NewSession(cfg config.ClusterConfig, notifier clusterapi.Notifier, podHistory, pvcHistory history.Store, opts Options) *Session {
	return &Session{
		cluster:      cfg,
		notifier:     notifier,
		podHistory:   podHistory,
		pvcHistory:   pvcHistory,
		opts:         opts,
		newClientset: cluster.NewClientset,
		clock:        time.Now,
	}
}

// Run connects to the cluster and blocks until every watch loop has
// terminated. A connection setup failure terminates only this session; the
// error is returned to the supervisor rather than crashing the process.
func (s *Session) Run(ctx context.Context) error {
	klog.Infof("Starting watcher for cluster: %s", s.cluster.Name)

	client, err := s.newClientset(s.cluster)
	if err != nil {
		return errors.Wrapf(err, "cluster %q: client setup failed", s.cluster.Name)
	}

	// Cheap connectivity probe before spawning watch loops, so a
	// misconfigured endpoint fails loudly instead of reconnecting forever.
	if _, err := client.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{Limit: 1}); err != nil {
		return errors.Wrapf(err, "cluster %q: connection probe failed", s.cluster.Name)
	}

	var wg sync.WaitGroup
	for _, resource := range s.cluster.WatchResources() {
		w, err := s.newResourceWatcher(client, resource)
		if err != nil {
			klog.Errorf("[%s] %v", s.cluster.Name, err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.run(ctx)
		}()
	}
	wg.Wait()

	klog.Infof("[%s] All watch loops terminated", s.cluster.Name)
	return nil
}

func (s *Session) newResourceWatcher(client kubernetes.Interface, resource string) (*resourceWatcher, error) {
	w := &resourceWatcher{
		clusterName: s.cluster.Name,
		resource:    resource,
		idleTimeout: s.opts.IdleTimeout,
	}
	switch resource {
	case config.ResourcePods:
		w.listWatch = podListWatch(client)
		w.handle = s.handlePodEvent
	case config.ResourcePVCs:
		w.listWatch = pvcListWatch(client)
		w.handle = s.handlePVCEvent
	default:
		return nil, errors.Errorf("no watch loop for resource %q", resource)
	}
	return w, nil
}

// handlePodEvent applies the dedup policy to one pod event. The first
// sighting of a UID seeds the history silently; a phase transition notifies
// ClusterAPI and records the new phase only when delivery succeeds, so a
// failed delivery is retried on the next genuinely different phase.
func (s *Session) handlePodEvent(eventType watch.EventType, obj runtime.Object) {
	pod, ok := obj.(*corev1.Pod)
	if !ok {
		klog.Warningf("[%s] Pod watch delivered a %T, skipping", s.cluster.Name, obj)
		return
	}
	if !s.opts.allowsNamespace(pod.Namespace) {
		klog.V(4).Infof("[%s] Skipping pod %s/%s: namespace not monitored",
			s.cluster.Name, pod.Namespace, pod.Name)
		return
	}

	currentPhase := translate.PodPhase(pod)
	key := history.Key{Cluster: s.cluster.Name, UID: pod.UID}
	now := s.clock()

	klog.V(3).Infof("[%s] Pod event: %s - %s/%s - Phase: %s",
		s.cluster.Name, eventType, pod.Namespace, pod.Name, currentPhase)

	prev, seen := s.podHistory.Get(key)
	switch {
	case !seen:
		klog.V(2).Infof("[%s] Initial phase for %s/%s - no previous phase to compare",
			s.cluster.Name, pod.Namespace, pod.Name)
		s.podHistory.Put(key, currentPhase, now)

	case prev.Phase != currentPhase:
		s.notifyPodTransition(pod, key, prev.Phase, currentPhase, eventType, now)

	default:
		klog.V(3).Infof("[%s] No phase change for %s/%s - skipping notification",
			s.cluster.Name, pod.Namespace, pod.Name)
	}

	// A deleted pod's UID never comes back; drop its dedup slot.
	if eventType == watch.Deleted {
		s.podHistory.Delete(key)
	}
}

func (s *Session) notifyPodTransition(pod *corev1.Pod, key history.Key, previousPhase, currentPhase string, eventType watch.EventType, now time.Time) {
	if s.opts.CriticalEventsOnly && !criticalPhase(currentPhase) {
		// Keep the history current so a later critical transition still
		// reports the right previous phase.
		klog.V(2).Infof("[%s] Suppressing non-critical transition %s → %s for %s/%s",
			s.cluster.Name, previousPhase, currentPhase, pod.Namespace, pod.Name)
		s.podHistory.Put(key, currentPhase, now)
		return
	}

	if criticalPhase(currentPhase) {
		klog.Warningf("[%s] Pod phase change detected: %s/%s - %s → %s",
			s.cluster.Name, pod.Namespace, pod.Name, previousPhase, currentPhase)
	} else {
		klog.Infof("[%s] Pod phase change detected: %s/%s - %s → %s",
			s.cluster.Name, pod.Namespace, pod.Name, previousPhase, currentPhase)
	}

	event := translate.Pod(pod, s.cluster.Name, s.opts.Environment, previousPhase, now)
	event.EventType = string(eventType)

	if s.notifier.PodEvent(event) {
		s.podHistory.Put(key, currentPhase, now)
	} else {
		klog.Errorf("[%s] Failed to notify ClusterAPI about phase change: %s/%s",
			s.cluster.Name, pod.Namespace, pod.Name)
	}
}

// handlePVCEvent mirrors the pod policy for claims, with one exception:
// deletion is a terminal one-shot signal and is always forwarded, whatever
// the recorded phase says.
func (s *Session) handlePVCEvent(eventType watch.EventType, obj runtime.Object) {
	pvc, ok := obj.(*corev1.PersistentVolumeClaim)
	if !ok {
		klog.Warningf("[%s] PVC watch delivered a %T, skipping", s.cluster.Name, obj)
		return
	}
	if !s.opts.allowsNamespace(pvc.Namespace) {
		klog.V(4).Infof("[%s] Skipping PVC %s/%s: namespace not monitored",
			s.cluster.Name, pvc.Namespace, pvc.Name)
		return
	}

	currentPhase := translate.PVCPhase(pvc)
	key := history.Key{Cluster: s.cluster.Name, UID: pvc.UID}
	now := s.clock()

	klog.V(3).Infof("[%s] PVC event: %s - %s/%s - Phase: %s",
		s.cluster.Name, eventType, pvc.Namespace, pvc.Name, currentPhase)

	if eventType == watch.Deleted {
		klog.Infof("[%s] PVC deleted: %s in namespace %s", s.cluster.Name, pvc.Name, pvc.Namespace)
		event := translate.PVC(pvc, s.cluster.Name, s.opts.Environment, string(eventType), now)
		if !s.notifier.PVCEvent(event) {
			klog.Errorf("[%s] Failed to notify ClusterAPI about PVC deletion: %s/%s",
				s.cluster.Name, pvc.Namespace, pvc.Name)
		}
		s.pvcHistory.Delete(key)
		return
	}

	prev, seen := s.pvcHistory.Get(key)
	switch {
	case !seen:
		s.pvcHistory.Put(key, currentPhase, now)

	case prev.Phase != currentPhase:
		klog.Infof("[%s] PVC phase change detected: %s/%s - %s → %s",
			s.cluster.Name, pvc.Namespace, pvc.Name, prev.Phase, currentPhase)
		event := translate.PVC(pvc, s.cluster.Name, s.opts.Environment, string(eventType), now)
		if s.notifier.PVCEvent(event) {
			s.pvcHistory.Put(key, currentPhase, now)
		} else {
			klog.Errorf("[%s] Failed to notify ClusterAPI about PVC change: %s/%s",
				s.cluster.Name, pvc.Namespace, pvc.Name)
		}

	default:
		klog.V(3).Infof("[%s] No phase change for PVC %s/%s - skipping notification",
			s.cluster.Name, pvc.Namespace, pvc.Name)
	}
}
