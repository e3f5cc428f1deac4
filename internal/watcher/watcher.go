package watcher

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/klog/v2"

	"github.com/aonescu/miharu/internal/config"
)

const (
	initialReconnectBackoff = time.Second
	maxReconnectBackoff     = 30 * time.Second

	// Server-side watch duration; the server closes the stream somewhere in
	// [minWatchTimeout, 2*minWatchTimeout) and the loop reopens it from the
	// last seen resource version.
	minWatchTimeout = 5 * time.Minute
)

// listWatch is the list+watch primitive for one resource kind. list returns
// the current snapshot plus the collection resource version to watch from.
type listWatch struct {
	list  func(ctx context.Context, opts metav1.ListOptions) ([]runtime.Object, string, error)
	watch func(ctx context.Context, opts metav1.ListOptions) (watch.Interface, error)
}

func podListWatch(client kubernetes.Interface) listWatch {
	pods := client.CoreV1().Pods(metav1.NamespaceAll)
	return listWatch{
		list: func(ctx context.Context, opts metav1.ListOptions) ([]runtime.Object, string, error) {
			list, err := pods.List(ctx, opts)
			if err != nil {
				return nil, "", err
			}
			objs := make([]runtime.Object, 0, len(list.Items))
			for i := range list.Items {
				objs = append(objs, &list.Items[i])
			}
			return objs, list.ResourceVersion, nil
		},
		watch: func(ctx context.Context, opts metav1.ListOptions) (watch.Interface, error) {
			return pods.Watch(ctx, opts)
		},
	}
}

func pvcListWatch(client kubernetes.Interface) listWatch {
	pvcs := client.CoreV1().PersistentVolumeClaims(metav1.NamespaceAll)
	return listWatch{
		list: func(ctx context.Context, opts metav1.ListOptions) ([]runtime.Object, string, error) {
			list, err := pvcs.List(ctx, opts)
			if err != nil {
				return nil, "", err
			}
			objs := make([]runtime.Object, 0, len(list.Items))
			for i := range list.Items {
				objs = append(objs, &list.Items[i])
			}
			return objs, list.ResourceVersion, nil
		},
		watch: func(ctx context.Context, opts metav1.ListOptions) (watch.Interface, error) {
			return pvcs.Watch(ctx, opts)
		},
	}
}

// resourceWatcher consumes one watch stream for one resource kind in one
// cluster. Events are handled strictly in arrival order on a single
// goroutine; the handler owns all dedup decisions.
type resourceWatcher struct {
	clusterName string
	resource    string
	listWatch   listWatch
	handle      func(eventType watch.EventType, obj runtime.Object)
	idleTimeout time.Duration

	// resourceVersion is the bookmark to resume the watch from. Empty forces
	// a full re-list, which re-seeds every resource as a first observation.
	resourceVersion string
}

func reconnectBackoff() wait.Backoff {
	return wait.Backoff{
		Duration: initialReconnectBackoff,
		Factor:   2.0,
		Cap:      maxReconnectBackoff,
		Steps:    math.MaxInt32,
	}
}

// run keeps the stream open until ctx is cancelled, reconnecting with capped
// exponential backoff on any stream failure.
func (w *resourceWatcher) run(ctx context.Context) {
	klog.Infof("[%s] Starting %s watch", w.clusterName, w.resource)
	backoff := reconnectBackoff()

	for {
		healthy, err := w.watchOnce(ctx)
		if ctx.Err() != nil {
			klog.Infof("[%s] Stopping %s watch: %v", w.clusterName, w.resource, ctx.Err())
			return
		}
		if err != nil {
			if apierrors.IsResourceExpired(err) || apierrors.IsGone(err) {
				klog.Warningf("[%s] Resource version %q for %s expired, falling back to a full relist",
					w.clusterName, w.resourceVersion, w.resource)
				w.resourceVersion = ""
			} else {
				klog.Warningf("[%s] Watch on %s failed: %v", w.clusterName, w.resource, err)
			}
		}

		if healthy {
			backoff = reconnectBackoff()
		}
		delay := backoff.Step()
		klog.V(2).Infof("[%s] Reopening %s watch in %s", w.clusterName, w.resource, delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// watchOnce runs a single list+watch cycle. It returns whether the stream
// made progress (so the caller can reset its backoff) and the error that
// ended it, if any. A server-side close without error is a normal end of
// cycle.
func (w *resourceWatcher) watchOnce(ctx context.Context) (healthy bool, err error) {
	if w.resourceVersion == "" {
		objs, rv, err := w.listWatch.list(ctx, metav1.ListOptions{})
		if err != nil {
			return false, errors.Wrapf(err, "failed to list %s", w.resource)
		}
		for _, obj := range objs {
			w.handle(watch.Added, obj)
		}
		w.resourceVersion = rv
		klog.V(2).Infof("[%s] Listed %d %s at resource version %q",
			w.clusterName, len(objs), w.resource, rv)
	}

	timeoutSeconds := int64(minWatchTimeout.Seconds() * (rand.Float64() + 1.0))
	stream, err := w.listWatch.watch(ctx, metav1.ListOptions{
		ResourceVersion:     w.resourceVersion,
		TimeoutSeconds:      &timeoutSeconds,
		AllowWatchBookmarks: true,
	})
	if err != nil {
		return false, errors.Wrapf(err, "failed to open watch on %s", w.resource)
	}
	defer stream.Stop()

	idle := time.NewTimer(w.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return true, nil

		case <-idle.C:
			return healthy, errors.Errorf("no %s events for %s, treating stream as dead",
				w.resource, w.idleTimeout)

		case event, ok := <-stream.ResultChan():
			if !ok {
				klog.V(2).Infof("[%s] Server closed %s watch at resource version %q",
					w.clusterName, w.resource, w.resourceVersion)
				return healthy, nil
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(w.idleTimeout)

			switch event.Type {
			case watch.Error:
				return healthy, errors.Wrap(apierrors.FromObject(event.Object),
					"error event on watch stream")
			case watch.Bookmark:
				w.advanceResourceVersion(event.Object)
			case watch.Added, watch.Modified, watch.Deleted:
				w.handle(event.Type, event.Object)
				w.advanceResourceVersion(event.Object)
				healthy = true
			default:
				klog.Warningf("[%s] Unsupported %s watch event type %q",
					w.clusterName, w.resource, event.Type)
			}
		}
	}
}

func (w *resourceWatcher) advanceResourceVersion(obj runtime.Object) {
	accessor, ok := obj.(metav1.Object)
	if !ok {
		return
	}
	if rv := accessor.GetResourceVersion(); rv != "" {
		w.resourceVersion = rv
	}
}

// Options carries the watcher-wide settings every session shares.
type Options struct {
	Environment        string
	Namespaces         []string
	CriticalEventsOnly bool
	IdleTimeout        time.Duration
}

// NewOptions derives watch loop options from the resolved configuration.
func NewOptions(cfg *config.Config) Options {
	return Options{
		Environment:        cfg.Environment,
		Namespaces:         cfg.Watcher.Namespaces,
		CriticalEventsOnly: cfg.Watcher.CriticalEventsOnly,
		IdleTimeout:        cfg.Watcher.IdleTimeout(),
	}
}

func (o Options) allowsNamespace(namespace string) bool {
	if len(o.Namespaces) == 0 {
		return true
	}
	for _, ns := range o.Namespaces {
		if ns == namespace {
			return true
		}
	}
	return false
}
