// Package watcher is the consumer-facing side of the change stream. It owns
// the shadow hierarchy and the property monitor, classifies raw host changes
// on a single owner goroutine, and answers "current value, and tell me when
// it changes" queries bound to compute contexts.
package watcher

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/delaneyj/changestream/hierarchy"
	"github.com/delaneyj/changestream/listeners"
	"github.com/delaneyj/changestream/metrics"
	"github.com/delaneyj/changestream/propmon"
	"github.com/delaneyj/changestream/scene"
	"github.com/go-logr/logr"
)

const defaultPruneInterval = 10 * time.Second

// Watcher must be driven by one owner goroutine, either through Run or by
// calling Flush directly. Enqueue, Post, AfterSettle and the Dispose of any
// registration may be called from anywhere.
type Watcher struct {
	host      scene.Host
	log       logr.Logger
	clock     clock.Clock
	metrics   *metrics.Metrics
	scheduler scene.Scheduler
	repaint   func()

	pollInterval  time.Duration
	pruneInterval time.Duration

	setOpts    []listeners.Option
	hier       *hierarchy.Hierarchy
	props      *propmon.Monitor
	visibility *listeners.Set[struct{}]

	mu          sync.Mutex
	pending     []scene.Change
	work        []func()
	afterSettle []func()
	closed      bool
	wake        chan struct{}

	repaintQueued atomic.Bool
	lastScenes    []scene.SceneID
}

type Option func(*Watcher)

func WithLogger(log logr.Logger) Option {
	return func(w *Watcher) {
		w.log = log
	}
}

// WithPollInterval sets how often silently changing properties are sampled.
func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) {
		w.pollInterval = d
	}
}

func WithPruneInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.pruneInterval = d
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(w *Watcher) {
		w.clock = c
	}
}

// WithScheduler replaces the watcher's own settle queue, which runs at the
// end of every Flush.
func WithScheduler(s scene.Scheduler) Option {
	return func(w *Watcher) {
		w.scheduler = s
	}
}

// WithRepaint installs fn to run once per settle cycle in which any listener
// fired.
func WithRepaint(fn func()) Option {
	return func(w *Watcher) {
		w.repaint = fn
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Watcher) {
		w.metrics = m
	}
}

func New(host scene.Host, opts ...Option) *Watcher {
	w := &Watcher{
		host:          host,
		clock:         clock.New(),
		pollInterval:  propmon.DefaultInterval,
		pruneInterval: defaultPruneInterval,
		wake:          make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.scheduler == nil {
		w.scheduler = w
	}

	w.setOpts = []listeners.Option{
		listeners.WithLogger(w.log),
		listeners.WithFireHook(w.requestRepaint),
	}
	setOpts := w.setOpts
	w.hier = hierarchy.New(host,
		hierarchy.WithLogger(w.log.WithName("hierarchy")),
		hierarchy.WithListenerOptions(setOpts...),
		hierarchy.WithObserver(w.metrics.ObserveDelivery),
	)
	w.props = propmon.New(host,
		propmon.WithClock(w.clock),
		propmon.WithInterval(w.pollInterval),
		propmon.WithDispatch(w.Post),
		propmon.WithLogger(w.log.WithName("propmon")),
		propmon.WithListenerOptions(setOpts...),
	)
	w.visibility = listeners.New[struct{}](setOpts...)
	w.lastScenes = host.Scenes()
	return w
}

// Hierarchy exposes the shadow tree. Owner goroutine only.
func (w *Watcher) Hierarchy() *hierarchy.Hierarchy {
	return w.hier
}

// Enqueue records a raw host change for the next Flush. Its signature fits
// scene.Graph.OnChange.
func (w *Watcher) Enqueue(c scene.Change) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.pending = append(w.pending, c)
	n := len(w.pending)
	w.mu.Unlock()
	w.metrics.SetPending(n)
	w.signal()
}

// Post schedules fn to run on the owner goroutine during the next Flush.
func (w *Watcher) Post(fn func()) {
	w.mu.Lock()
	w.work = append(w.work, fn)
	w.mu.Unlock()
	w.signal()
}

// AfterSettle runs fn at the end of the next Flush.
func (w *Watcher) AfterSettle(fn func()) {
	w.mu.Lock()
	w.afterSettle = append(w.afterSettle, fn)
	w.mu.Unlock()
	w.signal()
}

func (w *Watcher) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Flush runs posted work, classifies every pending change, and repeats until
// both queues are empty; then it runs the settle callbacks. It returns the
// number of changes classified.
func (w *Watcher) Flush() (classified int) {
	start := w.clock.Now()
	w.CheckActiveScenes()

	for {
		w.mu.Lock()
		work, pending := w.work, w.pending
		w.work, w.pending = nil, nil
		w.mu.Unlock()
		if len(work) == 0 && len(pending) == 0 {
			break
		}

		if len(work) > 0 {
			w.log.V(2).Info("draining work queue", "items", len(work))
		}
		for _, fn := range work {
			fn()
		}
		for _, c := range pending {
			w.metrics.ObserveChange(c)
			w.hier.Apply(c)
			classified++
		}
	}
	w.metrics.SetPending(0)

	w.mu.Lock()
	settle := w.afterSettle
	w.afterSettle = nil
	w.mu.Unlock()
	for _, fn := range settle {
		fn()
	}

	w.metrics.ObserveFlush(w.clock.Since(start).Seconds())
	return classified
}

// Run is the owner loop. It flushes whenever something is queued and prunes
// reclaimed listeners periodically, until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	prune := w.clock.Ticker(w.pruneInterval)
	defer prune.Stop()

	w.log.V(1).Info("owner loop started")
	for {
		select {
		case <-ctx.Done():
			w.log.V(1).Info("owner loop stopped")
			return nil
		case <-w.wake:
			w.Flush()
		case <-prune.C:
			w.Prune()
		}
	}
}

// Prune drops reclaimed listeners and shadows nobody watches. Owner only.
func (w *Watcher) Prune() {
	w.hier.Prune()
	w.visibility.Prune()
}

// CheckActiveScenes invalidates everything when the loaded scene list
// differs from the last one seen. Scene notifications from the host are not
// reliable enough to depend on alone.
func (w *Watcher) CheckActiveScenes() {
	scenes := w.host.Scenes()
	if slices.Equal(scenes, w.lastScenes) {
		return
	}
	w.log.V(1).Info("scene set changed", "before", w.lastScenes, "after", scenes)
	w.lastScenes = scenes
	w.hier.InvalidateAll()
}

// NotifyVisibilityChanged reports a host-level visibility toggle.
func (w *Watcher) NotifyVisibilityChanged() {
	w.visibility.Fire(struct{}{})
}

// Close stops polling and invalidates every outstanding registration. It is
// safe to call more than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.pending = nil
	w.mu.Unlock()

	w.props.Stop()
	w.hier.InvalidateAll()
	w.visibility.ForceFireAll()
	w.Flush()
	return nil
}

// NewListenerSet creates a listener set that logs and schedules repaints like
// the watcher's own sets.
func NewListenerSet[E any](w *Watcher) *listeners.Set[E] {
	return listeners.New[E](w.setOpts...)
}

func (w *Watcher) requestRepaint() {
	if w.repaint == nil {
		return
	}
	if !w.repaintQueued.CompareAndSwap(false, true) {
		return
	}
	w.scheduler.AfterSettle(func() {
		w.repaintQueued.Store(false)
		w.repaint()
	})
}
