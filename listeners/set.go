package listeners

import (
	"fmt"
	"sync"
	"weak"

	"github.com/delaneyj/changestream/compute"
	"github.com/go-logr/logr"
)

// Filter decides whether an event is relevant to a listener.
type Filter[E any] func(E) bool

// Disposer is anything that can be cancelled more than once.
type Disposer interface {
	Dispose()
}

// Nop stands in for a registration that was never made.
var Nop Disposer = nop{}

type nop struct{}

func (nop) Dispose() {}

// Set is a multicast channel of one-shot listeners. Each listener holds its
// target weakly: once the target is garbage collected the listener is dropped
// on the next Fire or Prune without being invoked.
type Set[E any] struct {
	mu     sync.Mutex
	head   Listener[E]
	log    logr.Logger
	onFire func()
}

type options struct {
	log    logr.Logger
	onFire func()
}

type Option func(*options)

// WithLogger sets the logger used to report faulting filters and receivers.
func WithLogger(log logr.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithFireHook installs fn to run after every receiver invocation, outside the
// set's lock.
func WithFireHook(fn func()) Option {
	return func(o *options) {
		o.onFire = fn
	}
}

func New[E any](opts ...Option) *Set[E] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	s := &Set[E]{log: o.log, onFire: o.onFire}
	s.head.owner = s
	s.head.next = &s.head
	s.head.prev = &s.head
	return s
}

func (s *Set[E]) initLocked() {
	if s.head.next == nil {
		s.head.owner = s
		s.head.next = &s.head
		s.head.prev = &s.head
	}
}

// Register adds a listener that invalidates ctx on the next event passing
// filter.
func (s *Set[E]) Register(filter Filter[E], ctx *compute.Context) *Listener[E] {
	return Register(s, filter, ctx, (*compute.Context).Invalidate)
}

// RegisterAll is Register with a filter that accepts every event.
func (s *Set[E]) RegisterAll(ctx *compute.Context) *Listener[E] {
	return s.Register(passAll[E], ctx)
}

func passAll[E any](E) bool { return true }

// Register adds a listener holding target weakly. receiver must not capture
// target itself, or the target can never be reclaimed.
func Register[E, T any](s *Set[E], filter Filter[E], target *T, receiver func(*T)) *Listener[E] {
	if filter == nil {
		filter = passAll[E]
	}
	wp := weak.Make(target)
	l := &Listener[E]{
		owner:  s,
		filter: filter,
		resolve: func() (any, bool) {
			v := wp.Value()
			return v, v != nil
		},
		receive: func(v any) {
			receiver(v.(*T))
		},
	}

	s.mu.Lock()
	s.initLocked()
	l.next = s.head.next
	l.prev = &s.head
	s.head.next.prev = l
	s.head.next = l
	l.linked = true
	s.mu.Unlock()

	return l
}

func (s *Set[E]) HasListeners() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initLocked()
	return s.head.next != &s.head
}

// Fire offers ev to every live listener, most recently registered first.
// Matching listeners are removed before their receiver runs; the lock is not
// held while filters or receivers execute.
func (s *Set[E]) Fire(ev E) (fired, pruned int) {
	s.mu.Lock()
	s.initLocked()
	for l := s.head.next; l != &s.head; {
		next := l.next
		if !l.linked {
			l = next
			continue
		}
		target, alive := l.resolve()
		if !alive {
			s.unlinkLocked(l)
			pruned++
			l = next
			continue
		}
		filter := l.filter
		s.mu.Unlock()

		matched := s.evaluate(filter, ev, target)

		s.mu.Lock()
		if matched && l.linked {
			receive := l.receive
			s.unlinkLocked(l)
			s.mu.Unlock()
			s.invoke(receive, target)
			fired++
			s.mu.Lock()
		}
		l = next
	}
	s.mu.Unlock()
	return fired, pruned
}

// Prune removes listeners whose targets have been reclaimed without firing.
func (s *Set[E]) Prune() (pruned int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initLocked()
	for l := s.head.next; l != &s.head; {
		next := l.next
		if _, alive := l.resolve(); !alive {
			s.unlinkLocked(l)
			pruned++
		}
		l = next
	}
	return pruned
}

// ForceFireAll invokes every remaining listener once, regardless of its
// filter, and leaves the set empty.
func (s *Set[E]) ForceFireAll() (fired int) {
	type pending struct {
		receive func(any)
		target  any
	}

	s.mu.Lock()
	s.initLocked()
	var todo []pending
	for l := s.head.next; l != &s.head; {
		next := l.next
		if target, alive := l.resolve(); alive {
			todo = append(todo, pending{receive: l.receive, target: target})
		}
		s.unlinkLocked(l)
		l = next
	}
	s.head.next = &s.head
	s.head.prev = &s.head
	s.mu.Unlock()

	for _, p := range todo {
		s.invoke(p.receive, p.target)
	}
	return len(todo)
}

// Describe lists the live listeners, most recent first.
func (s *Set[E]) Describe() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initLocked()
	var out []string
	for l := s.head.next; l != &s.head; l = l.next {
		out = append(out, l.describeLocked())
	}
	return out
}

// unlinkLocked keeps l.next intact so a traversal parked on l can still move
// forward after l is removed underneath it.
func (s *Set[E]) unlinkLocked(l *Listener[E]) bool {
	if !l.linked {
		return false
	}
	l.prev.next = l.next
	l.next.prev = l.prev
	l.prev = nil
	l.linked = false
	l.filter = nil
	l.receive = nil
	l.resolve = reclaimed
	return true
}

func reclaimed() (any, bool) { return nil, false }

func (s *Set[E]) evaluate(filter Filter[E], ev E, target any) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error(fmt.Errorf("%v", r), "listener filter panicked, treating as changed", "target", fmt.Sprint(target))
			matched = true
		}
	}()
	return filter(ev)
}

func (s *Set[E]) invoke(receive func(any), target any) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error(fmt.Errorf("%v", r), "listener receiver panicked", "target", fmt.Sprint(target))
		}
		if s.onFire != nil {
			s.onFire()
		}
	}()
	receive(target)
}
