// Package propmon samples object properties that can change without the host
// reporting it, and fires ObjectDirty when a sample differs from the last one.
package propmon

import (
	"encoding/binary"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cespare/xxhash/v2"
	"github.com/delaneyj/changestream/compute"
	"github.com/delaneyj/changestream/hierarchy"
	"github.com/delaneyj/changestream/listeners"
	"github.com/delaneyj/changestream/scene"
	"github.com/go-logr/logr"
)

const DefaultInterval = 250 * time.Millisecond

// Sampler fingerprints the observed state of an object.
type Sampler func(h scene.Host, id scene.ObjectID) uint64

type entry struct {
	id        scene.ObjectID
	last      uint64
	listeners *listeners.Set[hierarchy.Event]
}

// Monitor polls registered objects on a recurring timer. The timer starts on
// the first Watch and goes idle again once nothing is registered.
type Monitor struct {
	host     scene.Host
	sample   Sampler
	clock    clock.Clock
	interval time.Duration
	dispatch func(func())
	log      logr.Logger
	setOpts  []listeners.Option

	mu      sync.Mutex
	entries map[scene.ObjectID]*entry
	timer   *clock.Timer
	stopped bool
}

type Option func(*Monitor)

func WithClock(c clock.Clock) Option {
	return func(m *Monitor) {
		m.clock = c
	}
}

func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithDispatch routes each timer tick through post, normally the owner's work
// queue. Without it, Poll runs on the timer goroutine.
func WithDispatch(post func(func())) Option {
	return func(m *Monitor) {
		m.dispatch = post
	}
}

func WithLogger(log logr.Logger) Option {
	return func(m *Monitor) {
		m.log = log
	}
}

func WithSampler(s Sampler) Option {
	return func(m *Monitor) {
		m.sample = s
	}
}

func WithListenerOptions(opts ...listeners.Option) Option {
	return func(m *Monitor) {
		m.setOpts = append(m.setOpts, opts...)
	}
}

func New(host scene.Host, opts ...Option) *Monitor {
	m := &Monitor{
		host:     host,
		sample:   PropertyDigest,
		clock:    clock.New(),
		interval: DefaultInterval,
		entries:  map[scene.ObjectID]*entry{},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.setOpts = append([]listeners.Option{listeners.WithLogger(m.log)}, m.setOpts...)
	return m
}

// Watch invalidates ctx the next time a poll sees the object's sample change
// and filter accepts ObjectDirty. A lazy filter can re-read the property it
// actually cares about and decline unrelated changes.
func (m *Monitor) Watch(id scene.ObjectID, filter listeners.Filter[hierarchy.Event], ctx *compute.Context) listeners.Disposer {
	if !scene.Alive(m.host, id) {
		return listeners.Nop
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return listeners.Nop
	}
	e, ok := m.entries[id]
	if !ok {
		e = &entry{
			id:        id,
			last:      m.sample(m.host, id),
			listeners: listeners.New[hierarchy.Event](m.setOpts...),
		}
		m.entries[id] = e
	}
	d := e.listeners.Register(filter, ctx)
	if m.timer == nil {
		m.log.V(1).Info("starting property poll", "interval", m.interval)
		m.timer = m.clock.AfterFunc(m.interval, m.tick)
	}
	return d
}

func (m *Monitor) tick() {
	if m.dispatch != nil {
		m.dispatch(m.pollAndRearm)
		return
	}
	m.pollAndRearm()
}

func (m *Monitor) pollAndRearm() {
	m.Poll()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	if len(m.entries) == 0 {
		m.log.V(1).Info("property poll idle")
		m.timer = nil
		return
	}
	m.timer = m.clock.AfterFunc(m.interval, m.tick)
}

// Poll resamples every registered object once and reports how many changed.
// Objects that disappeared retire their listeners.
func (m *Monitor) Poll() (changed int) {
	type delivery struct {
		set  *listeners.Set[hierarchy.Event]
		gone bool
	}

	m.mu.Lock()
	var todo []delivery
	for id, e := range m.entries {
		e.listeners.Prune()
		if !e.listeners.HasListeners() {
			delete(m.entries, id)
			continue
		}
		if !scene.Alive(m.host, id) {
			delete(m.entries, id)
			todo = append(todo, delivery{set: e.listeners, gone: true})
			continue
		}
		if s := m.sample(m.host, id); s != e.last {
			e.last = s
			todo = append(todo, delivery{set: e.listeners})
		}
	}
	m.mu.Unlock()

	for _, d := range todo {
		if d.gone {
			d.set.Fire(hierarchy.ForceInvalidate)
			d.set.ForceFireAll()
			continue
		}
		d.set.Fire(hierarchy.ObjectDirty)
		changed++
	}

	m.mu.Lock()
	for id, e := range m.entries {
		if !e.listeners.HasListeners() {
			delete(m.entries, id)
		}
	}
	m.mu.Unlock()
	return changed
}

// Len is the number of objects currently sampled.
func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Running reports whether the poll timer is armed.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer != nil
}

// Stop disarms the timer and force-fires every remaining listener. Later
// Watch calls return a listener that never fires.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.stopped = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	entries := m.entries
	m.entries = map[scene.ObjectID]*entry{}
	m.mu.Unlock()

	for _, e := range entries {
		e.listeners.ForceFireAll()
	}
}

// PropertyDigest hashes every property of id, in key order.
func PropertyDigest(h scene.Host, id scene.ObjectID) uint64 {
	props := h.Properties(id)
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	d := xxhash.New()
	for _, k := range keys {
		d.WriteString(k)
		d.WriteString(fmt.Sprintf("=%#v;", props[k]))
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(h.HideFlags(id)))
	d.Write(buf[:])
	return d.Sum64()
}
