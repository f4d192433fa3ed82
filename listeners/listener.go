package listeners

import "fmt"

// Listener is a node of a Set's intrusive list. The zero-target sentinel
// heading every Set is also a Listener.
type Listener[E any] struct {
	next, prev *Listener[E]
	owner      *Set[E]
	linked     bool

	filter  Filter[E]
	resolve func() (any, bool)
	receive func(any)
}

// Dispose unlinks the listener. It is safe to call any number of times, from
// any goroutine, including from inside the listener's own receiver.
func (l *Listener[E]) Dispose() {
	if l == nil || l.owner == nil {
		return
	}
	s := l.owner
	s.mu.Lock()
	s.unlinkLocked(l)
	s.mu.Unlock()
}

func (l *Listener[E]) String() string {
	s := l.owner
	s.mu.Lock()
	defer s.mu.Unlock()
	return l.describeLocked()
}

func (l *Listener[E]) describeLocked() string {
	if l.resolve == nil {
		return "listener (sentinel)"
	}
	if target, ok := l.resolve(); ok {
		return fmt.Sprintf("listener for %v", target)
	}
	return "listener (reclaimed)"
}
