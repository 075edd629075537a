package service

import (
	"sync"

	"liftmates/internal/store"
)

// Stream is a typed, cancellable view over a store observation. Consumers
// must call Cancel when the consuming UI is torn down; a leaked stream keeps
// its store subscription alive.
type Stream[T any] struct {
	updates chan T
	sub     *store.Subscription
	done    chan struct{}
	once    sync.Once
}

// newStream decodes raw store events through decode; events for which
// decode reports false (malformed or filtered records) are dropped without
// disturbing the rest of the stream.
func newStream[T any](sub *store.Subscription, decode func(store.Event) (T, bool)) *Stream[T] {
	s := &Stream[T]{
		updates: make(chan T),
		sub:     sub,
		done:    make(chan struct{}),
	}
	go func() {
		defer close(s.updates)
		for ev := range sub.Events() {
			v, ok := decode(ev)
			if !ok {
				continue
			}
			select {
			case s.updates <- v:
			case <-s.done:
				return
			}
		}
	}()
	return s
}

func (s *Stream[T]) Updates() <-chan T { return s.updates }

func (s *Stream[T]) Cancel() {
	s.once.Do(func() {
		close(s.done)
		s.sub.Cancel()
	})
}
