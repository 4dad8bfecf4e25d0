package future

import (
	"context"
	"sync"
)

type Promise[T any] interface {
	Reject(error)
	Resolve(T)
}

// Future is resolved at most once. Later Resolve or Reject calls are ignored.
type Future[T any] interface {
	Await(ctx context.Context) (T, error)
	Done() <-chan struct{}
}

func NewFuture[T any]() (Future[T], Promise[T]) {
	f := &futureImpl[T]{
		done: make(chan struct{}),
	}
	return f, f
}

// Resolved returns a future that already holds val.
func Resolved[T any](val T) Future[T] {
	f, p := NewFuture[T]()
	p.Resolve(val)
	return f
}

type futureImpl[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
	err  error
}

func (f *futureImpl[T]) complete(val T, err error) {
	f.once.Do(func() {
		f.val = val
		f.err = err
		close(f.done)
	})
}

func (f *futureImpl[T]) Resolve(val T) {
	f.complete(val, nil)
}

func (f *futureImpl[T]) Reject(err error) {
	var defaultVal T
	f.complete(defaultVal, err)
}

func (f *futureImpl[T]) Done() <-chan struct{} {
	return f.done
}

func (f *futureImpl[T]) Await(ctx context.Context) (T, error) {
	var defaultVal T

	select {
	case <-ctx.Done():
		return defaultVal, ctx.Err()
	case <-f.done:
		if f.err != nil {
			return defaultVal, f.err
		}
		return f.val, nil
	}
}
