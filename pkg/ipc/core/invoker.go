package core

import "sync"

// Invoker spawns goroutines and tracks them so a caller can wait for every
// spawned unit of work to finish. The receiver set's pump goroutines and
// the router's dispatch loop both run through one.
type Invoker interface {
	// Spawn runs f on a new goroutine.
	Spawn(f func())

	// Stop blocks until every goroutine spawned through this Invoker has
	// returned. Intended for tests and orderly shutdown, not the hot path.
	Stop()
}

type waitGroupInvoker struct {
	group sync.WaitGroup
}

func (w *waitGroupInvoker) Spawn(f func()) {
	w.group.Add(1)
	go func() {
		defer w.group.Done()
		f()
	}()
}

func (w *waitGroupInvoker) Stop() {
	w.group.Wait()
}

// NewInvoker returns a standalone Invoker, useful where a caller wants to
// wait out a bounded set of goroutines independently of the package-wide
// singleton (tests, mainly).
func NewInvoker() Invoker {
	return &waitGroupInvoker{}
}

var global = NewInvoker()

// InvokerInstance returns the process-wide goroutine spawner. The
// ReceiverSet and the Router do not use it; each creates its own Invoker
// with NewInvoker.
func InvokerInstance() Invoker {
	return global
}
