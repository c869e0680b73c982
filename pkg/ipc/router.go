package ipc

import (
	"context"
	"sync"

	"github.com/jabolina/go-ipc/pkg/ipc/core"
	"github.com/jabolina/go-ipc/pkg/ipc/definition"
)

// route pairs a receiver's arrivals with what the caller asked to happen
// to them: either a callback invoked per message, or forwarding into a
// native Go channel for in-process fan-in. Each route owns a buffered
// queue and a dedicated worker goroutine so that messages for a single id
// are handed to onMessage one at a time, in arrival order, while distinct
// routes still make progress concurrently with each other. Spawning a
// fresh goroutine per message instead would let two messages for the same
// id race each other into the callback, losing per-sender FIFO end to end.
type route struct {
	queue chan OpaqueMessage

	mu   sync.Mutex
	shut bool
}

// newRoute starts the route's worker goroutine: it drains queue in order,
// invoking onMessage for each buffered message, and once the queue is shut
// (the underlying receiver disconnected, or the route was removed) runs
// onClosed exactly once after every already-queued message has been
// delivered. onClosed can't run ahead of a message still sitting in the
// queue, so teardown composes with in-order delivery.
func newRoute(onMessage func(OpaqueMessage), onClosed func(), logger definition.Logger, id uint64, invoker core.Invoker) *route {
	rt := &route{queue: make(chan OpaqueMessage, 64)}
	invoker.Spawn(func() {
		for m := range rt.queue {
			invokeIsolated(onMessage, m, logger, id)
		}
		onClosed()
	})
	return rt
}

// enqueue hands m to the route's worker, dropping it if the route has
// already been shut down (a message that raced a RemoveRoute call).
func (r *route) enqueue(m OpaqueMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shut {
		return
	}
	r.queue <- m
}

// shutdown closes the route's queue exactly once, no matter how many of the
// dispatch loop, RemoveRoute, and Stop reach for it.
func (r *route) shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shut {
		return
	}
	r.shut = true
	close(r.queue)
}

// invokeIsolated runs onMessage(m), recovering and logging any panic so
// the route's worker goroutine, and with it every later message for this
// id, survives a misbehaving callback.
func invokeIsolated(onMessage func(OpaqueMessage), m OpaqueMessage, logger definition.Logger, id uint64) {
	defer func() {
		if p := recover(); p != nil {
			logger.Errorf("recovered from panic in route %d: %v", id, p)
		}
	}()
	onMessage(m)
}

// Router is the process-wide background dispatcher: receivers registered
// with it are pumped by a single ReceiverSet, and each arrival is handed
// to its route's worker goroutine, isolated with recover() so one
// misbehaving callback cannot take down the dispatch loop or any other
// route.
type Router struct {
	set     *ReceiverSet
	invoker core.Invoker
	logger  definition.Logger

	mu       sync.Mutex
	handlers map[uint64]*route

	ctx    context.Context
	cancel context.CancelFunc
}

var (
	routerOnce     sync.Once
	routerInstance *Router
)

// RouterInstance returns the process-wide Router, creating and starting it
// on first use.
func RouterInstance() *Router {
	routerOnce.Do(func() {
		routerInstance = newRouter(definition.NewDefaultLogger())
		routerInstance.invoker.Spawn(routerInstance.dispatchLoop)
	})
	return routerInstance
}

func newRouter(logger definition.Logger) *Router {
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		set:      NewReceiverSet(),
		invoker:  core.NewInvoker(),
		logger:   logger,
		handlers: make(map[uint64]*route),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// AddRoute registers r with the router; onMessage is invoked, isolated by
// recover(), for every value r receives, in arrival order, until it
// disconnects. The router's lock is held across registering the receiver
// and installing its handler, so the dispatch loop cannot observe an
// arrival for an id whose handler isn't in place yet.
func (rt *Router) AddRoute(r OpaqueReceiver, onMessage func(OpaqueMessage)) uint64 {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	id := rt.set.Add(r)
	rt.handlers[id] = newRoute(onMessage, func() {}, rt.logger, id, rt.invoker)
	return id
}

// RouteToNewMpscReceiver registers r and returns a native Go channel that
// receives every value r produces, in arrival order; the channel is closed
// once r disconnects. Multiple receivers may be routed to distinct channels
// consumed by a single multi-producer-single-consumer reader goroutine.
func (rt *Router) RouteToNewMpscReceiver(r OpaqueReceiver) <-chan OpaqueMessage {
	out := make(chan OpaqueMessage, 16)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	id := rt.set.Add(r)
	rt.handlers[id] = newRoute(
		func(m OpaqueMessage) { out <- m },
		func() { close(out) },
		rt.logger, id, rt.invoker,
	)
	return out
}

// RemoveRoute stops forwarding from id, closes its receiver, and shuts the
// route's worker down; onClosed runs after any still-queued messages.
func (rt *Router) RemoveRoute(id uint64) {
	rt.set.Remove(id)
	rt.mu.Lock()
	rte, ok := rt.handlers[id]
	if ok {
		delete(rt.handlers, id)
	}
	rt.mu.Unlock()
	if ok {
		rte.shutdown()
	}
}

// Stop halts dispatch and closes every registered receiver. Intended for
// tests; a long-lived process normally keeps the singleton Router running
// for its whole lifetime. Cancelling the dispatch loop's context makes it
// return immediately, so it may never see the ordinary per-id Closed event
// for routes still open at Stop time; their queues are shut here instead,
// which still runs each route's onClosed exactly once and lets
// invoker.Stop() observe every worker goroutine exit rather than leaving
// one blocked on its queue forever.
func (rt *Router) Stop() {
	rt.cancel()
	rt.set.Close()
	rt.mu.Lock()
	routes := make([]*route, 0, len(rt.handlers))
	for id, rte := range rt.handlers {
		routes = append(routes, rte)
		delete(rt.handlers, id)
	}
	rt.mu.Unlock()
	for _, rte := range routes {
		rte.shutdown()
	}
	rt.invoker.Stop()
}

func (rt *Router) dispatchLoop() {
	for {
		event, err := rt.set.Select(rt.ctx)
		if err != nil {
			return
		}
		rt.mu.Lock()
		rte, ok := rt.handlers[event.ID]
		if ok && event.Closed {
			delete(rt.handlers, event.ID)
		}
		rt.mu.Unlock()
		if !ok {
			continue
		}
		if event.Closed {
			if event.Err != nil {
				rt.logger.Errorf("route %d failed: %v", event.ID, event.Err)
			}
			rte.shutdown()
			continue
		}
		rte.enqueue(event.Message)
	}
}
