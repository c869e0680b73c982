package ipc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRouterAddRouteDispatchesCallback(t *testing.T) {
	router := newRouter(testLogger{})
	router.invoker.Spawn(router.dispatchLoop)
	defer router.Stop()

	tx, rx, err := Channel[string]()
	require.NoError(t, err)
	defer tx.Close()

	var mu sync.Mutex
	var received []string
	done := make(chan struct{}, 1)
	router.AddRoute(rx.ToOpaque(), func(m OpaqueMessage) {
		value, err := ToTyped[string](&m)
		require.NoError(t, err)
		mu.Lock()
		received = append(received, value)
		mu.Unlock()
		done <- struct{}{}
	})

	require.NoError(t, tx.Send("hello"))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for routed callback")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"hello"}, received)
}

func TestRouterRouteToNewMpscReceiverClosesOnDisconnect(t *testing.T) {
	router := newRouter(testLogger{})
	router.invoker.Spawn(router.dispatchLoop)
	defer router.Stop()

	tx, rx, err := Channel[int]()
	require.NoError(t, err)

	out := router.RouteToNewMpscReceiver(rx.ToOpaque())
	require.NoError(t, tx.Send(1))
	require.NoError(t, tx.Send(2))
	require.NoError(t, tx.Close())

	var got []int
	for msg := range out {
		v, err := ToTyped[int](&msg)
		require.NoError(t, err)
		got = append(got, v)
	}
	require.Equal(t, []int{1, 2}, got)
}

func TestRouterMpscClosesOnlyAfterEveryCloneDropped(t *testing.T) {
	router := newRouter(testLogger{})
	router.invoker.Spawn(router.dispatchLoop)
	defer router.Stop()

	tx, rx, err := Channel[int]()
	require.NoError(t, err)
	cloneA := tx.Clone()
	cloneB := tx.Clone()

	out := router.RouteToNewMpscReceiver(rx.ToOpaque())
	require.NoError(t, cloneA.Send(1))
	require.NoError(t, tx.Close())
	require.NoError(t, cloneA.Close())

	// One clone remains: the routed channel must stay open.
	msg := <-out
	v, err := ToTyped[int](&msg)
	require.NoError(t, err)
	require.Equal(t, 1, v)
	select {
	case _, open := <-out:
		require.True(t, open, "routed channel closed while a sender clone was still alive")
		t.Fatal("unexpected message on routed channel")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, cloneB.Close())
	select {
	case _, open := <-out:
		require.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("routed channel did not close after the last clone dropped")
	}
}

func TestRouterRemoveRouteStopsCallbacks(t *testing.T) {
	router := newRouter(testLogger{})
	router.invoker.Spawn(router.dispatchLoop)
	defer router.Stop()

	tx, rx, err := Channel[int]()
	require.NoError(t, err)
	defer tx.Close()

	hits := make(chan struct{}, 8)
	id := router.AddRoute(rx.ToOpaque(), func(OpaqueMessage) {
		hits <- struct{}{}
	})
	router.RemoveRoute(id)

	// The route's pump has stopped, so nothing reads this send; whether it
	// succeeds or errors is fine as long as no callback fires.
	_ = tx.Send(1)
	select {
	case <-hits:
		t.Fatal("callback invoked after RemoveRoute")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRouterIsolatesPanickingHandler(t *testing.T) {
	router := newRouter(testLogger{})
	router.invoker.Spawn(router.dispatchLoop)
	defer router.Stop()

	txA, rxA, err := Channel[int]()
	require.NoError(t, err)
	defer txA.Close()
	txB, rxB, err := Channel[int]()
	require.NoError(t, err)
	defer txB.Close()

	router.AddRoute(rxA.ToOpaque(), func(OpaqueMessage) {
		panic("boom")
	})
	doneB := make(chan struct{}, 1)
	router.AddRoute(rxB.ToOpaque(), func(OpaqueMessage) {
		doneB <- struct{}{}
	})

	require.NoError(t, txA.Send(1))
	require.NoError(t, txB.Send(2))

	select {
	case <-doneB:
	case <-time.After(time.Second):
		t.Fatal("panicking handler took down the dispatch loop")
	}
}

func TestRouterDropsNothingAcrossManyRoutes(t *testing.T) {
	router := newRouter(testLogger{})
	router.invoker.Spawn(router.dispatchLoop)
	defer router.Stop()

	const routes = 8
	const perRoute = 20

	var mu sync.Mutex
	counts := make(map[uint64]int)
	var wg sync.WaitGroup
	wg.Add(routes * perRoute)

	var senders []Sender[int]
	for i := 0; i < routes; i++ {
		tx, rx, err := Channel[int]()
		require.NoError(t, err)
		senders = append(senders, tx)
		var id uint64
		id = router.AddRoute(rx.ToOpaque(), func(OpaqueMessage) {
			mu.Lock()
			counts[id]++
			mu.Unlock()
			wg.Done()
		})
	}

	for _, tx := range senders {
		tx := tx
		go func() {
			for i := 0; i < perRoute; i++ {
				require.NoError(t, tx.Send(i))
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("router dropped at least one message under concurrent load")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, counts, routes)
	for id, count := range counts {
		require.Equal(t, perRoute, count, "route %d delivered %d of %d messages", id, count, perRoute)
	}

	for _, tx := range senders {
		require.NoError(t, tx.Close())
	}
}

type testLogger struct{}

func (testLogger) Info(v ...interface{}) {}

func (testLogger) Infof(format string, v ...interface{}) {}

func (testLogger) Warn(v ...interface{}) {}

func (testLogger) Warnf(format string, v ...interface{}) {}

func (testLogger) Error(v ...interface{}) {}

func (testLogger) Errorf(format string, v ...interface{}) {}

func (testLogger) Debug(v ...interface{}) {}

func (testLogger) Debugf(format string, v ...interface{}) {}

func (testLogger) ToggleDebug(value bool) bool { return value }
