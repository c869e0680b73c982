package ipc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jabolina/go-ipc/pkg/ipc/core"
)

// Event is one arrival reported by a ReceiverSet: a message (Err == nil,
// Closed == false), the terminal notice that member ID's receiver
// disconnected cleanly (Closed == true, Err == nil), or a transport failure
// on that one member (Closed == true, Err != nil). Either way a Closed
// event retires the id: it will not appear in any later Select.
type Event struct {
	ID      uint64
	Message OpaqueMessage
	Err     error
	Closed  bool
}

type setMember struct {
	cancel    context.CancelFunc
	interrupt func()
	done      chan struct{}
}

// ReceiverSet lets a caller block on whichever of several dynamically
// added receivers becomes ready first, without knowing their count or
// types up front. Each member gets its own pump goroutine forwarding into
// one shared events channel, rather than a kernel-level readiness
// multiplexer: the fan-in keeps per-member frames ordered and needs no
// platform poll/epoll plumbing.
type ReceiverSet struct {
	mu      sync.Mutex
	members map[uint64]*setMember
	ids     core.SetIDGenerator
	events  chan Event
	invoker core.Invoker
	ctx     context.Context
	cancel  context.CancelFunc
	closed  bool
}

// NewReceiverSet returns an empty set.
func NewReceiverSet() *ReceiverSet {
	ctx, cancel := context.WithCancel(context.Background())
	return &ReceiverSet{
		members: make(map[uint64]*setMember),
		events:  make(chan Event),
		invoker: core.NewInvoker(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add starts forwarding r's arrivals into this set and returns its member
// id, stable for the life of the set; ids are never reused. The set takes
// ownership of r: Remove or Close will close it.
func (s *ReceiverSet) Add(r OpaqueReceiver) uint64 {
	id := s.ids.Next()
	memberCtx, memberCancel := context.WithCancel(s.ctx)
	member := &setMember{
		cancel:    memberCancel,
		interrupt: r.interruptReads,
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	s.members[id] = member
	s.mu.Unlock()

	s.invoker.Spawn(func() {
		defer close(member.done)
		s.pump(memberCtx, id, r)
	})
	return id
}

func (s *ReceiverSet) pump(ctx context.Context, id uint64, r OpaqueReceiver) {
	defer r.Close()
	for {
		msg, err := r.Recv()
		if err != nil {
			if ctx.Err() != nil {
				// Removed or the set shut down: the id was already retired
				// by the caller, so no terminal event is owed.
				return
			}
			event := Event{ID: id, Closed: true}
			if !errors.Is(err, core.ErrDisconnected) {
				event.Err = err
			}
			s.deliver(ctx, event)
			return
		}
		if !s.deliver(ctx, Event{ID: id, Message: msg}) {
			return
		}
	}
}

func (s *ReceiverSet) deliver(ctx context.Context, event Event) bool {
	select {
	case s.events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

// Remove stops forwarding from id and closes its receiver. The member's
// blocked read is interrupted with an elapsed read deadline, so removal
// takes effect even when no traffic ever arrives on that receiver.
func (s *ReceiverSet) Remove(id uint64) {
	s.mu.Lock()
	member, ok := s.members[id]
	if ok {
		delete(s.members, id)
	}
	s.mu.Unlock()
	if ok {
		member.cancel()
		member.interrupt()
		<-member.done
	}
}

// Select blocks until an event from any member arrives or ctx is done.
func (s *ReceiverSet) Select(ctx context.Context) (Event, error) {
	select {
	case event := <-s.events:
		return event, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case <-s.ctx.Done():
		return Event{}, core.ErrDisconnected
	}
}

// Close stops every member's pump and waits for them to finish.
func (s *ReceiverSet) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	members := make([]*setMember, 0, len(s.members))
	for _, member := range s.members {
		members = append(members, member)
	}
	s.mu.Unlock()

	s.cancel()
	for _, member := range members {
		member.interrupt()
	}
	for _, member := range members {
		<-member.done
	}
}

// interruptReads forces a read blocked on this receiver's connection to
// return with a timeout, without releasing the receiver's own reference.
// Only the ReceiverSet uses it, to make Remove/Close effective against a
// pump goroutine parked in a blocking Recv.
func (r OpaqueReceiver) interruptReads() {
	if r.state != nil {
		r.state.conn.SetReadDeadline(time.Now())
	}
}
