package core

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// NewEndpointID returns a fresh process-local identity for a transport
// endpoint. It is used for diagnostics only (disconnect errors name it) and
// never crosses the wire; routing never depends on it (it keys off the
// underlying OS handle).
func NewEndpointID() string {
	return uuid.NewString()
}

// NewSocketName returns a filesystem path suitable for a one-shot server's
// named rendezvous.
func NewSocketName(dir string) string {
	return dir + "/go-ipc-" + uuid.NewString() + ".sock"
}

// SetIDGenerator hands out ids that are unique and monotonically increasing
// for a single ReceiverSet's lifetime; ids of removed receivers are never
// reused.
type SetIDGenerator struct {
	next uint64
}

// Next returns the next set-local id.
func (g *SetIDGenerator) Next() uint64 {
	return atomic.AddUint64(&g.next, 1) - 1
}
