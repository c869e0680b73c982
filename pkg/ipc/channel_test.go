package ipc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jabolina/go-ipc/internal/ipctest"
	"github.com/jabolina/go-ipc/pkg/ipc/core"
)

func TestChannelSendRecv(t *testing.T) {
	defer goleak.VerifyNone(t)

	tx, rx, err := Channel[ipctest.Person]()
	require.NoError(t, err)
	defer tx.Close()
	defer rx.Close()

	want := ipctest.Ada()
	require.NoError(t, tx.Send(want))

	got, err := rx.Recv()
	require.NoError(t, err)
	require.Equal(t, want.Name, got.Name)
	require.Equal(t, want.Friend.Name, got.Friend.Name)
}

func TestChannelTryRecvEmpty(t *testing.T) {
	defer goleak.VerifyNone(t)

	tx, rx, err := Channel[int]()
	require.NoError(t, err)
	defer tx.Close()
	defer rx.Close()

	_, err = rx.TryRecv()
	require.ErrorIs(t, err, core.ErrEmpty)

	require.NoError(t, tx.Send(7))
	time.Sleep(10 * time.Millisecond)
	got, err := rx.TryRecv()
	require.NoError(t, err)
	require.Equal(t, 7, got)
}

func TestSenderCloneSharesConnection(t *testing.T) {
	defer goleak.VerifyNone(t)

	tx, rx, err := Channel[string]()
	require.NoError(t, err)
	defer rx.Close()

	clone := tx.Clone()
	require.NoError(t, tx.Send("from original"))
	require.NoError(t, clone.Send("from clone"))
	require.NoError(t, tx.Close())

	first, err := rx.Recv()
	require.NoError(t, err)
	second, err := rx.Recv()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"from original", "from clone"}, []string{first, second})

	require.NoError(t, clone.Close())
}

// envelope embeds a whole channel endpoint, exercising the handle-carrier
// path end to end within a single process: the inner sender's socket fd
// crosses the outer channel via SCM_RIGHTS and is rebuilt on the far side.
type envelope struct {
	Label string
	Inner Sender[string]
}

func TestChannelCanCarryAnotherChannelsSender(t *testing.T) {
	defer goleak.VerifyNone(t)

	outerTx, outerRx, err := Channel[envelope]()
	require.NoError(t, err)
	defer outerTx.Close()
	defer outerRx.Close()

	innerTx, innerRx, err := Channel[string]()
	require.NoError(t, err)
	defer innerRx.Close()

	require.NoError(t, outerTx.Send(envelope{Label: "handoff", Inner: innerTx}))
	require.NoError(t, innerTx.Close())

	got, err := outerRx.Recv()
	require.NoError(t, err)
	require.Equal(t, "handoff", got.Label)

	require.NoError(t, got.Inner.Send("through the rebuilt sender"))
	message, err := innerRx.Recv()
	require.NoError(t, err)
	require.Equal(t, "through the rebuilt sender", message)
	require.NoError(t, got.Inner.Close())
}

func TestReceiverDisconnectSurfacesError(t *testing.T) {
	defer goleak.VerifyNone(t)

	tx, rx, err := Channel[int]()
	require.NoError(t, err)
	defer rx.Close()

	require.NoError(t, tx.Close())
	_, err = rx.Recv()
	require.ErrorIs(t, err, core.ErrDisconnected)
}

func TestSendAfterReceiverDroppedReturnsDisconnected(t *testing.T) {
	defer goleak.VerifyNone(t)

	tx, rx, err := Channel[int]()
	require.NoError(t, err)
	defer tx.Close()

	require.NoError(t, rx.Close())
	err = tx.Send(1)
	require.ErrorIs(t, err, core.ErrDisconnected)
}

func TestRecvAfterAllClonesDropped(t *testing.T) {
	defer goleak.VerifyNone(t)

	tx, rx, err := Channel[string]()
	require.NoError(t, err)
	defer rx.Close()

	cloneA := tx.Clone()
	cloneB := cloneA.Clone()
	require.NoError(t, tx.Send("before teardown"))

	require.NoError(t, tx.Close())
	require.NoError(t, cloneA.Close())

	// One clone still alive: the pending message is delivered and the
	// channel is not yet considered disconnected.
	got, err := rx.Recv()
	require.NoError(t, err)
	require.Equal(t, "before teardown", got)

	require.NoError(t, cloneB.Close())
	_, err = rx.Recv()
	require.ErrorIs(t, err, core.ErrDisconnected)
}
