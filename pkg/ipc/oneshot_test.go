package ipc

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestOneShotServerAcceptConnect(t *testing.T) {
	defer goleak.VerifyNone(t)

	server, name, err := NewOneShotServer[string](os.TempDir())
	require.NoError(t, err)

	rxCh := make(chan Receiver[string], 1)
	errCh := make(chan error, 1)
	go func() {
		rx, err := server.Accept()
		if err != nil {
			errCh <- err
			return
		}
		rxCh <- rx
	}()

	tx, err := Connect[string](name)
	require.NoError(t, err)
	defer tx.Close()

	var rx Receiver[string]
	select {
	case rx = <-rxCh:
	case err := <-errCh:
		t.Fatalf("accept failed: %v", err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for accept")
	}
	defer rx.Close()

	require.NoError(t, tx.Send("handshake complete"))
	got, err := rx.Recv()
	require.NoError(t, err)
	require.Equal(t, "handshake complete", got)
}

func TestOneShotServerNameIsUniquePerCall(t *testing.T) {
	serverA, nameA, err := NewOneShotServer[int](os.TempDir())
	require.NoError(t, err)
	defer serverA.listener.Close()

	serverB, nameB, err := NewOneShotServer[int](os.TempDir())
	require.NoError(t, err)
	defer serverB.listener.Close()
	defer os.Remove(nameB)
	defer os.Remove(nameA)

	require.NotEqual(t, nameA, nameB)
}
