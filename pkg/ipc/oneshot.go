package ipc

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"

	hashiversion "github.com/hashicorp/go-version"

	"github.com/jabolina/go-ipc/pkg/ipc/core"
)

// ProtocolVersion is the wire handshake version negotiated by every
// OneShotServer connection. Only the major version is compared: bumping it
// is a breaking change, and a peer on a different major version fails the
// handshake instead of misinterpreting frames.
var ProtocolVersion = hashiversion.Must(hashiversion.NewVersion("1.0.0"))

// ErrUnsupportedProtocol is returned when the peer's version is malformed
// or its major version differs from ProtocolVersion's.
var ErrUnsupportedProtocol = fmt.Errorf("ipc: unsupported protocol version")

// OneShotServer listens on a named, filesystem-backed rendezvous point and
// accepts exactly one connection, the usual bootstrap step before two
// processes switch to passing channels inside messages. Construction does
// the one fallible setup step and returns a ready-to-use value or an
// error, nothing lazily initialized later.
type OneShotServer[T any] struct {
	listener *net.UnixListener
	name     string
}

// NewOneShotServer creates the rendezvous point (named via a fresh UUID
// under dir, per core.NewSocketName) and starts listening. The returned
// name is what a peer process passes to Connect.
func NewOneShotServer[T any](dir string) (*OneShotServer[T], string, error) {
	name := core.NewSocketName(dir)
	addr, err := net.ResolveUnixAddr("unix", name)
	if err != nil {
		return nil, "", fmt.Errorf("ipc: resolve one-shot server address: %w", err)
	}
	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, "", fmt.Errorf("ipc: listen on one-shot server socket: %w", err)
	}
	return &OneShotServer[T]{listener: listener, name: name}, name, nil
}

// Accept blocks for the single connection this server will ever receive,
// negotiates the protocol version, and returns a Receiver bound to it. The
// listener and its socket file are torn down whether or not the accept
// succeeds; the server is spent either way.
func (s *OneShotServer[T]) Accept() (Receiver[T], error) {
	defer s.listener.Close()
	defer os.Remove(s.name)

	conn, err := s.listener.AcceptUnix()
	if err != nil {
		return Receiver[T]{}, fmt.Errorf("ipc: accept one-shot connection: %w", err)
	}
	if err := writeHandshake(conn); err != nil {
		conn.Close()
		return Receiver[T]{}, err
	}
	if err := readHandshake(conn); err != nil {
		conn.Close()
		return Receiver[T]{}, err
	}
	return Receiver[T]{state: newChannelState(conn)}, nil
}

// Connect dials the named rendezvous point created by NewOneShotServer and
// completes the version handshake, returning a Sender ready to push values
// to whoever called Accept.
func Connect[T any](name string) (Sender[T], error) {
	addr, err := net.ResolveUnixAddr("unix", name)
	if err != nil {
		return Sender[T]{}, fmt.Errorf("ipc: resolve one-shot server address: %w", err)
	}
	conn, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		return Sender[T]{}, fmt.Errorf("ipc: connect to one-shot server: %w", err)
	}
	if err := readHandshake(conn); err != nil {
		conn.Close()
		return Sender[T]{}, err
	}
	if err := writeHandshake(conn); err != nil {
		conn.Close()
		return Sender[T]{}, err
	}
	return Sender[T]{state: newChannelState(conn)}, nil
}

// writeHandshake/readHandshake exchange ProtocolVersion as a plain
// length-prefixed UTF-8 string ahead of any framed application payload,
// independent of the codec so a version mismatch can be diagnosed even
// when the two sides disagree about everything else on the wire.
func writeHandshake(conn *net.UnixConn) error {
	raw := []byte(ProtocolVersion.String())
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(raw)))
	if _, err := conn.Write(append(header, raw...)); err != nil {
		return fmt.Errorf("ipc: write handshake: %w", err)
	}
	return nil
}

func readHandshake(conn *net.UnixConn) error {
	header := make([]byte, 4)
	if _, err := readFull(conn, header); err != nil {
		return fmt.Errorf("ipc: read handshake length: %w", err)
	}
	length := binary.BigEndian.Uint32(header)
	raw := make([]byte, length)
	if _, err := readFull(conn, raw); err != nil {
		return fmt.Errorf("ipc: read handshake version: %w", err)
	}
	peerVersion, err := hashiversion.NewVersion(string(raw))
	if err != nil {
		return fmt.Errorf("%w: malformed peer version %q", ErrUnsupportedProtocol, raw)
	}
	if peerVersion.Segments()[0] != ProtocolVersion.Segments()[0] {
		return fmt.Errorf("%w: peer is %s, this process is %s", ErrUnsupportedProtocol, peerVersion, ProtocolVersion)
	}
	return nil
}

func readFull(conn *net.UnixConn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
