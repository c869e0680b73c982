// Command ipcdemo is a small two-role demonstration of a one-shot server
// handoff: run with -server to print a rendezvous name and wait for a
// value, then run with -client <name> in another process to send one.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"

	"github.com/jabolina/go-ipc/pkg/ipc"
)

type greeting struct {
	From    string
	Message string
}

func main() {
	out := colorable.NewColorableStdout()
	info := color.New(color.FgCyan)
	success := color.New(color.FgGreen, color.Bold)
	fail := color.New(color.FgRed, color.Bold)

	server := flag.Bool("server", false, "run as the accepting side")
	client := flag.String("client", "", "rendezvous name printed by -server")
	dir := flag.String("dir", os.TempDir(), "directory for the rendezvous socket")
	flag.Parse()

	switch {
	case *server:
		runServer(out, info, success, fail, *dir)
	case *client != "":
		runClient(out, info, success, fail, *client)
	default:
		fmt.Fprintln(out, "usage: ipcdemo -server | -client <name>")
		os.Exit(2)
	}
}

func runServer(out io.Writer, info, success, fail *color.Color, dir string) {
	srv, name, err := ipc.NewOneShotServer[greeting](dir)
	if err != nil {
		fail.Fprintf(out, "failed creating one-shot server: %v\n", err)
		os.Exit(1)
	}
	info.Fprintf(out, "waiting for a connection on %s\n", name)
	info.Fprintln(out, "run this in another terminal:")
	info.Fprintf(out, "  ipcdemo -client %s\n", name)

	rx, err := srv.Accept()
	if err != nil {
		fail.Fprintf(out, "accept failed: %v\n", err)
		os.Exit(1)
	}

	// Hand the receiver to the process-wide router and read arrivals off
	// the forwarded channel, the shape a long-lived daemon would use.
	arrivals := ipc.RouterInstance().RouteToNewMpscReceiver(rx.ToOpaque())
	raw, ok := <-arrivals
	if !ok {
		fail.Fprintln(out, "peer disconnected before sending")
		os.Exit(1)
	}
	msg, err := ipc.ToTyped[greeting](&raw)
	if err != nil {
		fail.Fprintf(out, "decode failed: %v\n", err)
		os.Exit(1)
	}
	success.Fprintf(out, "received from %s: %s\n", msg.From, msg.Message)
}

func runClient(out io.Writer, info, success, fail *color.Color, name string) {
	tx, err := ipc.Connect[greeting](name)
	if err != nil {
		fail.Fprintf(out, "connect failed: %v\n", err)
		os.Exit(1)
	}
	defer tx.Close()

	info.Fprintf(out, "connected to %s\n", name)
	msg := greeting{From: fmt.Sprintf("pid-%d", os.Getpid()), Message: "hello from ipcdemo"}
	if err := tx.Send(msg); err != nil {
		fail.Fprintf(out, "send failed: %v\n", err)
		os.Exit(1)
	}
	success.Fprintln(out, "sent")
}
