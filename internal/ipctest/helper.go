package ipctest

import (
	"os"
	"os/exec"
	"runtime"
	"testing"
	"time"
)

// helperProcessEnv marks a re-exec'd test binary as running in child-process
// mode instead of normal test mode. Same pattern as os/exec's own
// "GO_WANT_HELPER_PROCESS" tests: re-exec stands in for fork() in a Go
// test binary, which the fuzzy tests use for their cross-process
// scenarios.
const helperProcessEnv = "GO_IPC_TEST_HELPER_PROCESS"

// ModeEnv names the environment variable a spawned helper process reads to
// decide which scenario to run.
const ModeEnv = "GO_IPC_TEST_MODE"

// IsHelperProcess reports whether the current process was re-exec'd by
// SpawnHelper rather than started normally by `go test`.
func IsHelperProcess() bool {
	return os.Getenv(helperProcessEnv) == "1"
}

// SpawnHelper re-execs the current test binary with helperProcessEnv and
// ModeEnv set, running only TestHelperProcess in the child. extraEnv is
// appended on top, typically to pass a rendezvous socket name.
func SpawnHelper(t *testing.T, mode string, extraEnv ...string) *exec.Cmd {
	t.Helper()
	cmd := exec.Command(os.Args[0], "-test.run=^TestHelperProcess$", "-test.v")
	env := append(os.Environ(), helperProcessEnv+"=1", ModeEnv+"="+mode)
	cmd.Env = append(env, extraEnv...)
	cmd.Stderr = os.Stderr
	cmd.Stdout = os.Stdout
	return cmd
}

// WaitOrTimeout runs cb on its own goroutine and reports whether it
// finished within duration.
func WaitOrTimeout(cb func(), duration time.Duration) bool {
	done := make(chan struct{})
	go func() {
		cb()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(duration):
		return false
	}
}

// DumpStacks reports every goroutine's stack through t.Errorf, for
// diagnosing a hung test before it's killed by the test timeout.
func DumpStacks(t *testing.T) {
	buf := make([]byte, 1<<16)
	n := runtime.Stack(buf, true)
	t.Errorf("%s", buf[:n])
}
