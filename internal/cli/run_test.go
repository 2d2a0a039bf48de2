package cli

import (
	"bytes"
	"errors"
	"io"
	"regexp"
	"runtime"
	"strconv"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestRunCommandPropagatesExitCode(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("spawn layer requires linux")
	}

	cmd := newRunCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--null-stdin", "--", "/bin/sh", "-c", "exit 3"})

	err := cmd.Execute()
	if err == nil {
		t.Fatalf("expected an error for a non-zero exit")
	}

	var exit *exitError
	if !errors.As(err, &exit) {
		t.Fatalf("expected exitError, got %T: %v", err, err)
	}
	if code := exitCodeFor(err); code != 3 {
		t.Fatalf("expected exit code 3, got %d", code)
	}
}

func TestRunCommandSucceeds(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("spawn layer requires linux")
	}

	cmd := newRunCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--null-stdin", "--", "/bin/true"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestRunCommandRejectsMalformedEnv(t *testing.T) {
	cmd := newRunCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--env", "NOT_A_PAIR", "--", "/bin/true"})

	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected an error for malformed --env value")
	}
}

func TestRunCommandRedactsSpawnEcho(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("spawn layer requires linux")
	}

	var errBuf bytes.Buffer
	cmd := newRunCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(&errBuf)
	cmd.SetArgs([]string{"--env", "API_KEY=super-secret", "--null-stdin", "--", "/bin/true"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if bytes.Contains(errBuf.Bytes(), []byte("super-secret")) {
		t.Fatalf("expected secret to be redacted in spawn echo: %s", errBuf.String())
	}
}

// syncBuffer lets the test read stderr while the command goroutine is
// still writing to it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRunCommandSupervisedHoldsChildUntilResumed(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("spawn layer requires linux")
	}

	var errBuf syncBuffer
	cmd := newRunCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(&errBuf)
	cmd.SetArgs([]string{"--supervised", "--null-stdin", "--", "/bin/sh", "-c", "exit 4"})

	done := make(chan error, 1)
	go func() { done <- cmd.Execute() }()

	pidPattern := regexp.MustCompile(`child (\d+) held at exec`)
	var pid int
	deadline := time.Now().Add(5 * time.Second)
	for pid == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("held-child notice never appeared, stderr: %q", errBuf.String())
		}
		if m := pidPattern.FindStringSubmatch(errBuf.String()); m != nil {
			parsed, err := strconv.Atoi(m[1])
			if err != nil {
				t.Fatalf("parse pid from %q: %v", m[1], err)
			}
			pid = parsed
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case err := <-done:
		t.Fatalf("run returned before the child was resumed: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	if err := unix.Kill(pid, unix.SIGCONT); err != nil {
		t.Fatalf("resume held child %d: %v", pid, err)
	}

	select {
	case err := <-done:
		if code := exitCodeFor(err); code != 4 {
			t.Fatalf("expected exit code 4 after resume, got %d (%v)", code, err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("run did not finish after the child was resumed")
	}
}

func TestExitCodeForUnknownError(t *testing.T) {
	if code := exitCodeFor(errors.New("boom")); code != 1 {
		t.Fatalf("expected generic failure code 1, got %d", code)
	}
}
