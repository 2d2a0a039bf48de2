package spawn

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestSpawnInheritExposesNoHandles(t *testing.T) {
	child, err := New("/bin/sh").Args("-c", "exit 0").Spawn()
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if child.Stdin != nil || child.Stdout != nil || child.Stderr != nil {
		t.Fatalf("inherit stdio produced stream handles: %+v", child)
	}
	status, err := child.Wait()
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !status.Success() {
		t.Fatalf("expected success, got %v", status)
	}
	if code := status.Code(); code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
}

func TestExitCodePropagates(t *testing.T) {
	child, err := New("/bin/sh").Args("-c", "exit 7").Spawn()
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	status, err := child.Wait()
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if status.Success() {
		t.Fatalf("expected failure status for exit 7")
	}
	if code := status.Code(); code != 7 {
		t.Fatalf("expected exit code 7, got %d", code)
	}
}

func TestPipeRoundTrip(t *testing.T) {
	child, err := New("/bin/cat").Stdin(Piped()).Stdout(Piped()).Spawn()
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if child.Stdin == nil || child.Stdout == nil {
		t.Fatalf("piped stdio did not produce stream handles")
	}
	if child.Stderr != nil {
		t.Fatalf("inherited stderr produced a handle")
	}

	payload := []byte("through the pipe and back\n")
	if _, err := child.Stdin.Write(payload); err != nil {
		t.Fatalf("write stdin: %v", err)
	}
	if err := child.Stdin.Close(); err != nil {
		t.Fatalf("close stdin: %v", err)
	}

	got, err := io.ReadAll(child.Stdout)
	if err != nil {
		t.Fatalf("read stdout: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: wrote %q, read %q", payload, got)
	}

	status, err := child.Wait()
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !status.Success() {
		t.Fatalf("cat exited with %v", status)
	}
}

func TestPipedStderr(t *testing.T) {
	child, err := New("/bin/sh").Args("-c", "echo oops >&2").Stderr(Piped()).Spawn()
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	got, err := io.ReadAll(child.Stderr)
	if err != nil {
		t.Fatalf("read stderr: %v", err)
	}
	if string(got) != "oops\n" {
		t.Fatalf("stderr = %q, want %q", got, "oops\n")
	}
	if _, err := child.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestEnvOverrideReachesChildOnly(t *testing.T) {
	const key = "HATCH_SPAWN_TEST_ENV"

	child, err := New("/bin/sh").
		Args("-c", "printf %s \"$"+key+"\"").
		Env(key, "override").
		Stdout(Piped()).
		Spawn()
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	got, err := io.ReadAll(child.Stdout)
	if err != nil {
		t.Fatalf("read stdout: %v", err)
	}
	if string(got) != "override" {
		t.Fatalf("child saw %q, want %q", got, "override")
	}
	if _, err := child.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}

	if _, set := os.LookupEnv(key); set {
		t.Fatalf("spawn mutated the parent environment")
	}
}

func TestSpawnMissingExecutable(t *testing.T) {
	child, err := New("/this/path/does/not/exist").Spawn()
	if err == nil {
		child.Wait()
		t.Fatalf("expected spawn of missing executable to fail")
	}
	var execErr *ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecError, got %T: %v", err, err)
	}
	if execErr.Errno != unix.ENOENT {
		t.Fatalf("expected ENOENT, got %v", execErr.Errno)
	}
}

func TestFailedSpawnClosesPipeDescriptors(t *testing.T) {
	stdout, err := PipedStrict()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	readFD, writeFD := stdout.state.readFD, stdout.state.writeFD

	if _, err := New("/this/path/does/not/exist").Stdout(stdout).Spawn(); err == nil {
		t.Fatalf("expected spawn failure")
	}

	for _, fd := range []int{readFD, writeFD} {
		if _, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0); err != unix.EBADF {
			t.Fatalf("descriptor %d still open after failed spawn (fcntl err %v)", fd, err)
		}
	}
}

func TestStdioConsumeOnce(t *testing.T) {
	stdin, err := PipedStrict()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}

	child, err := New("/bin/sh").Args("-c", "exit 0").Stdin(stdin).Spawn()
	if err != nil {
		t.Fatalf("first spawn: %v", err)
	}
	child.Stdin.Close()
	if _, err := child.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}

	if _, err := New("/bin/sh").Args("-c", "exit 0").Stdin(stdin).Spawn(); !errors.Is(err, ErrStdioConsumed) {
		t.Fatalf("expected ErrStdioConsumed on reuse, got %v", err)
	}
}

func TestRawDescriptorExposesNoHandle(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "raw-stdout")
	if err != nil {
		t.Fatalf("temp file: %v", err)
	}
	defer f.Close()

	// The spawn attempt closes the descriptor it is given, so hand it a
	// duplicate and keep f usable for reading back.
	dupFD, err := unix.Dup(int(f.Fd()))
	if err != nil {
		t.Fatalf("dup: %v", err)
	}

	child, err := New("/bin/sh").Args("-c", "printf raw-bytes").Stdout(FromFd(dupFD)).Spawn()
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if child.Stdout != nil {
		t.Fatalf("raw stdio exposed an owned stream handle")
	}
	status, err := child.Wait()
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !status.Success() {
		t.Fatalf("child exited with %v", status)
	}

	got, err := os.ReadFile(f.Name())
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != "raw-bytes" {
		t.Fatalf("raw descriptor received %q, want %q", got, "raw-bytes")
	}

	// The original was closed by the spawn attempt.
	if _, err := unix.FcntlInt(uintptr(dupFD), unix.F_GETFD, 0); err != unix.EBADF {
		t.Fatalf("raw descriptor %d still open after spawn (fcntl err %v)", dupFD, err)
	}
}

func TestNullStdio(t *testing.T) {
	child, err := New("/bin/sh").Args("-c", "exit 0").
		Stdin(Null()).
		Stdout(Null()).
		Stderr(Null()).
		Spawn()
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if child.Stdin != nil || child.Stdout != nil || child.Stderr != nil {
		t.Fatalf("null stdio produced stream handles")
	}
	status, err := child.Wait()
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !status.Success() {
		t.Fatalf("child exited with %v", status)
	}
}

func TestWaitCachesFirstResult(t *testing.T) {
	child, err := New("/bin/sh").Args("-c", "exit 3").Spawn()
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	first, err := child.Wait()
	if err != nil {
		t.Fatalf("first wait: %v", err)
	}
	second, err := child.Wait()
	if err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if first != second {
		t.Fatalf("second wait returned %v, first returned %v", second, first)
	}
	if second.Code() != 3 {
		t.Fatalf("cached status code = %d, want 3", second.Code())
	}
}

// procState reads the single-letter state field from /proc/<pid>/stat. The
// field follows the parenthesised comm, which may itself contain spaces.
func procState(t *testing.T, pid int) byte {
	t.Helper()
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		t.Fatalf("read stat for pid %d: %v", pid, err)
	}
	i := bytes.LastIndexByte(data, ')')
	if i < 0 || i+2 >= len(data) {
		t.Fatalf("malformed stat for pid %d: %q", pid, data)
	}
	return data[i+2]
}

func waitForProcState(t *testing.T, pid int, want byte) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if procState(t, pid) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("pid %d never reached state %c, last %c", pid, want, procState(t, pid))
}

func TestSpawnSupervisedStopsAtExec(t *testing.T) {
	child, err := New("/bin/sh").Args("-c", "exit 7").SpawnSupervised()
	if err != nil {
		t.Fatalf("spawn supervised: %v", err)
	}
	if child.ID() <= 0 {
		t.Fatalf("supervised child has invalid pid %d", child.ID())
	}

	waitForProcState(t, child.ID(), 'T')

	// Wait issued from a goroutine other than the spawning one must block
	// across the stop and report only the eventual exit.
	results := make(chan ExitStatus, 1)
	waitErrs := make(chan error, 1)
	go func() {
		status, err := child.Wait()
		waitErrs <- err
		results <- status
	}()

	select {
	case <-results:
		t.Fatalf("wait returned while the child was still stopped")
	case <-time.After(200 * time.Millisecond):
	}

	if err := unix.Kill(child.ID(), unix.SIGCONT); err != nil {
		t.Fatalf("resume stopped child: %v", err)
	}

	select {
	case err := <-waitErrs:
		if err != nil {
			t.Fatalf("wait after resume: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("wait did not complete after resume")
	}
	status := <-results
	if status.Code() != 7 {
		t.Fatalf("resumed child exited with %v, want code 7", status)
	}
}

func TestSpawnSupervisedStoppedChildCanBeKilled(t *testing.T) {
	child, err := New("/bin/sh").Args("-c", "exit 0").SpawnSupervised()
	if err != nil {
		t.Fatalf("spawn supervised: %v", err)
	}

	waitForProcState(t, child.ID(), 'T')

	if err := unix.Kill(child.ID(), unix.SIGKILL); err != nil {
		t.Fatalf("kill stopped child: %v", err)
	}
	status, err := child.Wait()
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !status.Signaled() || status.Signal() != unix.SIGKILL {
		t.Fatalf("stopped child ended with %v, want SIGKILL termination", status)
	}
}
