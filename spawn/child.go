package spawn

import (
	"os"

	"golang.org/x/sys/unix"
)

// ChildStdin exclusively owns the write end of the pipe connected to a
// child's standard input. The descriptor is released on Close, or by the
// garbage collector if the handle is dropped unclosed.
type ChildStdin struct {
	f *os.File
}

func (c *ChildStdin) Write(p []byte) (int, error) { return c.f.Write(p) }

// Close releases the descriptor. Closing is what delivers EOF to a child
// reading its standard input, so callers that pipe data in must close when
// done writing.
func (c *ChildStdin) Close() error { return c.f.Close() }

// ChildStdout exclusively owns the read end of the pipe connected to a
// child's standard output.
type ChildStdout struct {
	f *os.File
}

func (c *ChildStdout) Read(p []byte) (int, error) { return c.f.Read(p) }

func (c *ChildStdout) Close() error { return c.f.Close() }

// Fd exposes the underlying descriptor number.
func (c *ChildStdout) Fd() uintptr { return c.f.Fd() }

// ChildStderr exclusively owns the read end of the pipe connected to a
// child's standard error.
type ChildStderr struct {
	f *os.File
}

func (c *ChildStderr) Read(p []byte) (int, error) { return c.f.Read(p) }

func (c *ChildStderr) Close() error { return c.f.Close() }

// Child is a handle to a spawned process. A stream handle is nil when the
// corresponding Stdio was Inherit, Null or FromFd; only Piped streams are
// exposed as owned handles.
//
// Dropping a Child does not reap the process; the kernel keeps the pid as a
// pending child until some caller waits for it.
type Child struct {
	pid int

	Stdin  *ChildStdin
	Stdout *ChildStdout
	Stderr *ChildStderr

	waited bool
	status ExitStatus
}

// ID returns the kernel-assigned process id, stored at spawn time and never
// recomputed.
func (c *Child) ID() int {
	return c.pid
}

// Wait blocks until the child terminates and decodes the raw status word.
// The first result is cached: calling Wait again returns the same status
// without issuing another waitpid, so a pid reused by the kernel is never
// waited on by a stale handle. A supervised child stays signal-stopped at
// its exec boundary until some supervisor sends it SIGCONT; Wait blocks
// across that stop and only reports the eventual exit.
func (c *Child) Wait() (ExitStatus, error) {
	if c.waited {
		return c.status, nil
	}
	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(c.pid, &ws, 0, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return ExitStatus{}, &SyscallError{Op: "waitpid", Errno: errnoOf(err)}
		}
		break
	}
	c.status = ExitStatus{raw: ws}
	c.waited = true
	return c.status, nil
}
