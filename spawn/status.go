package spawn

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ExitStatus wraps the raw wait-status word reported by waitpid.
type ExitStatus struct {
	raw unix.WaitStatus
}

// Success reports whether the raw status word is zero, the encoding of a
// normal exit with code 0.
func (e ExitStatus) Success() bool {
	return e.raw == 0
}

// Code returns the exit code for a child that exited normally, and -1 for a
// child that was terminated by a signal.
func (e ExitStatus) Code() int {
	if e.raw.Exited() {
		return e.raw.ExitStatus()
	}
	return -1
}

// Signaled reports whether the child was terminated by a signal.
func (e ExitStatus) Signaled() bool {
	return e.raw.Signaled()
}

// Signal returns the terminating signal when Signaled is true.
func (e ExitStatus) Signal() unix.Signal {
	return e.raw.Signal()
}

// Sys exposes the raw status word for callers needing platform encodings
// beyond normal-exit and signal-termination.
func (e ExitStatus) Sys() unix.WaitStatus {
	return e.raw
}

func (e ExitStatus) String() string {
	switch {
	case e.raw.Exited():
		return fmt.Sprintf("exit code %d", e.raw.ExitStatus())
	case e.raw.Signaled():
		return fmt.Sprintf("signal %s", unix.SignalName(e.raw.Signal()))
	case e.raw.Stopped():
		return fmt.Sprintf("stopped by %s", unix.SignalName(e.raw.StopSignal()))
	default:
		return fmt.Sprintf("status %#x", uint32(e.raw))
	}
}
