package spawn

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrStdioConsumed reports that a descriptor-carrying Stdio was handed to a
// second spawn attempt after an earlier one already consumed it.
var ErrStdioConsumed = errors.New("spawn: stdio configuration already consumed")

// SyscallError describes a kernel call that failed while spawning or
// waiting. Op names the syscall.
type SyscallError struct {
	Op    string
	Errno unix.Errno
}

func (e *SyscallError) Error() string {
	return fmt.Sprintf("spawn: %s: %s", e.Op, e.Errno.Error())
}

func (e *SyscallError) Unwrap() error { return e.Errno }

// ExecError reports a failed execve inside the child. The errno crossed the
// fork boundary over the result pipe rather than through a return value:
// the failing branch never returns normally.
type ExecError struct {
	Path  string
	Errno unix.Errno
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("spawn: exec %s: %s", e.Path, e.Errno.Error())
}

func (e *ExecError) Unwrap() error { return e.Errno }

// errnoOf extracts the raw errno from errors produced by the unix package.
func errnoOf(err error) unix.Errno {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return unix.EIO
}
