package spawn

import (
	"golang.org/x/sys/unix"
)

type stdioKind uint8

const (
	stdioInherit stdioKind = iota
	stdioNull
	stdioPiped
	stdioRaw
)

// Stdio describes how one standard stream of a future child connects:
// inherited from the caller, discarded, a pipe the caller will talk to, or
// an already-open descriptor supplied by the caller.
//
// A Stdio that carries descriptors (Piped, FromFd) is consumed by exactly
// one spawn attempt, successful or not; handing it to a second Command is
// rejected with ErrStdioConsumed before any process is created.
type Stdio struct {
	kind  stdioKind
	state *stdioState
}

type stdioState struct {
	// readFD/writeFD are the two ends of a pipe for Piped. Raw stores the
	// caller's descriptor in readFD and leaves writeFD at -1.
	readFD   int
	writeFD  int
	consumed bool
}

// Inherit leaves the stream exactly as inherited from the calling process.
func Inherit() Stdio {
	return Stdio{kind: stdioInherit}
}

// Null closes the stream's descriptor slot in the child, binding nothing to
// it. Programs that unconditionally write to the slot will observe EBADF.
func Null() Stdio {
	return Stdio{kind: stdioNull}
}

// Piped creates a fresh pipe whose child-side end is installed into the
// stream slot while the other end is retained for the caller. When pipe
// creation fails the value silently degrades to Null; call sites that must
// observe the failure should use PipedStrict.
func Piped() Stdio {
	s, err := PipedStrict()
	if err != nil {
		return Null()
	}
	return s
}

// PipedStrict is Piped without the silent degradation: it surfaces pipe
// creation failure to the caller.
func PipedStrict() (Stdio, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		return Stdio{}, &SyscallError{Op: "pipe2", Errno: errnoOf(err)}
	}
	return Stdio{
		kind:  stdioPiped,
		state: &stdioState{readFD: p[0], writeFD: p[1]},
	}, nil
}

// FromFd takes ownership of an already-open descriptor. The descriptor is
// duplicated into the child's stream slot and the original is closed by the
// spawn attempt regardless of its outcome; the caller must not use fd again.
func FromFd(fd int) Stdio {
	return Stdio{
		kind:  stdioRaw,
		state: &stdioState{readFD: fd, writeFD: -1},
	}
}

func (s Stdio) consumable() bool {
	return s.state == nil || !s.state.consumed
}

func (s Stdio) markConsumed() {
	if s.state != nil {
		s.state.consumed = true
	}
}

// Release closes the descriptors of a Stdio that will never reach a spawn
// attempt, marking it consumed. Callers that construct several Stdio values
// and fail between construction and spawn use this to honor the
// closed-exactly-once guarantee themselves.
func (s Stdio) Release() {
	if s.state == nil || s.state.consumed {
		return
	}
	s.state.consumed = true
	s.closeOwned()
}

// closeOwned releases every descriptor the Stdio still owns. Close failures
// are ignored: this only runs on failure paths where the primary error
// dominates.
func (s Stdio) closeOwned() {
	switch s.kind {
	case stdioPiped:
		_ = unix.Close(s.state.readFD)
		_ = unix.Close(s.state.writeFD)
	case stdioRaw:
		_ = unix.Close(s.state.readFD)
	}
}
