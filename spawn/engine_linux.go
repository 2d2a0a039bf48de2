package spawn

import (
	"os"
	"runtime"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	opNone uint8 = iota
	opClose
	opDup
)

// slotAction is the pre-materialized plan for one standard stream slot,
// executed in the child between clone and execve. Everything the child
// branch touches is fixed-size and allocated before the fork.
type slotAction struct {
	slot    int
	op      uint8
	install int // descriptor installed into slot for opDup
	drop    int // not-installed pipe end closed first, -1 when absent
}

// pipeEnd selects which end of a Piped pair is installed into the child.
type pipeEnd uint8

const (
	pipeReadEnd pipeEnd = iota
	pipeWriteEnd
)

func (s Stdio) action(slot int, installs pipeEnd) slotAction {
	act := slotAction{slot: slot, install: -1, drop: -1}
	switch s.kind {
	case stdioNull:
		act.op = opClose
	case stdioPiped:
		act.op = opDup
		if installs == pipeReadEnd {
			act.install = s.state.readFD
			act.drop = s.state.writeFD
		} else {
			act.install = s.state.writeFD
			act.drop = s.state.readFD
		}
	case stdioRaw:
		act.op = opDup
		act.install = s.state.readFD
	}
	return act
}

func (c *Command) exec(supervised bool) (*Child, error) {
	stdin, stdout, stderr := c.stdin, c.stdout, c.stderr

	// Reject reuse before anything is marked or any process exists, so a
	// half-checked set of Stdio values never leaks a descriptor.
	if !stdin.consumable() || !stdout.consumable() || !stderr.consumable() {
		return nil, ErrStdioConsumed
	}
	stdin.markConsumed()
	stdout.markConsumed()
	stderr.markConsumed()

	closeAll := func() {
		stdin.closeOwned()
		stdout.closeOwned()
		stderr.closeOwned()
	}

	resolved := ResolvePath(c.path)

	// Materialize path, argv and the merged environment as NUL-terminated
	// buffers now; the child branch only dereferences them.
	argv0p, err := syscall.BytePtrFromString(resolved)
	if err != nil {
		closeAll()
		return nil, &SyscallError{Op: "execve", Errno: unix.EINVAL}
	}
	argvp, err := syscall.SlicePtrFromStrings(append([]string{resolved}, c.args...))
	if err != nil {
		closeAll()
		return nil, &SyscallError{Op: "execve", Errno: unix.EINVAL}
	}
	envvp, err := syscall.SlicePtrFromStrings(mergeEnv(os.Environ(), c.env))
	if err != nil {
		closeAll()
		return nil, &SyscallError{Op: "execve", Errno: unix.EINVAL}
	}

	// Fixed child-side order: stderr first, stdin last. Installing into 2
	// and 1 before 0 keeps a later step from clobbering a pipe descriptor
	// an earlier one still references.
	acts := [3]slotAction{
		stderr.action(2, pipeWriteEnd),
		stdout.action(1, pipeWriteEnd),
		stdin.action(0, pipeReadEnd),
	}

	// The result pipe carries the child's exec outcome. CLOEXEC makes a
	// successful execve close the child's end, so the parent reads EOF for
	// success and exactly one errno word for failure.
	var res [2]int
	if err := unix.Pipe2(res[:], unix.O_CLOEXEC); err != nil {
		closeAll()
		return nil, &SyscallError{Op: "pipe2", Errno: errnoOf(err)}
	}

	// Ptrace stops are reported only to the tracer thread, which for a
	// TRACEME child is the OS thread that issued the clone. Pin that
	// thread until holdAtExec has consumed the trap stop and detached.
	if supervised {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	syscall.ForkLock.Lock()
	pid, errno := forkExec(&acts, supervised, argv0p, argvp, envvp, res[1])
	syscall.ForkLock.Unlock()

	_ = unix.Close(res[1])
	if errno != 0 {
		// clone itself failed: no child exists, but every descriptor that
		// would have been handed to one still must go.
		_ = unix.Close(res[0])
		closeAll()
		return nil, &SyscallError{Op: "clone", Errno: errno}
	}

	// The blocking read is also the ordering guarantee: the parent cannot
	// get past this point before the child has either exec'd or reported.
	var word [4]byte
	n, rerr := readResult(res[0], word[:])
	_ = unix.Close(res[0])

	if rerr != nil || (n != 0 && n != len(word)) {
		reap(int(pid))
		closeAll()
		if rerr != nil {
			return nil, &SyscallError{Op: "read", Errno: errnoOf(rerr)}
		}
		return nil, &SyscallError{Op: "read", Errno: unix.EIO}
	}

	if n == len(word) {
		// The child reported an exec failure and is exiting with 127;
		// reap it so no zombie outlives the failed attempt.
		reap(int(pid))
		closeAll()
		execErrno := unix.Errno(uint32(word[0]) | uint32(word[1])<<8 |
			uint32(word[2])<<16 | uint32(word[3])<<24)
		return nil, &ExecError{Path: resolved, Errno: execErrno}
	}

	if supervised {
		if err := holdAtExec(int(pid)); err != nil {
			closeAll()
			return nil, err
		}
	}

	// Exec succeeded. Close the ends now living inside the child and wrap
	// the retained pipe ends as owned stream handles; raw descriptors are
	// closed without exposing a handle, since the caller's duplicate is
	// the one the child runs with.
	child := &Child{pid: int(pid)}

	switch stdin.kind {
	case stdioPiped:
		_ = unix.Close(stdin.state.readFD)
		child.Stdin = &ChildStdin{f: os.NewFile(uintptr(stdin.state.writeFD), "stdin")}
	case stdioRaw:
		_ = unix.Close(stdin.state.readFD)
	}
	switch stdout.kind {
	case stdioPiped:
		_ = unix.Close(stdout.state.writeFD)
		child.Stdout = &ChildStdout{f: os.NewFile(uintptr(stdout.state.readFD), "stdout")}
	case stdioRaw:
		_ = unix.Close(stdout.state.readFD)
	}
	switch stderr.kind {
	case stdioPiped:
		_ = unix.Close(stderr.state.writeFD)
		child.Stderr = &ChildStderr{f: os.NewFile(uintptr(stderr.state.readFD), "stderr")}
	case stdioRaw:
		_ = unix.Close(stderr.state.readFD)
	}

	return child, nil
}

// forkExec forks control flow into two branches distinguished by the clone
// return value. The child branch never returns: it performs the descriptor
// surgery described by acts, optionally enters the traced state, and either
// replaces itself via execve or writes the failing errno to pipeFD and
// dies. Between clone and execve only raw syscalls over the pre-built
// buffers are legal: the child holds a forked copy of a multithreaded
// address space in which the Go runtime must be presumed unusable.
//
//go:norace
func forkExec(acts *[3]slotAction, supervised bool, argv0 *byte, argv, envv []*byte, pipeFD int) (uintptr, unix.Errno) {
	r1, _, err1 := syscall.RawSyscall(unix.SYS_CLONE, uintptr(unix.SIGCHLD), 0, 0)
	if err1 != 0 {
		return 0, unix.Errno(err1)
	}
	if r1 != 0 {
		// Parent branch. The child's copies of the action table and the
		// argument buffers die with its address space, so unlike a
		// shared-memory clone there is no destructor to suppress here.
		return r1, 0
	}

	// Child branch.
	var word [4]byte
	for i := 0; i < len(acts); i++ {
		act := acts[i]
		switch act.op {
		case opClose:
			_, _, _ = syscall.RawSyscall(unix.SYS_CLOSE, uintptr(act.slot), 0, 0)
		case opDup:
			if act.drop >= 0 {
				_, _, _ = syscall.RawSyscall(unix.SYS_CLOSE, uintptr(act.drop), 0, 0)
			}
			if act.install == act.slot {
				// Already occupying its slot; just clear CLOEXEC.
				_, _, err1 = syscall.RawSyscall(unix.SYS_FCNTL, uintptr(act.slot), unix.F_SETFD, 0)
				if err1 != 0 {
					goto fail
				}
				continue
			}
			// dup3 closes the slot and installs atomically, leaving no
			// window where both processes reference a half-wired slot.
			_, _, err1 = syscall.RawSyscall(unix.SYS_DUP3, uintptr(act.install), uintptr(act.slot), 0)
			if err1 != 0 {
				goto fail
			}
			_, _, _ = syscall.RawSyscall(unix.SYS_CLOSE, uintptr(act.install), 0, 0)
		}
	}

	if supervised {
		// The traced child stops at the exec boundary; the parent
		// re-parks and detaches it once the stop is observed.
		_, _, err1 = syscall.RawSyscall(unix.SYS_PTRACE, unix.PTRACE_TRACEME, 0, 0)
		if err1 != 0 {
			goto fail
		}
	}

	_, _, err1 = syscall.RawSyscall(unix.SYS_EXECVE,
		uintptr(unsafe.Pointer(argv0)),
		uintptr(unsafe.Pointer(&argv[0])),
		uintptr(unsafe.Pointer(&envv[0])))

fail:
	word[0] = byte(err1)
	word[1] = byte(err1 >> 8)
	word[2] = byte(err1 >> 16)
	word[3] = byte(err1 >> 24)
	_, _, _ = syscall.RawSyscall(unix.SYS_WRITE, uintptr(pipeFD), uintptr(unsafe.Pointer(&word[0])), uintptr(len(word)))

	// exit_group is specified not to return; loop so a spurious return can
	// never fall through into parent logic on a stale stack.
	for {
		_, _, _ = syscall.RawSyscall(unix.SYS_EXIT_GROUP, 127, 0, 0)
	}
}

func readResult(fd int, buf []byte) (int, error) {
	for {
		n, err := unix.Read(fd, buf)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

// holdAtExec runs on the forking thread while it is still the traced
// child's tracer. It consumes the trap stop the child enters at exec,
// parks the child under SIGSTOP and detaches. The result is a tracerless
// stopped process: any caller may release it with SIGCONT, and Wait works
// from any thread because no ptrace relationship remains.
func holdAtExec(pid int) error {
	var ws unix.WaitStatus
	for {
		wpid, err := unix.Wait4(pid, &ws, 0, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			killAndReap(pid)
			return &SyscallError{Op: "wait4", Errno: errnoOf(err)}
		}
		if wpid != pid {
			continue
		}
		if ws.Stopped() {
			break
		}
		if ws.Exited() || ws.Signaled() {
			// Dead before the trap stop; already reaped by the wait.
			return &SyscallError{Op: "ptrace", Errno: unix.ESRCH}
		}
	}
	_, _, errno := syscall.RawSyscall6(unix.SYS_PTRACE, unix.PTRACE_DETACH,
		uintptr(pid), 0, uintptr(unix.SIGSTOP), 0, 0)
	if errno != 0 {
		killAndReap(pid)
		return &SyscallError{Op: "ptrace", Errno: unix.Errno(errno)}
	}
	return nil
}

func killAndReap(pid int) {
	_ = unix.Kill(pid, unix.SIGKILL)
	reap(pid)
}

// reap waits for a child known to be dead or dying. Failures are ignored:
// this only runs on paths where the primary error already dominates.
func reap(pid int) {
	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &ws, 0, nil)
		if err != unix.EINTR {
			return
		}
	}
}
