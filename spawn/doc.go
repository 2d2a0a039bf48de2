// Package spawn implements process creation directly on top of the kernel
// primitives clone, execve, waitpid, pipe2, dup3 and close. Given an
// executable path, arguments, optional environment overrides and stdio
// routing, it produces a running child process and typed handles to its
// standard streams, or a descriptive error with every descriptor it owned
// closed exactly once.
//
// The package is Linux-only. The child branch between clone and execve runs
// in a forked copy of a multithreaded address space, so it restricts itself
// to raw syscalls over buffers materialized before the fork; the outcome of
// the child's execve travels back to the parent over a dedicated CLOEXEC
// pipe, which doubles as the ordering guarantee that the parent never
// observes a result the child has not produced.
//
// Spawning is synchronous and uncancellable: Wait blocks the calling
// goroutine for the full lifetime of the child. Callers that need timeouts
// or teardown must layer a signal path on top, as internal/supervise does.
package spawn
