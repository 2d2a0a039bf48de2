package supervise

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Paintersrp/hatch/internal/manifest"
	"github.com/Paintersrp/hatch/spawn"
)

// instance is one spawned occurrence of a job: the child handle, its log
// stream pumps and the exit observation.
type instance struct {
	name   string
	child  *spawn.Child
	events chan<- Event

	logWG sync.WaitGroup

	done    chan struct{}
	exit    spawn.ExitStatus
	exitErr error
}

func stdioFor(mode manifest.StdioMode) (spawn.Stdio, error) {
	switch mode {
	case manifest.StdioInherit:
		return spawn.Inherit(), nil
	case manifest.StdioNull:
		return spawn.Null(), nil
	case manifest.StdioPipe:
		return spawn.PipedStrict()
	default:
		return spawn.Stdio{}, fmt.Errorf("unknown stdio mode %q", mode)
	}
}

// startInstance spawns the job once and wires its piped streams into the
// event channel. The supervisor feeds nothing into a piped stdin, so its
// write end is closed immediately and the child reads EOF.
func startInstance(name string, job *manifest.Job, events chan<- Event) (*instance, error) {
	cmd := spawn.New(job.Command)
	if len(job.Args) > 0 {
		cmd.Args(job.Args...)
	}
	for k, v := range job.Env {
		cmd.Env(k, v)
	}

	stdin, err := stdioFor(job.Stdin)
	if err != nil {
		return nil, fmt.Errorf("job %s stdin: %w", name, err)
	}
	stdout, err := stdioFor(job.Stdout)
	if err != nil {
		stdin.Release()
		return nil, fmt.Errorf("job %s stdout: %w", name, err)
	}
	stderr, err := stdioFor(job.Stderr)
	if err != nil {
		stdin.Release()
		stdout.Release()
		return nil, fmt.Errorf("job %s stderr: %w", name, err)
	}
	cmd.Stdin(stdin).Stdout(stdout).Stderr(stderr)

	var child *spawn.Child
	if job.Supervised {
		child, err = cmd.SpawnSupervised()
	} else {
		child, err = cmd.Spawn()
	}
	if err != nil {
		return nil, fmt.Errorf("spawn job %s: %w", name, err)
	}

	if job.Supervised {
		// The child is parked signal-stopped at its exec boundary and
		// runs nothing until released.
		if err := unix.Kill(child.ID(), unix.SIGCONT); err != nil {
			_ = unix.Kill(child.ID(), unix.SIGKILL)
			if child.Stdin != nil {
				_ = child.Stdin.Close()
			}
			if child.Stdout != nil {
				_ = child.Stdout.Close()
			}
			if child.Stderr != nil {
				_ = child.Stderr.Close()
			}
			_, _ = child.Wait()
			return nil, fmt.Errorf("resume job %s: %w", name, err)
		}
	}

	inst := &instance{
		name:   name,
		child:  child,
		events: events,
		done:   make(chan struct{}),
	}

	if child.Stdin != nil {
		_ = child.Stdin.Close()
	}
	if child.Stdout != nil {
		inst.logWG.Add(1)
		go inst.streamLogs(child.Stdout, LogSourceStdout)
	}
	if child.Stderr != nil {
		inst.logWG.Add(1)
		go inst.streamLogs(child.Stderr, LogSourceStderr)
	}

	go inst.watchExit()

	return inst, nil
}

func (i *instance) streamLogs(r io.ReadCloser, source string) {
	defer i.logWG.Done()
	defer r.Close()

	level := "info"
	if source == LogSourceStderr {
		level = "warn"
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		i.events <- Event{
			Timestamp: time.Now(),
			Job:       i.name,
			PID:       i.child.ID(),
			Type:      EventTypeLog,
			Message:   scanner.Text(),
			Level:     level,
			Source:    source,
		}
	}
	if err := scanner.Err(); err != nil {
		sendEvent(i.events, i.name, i.child.ID(), EventTypeError, "log stream error", 0, ReasonLogStreamError, err)
	}
}

func (i *instance) watchExit() {
	status, err := i.child.Wait()
	i.exit = status
	i.exitErr = err
	close(i.done)
}

// stop delivers SIGTERM, escalates to SIGKILL after a grace period, and
// returns once the exit has been observed or ctx expires.
func (i *instance) stop(ctx context.Context) error {
	select {
	case <-i.done:
		return nil
	default:
	}

	// Attempt a graceful shutdown first.
	if err := unix.Kill(i.child.ID(), unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signal job %s: %w", i.name, err)
	}

	select {
	case <-i.done:
		return nil
	case <-time.After(stopGracePeriod):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := unix.Kill(i.child.ID(), unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("kill job %s: %w", i.name, err)
	}
	select {
	case <-i.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
