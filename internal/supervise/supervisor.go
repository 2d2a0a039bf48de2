package supervise

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Paintersrp/hatch/internal/manifest"
	"github.com/Paintersrp/hatch/internal/metrics"
)

// jobSupervisor manages the lifecycle of a single job. It runs the job in a
// dedicated goroutine, observes exits and initiates restarts based on the
// configured restart policy.
type jobSupervisor struct {
	name string
	job  *manifest.Job

	events chan<- Event

	policy restartPolicy

	jitter func(time.Duration) time.Duration
	sleep  func(context.Context, time.Duration) error

	ctx    context.Context
	cancel context.CancelFunc

	done chan struct{}

	mu      sync.Mutex
	current *instance
	runErr  error
}

func newJobSupervisor(name string, job *manifest.Job, events chan<- Event) *jobSupervisor {
	sup := &jobSupervisor{
		name:   name,
		job:    job,
		events: events,
		done:   make(chan struct{}),
	}
	sup.policy = deriveRestartPolicy(job.Restart)
	sup.jitter = defaultJitter
	sup.sleep = sleepWithContext
	return sup
}

func (s *jobSupervisor) start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	go s.run()
}

func (s *jobSupervisor) run() {
	defer close(s.done)

	restarts := 0
	backoffBase := s.policy.min
	reason := ReasonInitialStart

	for {
		if err := s.ctx.Err(); err != nil {
			s.setRunErr(err)
			return
		}

		sendEvent(s.events, s.name, 0, EventTypeStarting, "starting job", restarts, reason, nil)

		inst, err := startInstance(s.name, s.job, s.events)
		if err != nil {
			metrics.IncSpawnFailure(s.name)
			if s.ctx.Err() != nil {
				s.setRunErr(s.ctx.Err())
				return
			}
			sendEvent(s.events, s.name, 0, EventTypeCrashed, "spawn failed", restarts, ReasonStartFailure, err)
			if !s.allowRestart(restarts) {
				sendEvent(s.events, s.name, 0, EventTypeFailed, "job failed", restarts, ReasonRetriesExhaust, err)
				s.setRunErr(err)
				return
			}
			restarts++
			metrics.IncRestart(s.name)
			if err := s.sleepBackoff(&backoffBase); err != nil {
				s.setRunErr(err)
				return
			}
			reason = ReasonRestart
			continue
		}

		metrics.IncSpawn(s.name)
		sendEvent(s.events, s.name, inst.child.ID(), EventTypeStarted, "job started", restarts, reason, nil)
		s.setCurrent(inst)

		select {
		case <-s.ctx.Done():
			sendEvent(s.events, s.name, inst.child.ID(), EventTypeStopping, "stopping job", restarts, ReasonSupervisorStop, nil)
			stopCtx, cancel := context.WithTimeout(context.Background(), instanceStopTimeout)
			stopErr := inst.stop(stopCtx)
			cancel()
			inst.logWG.Wait()
			s.clearCurrent()
			if stopErr != nil {
				sendEvent(s.events, s.name, inst.child.ID(), EventTypeError, "stop failed", restarts, ReasonStopFailed, stopErr)
			}
			sendEvent(s.events, s.name, inst.child.ID(), EventTypeStopped, "job stopped", restarts, ReasonShutdown, nil)
			s.setRunErr(s.ctx.Err())
			return
		case <-inst.done:
		}

		inst.logWG.Wait()
		s.clearCurrent()

		if inst.exitErr != nil {
			sendEvent(s.events, s.name, inst.child.ID(), EventTypeError, "wait failed", restarts, ReasonJobCrash, inst.exitErr)
			s.setRunErr(inst.exitErr)
			return
		}

		status := inst.exit
		metrics.ObserveExit(s.name, status.Success())
		if status.Success() {
			sendEvent(s.events, s.name, inst.child.ID(), EventTypeExited, "job exited", restarts, "", nil)
			s.setRunErr(nil)
			return
		}

		crashErr := fmt.Errorf("job %s exited with %s", s.name, status)
		sendEvent(s.events, s.name, inst.child.ID(), EventTypeCrashed, status.String(), restarts, ReasonJobCrash, crashErr)
		if !s.allowRestart(restarts) {
			sendEvent(s.events, s.name, inst.child.ID(), EventTypeFailed, "job failed", restarts, ReasonRetriesExhaust, crashErr)
			s.setRunErr(crashErr)
			return
		}
		restarts++
		metrics.IncRestart(s.name)
		if err := s.sleepBackoff(&backoffBase); err != nil {
			s.setRunErr(err)
			return
		}
		reason = ReasonRestart
	}
}

func (s *jobSupervisor) allowRestart(restarts int) bool {
	if s.policy.maxRetries < 0 {
		return true
	}
	return restarts < s.policy.maxRetries
}

func (s *jobSupervisor) sleepBackoff(base *time.Duration) error {
	delay := *base
	if delay <= 0 {
		delay = s.policy.min
	}
	if delay > s.policy.max {
		delay = s.policy.max
	}

	jittered := s.jitter(delay)
	if jittered > s.policy.max {
		jittered = s.policy.max
	}
	if jittered < 0 {
		jittered = 0
	}

	if err := s.sleep(s.ctx, jittered); err != nil {
		return err
	}

	*base = nextBackoff(delay, s.policy)
	return nil
}

func (s *jobSupervisor) setCurrent(inst *instance) {
	s.mu.Lock()
	s.current = inst
	s.mu.Unlock()
}

func (s *jobSupervisor) clearCurrent() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}

func (s *jobSupervisor) setRunErr(err error) {
	s.mu.Lock()
	s.runErr = err
	s.mu.Unlock()
}

func (s *jobSupervisor) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runErr
}

// Supervisor runs every job of a manifest on the spawn layer and merges
// their lifecycle and log notifications into a single event stream.
type Supervisor struct {
	events chan Event

	mu     sync.Mutex
	supers map[string]*jobSupervisor
	cancel context.CancelFunc
	wg     sync.WaitGroup
	up     bool
}

// New constructs a Supervisor whose event channel is buffered to the
// provided size. A size of zero results in a minimally buffered channel.
func New(buffer int) *Supervisor {
	if buffer <= 0 {
		buffer = 1
	}
	return &Supervisor{
		events: make(chan Event, buffer),
		supers: make(map[string]*jobSupervisor),
	}
}

// Events exposes the merged event stream. The channel is closed once every
// job supervisor has finished. Consumers that cannot keep up should layer a
// logmux.Mux on top rather than stall the supervisors.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

// Up starts a supervisor goroutine for every job in the manifest. Jobs are
// started in name order so event sequences are deterministic for identical
// manifests.
func (s *Supervisor) Up(ctx context.Context, doc *manifest.Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.up {
		return fmt.Errorf("supervisor already running")
	}
	s.up = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	names := make([]string, 0, len(doc.Jobs))
	for name := range doc.Jobs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sup := newJobSupervisor(name, doc.Jobs[name], s.events)
		s.supers[name] = sup
		sup.start(runCtx)
		s.wg.Add(1)
		go func(sup *jobSupervisor) {
			defer s.wg.Done()
			<-sup.done
		}(sup)
	}

	go func() {
		s.wg.Wait()
		close(s.events)
	}()

	return nil
}

// Stop cancels every job supervisor and blocks until all of them have shut
// their instances down.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return s.Wait()
}

// Wait blocks until every job supervisor has finished and returns the first
// failure any of them recorded, ignoring cancellations caused by Stop.
func (s *Supervisor) Wait() error {
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.supers))
	for name := range s.supers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.supers[name].err(); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("job %s: %w", name, err)
		}
	}
	return nil
}
