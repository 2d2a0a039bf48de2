package supervise

import "time"

// EventType captures high level lifecycle notifications emitted by job
// supervisors.
type EventType string

const (
	EventTypeStarting EventType = "starting"
	EventTypeStarted  EventType = "started"
	EventTypeStopping EventType = "stopping"
	EventTypeStopped  EventType = "stopped"
	EventTypeLog      EventType = "log"
	EventTypeError    EventType = "error"
	EventTypeExited   EventType = "exited"
	EventTypeCrashed  EventType = "crashed"
	EventTypeFailed   EventType = "failed"
)

// Log sources attached to stream events.
const (
	LogSourceStdout = "stdout"
	LogSourceStderr = "stderr"
	LogSourceSystem = "system"
)

// Event represents a single lifecycle or log notification.
type Event struct {
	Timestamp time.Time
	Job       string
	PID       int
	Type      EventType
	Message   string
	Level     string
	Source    string
	Err       error
	Attempt   int
	Reason    string
}

const (
	ReasonInitialStart   = "initial_start"
	ReasonRestart        = "restart"
	ReasonStartFailure   = "start_failure"
	ReasonJobCrash       = "job_crash"
	ReasonRetriesExhaust = "retries_exhausted"
	ReasonLogStreamError = "log_stream_error"
	ReasonSupervisorStop = "supervisor_stop"
	ReasonStopFailed     = "stop_failed"
	ReasonShutdown       = "shutdown"
)

func sendEvent(events chan<- Event, job string, pid int, t EventType, message string, attempt int, reason string, err error) {
	if events == nil {
		return
	}
	events <- Event{
		Timestamp: time.Now(),
		Job:       job,
		PID:       pid,
		Type:      t,
		Message:   message,
		Level:     "info",
		Source:    LogSourceSystem,
		Err:       err,
		Attempt:   attempt,
		Reason:    reason,
	}
}
