package logmux

import (
	"fmt"
	"sync"
	"time"

	"github.com/Paintersrp/hatch/internal/supervise"
)

// Mux fans in log events from multiple jobs and delivers them via a bounded
// channel. When downstream consumers cannot keep up and the output buffer would
// overflow, the mux drops log records and emits a synthesized warning event to
// surface the number of discarded entries.
type Mux struct {
	out chan supervise.Event

	mu     sync.Mutex
	drops  map[string]dropRecord
	inputs sync.WaitGroup
}

type dropRecord struct {
	count   int
	attempt int
}

// New constructs a mux backed by a channel of the provided size. A size of
// zero results in a minimally buffered channel.
func New(size int) *Mux {
	if size <= 0 {
		size = 1
	}
	return &Mux{
		out:   make(chan supervise.Event, size),
		drops: make(map[string]dropRecord),
	}
}

// Output exposes the muxed event channel.
func (m *Mux) Output() <-chan supervise.Event {
	return m.out
}

// Add registers a new source channel. The mux consumes log events until the
// source channel is closed.
func (m *Mux) Add(source <-chan supervise.Event) {
	if source == nil {
		return
	}
	m.inputs.Add(1)
	go func() {
		defer m.inputs.Done()
		for evt := range source {
			if evt.Type != supervise.EventTypeLog {
				continue
			}
			m.deliver(normalize(evt))
		}
	}()
}

// Close waits for all sources to be drained, emits any pending drop metadata,
// and closes the output channel.
func (m *Mux) Close() {
	m.inputs.Wait()
	m.flushDrops()
	close(m.out)
}

func (m *Mux) deliver(evt supervise.Event) {
	if !m.flushPending(evt.Job) {
		m.recordDrop(evt.Job, evt.Attempt)
		return
	}
	if m.trySend(evt) {
		return
	}
	m.recordDrop(evt.Job, evt.Attempt)
}

func (m *Mux) flushPending(job string) bool {
	for {
		rec := m.takeDrops(job)
		if rec.count == 0 {
			return true
		}
		meta := synthesizeDropEvent(job, rec)
		if m.trySend(meta) {
			continue
		}
		m.recordDropWithCount(job, rec.count, rec.attempt)
		return false
	}
}

func (m *Mux) takeDrops(job string) dropRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.drops[job]
	if rec.count != 0 {
		delete(m.drops, job)
	}
	return rec
}

func (m *Mux) recordDrop(job string, attempt int) {
	m.recordDropWithCount(job, 1, attempt)
}

func (m *Mux) recordDropWithCount(job string, count int, attempt int) {
	if count <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.drops[job]
	rec.count += count
	if attempt != 0 || rec.attempt == 0 {
		rec.attempt = attempt
	}
	m.drops[job] = rec
}

func (m *Mux) flushDrops() {
	pending := m.collectDrops()
	for job, rec := range pending {
		meta := synthesizeDropEvent(job, rec)
		m.blockingSend(meta)
	}
}

func (m *Mux) collectDrops() map[string]dropRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.drops) == 0 {
		return nil
	}
	dup := make(map[string]dropRecord, len(m.drops))
	for job, rec := range m.drops {
		if rec.count == 0 {
			continue
		}
		dup[job] = rec
	}
	m.drops = make(map[string]dropRecord)
	return dup
}

func (m *Mux) trySend(evt supervise.Event) bool {
	select {
	case m.out <- evt:
		return true
	default:
		return false
	}
}

func (m *Mux) blockingSend(evt supervise.Event) {
	m.out <- evt
}

func normalize(evt supervise.Event) supervise.Event {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if evt.Source == "" {
		evt.Source = supervise.LogSourceStdout
	}
	if evt.Level == "" {
		if evt.Source == supervise.LogSourceStderr {
			evt.Level = "warn"
		} else {
			evt.Level = "info"
		}
	}
	return evt
}

func synthesizeDropEvent(job string, rec dropRecord) supervise.Event {
	return supervise.Event{
		Timestamp: time.Now(),
		Job:       job,
		Type:      supervise.EventTypeLog,
		Message:   fmt.Sprintf("dropped=%d", rec.count),
		Level:     "warn",
		Source:    supervise.LogSourceSystem,
		Attempt:   rec.attempt,
	}
}
