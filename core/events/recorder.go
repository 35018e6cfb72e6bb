package events

import (
	"sync"

	"paylock/core/types"
)

// Recorder is an Emitter that appends every event to an in-memory audit log.
// The log is append-only; sequence numbers start at 1 and never repeat.
type Recorder struct {
	mu  sync.RWMutex
	log []types.Event
}

// NewRecorder returns an empty event recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Emit implements the Emitter interface. Events that do not carry a wire
// payload are dropped.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	payloader, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	payload := payloader.Event()
	if payload == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := *payload
	entry.Sequence = uint64(len(r.log)) + 1
	r.log = append(r.log, entry)
}

// Events returns a copy of the recorded log, oldest first.
func (r *Recorder) Events() []types.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Event, len(r.log))
	copy(out, r.log)
	return out
}

// Len reports the number of recorded events.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.log)
}
