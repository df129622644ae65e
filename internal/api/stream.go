package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/prithvirajz/Manim-Video-Generator/internal/executor"
	"github.com/prithvirajz/Manim-Video-Generator/internal/script"
)

// SSESink pushes attempt progress to the client as Server-Sent Events. It
// implements executor.Sink, so the executor notifies it after every attempt.
type SSESink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewSSESink creates a progress sink over the given ResponseWriter.
// Returns nil if the ResponseWriter does not support flushing.
func NewSSESink(w http.ResponseWriter) *SSESink {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil
	}
	return &SSESink{
		w:       w,
		flusher: flusher,
	}
}

// RecordAttempt implements executor.Sink, emitting one "attempt" event.
func (s *SSESink) RecordAttempt(runID string, attempt executor.Attempt) {
	payload, err := json.Marshal(AttemptEvent{
		Number:  attempt.Number,
		Outcome: attempt.Outcome,
		Class:   attempt.Class,
		Hint:    attempt.Hint,
		Error:   attempt.Error,
	})
	if err != nil {
		return
	}
	s.send("attempt", string(payload))
}

// RecordScriptStatus implements executor.Sink, emitting one "status" event
// per lifecycle transition.
func (s *SSESink) RecordScriptStatus(scriptID string, status script.Status) {
	payload, err := json.Marshal(StatusEvent{
		ScriptID: scriptID,
		Status:   string(status),
	})
	if err != nil {
		return
	}
	s.send("status", string(payload))
}

// RecordRun implements executor.Sink. The terminal state is sent by the
// handler via SendDone instead, with full result context.
func (s *SSESink) RecordRun(run *executor.Run) {}

// SendDone emits the completion event with the final result as JSON.
func (s *SSESink) SendDone(resp RenderResponse) {
	payload, err := json.Marshal(resp)
	if err != nil {
		return
	}
	s.send("done", string(payload))
}

// SendError emits an error event.
func (s *SSESink) SendError(errMsg string) {
	s.send("error", errMsg)
}

func (s *SSESink) send(event, data string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// SSE requires each line of a multi-line payload to have its own "data:"
	// prefix. Without this, a newline in the payload breaks the event
	// boundary and could inject fake SSE events.
	fmt.Fprintf(s.w, "event: %s\n", event)
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(s.w, "data: %s\n", line)
	}
	fmt.Fprint(s.w, "\n")
	s.flusher.Flush()
}
