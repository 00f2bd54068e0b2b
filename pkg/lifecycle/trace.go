package lifecycle

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// TraceEvent is one JSONL entry in a run's transition trace. The trace is
// diagnostic only — the run record is the source of truth.
type TraceEvent struct {
	Type      string            `json:"type"` // transition, step_complete
	Timestamp time.Time         `json:"timestamp"`
	RunID     string            `json:"run_id"`
	From      State             `json:"from,omitempty"`
	To        State             `json:"to,omitempty"`
	Step      string            `json:"step,omitempty"`
	Artefacts map[string]string `json:"artefacts,omitempty"`
}

// TraceWriter appends TraceEvents to a JSONL file, flushing at every event
// so a crashed run still leaves a readable trace.
type TraceWriter struct {
	file   *os.File
	writer *bufio.Writer
	enc    *json.Encoder
}

// NewTraceWriter creates a trace writer that appends to the given file.
func NewTraceWriter(path string) (*TraceWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	w := bufio.NewWriter(f)
	return &TraceWriter{
		file:   f,
		writer: w,
		enc:    json.NewEncoder(w),
	}, nil
}

// Write appends an event and flushes to disk.
func (tw *TraceWriter) Write(event TraceEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if err := tw.enc.Encode(event); err != nil {
		return fmt.Errorf("encode trace event: %w", err)
	}
	if err := tw.writer.Flush(); err != nil {
		return fmt.Errorf("flush trace: %w", err)
	}
	if err := tw.file.Sync(); err != nil {
		return fmt.Errorf("sync trace: %w", err)
	}
	return nil
}

// Close flushes and closes the trace file.
func (tw *TraceWriter) Close() error {
	if err := tw.writer.Flush(); err != nil {
		return err
	}
	return tw.file.Close()
}
