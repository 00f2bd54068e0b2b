// Package pipeline provides the static step sequencer for multi-stage
// command families. It is a read-only lookup over the declarative pipeline
// definitions — no state, no side effects.
package pipeline

import (
	"fmt"

	"github.com/fouchger/homelab/pkg/schema"
)

// ErrUnknownPipeline is returned when a pipeline name is not defined.
var ErrUnknownPipeline = fmt.Errorf("unknown pipeline")

// ErrUnknownStep is returned when a step name is not part of the pipeline.
// Callers surface this as a recoverable validation failure: the pipeline
// definition may have drifted between the failed run and the resume attempt.
var ErrUnknownStep = fmt.Errorf("unknown pipeline step")

// Sequencer answers "what is the step after X" for named pipelines.
type Sequencer struct {
	pipelines map[string][]string
}

// NewSequencer builds a sequencer from the declarative pipeline definitions.
func NewSequencer(defs []schema.PipelineDef) *Sequencer {
	m := make(map[string][]string, len(defs))
	for _, d := range defs {
		steps := make([]string, len(d.Steps))
		copy(steps, d.Steps)
		m[d.Name] = steps
	}
	return &Sequencer{pipelines: m}
}

// Steps returns the ordered step names of the named pipeline.
func (s *Sequencer) Steps(pipeline string) ([]string, error) {
	steps, ok := s.pipelines[pipeline]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPipeline, pipeline)
	}
	out := make([]string, len(steps))
	copy(out, steps)
	return out, nil
}

// NextStep returns the step immediately following current in the named
// pipeline. ok is false when current is the last step. Returns ErrUnknownStep
// when current is not in the pipeline at all.
func (s *Sequencer) NextStep(pipeline, current string) (next string, ok bool, err error) {
	steps, found := s.pipelines[pipeline]
	if !found {
		return "", false, fmt.Errorf("%w: %q", ErrUnknownPipeline, pipeline)
	}
	for i, step := range steps {
		if step == current {
			if i+1 < len(steps) {
				return steps[i+1], true, nil
			}
			return "", false, nil
		}
	}
	return "", false, fmt.Errorf("%w: %q not in pipeline %q", ErrUnknownStep, current, pipeline)
}
