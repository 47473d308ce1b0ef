// Package report implements the Reporter Interface (C11): a sink interface
// that receives raw run events, with no opinion on presentation. Formatting
// test output for a terminal or file is explicitly out of scope here; a
// caller wanting that wires its own Sink.
package report

import (
	"time"

	"github.com/fastest-run/fastest/internal/result"
)

// Sink receives test lifecycle events as a run progresses.
type Sink interface {
	OnTestStart(id string)
	OnTestComplete(tr result.TestResult)
	OnRunComplete(results []result.TestResult, totalDuration time.Duration)
}

// Multi delivers every event to each sink in turn, in registration order.
// A panic in one sink is not recovered: a reporter is expected to be as
// reliable as the coordinator itself.
type Multi struct {
	sinks []Sink
}

// NewMulti builds a Multi dispatching to sinks in order.
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) OnTestStart(id string) {
	for _, s := range m.sinks {
		s.OnTestStart(id)
	}
}

func (m *Multi) OnTestComplete(tr result.TestResult) {
	for _, s := range m.sinks {
		s.OnTestComplete(tr)
	}
}

func (m *Multi) OnRunComplete(results []result.TestResult, totalDuration time.Duration) {
	for _, s := range m.sinks {
		s.OnRunComplete(results, totalDuration)
	}
}

// Collector is a Sink that just accumulates events, useful for tests and as
// the default sink when no caller-supplied reporter is configured.
type Collector struct {
	Started   []string
	Completed []result.TestResult
	Final     []result.TestResult
	Duration  time.Duration
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) OnTestStart(id string) {
	c.Started = append(c.Started, id)
}

func (c *Collector) OnTestComplete(tr result.TestResult) {
	c.Completed = append(c.Completed, tr)
}

func (c *Collector) OnRunComplete(results []result.TestResult, totalDuration time.Duration) {
	c.Final = results
	c.Duration = totalDuration
}
