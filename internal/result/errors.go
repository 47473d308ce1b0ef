package result

import "fmt"

// DiscoveryError wraps a per-file failure during source scanning or
// parsing. Per §7 class 1, it is logged and does not abort discovery.
type DiscoveryError struct {
	Path   string
	Reason string
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery: %s: %s", e.Path, e.Reason)
}

// ConfigError is a class-2 error: invalid marker expression, conflicting
// flags, or any other misconfiguration detected before execution starts.
// The coordinator aborts the run with exit code 2 when this is returned.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Reason)
}

// FixtureError is a class-3 error: a cyclic fixture graph or an
// unresolvable dependency. The affected items are reported ERRORED (a
// failing outcome) with this text as the error; unrelated items proceed.
type FixtureError struct {
	Name   string
	Reason string
}

func (e *FixtureError) Error() string {
	return fmt.Sprintf("fixture %q: %s", e.Name, e.Reason)
}

// ProtocolError is a class-4 error: a malformed worker response, an id
// mismatch, or an oversized message. The offending worker is killed and
// its batch reassigned once before this is surfaced as an execution error.
type ProtocolError struct {
	WorkerID int
	Reason   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("worker %d protocol violation: %s", e.WorkerID, e.Reason)
}
