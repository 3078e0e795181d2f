package executor

import (
	"bytes"
	"sync"
	"time"

	"github.com/opal-lang/nxsh/core/errors"
)

// ExecutionResult holds the outcome of one Execute call
type ExecutionResult struct {
	ExitCode      int           // Final exit code (0 = success, 124 = timeout)
	Stdout        string        // Output of the last command run (not accumulated)
	Stderr        string        // Error output of the last command run, plus timeout notices
	ExecutionTime time.Duration // Wall time of the call
	Strategy      Strategy      // Strategy that actually ran the node
	Metrics       ExecutionMetrics
	Telemetry     *ExecutionTelemetry // nil if TelemetryOff
	DebugEvents   []DebugEvent        // nil if DebugOff
}

// Micros reports ExecutionTime in microseconds.
func (r *ExecutionResult) Micros() int64 { return r.ExecutionTime.Microseconds() }

// ExecutionMetrics breaks down where time went. The MIR fields are zero for
// interpreted runs.
type ExecutionMetrics struct {
	CompileTime      time.Duration // lowering to MIR
	OptimizeTime     time.Duration // folding and SSA renaming
	ExecuteTime      time.Duration
	InstructionCount int // MIR instructions, or commands run when interpreted
	NativeCodeSize   int // bytes of native code, 0 when not compiled
	Folded           int // constant folds performed
}

// ExecutionTelemetry holds per-call counters (optional, production-safe)
type ExecutionTelemetry struct {
	Commands        int             // commands dispatched
	Substitutions   int             // command substitutions performed
	CommandTimings  []CommandTiming // per-command timing (if TelemetryTiming)
	CommandTimeouts int             // commands killed by their own budget
}

// CommandTiming holds timing information for a single command
type CommandTiming struct {
	Name     string
	Duration time.Duration
	ExitCode int
}

// DebugEvent represents a debug trace event
type DebugEvent struct {
	Timestamp time.Time
	Event     string // "enter_execute", "command", "fallback", ...
	Context   string
}

// Stats are cumulative counters over every Execute call of an executor.
type Stats struct {
	Total       uint64
	Interpreted uint64
	Compiled    uint64 // runs completed by the MIR engine
	Fallbacks   uint64 // MIR requested but the fragment did not qualify
	TimedOut    uint64
	TotalTime   time.Duration
}

// Stats returns a snapshot of the cumulative counters.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *Executor) record(res *ExecutionResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.Total++
	e.stats.TotalTime += res.ExecutionTime
	if res.Strategy == MirEngine {
		e.stats.Compiled++
	} else {
		e.stats.Interpreted++
	}
	if res.ExitCode == errors.ExitTimeout {
		e.stats.TimedOut++
	}
}

func (e *Executor) countFallback() {
	e.mu.Lock()
	e.stats.Fallbacks++
	e.mu.Unlock()
}

// recorder keeps the output of the most recent command. Only the terminal
// stage of a pipeline writes into it.
type recorder struct {
	mu  sync.Mutex
	out bytes.Buffer
	err bytes.Buffer
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.out.Reset()
	r.err.Reset()
	r.mu.Unlock()
}

func (r *recorder) stdout() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.out.String()
}

func (r *recorder) stderr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err.String()
}

func (r *recorder) outWriter() *lockedWriter { return &lockedWriter{mu: &r.mu, buf: &r.out} }
func (r *recorder) errWriter() *lockedWriter { return &lockedWriter{mu: &r.mu, buf: &r.err} }

type lockedWriter struct {
	mu  *sync.Mutex
	buf *bytes.Buffer
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}
