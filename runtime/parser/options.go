package parser

import "time"

// ParserOpt represents a parser configuration option
type ParserOpt func(*ParserConfig)

// TelemetryMode controls telemetry collection (production-safe)
type TelemetryMode int

const (
	TelemetryOff    TelemetryMode = iota // Zero overhead (default)
	TelemetryBasic                       // Node counts only
	TelemetryTiming                      // Node counts + timing per phase
)

// ParserConfig holds parser configuration
type ParserConfig struct {
	name      string
	telemetry TelemetryMode
}

// WithName sets the source name used in error positions
func WithName(name string) ParserOpt {
	return func(c *ParserConfig) {
		c.name = name
	}
}

// WithTelemetryBasic enables basic telemetry (node counts only)
func WithTelemetryBasic() ParserOpt {
	return func(c *ParserConfig) {
		c.telemetry = TelemetryBasic
	}
}

// WithTelemetryTiming enables timing telemetry (counts + timing per phase)
func WithTelemetryTiming() ParserOpt {
	return func(c *ParserConfig) {
		c.telemetry = TelemetryTiming
	}
}

// ParseTelemetry holds parser performance metrics (production-safe)
type ParseTelemetry struct {
	SyntaxTime     time.Duration // Time spent in the shell grammar
	TranslateTime  time.Duration // Time spent building the AST
	TotalTime      time.Duration
	StatementCount int // Top-level statements
	NodeCount      int // AST nodes produced
	ErrorCount     int
}
