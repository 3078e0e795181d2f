package parser

import (
	"fmt"
	"strings"
)

// ParseError represents a parsing error with location and context information
type ParseError struct {
	Name       string // source name, may be empty
	Line       int
	Column     int
	Message    string
	Context    string // the offending source line
	Incomplete bool   // input ended early; more input could fix it
}

func (e ParseError) Error() string {
	var b strings.Builder
	if e.Name != "" {
		b.WriteString(e.Name)
		b.WriteByte(':')
	}
	if e.Line > 0 {
		fmt.Fprintf(&b, "%d:%d: ", e.Line, e.Column)
	} else if b.Len() > 0 {
		b.WriteByte(' ')
	}
	b.WriteString(e.Message)
	return b.String()
}

// FormatError renders the error with the source line and a caret under the
// column, for terminal output.
func (e ParseError) FormatError() string {
	if e.Context == "" || e.Column < 1 {
		return e.Error()
	}
	pad := strings.Repeat(" ", e.Column-1)
	return fmt.Sprintf("%s\n  %s\n  %s^", e.Error(), e.Context, pad)
}

// lineOf returns the 1-based line of src, or "" when out of range.
func lineOf(src string, line int) string {
	if line < 1 {
		return ""
	}
	lines := strings.Split(src, "\n")
	if line > len(lines) {
		return ""
	}
	return strings.TrimRight(lines[line-1], "\r")
}
