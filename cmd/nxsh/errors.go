package main

import (
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	"github.com/opal-lang/nxsh/core/errors"
	"github.com/opal-lang/nxsh/runtime/parser"
)

// CLIError represents a formatted CLI error with context
type CLIError struct {
	Type    string // "usage", "config", "io"
	Message string
	Details string // Additional context
	Hint    string // How to fix it
	Code    int    // process exit status
}

// Error implements the error interface
func (e *CLIError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Details != "" {
		b.WriteString("\n")
		b.WriteString(e.Details)
	}
	if e.Hint != "" {
		b.WriteString("\n")
		b.WriteString(e.Hint)
	}
	return b.String()
}

// FormatError formats an error for CLI output with colors
func FormatError(w io.Writer, err error, useColor bool) {
	if err == nil {
		return
	}

	var pe parser.ParseError
	var se *errors.ShellError
	var ce *CLIError
	switch {
	case stderrors.As(err, &ce):
		formatCLIError(w, ce, useColor)
	case stderrors.As(err, &pe):
		formatParseError(w, pe, useColor)
	case stderrors.As(err, &se):
		formatShellError(w, se, useColor)
	default:
		_, _ = fmt.Fprintf(w, "%s%s\n", Colorize("nxsh: ", ColorRed, useColor), err.Error())
	}
}

func formatParseError(w io.Writer, err parser.ParseError, useColor bool) {
	_, _ = fmt.Fprintf(w, "%s%s\n", Colorize("nxsh: syntax error: ", ColorRed, useColor), err.Error())
	if err.Context == "" || err.Column < 1 {
		return
	}
	_, _ = fmt.Fprintf(w, "  %s\n", err.Context)
	_, _ = fmt.Fprintf(w, "  %s%s\n", strings.Repeat(" ", err.Column-1), Colorize("^", ColorYellow, useColor))
}

func formatShellError(w io.Writer, err *errors.ShellError, useColor bool) {
	_, _ = fmt.Fprintf(w, "%s%s\n", Colorize("nxsh: ", ColorRed, useColor), err.Message)
	if err.Cause != nil {
		_, _ = fmt.Fprintf(w, "%s\n", Colorize("  caused by: "+err.Cause.Error(), ColorGray, useColor))
	}
	if err.Kind == errors.KindInternal {
		_, _ = fmt.Fprintf(w, "%s\n", Colorize("  this is a bug in nxsh", ColorYellow, useColor))
	}
}

func formatCLIError(w io.Writer, err *CLIError, useColor bool) {
	_, _ = fmt.Fprintf(w, "%s%s\n", Colorize("nxsh: ", ColorRed, useColor), err.Message)

	if err.Details != "" {
		_, _ = fmt.Fprintf(w, "  %s\n", err.Details)
	}

	if err.Hint != "" {
		_, _ = fmt.Fprintf(w, "%s%s\n", Colorize("Hint: ", ColorYellow, useColor), err.Hint)
	}
}

// exitCode maps an error returned by the root command to a process status.
func exitCode(err error) int {
	var ce *CLIError
	if stderrors.As(err, &ce) && ce.Code != 0 {
		return ce.Code
	}
	var pe parser.ParseError
	if stderrors.As(err, &pe) {
		return errors.ExitUsage
	}
	return 1
}
