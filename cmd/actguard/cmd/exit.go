package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hugo-lorenzo-mato/actguard/internal/core"
)

// ExitError carries a process exit code. A nil Err means the command has
// already reported the outcome and nothing more should be printed.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps an error returned by Execute to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return core.ExitSuccess
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	if errors.Is(err, context.Canceled) {
		return core.ExitCancelled
	}
	switch core.GetCategory(err) {
	case core.ErrCatValidation, core.ErrCatNotFound:
		return core.ExitUsage
	case core.ErrCatSpawn:
		return core.ExitSpawnError
	case core.ErrCatTimeout:
		return core.ExitTimedOut
	}
	// cobra reports unknown commands and bad arguments as plain errors.
	msg := err.Error()
	if strings.HasPrefix(msg, "unknown command") || strings.Contains(msg, "arg(s)") {
		return core.ExitUsage
	}
	return core.ExitExecutionFailed
}

// PrintError writes err for a human: the message, then the remediation.
// Stack traces and error categories are not shown.
func PrintError(w io.Writer, err error) {
	var ee *ExitError
	if errors.As(err, &ee) && ee.Err == nil {
		return
	}

	msg := err.Error()
	var de *core.DomainError
	if errors.As(err, &de) {
		msg = de.Message
		if de.Cause != nil {
			msg += ": " + de.Cause.Error()
		}
	}
	fmt.Fprintf(w, "Error: %s\n", msg)
	if hint := core.RemediationOf(err); hint != "" {
		fmt.Fprintf(w, "Hint: %s\n", hint)
	}
}
