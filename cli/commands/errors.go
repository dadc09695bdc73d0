package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/petal-labs/crawlr/core"
	"github.com/petal-labs/crawlr/crawl"
)

// Exit codes
const (
	ExitSuccess    = 0
	ExitValidation = 1
	ExitService    = 2
	ExitNetwork    = 3
)

// handleError reports err on stderr and attaches an exit code.
func (a *App) handleError(err error) error {
	code := exitCodeFor(err)

	var apiErr *core.Error
	if errors.As(err, &apiErr) {
		if a.jsonOutput {
			a.outputErrorJSON(apiErr)
		} else {
			fmt.Fprintf(a.stderr, "Error: %v\n", err)
			if apiErr.Status != 0 {
				fmt.Fprintf(a.stderr, "  Status: %d %s\n", apiErr.Status, apiErr.StatusText)
			}
			if apiErr.HasRetryAfter {
				fmt.Fprintf(a.stderr, "  Retry after: %s\n", apiErr.RetryAfter)
			}
		}
		return exitWithCode(code, err)
	}

	if a.jsonOutput {
		a.outputSimpleErrorJSON(errorType(code), err.Error())
	} else {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
	}
	return exitWithCode(code, err)
}

func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, core.ErrValidation):
		return ExitValidation
	case errors.Is(err, core.ErrNetwork), errors.Is(err, core.ErrTimeout):
		return ExitNetwork
	case errors.Is(err, crawl.ErrJobFailed), errors.Is(err, crawl.ErrUnsuccessful):
		return ExitService
	}
	if _, ok := core.KindOf(err); ok {
		return ExitService
	}
	// Usage, flag and config file errors.
	return ExitValidation
}

func errorType(code int) string {
	switch code {
	case ExitValidation:
		return "validation_error"
	case ExitNetwork:
		return "network_error"
	default:
		return "error"
	}
}

func (a *App) outputErrorJSON(apiErr *core.Error) {
	output := map[string]any{
		"error": map[string]any{
			"type":    apiErr.Kind.String(),
			"message": apiErr.Message,
			"status":  apiErr.Status,
		},
	}
	writeJSON(a.stderr, output, true)
}

func (a *App) outputSimpleErrorJSON(errType, message string) {
	output := map[string]any{
		"error": map[string]any{
			"type":    errType,
			"message": message,
		},
	}
	writeJSON(a.stderr, output, true)
}

// printJSON writes v to stdout, indented when stdout is a terminal.
func (a *App) printJSON(v any) error {
	return writeJSON(a.stdout, v, a.isTerminal(a.stdout))
}

func writeJSON(w io.Writer, v any, indent bool) error {
	enc := json.NewEncoder(w)
	if indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// exitError wraps an error with an exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func (e *exitError) ExitCode() int {
	return e.code
}

func exitWithCode(code int, err error) error {
	return &exitError{code: code, err: err}
}
