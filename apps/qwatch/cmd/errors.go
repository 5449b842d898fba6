package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/quatton/qwatch/pkg/qsdk/qerr"
	"github.com/quatton/qwatch/pkg/qtrack"
)

// Exit codes.
const (
	ExitOK          = 0
	ExitError       = 1
	ExitDataMissing = 3
	ExitFailed      = 4
)

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case qerr.IsCode(err, qerr.CodeDataMissing):
		return ExitDataMissing
	case qerr.IsCode(err, qerr.CodeServiceFailed), qerr.IsCode(err, qerr.CodePollTransport):
		return ExitFailed
	default:
		return ExitError
	}
}

// reportError prints user-facing guidance for err and returns the exit code.
// Terminal run outcomes have already been rendered and print nothing more.
func reportError(w io.Writer, err error) int {
	switch {
	case err == nil:
		return ExitOK
	case qerr.IsCode(err, qerr.CodeDataMissing),
		qerr.IsCode(err, qerr.CodeServiceFailed),
		qerr.IsCode(err, qerr.CodePollTransport):
	case qerr.IsCode(err, qerr.CodeSubmissionFailed):
		fmt.Fprintf(w, "submission failed: is the service reachable at the configured baseUrl? (%v)\n", err)
	case qerr.IsCode(err, qerr.CodeBadResponse):
		fmt.Fprintf(w, "unexpected response from the service: %v\n", err)
	case qerr.IsCode(err, qerr.CodeSuperseded):
		fmt.Fprintf(w, "run superseded: %v\n", err)
	case errors.Is(err, qtrack.ErrClosed):
		fmt.Fprintln(w, "interrupted")
	default:
		fmt.Fprintf(w, "Error: %v\n", err)
	}
	return exitCode(err)
}
