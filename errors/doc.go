// Package errors provides structured error types for the Glk bridge.
//
// Errors carry a Phase (where in processing the failure occurred) and a
// Kind (what went wrong), so callers can match on either without string
// comparison:
//
//	if errors.Is(err, &errors.Error{Phase: errors.PhaseParse, Kind: errors.KindTruncated}) {
//	    // handle truncated container
//	}
package errors
