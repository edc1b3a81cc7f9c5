// Copyright (C) 2025 Swift Tarrow Labs (dev@swifttarrow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package transport

import "fmt"

// Outcome bands an op submission result by how the caller must react.
// It replaces exceptions-as-control-flow in the drain loop: the result
// is data, threaded through explicitly.
type Outcome int

const (
	// OutcomeOK: the server committed the op and advanced the revision.
	OutcomeOK Outcome = iota

	// OutcomeAuthFailed: 401/403. Terminal; the user must
	// re-authenticate.
	OutcomeAuthFailed

	// OutcomeRejected: any other 4xx. Terminal; the payload or a
	// business rule was invalid. Reason carries the server's message
	// verbatim.
	OutcomeRejected

	// OutcomeTransient: network failure or 5xx. Retried on the next
	// drain tick, never surfaced as a hard failure.
	OutcomeTransient
)

// String returns a short label for logging.
func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeAuthFailed:
		return "auth_failed"
	case OutcomeRejected:
		return "rejected"
	case OutcomeTransient:
		return "transient"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// SendResult is the outcome of one op submission.
type SendResult struct {
	Outcome Outcome
	// Revision is the server revision after the accepted op. Valid only
	// for OutcomeOK.
	Revision int64
	// Reason is the server's rejection message for OutcomeAuthFailed and
	// OutcomeRejected.
	Reason string
	// Err is the underlying error for OutcomeTransient.
	Err error
}

// Terminal reports whether the op must never be retried.
func (r SendResult) Terminal() bool {
	return r.Outcome == OutcomeAuthFailed || r.Outcome == OutcomeRejected
}
