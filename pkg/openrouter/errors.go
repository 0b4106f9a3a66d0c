package openrouter

import "fmt"

// ErrorKind classifies upstream failures so callers can report and bill
// them differently.
type ErrorKind string

const (
	// KindTimeout means the call exceeded its deadline or was cancelled.
	KindTimeout ErrorKind = "timeout"
	// KindRejected means the upstream refused the request (auth, quota,
	// validation, 5xx after retries).
	KindRejected ErrorKind = "rejected"
	// KindMalformed means the upstream answered but the payload was not
	// usable.
	KindMalformed ErrorKind = "malformed"
)

// CallError is a classified upstream failure.
type CallError struct {
	Kind  ErrorKind
	Model string
	Err   error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("openrouter call failed (%s, model %s): %v", e.Kind, e.Model, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}
