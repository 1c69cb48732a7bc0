package providers

import (
	"errors"
	"fmt"
)

// ProviderError wraps a transport, auth, or rate-limit failure while
// reaching the model backend.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider call failed: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// MalformedResponseError means the backend replied but the content failed
// JSON parsing or schema validation. It points at a prompt/schema mismatch
// rather than an infrastructure fault, so callers log it separately.
type MalformedResponseError struct {
	Provider string
	Raw      string
	Err      error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s returned a malformed structured reply: %v", e.Provider, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

func IsMalformed(err error) bool {
	var m *MalformedResponseError
	return errors.As(err, &m)
}
