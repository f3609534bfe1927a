package whoop

import "fmt"

// AuthError reports a rejected login or a transport failure during login.
// Params: reason text and optional wrapped cause.
// Returns: terminal authentication error, matchable with errors.As.
type AuthError struct {
	Reason string
	Err    error
}

// Error formats the authentication failure.
// Params: none.
// Returns: error text.
func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("whoop login: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("whoop login: %s", e.Reason)
}

// Unwrap exposes the wrapped cause.
// Params: none.
// Returns: wrapped error or nil.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// FetchError reports a failed or malformed metric retrieval.
// Params: endpoint label, reason text, and optional wrapped cause.
// Returns: terminal fetch error, matchable with errors.As.
type FetchError struct {
	Endpoint string
	Reason   string
	Err      error
}

// Error formats the fetch failure.
// Params: none.
// Returns: error text.
func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("whoop fetch %s: %s: %v", e.Endpoint, e.Reason, e.Err)
	}
	return fmt.Sprintf("whoop fetch %s: %s", e.Endpoint, e.Reason)
}

// Unwrap exposes the wrapped cause.
// Params: none.
// Returns: wrapped error or nil.
func (e *FetchError) Unwrap() error {
	return e.Err
}
