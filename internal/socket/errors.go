package socket

import "fmt"

// AuthError reports a rejected or expired credential. It is terminal for
// the session; the caller must re-authenticate, reconnecting will not help.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("auth: %s", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NetworkError reports a transport-level failure. The manager handles these
// by reconnecting; consumers re-issue their last request once the
// connection reopens.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
