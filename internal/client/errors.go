package client

import "fmt"

// NetworkError represents transport failures and unexpected responses from
// the asset service, including 5xx replies.
type NetworkError struct {
	Operation  string // The operation that failed (e.g., "asset_by_name", "upload")
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	APIMessage string // Error message from the service or network layer
	Err        error  // Underlying error, if any
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error during %s (HTTP %d): %s", e.Operation, e.StatusCode, e.APIMessage)
	}

	return fmt.Sprintf("network error during %s: %s", e.Operation, e.APIMessage)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// AuthenticationError is returned when the service rejects the token.
type AuthenticationError struct {
	Operation string
	Err       error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed during %s", e.Operation)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// NotFoundError reports an asset or group unknown to the service.
type NotFoundError struct {
	Kind string // "asset" or "group"
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

// RejectedError is a well formed reply in which the service refused the
// operation, e.g. an upload to an unknown storage.
type RejectedError struct {
	Operation string
	Message   string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Operation, e.Message)
}
