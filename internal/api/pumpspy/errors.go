package pumpspy

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAccessToken is returned when the API answers 401 with an invalid_token body.
	ErrInvalidAccessToken = errors.New("invalid access token")
	// ErrNotAuthenticated is returned by authenticated calls made before a token exists.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrUserNotResolved is returned by calls that need the uid before it was looked up.
	ErrUserNotResolved = errors.New("user id not resolved")

	errNoRecords = errors.New("no records in response")
)

// APIError is a non-200 (or undecodable) answer from the vendor API.
// It is a soft failure: the call produced no data this cycle.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: status=%d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: status=%d body=%s", e.Op, e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsSoftFailure reports whether err is an APIError.
func IsSoftFailure(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// ConfigurationError is a fatal setup problem the user has to fix.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// IsConfigurationError reports whether err is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
