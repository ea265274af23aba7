package errorsx

import (
	"errors"
	"fmt"
)

// StatusError is a non-2xx HTTP response from a provider endpoint. Dispatch
// uses the code to distinguish auth failures from transient server errors
// when reporting which endpoints were tried and why each failed.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.Code, e.Body)
	}
	return fmt.Sprintf("%s returned status %d", e.Provider, e.Code)
}

// StatusCode extracts an HTTP status code from err, or 0.
func StatusCode(err error) int {
	var se StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// IsAuthStatus reports whether err is a 401/403 provider response.
func IsAuthStatus(err error) bool {
	code := StatusCode(err)
	return code == 401 || code == 403
}
