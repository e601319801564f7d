package inference

import (
	"fmt"
	"net/http"
)

// StatusError reports a non-2xx backend response. Its message is the
// stable user-facing taxonomy; raw transport detail never crosses the
// package boundary.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string { return statusMessage(e.Code) }

func statusMessage(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "inference service rejected the request as malformed"
	case http.StatusUnauthorized:
		return "inference service requires authentication"
	case http.StatusForbidden:
		return "inference service denied access"
	case http.StatusNotFound:
		return "inference service endpoint or model not found"
	case http.StatusTooManyRequests:
		return "inference service is rate limiting requests"
	}
	if code >= 500 {
		return "inference service is temporarily unavailable"
	}
	return fmt.Sprintf("inference service returned unexpected status %d", code)
}
