package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// baseUrl strips the trailing slash operators habitually paste into the
// server URL field.
func baseUrl(url string) string {
	return strings.TrimSuffix(url, "/")
}

// doRequest executes req against a client scoped to this single call and
// returns the response body. Expected status codes vary per endpoint (Emby
// answers 204 to policy updates, 200 to everything else), so the caller
// passes the set it will accept.
func doRequest(ctx context.Context, req *http.Request, timeout time.Duration, okStatuses ...int) ([]byte, error) {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	for _, status := range okStatuses {
		if resp.StatusCode == status {
			respBody, err := io.ReadAll(resp.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to read response body for %s %s: %w", req.Method, req.URL.Path, err)
			}
			return respBody, nil
		}
	}
	return nil, &statusError{Method: req.Method, Path: req.URL.Path, StatusCode: resp.StatusCode}
}

// statusError is an HTTP response outside the accepted status set. Callers
// that treat particular codes specially (404 on deletes) unwrap to it.
type statusError struct {
	Method     string
	Path       string
	StatusCode int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("failed to %s %s: status_code=%d", e.Method, e.Path, e.StatusCode)
}

// isNotFound reports whether err is an HTTP 404 response.
func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}
