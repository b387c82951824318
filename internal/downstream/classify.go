package downstream

import (
	"fmt"
	"net/http"

	"github.com/verdanthealth/careloop/internal/enrichment"
)

// classifyStatus converts a non-2xx response into a pipeline error.
// Rate limiting and server errors are retryable; other client errors
// mean the payload or subject will never be accepted and retrying only
// wastes attempts.
func classifyStatus(endpoint string, status int, body string) error {
	err := fmt.Errorf("%s returned %d: %s", endpoint, status, truncate(body, 200))

	switch {
	case status == http.StatusTooManyRequests:
		return err
	case status == http.StatusRequestTimeout:
		return err
	case status >= 500:
		return err
	default:
		return enrichment.Permanent(err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
