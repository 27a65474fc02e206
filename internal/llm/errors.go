package llm

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// StatusError is a non-200 reply from the inference endpoint
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm api error (status %d): %s", e.Code, e.Body)
}

// IsQuotaError detects if an error is related to quota exhaustion or rate limiting
func IsQuotaError(statusCode int, responseBody string) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}

	lowerBody := strings.ToLower(responseBody)
	quotaPatterns := []string{
		"quota exceeded",
		"rate limit",
		"too many requests",
		"request limit",
		"tokens per minute",
		"requests per minute",
		"daily limit",
		"insufficient_quota",
		"billing",
		"rate_limit_exceeded",
		"quota_exceeded",
	}

	for _, pattern := range quotaPatterns {
		if strings.Contains(lowerBody, pattern) {
			return true
		}
	}

	return false
}

// SuggestedBackoff determines how long to stay away from the endpoint
// based on the error type.
func SuggestedBackoff(statusCode int, responseBody string) time.Duration {
	lowerBody := strings.ToLower(responseBody)

	// Daily limit or billing issues - back off for a long time
	if strings.Contains(lowerBody, "daily limit") ||
		strings.Contains(lowerBody, "billing") ||
		strings.Contains(lowerBody, "insufficient_quota") {
		return 24 * time.Hour
	}

	// Rate limit (per-minute) - short backoff
	if statusCode == http.StatusTooManyRequests ||
		strings.Contains(lowerBody, "tokens per minute") ||
		strings.Contains(lowerBody, "requests per minute") {
		return 5 * time.Minute
	}

	return 1 * time.Hour
}
