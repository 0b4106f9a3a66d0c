package httpclient

import (
	"net/http"
	"strconv"
	"time"
)

// ParseOpenRouterHeaders extracts rate limit info from OpenRouter responses.
// OpenRouter follows the OpenAI header conventions.
func ParseOpenRouterHeaders(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{}

	if retryAfter := headers.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil {
			info.RetryAfter = time.Duration(seconds) * time.Second
		}
	}

	if resetStr := headers.Get("X-RateLimit-Reset"); resetStr != "" {
		if resetMillis, err := strconv.ParseInt(resetStr, 10, 64); err == nil {
			info.ResetTime = resetMillis / 1000
		}
	}

	if remaining := headers.Get("X-RateLimit-Remaining"); remaining != "" {
		if n, err := strconv.Atoi(remaining); err == nil {
			info.RequestsRemaining = n
		}
	}

	return info
}
