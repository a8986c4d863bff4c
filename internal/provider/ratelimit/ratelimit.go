package ratelimit

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"cryptodesk/internal/httpx"
)

// Client gates outbound requests through a token bucket. Waiting honours the
// request context, so a cancelled fetch does not sit in the queue.
type Client struct {
	Next    httpx.HTTPClient
	Limiter *rate.Limiter
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	return c.Next.Do(req)
}

// PerMinute allows rpm requests per minute with the given burst.
func PerMinute(next httpx.HTTPClient, rpm, burst int) *Client {
	if burst <= 0 {
		burst = 1
	}
	return &Client{Next: next, Limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)}
}

// MinInterval enforces at least interval between requests.
func MinInterval(next httpx.HTTPClient, interval time.Duration) *Client {
	return &Client{Next: next, Limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wrap picks the limiter the way the config expresses it: a requests-per-minute
// budget takes precedence over a fixed interval. With neither set next is
// returned untouched.
func Wrap(next httpx.HTTPClient, rpm, burst int, interval time.Duration) httpx.HTTPClient {
	switch {
	case rpm > 0:
		return PerMinute(next, rpm, burst)
	case interval > 0:
		return MinInterval(next, interval)
	default:
		return next
	}
}
