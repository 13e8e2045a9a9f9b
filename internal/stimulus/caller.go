package stimulus

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds a single stimulus request.
	DefaultTimeout = 30 * time.Second
	// DefaultWarmupRPS paces warmup calls so a cold app is not hammered.
	DefaultWarmupRPS = 2.0

	maxResponseBytes = 1 << 20
)

// CallerOptions tunes the HTTP stimulus caller. Zero values select the
// package defaults.
type CallerOptions struct {
	Timeout     time.Duration
	WarmupRPS   float64
	WarmupBurst int
	Logf        func(format string, args ...any)
}

// Caller issues the outbound HTTP calls used to poke the app under
// observation.
type Caller struct {
	hc      *http.Client
	limiter *rate.Limiter
	logf    func(format string, args ...any)
}

// NewCaller builds a Caller with its own HTTP client and warmup limiter.
func NewCaller(opts CallerOptions) *Caller {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	rps := opts.WarmupRPS
	if rps <= 0 {
		rps = DefaultWarmupRPS
	}
	burst := opts.WarmupBurst
	if burst <= 0 {
		burst = 1
	}
	logf := opts.Logf
	if logf == nil {
		logf = log.Printf
	}
	return &Caller{
		hc:      &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logf:    logf,
	}
}

// PostAddress POSTs body to url as plain text and returns the response text.
// Non-2xx responses come back as errors carrying a snippet of the body.
func (c *Caller) PostAddress(ctx context.Context, url, body string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("stimulus: build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")
	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("stimulus: post %s: %w", url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("stimulus: read response from %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("stimulus: post %s: status %d: %s", url, resp.StatusCode, snippet(data))
	}
	return string(data), nil
}

// Warmup issues n paced POSTs to url and reports how many succeeded. Warmup
// is best effort: failures are logged and the remaining calls still go out.
func (c *Caller) Warmup(ctx context.Context, url, body string, n int) int {
	ok := 0
	for i := 0; i < n; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return ok
		}
		if _, err := c.PostAddress(ctx, url, body); err != nil {
			if ctx.Err() != nil {
				return ok
			}
			c.logf("stimulus: warmup %d/%d: %v", i+1, n, err)
			continue
		}
		ok++
	}
	return ok
}

// Step returns a schedule step that POSTs body to url after the given delay.
func (c *Caller) Step(name string, after time.Duration, url, body string) Step {
	return Step{
		Name:  name,
		After: after,
		Do: func(ctx context.Context) error {
			_, err := c.PostAddress(ctx, url, body)
			return err
		},
	}
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
