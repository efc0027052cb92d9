package actions

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"git.home.luguber.info/inful/piperunner/internal/pipeline"
	"git.home.luguber.info/inful/piperunner/internal/retry"
)

// HTTPCheck probes a URL until it answers with the expected status code, and
// optionally the expected body substring, or the step's deadline expires.
// Typical use is the health stage after a deploy.
//
// Parameters: url (required), status (expected code, default 200),
// contains (body substring that must appear).
type HTTPCheck struct {
	client  *http.Client
	backoff retry.Policy
}

func NewHTTPCheck() *HTTPCheck {
	return &HTTPCheck{
		client:  &http.Client{Timeout: 5 * time.Second},
		backoff: retry.NewPolicy(retry.BackoffExponential, 100*time.Millisecond, 2*time.Second),
	}
}

func (h *HTTPCheck) Name() string { return "http-check" }

func (h *HTTPCheck) Exec(ctx context.Context, inv pipeline.Invocation) (int, error) {
	url := inv.With["url"]
	if url == "" {
		return -1, fmt.Errorf("http-check: url parameter is required")
	}
	want := http.StatusOK
	if s := inv.With["status"]; s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return -1, fmt.Errorf("http-check: invalid status %q", s)
		}
		want = n
	}
	substr := inv.With["contains"]

	// Probe with exponential backoff until the step deadline.
	attempt := 0
	for {
		attempt++
		code, body, err := h.probe(ctx, url)
		switch {
		case err != nil:
			fmt.Fprintf(inv.Output, "attempt %d: %v\n", attempt, err)
		case code != want:
			fmt.Fprintf(inv.Output, "attempt %d: got %d, want %d\n", attempt, code, want)
		case substr != "" && !strings.Contains(body, substr):
			fmt.Fprintf(inv.Output, "attempt %d: body does not contain %q\n", attempt, substr)
		default:
			fmt.Fprintf(inv.Output, "%s answered %d after %d attempt(s)\n", url, code, attempt)
			return 0, nil
		}

		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-time.After(h.backoff.Delay(attempt)):
		}
	}
}

// probe issues one GET and returns the status plus a bounded body prefix.
func (h *HTTPCheck) probe(ctx context.Context, url string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, "", err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	return resp.StatusCode, string(body), nil
}
