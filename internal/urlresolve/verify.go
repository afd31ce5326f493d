package urlresolve

import (
	"context"
	"net/http"
	"time"

	"github.com/koustreak/docrelay/internal/errs"
)

// HTTPVerifier checks reachability with a HEAD request. Any status below
// 400 counts as reachable.
type HTTPVerifier struct {
	Client  *http.Client
	Timeout time.Duration
}

// NewHTTPVerifier returns an HTTPVerifier with its own client.
func NewHTTPVerifier(timeout time.Duration) *HTTPVerifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPVerifier{Client: &http.Client{Timeout: timeout}, Timeout: timeout}
}

func (v *HTTPVerifier) Verify(ctx context.Context, url string) error {
	if v.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return errs.Wrap(errs.ErrKindInvalidInput, "build verify request", err)
	}
	client := v.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errs.Wrap(errs.ErrKindTimeout, "verify "+url, err)
		}
		return errs.Wrap(errs.ErrKindConnectionFailed, "verify "+url, err)
	}
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode < 400:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return errs.Newf(errs.ErrKindNotFound, "verify %s: status %d", url, resp.StatusCode)
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return errs.Newf(errs.ErrKindPermissionDenied, "verify %s: status %d", url, resp.StatusCode)
	default:
		return errs.Newf(errs.ErrKindQueryFailed, "verify %s: status %d", url, resp.StatusCode)
	}
}
