package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/koustreak/docrelay/internal/errs"
)

// apiError is the error envelope shared by the Resend and Graph APIs.
type apiError struct {
	Message string `json:"message"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (e apiError) text() string {
	if e.Error != nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return e.Message
}

// postJSON sends body to url and maps a failed response onto an error kind.
func postJSON(ctx context.Context, client *http.Client, url, token string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errs.Wrap(errs.ErrKindInvalidInput, "encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return errs.Wrap(errs.ErrKindInvalidInput, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errs.Wrap(errs.ErrKindTimeout, "post "+url, err)
		}
		return errs.Wrap(errs.ErrKindConnectionFailed, "post "+url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	var ae apiError
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := string(raw)
	if json.Unmarshal(raw, &ae) == nil && ae.text() != "" {
		msg = ae.text()
	}
	msg = fmt.Sprintf("status %d: %s", resp.StatusCode, msg)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errs.New(errs.ErrKindPermissionDenied, msg)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return errs.New(errs.ErrKindConnectionFailed, msg)
	default:
		return errs.New(errs.ErrKindInvalidInput, msg)
	}
}
