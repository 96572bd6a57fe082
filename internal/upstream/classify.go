package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/n0madic/go-llmportal/internal/apierr"
	"github.com/n0madic/go-llmportal/internal/auth"
	"github.com/n0madic/go-llmportal/internal/codec"
	"github.com/n0madic/go-llmportal/internal/limits"
)

// RateLimitError is carried as apierr.Error.Err for rate-limit and quota
// failures so callers can read the upstream buckets.
type RateLimitError struct {
	Snapshot   *limits.RateLimitSnapshot
	RetryAfter string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter != "" {
		return "rate limited, retry after " + e.RetryAfter
	}
	return "rate limited"
}

// ClassifyResponse turns a >= 400 response into a classified error.
func ClassifyResponse(endpoint string, resp *Response) *apierr.Error {
	info := codec.ParseUpstreamError(resp.Body)
	code := info.Code
	if code == "" {
		code = info.Type
	}
	kind := apierr.KindForStatus(resp.StatusCode, code)
	e := &apierr.Error{
		Kind:       kind,
		Endpoint:   endpoint,
		StatusCode: resp.StatusCode,
		Code:       code,
		Message:    codec.FormatUpstreamError(resp.StatusCode, resp.Body),
		RequestID:  codec.RequestID(resp.Headers),
	}
	if kind == apierr.KindRateLimit || kind == apierr.KindQuotaExceeded {
		rl := &RateLimitError{Snapshot: resp.RateLimits}
		if resp.Headers != nil {
			rl.RetryAfter = strings.TrimSpace(resp.Headers.Get("Retry-After"))
		}
		if rl.RetryAfter == "" {
			if d := resp.RateLimits.RetryAfter(); d > 0 {
				rl.RetryAfter = d.String()
			}
		}
		e.Err = rl
	}
	return e
}

// Classify maps a transport or SDK error onto an apierr kind. Already
// classified errors pass through untouched.
func Classify(endpoint string, err error) error {
	if err == nil {
		return nil
	}
	var classified *apierr.Error
	if errors.As(err, &classified) {
		return err
	}

	switch {
	case errors.Is(err, auth.ErrNoCredentials), errors.Is(err, auth.ErrEmptyToken):
		return apierr.Wrap(apierr.KindAuthentication, endpoint, err)
	case errors.Is(err, context.DeadlineExceeded):
		return apierr.Wrap(apierr.KindTimeout, endpoint, err)
	case errors.Is(err, context.Canceled):
		return err
	}

	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		code := codeString(apiErr.Code)
		if code == "" {
			code = apiErr.Type
		}
		msg := apiErr.Message
		if text := http.StatusText(apiErr.HTTPStatusCode); text != "" {
			msg = fmt.Sprintf("Upstream returned HTTP %d %s: %s", apiErr.HTTPStatusCode, text, apiErr.Message)
		}
		return &apierr.Error{
			Kind:       apierr.KindForStatus(apiErr.HTTPStatusCode, code),
			Endpoint:   endpoint,
			StatusCode: apiErr.HTTPStatusCode,
			Code:       code,
			Message:    msg,
			Err:        err,
		}
	}

	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return &apierr.Error{
			Kind:       apierr.KindForStatus(reqErr.HTTPStatusCode, ""),
			Endpoint:   endpoint,
			StatusCode: reqErr.HTTPStatusCode,
			Message:    fmt.Sprintf("Upstream returned HTTP %d: %v", reqErr.HTTPStatusCode, reqErr.Err),
			Err:        err,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apierr.Wrap(apierr.KindTimeout, endpoint, err)
	}
	return apierr.Wrap(apierr.KindUpstream, endpoint, err)
}

func codeString(code any) string {
	switch v := code.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
