package codec

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

const bodyPreviewLimit = 280

// UpstreamErrorInfo is what can be recovered from an upstream error body.
type UpstreamErrorInfo struct {
	Message string
	Code    string
	Type    string
}

// ParseUpstreamError pulls the message, code and type out of an error body.
// The OpenAI envelope {"error":{"message","code","type"}} is tried first,
// then the common message/detail/title variants and errors[] lists.
func ParseUpstreamError(rawBody []byte) UpstreamErrorInfo {
	trimmed := strings.TrimSpace(string(rawBody))
	if trimmed == "" || !gjson.Valid(trimmed) {
		return UpstreamErrorInfo{}
	}
	root := gjson.Parse(trimmed)
	info := UpstreamErrorInfo{
		Message: messageFrom(root),
		Code:    firstString(root, "error.code", "code"),
		Type:    firstString(root, "error.type", "type"),
	}
	return info
}

// ExtractUpstreamErrorMessage returns the human readable message of an error body.
func ExtractUpstreamErrorMessage(rawBody []byte) string {
	return ParseUpstreamError(rawBody).Message
}

func messageFrom(v gjson.Result) string {
	if !v.IsObject() {
		if v.Type == gjson.String {
			return strings.TrimSpace(v.String())
		}
		return ""
	}
	for _, key := range []string{"message", "detail", "error_description", "title", "reason"} {
		if s := strings.TrimSpace(v.Get(key).String()); s != "" && v.Get(key).Type == gjson.String {
			return s
		}
	}
	if nested := v.Get("error"); nested.Exists() {
		if msg := messageFrom(nested); msg != "" {
			return msg
		}
	}
	for _, item := range v.Get("errors").Array() {
		if msg := messageFrom(item); msg != "" {
			return msg
		}
	}
	return ""
}

func firstString(v gjson.Result, paths ...string) string {
	for _, p := range paths {
		r := v.Get(p)
		if r.Type == gjson.String && strings.TrimSpace(r.String()) != "" {
			return strings.TrimSpace(r.String())
		}
	}
	return ""
}

// FormatUpstreamError renders an upstream failure for logs and error messages.
func FormatUpstreamError(statusCode int, rawBody []byte) string {
	status := fmt.Sprintf("%d", statusCode)
	if text := http.StatusText(statusCode); text != "" {
		status = fmt.Sprintf("%d %s", statusCode, text)
	}
	if msg := ExtractUpstreamErrorMessage(rawBody); msg != "" {
		return fmt.Sprintf("Upstream returned HTTP %s: %s", status, msg)
	}
	if preview := compactBodyPreview(rawBody, bodyPreviewLimit); preview != "" {
		return fmt.Sprintf("Upstream returned HTTP %s with unparsed body: %s", status, preview)
	}
	return fmt.Sprintf("Upstream returned HTTP %s with empty error body", status)
}

// RequestID probes the headers different upstream gateways use for request ids.
func RequestID(headers http.Header) string {
	if headers == nil {
		return ""
	}
	for _, key := range []string{"x-request-id", "x-openai-request-id", "x-oai-request-id", "openai-request-id", "request-id", "cf-ray"} {
		if v := strings.TrimSpace(headers.Get(key)); v != "" {
			return v
		}
	}
	return ""
}

func compactBodyPreview(rawBody []byte, maxLen int) string {
	trimmed := strings.TrimSpace(string(rawBody))
	if trimmed == "" {
		return ""
	}
	clean := strings.Join(strings.Fields(trimmed), " ")
	if len(clean) <= maxLen {
		return clean
	}
	return clean[:maxLen] + "..."
}
