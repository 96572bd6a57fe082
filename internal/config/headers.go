package config

import (
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// Version is stamped into the User-Agent sent upstream.
var Version = "0.1.0"

// ApplyDefaultHeaders sets the User-Agent and the optional organization and
// project headers on an upstream request.
func ApplyDefaultHeaders(headers http.Header, organization, project string) {
	if headers == nil {
		return
	}
	headers.Set("User-Agent", UserAgent())
	if org := strings.TrimSpace(organization); org != "" && isValidHeaderValue(org) {
		headers.Set("OpenAI-Organization", org)
	}
	if p := strings.TrimSpace(project); p != "" && isValidHeaderValue(p) {
		headers.Set("OpenAI-Project", p)
	}
}

// UserAgent returns llmportal/<version> (<os>; <arch>).
func UserAgent() string {
	return fmt.Sprintf("llmportal/%s (%s; %s)", Version, osType(), arch())
}

func osType() string {
	switch runtime.GOOS {
	case "darwin":
		return "Mac OS"
	case "linux":
		return "Linux"
	case "windows":
		return "Windows"
	default:
		return runtime.GOOS
	}
}

func arch() string {
	if runtime.GOARCH == "amd64" {
		return "x86_64"
	}
	return runtime.GOARCH
}

func isValidHeaderValue(v string) bool {
	for _, r := range v {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}
