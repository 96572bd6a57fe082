package limits

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/n0madic/go-llmportal/internal/auth"
)

const limitsFilename = "usage_limits.json"

// RateLimitWindow is one x-ratelimit-* bucket (requests or tokens).
type RateLimitWindow struct {
	Limit          int     `json:"limit"`
	Remaining      int     `json:"remaining"`
	UsedPercent    float64 `json:"used_percent"`
	ResetsInMillis *int64  `json:"resets_in_ms,omitempty"`
}

// RateLimitSnapshot holds the request and token buckets reported upstream.
type RateLimitSnapshot struct {
	Requests *RateLimitWindow `json:"requests,omitempty"`
	Tokens   *RateLimitWindow `json:"tokens,omitempty"`
}

// StoredSnapshot includes a capture timestamp with the snapshot.
type StoredSnapshot struct {
	CapturedAt time.Time
	Snapshot   RateLimitSnapshot
}

type storedSnapshotDisk struct {
	CapturedAt string           `json:"captured_at"`
	Requests   *RateLimitWindow `json:"requests,omitempty"`
	Tokens     *RateLimitWindow `json:"tokens,omitempty"`
}

// ParseHeaders extracts rate limit information from upstream response headers.
func ParseHeaders(headers http.Header) *RateLimitSnapshot {
	if headers == nil {
		return nil
	}
	requests := parseWindow(headers,
		"x-ratelimit-limit-requests",
		"x-ratelimit-remaining-requests",
		"x-ratelimit-reset-requests",
	)
	tokens := parseWindow(headers,
		"x-ratelimit-limit-tokens",
		"x-ratelimit-remaining-tokens",
		"x-ratelimit-reset-tokens",
	)
	if requests == nil && tokens == nil {
		return nil
	}
	return &RateLimitSnapshot{Requests: requests, Tokens: tokens}
}

func parseWindow(headers http.Header, limitKey, remainingKey, resetKey string) *RateLimitWindow {
	limit, err := strconv.Atoi(strings.TrimSpace(headers.Get(limitKey)))
	if err != nil || limit <= 0 {
		return nil
	}
	w := &RateLimitWindow{Limit: limit, Remaining: limit}
	if v := strings.TrimSpace(headers.Get(remainingKey)); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			w.Remaining = i
		}
	}
	w.UsedPercent = float64(limit-w.Remaining) * 100 / float64(limit)
	if v := strings.TrimSpace(headers.Get(resetKey)); v != "" {
		if d, ok := parseReset(v); ok {
			ms := d.Milliseconds()
			w.ResetsInMillis = &ms
		}
	}
	return w
}

// parseReset accepts Go-style durations ("6m0s", "20ms") and bare seconds.
func parseReset(v string) (time.Duration, bool) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, true
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
		return time.Duration(f * float64(time.Second)), true
	}
	return 0, false
}

// RetryAfter returns the longest reset among exhausted buckets, or zero.
func (s *RateLimitSnapshot) RetryAfter() time.Duration {
	if s == nil {
		return 0
	}
	var longest time.Duration
	for _, w := range []*RateLimitWindow{s.Requests, s.Tokens} {
		if w == nil || w.Remaining > 0 || w.ResetsInMillis == nil {
			continue
		}
		if d := time.Duration(*w.ResetsInMillis) * time.Millisecond; d > longest {
			longest = d
		}
	}
	return longest
}

// limitsPath is a function variable so tests can override the path.
var limitsPath = func() string {
	return filepath.Join(auth.HomeDir(), limitsFilename)
}

// StoreSnapshot persists a rate limit snapshot to disk.
func StoreSnapshot(snapshot *RateLimitSnapshot, capturedAt time.Time) {
	if snapshot == nil {
		return
	}
	_ = os.MkdirAll(filepath.Dir(limitsPath()), 0o700)

	disk := storedSnapshotDisk{
		CapturedAt: capturedAt.UTC().Format(time.RFC3339),
		Requests:   snapshot.Requests,
		Tokens:     snapshot.Tokens,
	}
	data, err := json.MarshalIndent(disk, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(limitsPath(), data, 0o600)
}

// LoadSnapshot reads the last stored snapshot from disk.
func LoadSnapshot() *StoredSnapshot {
	data, err := os.ReadFile(limitsPath())
	if err != nil {
		return nil
	}
	var disk storedSnapshotDisk
	if err := json.Unmarshal(data, &disk); err != nil || disk.CapturedAt == "" {
		return nil
	}
	captured, err := time.Parse(time.RFC3339, disk.CapturedAt)
	if err != nil {
		return nil
	}
	if disk.Requests == nil && disk.Tokens == nil {
		return nil
	}
	return &StoredSnapshot{
		CapturedAt: captured,
		Snapshot:   RateLimitSnapshot{Requests: disk.Requests, Tokens: disk.Tokens},
	}
}

// RecordFromResponse parses and stores rate limits from upstream headers.
// It returns the parsed snapshot, or nil when none were present.
func RecordFromResponse(headers http.Header) *RateLimitSnapshot {
	snapshot := ParseHeaders(headers)
	if snapshot == nil {
		return nil
	}
	StoreSnapshot(snapshot, time.Now().UTC())
	return snapshot
}

// ComputeResetAt calculates when a rate limit window will reset.
func ComputeResetAt(capturedAt time.Time, w *RateLimitWindow) *time.Time {
	if w == nil || w.ResetsInMillis == nil {
		return nil
	}
	t := capturedAt.Add(time.Duration(*w.ResetsInMillis) * time.Millisecond)
	return &t
}
