package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/n0madic/go-llmportal/internal/limits"
)

func runLimits(cmd *cobra.Command, args []string) error {
	fmt.Println("\U0001F4CA Upstream Rate Limits")

	stored := limits.LoadSnapshot()
	if stored == nil {
		fmt.Println("  No rate limit data available yet. Send a request through llmportal first.")
		fmt.Println()
		return nil
	}

	fmt.Printf("Last updated: %s\n", formatLocalDateTime(stored.CapturedAt))
	fmt.Println()

	type windowInfo struct {
		icon   string
		desc   string
		window *limits.RateLimitWindow
	}
	var windows []windowInfo
	if stored.Snapshot.Requests != nil {
		windows = append(windows, windowInfo{"⚡", "Requests", stored.Snapshot.Requests})
	}
	if stored.Snapshot.Tokens != nil {
		windows = append(windows, windowInfo{"\U0001F522", "Tokens", stored.Snapshot.Tokens})
	}

	for i, wi := range windows {
		if i > 0 {
			fmt.Println()
		}
		pct := clampPercent(wi.window.UsedPercent)
		color := usageColor(pct)
		reset := "\033[0m"

		fmt.Printf("%s %s (%d of %d left)\n", wi.icon, wi.desc, wi.window.Remaining, wi.window.Limit)
		fmt.Printf("%s%s%s %s%5.1f%% used%s | %5.1f%% left\n", color, renderProgressBar(pct), reset, color, pct, reset, 100-pct)

		resetIn := formatResetDuration(wi.window.ResetsInMillis)
		resetAt := limits.ComputeResetAt(stored.CapturedAt, wi.window)
		switch {
		case resetIn != "" && resetAt != nil:
			fmt.Printf("    ⏳ Resets in: %s at %s\n", resetIn, formatLocalDateTime(*resetAt))
		case resetIn != "":
			fmt.Printf("    ⏳ Resets in: %s\n", resetIn)
		}
	}
	fmt.Println()
	return nil
}

const barSegments = 30

func renderProgressBar(pct float64) string {
	ratio := clampPercent(pct) / 100.0
	filledExact := ratio * float64(barSegments)
	filled := int(filledExact)
	hasPartial := filledExact-float64(filled) > 0.5
	if hasPartial {
		filled++
	}
	if filled > barSegments {
		filled = barSegments
	}
	empty := barSegments - filled
	if hasPartial && filled > 0 {
		return "[" + strings.Repeat("█", filled-1) + "▓" + strings.Repeat("░", empty) + "]"
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", empty) + "]"
}

func usageColor(pct float64) string {
	switch {
	case pct >= 90:
		return "\033[91m"
	case pct >= 75:
		return "\033[93m"
	case pct >= 50:
		return "\033[94m"
	}
	return "\033[92m"
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func formatLocalDateTime(t time.Time) string {
	local := t.Local()
	return fmt.Sprintf("%s %s", local.Format("Jan 02, 2006 15:04:05"), local.Format("MST"))
}

// formatResetDuration renders a reset window; upstream resets are usually
// seconds to minutes away.
func formatResetDuration(ms *int64) string {
	if ms == nil {
		return ""
	}
	d := time.Duration(*ms) * time.Millisecond
	if d < 0 {
		d = 0
	}
	minutes := int(d / time.Minute)
	d -= time.Duration(minutes) * time.Minute
	seconds := int(d / time.Second)
	millis := int((d - time.Duration(seconds)*time.Second) / time.Millisecond)

	var parts []string
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if seconds > 0 {
		parts = append(parts, fmt.Sprintf("%ds", seconds))
	}
	if len(parts) == 0 && millis > 0 {
		parts = append(parts, fmt.Sprintf("%dms", millis))
	}
	if len(parts) == 0 {
		parts = append(parts, "0s")
	}
	return strings.Join(parts, " ")
}
