// Package calc provides progress, rate and size arithmetic for transfers.
package calc

import (
	"fmt"
	"math"
	"time"
)

// Progress calculates the percentage for a given pair of numbers, clamped to [0,100].
func Progress(downloaded, total int64) int {
	if total <= 0 {
		return 0
	}

	p := int(math.Round(float64(downloaded) / float64(total) * 100))

	return max(0, min(100, p))
}

// ETA calculates the estimated time left from the average rate since started.
func ETA(downloaded, total int64, elapsed time.Duration) time.Duration {
	if total <= 0 || downloaded <= 0 || downloaded >= total {
		return 0
	}

	return time.Duration(float64(elapsed) * (float64(total)/float64(downloaded) - 1))
}

// Speed formats an average transfer rate as a human string, e.g. "1.5MiB/s".
func Speed(bytes int64, elapsed time.Duration) string {
	if bytes <= 0 || elapsed <= 0 {
		return ""
	}

	return FormatBytes(int64(float64(bytes)/elapsed.Seconds())) + "/s"
}

// FormatBytes renders a byte count with binary units.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}

	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// FormatDuration renders seconds as "h:mm:ss" or "m:ss".
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}

	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60

	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}

	return fmt.Sprintf("%d:%02d", m, s)
}

// RoundFloat64ToInt rounds v, mapping NaN and Inf to zero.
func RoundFloat64ToInt(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}

	return int(math.Round(v))
}
