// Package quality maps a requested quality token onto the heights a source actually offers.
package quality

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"nagare/internal/entity"
)

const (
	Best  = "best"
	Worst = "worst"
)

// Normalize returns the effective quality label used for duplicate comparison.
// Unknown tokens are lowercased and returned trimmed.
func Normalize(token string) string {
	t := strings.ToLower(strings.TrimSpace(token))

	switch t {
	case "", Best, "best available", "highest":
		return Best
	case Worst, "lowest":
		return Worst
	case "4k":
		return "2160p"
	}

	if h, ok := parseToken(t); ok {
		return strconv.Itoa(h) + "p"
	}

	return t
}

// Valid reports whether token names best, worst or a height.
func Valid(token string) bool {
	switch n := Normalize(token); n {
	case Best, Worst:
		return true
	default:
		_, ok := parseToken(n)

		return ok
	}
}

// Resolve picks the label for token among the heights in formats.
// A specific height that exists is returned unchanged. Otherwise the greatest
// height not above the request wins, then the smallest height overall.
// ok is false when no format has a usable height.
func Resolve(token string, formats []entity.Format) (string, bool) {
	heights := Heights(formats)
	if len(heights) == 0 {
		return "", false
	}

	label := func(h int) string { return strconv.Itoa(h) + "p" }

	n := Normalize(token)

	switch n {
	case Best:
		return label(heights[len(heights)-1]), true
	case Worst:
		return label(heights[0]), true
	}

	want, ok := parseToken(n)
	if !ok {
		return label(heights[len(heights)-1]), true
	}

	if slices.Contains(heights, want) {
		return token, true
	}

	// heights is ascending, walk down from the top
	for _, h := range slices.Backward(heights) {
		if h <= want {
			return label(h), true
		}
	}

	return label(heights[0]), true
}

// Heights returns the distinct video heights in ascending order.
func Heights(formats []entity.Format) []int {
	heights := make([]int, 0, len(formats))

	for _, f := range formats {
		if f.IsAudioOnly() {
			continue
		}

		h, ok := ParseHeight(f.Resolution)
		if !ok {
			continue
		}

		heights = append(heights, h)
	}

	slices.Sort(heights)

	return slices.Compact(heights)
}

// ParseHeight reads the trailing numeric part of a "WxH" descriptor.
func ParseHeight(resolution string) (int, bool) {
	_, after, found := strings.Cut(strings.ToLower(resolution), "x")
	if !found {
		return 0, false
	}

	h, err := strconv.Atoi(strings.TrimSpace(after))
	if err != nil || h <= 0 {
		return 0, false
	}

	return h, true
}

// Suffix is the file-name tag written for a quality, e.g. "_1080" or "_best".
func Suffix(token string) string {
	n := Normalize(token)

	if h, ok := parseToken(n); ok {
		return "_" + strconv.Itoa(h)
	}

	var b strings.Builder
	for _, r := range n {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}

	if b.Len() == 0 {
		return ""
	}

	return "_" + b.String()
}

// Selector renders a yt-dlp format selector for token.
func Selector(token string) string {
	n := Normalize(token)

	if n == Best || n == Worst {
		return n
	}

	if h, ok := parseToken(n); ok {
		return fmt.Sprintf("best[height<=%d]", h)
	}

	return token
}

// parseToken accepts "1080", "1080p" and "1080P".
func parseToken(t string) (int, bool) {
	t = strings.TrimSuffix(strings.ToLower(t), "p")

	h, err := strconv.Atoi(t)
	if err != nil || h <= 0 {
		return 0, false
	}

	return h, true
}
