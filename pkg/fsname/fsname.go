// Package fsname turns media titles into filesystem-safe file name stems.
package fsname

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// maxStemBytes keeps stem + suffixes + extension under common 255 byte limits.
const maxStemBytes = 200

var unsafeReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
	"\x00", "",
)

// Sanitize returns a stem that is safe on every common filesystem. Titles are
// NFC-normalized first so that the same title always maps to the same bytes.
func Sanitize(title string) string {
	title = norm.NFC.String(strings.TrimSpace(title))
	if title == "" {
		return ""
	}

	title = unsafeReplacer.Replace(title)
	title = strings.Join(strings.Fields(title), " ")
	title = strings.TrimRight(title, ". ")

	for len(title) > maxStemBytes {
		_, size := utf8.DecodeLastRuneInString(title)
		title = title[:len(title)-size]
	}

	return strings.TrimSpace(title)
}

// Title renders a platform tag or host for display, e.g. "youtube" -> "Youtube".
func Title(s string) string {
	return cases.Title(language.Und).String(s)
}
