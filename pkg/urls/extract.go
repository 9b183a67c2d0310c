package urls

import (
	"regexp"
	"strings"
)

var (
	reGenericURL = regexp.MustCompile(`https?://[^\s<>"']+[^\s<>"'.,;:)]`)
	reMarkdown   = regexp.MustCompile(`\[([^\]]*)\]\(([^)]+)\)`)
	reAnchorText = regexp.MustCompile(`(?is)<a[^>]+href\s*=\s*["']([^"']+)["'][^>]*>(.*?)</a>`)
	reAnchor     = regexp.MustCompile(`<a[^>]+href\s*=\s*["']([^"']+)["'][^>]*>`)
	reTag        = regexp.MustCompile(`<[^>]*>`)

	htmlEntities = strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&#x2F;", "/",
		"&#x3D;", "=",
	)
)

// Extracted is one URL found in free text.
type Extracted struct {
	URL        string
	Original   string
	Platform   string
	IsPlaylist bool
	Valid      bool
	// Title is the link text of a markdown or html link, if any.
	Title string
}

// Extract finds every URL in text (plain, markdown or html anchors), returns
// them in canonical form with duplicates removed, and the number removed.
func Extract(text string) (found []Extracted, duplicates int) {
	text, titles := preprocess(text)
	seen := make(map[string]int)

	for _, raw := range reGenericURL.FindAllString(text, -1) {
		canonical := Canonical(raw)
		title := titles[canonical]

		if i, dup := seen[canonical]; dup {
			duplicates++

			if found[i].Title == "" {
				found[i].Title = title
			}

			continue
		}

		seen[canonical] = len(found)
		found = append(found, Extracted{
			URL:        canonical,
			Original:   raw,
			Platform:   Detect(canonical),
			IsPlaylist: IsPlaylist(canonical),
			Valid:      IsURLValid(canonical),
			Title:      title,
		})
	}

	return found, duplicates
}

// preprocess moves link targets out of markdown and html markup and returns
// the link texts keyed by canonical target.
func preprocess(text string) (string, map[string]string) {
	text = htmlEntities.Replace(text)
	titles := make(map[string]string)

	var extra strings.Builder

	link := func(target, label string) {
		extra.WriteString("\n" + target)

		label = strings.Join(strings.Fields(reTag.ReplaceAllString(label, " ")), " ")
		if label == "" || strings.HasPrefix(label, "http://") || strings.HasPrefix(label, "https://") {
			return
		}

		key := Canonical(strings.TrimSpace(target))
		if _, ok := titles[key]; !ok {
			titles[key] = label
		}
	}

	for _, m := range reMarkdown.FindAllStringSubmatch(text, -1) {
		link(m[2], m[1])
	}

	for _, m := range reAnchorText.FindAllStringSubmatch(text, -1) {
		link(m[1], m[2])
	}

	text = reMarkdown.ReplaceAllString(text, " ")
	text = reAnchorText.ReplaceAllString(text, " ")

	for _, m := range reAnchor.FindAllStringSubmatch(text, -1) {
		extra.WriteString("\n" + m[1])
	}

	text = reAnchor.ReplaceAllString(text, " ")

	return text + extra.String(), titles
}
