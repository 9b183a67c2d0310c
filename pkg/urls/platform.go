package urls

import (
	"regexp"
	"strings"
)

// Platform tags.
const (
	PlatformYouTube   = "youtube"
	PlatformVimeo     = "vimeo"
	PlatformTwitch    = "twitch"
	PlatformTikTok    = "tiktok"
	PlatformInstagram = "instagram"
	PlatformTwitter   = "twitter"
	PlatformFacebook  = "facebook"
	PlatformGeneric   = "generic"
)

type platformPattern struct {
	platform string
	re       *regexp.Regexp
}

// Checked in order, first match wins.
var platformPatterns = []platformPattern{
	{PlatformYouTube, regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/|youtube\.com/embed/|youtube\.com/v/|youtube\.com/shorts/)([a-zA-Z0-9_-]{11})`)},
	{PlatformYouTube, regexp.MustCompile(`youtube\.com/playlist\?list=([a-zA-Z0-9_-]+)`)},
	{PlatformVimeo, regexp.MustCompile(`vimeo\.com/(?:channels/[^/]+/)?(?:groups/[^/]+/videos/)?(\d+)`)},
	{PlatformTwitch, regexp.MustCompile(`twitch\.tv/videos/(\d+)`)},
	{PlatformTwitch, regexp.MustCompile(`twitch\.tv/[^/]+/clip/([a-zA-Z0-9_-]+)`)},
	{PlatformTikTok, regexp.MustCompile(`tiktok\.com/@[\w.-]+/video/(\d+)`)},
	{PlatformTikTok, regexp.MustCompile(`vm\.tiktok\.com/([a-zA-Z0-9]+)`)},
	{PlatformInstagram, regexp.MustCompile(`instagram\.com/(?:p|reel|tv)/([a-zA-Z0-9_-]+)`)},
	{PlatformTwitter, regexp.MustCompile(`(?:twitter\.com|x\.com)/[^/]+/status/(\d+)`)},
	{PlatformFacebook, regexp.MustCompile(`facebook\.com/.*?/videos/(\d+)`)},
}

// Detect returns the platform tag for raw, or PlatformGeneric.
func Detect(raw string) string {
	platform, _ := MediaID(raw)

	return platform
}

// MediaID returns the platform and the platform-specific id matched in raw.
func MediaID(raw string) (platform, id string) {
	for _, p := range platformPatterns {
		if m := p.re.FindStringSubmatch(raw); m != nil {
			return p.platform, m[1]
		}
	}

	return PlatformGeneric, ""
}

// Thumbnail builds a best-guess thumbnail URL from a platform id.
func Thumbnail(platform, id string) string {
	if platform == PlatformYouTube && len(id) == 11 {
		return "https://img.youtube.com/vi/" + id + "/hqdefault.jpg"
	}

	return ""
}

// IsPlaylist reports whether raw points at a collection rather than one media item.
func IsPlaylist(raw string) bool {
	has := func(s string) bool { return strings.Contains(raw, s) }

	switch {
	case has("youtube.com") && (has("list=") || has("/playlist")):
		return true
	case has("youtube.com") && (has("/channel/") || has("/c/") || has("/@")):
		return true
	case has("vimeo.com") && (has("/showcase/") || has("/album/")):
		return true
	case has("tiktok.com") && has("/@") && !has("/video/"):
		return true
	case has("twitch.tv") && has("/collection/"):
		return true
	}

	return false
}
