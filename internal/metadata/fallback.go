package metadata

import (
	"nagare/internal/entity"
	"nagare/pkg/fsname"
	"nagare/pkg/urls"
)

const synthesizedDescription = "Basic metadata only"

// Synthesize builds a record for url without any network I/O. It is the last
// stage of the fallback chain and always succeeds.
func Synthesize(url string) entity.Metadata {
	platform, id := urls.MediaID(url)

	name := urls.Hostname(url)
	if platform != urls.PlatformGeneric {
		name = fsname.Title(platform)
	}

	if name == "" {
		name = "Unknown"
	}

	title := name + " Video"
	if id != "" {
		title += " (" + id + ")"
	}

	return entity.Metadata{
		Title:       title,
		Thumbnail:   urls.Thumbnail(platform, id),
		Uploader:    name,
		Description: synthesizedDescription,
	}
}
