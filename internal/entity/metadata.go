package entity

// Format is one downloadable rendition reported by a metadata fetch.
type Format struct {
	FormatID   string `json:"formatId"`
	Ext        string `json:"ext"`
	Resolution string `json:"resolution,omitempty"` // "<width>x<height>" or "audio only"
	FileSize   int64  `json:"filesize,omitempty"`
	VCodec     string `json:"vcodec,omitempty"`
	ACodec     string `json:"acodec,omitempty"`
}

// IsAudioOnly reports whether the format carries no video stream.
func (f Format) IsAudioOnly() bool {
	return f.VCodec == "none" || f.Resolution == "audio only"
}

// MetadataStage identifies which step of the fallback chain produced a record.
type MetadataStage string

const (
	MetadataStageFull      MetadataStage = "full"
	MetadataStageBasic     MetadataStage = "basic"
	MetadataStageSynthetic MetadataStage = "synthetic"
)

// Metadata is the descriptive record for a URL.
type Metadata struct {
	Title       string   `json:"title"`
	Duration    int      `json:"duration,omitempty"`
	Thumbnail   string   `json:"thumbnail,omitempty"`
	Uploader    string   `json:"uploader,omitempty"`
	Description string   `json:"description,omitempty"`
	ViewCount   int64    `json:"viewCount,omitempty"`
	UploadDate  string   `json:"uploadDate,omitempty"`
	Formats     []Format `json:"formats,omitempty"`
}

// PlaylistEntry is one video listed by a playlist, channel or collection URL.
type PlaylistEntry struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}
