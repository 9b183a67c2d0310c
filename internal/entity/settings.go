package entity

import "log/slog"

// URLPolicy decides what happens to a URL duplicate.
type URLPolicy string

const (
	URLPolicySkip  URLPolicy = "skip"
	URLPolicyAllow URLPolicy = "allow"
	URLPolicyAsk   URLPolicy = "ask"
)

// FilePolicy decides what happens when the output file already exists.
type FilePolicy string

const (
	FilePolicyOverwrite FilePolicy = "overwrite"
	FilePolicySkip      FilePolicy = "skip"
	FilePolicyRename    FilePolicy = "rename"
	FilePolicyAsk       FilePolicy = "ask"
)

// Settings is the process-wide user configuration owned by the queue.
type Settings struct {
	MaxConcurrent         int        `json:"maxConcurrent"         toml:"max_concurrent"`
	DefaultQuality        string     `json:"defaultQuality"        toml:"default_quality"`
	DefaultFormat         string     `json:"defaultFormat"         toml:"default_format"`
	OutputDir             string     `json:"outputDir"             toml:"output_dir"`
	ConvertFormat         string     `json:"convertFormat"         toml:"convert_format"`
	KeepOriginal          bool       `json:"keepOriginal"          toml:"keep_original"`
	URLDuplicatePolicy    URLPolicy  `json:"urlDuplicatePolicy"    toml:"url_duplicate_policy"`
	FileDuplicatePolicy   FilePolicy `json:"fileDuplicatePolicy"   toml:"file_duplicate_policy"`
	ShowDuplicateWarnings bool       `json:"showDuplicateWarnings" toml:"show_duplicate_warnings"`
	AutoConvert           bool       `json:"autoConvert"           toml:"auto_convert"`
	Notifications         bool       `json:"notifications"         toml:"notifications"`
	AutoStart             bool       `json:"autoStart"             toml:"auto_start"`
}

// EffectiveAutoConvert is true only when auto-convert is on and a target is set.
func (s Settings) EffectiveAutoConvert() bool {
	return s.AutoConvert && s.ConvertFormat != ""
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (s Settings) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("max_concurrent", s.MaxConcurrent),
		slog.String("default_quality", s.DefaultQuality),
		slog.String("output_dir", s.OutputDir),
		slog.String("convert_format", s.ConvertFormat),
		slog.String("url_policy", string(s.URLDuplicatePolicy)),
		slog.String("file_policy", string(s.FileDuplicatePolicy)),
		slog.Bool("auto_convert", s.AutoConvert),
		slog.Bool("auto_start", s.AutoStart),
	)
}

// Conversion targets.
const (
	ConvertH264   = "h264"
	ConvertDNxHR  = "dnxhr"
	ConvertProRes = "prores"
	ConvertMP3    = "mp3"
)

// ConvertFormats lists the supported conversion targets.
var ConvertFormats = []string{ConvertH264, ConvertDNxHR, ConvertProRes, ConvertMP3}
