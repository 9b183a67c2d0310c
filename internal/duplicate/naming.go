package duplicate

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"nagare/internal/entity"
	"nagare/internal/errs"
	"nagare/internal/quality"
)

const maxRenameAttempts = 1000

// NextFreeName returns the first "stem (n)" for which no file stem+" (n)"+suffix
// exists with any of the probed extensions. It gives up after maxRenameAttempts
// and returns the last candidate.
func NextFreeName(files FileChecker, dir, stem, suffix string) string {
	var name string

	for n := 1; n <= maxRenameAttempts; n++ {
		name = stem + " (" + strconv.Itoa(n) + ")" + suffix
		if !existsAny(files, dir, name) {
			return name
		}
	}

	return name
}

func existsAny(files FileChecker, dir, name string) bool {
	if files == nil {
		return false
	}

	for _, ext := range Extensions {
		if files.CheckFileExists(filepath.Join(dir, name+"."+ext)) {
			return true
		}
	}

	return false
}

// FormatExtension returns the container extension for a conversion target.
func FormatExtension(format string) (string, error) {
	switch format {
	case entity.ConvertH264:
		return "mp4", nil
	case entity.ConvertDNxHR, entity.ConvertProRes:
		return "mov", nil
	case entity.ConvertMP3:
		return "mp3", nil
	default:
		return "", fmt.Errorf("%w: %q", errs.ErrUnknownConvertFormat, format)
	}
}

// ConversionPath names the converted file next to input as
// "<stem>_<res>_<format>.<ext>", where stem is the input name without the
// quality suffix the transfer appended.
func ConversionPath(input, requestedQuality, format string) (string, error) {
	ext, err := FormatExtension(format)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(input)
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))

	suffix := quality.Suffix(requestedQuality)
	stem = strings.TrimSuffix(stem, suffix)

	return filepath.Join(dir, fmt.Sprintf("%s_%s_%s.%s", stem, strings.TrimPrefix(suffix, "_"), format, ext)), nil
}
