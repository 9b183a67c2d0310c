package duplicate

import (
	"errors"
	"testing"

	"nagare/internal/entity"
	"nagare/internal/errs"
)

func TestConversionPath(t *testing.T) {
	tests := []struct {
		input, quality, format string
		want                   string
		wantErr                error
	}{
		{"/d/Clip_1080.webm", "1080p", entity.ConvertH264, "/d/Clip_1080_h264.mp4", nil},
		{"/d/Clip_best.mkv", "best", entity.ConvertDNxHR, "/d/Clip_best_dnxhr.mov", nil},
		{"/d/Clip_720.mp4", "720p", entity.ConvertProRes, "/d/Clip_720_prores.mov", nil},
		{"/d/Clip_480.mp4", "480", entity.ConvertMP3, "/d/Clip_480_mp3.mp3", nil},
		{"/d/Clip.mp4", "worst", entity.ConvertMP3, "/d/Clip_worst_mp3.mp3", nil},
		{"/d/Clip.mp4", "720p", "avi", "", errs.ErrUnknownConvertFormat},
	}

	for _, tt := range tests {
		got, err := ConversionPath(tt.input, tt.quality, tt.format)
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("ConversionPath(%q, %q, %q) error = %v", tt.input, tt.quality, tt.format, err)

			continue
		}

		if got != tt.want {
			t.Errorf("ConversionPath(%q, %q, %q) = %q, want %q", tt.input, tt.quality, tt.format, got, tt.want)
		}
	}
}
