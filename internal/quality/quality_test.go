package quality

import (
	"slices"
	"testing"

	"nagare/internal/entity"
)

func testFormats() []entity.Format {
	return []entity.Format{
		{FormatID: "140", Ext: "m4a", Resolution: "audio only", VCodec: "none"},
		{FormatID: "137", Ext: "mp4", Resolution: "1920x1080"},
		{FormatID: "136", Ext: "mp4", Resolution: "1280x720"},
		{FormatID: "135", Ext: "mp4", Resolution: "854x480"},
		{FormatID: "398", Ext: "mp4", Resolution: "1280x720"},
		{FormatID: "sb0", Ext: "mhtml", Resolution: "storyboard"},
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		token string
		want  string
	}{
		{"1080p", "1080p"},
		{"best", "1080p"},
		{"Best Available", "1080p"},
		{"worst", "480p"},
		{"600p", "480p"},
		{"300p", "480p"},
		{"720p", "720p"},
		{"4000p", "1080p"},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got, ok := Resolve(tt.token, testFormats())
			if !ok {
				t.Fatalf("Resolve(%q) not ok", tt.token)
			}

			if got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.token, got, tt.want)
			}
		})
	}
}

func TestResolveNoCandidates(t *testing.T) {
	formats := []entity.Format{
		{FormatID: "140", Resolution: "audio only", VCodec: "none"},
		{FormatID: "x", Resolution: "unknown"},
	}

	if got, ok := Resolve("best", formats); ok {
		t.Fatalf("Resolve = %q, want not ok", got)
	}

	if _, ok := Resolve("best", nil); ok {
		t.Fatalf("Resolve(nil) should not be ok")
	}
}

func TestHeights(t *testing.T) {
	got := Heights(testFormats())
	want := []int{480, 720, 1080}

	if !slices.Equal(got, want) {
		t.Fatalf("Heights = %v, want %v", got, want)
	}
}

func TestParseHeight(t *testing.T) {
	tests := []struct {
		in     string
		want   int
		wantOK bool
	}{
		{"1920x1080", 1080, true},
		{"640X360", 360, true},
		{"audio only", 0, false},
		{"1920x", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		got, ok := ParseHeight(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseHeight(%q) = (%d, %v), want (%d, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"best":           "best",
		"Best Available": "best",
		"highest":        "best",
		"":               "best",
		"worst":          "worst",
		"lowest":         "worst",
		"1080":           "1080p",
		"1080P":          "1080p",
		"1080p":          "1080p",
		" Audio ":        "audio",
	}

	for in, want := range tests {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		token string
		want  bool
	}{
		{"", true},
		{"Best", true},
		{"lowest", true},
		{"720", true},
		{"4k", true},
		{"1440P", true},
		{"ultra", false},
		{"0", false},
		{"-480p", false},
		{"audio", false},
	}

	for _, tt := range tests {
		if got := Valid(tt.token); got != tt.want {
			t.Errorf("Valid(%q) = %v, want %v", tt.token, got, tt.want)
		}
	}
}

func TestSuffixAndSelector(t *testing.T) {
	tests := []struct {
		token, suffix, selector string
	}{
		{"1080p", "_1080", "best[height<=1080]"},
		{"4K", "_2160", "best[height<=2160]"},
		{"best", "_best", "best"},
		{"lowest", "_worst", "worst"},
		{"bestaudio", "_bestaudio", "bestaudio"},
	}

	for _, tt := range tests {
		if got := Suffix(tt.token); got != tt.suffix {
			t.Errorf("Suffix(%q) = %q, want %q", tt.token, got, tt.suffix)
		}

		if got := Selector(tt.token); got != tt.selector {
			t.Errorf("Selector(%q) = %q, want %q", tt.token, got, tt.selector)
		}
	}
}
