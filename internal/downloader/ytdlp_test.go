package downloader

import (
	"context"
	_ "embed"
	"errors"
	"slices"
	"testing"

	"nagare/internal/entity"
	"nagare/internal/errs"
	"nagare/internal/quality"

	"github.com/lrstanley/go-ytdlp"
)

//go:embed testdata/ytdlp_stdout_metadata.json
var ytdlpStdoutMetadata string

//go:embed testdata/ytdlp_stdout_after_move.txt
var ytdlpStdoutAfterMove string

func TestParseMetadata(t *testing.T) {
	md, err := ParseMetadata(ytdlpStdoutMetadata)
	if err != nil {
		t.Fatalf("ParseMetadata() = %v", err)
	}

	if md.Title != "Never Gonna Give You Up" || md.Duration != 212 || md.Uploader != "Rick Astley" {
		t.Errorf("metadata = %+v", md)
	}

	if md.ViewCount != 1600000000 || md.UploadDate != "20091025" {
		t.Errorf("counters = %d %q", md.ViewCount, md.UploadDate)
	}

	if len(md.Formats) != 3 {
		t.Fatalf("formats = %d, want 3", len(md.Formats))
	}

	if got := md.Formats[2].Resolution; got != "1920x1080" {
		t.Errorf("resolution from width/height = %q", got)
	}

	if got := md.Formats[1].FileSize; got != 16000000 {
		t.Errorf("approx filesize = %d", got)
	}

	if got, _ := quality.Resolve("best", md.Formats); got != "1080p" {
		t.Errorf("Resolve(best) = %q, want 1080p", got)
	}
}

func TestParseMetadataNoJSON(t *testing.T) {
	if _, err := ParseMetadata("[youtube] nothing here\n"); err == nil {
		t.Errorf("ParseMetadata() error = nil")
	}
}

func TestParseBasicMetadata(t *testing.T) {
	tests := []struct {
		name    string
		stdout  string
		want    entity.Metadata
		wantErr bool
	}{
		{
			name:   "all fields",
			stdout: "Some Title\t61.5\thttps://example.com/t.jpg\n",
			want:   entity.Metadata{Title: "Some Title", Duration: 62, Thumbnail: "https://example.com/t.jpg"},
		},
		{
			name:   "missing fields",
			stdout: "Live\tNA\tNA\n",
			want:   entity.Metadata{Title: "Live"},
		},
		{
			name:    "garbage",
			stdout:  "error line",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBasicMetadata(tt.stdout)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseBasicMetadata() error = %v", err)
			}

			if got.Title != tt.want.Title || got.Duration != tt.want.Duration || got.Thumbnail != tt.want.Thumbnail {
				t.Errorf("ParseBasicMetadata() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParsePlaylist(t *testing.T) {
	stdout := "[youtube:tab] Downloading playlist PL1\n" +
		"https://www.youtube.com/watch?v=aaaaaaaaaaa\tFirst Song\n" +
		"https://www.youtube.com/watch?v=bbbbbbbbbbb\tNA\r\n" +
		"\n" +
		"NA\tPrivate video\n" +
		"https://www.youtube.com/watch?v=ccccccccccc\n"

	got := ParsePlaylist(stdout)
	want := []entity.PlaylistEntry{
		{URL: "https://www.youtube.com/watch?v=aaaaaaaaaaa", Title: "First Song"},
		{URL: "https://www.youtube.com/watch?v=bbbbbbbbbbb"},
		{URL: "https://www.youtube.com/watch?v=ccccccccccc"},
	}

	if !slices.Equal(got, want) {
		t.Errorf("ParsePlaylist() = %+v, want %+v", got, want)
	}

	if got := ParsePlaylist(""); len(got) != 0 {
		t.Errorf("ParsePlaylist(\"\") = %+v, want none", got)
	}
}

func TestParseFilePath(t *testing.T) {
	if got := ParseFilePath(ytdlpStdoutAfterMove); got != "/downloads/Never Gonna Give You Up_720.mp4" {
		t.Errorf("ParseFilePath() = %q", got)
	}

	if got := ParseFilePath(""); got != "" {
		t.Errorf("ParseFilePath(empty) = %q", got)
	}
}

func TestOutputTemplate(t *testing.T) {
	tests := []struct {
		name string
		req  entity.TransferRequest
		want string
	}{
		{
			name: "title with quality suffix",
			req:  entity.TransferRequest{OutputDir: "/d", Quality: "1080p"},
			want: "/d/%(title)s_1080.%(ext)s",
		},
		{
			name: "best",
			req:  entity.TransferRequest{OutputDir: "/d/", Quality: "best"},
			want: "/d/%(title)s_best.%(ext)s",
		},
		{
			name: "renamed output escapes percent",
			req:  entity.TransferRequest{OutputDir: "/d", Quality: "720p", OutputName: "100% done (1)_720_mp3"},
			want: "/d/100%% done (1)_720_mp3.%(ext)s",
		},
		{
			name: "no dir",
			req:  entity.TransferRequest{Quality: "480p"},
			want: "%(title)s_480.%(ext)s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OutputTemplate(tt.req); got != tt.want {
				t.Errorf("OutputTemplate() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	runErr := errors.New("exit status 1")

	tests := []struct {
		name         string
		stderr       string
		wantTransfer error
		wantMetadata error
	}{
		{
			name:         "rate limited",
			stderr:       "ERROR: [youtube] x: HTTP Error 429: Too Many Requests",
			wantTransfer: errs.ErrTransientTransfer,
			wantMetadata: errs.ErrMetadataRecoverable,
		},
		{
			name:         "bot check",
			stderr:       "ERROR: [youtube] x: Sign in to confirm you're not a bot",
			wantTransfer: errs.ErrTerminalTransfer,
			wantMetadata: errs.ErrMetadataRecoverable,
		},
		{
			name:         "timeout",
			stderr:       "ERROR: Read timed out.",
			wantTransfer: errs.ErrTransientTransfer,
			wantMetadata: errs.ErrMetadataRecoverable,
		},
		{
			name:         "unavailable",
			stderr:       "ERROR: [youtube] x: Video unavailable",
			wantTransfer: errs.ErrTerminalTransfer,
			wantMetadata: errs.ErrMetadata,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := &ytdlp.Result{Stderr: tt.stderr}

			if err := classifyTransfer(context.Background(), res, runErr); !errors.Is(err, tt.wantTransfer) {
				t.Errorf("classifyTransfer() = %v, want %v", err, tt.wantTransfer)
			}

			err := classifyMetadata(context.Background(), res, runErr)
			if !errors.Is(err, tt.wantMetadata) {
				t.Errorf("classifyMetadata() = %v, want %v", err, tt.wantMetadata)
			}
		})
	}
}

func TestClassifyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := classifyTransfer(ctx, nil, errors.New("killed")); !errors.Is(err, context.Canceled) {
		t.Errorf("classifyTransfer() = %v, want context.Canceled", err)
	}
}
