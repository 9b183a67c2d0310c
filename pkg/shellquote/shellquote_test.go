package shellquote_test

import (
	"testing"

	"nagare/pkg/shellquote"
)

func TestJoin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		bin  string
		args []string
		want string
	}{
		{
			name: "no args",
			bin:  "/usr/bin/ffmpeg",
			want: "/usr/bin/ffmpeg",
		},
		{
			name: "safe args stay bare",
			bin:  "ffmpeg",
			args: []string{"-y", "-i", "/tmp/in.mp4", "-c:v", "libx264"},
			want: "ffmpeg -y -i /tmp/in.mp4 -c:v libx264",
		},
		{
			name: "spaces are quoted",
			bin:  "ffmpeg",
			args: []string{"-i", "My Video.mp4"},
			want: "ffmpeg -i 'My Video.mp4'",
		},
		{
			name: "embedded single quote",
			bin:  "ffmpeg",
			args: []string{"it's.mp4"},
			want: `ffmpeg 'it'\''s.mp4'`,
		},
		{
			name: "empty arg",
			bin:  "ffmpeg",
			args: []string{""},
			want: "ffmpeg ''",
		},
		{
			name: "dollar is not expanded",
			bin:  "ffmpeg",
			args: []string{"$HOME"},
			want: "ffmpeg '$HOME'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := shellquote.Join(tt.bin, tt.args); got != tt.want {
				t.Errorf("Join() = %q, want %q", got, tt.want)
			}
		})
	}
}
