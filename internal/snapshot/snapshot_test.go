package snapshot

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"nagare/internal/entity"
)

func TestWriteRead(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	in := Snapshot{
		ExportedAt: at,
		Settings:   entity.Settings{MaxConcurrent: 3, OutputDir: "/d", URLDuplicatePolicy: entity.URLPolicyAsk},
		Items: []entity.DownloadItem{
			{ID: "a", Seq: 1, URL: "https://vimeo.com/1", Status: entity.StatusCompleted, Progress: 100},
			{ID: "b", Seq: 2, URL: "https://vimeo.com/2", Status: entity.StatusFailed, Error: "gone"},
		},
	}

	var buf bytes.Buffer
	if err := Write(&buf, in); err != nil {
		t.Fatalf("Write() = %v", err)
	}

	// xz stream magic
	if !bytes.HasPrefix(buf.Bytes(), []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}) {
		t.Fatalf("output is not an xz stream")
	}

	out, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read() = %v", err)
	}

	if out.Version != Version || !out.ExportedAt.Equal(at) || out.Settings != in.Settings {
		t.Errorf("Read() header = %+v", out)
	}

	if len(out.Items) != 2 || out.Items[1].Error != "gone" || out.Items[0].Progress != 100 {
		t.Errorf("Read() items = %+v", out.Items)
	}
}

func TestReadRejects(t *testing.T) {
	if _, err := Read(strings.NewReader("not xz")); err == nil {
		t.Errorf("Read(plain) error = nil")
	}

	var buf bytes.Buffer
	if err := Write(&buf, Snapshot{Version: 7}); err != nil {
		t.Fatal(err)
	}

	if _, err := Read(&buf); err == nil || !strings.Contains(err.Error(), "version 7") {
		t.Errorf("Read(v7) = %v", err)
	}
}

func TestFileName(t *testing.T) {
	got := FileName(time.Date(2026, 10, 17, 8, 9, 10, 0, time.UTC))
	if got != "nagare-20261017-080910.json.xz" {
		t.Errorf("FileName() = %q", got)
	}
}
