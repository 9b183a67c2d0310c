// Package snapshot reads and writes xz-compressed JSON dumps of the queue.
package snapshot

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"nagare/internal/entity"

	"github.com/ulikunitz/xz"
)

// Version is the snapshot document version written by Write.
const Version = 1

// Extension is the file suffix used for snapshots.
const Extension = ".json.xz"

// Snapshot is the exported queue document.
type Snapshot struct {
	Version    int                   `json:"version"`
	ExportedAt time.Time             `json:"exportedAt"`
	Settings   entity.Settings       `json:"settings"`
	Items      []entity.DownloadItem `json:"items"`
}

// Write encodes snap as JSON and compresses it into w.
func Write(w io.Writer, snap Snapshot) error {
	if snap.Version == 0 {
		snap.Version = Version
	}

	if snap.Items == nil {
		snap.Items = []entity.DownloadItem{}
	}

	xzw, err := xz.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create xz writer: %w", err)
	}

	enc := json.NewEncoder(xzw)
	enc.SetIndent("", "  ")

	if err := enc.Encode(snap); err != nil {
		_ = xzw.Close()

		return fmt.Errorf("encode snapshot: %w", err)
	}

	if err := xzw.Close(); err != nil {
		return fmt.Errorf("close xz writer: %w", err)
	}

	return nil
}

// Read decompresses and decodes a snapshot from r.
func Read(r io.Reader) (Snapshot, error) {
	xzr, err := xz.NewReader(r)
	if err != nil {
		return Snapshot{}, fmt.Errorf("create xz reader: %w", err)
	}

	var snap Snapshot
	if err := json.NewDecoder(xzr).Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}

	if snap.Version != Version {
		return Snapshot{}, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}

	return snap, nil
}

// FileName returns the default snapshot file name for t.
func FileName(t time.Time) string {
	return "nagare-" + t.UTC().Format("20060102-150405") + Extension
}
