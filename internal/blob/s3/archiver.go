package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/whaletrack/internal/domain"
)

// SnapshotArchiver persists pipeline snapshots to object storage so the
// dashboard history survives restarts and the database stays lean. Each
// snapshot is one JSON object under <prefix>/<timestamp>.json.
//
// Deletion of old snapshots is intentionally NOT performed here; bucket
// lifecycle rules own retention.
type SnapshotArchiver struct {
	writer domain.BlobWriter
	audit  domain.AuditStore
	prefix string
}

// NewSnapshotArchiver creates a SnapshotArchiver writing under the given key
// prefix (e.g. "snapshots").
func NewSnapshotArchiver(writer domain.BlobWriter, audit domain.AuditStore, prefix string) *SnapshotArchiver {
	if prefix == "" {
		prefix = "snapshots"
	}
	return &SnapshotArchiver{
		writer: writer,
		audit:  audit,
		prefix: prefix,
	}
}

// Archive uploads the snapshot and records the event in the audit log. It
// returns the object key written.
func (a *SnapshotArchiver) Archive(ctx context.Context, snap domain.Snapshot) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(snap); err != nil {
		return "", fmt.Errorf("s3blob: marshal snapshot: %w", err)
	}

	path := a.snapshotPath(snap.GeneratedAt)
	if err := a.writer.Put(ctx, path, &buf, "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive snapshot upload: %w", err)
	}

	if err := a.audit.Log(ctx, "snapshot.archived", map[string]any{
		"path":           path,
		"active_signals": len(snap.ActiveSignals),
		"generated_at":   snap.GeneratedAt.Format(time.RFC3339),
	}); err != nil {
		return path, fmt.Errorf("s3blob: archive snapshot audit log: %w", err)
	}

	return path, nil
}

// snapshotPath builds the S3 key for a snapshot, e.g.
//
//	snapshots/20260823T143000Z.json
func (a *SnapshotArchiver) snapshotPath(at time.Time) string {
	return fmt.Sprintf("%s/%s.json", a.prefix, at.UTC().Format("20060102T150405Z"))
}
