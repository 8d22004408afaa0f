package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/whaletrack/internal/domain"
)

// archiveRecheck is how long a served snapshot is trusted before the archive
// is listed again for a newer one.
const archiveRecheck = 30 * time.Second

// archiveSnapshot serves the snapshot endpoints in server mode by reading
// the most recently archived export from object storage. Results are cached
// so dashboard polling does not turn into S3 list traffic.
type archiveSnapshot struct {
	reader domain.BlobReader
	prefix string
	logger *slog.Logger

	mu        sync.Mutex
	cached    *domain.Snapshot
	cachedKey string
	checkedAt time.Time
}

func newArchiveSnapshot(reader domain.BlobReader, prefix string, logger *slog.Logger) *archiveSnapshot {
	if prefix == "" {
		prefix = "snapshots"
	}
	return &archiveSnapshot{
		reader: reader,
		prefix: prefix,
		logger: logger.With(slog.String("component", "snapshot_archive")),
	}
}

// Snapshot returns the newest archived snapshot, if any. Archive keys embed
// a fixed-width UTC timestamp, so the lexically greatest key is the newest.
func (p *archiveSnapshot) Snapshot() (domain.Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil && time.Since(p.checkedAt) < archiveRecheck {
		return *p.cached, true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	infos, err := p.reader.List(ctx, p.prefix+"/")
	if err != nil {
		p.logger.Warn("list archived snapshots failed",
			slog.String("error", err.Error()),
		)
		return p.lastKnown()
	}
	p.checkedAt = time.Now()

	var latest string
	for _, info := range infos {
		if info.Path > latest {
			latest = info.Path
		}
	}
	if latest == "" {
		return domain.Snapshot{}, false
	}
	if latest == p.cachedKey && p.cached != nil {
		return *p.cached, true
	}

	body, err := p.reader.Get(ctx, latest)
	if err != nil {
		p.logger.Warn("fetch archived snapshot failed",
			slog.String("path", latest),
			slog.String("error", err.Error()),
		)
		return p.lastKnown()
	}
	defer body.Close()

	var snap domain.Snapshot
	if err := json.NewDecoder(body).Decode(&snap); err != nil {
		p.logger.Warn("decode archived snapshot failed",
			slog.String("path", latest),
			slog.String("error", err.Error()),
		)
		return p.lastKnown()
	}

	p.cached = &snap
	p.cachedKey = latest
	return snap, true
}

// lastKnown serves the previously fetched snapshot through transient archive
// failures rather than flapping to 503.
func (p *archiveSnapshot) lastKnown() (domain.Snapshot, bool) {
	if p.cached != nil {
		return *p.cached, true
	}
	return domain.Snapshot{}, false
}

// LastReport is empty in server mode: pass reports live with the scheduler
// process, not in the archive.
func (p *archiveSnapshot) LastReport() domain.PassReport { return domain.PassReport{} }
