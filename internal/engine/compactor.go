package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/logharbor/logharbor/internal/model"
)

// Compactor turns sealed segments into verified zstd archives once they
// have sat unchanged for the configured delay.
type Compactor struct {
	store         *Store
	compressAfter time.Duration
	interval      time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

func NewCompactor(store *Store, compressAfter, interval time.Duration, logger *slog.Logger) *Compactor {
	if logger == nil {
		logger = store.logger
	}
	return &Compactor{
		store:         store,
		compressAfter: compressAfter,
		interval:      interval,
		logger:        logger.With("component", "compactor"),
		now:           store.now,
	}
}

// Run executes compaction passes on a ticker until the context is done.
func (c *Compactor) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info("compaction loop started", "compress_after", c.compressAfter, "interval", c.interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := c.CompactOnce(ctx); err != nil {
				c.logger.Error("compaction pass", "err", err)
			} else if n > 0 {
				c.logger.Info("segments archived", "count", n)
			}
		}
	}
}

// CompactOnce archives every sealed segment old enough, checking the
// context between segments. Per-segment failures are logged and skipped;
// an aborted pass resumes where it left off on the next tick.
func (c *Compactor) CompactOnce(ctx context.Context) (int, error) {
	dirs, err := c.store.scanDirs("")
	if err != nil {
		return 0, err
	}

	compacted := 0
	cutoff := c.now().Add(-c.compressAfter)
	for _, dir := range dirs {
		files, err := listSegmentFiles(dir)
		if err != nil {
			c.logger.Warn("listing segments", "dir", dir, "err", err)
			continue
		}
		for _, f := range files {
			if err := ctx.Err(); err != nil {
				return compacted, err
			}
			if f.sealedDup != "" {
				// Leftover from a pass that crashed after publishing the
				// archive; the archive is authoritative.
				if err := os.Remove(f.sealedDup); err != nil {
					c.logger.Warn("removing superseded sealed file", "path", f.sealedDup, "err", err)
				}
			}
			if f.archived {
				continue
			}

			info, err := os.Stat(f.path)
			if err != nil {
				continue // swept out from under us
			}
			if info.ModTime().After(cutoff) {
				continue
			}

			if err := c.compact(f.path); err != nil {
				c.logger.Error("archiving segment", "path", f.path, "err", err)
				continue
			}
			compacted++
		}
	}
	return compacted, nil
}

// compact performs one verify-then-delete transition: the sealed original
// is removed only after the published archive decompresses back to the
// identical record stream.
func (c *Compactor) compact(sealedPath string) error {
	raw, meta, err := c.store.reader.ReadSealedRaw(sealedPath)
	if err != nil {
		return fmt.Errorf("reading sealed segment: %w", err)
	}

	archPath := strings.TrimSuffix(sealedPath, ".seg") + ".seg.zst"
	tmp := archPath + ".tmp"
	if err := c.store.writer.WriteArchive(tmp, meta, raw); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: writing archive: %v", model.ErrCompressionFailed, err)
	}

	back, _, err := c.store.reader.ReadArchiveRaw(tmp)
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: rereading archive: %v", model.ErrCompressionFailed, err)
	}
	if !bytes.Equal(raw, back) {
		os.Remove(tmp)
		return fmt.Errorf("%w: archive does not round-trip for %s", model.ErrCompressionFailed, filepath.Base(sealedPath))
	}

	if err := os.Rename(tmp, archPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: publishing archive: %v", model.ErrCompressionFailed, err)
	}

	if err := os.Remove(sealedPath); err != nil {
		// Archive and sealed file coexist until the next pass removes the
		// duplicate; readers prefer the archive.
		c.logger.Warn("removing sealed original", "path", sealedPath, "err", err)
	}

	c.logger.Info("segment archived", "path", archPath, "entries", meta.EntryCount, "raw_bytes", meta.RawBytes)
	return nil
}
