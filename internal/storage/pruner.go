package storage

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// CachePruner evicts old converted files from the local output directory.
// When an S3 backend is present it verifies the file exists there before
// deleting; without one, local files are simply aged out.
type CachePruner struct {
	dir       string
	retention time.Duration
	maxBytes  int64
	interval  time.Duration
	s3        remote
	log       zerolog.Logger
	stop      chan struct{}
	stopOnce  sync.Once
	started   atomic.Bool
	done      chan struct{}
	now       func() time.Time
}

// NewCachePruner creates a pruner that evicts files by age and/or total size.
// s3 may be nil.
func NewCachePruner(dir string, retention time.Duration, maxMB int, s3 remote, log zerolog.Logger) *CachePruner {
	return &CachePruner{
		dir:       dir,
		retention: retention,
		maxBytes:  int64(maxMB) << 20,
		interval:  15 * time.Minute,
		s3:        s3,
		log:       log.With().Str("component", "cache-pruner").Logger(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		now:       time.Now,
	}
}

func (p *CachePruner) Start() {
	if p.started.CompareAndSwap(false, true) {
		go p.loop()
	}
}

func (p *CachePruner) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	if p.started.Load() {
		<-p.done
	}
}

func (p *CachePruner) loop() {
	defer close(p.done)

	// Run once on startup to clear any backlog from downtime
	p.prune()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.prune()
		case <-p.stop:
			return
		}
	}
}

type fileEntry struct {
	path    string
	key     string
	modTime time.Time
	size    int64
}

// PruneStats summarizes one prune pass.
type PruneStats struct {
	Pruned         int
	FreedBytes     int64
	RemainingBytes int64
	SkippedNotInS3 int
}

func (p *CachePruner) prune() PruneStats {
	var stats PruneStats
	if p.retention == 0 && p.maxBytes == 0 {
		return stats
	}

	cutoff := p.now().Add(-p.retention)
	var files []fileEntry

	filepath.WalkDir(p.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		// In-flight temp files from WriteWAV or Publish.
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(p.dir, path)
		if relErr != nil {
			return nil
		}
		files = append(files, fileEntry{
			path:    path,
			key:     filepath.ToSlash(rel),
			modTime: info.ModTime(),
			size:    info.Size(),
		})
		stats.RemainingBytes += info.Size()
		return nil
	})

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	for _, f := range files {
		expired := p.retention > 0 && f.modTime.Before(cutoff)
		oversize := p.maxBytes > 0 && stats.RemainingBytes > p.maxBytes
		if !expired && !oversize {
			continue
		}
		if p.s3 != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			inS3 := p.s3.Exists(ctx, f.key)
			cancel()
			if !inS3 {
				stats.SkippedNotInS3++
				p.log.Warn().Str("key", f.key).Msg("skipping prune: file not in S3")
				continue
			}
		}
		if err := os.Remove(f.path); err == nil {
			stats.Pruned++
			stats.FreedBytes += f.size
			stats.RemainingBytes -= f.size
		}
	}

	p.removeEmptyDirs()

	if stats.Pruned > 0 || stats.SkippedNotInS3 > 0 {
		p.log.Info().
			Int("pruned", stats.Pruned).
			Str("freed", humanize.IBytes(uint64(stats.FreedBytes))).
			Str("remaining", humanize.IBytes(uint64(stats.RemainingBytes))).
			Int("skipped_not_in_s3", stats.SkippedNotInS3).
			Msg("output prune complete")
	}
	return stats
}

// removeEmptyDirs drops emptied date directories. The output dir itself is kept.
func (p *CachePruner) removeEmptyDirs() {
	entries, _ := os.ReadDir(p.dir)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(p.dir, e.Name())
		remaining, _ := os.ReadDir(path)
		if len(remaining) == 0 {
			os.Remove(path)
		}
	}
}
