// Package engine owns the segment lifecycle: appends into per-scope
// active segments, sealing, compression, retention, and the scan
// primitive that queries and stats are built on.
package engine

import (
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/logharbor/logharbor/internal/model"
	"github.com/logharbor/logharbor/internal/storage"
)

const DefaultMaxSegmentBytes = 8 << 20

// SegmentState tags a segment's lifecycle position. Transitions move in
// one direction only: active → sealed → archived.
type SegmentState string

const (
	StateActive   SegmentState = "active"
	StateSealed   SegmentState = "sealed"
	StateArchived SegmentState = "archived"
)

// SegmentInfo describes one segment for listings and maintenance. Path is
// empty for active segments, which live in memory plus their journal.
type SegmentInfo struct {
	Project    string       `json:"project"`
	State      SegmentState `json:"state"`
	Path       string       `json:"path,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	EntryCount int          `json:"entry_count"`
	SizeBytes  int64        `json:"size_bytes"`
}

// Store owns the on-disk segment tree: one directory per scope holding an
// active journal plus sealed and archived segment files. Every state
// transition goes through the Store; maintenance loops and queries only
// read what it publishes.
type Store struct {
	dataDir         string
	maxSegmentBytes int64
	writer          *storage.SegmentWriter
	reader          *storage.SegmentReader
	logger          *slog.Logger
	now             func() time.Time

	mu     sync.RWMutex
	scopes map[string]*scopeState
}

// scopeState serializes the writers of one scope. Readers take the read
// half just long enough to copy matches out of the active segment.
type scopeState struct {
	mu      sync.RWMutex
	project string
	dir     string
	active  *activeSegment
}

// NewStore opens the data directory and replays any journals left by a
// previous run, so acknowledged entries are visible again immediately.
func NewStore(dataDir string, maxSegmentBytes int64, logger *slog.Logger, now func() time.Time) (*Store, error) {
	if maxSegmentBytes <= 0 {
		maxSegmentBytes = DefaultMaxSegmentBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	writer, err := storage.NewSegmentWriter()
	if err != nil {
		return nil, err
	}
	reader, err := storage.NewSegmentReader()
	if err != nil {
		return nil, err
	}

	s := &Store{
		dataDir:         dataDir,
		maxSegmentBytes: maxSegmentBytes,
		writer:          writer,
		reader:          reader,
		logger:          logger,
		now:             now,
		scopes:          make(map[string]*scopeState),
	}
	if err := s.recover(); err != nil {
		return nil, err
	}
	return s, nil
}

// Append journals and buffers one normalized entry. The entry is visible
// to queries as soon as Append returns. A full active segment is sealed
// inline, after the write that crossed the threshold has landed.
func (s *Store) Append(e *model.Entry) error {
	sc, err := s.scopeFor(e.Project)
	if err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.active == nil {
		act, err := newActiveSegment(sc.dir, s.now())
		if err != nil {
			return fmt.Errorf("%w: opening journal: %v", model.ErrStoreUnavailable, err)
		}
		sc.active = act
	}

	if err := sc.active.append(e); err != nil {
		return fmt.Errorf("%w: journaling entry: %v", model.ErrStoreUnavailable, err)
	}

	if sc.active.rawBytes >= s.maxSegmentBytes {
		if _, err := s.sealLocked(sc); err != nil {
			// The entry is already safe in the journal; sealing retries on
			// the next append or rotation tick.
			s.logger.Error("size-triggered seal failed", "project", sc.project, "err", err)
		}
	}
	return nil
}

// SealActive seals the named scope's active segment and returns the
// sealed file path. An unknown scope or an empty active segment is a
// no-op reporting success with an empty path.
func (s *Store) SealActive(project string) (string, error) {
	s.mu.RLock()
	sc := s.scopes[project]
	s.mu.RUnlock()
	if sc == nil {
		return "", nil
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	return s.sealLocked(sc)
}

// SealAged seals every non-empty active segment older than maxAge.
func (s *Store) SealAged(maxAge time.Duration) (int, error) {
	sealed := 0
	var firstErr error
	for _, sc := range s.snapshotScopes("") {
		sc.mu.Lock()
		if sc.active != nil && sc.active.len() > 0 && s.now().Sub(sc.active.createdAt) >= maxAge {
			if _, err := s.sealLocked(sc); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				s.logger.Error("age-triggered seal failed", "project", sc.project, "err", err)
			} else {
				sealed++
			}
		}
		sc.mu.Unlock()
	}
	return sealed, firstErr
}

// sealLocked writes the active segment out as a sealed file, drops the
// journal, and opens a fresh active segment. Callers hold sc.mu. On
// failure the active segment is left untouched for a later retry.
func (s *Store) sealLocked(sc *scopeState) (string, error) {
	if sc.active == nil || sc.active.len() == 0 {
		return "", nil
	}
	act := sc.active

	path := filepath.Join(sc.dir, storage.SealedName(act.createdAt))
	meta, err := s.writer.WriteSealed(path, sc.project, act.createdAt, act.entries)
	if err != nil {
		return "", fmt.Errorf("sealing %s: %w", sc.project, err)
	}

	if err := act.wal.Remove(); err != nil {
		s.logger.Warn("removing sealed journal", "path", act.wal.path, "err", err)
	}

	created := s.now()
	if !created.After(act.createdAt) {
		created = act.createdAt.Add(time.Nanosecond)
	}
	next, err := newActiveSegment(sc.dir, created)
	if err != nil {
		// Next append re-creates the active segment.
		sc.active = nil
		s.logger.Error("opening journal after seal", "project", sc.project, "err", err)
	} else {
		sc.active = next
	}

	s.logger.Info("segment sealed",
		"project", sc.project,
		"path", path,
		"entries", meta.EntryCount,
		"bytes", meta.RawBytes)
	return path, nil
}

// ListSegments returns segment descriptors ordered by creation time.
// Empty project or state arguments mean no constraint.
func (s *Store) ListSegments(project string, state SegmentState) ([]SegmentInfo, error) {
	var infos []SegmentInfo

	if state == "" || state == StateActive {
		for _, sc := range s.snapshotScopes(project) {
			sc.mu.RLock()
			if sc.active != nil {
				infos = append(infos, SegmentInfo{
					Project:    sc.project,
					State:      StateActive,
					CreatedAt:  sc.active.createdAt,
					EntryCount: sc.active.len(),
					SizeBytes:  sc.active.rawBytes,
				})
			}
			sc.mu.RUnlock()
		}
	}

	if state == "" || state == StateSealed || state == StateArchived {
		dirs, err := s.scanDirs(project)
		if err != nil {
			return nil, err
		}
		for _, dir := range dirs {
			files, err := listSegmentFiles(dir)
			if err != nil {
				return nil, err
			}
			for _, f := range files {
				st := StateSealed
				if f.archived {
					st = StateArchived
				}
				if state != "" && st != state {
					continue
				}
				meta, err := s.reader.ReadMeta(f.path)
				if err != nil {
					s.logger.Warn("reading segment metadata", "path", f.path, "err", err)
					continue
				}
				if project != "" && meta.Project != project {
					continue
				}
				infos = append(infos, SegmentInfo{
					Project:    meta.Project,
					State:      st,
					Path:       f.path,
					CreatedAt:  f.created,
					EntryCount: meta.EntryCount,
					SizeBytes:  f.size,
				})
			}
		}
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.Before(infos[j].CreatedAt) })
	return infos, nil
}

// Close syncs and closes every journal. Buffered entries are not sealed;
// the journals replay them on the next start.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, sc := range s.scopes {
		sc.mu.Lock()
		if sc.active != nil {
			if err := sc.active.wal.Sync(); err != nil && firstErr == nil {
				firstErr = err
			}
			if err := sc.active.wal.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			sc.active = nil
		}
		sc.mu.Unlock()
	}
	s.scopes = make(map[string]*scopeState)
	return firstErr
}

func (s *Store) scopeFor(project string) (*scopeState, error) {
	s.mu.RLock()
	sc := s.scopes[project]
	s.mu.RUnlock()
	if sc != nil {
		return sc, nil
	}

	dir := filepath.Join(s.dataDir, scopeDirName(project))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: creating scope directory: %v", model.ErrStoreUnavailable, err)
	}
	return s.registerScope(project, dir), nil
}

func (s *Store) registerScope(project, dir string) *scopeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc := s.scopes[project]; sc != nil {
		return sc
	}
	sc := &scopeState{project: project, dir: dir}
	s.scopes[project] = sc
	return sc
}

// snapshotScopes returns the current scope states, optionally narrowed to
// one project.
func (s *Store) snapshotScopes(project string) []*scopeState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if project != "" {
		if sc := s.scopes[project]; sc != nil {
			return []*scopeState{sc}
		}
		return nil
	}
	states := make([]*scopeState, 0, len(s.scopes))
	for _, sc := range s.scopes {
		states = append(states, sc)
	}
	return states
}

// scanDirs returns the scope directories a scan must visit. A project
// filter narrows it to that project's directory, since the mapping from
// project to directory is deterministic.
func (s *Store) scanDirs(project string) ([]string, error) {
	if project != "" {
		s.mu.RLock()
		sc := s.scopes[project]
		s.mu.RUnlock()

		dir := filepath.Join(s.dataDir, scopeDirName(project))
		if sc != nil {
			dir = sc.dir
		}
		if _, err := os.Stat(dir); err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, err
		}
		return []string{dir}, nil
	}

	dirEntries, err := os.ReadDir(s.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var dirs []string
	for _, de := range dirEntries {
		if de.IsDir() {
			dirs = append(dirs, filepath.Join(s.dataDir, de.Name()))
		}
	}
	return dirs, nil
}

// segmentFile is one immutable segment on disk. When both the sealed and
// archived form of a segment exist (a compression pass that crashed
// between rename and delete), the archive wins and sealedDup records the
// leftover for the compactor to remove.
type segmentFile struct {
	path      string
	created   time.Time
	archived  bool
	sealedDup string
	size      int64
}

// listSegmentFiles returns the sealed and archived segments of one scope
// directory, ordered by creation time.
func listSegmentFiles(dir string) ([]segmentFile, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	byCreated := make(map[int64]*segmentFile)
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if strings.HasSuffix(name, ".wal") || strings.HasSuffix(name, ".tmp") {
			continue
		}
		created, ok := storage.ParseCreated(name)
		if !ok {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}

		sf := byCreated[created.UnixNano()]
		if sf == nil {
			sf = &segmentFile{created: created}
			byCreated[created.UnixNano()] = sf
		}
		path := filepath.Join(dir, name)
		if strings.HasSuffix(name, ".zst") {
			if sf.path != "" && !sf.archived {
				sf.sealedDup = sf.path
			}
			sf.path = path
			sf.archived = true
			sf.size = info.Size()
		} else if sf.archived {
			sf.sealedDup = path
		} else {
			sf.path = path
			sf.size = info.Size()
		}
	}

	files := make([]segmentFile, 0, len(byCreated))
	for _, sf := range byCreated {
		files = append(files, *sf)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].created.Before(files[j].created) })
	return files, nil
}

// recover scans scope directories for journals left behind by the
// previous process and adopts their entries into active segments.
func (s *Store) recover() error {
	dirEntries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return err
	}
	for _, de := range dirEntries {
		if de.IsDir() {
			s.recoverScope(filepath.Join(s.dataDir, de.Name()))
		}
	}
	return nil
}

func (s *Store) recoverScope(dir string) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		s.logger.Warn("reading scope directory", "dir", dir, "err", err)
		return
	}

	var journals []string
	for _, de := range dirEntries {
		if !de.IsDir() && strings.HasSuffix(de.Name(), ".wal") {
			journals = append(journals, de.Name())
		}
	}
	sort.Slice(journals, func(i, j int) bool {
		ti, _ := storage.ParseCreated(journals[i])
		tj, _ := storage.ParseCreated(journals[j])
		return ti.Before(tj)
	})

	for _, name := range journals {
		created, ok := storage.ParseCreated(name)
		if !ok {
			continue
		}
		path := filepath.Join(dir, name)

		// A journal whose segment was already sealed is a leftover from a
		// crash between seal and cleanup; the sealed file holds its entries.
		stem := strings.TrimSuffix(path, ".wal")
		if fileExists(stem+".seg") || fileExists(stem+".seg.zst") {
			if err := os.Remove(path); err != nil {
				s.logger.Warn("removing stale journal", "path", path, "err", err)
			}
			continue
		}

		wal, err := OpenWAL(path)
		if err != nil {
			s.logger.Warn("opening journal", "path", path, "err", err)
			continue
		}
		entries, err := wal.Replay()
		if err != nil {
			s.logger.Warn("journal replay", "path", path, "err", err)
		}
		if len(entries) == 0 {
			wal.Remove()
			continue
		}

		sc := s.registerScope(entries[0].Project, dir)
		sc.mu.Lock()
		if sc.active == nil {
			size, _ := wal.Size()
			sc.active = &activeSegment{createdAt: created, wal: wal, entries: entries, rawBytes: size}
		} else {
			// A younger journal in an already-adopted scope: fold its
			// entries into the active segment and drop it. The adopted
			// creation time stays the oldest, which is what age-based
			// rotation should judge.
			for i := range entries {
				if err := sc.active.append(&entries[i]); err != nil {
					s.logger.Error("refolding journal entry", "path", path, "err", err)
					break
				}
			}
			wal.Remove()
		}
		sc.mu.Unlock()

		s.logger.Info("journal recovered", "project", entries[0].Project, "entries", len(entries))
	}
}

// scopeDirName maps a project name to its directory under the data dir.
// Unsafe runes are replaced; when that loses information a checksum of
// the original name keeps distinct projects in distinct directories.
func scopeDirName(project string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(project) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	clean := strings.Trim(b.String(), "-.")
	if clean == "" {
		clean = "scope"
	}
	if clean == project {
		return clean
	}
	return fmt.Sprintf("%s-%08x", clean, crc32.ChecksumIEEE([]byte(project)))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
