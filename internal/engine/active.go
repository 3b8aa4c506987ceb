package engine

import (
	"path/filepath"
	"time"

	"github.com/logharbor/logharbor/internal/model"
	"github.com/logharbor/logharbor/internal/storage"
)

// activeSegment is the mutable head of one scope: entries buffered in
// memory, mirrored to a journal. It carries no lock of its own; the
// owning scope's lock serializes all access.
type activeSegment struct {
	createdAt time.Time
	wal       *WAL
	entries   []model.Entry
	rawBytes  int64
}

func newActiveSegment(dir string, createdAt time.Time) (*activeSegment, error) {
	wal, err := OpenWAL(filepath.Join(dir, storage.WALName(createdAt)))
	if err != nil {
		return nil, err
	}
	return &activeSegment{createdAt: createdAt, wal: wal}, nil
}

// append journals the entry, then buffers it. The journal write comes
// first: an entry is only acknowledged once it would survive a crash.
func (a *activeSegment) append(e *model.Entry) error {
	n, err := a.wal.Write(e)
	if err != nil {
		return err
	}
	a.entries = append(a.entries, *e)
	a.rawBytes += int64(n)
	return nil
}

func (a *activeSegment) len() int {
	return len(a.entries)
}

// search returns copies of the buffered entries matching the filter.
func (a *activeSegment) search(filter model.Filter) []model.Entry {
	var result []model.Entry
	for i := range a.entries {
		if filter.Matches(&a.entries[i]) {
			result = append(result, a.entries[i])
		}
	}
	return result
}
