package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/logharbor/logharbor/internal/model"
)

// SegmentWriter produces sealed and archived segment files.
type SegmentWriter struct {
	encoder *zstd.Encoder
}

func NewSegmentWriter() (*SegmentWriter, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	return &SegmentWriter{encoder: enc}, nil
}

// EncodeBody serializes entries into a raw record stream and computes the
// segment metadata over it. Entries keep their arrival order; min and max
// times are taken over entry timestamps, which need not be sorted.
func EncodeBody(project string, createdAt time.Time, entries []model.Entry) ([]byte, Meta, error) {
	meta := Meta{
		Project:     project,
		CreatedAt:   createdAt,
		EntryCount:  len(entries),
		LevelCounts: make(map[string]int),
	}

	var raw []byte
	for i := range entries {
		e := &entries[i]
		var err error
		raw, err = AppendRecord(raw, e)
		if err != nil {
			return nil, Meta{}, err
		}
		meta.LevelCounts[string(e.Level)]++
		if meta.MinTime.IsZero() || e.Timestamp.Before(meta.MinTime) {
			meta.MinTime = e.Timestamp
		}
		if e.Timestamp.After(meta.MaxTime) {
			meta.MaxTime = e.Timestamp
		}
	}

	meta.RawBytes = int64(len(raw))
	meta.Checksum = Checksum(raw)
	return raw, meta, nil
}

// WriteSealed writes entries as a sealed segment file. The file is built
// under a temporary name and renamed into place, so readers never observe
// a partial segment.
func (sw *SegmentWriter) WriteSealed(path, project string, createdAt time.Time, entries []model.Entry) (Meta, error) {
	raw, meta, err := EncodeBody(project, createdAt, entries)
	if err != nil {
		return Meta{}, err
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return Meta{}, err
	}

	tmp := path + ".tmp"
	if err := writeSealedFile(tmp, raw, metaJSON); err != nil {
		os.Remove(tmp)
		return Meta{}, err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return Meta{}, err
	}
	return meta, nil
}

func writeSealedFile(path string, raw, metaJSON []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	// Layout: Magic(8) + Records + MetaJSON + MetaLen(4)
	if _, err := f.Write(SealedMagic); err != nil {
		return err
	}
	if _, err := f.Write(raw); err != nil {
		return err
	}
	if _, err := f.Write(metaJSON); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(len(metaJSON))); err != nil {
		return err
	}
	return f.Sync()
}

// WriteArchive compresses a raw record stream into an archive file written
// exactly at path. meta must describe the stream being archived. Callers
// wanting an atomic publish write to a temporary name, verify, and rename.
func (sw *SegmentWriter) WriteArchive(path string, meta Meta, raw []byte) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if int64(len(raw)) != meta.RawBytes {
		return fmt.Errorf("raw stream is %d bytes, metadata says %d", len(raw), meta.RawBytes)
	}

	compressed := sw.encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2))

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	// Layout: Magic(8) + MetaLen(4) + MetaJSON + Compressed
	if _, err := f.Write(ArchiveMagic); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(len(metaJSON))); err != nil {
		return err
	}
	if _, err := f.Write(metaJSON); err != nil {
		return err
	}
	if _, err := f.Write(compressed); err != nil {
		return err
	}
	return f.Sync()
}
