package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/logharbor/logharbor/internal/model"
)

var (
	ErrInvalidHeader = errors.New("invalid segment file header")
	ErrChecksum      = errors.New("segment checksum mismatch")
)

// SegmentReader reads sealed and archived segment files.
type SegmentReader struct {
	decoder *zstd.Decoder
}

func NewSegmentReader() (*SegmentReader, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &SegmentReader{decoder: dec}, nil
}

// ReadMeta reads the metadata of either segment file kind, dispatching on
// the file name.
func (sr *SegmentReader) ReadMeta(path string) (Meta, error) {
	if strings.HasSuffix(path, ".zst") {
		return sr.ReadArchiveMeta(path)
	}
	return sr.ReadSealedMeta(path)
}

// ReadSealedMeta reads only the metadata footer of a sealed segment.
func (sr *SegmentReader) ReadSealedMeta(path string) (Meta, error) {
	f, err := os.Open(path)
	if err != nil {
		return Meta{}, err
	}
	defer f.Close()

	meta, _, err := readSealedMeta(f)
	return meta, err
}

// readSealedMeta validates the header and reads the footer from the file
// end. It returns the metadata and the offset where the record stream ends.
func readSealedMeta(f *os.File) (Meta, int64, error) {
	header := make([]byte, 8)
	if _, err := io.ReadFull(f, header); err != nil {
		return Meta{}, 0, err
	}
	if !bytes.Equal(header, SealedMagic) {
		return Meta{}, 0, ErrInvalidHeader
	}

	info, err := f.Stat()
	if err != nil {
		return Meta{}, 0, err
	}
	if info.Size() < 12 { // Magic(8) + MetaLen(4)
		return Meta{}, 0, errors.New("sealed segment too small")
	}

	lenBuf := make([]byte, 4)
	if _, err := f.ReadAt(lenBuf, info.Size()-4); err != nil {
		return Meta{}, 0, err
	}
	metaLen := int64(binary.LittleEndian.Uint32(lenBuf))

	bodyEnd := info.Size() - 4 - metaLen
	if bodyEnd < 8 {
		return Meta{}, 0, fmt.Errorf("sealed segment metadata length %d exceeds file size %d", metaLen, info.Size())
	}

	metaBuf := make([]byte, metaLen)
	if _, err := f.ReadAt(metaBuf, bodyEnd); err != nil {
		return Meta{}, 0, err
	}

	var meta Meta
	if err := json.Unmarshal(metaBuf, &meta); err != nil {
		return Meta{}, 0, fmt.Errorf("decoding sealed segment metadata: %w", err)
	}
	return meta, bodyEnd, nil
}

// ReadSealedRaw returns the checksum-verified record stream of a sealed
// segment along with its metadata.
func (sr *SegmentReader) ReadSealedRaw(path string) ([]byte, Meta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Meta{}, err
	}
	defer f.Close()

	meta, bodyEnd, err := readSealedMeta(f)
	if err != nil {
		return nil, Meta{}, err
	}

	var raw []byte
	if bodyEnd > 8 {
		raw = make([]byte, bodyEnd-8)
		if _, err := f.ReadAt(raw, 8); err != nil {
			return nil, Meta{}, err
		}
	}
	if int64(len(raw)) != meta.RawBytes || Checksum(raw) != meta.Checksum {
		return nil, Meta{}, ErrChecksum
	}
	return raw, meta, nil
}

// ReadArchiveMeta reads the metadata block of an archive without touching
// the compressed stream.
func (sr *SegmentReader) ReadArchiveMeta(path string) (Meta, error) {
	f, err := os.Open(path)
	if err != nil {
		return Meta{}, err
	}
	defer f.Close()

	return readArchiveMeta(f)
}

// readArchiveMeta validates the header and reads the metadata block,
// leaving the file cursor at the start of the compressed stream.
func readArchiveMeta(f *os.File) (Meta, error) {
	header := make([]byte, 8)
	if _, err := io.ReadFull(f, header); err != nil {
		return Meta{}, err
	}
	if !bytes.Equal(header, ArchiveMagic) {
		return Meta{}, ErrInvalidHeader
	}

	info, err := f.Stat()
	if err != nil {
		return Meta{}, err
	}

	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(f, lenBuf); err != nil {
		return Meta{}, err
	}
	metaLen := int64(binary.LittleEndian.Uint32(lenBuf))
	if metaLen > info.Size()-12 {
		return Meta{}, fmt.Errorf("archive metadata length %d exceeds file size %d", metaLen, info.Size())
	}

	metaBuf := make([]byte, metaLen)
	if _, err := io.ReadFull(f, metaBuf); err != nil {
		return Meta{}, err
	}

	var meta Meta
	if err := json.Unmarshal(metaBuf, &meta); err != nil {
		return Meta{}, fmt.Errorf("decoding archive metadata: %w", err)
	}
	return meta, nil
}

// ReadArchiveRaw decompresses an archive and returns the checksum-verified
// record stream along with its metadata.
func (sr *SegmentReader) ReadArchiveRaw(path string) ([]byte, Meta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Meta{}, err
	}
	defer f.Close()

	meta, err := readArchiveMeta(f)
	if err != nil {
		return nil, Meta{}, err
	}

	compressed, err := io.ReadAll(f)
	if err != nil {
		return nil, Meta{}, err
	}

	raw, err := sr.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("decompressing archive: %w", err)
	}
	if int64(len(raw)) != meta.RawBytes || Checksum(raw) != meta.Checksum {
		return nil, Meta{}, ErrChecksum
	}
	return raw, meta, nil
}

// Scan returns the entries of one segment file that match the filter.
// Files whose metadata rules out any match are skipped without reading
// the record stream.
func (sr *SegmentReader) Scan(path string, filter model.Filter) ([]model.Entry, error) {
	var (
		raw  []byte
		meta Meta
		err  error
	)

	archived := strings.HasSuffix(path, ".zst")
	if archived {
		meta, err = sr.ReadArchiveMeta(path)
	} else {
		meta, err = sr.ReadSealedMeta(path)
	}
	if err != nil {
		return nil, err
	}

	// File-level pruning from metadata alone.
	if meta.EntryCount == 0 {
		return nil, nil
	}
	if filter.Project != "" && meta.Project != filter.Project {
		return nil, nil
	}
	if filter.Level != "" && meta.LevelCounts[string(filter.Level)] == 0 {
		return nil, nil
	}
	if !filter.OverlapsRange(meta.MinTime, meta.MaxTime) {
		return nil, nil
	}

	if archived {
		raw, _, err = sr.ReadArchiveRaw(path)
	} else {
		raw, _, err = sr.ReadSealedRaw(path)
	}
	if err != nil {
		return nil, err
	}

	entries, err := DecodeRecords(raw)
	if err != nil {
		return nil, err
	}

	var matched []model.Entry
	for i := range entries {
		if filter.Matches(&entries[i]) {
			matched = append(matched, entries[i])
		}
	}
	return matched, nil
}
