// Package storage reads and writes segment files.
//
// Three file kinds live in a scope directory, all named by the segment's
// creation time in unix nanoseconds:
//
//	<created>.wal      active segment journal, length-prefixed JSON records
//	<created>.seg      sealed segment: magic, record stream, metadata footer
//	<created>.seg.zst  archive: magic, metadata block, zstd record stream
//
// Sealed files carry their metadata at the end so sealing can stream the
// body first; archives carry it at the front so it is readable without
// decompression.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"
	"time"

	"github.com/logharbor/logharbor/internal/model"
)

var (
	SealedMagic  = []byte("LHSEAL01")
	ArchiveMagic = []byte("LHARCH01")
)

// Meta describes one immutable segment file. The checksum is a CRC-32C
// over the raw (uncompressed) record stream.
type Meta struct {
	Project     string         `json:"project"`
	CreatedAt   time.Time      `json:"created_at"`
	EntryCount  int            `json:"entry_count"`
	MinTime     time.Time      `json:"min_time"`
	MaxTime     time.Time      `json:"max_time"`
	LevelCounts map[string]int `json:"level_counts"`
	RawBytes    int64          `json:"raw_bytes"`
	Checksum    uint32         `json:"checksum"`
}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Checksum computes the CRC-32C of a raw record stream.
func Checksum(raw []byte) uint32 {
	return crc32.Checksum(raw, castagnoli)
}

// AppendRecord appends one length-prefixed JSON record to buf.
// Format: [Len uint32][JSON Bytes]
func AppendRecord(buf []byte, e *model.Entry) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return buf, err
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, data...), nil
}

// DecodeRecords decodes a complete record stream. The stream was written
// in one piece, so truncation or an undecodable record is corruption.
func DecodeRecords(raw []byte) ([]model.Entry, error) {
	var entries []model.Entry
	off := 0
	for off < len(raw) {
		if len(raw)-off < 4 {
			return nil, fmt.Errorf("record stream truncated at offset %d", off)
		}
		size := int(binary.LittleEndian.Uint32(raw[off : off+4]))
		off += 4
		if size > len(raw)-off {
			return nil, fmt.Errorf("record stream truncated at offset %d", off)
		}
		var e model.Entry
		if err := json.Unmarshal(raw[off:off+size], &e); err != nil {
			return nil, fmt.Errorf("decoding record at offset %d: %w", off, err)
		}
		entries = append(entries, e)
		off += size
	}
	return entries, nil
}

// WALName returns the journal file name for a segment created at t.
func WALName(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10) + ".wal"
}

// SealedName returns the sealed file name for a segment created at t.
func SealedName(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10) + ".seg"
}

// ArchiveName returns the archive file name for a segment created at t.
func ArchiveName(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10) + ".seg.zst"
}

// ParseCreated extracts the segment creation time from a data file name.
func ParseCreated(name string) (time.Time, bool) {
	for _, suffix := range []string{".seg.zst", ".seg", ".wal"} {
		if !strings.HasSuffix(name, suffix) {
			continue
		}
		nanos, err := strconv.ParseInt(strings.TrimSuffix(name, suffix), 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		return time.Unix(0, nanos).UTC(), true
	}
	return time.Time{}, false
}
