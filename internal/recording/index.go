package recording

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"
)

// ErrCorruptFrame is returned when a frame header's magic marker does not
// match, meaning the reader has lost frame synchronization (truncated
// write, corrupted file).
var ErrCorruptFrame = errors.New("recording: corrupt frame (bad magic marker)")

type indexEntry struct {
	timestamp time.Time
	offset    int64
}

// Index is a read-only view over a completed recording file, built by a
// single sequential scan, that answers "the frame at or before time t"
// (spec.md 4.C4's replay operation "before_or_equal_of(t)").
type Index struct {
	path    string
	entries []indexEntry
}

// BuildIndex scans path from start to end, recording the offset of every
// frame it finds.
func BuildIndex(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("recording: open %s: %w", path, err)
	}
	defer f.Close()

	idx := &Index{path: path}
	var offset int64
	var header [headerLen]byte
	for {
		if _, err := io.ReadFull(f, header[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("recording: read header at %d: %w", offset, err)
		}
		magic := binary.BigEndian.Uint32(header[0:4])
		if magic != frameMagic {
			return nil, fmt.Errorf("%w: at offset %d", ErrCorruptFrame, offset)
		}
		ts := time.Unix(0, int64(binary.BigEndian.Uint64(header[4:12])))
		length := binary.BigEndian.Uint32(header[12:16])
		idx.entries = append(idx.entries, indexEntry{timestamp: ts, offset: offset})
		if _, err := f.Seek(int64(length), io.SeekCurrent); err != nil {
			return nil, fmt.Errorf("recording: seek past payload at %d: %w", offset, err)
		}
		offset += int64(headerLen) + int64(length)
	}
	return idx, nil
}

// BeforeOrEqual returns the frame with the largest timestamp <= t.
func (idx *Index) BeforeOrEqual(t time.Time) (Frame, bool, error) {
	i := sort.Search(len(idx.entries), func(i int) bool { return idx.entries[i].timestamp.After(t) })
	if i == 0 {
		return Frame{}, false, nil
	}
	frame, err := idx.readAt(idx.entries[i-1].offset)
	return frame, err == nil, err
}

// Len returns the number of frames the index knows about.
func (idx *Index) Len() int { return len(idx.entries) }

// All returns every indexed timestamp in order, for diagnostics and tests.
func (idx *Index) All() []time.Time {
	out := make([]time.Time, len(idx.entries))
	for i, e := range idx.entries {
		out[i] = e.timestamp
	}
	return out
}

func (idx *Index) readAt(offset int64) (Frame, error) {
	f, err := os.Open(idx.path)
	if err != nil {
		return Frame{}, fmt.Errorf("recording: open %s: %w", idx.path, err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return Frame{}, fmt.Errorf("recording: seek to %d: %w", offset, err)
	}
	var header [headerLen]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return Frame{}, fmt.Errorf("recording: read header at %d: %w", offset, err)
	}
	if binary.BigEndian.Uint32(header[0:4]) != frameMagic {
		return Frame{}, fmt.Errorf("%w: at offset %d", ErrCorruptFrame, offset)
	}
	ts := time.Unix(0, int64(binary.BigEndian.Uint64(header[4:12])))
	length := binary.BigEndian.Uint32(header[12:16])
	payload := make([]byte, length)
	if _, err := io.ReadFull(f, payload); err != nil {
		return Frame{}, fmt.Errorf("recording: read payload at %d: %w", offset, err)
	}
	return Frame{Timestamp: ts, Payload: payload}, nil
}
