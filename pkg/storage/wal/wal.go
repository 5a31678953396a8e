// Package wal implements GraphLite's write-ahead log: an append-only,
// gob-encoded, length-prefixed record stream, fsynced before the storage
// engine mutates its in-memory/on-disk index. Segment rotation keeps
// any single file bounded; recovery replays every record newer than the
// engine's last durable checkpoint.
package wal

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Op is a single key mutation within a committed batch.
type Op struct {
	Bucket    []byte
	Key       []byte
	Value     []byte
	Tombstone bool
}

// Record is one atomic WAL entry: every key mutated by one transaction
// commit, recorded under a single timestamp.
type Record struct {
	TxnID     string
	Timestamp uint64
	Ops       []Op
}

const segmentPrefix = "seg-"
const segmentSuffix = ".wal"

// WAL owns one active append-only segment file under dir.
type WAL struct {
	mu           sync.Mutex
	dir          string
	segmentBytes int64
	file         *os.File
	writer       *bufio.Writer
	curSize      int64
	curSeq       int
}

// Open opens (creating if necessary) the WAL directory and its most recent
// segment for append, or starts segment 1 if the directory is empty.
func Open(dir string, segmentBytes int64) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: mkdir: %w", err)
	}
	if segmentBytes <= 0 {
		segmentBytes = 64 << 20
	}
	segs, err := segmentFiles(dir)
	if err != nil {
		return nil, err
	}
	w := &WAL{dir: dir, segmentBytes: segmentBytes}
	seq := 1
	if len(segs) > 0 {
		seq = segs[len(segs)-1]
	}
	if err := w.openSegment(seq); err != nil {
		return nil, err
	}
	return w, nil
}

func segmentFiles(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("wal: readdir: %w", err)
	}
	var seqs []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, segmentSuffix) {
			continue
		}
		n := strings.TrimSuffix(strings.TrimPrefix(name, segmentPrefix), segmentSuffix)
		seq, err := strconv.Atoi(n)
		if err != nil {
			continue
		}
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)
	return seqs, nil
}

func segmentPath(dir string, seq int) string {
	return filepath.Join(dir, fmt.Sprintf("%s%06d%s", segmentPrefix, seq, segmentSuffix))
}

func (w *WAL) openSegment(seq int) error {
	path := segmentPath(w.dir, seq)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("wal: open segment %d: %w", seq, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("wal: stat segment %d: %w", seq, err)
	}
	w.file = f
	w.writer = bufio.NewWriter(f)
	w.curSize = info.Size()
	w.curSeq = seq
	return nil
}

// Append encodes rec and writes it to the active segment. When fsync is
// true, the write is flushed and the file synced before returning, matching
// the fsync-before-the-index-is-mutated rule; callers using a
// relaxed fsync policy (config.FsyncNever) pass false to trade durability
// for throughput.
func (w *WAL) Append(rec Record, fsync bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(rec); err != nil {
		return fmt.Errorf("wal: encode record: %w", err)
	}
	payload := buf.Bytes()

	if w.curSize > 0 && w.curSize+int64(len(payload))+4 > w.segmentBytes {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.writer.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("wal: write length: %w", err)
	}
	if _, err := w.writer.Write(payload); err != nil {
		return fmt.Errorf("wal: write payload: %w", err)
	}
	w.curSize += int64(len(payload)) + 4

	if fsync {
		if err := w.writer.Flush(); err != nil {
			return fmt.Errorf("wal: flush: %w", err)
		}
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("wal: fsync: %w", err)
		}
	}
	return nil
}

func (w *WAL) rotate() error {
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("wal: flush before rotate: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("wal: close before rotate: %w", err)
	}
	return w.openSegment(w.curSeq + 1)
}

// Dir returns the directory this WAL's segments live in.
func (w *WAL) Dir() string { return w.dir }

// Close flushes and closes the active segment.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Close()
}

// Replay reads every segment in order and invokes fn for each well-formed
// record. A truncated trailing record (a crash mid-append) ends replay for
// that segment without error, matching standard WAL crash-consistency.
func Replay(dir string, fn func(Record) error) error {
	segs, err := segmentFiles(dir)
	if err != nil {
		return err
	}
	for _, seq := range segs {
		if err := replaySegment(segmentPath(dir, seq), fn); err != nil {
			return err
		}
	}
	return nil
}

func replaySegment(path string, fn func(Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("wal: open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return fmt.Errorf("wal: read length: %w", err)
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		payload := make([]byte, n)
		if _, err := io.ReadFull(r, payload); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return fmt.Errorf("wal: read payload: %w", err)
		}
		var rec Record
		dec := gob.NewDecoder(bytes.NewReader(payload))
		if err := dec.Decode(&rec); err != nil {
			return nil
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}
