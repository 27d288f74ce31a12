// Package oplog implements a small append-only, checksummed record log
// used by racer/memstore to durably record pending ops before
// acknowledging a SubmitOp call, so a restarted memstore can replay
// whatever wasn't yet flushed.
//
// Adapted from the teacher's journal package: same shape (a magic/version
// file header, uvarint-length-prefixed records, an xxhash checksum per
// record, corruption trims the file at the first bad record) but with no
// segment rotation — memstore is a reference/test backend, not a
// production WAL consumer, so one growing file is enough.
package oplog

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"
)

var fileMagic = [8]byte{'R', 'A', 'C', 'E', 'R', 'O', 'P', 'L'}

const version = uint8(1)

const headerSize = len(fileMagic) + 1

// Log is a single append-only file of length-prefixed, checksummed
// records.
type Log struct {
	mu     sync.Mutex
	f      *os.File
	logger *slog.Logger
}

// Open opens (creating if necessary) the oplog file at path.
func Open(path string, logger *slog.Logger) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("oplog: open %s: %w", path, err)
	}
	l := &Log{f: f, logger: logger}
	if err := l.ensureHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) ensureHeader() error {
	info, err := l.f.Stat()
	if err != nil {
		return fmt.Errorf("oplog: stat: %w", err)
	}
	if info.Size() == 0 {
		if _, err := l.f.Write(fileMagic[:]); err != nil {
			return fmt.Errorf("oplog: writing header: %w", err)
		}
		if _, err := l.f.Write([]byte{version}); err != nil {
			return fmt.Errorf("oplog: writing header: %w", err)
		}
		return nil
	}
	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(io.NewSectionReader(l.f, 0, int64(headerSize)), hdr); err != nil {
		return fmt.Errorf("oplog: reading header: %w", err)
	}
	if string(hdr[:len(fileMagic)]) != string(fileMagic[:]) {
		return fmt.Errorf("oplog: bad magic in %s", l.f.Name())
	}
	return nil
}

// Append writes payload as one new record and fsyncs the file, returning
// once the record is durable.
func (l *Log) Append(payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(payload)))

	if _, err := l.f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("oplog: seek: %w", err)
	}
	if _, err := l.f.Write(lenBuf[:n]); err != nil {
		return fmt.Errorf("oplog: write length: %w", err)
	}
	if _, err := l.f.Write(payload); err != nil {
		return fmt.Errorf("oplog: write payload: %w", err)
	}
	var sumBuf [8]byte
	binary.LittleEndian.PutUint64(sumBuf[:], xxhash.Sum64(payload))
	if _, err := l.f.Write(sumBuf[:]); err != nil {
		return fmt.Errorf("oplog: write checksum: %w", err)
	}
	return l.f.Sync()
}

// Replay calls fn once per valid record in file order. If a record fails
// its checksum, or the file ends mid-record, Replay stops, truncates the
// file at the last known-good record boundary, and returns nil — the
// same "trim on first corruption" policy as the teacher's journal.
func (l *Log) Replay(fn func(payload []byte) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.f.Seek(int64(headerSize), io.SeekStart); err != nil {
		return fmt.Errorf("oplog: seek: %w", err)
	}
	r := bufio.NewReader(l.f)
	offset := int64(headerSize)

	for {
		lengthPrefix, n, err := readUvarint(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return l.trim(offset)
		}
		payload := make([]byte, lengthPrefix)
		if _, err := io.ReadFull(r, payload); err != nil {
			return l.trim(offset)
		}
		var sumBuf [8]byte
		if _, err := io.ReadFull(r, sumBuf[:]); err != nil {
			return l.trim(offset)
		}
		want := binary.LittleEndian.Uint64(sumBuf[:])
		if xxhash.Sum64(payload) != want {
			l.logger.Warn("oplog: checksum mismatch, trimming", "offset", offset)
			return l.trim(offset)
		}
		offset += int64(n) + int64(lengthPrefix) + 8
		if err := fn(payload); err != nil {
			return err
		}
	}
	return nil
}

func (l *Log) trim(offset int64) error {
	if err := l.f.Truncate(offset); err != nil {
		return fmt.Errorf("oplog: truncating corrupt tail: %w", err)
	}
	_, err := l.f.Seek(0, io.SeekEnd)
	return err
}

// Reset discards every record, leaving only the file header. Callers use
// this once every replayed record has been durably applied elsewhere.
func (l *Log) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.f.Truncate(int64(headerSize)); err != nil {
		return err
	}
	_, err := l.f.Seek(0, io.SeekEnd)
	return err
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

func readUvarint(r *bufio.Reader) (uint64, int, error) {
	v, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, 0, err
	}
	// binary.ReadUvarint doesn't report bytes consumed; re-derive it.
	n := uvarintSize(v)
	return v, n, nil
}

func uvarintSize(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}
