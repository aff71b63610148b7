package spool

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/oxyum/sigrok/internal/ports"
)

const (
	recordHeaderLen = 12
	logName         = "spool.log"
	metaName        = "spool.meta"
)

var ErrNotBegun = errors.New("sigrok: spool has no capture metadata")

// FileSpool keeps the raw chunks of one capture in its own directory:
// an append-only log of [8 id][4 len][chunk] records and a JSON meta file.
type FileSpool struct {
	mu        sync.Mutex
	dir       string
	path      string
	metaPath  string
	file      *os.File
	writer    *bufio.Writer
	meta      ports.SpoolMeta
	begun     bool
	nextID    ports.SpoolEntryID
	sizeBytes int64
}

// Create opens dir for a new capture, discarding any previous log in it.
func Create(dir string) (*FileSpool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, logName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileSpool{
		dir:      dir,
		path:     path,
		metaPath: filepath.Join(dir, metaName),
		file:     f,
		writer:   bufio.NewWriterSize(f, 1<<20),
	}, nil
}

// Open reopens the spool in dir for recovery. A record cut short by a crash
// is truncated away.
func Open(dir string) (*FileSpool, error) {
	path := filepath.Join(dir, logName)
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	s := &FileSpool{
		dir:      dir,
		path:     path,
		metaPath: filepath.Join(dir, metaName),
		file:     f,
		writer:   bufio.NewWriterSize(f, 1<<20),
	}
	if err := s.bootstrap(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *FileSpool) bootstrap() error {
	if err := s.loadMeta(); err != nil {
		return err
	}
	if err := s.scanExisting(); err != nil {
		return err
	}
	_, err := s.file.Seek(0, io.SeekEnd)
	return err
}

func (s *FileSpool) scanExisting() error {
	rf, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer rf.Close()

	reader := bufio.NewReader(rf)
	var (
		offset int64
		lastID ports.SpoolEntryID
	)

	for {
		var hdr [recordHeaderLen]byte
		if _, err := io.ReadFull(reader, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return fmt.Errorf("spool scan header: %w", err)
		}
		id := ports.SpoolEntryID(binary.BigEndian.Uint64(hdr[0:8]))
		length := binary.BigEndian.Uint32(hdr[8:12])

		if _, err := io.CopyN(io.Discard, reader, int64(length)); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return fmt.Errorf("spool scan body: %w", err)
		}
		offset += recordHeaderLen + int64(length)
		lastID = id
	}

	if err := s.file.Truncate(offset); err != nil {
		return err
	}
	s.sizeBytes = offset
	s.nextID = lastID
	return nil
}

func (s *FileSpool) loadMeta() error {
	data, err := os.ReadFile(s.metaPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotBegun
		}
		return err
	}
	if err := json.Unmarshal(data, &s.meta); err != nil {
		return fmt.Errorf("spool meta parse: %w", err)
	}
	s.begun = true
	return nil
}

func (s *FileSpool) Begin(meta ports.SpoolMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta = meta
	s.begun = true
	return s.persistMetaLocked()
}

func (s *FileSpool) Append(chunk []byte) (ports.SpoolEntryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.begun {
		return 0, ErrNotBegun
	}

	id := s.nextID + 1
	var hdr [recordHeaderLen]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(id))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(chunk)))

	if _, err := s.writer.Write(hdr[:]); err != nil {
		return 0, err
	}
	if _, err := s.writer.Write(chunk); err != nil {
		return 0, err
	}

	s.nextID = id
	s.sizeBytes += int64(len(chunk) + len(hdr))
	return id, nil
}

// Seal flushes the log and records the final sample count.
func (s *FileSpool) Seal(samples int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writer.Flush(); err != nil {
		return err
	}
	if err := s.file.Sync(); err != nil {
		return err
	}
	s.meta.Sealed = true
	s.meta.Samples = samples
	return s.persistMetaLocked()
}

func (s *FileSpool) Meta() ports.SpoolMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

func (s *FileSpool) Iterate(fn func(id ports.SpoolEntryID, chunk []byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writer.Flush(); err != nil {
		return err
	}

	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		var hdr [recordHeaderLen]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("spool iterate header: %w", err)
		}
		id := ports.SpoolEntryID(binary.BigEndian.Uint64(hdr[0:8]))
		b := make([]byte, binary.BigEndian.Uint32(hdr[8:12]))
		if _, err := io.ReadFull(r, b); err != nil {
			return fmt.Errorf("corrupt spool: %w", err)
		}
		if err := fn(id, b); err != nil {
			return err
		}
	}
}

func (s *FileSpool) Stats() ports.SpoolStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ports.SpoolStats{Entries: s.nextID, SizeBytes: s.sizeBytes}
}

func (s *FileSpool) Dir() string { return s.dir }

func (s *FileSpool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.writer.Flush(), s.file.Close())
}

func (s *FileSpool) persistMetaLocked() error {
	data, err := json.MarshalIndent(s.meta, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.metaPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.metaPath)
}

var (
	_ ports.Spool       = (*FileSpool)(nil)
	_ ports.SpoolReader = (*FileSpool)(nil)
)

// Entry describes one spooled capture found under a root directory.
type Entry struct {
	Dir  string
	Meta ports.SpoolMeta
}

// List returns the captures spooled under root, oldest first. Directories
// without metadata are skipped.
func List(root string) ([]Entry, error) {
	dirs, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []Entry
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		dir := filepath.Join(root, d.Name())
		data, err := os.ReadFile(filepath.Join(dir, metaName))
		if err != nil {
			continue
		}
		var meta ports.SpoolMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}
		out = append(out, Entry{Dir: dir, Meta: meta})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Meta.StartedAt.Before(out[j].Meta.StartedAt) })
	return out, nil
}
