package pager

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Error for a read past the end of the mapping.
var ErrOutOfBounds = errors.New("read outside of mapped file")

// Mapping is a read-only memory map of a whole file. Reads are safe for
// concurrent use until Close.
type Mapping struct {
	name  string
	data  []byte
	close sync.Once
}

// Map maps the file at filePath into memory.
func Map(filePath string) (*Mapping, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	m := &Mapping{name: filePath}
	if info.Size() == 0 {
		return m, nil
	}
	m.data, err = unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Name returns the mapped file's path.
func (m *Mapping) Name() string {
	return m.name
}

// Len returns the size of the mapping in bytes.
func (m *Mapping) Len() int64 {
	return int64(len(m.data))
}

// Slice returns n bytes starting at off. The slice aliases the mapping and
// must not be written to or used after Close.
func (m *Mapping) Slice(off, n int64) ([]byte, error) {
	if off < 0 || n < 0 || off+n > int64(len(m.data)) {
		return nil, fmt.Errorf("%w: [%d, %d) of %d bytes", ErrOutOfBounds, off, off+n, len(m.data))
	}
	return m.data[off : off+n : off+n], nil
}

// Close unmaps the file. Later calls do nothing.
func (m *Mapping) Close() (err error) {
	m.close.Do(func() {
		if m.data != nil {
			err = unix.Munmap(m.data)
			m.data = nil
		}
	})
	return err
}
