// Package pager implements the page-level io used by index files: an
// append-only writer over aligned page frames and a read-only memory mapping.
package pager

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"realmsdb/pkg/config"
	"realmsdb/pkg/list"

	"github.com/ncw/directio"
)

// Pagesize is the size of an individual page (ie the maximum number of bytes that the page can hold) - defaults to 4kb.
const Pagesize int64 = directio.BlockSize

var (
	// Error for patching bytes past the first page.
	ErrHeadOverflow = errors.New("patch does not fit in the first page")
	// Error for using a closed writer.
	ErrClosed = errors.New("pager is closed")
)

// Writer streams bytes into a file through a fixed set of aligned page
// frames. The first page stays in memory until Close so that a header can
// be patched in after the rest of the file is written. Files are opened
// with O_DIRECT when the filesystem allows it.
type Writer struct {
	file      *os.File
	direct    bool
	head      *Page
	cur       *Page
	freeList  *list.List[*Page] // Frames ready for reuse.
	dirtyList *list.List[*Page] // Full frames waiting to be flushed.
	offset    int64
	closed    bool
}

// Create truncates or creates the file at filePath and returns a writer
// positioned at offset 0.
func Create(filePath string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0775); err != nil {
		return nil, err
	}
	w := &Writer{freeList: list.NewList[*Page](), dirtyList: list.NewList[*Page]()}
	file, err := directio.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0666)
	if err == nil {
		w.direct = true
	} else {
		// tmpfs and some other filesystems reject O_DIRECT.
		file, err = os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0666)
		if err != nil {
			return nil, err
		}
	}
	w.file = file

	frames := directio.AlignedBlock(int(Pagesize * config.MaxPagesInBuffer))
	for i := 0; i < config.MaxPagesInBuffer; i++ {
		w.freeList.PushTail(&Page{pagenum: NoPage, data: frames[int64(i)*Pagesize : int64(i+1)*Pagesize]})
	}
	w.head = w.takeFrame(0)
	w.cur = w.head
	return w, nil
}

// Name returns the path of the file being written.
func (w *Writer) Name() string {
	return w.file.Name()
}

// Direct reports whether the file was opened with O_DIRECT.
func (w *Writer) Direct() bool {
	return w.direct
}

// Offset returns the number of bytes appended so far.
func (w *Writer) Offset() int64 {
	return w.offset
}

// takeFrame pops a free frame for pagenum, or returns nil if none is free.
func (w *Writer) takeFrame(pagenum int64) *Page {
	link := w.freeList.PeekHead()
	if link == nil {
		return nil
	}
	link.PopSelf()
	page := link.GetValue()
	page.reset(pagenum)
	return page
}

// flushDirty writes every full frame to disk and returns it to the free list.
func (w *Writer) flushDirty() error {
	var err error
	w.dirtyList.Map(func(link *list.Link[*Page]) {
		page := link.GetValue()
		if err == nil {
			err = w.flushPage(page)
		}
		link.PopSelf()
		w.freeList.PushTail(page)
	})
	return err
}

// flushPage writes a whole frame at its page position.
func (w *Writer) flushPage(page *Page) error {
	if !page.IsDirty() {
		return nil
	}
	if _, err := w.file.WriteAt(page.GetData(), page.GetPageNum()*Pagesize); err != nil {
		return err
	}
	page.dirty = false
	return nil
}

// nextPage retires the current frame and starts the following page.
func (w *Writer) nextPage() error {
	if w.cur != w.head {
		w.dirtyList.PushTail(w.cur)
	}
	next := w.takeFrame(w.cur.pagenum + 1)
	if next == nil {
		if err := w.flushDirty(); err != nil {
			return err
		}
		next = w.takeFrame(w.cur.pagenum + 1)
	}
	w.cur = next
	return nil
}

// Append copies data to the end of the file.
func (w *Writer) Append(data []byte) error {
	if w.closed {
		return ErrClosed
	}
	for len(data) > 0 {
		if w.cur.used == Pagesize {
			if err := w.nextPage(); err != nil {
				return err
			}
		}
		n := min(int64(len(data)), Pagesize-w.cur.used)
		w.cur.Update(data[:n], w.cur.used)
		w.cur.used += n
		w.offset += n
		data = data[n:]
	}
	return nil
}

// Pad appends zero bytes until the offset is a multiple of align.
func (w *Writer) Pad(align int64) error {
	if rem := w.offset % align; rem != 0 {
		return w.Append(make([]byte, align-rem))
	}
	return nil
}

// PatchHead overwrites bytes of the first page at the given offset.
func (w *Writer) PatchHead(offset int64, data []byte) error {
	if w.closed {
		return ErrClosed
	}
	if offset < 0 || offset+int64(len(data)) > Pagesize {
		return fmt.Errorf("%w: %d bytes at %d", ErrHeadOverflow, len(data), offset)
	}
	w.head.Update(data, offset)
	return nil
}

// Close flushes every page, including the zero padding of the last one,
// and closes the file. The file length is a multiple of Pagesize.
func (w *Writer) Close() error {
	if w.closed {
		return ErrClosed
	}
	w.closed = true
	w.cur.dirty = true
	if w.cur != w.head {
		w.dirtyList.PushTail(w.cur)
	}
	w.head.dirty = true
	err := w.flushDirty()
	if err == nil {
		err = w.flushPage(w.head)
	}
	if err == nil && !w.direct {
		err = w.file.Sync()
	}
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// Abort closes the file without flushing and removes it.
func (w *Writer) Abort() error {
	if w.closed {
		return ErrClosed
	}
	w.closed = true
	_ = w.file.Close()
	return os.Remove(w.file.Name())
}
