package pager

// NoPage is the pagenum for when there is no page being held
const NoPage = -1

// Page is one Pagesize frame of the writer's buffer.
type Page struct {
	pagenum int64  // Position of the page in the file
	used    int64  // Number of bytes filled so far
	dirty   bool   // Flag on whether the page's data has changed and needs to be written to disk
	data    []byte // Serialized data (the actual Pagesize bytes of the page)
}

// GetPageNum returns the page's pagenum.
func (page *Page) GetPageNum() int64 {
	return page.pagenum
}

// IsDirty reports whether the page's data has changed and needs to be written to disk.
func (page *Page) IsDirty() bool {
	return page.dirty
}

// GetData returns the byte data held by the page.
func (page *Page) GetData() []byte {
	return page.data
}

// Update copies data into the page at the specified offset.
func (page *Page) Update(data []byte, offset int64) {
	page.dirty = true
	copy(page.data[offset:], data)
}

// reset assigns the frame to pagenum and zeroes it.
func (page *Page) reset(pagenum int64) {
	clear(page.data)
	page.pagenum = pagenum
	page.used = 0
	page.dirty = false
}
