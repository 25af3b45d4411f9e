package blobstore

import (
	"fmt"
	"maps"
)

// Resource is a snapshot of a stored blob. Reference counts and locators
// reflect the store at the moment the resource was read.
type Resource struct {
	id       int64
	typ      *Type
	metadata map[string]any
	sha1     string
	length   int64
	data     []byte
	refs     int64
	locators []int64
}

// ID returns the store-assigned id, always positive.
func (r *Resource) ID() int64 {
	return r.id
}

// Type returns the binary type of the payload.
func (r *Resource) Type() *Type {
	return r.typ
}

// Mimetype returns the mimetype of the payload.
func (r *Resource) Mimetype() string {
	return r.typ.Mimetype()
}

// Metadata returns a copy of the metadata generated for the payload.
func (r *Resource) Metadata() map[string]any {
	return maps.Clone(r.metadata)
}

// Length returns the payload size in bytes.
func (r *Resource) Length() int64 {
	return r.length
}

// SHA1 returns the hex SHA-1 of the payload.
func (r *Resource) SHA1() string {
	return r.sha1
}

// Data returns the payload. Callers must not modify it.
func (r *Resource) Data() []byte {
	return r.data
}

// ReferenceCount returns how many locators shared the payload when read.
func (r *Resource) ReferenceCount() int64 {
	return r.refs
}

// Locators returns the locators bound to the resource when read.
func (r *Resource) Locators() []int64 {
	return append([]int64(nil), r.locators...)
}

func (r *Resource) String() string {
	return fmt.Sprintf("%s#%d (%d bytes, sha1 %s, refs %d)", r.Mimetype(), r.id, r.length, r.sha1, r.refs)
}
