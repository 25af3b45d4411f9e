package blobstore

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// FieldKind is the type of a metadata field.
type FieldKind int

const (
	StringField FieldKind = iota + 1
	IntField
)

func (k FieldKind) String() string {
	switch k {
	case StringField:
		return "string"
	case IntField:
		return "int"
	default:
		return fmt.Sprintf("FieldKind(%d)", int(k))
	}
}

var (
	// Error for a field whose kind cannot be stored as metadata.
	ErrUnsupportedField = errors.New("unsupported metadata field")
	// Error for registering a mimetype twice or without a name.
	ErrBadType = errors.New("invalid binary type")
	// Error for using a mimetype nobody registered.
	ErrUnknownType = errors.New("unknown binary type")
)

// TypeDefinition describes a kind of binary payload. Generate extracts the
// metadata fields from a payload; it may be nil for types without metadata.
type TypeDefinition struct {
	Mimetype string
	Fields   map[string]FieldKind
	Generate func(data []byte) (map[string]any, error)
}

// Type is a registered TypeDefinition.
type Type struct {
	def   TypeDefinition
	names []string // Field names, sorted
}

// Mimetype returns the type's mimetype.
func (t *Type) Mimetype() string {
	return t.def.Mimetype
}

// Fields returns the metadata field names in encoding order.
func (t *Type) Fields() []string {
	return append([]string(nil), t.names...)
}

// Kind returns the kind of a metadata field.
func (t *Type) Kind(name string) (FieldKind, bool) {
	k, ok := t.def.Fields[name]
	return k, ok
}

// GenerateMetadata extracts the metadata of data.
func (t *Type) GenerateMetadata(data []byte) (map[string]any, error) {
	if t.def.Generate == nil || len(t.names) == 0 {
		return map[string]any{}, nil
	}
	md, err := t.def.Generate(data)
	if err != nil {
		return nil, fmt.Errorf("generate %s metadata: %w", t.def.Mimetype, err)
	}
	return md, nil
}

// Registry maps mimetypes to their types. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*Type
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*Type)}
}

// Register validates def and adds it under its mimetype.
func (r *Registry) Register(def TypeDefinition) (*Type, error) {
	if def.Mimetype == "" {
		return nil, fmt.Errorf("%w: empty mimetype", ErrBadType)
	}
	t := &Type{def: def}
	for name, kind := range def.Fields {
		if kind != StringField && kind != IntField {
			return nil, fmt.Errorf("%w: %s.%s has kind %v", ErrUnsupportedField, def.Mimetype, name, kind)
		}
		if !validFieldName(name) {
			return nil, fmt.Errorf("%w: bad field name %q", ErrBadType, name)
		}
		t.names = append(t.names, name)
	}
	sort.Strings(t.names)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[def.Mimetype]; ok {
		return nil, fmt.Errorf("%w: %s already registered", ErrBadType, def.Mimetype)
	}
	r.types[def.Mimetype] = t
	return t, nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(def TypeDefinition) *Type {
	t, err := r.Register(def)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the type registered for mimetype.
func (r *Registry) Lookup(mimetype string) (*Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[mimetype]
	return t, ok
}

// Mimetypes returns the registered mimetypes, sorted.
func (r *Registry) Mimetypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.types))
	for m := range r.types {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func validFieldName(name string) bool {
	if name == "" {
		return false
	}
	for _, c := range name {
		if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
