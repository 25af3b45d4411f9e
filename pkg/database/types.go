package database

import (
	"bytes"
	"unicode/utf8"

	"realmsdb/pkg/blobstore"
)

// Mimetypes known to every database.
const (
	TextMimetype   = "text/plain"
	VertexMimetype = "world/vertex"
	BinaryMimetype = "application/octet-stream"
)

// Bytes per vertex in a world/vertex payload: three float32 coordinates.
const vertexSize = 12

// DefaultTypes returns a registry with the built-in mimetypes.
func DefaultTypes() *blobstore.Registry {
	reg := blobstore.NewRegistry()
	reg.MustRegister(blobstore.TypeDefinition{
		Mimetype: TextMimetype,
		Fields: map[string]blobstore.FieldKind{
			"lines": blobstore.IntField,
			"runes": blobstore.IntField,
			"first": blobstore.StringField,
		},
		Generate: func(data []byte) (map[string]any, error) {
			first, _, _ := bytes.Cut(data, []byte("\n"))
			return map[string]any{
				"lines": bytes.Count(data, []byte("\n")) + 1,
				"runes": utf8.RuneCount(data),
				"first": string(first),
			}, nil
		},
	})
	reg.MustRegister(blobstore.TypeDefinition{
		Mimetype: VertexMimetype,
		Fields:   map[string]blobstore.FieldKind{"vertices": blobstore.IntField},
		Generate: func(data []byte) (map[string]any, error) {
			return map[string]any{"vertices": len(data) / vertexSize}, nil
		},
	})
	reg.MustRegister(blobstore.TypeDefinition{Mimetype: BinaryMimetype})
	return reg
}
