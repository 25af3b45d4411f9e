package cursor

// Interface for a cursor that traverses an index.
type Cursor[E any] interface {
	Next() bool // Moves the cursor to the next entry in the index
	Entry() E   // Returns the entry at the position of the cursor
	Err() error // Returns the error that stopped the cursor, if any
}

// Collect drains c into a slice, stopping early after limit entries when
// limit is positive.
func Collect[E any](c Cursor[E], limit int) ([]E, error) {
	var out []E
	for c.Next() {
		out = append(out, c.Entry())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, c.Err()
}
