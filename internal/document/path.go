package document

import (
	"errors"
	"strings"
)

// ErrMissingPath reports that a lookup path does not exist in the document.
var ErrMissingPath = errors.New("document: path not found")

// Path is a scope location inside a document, outermost key first.
type Path []string

// Child returns a new path extended by key. The receiver is not modified.
func (p Path) Child(key string) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, key)
}

// String renders the path dotted: "metrics.cursor.open".
func (p Path) String() string {
	return strings.Join(p, ".")
}

// PathError carries the full path of a failed lookup.
type PathError struct {
	Path Path
	Err  error
}

func (e *PathError) Error() string {
	return e.Err.Error() + ": " + e.Path.String()
}

func (e *PathError) Unwrap() error { return e.Err }

// Lookup follows keys through nested objects starting at obj.
func Lookup(obj Object, keys ...string) (any, error) {
	var cur any = obj
	for i, key := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, &PathError{Path: Path(keys[:i+1]), Err: ErrMissingPath}
		}
		next, ok := m[key]
		if !ok {
			return nil, &PathError{Path: Path(keys[:i+1]), Err: ErrMissingPath}
		}
		cur = next
	}
	return cur, nil
}
