package ruleset

import (
	"errors"
	"fmt"

	"github.com/tinytelemetry/statwalk/internal/document"
)

// ErrNotNumeric reports a value that cannot be read as a number.
var ErrNotNumeric = errors.New("ruleset: value is not numeric")

// ValueFunc computes a derived value from the object currently in view.
// path is the scope location of obj, for error messages.
type ValueFunc func(obj document.Object, path document.Path) (float64, error)

// Extraction is the value source of a derived rule: a pure function plus the
// top-level keys of the scope it reads. Consumed keys count as handled.
type Extraction struct {
	fn   ValueFunc
	keys []string
}

// Value runs the extraction.
func (e Extraction) Value(obj document.Object, path document.Path) (float64, error) {
	if e.fn == nil {
		return 0, errors.New("ruleset: empty extraction")
	}
	return e.fn(obj, path)
}

// Keys returns the scope keys the extraction consumes.
func (e Extraction) Keys() []string { return e.keys }

func (e Extraction) valid() bool { return e.fn != nil }

// Compute wraps an arbitrary function. consumes lists the scope keys it reads.
func Compute(fn ValueFunc, consumes ...string) Extraction {
	return Extraction{fn: fn, keys: consumes}
}

// Extract reads the numeric value at a nested path below the scope.
func Extract(path ...string) Extraction {
	return Extraction{
		keys: firstKey(path),
		fn: func(obj document.Object, at document.Path) (float64, error) {
			v, err := lookup(obj, at, path)
			if err != nil {
				return 0, err
			}
			f, ok := document.ToFloat(v, false)
			if !ok {
				return 0, fmt.Errorf("%w: %s at %s", ErrNotNumeric, document.Describe(v), join(at, path))
			}
			return f, nil
		},
	}
}

// ExtractBool reads a flag at a nested path and yields 1 when truthy, else 0.
func ExtractBool(path ...string) Extraction {
	return Extraction{
		keys: firstKey(path),
		fn: func(obj document.Object, at document.Path) (float64, error) {
			v, err := lookup(obj, at, path)
			if err != nil {
				return 0, err
			}
			if document.Truthy(v) {
				return 1, nil
			}
			return 0, nil
		},
	}
}

// ExtractLen yields the number of elements of the array or object at path.
func ExtractLen(path ...string) Extraction {
	return Extraction{
		keys: firstKey(path),
		fn: func(obj document.Object, at document.Path) (float64, error) {
			v, err := lookup(obj, at, path)
			if err != nil {
				return 0, err
			}
			n, ok := document.Len(v)
			if !ok {
				return 0, fmt.Errorf("%w: %s has no size at %s", ErrNotNumeric, document.Describe(v), join(at, path))
			}
			return float64(n), nil
		},
	}
}

func lookup(obj document.Object, at document.Path, path []string) (any, error) {
	v, err := document.Lookup(obj, path...)
	if err != nil {
		var pathErr *document.PathError
		if errors.As(err, &pathErr) {
			return nil, &document.PathError{Path: append(append(document.Path{}, at...), pathErr.Path...), Err: pathErr.Err}
		}
		return nil, err
	}
	return v, nil
}

func firstKey(path []string) []string {
	if len(path) == 0 {
		return nil
	}
	return []string{path[0]}
}

func join(at document.Path, path []string) string {
	return append(append(document.Path{}, at...), path...).String()
}
