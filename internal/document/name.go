package document

import "strings"

// CanonicalName turns a document key into a metric name: lowercase ASCII,
// with every run of other characters collapsed to one underscore and
// leading/trailing underscores trimmed. "bytes read" -> "bytes_read",
// "$gleStats" -> "glestats", "totalCreated" -> "totalcreated".
func CanonicalName(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	pendingSep := false
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r >= 'A' && r <= 'Z':
			r += 'a' - 'A'
		default:
			pendingSep = true
			continue
		}
		if pendingSep && b.Len() > 0 {
			b.WriteByte('_')
		}
		pendingSep = false
		b.WriteRune(r)
	}
	return b.String()
}
