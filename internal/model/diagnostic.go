package model

// DiagnosticKind classifies a non-fatal problem found during a walk.
type DiagnosticKind int

const (
	// UnmappedKey is a key that no ignore, rule, child scope or catch-all handled.
	UnmappedKey DiagnosticKind = iota
	// TypeMismatch is a value at a metric site that is not numeric or coercible.
	TypeMismatch
	// MissingExtractPath is a derived metric whose extraction path is absent.
	MissingExtractPath
	// DepthExceeded marks a scope that was not entered because of the depth limit.
	DepthExceeded
)

func (k DiagnosticKind) String() string {
	switch k {
	case UnmappedKey:
		return "unmapped_key"
	case TypeMismatch:
		return "type_mismatch"
	case MissingExtractPath:
		return "missing_extract_path"
	case DepthExceeded:
		return "depth_exceeded"
	default:
		return "unknown"
	}
}

// Diagnostic is one schema-drift or validation finding.
// Path is the dotted scope path ("" for the root); Key is the offending key.
type Diagnostic struct {
	Path   string
	Key    string
	Kind   DiagnosticKind
	Detail string
}

// Location joins Path and Key the way they appear in the document.
func (d Diagnostic) Location() string {
	if d.Path == "" {
		return d.Key
	}
	if d.Key == "" {
		return d.Path
	}
	return d.Path + "." + d.Key
}
