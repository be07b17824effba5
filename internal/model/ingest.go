package model

// IngestEnvelope carries one raw input line with source metadata.
// It is the transport contract between input sources and document decoding.
type IngestEnvelope struct {
	Source string
	Line   string
	// Closed marks the end of Source. Line is empty and nothing else follows.
	Closed bool
}
