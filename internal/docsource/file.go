package docsource

import (
	"context"
	"fmt"
	"os"
)

// FileSource replays a file of status documents, one per line or
// pretty-printed. The file is closed once it is drained or the source stops.
type FileSource struct {
	*StdinSource
	path string
}

// NewFileSource opens path and starts reading it in the background.
func NewFileSource(ctx context.Context, path string, conf ...StdinConfig) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("docsource: open %s: %w", path, err)
	}
	return &FileSource{
		StdinSource: newReaderSource(ctx, "file:"+path, f, f, conf...),
		path:        path,
	}, nil
}

// Path returns the file being read.
func (f *FileSource) Path() string { return f.path }
