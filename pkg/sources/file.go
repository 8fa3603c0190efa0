package sources

import (
	"context"
	"fmt"
	"io"
	"os"
)

// FileSource reads a plan from a local file.
type FileSource struct {
	Path string
}

// Fetch opens the plan file.
func (s *FileSource) Fetch(_ context.Context) (io.ReadCloser, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plan file: %w", err)
	}
	return f, nil
}

// Description names the source.
func (s *FileSource) Description() string {
	return s.Path
}

// StdinSource reads a plan from standard input.
type StdinSource struct{}

// Fetch returns standard input. Closing it is a no-op so callers can
// treat all sources uniformly.
func (s *StdinSource) Fetch(_ context.Context) (io.ReadCloser, error) {
	return io.NopCloser(os.Stdin), nil
}

// Description names the source.
func (s *StdinSource) Description() string {
	return "stdin"
}
