package sources

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/plangate/plangate/pkg/config"
)

// Source provides a plan document from some location.
type Source interface {
	// Fetch opens the plan for reading. The caller closes the reader.
	Fetch(ctx context.Context) (io.ReadCloser, error)

	// Description names the source for logs and reports.
	Description() string
}

// Resolve picks a source for the given plan path. "-" reads standard
// input, ssh:// URLs fetch over SFTP, and everything else is a local
// file path.
func Resolve(path string, remote config.RemoteConfig, logger zerolog.Logger) (Source, error) {
	switch {
	case path == "":
		return nil, fmt.Errorf("plan path is required")
	case path == "-":
		return &StdinSource{}, nil
	case strings.HasPrefix(path, "ssh://"):
		return NewSFTPSource(path, remote, logger)
	default:
		return &FileSource{Path: path}, nil
	}
}

// Checksum returns the hex SHA-256 digest of the reader's contents.
func Checksum(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to hash plan: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FetchVerified fetches the source's contents and, when expected is
// non-empty, verifies their SHA-256 digest against it.
func FetchVerified(ctx context.Context, src Source, expected string) ([]byte, error) {
	reader, err := src.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan from %s: %w", src.Description(), err)
	}

	if expected != "" {
		sum := sha256.Sum256(data)
		got := hex.EncodeToString(sum[:])
		if !strings.EqualFold(got, expected) {
			return nil, fmt.Errorf("plan checksum mismatch for %s: got %s, expected %s", src.Description(), got, expected)
		}
	}

	return data, nil
}
