package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FSStore keeps blobs on the local filesystem under Root and serves them
// under BaseURL (the server mounts Root as a static file tree).
type FSStore struct {
	root    string
	baseURL string
}

// NewFSStore creates the directory if needed.
func NewFSStore(root, baseURL string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FSStore{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *FSStore) Put(_ context.Context, name string, data []byte, _ string) (string, error) {
	name = filepath.Base(name) // no path traversal through caller-supplied names
	path := filepath.Join(s.root, name)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("commit blob: %w", err)
	}
	return s.baseURL + "/" + name, nil
}

func (s *FSStore) Delete(_ context.Context, location string) error {
	name := filepath.Base(location)
	if name == "." || name == "/" || name == "" {
		return fmt.Errorf("invalid blob location %q", location)
	}
	err := os.Remove(filepath.Join(s.root, name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}
