package store

import (
	"fmt"

	"github.com/google/renameio/v2"
)

// WriteReport atomically writes a standalone report file under the
// store root and returns its path. Reports are point-in-time documents
// (health, metrics), so no lock is involved.
func (s *Store) WriteReport(name string, data []byte) (string, error) {
	target := s.path(name)

	writeErr := renameio.WriteFile(target, data, filePerm)
	if writeErr != nil {
		return "", fmt.Errorf("write report %s: %w", name, writeErr)
	}

	return target, syncDir(s.root)
}
