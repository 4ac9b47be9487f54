package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/xeipuuv/gojsonschema"
)

// jsonIndent pretty-prints collections for inspection by external tools.
const jsonIndent = "  "

// Collection is one locked JSON array of records persisted as a file.
type Collection[T any] struct {
	store  *Store
	name   string
	schema *gojsonschema.Schema
}

// Name returns the collection file name.
func (c *Collection[T]) Name() string {
	return c.name
}

// Snapshot returns the collection contents under a shared lock.
func (c *Collection[T]) Snapshot(ctx context.Context) ([]T, error) {
	var items []T

	viewErr := c.View(ctx, func(snapshot []T) error {
		items = snapshot

		return nil
	})
	if viewErr != nil {
		return nil, viewErr
	}

	return items, nil
}

// View runs fn over a shared-locked snapshot without writing.
func (c *Collection[T]) View(ctx context.Context, fn func(items []T) error) error {
	release, lockErr := c.store.acquire(ctx, c.name, false)
	if lockErr != nil {
		return lockErr
	}
	defer release()

	items, loadErr := c.load()
	if loadErr != nil {
		return loadErr
	}

	return fn(items)
}

// Update runs fn inside the exclusive lock and atomically persists the
// snapshot it returns. When fn errors, nothing is written.
func (c *Collection[T]) Update(ctx context.Context, fn func(items []T) ([]T, error)) error {
	release, lockErr := c.store.acquire(ctx, c.name, true)
	if lockErr != nil {
		return lockErr
	}
	defer release()

	items, loadErr := c.load()
	if loadErr != nil {
		return loadErr
	}

	updated, fnErr := fn(items)
	if fnErr != nil {
		return fnErr
	}

	return c.save(updated)
}

// load reads and validates the collection. A missing or empty file is an
// empty collection; a malformed one is quarantined and poisons writes.
func (c *Collection[T]) load() ([]T, error) {
	data, readErr := os.ReadFile(c.store.path(c.name))
	if errors.Is(readErr, fs.ErrNotExist) {
		return []T{}, nil
	}

	if readErr != nil {
		return nil, fmt.Errorf("read %s: %w", c.name, readErr)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return []T{}, nil
	}

	verifyErr := c.verify(data)
	if verifyErr != nil {
		return nil, verifyErr
	}

	var items []T

	unmarshalErr := json.Unmarshal(data, &items)
	if unmarshalErr != nil {
		c.quarantine(data)

		return nil, fmt.Errorf("parse %s (%v): %w", c.name, unmarshalErr, ErrCorrupted)
	}

	return items, nil
}

func (c *Collection[T]) verify(data []byte) error {
	if c.schema == nil {
		return nil
	}

	result, validateErr := c.schema.Validate(gojsonschema.NewBytesLoader(data))
	if validateErr != nil {
		c.quarantine(data)

		return fmt.Errorf("parse %s (%v): %w", c.name, validateErr, ErrCorrupted)
	}

	if !result.Valid() {
		c.quarantine(data)

		first := result.Errors()[0]

		return fmt.Errorf("validate %s (%s: %s): %w", c.name, first.Field(), first.Description(), ErrCorrupted)
	}

	return nil
}

// quarantine preserves a corrupt payload for forensics. Best effort.
func (c *Collection[T]) quarantine(data []byte) {
	stamp := c.store.now().UTC().Format(backupTimeFormat)
	ext := filepath.Ext(c.name)
	base := strings.TrimSuffix(c.name, ext)
	target := filepath.Join(c.store.root, BackupsDir, fmt.Sprintf("%s.corrupt_%s%s", base, stamp, ext))

	_ = os.WriteFile(target, data, filePerm)
}

// save writes the full collection via temp file and rename, then syncs
// the directory so the rename survives a crash.
func (c *Collection[T]) save(items []T) error {
	if items == nil {
		items = []T{}
	}

	data, marshalErr := json.MarshalIndent(items, "", jsonIndent)
	if marshalErr != nil {
		return fmt.Errorf("encode %s: %w", c.name, marshalErr)
	}

	data = append(data, '\n')

	writeErr := renameio.WriteFile(c.store.path(c.name), data, filePerm)
	if writeErr != nil {
		return fmt.Errorf("write %s: %w", c.name, writeErr)
	}

	return syncDir(c.store.root)
}

func compileSchema(raw []byte) (*gojsonschema.Schema, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	return schema, nil
}
