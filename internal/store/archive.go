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
	"time"

	"github.com/google/renameio/v2"
	"github.com/pierrec/lz4/v4"

	"github.com/swarmsh/swarmsh/internal/model"
)

// lz4Extension marks frame-compressed archive files.
const lz4Extension = ".lz4"

// ArchiveResult reports one archival pass.
type ArchiveResult struct {
	// Archived is how many records were moved out of the primary file.
	Archived int
	// Retained is how many records remain in the primary file.
	Retained int
	// Path is the archive file written, empty when nothing moved.
	Path string
}

// ArchiveSpans moves all but the newest retain lines of the span log
// into a timestamped archive and rewrites the log. Lines are moved raw,
// so archived plus retained always reproduces the original log.
func (s *Store) ArchiveSpans(ctx context.Context, retain int) (ArchiveResult, error) {
	release, lockErr := s.acquire(ctx, TelemetrySpansFile, true)
	if lockErr != nil {
		return ArchiveResult{}, lockErr
	}
	defer release()

	lines, readErr := readRawLines(s.path(TelemetrySpansFile))
	if readErr != nil {
		return ArchiveResult{}, fmt.Errorf("read %s: %w", TelemetrySpansFile, readErr)
	}

	if len(lines) <= retain {
		return ArchiveResult{Retained: len(lines)}, nil
	}

	cut := len(lines) - retain
	stamp := s.now().UTC().Format(archiveTimeFormat)
	name := fmt.Sprintf("telemetry_archive_%s.jsonl", stamp)
	payload := joinLines(lines[:cut])

	if s.compress {
		compressed, compressErr := compressFrame(payload)
		if compressErr != nil {
			return ArchiveResult{}, compressErr
		}

		name += lz4Extension
		payload = compressed
	}

	target := filepath.Join(s.root, ArchivesDir, name)

	writeErr := renameio.WriteFile(target, payload, filePerm)
	if writeErr != nil {
		return ArchiveResult{}, fmt.Errorf("write archive %s: %w", name, writeErr)
	}

	rewriteErr := renameio.WriteFile(s.path(TelemetrySpansFile), joinLines(lines[cut:]), filePerm)
	if rewriteErr != nil {
		return ArchiveResult{}, fmt.Errorf("rewrite %s: %w", TelemetrySpansFile, rewriteErr)
	}

	syncErr := syncDir(s.root)
	if syncErr != nil {
		return ArchiveResult{}, syncErr
	}

	syncErr = syncDir(filepath.Join(s.root, ArchivesDir))
	if syncErr != nil {
		return ArchiveResult{}, syncErr
	}

	return ArchiveResult{Archived: cut, Retained: retain, Path: target}, nil
}

// ArchiveCompletedWork moves terminal work items older than cutoff into
// the day-stamped completed archive, merging with an existing one.
func (s *Store) ArchiveCompletedWork(ctx context.Context, cutoff time.Time) (ArchiveResult, error) {
	var result ArchiveResult

	updateErr := s.Work().Update(ctx, func(items []model.WorkItem) ([]model.WorkItem, error) {
		keep := make([]model.WorkItem, 0, len(items))
		archived := make([]model.WorkItem, 0)

		for _, item := range items {
			if item.Status.Terminal() && itemSettledAt(item).Before(cutoff) {
				archived = append(archived, item)

				continue
			}

			keep = append(keep, item)
		}

		if len(archived) == 0 {
			result = ArchiveResult{Retained: len(items)}

			return items, nil
		}

		name := fmt.Sprintf("completed_%s.json", s.now().UTC().Format(archiveDateFormat))
		target := filepath.Join(s.root, ArchivesDir, name)

		mergeErr := mergeWorkArchive(target, archived)
		if mergeErr != nil {
			return nil, mergeErr
		}

		result = ArchiveResult{Archived: len(archived), Retained: len(keep), Path: target}

		return keep, nil
	})
	if updateErr != nil {
		return ArchiveResult{}, updateErr
	}

	return result, nil
}

// itemSettledAt is the moment an item stopped changing.
func itemSettledAt(item model.WorkItem) time.Time {
	if !item.CompletedAt.IsZero() {
		return item.CompletedAt.Time
	}

	return item.UpdatedAt.Time
}

func mergeWorkArchive(target string, archived []model.WorkItem) error {
	existing := []model.WorkItem{}

	data, readErr := os.ReadFile(target)

	switch {
	case errors.Is(readErr, fs.ErrNotExist):
	case readErr != nil:
		return fmt.Errorf("read archive %s: %w", filepath.Base(target), readErr)
	default:
		unmarshalErr := json.Unmarshal(data, &existing)
		if unmarshalErr != nil {
			return fmt.Errorf("parse archive %s (%v): %w", filepath.Base(target), unmarshalErr, ErrCorrupted)
		}
	}

	existing = append(existing, archived...)

	payload, marshalErr := json.MarshalIndent(existing, "", jsonIndent)
	if marshalErr != nil {
		return fmt.Errorf("encode archive %s: %w", filepath.Base(target), marshalErr)
	}

	payload = append(payload, '\n')

	writeErr := renameio.WriteFile(target, payload, filePerm)
	if writeErr != nil {
		return fmt.Errorf("write archive %s: %w", filepath.Base(target), writeErr)
	}

	return nil
}

// TrimFastPath drops the oldest fast-path lines beyond maxLines and
// reports how many were dropped.
func (s *Store) TrimFastPath(ctx context.Context, maxLines int) (int, error) {
	release, lockErr := s.acquire(ctx, FastPathFile, true)
	if lockErr != nil {
		return 0, lockErr
	}
	defer release()

	lines, readErr := readRawLines(s.path(FastPathFile))
	if readErr != nil {
		return 0, fmt.Errorf("read %s: %w", FastPathFile, readErr)
	}

	if len(lines) <= maxLines {
		return 0, nil
	}

	dropped := len(lines) - maxLines

	rewriteErr := renameio.WriteFile(s.path(FastPathFile), joinLines(lines[dropped:]), filePerm)
	if rewriteErr != nil {
		return 0, fmt.Errorf("rewrite %s: %w", FastPathFile, rewriteErr)
	}

	return dropped, syncDir(s.root)
}

// Backup copies the named collection into backups/ with a timestamp
// suffix and returns the backup path. A missing collection is skipped.
func (s *Store) Backup(ctx context.Context, name string) (string, error) {
	release, lockErr := s.acquire(ctx, name, false)
	if lockErr != nil {
		return "", lockErr
	}
	defer release()

	data, readErr := os.ReadFile(s.path(name))
	if errors.Is(readErr, fs.ErrNotExist) {
		return "", nil
	}

	if readErr != nil {
		return "", fmt.Errorf("read %s: %w", name, readErr)
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	stamp := s.now().UTC().Format(backupTimeFormat)
	target := filepath.Join(s.root, BackupsDir, fmt.Sprintf("%s_%s%s", base, stamp, ext))

	writeErr := renameio.WriteFile(target, data, filePerm)
	if writeErr != nil {
		return "", fmt.Errorf("write backup %s: %w", filepath.Base(target), writeErr)
	}

	return target, syncDir(filepath.Join(s.root, BackupsDir))
}

// compressFrame wraps a payload in an lz4 frame, decompressible with
// standard lz4 tooling.
func compressFrame(payload []byte) ([]byte, error) {
	var buf bytes.Buffer

	writer := lz4.NewWriter(&buf)

	_, writeErr := writer.Write(payload)
	if writeErr != nil {
		return nil, fmt.Errorf("lz4 compress: %w", writeErr)
	}

	closeErr := writer.Close()
	if closeErr != nil {
		return nil, fmt.Errorf("lz4 close: %w", closeErr)
	}

	return buf.Bytes(), nil
}
