package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// maxLineBytes bounds a single JSONL record during scans.
const maxLineBytes = 1 << 20

// scanBufferBytes is the initial scanner buffer size.
const scanBufferBytes = 64 * 1024

// Lines is an append-only JSONL log. Records are written as compact
// single-line JSON and never rewritten in place, only appended or
// rotated out by archival.
type Lines[T any] struct {
	store *Store
	name  string
}

// Name returns the log file name.
func (l *Lines[T]) Name() string {
	return l.name
}

// Append writes one record with a trailing newline.
func (l *Lines[T]) Append(ctx context.Context, record T) error {
	return l.AppendAll(ctx, []T{record})
}

// AppendAll writes records in order under a single exclusive acquisition.
func (l *Lines[T]) AppendAll(ctx context.Context, records []T) error {
	if len(records) == 0 {
		return nil
	}

	var buf bytes.Buffer

	encoder := json.NewEncoder(&buf)
	for _, record := range records {
		encodeErr := encoder.Encode(record)
		if encodeErr != nil {
			return fmt.Errorf("encode %s record: %w", l.name, encodeErr)
		}
	}

	release, lockErr := l.store.acquire(ctx, l.name, true)
	if lockErr != nil {
		return lockErr
	}
	defer release()

	file, openErr := os.OpenFile(l.store.path(l.name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, filePerm)
	if openErr != nil {
		return fmt.Errorf("open %s: %w", l.name, openErr)
	}
	defer file.Close()

	_, writeErr := file.Write(buf.Bytes())
	if writeErr != nil {
		return fmt.Errorf("append %s: %w", l.name, writeErr)
	}

	syncErr := file.Sync()
	if syncErr != nil {
		return fmt.Errorf("sync %s: %w", l.name, syncErr)
	}

	return nil
}

// Read returns all records, oldest first.
func (l *Lines[T]) Read(ctx context.Context) ([]T, error) {
	release, lockErr := l.store.acquire(ctx, l.name, false)
	if lockErr != nil {
		return nil, lockErr
	}
	defer release()

	raw, readErr := readRawLines(l.store.path(l.name))
	if readErr != nil {
		return nil, fmt.Errorf("read %s: %w", l.name, readErr)
	}

	records := make([]T, 0, len(raw))

	for i, line := range raw {
		var record T

		unmarshalErr := json.Unmarshal(line, &record)
		if unmarshalErr != nil {
			return nil, fmt.Errorf("parse %s line %d (%v): %w", l.name, i+1, unmarshalErr, ErrCorrupted)
		}

		records = append(records, record)
	}

	return records, nil
}

// Count returns the number of records without decoding them.
func (l *Lines[T]) Count(ctx context.Context) (int, error) {
	release, lockErr := l.store.acquire(ctx, l.name, false)
	if lockErr != nil {
		return 0, lockErr
	}
	defer release()

	raw, readErr := readRawLines(l.store.path(l.name))
	if readErr != nil {
		return 0, fmt.Errorf("count %s: %w", l.name, readErr)
	}

	return len(raw), nil
}

// readRawLines loads every non-empty line of a JSONL file. A missing
// file yields no lines.
func readRawLines(path string) ([][]byte, error) {
	file, openErr := os.Open(path)
	if errors.Is(openErr, fs.ErrNotExist) {
		return nil, nil
	}

	if openErr != nil {
		return nil, openErr
	}
	defer file.Close()

	var lines [][]byte

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, scanBufferBytes), maxLineBytes)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		lines = append(lines, bytes.Clone(line))
	}

	scanErr := scanner.Err()
	if scanErr != nil {
		return nil, scanErr
	}

	return lines, nil
}

// joinLines renders raw records back to newline-terminated JSONL.
func joinLines(lines [][]byte) []byte {
	var buf bytes.Buffer

	for _, line := range lines {
		buf.Write(line)
		buf.WriteByte('\n')
	}

	return buf.Bytes()
}
