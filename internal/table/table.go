// Package table reads and writes the commit-file feature table.
package table

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Yates-Labs/sevmine/internal/record"
)

// Format is a table serialization format.
type Format string

const (
	FormatJSONL Format = "jsonl"
	FormatJSON  Format = "json"
	FormatCSV   Format = "csv"
)

// ErrUnsupportedFormat is returned for unknown format names.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// ParseFormat normalizes a format name.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case FormatJSONL, FormatJSON, FormatCSV:
		return f, nil
	case "ndjson":
		return FormatJSONL, nil
	}
	return "", fmt.Errorf("%w: %s (supported: jsonl, json, csv)", ErrUnsupportedFormat, name)
}

// FormatFromPath guesses the format from a file extension, defaulting to
// JSON lines.
func FormatFromPath(path string) Format {
	if f, err := ParseFormat(strings.TrimPrefix(filepath.Ext(path), ".")); err == nil {
		return f
	}
	return FormatJSONL
}

// Export writes records in the named format.
func Export(records []record.CommitFileRecord, format string, w io.Writer) error {
	f, err := ParseFormat(format)
	if err != nil {
		return err
	}

	switch f {
	case FormatJSON:
		return writeJSONArray(records, w)
	case FormatCSV:
		return WriteCSV(records, w)
	default:
		return WriteJSON(records, w)
	}
}

// WriteJSON writes one JSON object per line.
func WriteJSON(records []record.CommitFileRecord, w io.Writer) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			return fmt.Errorf("failed to encode record %d: %w", i, err)
		}
	}
	return bw.Flush()
}

func writeJSONArray(records []record.CommitFileRecord, w io.Writer) error {
	if records == nil {
		records = []record.CommitFileRecord{}
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(records)
}

// ReadJSON reads records written by WriteJSON. A single JSON array is also
// accepted.
func ReadJSON(r io.Reader) ([]record.CommitFileRecord, error) {
	br := bufio.NewReader(r)
	if first, err := peekNonSpace(br); err == nil && first == '[' {
		var records []record.CommitFileRecord
		if err := json.NewDecoder(br).Decode(&records); err != nil {
			return nil, fmt.Errorf("failed to decode record array: %w", err)
		}
		return records, nil
	}

	var records []record.CommitFileRecord
	dec := json.NewDecoder(br)
	for {
		var rec record.CommitFileRecord
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode record %d: %w", len(records), err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.Peek(1)
		if err != nil {
			return 0, err
		}
		if !bytes.ContainsAny(b, " \t\r\n") {
			return b[0], nil
		}
		if _, err := br.Discard(1); err != nil {
			return 0, err
		}
	}
}

// WriteFile writes records to path in the given format, or the format implied
// by the extension when format is empty.
func WriteFile(path, format string, records []record.CommitFileRecord) error {
	if format == "" {
		format = string(FormatFromPath(path))
	}
	if _, err := ParseFormat(format); err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	if err := Export(records, format, f); err != nil {
		return err
	}
	return f.Close()
}

// ReadFile loads a table, choosing the decoder from the file extension.
func ReadFile(path string) ([]record.CommitFileRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open table: %w", err)
	}
	defer f.Close()

	if FormatFromPath(path) == FormatCSV {
		return ReadCSV(f)
	}
	return ReadJSON(f)
}
