// Package reconutil collects the small, dependency-light primitives every
// other reconx package leans on: canonical JSON I/O, append-only log files,
// secret redaction, stable hashing, and the safe subprocess wrapper probes
// run through.
package reconutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// UTCNowISO returns the current UTC time formatted as the timeline/NDJSON
// timestamp contract: "2006-01-02T15:04:05Z".
func UTCNowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z")
}

// EnsureDirs creates the output root's reserved subdirectories: combined/,
// tmp/, artifacts/.
func EnsureDirs(out string) error {
	for _, sub := range []string{"combined", "tmp", "artifacts"} {
		if err := os.MkdirAll(filepath.Join(out, sub), 0o755); err != nil {
			return fmt.Errorf("ensure dirs: %w", err)
		}
	}
	return nil
}

// LoadJSON reads and unmarshals the JSON file at path into v.
func LoadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// DumpJSON pretty-prints v (indent=2) to path, creating parent directories
// as needed. v is first re-decoded into generic maps, so struct fields are
// emitted key-sorted just like map keys: "indent=2, sort_keys=True".
func DumpJSON(v interface{}, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("dump json: %w", err)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("dump json: marshal: %w", err)
	}
	var generic interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return fmt.Errorf("dump json: re-decode: %w", err)
	}
	data, err := json.MarshalIndent(generic, "", "  ")
	if err != nil {
		return fmt.Errorf("dump json: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// AppendNDJSON appends one JSON-encoded record as a single line to path.
func AppendNDJSON(path string, record interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("append ndjson: %w", err)
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("append ndjson: marshal: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("append ndjson: open: %w", err)
	}
	defer f.Close()
	var buf bytes.Buffer
	buf.Write(data)
	buf.WriteByte('\n')
	_, err = f.Write(buf.Bytes())
	return err
}

// AppendTimeline appends a single human-readable, timestamp-prefixed line to
// path: "[2026-07-31T00:00:00Z] <line>".
func AppendTimeline(path, line string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("append timeline: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("append timeline: open: %w", err)
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "[%s] %s\n", UTCNowISO(), line)
	return err
}
