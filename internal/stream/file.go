package stream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/timecampetl/internal/models"
)

// Format selects the on-disk encoding.
type Format string

const (
	// FormatJSONL is the appendable interchange format.
	FormatJSONL Format = "jsonl"
	// FormatJSON is a pretty-printed array for people. It is not appendable.
	FormatJSON Format = "json"
)

// ParseFormat accepts "jsonl" (or empty) and "json".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "jsonl", "ndjson":
		return FormatJSONL, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown format %q", s)
	}
}

// WriteFile drains seq into path and returns the number of records written.
// Parent directories are created as needed. On error the partial file is removed.
func WriteFile(path string, format Format, seq iter.Seq2[models.TimeRecord, error]) (int, error) {
	return writeFile(path, format, seq, func(r *models.TimeRecord) { r.Normalize() })
}

// WriteActivities drains seq into path the same way WriteFile does.
func WriteActivities(path string, format Format, seq iter.Seq2[models.Activity, error]) (int, error) {
	return writeFile(path, format, seq, nil)
}

func writeFile[T any](path string, format Format, seq iter.Seq2[T, error], prepare func(*T)) (n int, err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return 0, fmt.Errorf("mkdir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer func() {
		cerr := f.Close()
		if err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	if format == FormatJSON {
		items := []T{}
		for v, err := range seq {
			if err != nil {
				return 0, err
			}
			if prepare != nil {
				prepare(&v)
			}
			items = append(items, v)
		}
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		if err := enc.Encode(items); err != nil {
			return 0, err
		}
		return len(items), nil
	}

	bw := bufio.NewWriter(f)
	for v, err := range seq {
		if err != nil {
			return n, err
		}
		if prepare != nil {
			prepare(&v)
		}
		b, err := json.Marshal(v)
		if err != nil {
			return n, fmt.Errorf("encode record %d: %w", n+1, err)
		}
		if _, err := bw.Write(append(b, '\n')); err != nil {
			return n, err
		}
		n++
	}
	return n, bw.Flush()
}

// ReadFile loads records from path. Files ending in .jsonl or .ndjson are
// read line by line; anything else is treated as a JSON array.
func ReadFile(path string) ([]models.TimeRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		recs, err := Collect(Read(f))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return recs, nil
	}

	var recs []models.TimeRecord
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&recs); err != nil {
		return nil, fmt.Errorf("%s: %w", path, schemaErr(err))
	}
	for i := range recs {
		recs[i].Normalize()
	}
	return recs, nil
}

// OpenFile streams a .jsonl file lazily. The returned close func must be called.
func OpenFile(path string) (iter.Seq2[models.TimeRecord, error], func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return Read(f), f.Close, nil
}
