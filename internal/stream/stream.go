// Package stream is the interchange format between pipeline stages:
// newline-delimited JSON, one record per line.
package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/dmitrijs2005/timecampetl/internal/common"
	"github.com/dmitrijs2005/timecampetl/internal/models"
)

// maxLine bounds a single encoded record.
const maxLine = 16 << 20

// Writer appends records as compact JSON lines.
type Writer struct {
	w     *bufio.Writer
	count int
}

// NewWriter buffers writes to w. Call Close to flush.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Append writes one record.
func (w *Writer) Append(r models.TimeRecord) error {
	r.Normalize()
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode record %d: %w", r.ID, err)
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	w.count++
	return nil
}

// Count reports how many records were appended.
func (w *Writer) Count() int {
	return w.count
}

// Close flushes buffered lines. It does not close the underlying writer.
func (w *Writer) Close() error {
	return w.w.Flush()
}

// Read yields records from r line by line. Blank lines are skipped. A line
// with keys unknown to TimeRecord fails with common.ErrSchemaMismatch.
//
// An explicit null on an optional field reads the same as an absent key, and
// a missing or null tags value reads as an empty list. Lines produced by
// Writer re-encode byte for byte; other lines re-encode in that canonical
// form.
func Read(r io.Reader) iter.Seq2[models.TimeRecord, error] {
	return func(yield func(models.TimeRecord, error) bool) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), maxLine)

		line := 0
		for sc.Scan() {
			line++
			b := bytes.TrimSpace(sc.Bytes())
			if len(b) == 0 {
				continue
			}
			rec, err := decodeLine(b)
			if err != nil {
				yield(models.TimeRecord{}, fmt.Errorf("line %d: %w", line, err))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield(models.TimeRecord{}, fmt.Errorf("line %d: %w", line+1, err))
		}
	}
}

func decodeLine(b []byte) (models.TimeRecord, error) {
	var rec models.TimeRecord
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rec); err != nil {
		return rec, schemaErr(err)
	}
	if dec.More() {
		return rec, errors.New("trailing data after record")
	}
	rec.Normalize()
	return rec, nil
}

// schemaErr marks unknown-key failures as schema drift. encoding/json has
// no typed error for them.
func schemaErr(err error) error {
	if strings.HasPrefix(err.Error(), "json: unknown field") {
		return fmt.Errorf("%w: %w", common.ErrSchemaMismatch, err)
	}
	return err
}

// Collect drains seq into a slice, stopping at the first error.
func Collect(seq iter.Seq2[models.TimeRecord, error]) ([]models.TimeRecord, error) {
	var out []models.TimeRecord
	for r, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Slice yields recs in order.
func Slice(recs []models.TimeRecord) iter.Seq2[models.TimeRecord, error] {
	return func(yield func(models.TimeRecord, error) bool) {
		for _, r := range recs {
			if !yield(r, nil) {
				return
			}
		}
	}
}
