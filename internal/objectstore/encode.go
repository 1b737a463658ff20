package objectstore

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/timecampetl/internal/models"
	"github.com/dmitrijs2005/timecampetl/internal/stream"
	"github.com/klauspost/compress/gzip"
	"github.com/parquet-go/parquet-go"
)

// Format is the object encoding.
type Format string

const (
	FormatParquet Format = "parquet"
	FormatJSONL   Format = "jsonl"
)

// ParseFormat accepts "parquet" (or empty) and "jsonl".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "parquet":
		return FormatParquet, nil
	case "jsonl", "ndjson":
		return FormatJSONL, nil
	default:
		return "", fmt.Errorf("unknown object format %q", s)
	}
}

// Ext is the object name suffix.
func (f Format) Ext() string {
	if f == FormatJSONL {
		return "jsonl.gz"
	}
	return "parquet"
}

// ContentType is sent with the object.
func (f Format) ContentType() string {
	if f == FormatJSONL {
		return "application/gzip"
	}
	return "application/octet-stream"
}

// Encode renders recs in f. Parquet pages and NDJSON files are both gzip
// compressed.
func Encode(f Format, recs []models.TimeRecord) ([]byte, error) {
	for i := range recs {
		recs[i].Normalize()
	}

	var buf bytes.Buffer
	switch f {
	case FormatJSONL:
		zw := gzip.NewWriter(&buf)
		w := stream.NewWriter(zw)
		for _, r := range recs {
			if err := w.Append(r); err != nil {
				return nil, err
			}
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
	default:
		pw := parquet.NewGenericWriter[models.TimeRecord](&buf, parquet.Compression(&parquet.Gzip))
		if _, err := pw.Write(recs); err != nil {
			return nil, fmt.Errorf("parquet write: %w", err)
		}
		if err := pw.Close(); err != nil {
			return nil, fmt.Errorf("parquet close: %w", err)
		}
	}
	return buf.Bytes(), nil
}
