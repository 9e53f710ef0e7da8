package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/i5heu/cipher-tally/internal/normalize"
)

// DelimitedParser reads CSV-like input whose first record is the header.
// Rows may be shorter or longer than the header; extra cells get positional
// names and are left for the normalizer to ignore or treat as numbers.
type DelimitedParser struct {
	Comma rune
}

func (p DelimitedParser) Parse(ctx context.Context, r io.Reader) ([]normalize.Fields, error) {
	reader := csv.NewReader(r)
	if p.Comma != 0 {
		reader.Comma = p.Comma
	}
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	for i, h := range header {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		header[i] = h
	}

	var rows []normalize.Fields
	for line := 0; ; line++ {
		if line%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row %d: %w", line+2, err)
		}

		fields := make(normalize.Fields, 0, len(record))
		blank := true
		for i, v := range record {
			v = strings.TrimSpace(v)
			if v != "" {
				blank = false
			}
			key := fmt.Sprintf("column%d", i+1)
			if i < len(header) && header[i] != "" {
				key = header[i]
			}
			fields = append(fields, normalize.Field{Key: key, Value: v})
		}
		if blank {
			continue
		}
		rows = append(rows, fields)
	}
	return rows, nil
}
