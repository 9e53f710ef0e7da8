// Package ingest turns uploaded documents into normalized line items.
//
// A document is routed to one parser by extension, falling back to content
// sniffing. Parsers only produce ordered field-sets; classification into
// item, quantity and price is left to the normalizer.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/i5heu/cipher-tally/internal/normalize"
)

const (
	DefaultMaxBytes         = 10 << 20
	DefaultRecognizeTimeout = 60 * time.Second
)

type Format string

const (
	FormatDelimited  Format = "delimited"
	FormatStructured Format = "structured"
	FormatText       Format = "text"
	FormatImage      Format = "image"
)

var (
	ErrUnsupportedFormat = errors.New("ingest: unsupported format")
	ErrNoRowsDetected    = errors.New("ingest: no rows detected")
	ErrRecognitionEmpty  = errors.New("ingest: recognition produced no text")
	ErrNoRecognizer      = errors.New("ingest: no recognizer configured")
	ErrTooLarge          = errors.New("ingest: document too large")
)

type UnsupportedFormatError struct {
	Ext         string
	ContentType string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("ingest: unsupported format (extension %q, content type %q)", e.Ext, e.ContentType)
}

func (e *UnsupportedFormatError) Unwrap() error { return ErrUnsupportedFormat }

// NoRowsError carries whatever text was extracted so callers can show it.
type NoRowsError struct {
	Filename string
	Format   Format
	RawText  string
}

func (e *NoRowsError) Error() string {
	return fmt.Sprintf("ingest: no rows detected in %q (%s)", e.Filename, e.Format)
}

func (e *NoRowsError) Unwrap() error { return ErrNoRowsDetected }

// Parser produces one field-set per detected row.
type Parser interface {
	Parse(ctx context.Context, r io.Reader) ([]normalize.Fields, error)
}

type Result struct {
	Filename string                `json:"filename"`
	Format   Format                `json:"format"`
	Records  []normalize.RawRecord `json:"rows"`
	RawText  string                `json:"rawText,omitempty"`
	Skipped  int                   `json:"skipped"`
}

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

// DetectFormat routes by extension first. An unknown extension is sniffed:
// images go to recognition, plain text to the free-text parser.
func DetectFormat(filename string, data []byte) (Format, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".csv", ".tsv":
		return FormatDelimited, nil
	case ".json", ".yaml", ".yml":
		return FormatStructured, nil
	case ".txt", ".text":
		return FormatText, nil
	}
	if imageExtensions[ext] {
		return FormatImage, nil
	}

	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	ct := http.DetectContentType(head)
	switch {
	case strings.HasPrefix(ct, "image/"):
		return FormatImage, nil
	case strings.HasPrefix(ct, "text/plain"):
		return FormatText, nil
	}
	return "", &UnsupportedFormatError{Ext: ext, ContentType: ct}
}

// Ingester wires parsers, the normalizer and an optional recognizer.
// The zero value handles every format except images.
type Ingester struct {
	Normalizer       normalize.Normalizer
	Recognizer       Recognizer
	RecognizeTimeout time.Duration
	MaxBytes         int64
	FreeText         FreeTextParser
}

func (in *Ingester) maxBytes() int64 {
	if in.MaxBytes > 0 {
		return in.MaxBytes
	}
	return DefaultMaxBytes
}

func (in *Ingester) parserFor(filename string) Parser {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".tsv":
		return DelimitedParser{Comma: '\t'}
	case ".csv":
		return DelimitedParser{Comma: ','}
	case ".json":
		return JSONParser{}
	case ".yaml", ".yml":
		return YAMLParser{}
	}
	return in.FreeText
}

// Ingest parses, normalizes and filters one document. A document that yields
// no rows fails with a *NoRowsError rather than producing an empty result.
func (in *Ingester) Ingest(ctx context.Context, filename string, data []byte) (Result, error) {
	if int64(len(data)) > in.maxBytes() {
		return Result{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(data), in.maxBytes())
	}

	format, err := DetectFormat(filename, data)
	if err != nil {
		return Result{}, err
	}
	if format == FormatImage {
		return in.Recognize(ctx, filename, data)
	}

	sets, err := in.parserFor(filename).Parse(ctx, bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("parsing %q as %s: %w", filename, format, err)
	}

	res := Result{Filename: filename, Format: format}
	res.Records, res.Skipped = in.Normalizer.NormalizeAll(sets)
	if len(res.Records) == 0 {
		return res, &NoRowsError{Filename: filename, Format: format}
	}
	return res, nil
}

// Recognize extracts text from an image and feeds it through the free-text
// parser. Blank text is ErrRecognitionEmpty; text without rows is returned
// together with a *NoRowsError.
func (in *Ingester) Recognize(ctx context.Context, filename string, image []byte) (Result, error) {
	if in.Recognizer == nil {
		return Result{}, ErrNoRecognizer
	}
	if int64(len(image)) > in.maxBytes() {
		return Result{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(image), in.maxBytes())
	}

	timeout := in.RecognizeTimeout
	if timeout <= 0 {
		timeout = DefaultRecognizeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	text, err := in.Recognizer.Recognize(ctx, image)
	if err != nil {
		return Result{}, fmt.Errorf("recognizing %q: %w", filename, err)
	}
	text = cleanText(text)
	if strings.TrimSpace(text) == "" {
		return Result{}, ErrRecognitionEmpty
	}

	sets, err := in.FreeText.Parse(ctx, strings.NewReader(text))
	if err != nil {
		return Result{}, err
	}

	res := Result{Filename: filename, Format: FormatImage, RawText: text}
	res.Records, res.Skipped = in.Normalizer.NormalizeAll(sets)
	if len(res.Records) == 0 {
		return res, &NoRowsError{Filename: filename, Format: FormatImage, RawText: text}
	}
	return res, nil
}
