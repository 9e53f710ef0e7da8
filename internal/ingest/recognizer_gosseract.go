//go:build gosseract

package ingest

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// Gosseract runs recognition in-process through libtesseract.
type Gosseract struct {
	Language string
}

// NewRecognizer returns the in-process recognizer; binary is ignored.
func NewRecognizer(_ string, language string) Recognizer {
	return Gosseract{Language: language}
}

func (g Gosseract) Recognize(ctx context.Context, image []byte) (string, error) {
	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)

	go func() {
		client := gosseract.NewClient()
		defer client.Close()

		if g.Language != "" {
			if err := client.SetLanguage(g.Language); err != nil {
				done <- result{err: err}
				return
			}
		}
		if err := client.SetImageFromBytes(image); err != nil {
			done <- result{err: fmt.Errorf("loading image: %w", err)}
			return
		}
		text, err := client.Text()
		done <- result{text: text, err: err}
	}()

	// libtesseract cannot be interrupted; on timeout the goroutine finishes
	// in the background and its result is dropped.
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.text, r.err
	}
}
