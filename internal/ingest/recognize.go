package ingest

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Recognizer extracts text from an image. Implementations must honour the
// context deadline.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// TesseractCLI shells out to the tesseract binary, piping the image through
// stdin and reading text from stdout.
type TesseractCLI struct {
	Binary   string
	Language string
}

func (t TesseractCLI) Recognize(ctx context.Context, image []byte) (string, error) {
	bin := t.Binary
	if bin == "" {
		bin = "tesseract"
	}
	lang := t.Language
	if lang == "" {
		lang = "eng"
	}

	cmd := exec.CommandContext(ctx, bin, "stdin", "stdout", "-l", lang)
	cmd.Stdin = bytes.NewReader(image)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%s: %w: %s", bin, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
