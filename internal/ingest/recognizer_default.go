//go:build !gosseract

package ingest

// NewRecognizer returns the tesseract command line recognizer. Build with
// -tags gosseract to link libtesseract instead.
func NewRecognizer(binary, language string) Recognizer {
	return TesseractCLI{Binary: binary, Language: language}
}
