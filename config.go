package tally

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/i5heu/cipher-tally/internal/ingest"
	"github.com/sirupsen/logrus"
)

const (
	DefaultKeyBits = 2048
	DefaultScale   = 100
)

// Config configures a Tally instance.
type Config struct {
	// DataDir holds the key/value store. Ignored when InMemory is set.
	DataDir string
	// Engine selects the storage engine: "badger" (default) or "bolt".
	Engine string
	// InMemory keeps submissions in an in-memory badger; used by tests.
	InMemory bool
	// MinimumFreeGB is a free-space threshold checked when the store opens.
	MinimumFreeGB uint
	// KeyBits is the Paillier modulus size. Defaults to 2048.
	KeyBits int
	// Scale is the fixed-point factor applied to document metrics.
	Scale int64
	// Workers bounds the aggregation worker pool; 0 means one per CPU.
	Workers int
	// Random is the entropy source for key generation and local encryption.
	// Nil means crypto/rand.
	Random io.Reader
	// Logger is an optional structured logger. If nil, a stderr logger is used.
	Logger *slog.Logger
	// StoreLogger receives storage layer logs. If nil, a warn-level logrus
	// logger is used.
	StoreLogger *logrus.Logger
	// Recognizer extracts text from images. Nil disables image ingestion.
	Recognizer       ingest.Recognizer
	RecognizeTimeout time.Duration
	MaxUploadBytes   int64
}

func defaultLogger() *slog.Logger { // A
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(h)
}

func defaultStoreLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return l
}
