package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/i5heu/cipher-tally/internal/config"
	"github.com/i5heu/cipher-tally/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceConfig(t *testing.T) {
	conf := config.Default()
	conf.Engine = "bolt"
	conf.Scale = 1000

	tc := serviceConfig(conf, nil)
	assert.Equal(t, "bolt", tc.Engine)
	assert.Equal(t, int64(1000), tc.Scale)
	assert.Equal(t, conf.MaxUploadBytes, tc.MaxUploadBytes)
	assert.NotNil(t, tc.Recognizer)

	conf.OCR.Enabled = false
	assert.Nil(t, serviceConfig(conf, nil).Recognizer)
}

func TestRunStopsOnCancel(t *testing.T) {
	conf := config.Default()
	conf.Listen = "127.0.0.1:0"
	conf.DataDir = t.TempDir()
	conf.KeyBits = testutil.ShortKeyBits

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, run(ctx, conf, logger))
}
