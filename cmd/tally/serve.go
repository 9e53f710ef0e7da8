package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tally "github.com/i5heu/cipher-tally"
	"github.com/i5heu/cipher-tally/apiServer"
	"github.com/i5heu/cipher-tally/internal/config"
	"github.com/i5heu/cipher-tally/internal/ingest"
	"github.com/urfave/cli"
)

func serveAction(c *cli.Context) error { // A
	conf, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(c, conf)
	if err != nil {
		return err
	}

	logger.Info("starting tally server",
		logKeyListenAddr, conf.Listen,
		logKeyDataPath, conf.DataDir,
		logKeyEngine, conf.Engine,
		logKeyKeyBits, conf.KeyBits)
	if conf.AdminToken == "" {
		logger.Warn("no admin token configured; decrypt, clear and audit are disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", logKeySignal, sig.String())
		cancel()
	}()

	if err := run(ctx, conf, logger); err != nil {
		logger.Error("server error", logKeyError, err)
		return cli.NewExitError(err, 1)
	}
	return nil
}

func serviceConfig(conf config.Config, logger *slog.Logger) tally.Config {
	tc := tally.Config{
		DataDir:          conf.DataDir,
		Engine:           conf.Engine,
		MinimumFreeGB:    conf.MinimumFreeGB,
		KeyBits:          conf.KeyBits,
		Scale:            conf.Scale,
		Workers:          conf.Workers,
		Logger:           logger,
		RecognizeTimeout: conf.RecognizeTimeout,
		MaxUploadBytes:   conf.MaxUploadBytes,
	}
	if conf.OCR.Enabled {
		tc.Recognizer = ingest.NewRecognizer(conf.OCR.Binary, conf.OCR.Language)
	}
	return tc
}

// run serves HTTP right away and makes the service ready in the background,
// so /healthz reports 503 while the key pair is being generated.
func run(ctx context.Context, conf config.Config, logger *slog.Logger) error { // A
	t, err := tally.New(serviceConfig(conf, logger))
	if err != nil {
		return fmt.Errorf("create tally: %w", err)
	}

	srv := &http.Server{
		Addr: conf.Listen,
		Handler: apiServer.New(t,
			apiServer.WithLogger(logger),
			apiServer.WithAuth(apiServer.BearerToken(conf.AdminToken)),
			apiServer.WithMaxUploadBytes(conf.MaxUploadBytes),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	startDone := make(chan struct{})
	go func() {
		defer close(startDone)
		if err := t.Start(ctx); err != nil {
			errCh <- fmt.Errorf("start tally: %w", err)
			return
		}
		logger.Info("tally ready", logKeyListenAddr, conf.Listen)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", logKeyError, err)
	}
	stop()
	<-startDone
	if err := t.Close(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	return runErr
}
