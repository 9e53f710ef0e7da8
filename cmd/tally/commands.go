package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"

	tally "github.com/i5heu/cipher-tally"
	"github.com/i5heu/cipher-tally/internal/ingest"
	"github.com/i5heu/cipher-tally/pkg/client"
	"github.com/i5heu/cipher-tally/pkg/paillier"
	"github.com/urfave/cli"
)

type fileReport struct {
	File      string  `json:"file"`
	Format    string  `json:"format,omitempty"`
	Rows      int     `json:"rows"`
	Metric    float64 `json:"metric"`
	MetricInt string  `json:"metricInt,omitempty"`
	Scale     int64   `json:"scale"`
	Error     string  `json:"error,omitempty"`
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ingestAction parses files without a server or key; it only needs the
// parsers and the metric reducer.
func ingestAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.NewExitError(errors.New("at least one file is required"), 3)
	}
	conf, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(c, conf)
	if err != nil {
		return err
	}
	conf.OCR.Enabled = conf.OCR.Enabled && c.Bool("ocr")

	tc := serviceConfig(conf, logger)
	tc.InMemory = true
	t, err := tally.New(tc)
	if err != nil {
		return cli.NewExitError(err, 1)
	}

	files := make([]ingest.File, 0, c.NArg())
	for _, path := range c.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			return cli.NewExitError(err, 1)
		}
		files = append(files, ingest.File{Name: filepath.Base(path), Data: data})
	}

	reports, errs, err := t.IngestBatch(context.Background(), files)
	if err != nil {
		return cli.NewExitError(err, 1)
	}

	out := make([]fileReport, len(reports))
	failed := 0
	for i, rep := range reports {
		out[i] = fileReport{File: c.Args()[i], Format: string(rep.Format), Rows: len(rep.Records), Scale: conf.Scale}
		if errs[i] != nil {
			failed++
			out[i].Error = errs[i].Error()
			logger.Warn("ingestion failed", logKeyFile, c.Args()[i], logKeyError, errs[i])
			continue
		}
		out[i].Metric = rep.Metric
		out[i].MetricInt = rep.MetricInt.String()
		logger.Debug("ingested", logKeyFile, c.Args()[i], logKeyRecords, len(rep.Records))
	}
	if err := printJSON(out); err != nil {
		return err
	}
	if failed > 0 {
		return cli.NewExitError(fmt.Errorf("%d of %d files failed", failed, len(files)), 4)
	}
	return nil
}

// submitAction computes the metric locally, then encrypts it under the
// server's key. Only the ciphertext is sent.
func submitAction(c *cli.Context) error {
	conf, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(c, conf)
	if err != nil {
		return err
	}
	ctx := context.Background()

	meta := client.Meta{Scale: conf.Scale, LedgerRef: c.String("ledger-ref")}
	var value *big.Int

	switch {
	case c.String("value") != "":
		value, err = paillier.ParseDecimal(c.String("value"))
		if err != nil {
			return cli.NewExitError(err, 3)
		}
		meta.Filename = "manual"
	case c.NArg() == 1:
		path := c.Args().First()
		data, err := os.ReadFile(path)
		if err != nil {
			return cli.NewExitError(err, 1)
		}
		conf.OCR.Enabled = false
		tc := serviceConfig(conf, logger)
		tc.InMemory = true
		t, err := tally.New(tc)
		if err != nil {
			return cli.NewExitError(err, 1)
		}
		rep, err := t.Ingest(ctx, filepath.Base(path), data)
		if err != nil {
			return cli.NewExitError(err, 4)
		}
		if rep.MetricInt.Sign() < 0 {
			return cli.NewExitError(tally.ErrNegativeMetric, 4)
		}
		value = rep.MetricInt
		meta.Filename = filepath.Base(path)
	default:
		return cli.NewExitError(errors.New("pass exactly one file or --value"), 3)
	}

	res, err := newClient(c).EncryptAndSubmit(ctx, value, meta)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	return printJSON(res)
}

func aggregateAction(c *cli.Context) error {
	agg, err := newClient(c).Aggregate(context.Background(), c.Int("count"))
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	out := map[string]any{"count": agg.Count, "empty": agg.Empty()}
	if !agg.Empty() {
		out["aggregateCiphertext"] = paillier.EncodeCiphertext(agg.Ciphertext)
		out["aggregateId"] = agg.AggregateID
		out["scale"] = agg.Scale
		out["keyId"] = agg.KeyID
	}
	return printJSON(out)
}

func decryptAction(c *cli.Context) error {
	res, err := newClient(c).Decrypt(context.Background())
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	return printJSON(res)
}

func clearAction(c *cli.Context) error {
	if err := newClient(c).Clear(context.Background()); err != nil {
		return cli.NewExitError(err, 1)
	}
	fmt.Fprintln(os.Stderr, "cleared")
	return nil
}

func auditAction(c *cli.Context) error {
	events, err := newClient(c).Audit(context.Background())
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	return printJSON(events)
}

// openLocal starts a service on the data directory for export and import.
// The server must not be running, since the store is opened exclusively.
func openLocal(c *cli.Context) (*tally.Tally, error) {
	conf, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(c, conf)
	if err != nil {
		return nil, err
	}
	// The key is thrown away again; keep its generation cheap.
	conf.KeyBits = paillier.MinKeyBits
	conf.OCR.Enabled = false

	t, err := tally.New(serviceConfig(conf, logger))
	if err != nil {
		return nil, cli.NewExitError(err, 1)
	}
	if err := t.Start(context.Background()); err != nil {
		return nil, cli.NewExitError(err, 1)
	}
	return t, nil
}

func exportAction(c *cli.Context) error {
	t, err := openLocal(c)
	if err != nil {
		return err
	}
	defer t.Close(context.Background())

	var w io.Writer = os.Stdout
	if path := c.String("output"); path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return cli.NewExitError(err, 1)
		}
		defer f.Close()
		w = f
	}

	status, err := t.Backup(context.Background(), w)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	fmt.Fprintf(os.Stderr, "exported %d submissions (%d bytes)\n", status.LastBackupRecords, status.LastBackupSize)
	return nil
}

func importAction(c *cli.Context) error {
	t, err := openLocal(c)
	if err != nil {
		return err
	}
	defer t.Close(context.Background())

	var r io.Reader = os.Stdin
	if path := c.String("input"); path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return cli.NewExitError(err, 1)
		}
		defer f.Close()
		r = f
	}

	status, err := t.Restore(context.Background(), r)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	fmt.Fprintf(os.Stderr, "imported %d submissions\n", status.LastRestoreRecords)
	return nil
}
