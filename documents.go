package tally

import (
	"context"
	"errors"
	"math/big"

	"github.com/i5heu/cipher-tally/internal/ingest"
	"github.com/i5heu/cipher-tally/internal/metric"
	"github.com/i5heu/cipher-tally/internal/store"
)

// Report is the outcome of turning one document into a scaled metric.
type Report struct {
	ingest.Result
	Summary   metric.Summary
	Metric    float64
	MetricInt *big.Int
	Scale     int64
}

// Ingest parses a document and reduces it to a metric. It touches neither
// keys nor store and therefore works before Start.
func (t *Tally) Ingest(ctx context.Context, filename string, data []byte) (Report, error) { // A
	res, err := t.ingester.Ingest(ctx, filename, data)
	if err != nil {
		return Report{Result: res}, err
	}
	return t.report(res)
}

// IngestBatch ingests several documents concurrently. reports and errs follow
// the order of files; the final error is set only if the batch was aborted.
func (t *Tally) IngestBatch(ctx context.Context, files []ingest.File) ([]Report, []error, error) { // A
	outcomes, err := t.ingester.IngestAll(ctx, files)
	if err != nil {
		return nil, nil, err
	}

	reports := make([]Report, len(outcomes))
	errs := make([]error, len(outcomes))
	for i, o := range outcomes {
		if o.Err != nil {
			reports[i], errs[i] = Report{Result: o.Result}, o.Err
			continue
		}
		reports[i], errs[i] = t.report(o.Result)
	}
	return reports, errs, nil
}

// Recognize runs image recognition and the free-text parser. When no rows
// are found the result still carries the recognized text alongside an
// ingest.ErrNoRowsDetected error.
func (t *Tally) Recognize(ctx context.Context, filename string, image []byte) (ingest.Result, error) { // A
	return t.ingester.Recognize(ctx, filename, image)
}

func (t *Tally) report(res ingest.Result) (Report, error) {
	summary, err := metric.Summarize(res.Records)
	if err != nil {
		return Report{Result: res}, err
	}
	scaled, err := metric.Scale(summary.Total, t.config.Scale)
	if err != nil {
		return Report{Result: res}, err
	}
	return Report{
		Result:    res,
		Summary:   summary,
		Metric:    summary.Total,
		MetricInt: scaled,
		Scale:     t.config.Scale,
	}, nil
}

var ErrNegativeMetric = errors.New("tally: metric is negative and cannot be encrypted")

// SubmitDocument ingests a document, encrypts its scaled metric under the
// active key and stores the ciphertext. This is the single-process form of
// the client-side flow.
func (t *Tally) SubmitDocument(ctx context.Context, filename string, data []byte, ledgerRef string) (store.Submission, Report, error) { // PA
	rep, err := t.Ingest(ctx, filename, data)
	if err != nil {
		return store.Submission{}, rep, err
	}
	if rep.MetricInt.Sign() < 0 {
		return store.Submission{}, rep, ErrNegativeMetric
	}

	pk, err := t.PublicKey(ctx)
	if err != nil {
		return store.Submission{}, rep, err
	}
	c, err := pk.Encrypt(t.config.Random, rep.MetricInt)
	if err != nil {
		return store.Submission{}, rep, err
	}

	sub, err := t.Submit(ctx, c, pk.ID(), store.Meta{
		Filename:  filename,
		Scale:     rep.Scale,
		MetricInt: rep.MetricInt.String(),
		LedgerRef: ledgerRef,
	})
	return sub, rep, err
}
