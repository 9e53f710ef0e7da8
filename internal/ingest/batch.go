package ingest

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

type File struct {
	Name string
	Data []byte
}

type Outcome struct {
	Result Result
	Err    error
}

// IngestAll ingests files concurrently. Outcomes keep the order of files;
// a per-file failure is reported in its Outcome and does not stop the rest.
func (in *Ingester) IngestAll(ctx context.Context, files []File) ([]Outcome, error) {
	outcomes := make([]Outcome, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := in.Ingest(ctx, f.Name, f.Data)
			outcomes[i] = Outcome{Result: res, Err: err}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}
