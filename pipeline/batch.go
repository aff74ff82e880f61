package pipeline

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultOutputDir is the directory, beside the inputs, that batch runs
// write signed copies to.
const DefaultOutputDir = "imzalananlar"

// DefaultWorkers bounds concurrent documents in a batch.
const DefaultWorkers = 2

// OutputPathFor returns where the signed copy of input goes: a dirName
// directory next to it, under the same file name.
func OutputPathFor(input, dirName string) string {
	if dirName == "" {
		dirName = DefaultOutputDir
	}
	return filepath.Join(filepath.Dir(input), dirName, filepath.Base(input))
}

// BatchItem is the outcome for one request of a batch.
type BatchItem struct {
	Request Request
	Result  *Result
	Err     error
}

// Batch signs reqs with at most workers documents in flight. A failing
// document does not stop the others; its error is in its item. Items are
// returned in request order. The error is non-nil only when ctx ends
// before every document ran.
func (p *Pipeline) Batch(ctx context.Context, reqs []Request, workers int) ([]BatchItem, error) {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	items := make([]BatchItem, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, req := range reqs {
		items[i].Request = req
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := p.Sign(gctx, req)
			items[i].Result, items[i].Err = res, err
			if err != nil {
				p.log.Error("document failed", zap.String("path", req.InputPath), zap.Error(err))
			}
			return nil
		})
	}
	g.Wait()
	if err := ctx.Err(); err != nil {
		for i := range items {
			if items[i].Result == nil && items[i].Err == nil {
				items[i].Err = err
			}
		}
		return items, err
	}
	return items, nil
}

// Failed counts the items that ended in an error.
func Failed(items []BatchItem) int {
	n := 0
	for _, it := range items {
		if it.Err != nil {
			n++
		}
	}
	return n
}
