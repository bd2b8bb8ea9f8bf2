package resolver

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ipshipyard/dnsbl-cache/store"
)

// DefaultWorkers bounds the number of lookups in flight per batch.
const DefaultWorkers = 16

// Outcome is the result of resolving one entry of a batch. Exactly one of
// Record and Err is meaningful.
type Outcome struct {
	Address string
	Record  store.Record
	Err     error
}

// Batch resolves lists of addresses on a bounded pool of workers.
type Batch struct {
	resolver *Resolver
	workers  int
}

// NewBatch returns a Batch running at most workers resolutions at a time.
func NewBatch(r *Resolver, workers int) *Batch {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Batch{resolver: r, workers: workers}
}

// Process resolves every entry of addrs, repeated entries included, and
// returns one Outcome per entry in input order. A failing entry does not stop
// the others. If ctx ends, entries not yet started fail with ctx's error while
// entries in flight run to completion or fail on their own.
func (b *Batch) Process(ctx context.Context, addrs []string) []Outcome {
	outcomes := make([]Outcome, len(addrs))

	var g errgroup.Group
	g.SetLimit(b.workers)

	for i, addr := range addrs {
		outcomes[i].Address = addr

		if err := ctx.Err(); err != nil {
			outcomes[i].Err = err
			continue
		}

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i].Err = err
				return nil
			}
			inflight.Inc()
			defer inflight.Dec()

			rec, err := b.resolver.Resolve(ctx, addr)
			if err != nil {
				log.Debugf("resolving %q: %v", addr, err)
				outcomes[i].Err = err
				return nil
			}
			outcomes[i].Record = rec
			return nil
		})
	}
	_ = g.Wait()

	var failed int
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	batchSize.Observe(float64(len(addrs)))
	if failed > 0 {
		log.Infof("batch of %d addresses: %d failed", len(addrs), failed)
	}
	return outcomes
}

// Enqueue processes addrs and echoes them back with their outcomes.
func (b *Batch) Enqueue(ctx context.Context, addrs []string) ([]string, []Outcome) {
	return addrs, b.Process(ctx, addrs)
}
