package locus

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/inodb/isodecon/internal/alignment"
	"github.com/inodb/isodecon/internal/annotation"
)

// ResultWriter receives each locus's result exactly once. Writes come from
// a single goroutine.
type ResultWriter interface {
	WriteLocus(r *Result) error
}

// Pool runs loci on a fixed number of workers.
type Pool struct {
	solver  *Solver
	alns    alignment.Source
	workers int
	ordered bool
	logger  *zap.Logger
}

// NewPool creates a pool. If workers is less than 1, one worker is used.
func NewPool(solver *Solver, alns alignment.Source, workers int) *Pool {
	return &Pool{
		solver:  solver,
		alns:    alns,
		workers: max(workers, 1),
		logger:  zap.NewNop(),
	}
}

// SetLogger sets the logger.
func (p *Pool) SetLogger(l *zap.Logger) {
	p.logger = l
}

// SetOrdered makes Run write results in input order instead of completion
// order.
func (p *Pool) SetOrdered(ordered bool) {
	p.ordered = ordered
}

// alignmentsFor returns the alignments overlapping a 1-based locus.
func alignmentsFor(src alignment.Source, loc *annotation.Locus) ([]*alignment.Alignment, error) {
	alns, err := src.Overlapping(loc.Chrom, loc.Start-1, loc.End)
	if err != nil {
		return nil, fmt.Errorf("alignments of locus %s: %w", loc.ID, err)
	}
	return alns, nil
}

// Run solves loci and writes every result to w. Cancelling ctx stops
// dispatch; loci already dispatched are finished and written before Run
// returns ctx's error. A write error stops dispatch the same way and is
// returned after the drain.
func (p *Pool) Run(ctx context.Context, loci []*annotation.Locus, w ResultWriter) (Stats, error) {
	var stats Stats
	emit := func(r *Result) error {
		stats.Merge(r.Stats)
		return w.WriteLocus(r)
	}
	if p.ordered {
		emit = orderedEmit(emit)
	}

	solve := func(ctx context.Context, seq int, loc *annotation.Locus) *Result {
		r := p.solveSafe(ctx, loc)
		r.Seq = seq
		return r
	}
	err := dispatch(ctx, p.workers, loci, solve, emit, p.logger)
	return stats, err
}

// solveSafe isolates a locus whose alignments cannot be read, or whose
// solve panics, so it fails alone.
func (p *Pool) solveSafe(ctx context.Context, loc *annotation.Locus) (res *Result) {
	defer func() {
		if v := recover(); v != nil {
			p.logger.Error("locus panicked", zap.String("locus", loc.ID), zap.Any("panic", v),
				zap.ByteString("stack", debug.Stack()))
			res = failedResult(loc, fmt.Errorf("locus %s panicked: %v", loc.ID, v))
		}
	}()
	alns, err := alignmentsFor(p.alns, loc)
	if err != nil {
		p.logger.Warn("locus failed", zap.String("locus", loc.ID), zap.Error(err))
		return failedResult(loc, err)
	}
	return p.solver.Solve(ctx, loc, alns)
}

// failedResult reports loc as failed before it reached the solver.
func failedResult(loc *annotation.Locus, err error) *Result {
	r := &Result{
		Locus:  loc.ID,
		Chrom:  loc.Chrom,
		Start:  loc.Start,
		End:    loc.End,
		Strand: loc.Strand,
		State:  Failed,
		Stats:  Stats{Loci: 1, Failed: 1},
		Err:    err,
	}
	for _, tr := range loc.Transcripts {
		r.Transcripts = append(r.Transcripts, Transcript{
			ID:           tr.ID,
			GeneID:       tr.GeneID,
			ExonicLength: tr.ExonicLength(),
		})
	}
	return r
}

// dispatch feeds loci to workers over a channel holding at most workers
// items, so the producer blocks while the pool is saturated. Results are
// handed to emit from the calling goroutine only. Work already dispatched
// runs under a context that is never cancelled.
func dispatch[T any](ctx context.Context, workers int, loci []*annotation.Locus,
	work func(context.Context, int, *annotation.Locus) T, emit func(T) error, logger *zap.Logger) error {

	type job struct {
		seq   int
		locus *annotation.Locus
	}
	jobs := make(chan job, workers)
	results := make(chan T, workers)
	stop := make(chan struct{})
	inflight := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.Go(func() error {
		defer close(jobs)
		for i, loc := range loci {
			select {
			case <-ctx.Done():
				logger.Info("dispatch cancelled, draining workers",
					zap.Int("dispatched", i), zap.Int("loci", len(loci)))
				return nil
			case <-stop:
				return nil
			case jobs <- job{seq: i, locus: loc}:
			}
		}
		return nil
	})

	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		g.Go(func() error {
			defer wg.Done()
			for j := range jobs {
				results <- work(inflight, j.seq, j.locus)
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var err error
	for r := range results {
		if err != nil {
			continue
		}
		if err = emit(r); err != nil {
			// Keep draining so workers can exit.
			close(stop)
		}
	}
	if gerr := g.Wait(); gerr != nil && err == nil {
		err = gerr
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

// orderedEmit wraps emit so results reach it in Seq order. Out-of-order
// results wait in a pending map until their predecessors arrive.
func orderedEmit(emit func(*Result) error) func(*Result) error {
	pending := make(map[int]*Result)
	nextSeq := 0
	return func(r *Result) error {
		pending[r.Seq] = r
		for {
			rr, ok := pending[nextSeq]
			if !ok {
				return nil
			}
			delete(pending, nextSeq)
			nextSeq++
			if err := emit(rr); err != nil {
				return err
			}
		}
	}
}
