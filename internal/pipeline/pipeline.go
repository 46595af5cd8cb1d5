package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/watchpatch/internal/mutation"
	"github.com/roach88/watchpatch/internal/reconcile"
	"github.com/roach88/watchpatch/internal/store"
)

// Applier reconciles one mutation result. Implemented by
// *reconcile.Reconciler.
type Applier interface {
	Apply(ctx context.Context, m mutation.Result) (reconcile.Report, error)
}

// Recorder persists applied mutations. Implemented by *store.Store and
// *store.Journal.
type Recorder interface {
	AppendMutation(ctx context.Context, rec store.MutationRecord) error
}

// Applied is the outcome of one processed mutation.
type Applied struct {
	Seq    int64 // 0 when the result was rejected before stamping
	Batch  string
	Result mutation.Result
	Report reconcile.Report
	Err    error
}

// Observer is called after every processed mutation, from the goroutine
// that processed it. Observers must not call back into the Pipeline.
type Observer func(Applied)

// Pipeline is the single-writer mutation loop.
//
// Thread-safety model:
//   - Enqueue, NewBatch, Close: safe from any goroutine
//   - Run: must be called from exactly one goroutine
//   - Apply, ApplyBatch, Replay: safe from any goroutine; serialized
//     with the Run loop and with each other
type Pipeline struct {
	applier   Applier
	clock     Sequencer
	tokens    TokenGenerator
	recorder  Recorder
	observers []Observer
	queue     *queue

	mu sync.Mutex // held while a mutation is processed
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock sets the logical clock. Default: NewClock().
func WithClock(c Sequencer) Option {
	return func(p *Pipeline) {
		p.clock = c
	}
}

// WithTokenGenerator sets the batch token source. Default: UUIDv7Generator.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(p *Pipeline) {
		p.tokens = g
	}
}

// WithRecorder appends every applied mutation to a log before it is
// reconciled.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) {
		p.recorder = r
	}
}

// WithObserver registers a callback for processed mutations.
func WithObserver(fn Observer) Option {
	return func(p *Pipeline) {
		p.observers = append(p.observers, fn)
	}
}

// New creates a Pipeline feeding applier.
func New(applier Applier, opts ...Option) *Pipeline {
	p := &Pipeline{
		applier: applier,
		clock:   NewClock(),
		tokens:  UUIDv7Generator{},
		queue:   newQueue(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewBatch returns a fresh batch token for a group of related results.
func (p *Pipeline) NewBatch() string {
	return p.tokens.Generate()
}

// Clock returns the pipeline's logical clock.
func (p *Pipeline) Clock() Sequencer {
	return p.clock
}

// QueueLen returns the number of mutations waiting for Run.
func (p *Pipeline) QueueLen() int {
	return p.queue.Len()
}

// Enqueue submits results for the Run loop, in order, under one batch
// token. Returns false if the pipeline has been closed.
func (p *Pipeline) Enqueue(batch string, results ...mutation.Result) bool {
	items := make([]item, len(results))
	for i, r := range results {
		items[i] = item{batch: batch, result: r}
	}
	return p.queue.Enqueue(items...)
}

// Run processes queued mutations until ctx is cancelled or Close is called
// and the queue has drained.
//
// Failures are logged with the mutation's seq and batch and processing
// continues with the next mutation.
func (p *Pipeline) Run(ctx context.Context) error {
	slog.Info("pipeline starting")

	for {
		it, ok := p.queue.TryDequeue()
		if ok {
			if a := p.applyNew(ctx, it.batch, it.result); a.Err != nil {
				logApplyError(a)
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("pipeline stopping: context cancelled")
			p.queue.Close()
			return ctx.Err()

		case <-p.queue.Wait():
			// A closed signal channel fires on every receive, so check
			// the closed flag rather than trusting the wakeup.
			if p.queue.Closed() && p.queue.Len() == 0 {
				slog.Info("pipeline stopping: queue closed")
				return nil
			}
		}
	}
}

// Close stops accepting mutations. Run returns once the queue drains.
func (p *Pipeline) Close() {
	p.queue.Close()
}

// Apply processes one mutation synchronously under a new batch token.
func (p *Pipeline) Apply(ctx context.Context, m mutation.Result) (Applied, error) {
	a := p.applyNew(ctx, p.NewBatch(), m)
	return a, a.Err
}

// ApplyBatch processes results synchronously, in order, under one batch
// token. Every result is attempted; errors are joined.
func (p *Pipeline) ApplyBatch(ctx context.Context, batch string, results ...mutation.Result) ([]Applied, error) {
	out := make([]Applied, 0, len(results))
	var errs []error
	for _, r := range results {
		a := p.applyNew(ctx, batch, r)
		if a.Err != nil {
			errs = append(errs, fmt.Errorf("mutation %d (%s): %w", len(out), r, a.Err))
		}
		out = append(out, a)
	}
	return out, errors.Join(errs...)
}

// Replay reapplies logged records with their original seq and batch.
// Records are not logged again. The clock is advanced past the last
// replayed seq when it supports it.
func (p *Pipeline) Replay(ctx context.Context, records []store.MutationRecord) ([]Applied, error) {
	out := make([]Applied, 0, len(records))
	var errs []error
	var last int64
	for _, rec := range records {
		if rec.Seq <= last {
			return out, fmt.Errorf("replay: seq %d after %d: records must be in increasing seq order", rec.Seq, last)
		}
		last = rec.Seq

		p.mu.Lock()
		a := p.processLocked(ctx, rec.Seq, rec.Batch, rec.Result, false)
		p.mu.Unlock()
		if a.Err != nil {
			errs = append(errs, fmt.Errorf("replay seq %d: %w", rec.Seq, a.Err))
		}
		out = append(out, a)
	}

	if adv, ok := p.clock.(interface{ AdvanceTo(int64) }); ok {
		adv.AdvanceTo(last)
	}
	return out, errors.Join(errs...)
}

// applyNew validates, stamps and processes a fresh mutation.
func (p *Pipeline) applyNew(ctx context.Context, batch string, m mutation.Result) Applied {
	if err := m.Validate(); err != nil {
		a := Applied{Batch: batch, Result: m, Err: err}
		p.notify(a)
		return a
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Stamped under the lock so seq order is processing order
	return p.processLocked(ctx, p.clock.Next(), batch, m, true)
}

// processLocked records and reconciles one stamped mutation.
// Callers hold p.mu.
func (p *Pipeline) processLocked(ctx context.Context, seq int64, batch string, m mutation.Result, record bool) Applied {
	a := Applied{Seq: seq, Batch: batch, Result: m}

	if record && p.recorder != nil {
		rec, err := store.NewMutationRecord(seq, batch, m)
		if err == nil {
			err = p.recorder.AppendMutation(ctx, rec)
		}
		if err != nil {
			a.Err = fmt.Errorf("record seq %d: %w", seq, err)
			p.notify(a)
			return a
		}
	}

	a.Report, a.Err = p.applier.Apply(ctx, m)

	slog.Debug("mutation applied",
		"seq", seq,
		"batch", batch,
		"kind", m.Kind,
		"type", m.TypeName,
		"targets", a.Report.Targets,
		"changed", len(a.Report.Changed),
		"failed", a.Report.Failed,
	)

	p.notify(a)
	return a
}

func (p *Pipeline) notify(a Applied) {
	for _, fn := range p.observers {
		fn(a)
	}
}

// logApplyError logs a processing failure with enough context to find the
// mutation in the log and replay it by hand.
func logApplyError(a Applied) {
	slog.Error("mutation processing failed",
		"error", a.Err,
		"seq", a.Seq,
		"batch", a.Batch,
		"kind", a.Result.Kind,
		"type", a.Result.TypeName,
		"unknown_type", reconcile.IsUnknownType(a.Err),
	)
}
