// Package dispatch routes decoded entity events to their handlers and
// finalizes block mutations into durable storage. Each event runs inside an
// isolated error boundary: a failure skips that event only.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	enginerrors "melodex/core/errors"
	"melodex/core/events"
	"melodex/core/pool"
	"melodex/core/records"
	"melodex/core/types"
	"melodex/observability"
	"melodex/registry"
)

// Store is the durable side of the engine: batch prefetch of current rows,
// referential index lookups, and the transactional block commit.
type Store interface {
	Lookup

	// FetchCurrent returns the current row for every probe whose natural
	// key exists, in one batch per kind.
	FetchCurrent(ctx context.Context, probes []records.Record) ([]records.Record, error)

	// AppsByOwner returns the current non-deleted developer apps for the
	// given owners, used to seed quota checks.
	AppsByOwner(ctx context.Context, ownerIDs []uint64) ([]*records.DeveloperApp, error)

	// CommitBlock persists a pool snapshot: the prior current row of each
	// key is demoted, superseded pending versions become history, and the
	// final version of each chain becomes the new current row.
	CommitBlock(ctx context.Context, ref types.BlockRef, entries []pool.PendingEntry) error
}

// BlockResult is the aggregate outcome of applying one block.
type BlockResult struct {
	BlockNumber uint64
	Mutations   int
	ChangedKeys map[types.EntityKind][]string
	SideEffects int
}

// Config wires a Dispatcher.
type Config struct {
	Store    Store
	Registry *Registry
	Sink     events.Sink
	Nodes    *registry.Cache
	Logger   *slog.Logger
	Metrics  *observability.EngineMetrics
}

// Dispatcher applies blocks of entity events. Processing is single-threaded
// and strictly sequential; later events observe pending versions written by
// earlier events in the same block.
type Dispatcher struct {
	store    Store
	registry *Registry
	sink     events.Sink
	nodes    *registry.Cache
	logger   *slog.Logger
	metrics  *observability.EngineMetrics
	tracer   trace.Tracer
	nowFn    func() time.Time
}

// New builds a dispatcher from explicit dependencies.
func New(cfg Config) *Dispatcher {
	sink := cfg.Sink
	if sink == nil {
		sink = events.NoopSink{}
	}
	return &Dispatcher{
		store:    cfg.Store,
		registry: cfg.Registry,
		sink:     sink,
		nodes:    cfg.Nodes,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		tracer:   otel.Tracer("melodex/core/dispatch"),
		nowFn:    time.Now,
	}
}

// SetNowFunc overrides the processing clock for deterministic tests.
func (d *Dispatcher) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	d.nowFn = now
}

// ApplyBlock processes every event of a block in submission order and
// commits the resulting versions. Event-level failures are contained; an
// error return means the commit itself failed and the block must be retried.
func (d *Dispatcher) ApplyBlock(ctx context.Context, blk *types.Block) (*BlockResult, error) {
	ctx, span := d.tracer.Start(ctx, "engine.apply_block",
		trace.WithAttributes(
			attribute.Int64("block.number", int64(blk.Number)),
			attribute.Int("block.txs", len(blk.Txs)),
		))
	defer span.End()

	processedAt := d.nowFn()
	p := pool.New()
	buf := events.NewBuffer()

	if err := d.prefetch(ctx, blk, p); err != nil {
		return nil, fmt.Errorf("prefetch block %d: %w", blk.Number, err)
	}

	ref := blk.Ref()
	for _, tx := range blk.Txs {
		for i := range tx.Events {
			d.processEvent(ctx, blk, ref, tx.Hash, i, tx.Events[i], p, buf, processedAt)
		}
	}

	commitStart := d.nowFn()
	_, commitSpan := d.tracer.Start(ctx, "engine.commit",
		trace.WithAttributes(attribute.Int("pool.mutations", p.MutationCount())))
	err := d.store.CommitBlock(ctx, ref, p.Snapshot())
	commitSpan.End()
	if err != nil {
		return nil, fmt.Errorf("commit block %d: %w", blk.Number, err)
	}
	d.metrics.BlocksTotal.Inc()
	d.metrics.CommitSeconds.Observe(d.nowFn().Sub(commitStart).Seconds())

	// Side effects flush only after mutations are durable, so downstream
	// reward logic never observes a change that did not settle.
	flushed := buf.FlushTo(d.sink)
	d.metrics.SideEffects.Add(float64(flushed))

	res := &BlockResult{
		BlockNumber: blk.Number,
		Mutations:   p.MutationCount(),
		ChangedKeys: p.ChangedKeys(),
		SideEffects: flushed,
	}
	d.logger.Info("block applied",
		slog.Uint64("block", blk.Number),
		slog.Int("mutations", res.Mutations),
		slog.Int("side_effects", flushed))
	return res, nil
}

// processEvent runs one event inside the isolation boundary. Panics and
// errors are logged with full context and never propagate past the event.
func (d *Dispatcher) processEvent(ctx context.Context, blk *types.Block, ref types.BlockRef,
	txHash string, idx int, ev types.EntityEvent, p *pool.Pool, buf *events.Buffer, processedAt time.Time) {

	logger := d.logger.With(
		slog.Uint64("block", ref.Number),
		slog.String("tx", txHash),
		slog.Int("event", idx),
		slog.String("kind", ev.Kind.String()),
		slog.String("action", ev.Action.String()))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panic", slog.Any("panic", r))
			d.metrics.EventsSkipped.WithLabelValues(observability.SkipPanic).Inc()
		}
	}()

	handler, ok := d.registry.Handler(ev.Kind, ev.Action)
	if !ok {
		logger.Warn("no handler registered, event skipped")
		d.metrics.EventsSkipped.WithLabelValues(observability.SkipNoHandler).Inc()
		return
	}

	metadata, err := blk.ResolveMetadata(&ev)
	if err != nil {
		logger.Info("metadata resolution failed, event skipped", slog.Any("err", err))
		d.metrics.EventsSkipped.WithLabelValues(observability.SkipMetadata).Inc()
		return
	}

	// Handlers emit into a staging buffer; events are promoted to the block
	// buffer only once the produced record clears the pool gate, so a
	// rejected record never leaks its notification.
	staged := events.NewBuffer()
	ectx := &Context{
		Ctx:         ctx,
		Block:       ref,
		TxHash:      txHash,
		EventIndex:  idx,
		Event:       ev,
		Metadata:    metadata,
		Pool:        p,
		Bus:         staged,
		Nodes:       d.nodes,
		Lookup:      d.store,
		Logger:      logger,
		ProcessedAt: processedAt,
	}

	if err := handler.Validate(ectx); err != nil {
		d.skip(logger, err)
		return
	}
	rec, err := handler.Apply(ectx)
	if err != nil {
		d.skip(logger, err)
		return
	}
	if rec == nil {
		// Idempotent repeat of a toggle action.
		logger.Debug("event is a no-op")
		d.metrics.EventsSkipped.WithLabelValues(observability.SkipNoop).Inc()
		return
	}
	if err := p.Add(rec); err != nil {
		// A completeness failure here is a handler defect, not bad input.
		logger.Error("record failed completeness check", slog.Any("err", err))
		d.metrics.EventsSkipped.WithLabelValues(observability.SkipSchema).Inc()
		return
	}
	staged.MergeInto(buf)
	d.metrics.EventsApplied.WithLabelValues(ev.Kind.String(), ev.Action.String()).Inc()
}

func (d *Dispatcher) skip(logger *slog.Logger, err error) {
	switch {
	case enginerrors.IsSchema(err):
		logger.Error("schema failure", slog.Any("err", err))
		d.metrics.EventsSkipped.WithLabelValues(observability.SkipSchema).Inc()
	case enginerrors.IsEnvironment(err):
		logger.Warn("environment failure", slog.Any("err", err))
		d.metrics.EventsSkipped.WithLabelValues(observability.SkipEnvironment).Inc()
	default:
		logger.Info("event rejected", slog.Any("err", err))
		d.metrics.EventsSkipped.WithLabelValues(observability.SkipValidation).Inc()
	}
}
