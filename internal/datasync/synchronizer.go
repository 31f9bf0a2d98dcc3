package datasync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/richxcame/konversi/internal/datasync"

// Synchronizer runs the fetch-if-stale protocol shared by every repository.
type Synchronizer struct {
	logger   *zap.Logger
	now      func() time.Time
	tracer   trace.Tracer
	reporter ErrorReporter
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithClock overrides the time source used for the fetch timestamp.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) {
		s.now = now
	}
}

// WithErrorReporter forwards swallowed errors to r.
func WithErrorReporter(r ErrorReporter) Option {
	return func(s *Synchronizer) {
		s.reporter = r
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(s *Synchronizer) {
		s.tracer = t
	}
}

// NewSynchronizer creates a new Synchronizer
func NewSynchronizer(logger *zap.Logger, opts ...Option) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Synchronizer{
		logger: logger,
		now:    time.Now,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync asks target to synchronize itself through s.
func (s *Synchronizer) Sync(ctx context.Context, target Syncable) (bool, error) {
	return target.SyncWith(ctx, s)
}

// SyncData reads the last fetch time and, if it is not fresh, records the
// current time and then runs update. Failures are logged and reported as
// false. Cancellation of ctx is the only error returned to the caller.
func (s *Synchronizer) SyncData(
	ctx context.Context,
	kind string,
	read LastFetchReader,
	write LastFetchUpdater,
	isFresh FreshnessCheck,
	update UpdateFunc,
) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "datasync.SyncData", trace.WithAttributes(attribute.String("sync.kind", kind)))
	defer span.End()

	start := time.Now()
	log := s.logger.With(zap.String("kind", kind))

	updated, err := s.run(ctx, read, write, isFresh, update)
	elapsed := time.Since(start).Seconds()

	switch {
	case err == nil && updated:
		span.SetAttributes(attribute.Bool("sync.updated", true))
		recordSync(kind, outcomeUpdated, elapsed)
		log.Info("sync completed", zap.Float64("seconds", elapsed))
		return true, nil
	case err == nil:
		span.SetAttributes(attribute.Bool("sync.updated", false))
		recordSync(kind, outcomeFresh, elapsed)
		log.Debug("data still fresh, skipping fetch")
		return true, nil
	case isCancellation(ctx, err):
		span.SetStatus(codes.Error, "cancelled")
		recordSync(kind, outcomeCancelled, elapsed)
		log.Debug("sync cancelled", zap.Error(err))
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			return false, fmt.Errorf("%w: %v", ctxErr, err)
		}
		return false, err
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordSync(kind, outcomeFailed, elapsed)
		log.Warn("sync failed", zap.Error(err))
		if s.reporter != nil {
			s.reporter.CaptureError(ctx, err, map[string]string{"sync.kind": kind})
		}
		return false, nil
	}
}

func (s *Synchronizer) run(
	ctx context.Context,
	read LastFetchReader,
	write LastFetchUpdater,
	isFresh FreshnessCheck,
	update UpdateFunc,
) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	lastFetch, err := read(ctx)
	if err != nil {
		return false, fmt.Errorf("read last fetch time: %w", err)
	}

	if isFresh(lastFetch) {
		return false, nil
	}

	if err := write(ctx, s.now()); err != nil {
		return false, fmt.Errorf("update last fetch time: %w", err)
	}

	if err := update(ctx); err != nil {
		return false, fmt.Errorf("update data: %w", err)
	}

	return true, nil
}

func isCancellation(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}
