package errtrack

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/richxcame/konversi/pkg/logger"
	"go.uber.org/zap"
)

const flushTimeout = 2 * time.Second

// Config configures the Sentry client.
type Config struct {
	DSN              string
	Environment      string
	Release          string
	TracesSampleRate float64
}

// Init configures the global Sentry hub. An empty DSN leaves error tracking
// off and returns a no-op flush.
func Init(cfg Config, log *zap.Logger) (func(), error) {
	if cfg.DSN == "" {
		log.Info("error tracking disabled")
		return func() {}, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		EnableTracing:    cfg.TracesSampleRate > 0,
		TracesSampleRate: cfg.TracesSampleRate,
		AttachStacktrace: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sentry: %w", err)
	}

	log.Info("error tracking enabled", zap.String("environment", cfg.Environment))
	return func() { sentry.Flush(flushTimeout) }, nil
}

// Middleware attaches a Sentry hub to every request and reports panics
// before re-panicking into the outer recovery handler.
func Middleware() gin.HandlerFunc {
	return sentrygin.New(sentrygin.Options{
		Repanic: true,
		Timeout: flushTimeout,
	})
}

// Reporter sends errors to Sentry.
type Reporter struct {
	hub *sentry.Hub
}

// NewReporter creates a Reporter that falls back to hub when the context
// carries none. A nil hub uses the global one.
func NewReporter(hub *sentry.Hub) *Reporter {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &Reporter{hub: hub}
}

// CaptureError reports err tagged with tags and the request correlation ID.
func (r *Reporter) CaptureError(ctx context.Context, err error, tags map[string]string) {
	if err == nil {
		return
	}

	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = r.hub.Clone()
	}

	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		if id := logger.CorrelationID(ctx); id != "" {
			scope.SetTag("correlation_id", id)
		}
		hub.CaptureException(err)
	})
}
