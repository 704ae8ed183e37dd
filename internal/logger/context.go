package logger

import (
	"context"
)

type contextKey struct{}

var logContextKey = contextKey{}

// LogContext carries the fields that identify the unit of work a log line
// belongs to. Worker is -1 when the line is not emitted by a pool worker.
type LogContext struct {
	TraceID       string
	SpanID        string
	Component     string // upload, fetch, send, intake, orchestrator, ...
	AssociationID string
	JobID         string
	Worker        int
}

// NewLogContext returns a LogContext for the named component.
func NewLogContext(component string) *LogContext {
	return &LogContext{Component: component, Worker: -1}
}

// WithContext stores lc in ctx.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext returns the LogContext stored in ctx, or nil.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// Clone returns a copy of lc.
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	return &c
}

// WithWorker returns a copy bound to worker index i.
func (lc *LogContext) WithWorker(i int) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.Worker = i
	}
	return c
}

// WithAssociation returns a copy bound to an inbound association.
func (lc *LogContext) WithAssociation(id string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.AssociationID = id
	}
	return c
}

// WithJob returns a copy bound to an outbound job.
func (lc *LogContext) WithJob(id string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.JobID = id
	}
	return c
}

// WithTrace returns a copy carrying trace identifiers.
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.TraceID = traceID
		c.SpanID = spanID
	}
	return c
}
