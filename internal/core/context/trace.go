package context

import (
	"context"

	"github.com/google/uuid"
)

// TraceContext contains request tracing information.
type TraceContext struct {
	TraceID   string
	SpanID    string
	RequestID string
}

type traceContextKey struct{}

// WithTrace adds TraceContext to context.
func WithTrace(ctx context.Context, trace *TraceContext) context.Context {
	return context.WithValue(ctx, traceContextKey{}, trace)
}

// GetTrace returns TraceContext from context.
func GetTrace(ctx context.Context) *TraceContext {
	if v, ok := ctx.Value(traceContextKey{}).(*TraceContext); ok {
		return v
	}
	return nil
}

// CycleContext identifies one scheduler cycle and the range it works on.
type CycleContext struct {
	CycleID  string
	RangeKey string
}

type cycleContextKey struct{}

// WithCycle adds CycleContext to context.
func WithCycle(ctx context.Context, cycle *CycleContext) context.Context {
	return context.WithValue(ctx, cycleContextKey{}, cycle)
}

// GetCycle returns CycleContext from context.
func GetCycle(ctx context.Context) *CycleContext {
	if v, ok := ctx.Value(cycleContextKey{}).(*CycleContext); ok {
		return v
	}
	return nil
}

// NewCycleContext starts a cycle with a fresh ID and no range yet.
func NewCycleContext() *CycleContext {
	return &CycleContext{CycleID: uuid.New().String()[:8]}
}
