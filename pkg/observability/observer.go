package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/toolwire/mcp-go/pkg/connection"
	mcperrors "github.com/toolwire/mcp-go/pkg/errors"
)

// ConnectionObserver feeds connection telemetry into Metrics and, when
// tracing is attached, emits one span per request. It implements
// connection.Observer and may be shared across connections.
type ConnectionObserver struct {
	metrics *Metrics
	tracing *Tracing
}

// NewConnectionObserver creates an observer backed by the given metrics.
func NewConnectionObserver(metrics *Metrics) *ConnectionObserver {
	return &ConnectionObserver{metrics: metrics}
}

// WithTracing attaches a tracing provider; each observed request then
// produces a span covering its measured duration.
func (o *ConnectionObserver) WithTracing(tracing *Tracing) *ConnectionObserver {
	o.tracing = tracing
	return o
}

var _ connection.Observer = (*ConnectionObserver)(nil)

// OnStateChange updates the state gauge and active-connection count.
func (o *ConnectionObserver) OnStateChange(from, to connection.State) {
	o.metrics.RecordConnectionState(to.String())
	switch {
	case to == connection.StateOperating:
		o.metrics.RecordActiveConnections(1)
	case from == connection.StateOperating:
		o.metrics.RecordActiveConnections(-1)
	}
}

// OnOutboundRequest records one outbound round trip.
func (o *ConnectionObserver) OnOutboundRequest(method string, duration time.Duration, err error) {
	o.metrics.RecordOutboundRequest(method, statusOf(err), duration)
	if err != nil {
		o.metrics.RecordError(categoryOf(err), method)
	}
	o.recordSpan(method, trace.SpanKindClient, duration, err)
}

// OnInboundRequest records one handled inbound request.
func (o *ConnectionObserver) OnInboundRequest(method string, duration time.Duration, err error) {
	o.metrics.RecordInboundRequest(method, statusOf(err), duration)
	if err != nil {
		o.metrics.RecordError(categoryOf(err), method)
	}
	o.recordSpan(method, trace.SpanKindServer, duration, err)
}

// recordSpan emits a span back-dated to cover the measured duration. The
// observer fires at completion, so the span is opened and closed here.
func (o *ConnectionObserver) recordSpan(method string, kind trace.SpanKind, duration time.Duration, err error) {
	if o.tracing == nil {
		return
	}

	ended := time.Now()
	ctx, span := o.tracing.StartMethodSpan(context.Background(), method, kind,
		trace.WithTimestamp(ended.Add(-duration)))
	if err != nil {
		o.tracing.RecordError(ctx, err)
	}
	span.End(trace.WithTimestamp(ended))
}

func statusOf(err error) string {
	if err == nil {
		return "success"
	}
	switch {
	case mcperrors.IsTimeout(err):
		return "timeout"
	case mcperrors.IsCancelled(err):
		return "cancelled"
	default:
		return "error"
	}
}

func categoryOf(err error) string {
	if pe, ok := mcperrors.AsProtocolError(err); ok {
		return string(pe.Category())
	}
	return "unknown"
}
