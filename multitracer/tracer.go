// Package multitracer provides a Tracer that can combine several tracers into one.
package multitracer

import (
	"context"

	"github.com/aMasakiTakahashi/postgrex"
)

// Tracer can combine several tracers into one.
// You can use New to automatically split tracers by interface.
type Tracer struct {
	QueryTracers   []postgrex.QueryTracer
	PrepareTracers []postgrex.PrepareTracer
	TxTracers      []postgrex.TxTracer
	StreamTracers  []postgrex.StreamTracer
}

// New returns new Tracer from tracers with automatically split tracers by interface.
func New(tracers ...postgrex.QueryTracer) *Tracer {
	var t Tracer

	for _, tracer := range tracers {
		t.QueryTracers = append(t.QueryTracers, tracer)

		if prepareTracer, ok := tracer.(postgrex.PrepareTracer); ok {
			t.PrepareTracers = append(t.PrepareTracers, prepareTracer)
		}

		if txTracer, ok := tracer.(postgrex.TxTracer); ok {
			t.TxTracers = append(t.TxTracers, txTracer)
		}

		if streamTracer, ok := tracer.(postgrex.StreamTracer); ok {
			t.StreamTracers = append(t.StreamTracers, streamTracer)
		}
	}

	return &t
}

func (t *Tracer) TraceQueryStart(ctx context.Context, data postgrex.TraceQueryStartData) context.Context {
	for _, tracer := range t.QueryTracers {
		ctx = tracer.TraceQueryStart(ctx, data)
	}

	return ctx
}

func (t *Tracer) TraceQueryEnd(ctx context.Context, data postgrex.TraceQueryEndData) {
	for _, tracer := range t.QueryTracers {
		tracer.TraceQueryEnd(ctx, data)
	}
}

func (t *Tracer) TracePrepareStart(ctx context.Context, data postgrex.TracePrepareStartData) context.Context {
	for _, tracer := range t.PrepareTracers {
		ctx = tracer.TracePrepareStart(ctx, data)
	}

	return ctx
}

func (t *Tracer) TracePrepareEnd(ctx context.Context, data postgrex.TracePrepareEndData) {
	for _, tracer := range t.PrepareTracers {
		tracer.TracePrepareEnd(ctx, data)
	}
}

func (t *Tracer) TraceTxStart(ctx context.Context, data postgrex.TraceTxStartData) context.Context {
	for _, tracer := range t.TxTracers {
		ctx = tracer.TraceTxStart(ctx, data)
	}

	return ctx
}

func (t *Tracer) TraceTxEnd(ctx context.Context, data postgrex.TraceTxEndData) {
	for _, tracer := range t.TxTracers {
		tracer.TraceTxEnd(ctx, data)
	}
}

func (t *Tracer) TraceStreamStart(ctx context.Context, data postgrex.TraceStreamStartData) context.Context {
	for _, tracer := range t.StreamTracers {
		ctx = tracer.TraceStreamStart(ctx, data)
	}

	return ctx
}

func (t *Tracer) TraceStreamEnd(ctx context.Context, data postgrex.TraceStreamEndData) {
	for _, tracer := range t.StreamTracers {
		tracer.TraceStreamEnd(ctx, data)
	}
}
