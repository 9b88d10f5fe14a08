package tracing

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/opentracing/opentracing-go/log"
)

const (
	SpanTagAccount   = "account"
	SpanTagFolder    = "folder"
	SpanTagComponent = "component"
)

const (
	SpanTagComponentSync       = "sync"
	SpanTagComponentRepository = "repository"
	SpanTagComponentController = "controller"
)

func StartTracerSpan(ctx context.Context, operationName string) (opentracing.Span, context.Context) {
	serverSpan := opentracing.GlobalTracer().StartSpan(operationName)
	return serverSpan, opentracing.ContextWithSpan(ctx, serverSpan)
}

func StartSpanFromContext(ctx context.Context, operationName string) (opentracing.Span, context.Context) {
	span, ctx := opentracing.StartSpanFromContext(ctx, operationName)
	return span, ctx
}

func SetDefaultSyncSpanTags(ctx context.Context, span opentracing.Span) {
	span.SetTag(SpanTagComponent, SpanTagComponentSync)
}

func SetDefaultRepositorySpanTags(ctx context.Context, span opentracing.Span) {
	span.SetTag(SpanTagComponent, SpanTagComponentRepository)
}

func SetDefaultControllerSpanTags(ctx context.Context, span opentracing.Span) {
	span.SetTag(SpanTagComponent, SpanTagComponentController)
}

func TagAccount(span opentracing.Span, account string) {
	if account != "" {
		span.SetTag(SpanTagAccount, account)
	}
}

func TagFolder(span opentracing.Span, folder string) {
	if folder != "" {
		span.SetTag(SpanTagFolder, folder)
	}
}

func TraceErr(span opentracing.Span, err error, fields ...log.Field) {
	if span == nil || err == nil {
		return
	}
	// Log the error with the fields
	ext.LogError(span, err, fields...)
}
