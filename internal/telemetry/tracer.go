package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys for gateway operations.
const (
	AttrAssociationID = "dicom.association_id"
	AttrJobID         = "dicom.job_id"
	AttrSOPUID        = "dicom.sop_instance_uid"
	AttrCallingAE     = "dicom.calling_ae"
	AttrCalledAE      = "dicom.called_ae"
	AttrDestHost      = "dicom.dest_host"
	AttrDestPort      = "dicom.dest_port"
	AttrObjectCount   = "dicom.object_count"

	AttrBlobKey    = "blob.key"
	AttrBlobBucket = "blob.bucket"
	AttrBlobBytes  = "blob.bytes"
	AttrQueue      = "queue.name"
	AttrWorker     = "worker.index"
)

// Span names.
const (
	SpanUpload  = "transfer.upload"
	SpanFetch   = "transfer.fetch"
	SpanSend    = "dimse.send_job"
	SpanStore   = "dimse.store"
	SpanPublish = "queue.publish"
	SpanReceive = "queue.receive"
)

// StartTransferSpan starts a client span for a blob transfer.
func StartTransferSpan(ctx context.Context, name string, worker int, key string) (context.Context, trace.Span) {
	return StartSpan(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int(AttrWorker, worker),
			attribute.String(AttrBlobKey, key),
		),
	)
}

// StartSendSpan starts a client span covering one outbound send job.
func StartSendSpan(ctx context.Context, jobID, destAE, host string, port, objects int) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanSend,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String(AttrJobID, jobID),
			attribute.String(AttrCalledAE, destAE),
			attribute.String(AttrDestHost, host),
			attribute.Int(AttrDestPort, port),
			attribute.Int(AttrObjectCount, objects),
		),
	)
}

// StartStoreSpan starts a server span for one inbound store event.
func StartStoreSpan(ctx context.Context, associationID, sopUID string) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanStore,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String(AttrAssociationID, associationID),
			attribute.String(AttrSOPUID, sopUID),
		),
	)
}

// StartQueueSpan starts a producer or consumer span on a queue.
func StartQueueSpan(ctx context.Context, name, queue string) (context.Context, trace.Span) {
	kind := trace.SpanKindProducer
	if name == SpanReceive {
		kind = trace.SpanKindConsumer
	}
	return StartSpan(ctx, name,
		trace.WithSpanKind(kind),
		trace.WithAttributes(attribute.String(AttrQueue, queue)),
	)
}
