package logger

import (
	"log/slog"
)

// Standard field keys. Use these instead of ad hoc strings so that log
// aggregation can query every component the same way.
const (
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	KeyComponent = "component"
	KeyEdgeID    = "edge_id"
	KeyWorker    = "worker"
	KeyStatus    = "status"
	KeyCount     = "count"
	KeyTotal     = "total"

	// Inbound (device to cloud)
	KeyAssociationID = "association_id"
	KeyCallingAE     = "calling_ae"
	KeyCalledAE      = "called_ae"
	KeyStudyUID      = "study_uid"
	KeySeriesUID     = "series_uid"
	KeySOPUID        = "sop_instance_uid"

	// Outbound (cloud to device)
	KeyJobID    = "job_id"
	KeyDestHost = "dest_host"
	KeyDestPort = "dest_port"
	KeyDestAE   = "dest_ae"

	// Storage and transport
	KeyPath      = "path"
	KeyBucket    = "bucket"
	KeyKey       = "key"
	KeyQueue     = "queue"
	KeyMessageID = "message_id"
	KeySize      = "size"
	KeyFreeMB    = "free_mb"

	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyErrorKind  = "error_kind"
)

// Err returns the standard error attribute. A nil error yields an empty attr,
// which handlers drop.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// AssociationID returns the association id attribute.
func AssociationID(id string) slog.Attr {
	return slog.String(KeyAssociationID, id)
}

// JobID returns the job id attribute.
func JobID(id string) slog.Attr {
	return slog.String(KeyJobID, id)
}

// Worker returns the worker index attribute.
func Worker(i int) slog.Attr {
	return slog.Int(KeyWorker, i)
}

// SOP returns the SOP instance UID attribute.
func SOP(uid string) slog.Attr {
	return slog.String(KeySOPUID, uid)
}

// Key returns the blob key attribute.
func Key(k string) slog.Attr {
	return slog.String(KeyKey, k)
}

// Queue returns the queue name attribute.
func Queue(name string) slog.Attr {
	return slog.String(KeyQueue, name)
}

// DurationMs returns the duration attribute in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}
