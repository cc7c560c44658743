package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/prepchain/internal/preview"
)

var tracer = otel.Tracer("prepchain.service")

var (
	// stepsWritten counts steps produced by edits.
	// Labels: result (created, deduplicated)
	stepsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "prepchain",
		Subsystem: "chain",
		Name:      "steps_total",
		Help:      "Steps produced by edits, by whether storage already had them",
	}, []string{"result"})

	// rebaseOps counts chain edits.
	// Labels: op (append, update, delete, reorder, replay), status (ok, error, noop)
	rebaseOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "prepchain",
		Subsystem: "rebase",
		Name:      "operations_total",
		Help:      "Chain edits by operation and outcome",
	}, []string{"op", "status"})

	replayedSteps = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "prepchain",
		Subsystem: "rebase",
		Name:      "replayed_steps",
		Help:      "Steps re-created per edit",
		Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64, 128},
	})

	// previewRecords counts diff records handed to callers.
	// Labels: kind (unchanged, updated, deleted, created)
	previewRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "prepchain",
		Subsystem: "preview",
		Name:      "records_total",
		Help:      "Preview diff records by kind",
	}, []string{"kind"})

	lockConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "prepchain",
		Subsystem: "lock",
		Name:      "conflicts_total",
		Help:      "Lock acquisitions and writes refused because another user holds the lock",
	})

	// headRejections counts head moves refused by the head validator.
	// Labels: reason (missing_dataset, lookup_error)
	headRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "prepchain",
		Subsystem: "head",
		Name:      "rejections_total",
		Help:      "Head moves refused because a referenced dataset is unavailable",
	}, []string{"reason"})
)

func prepAttr(id string) attribute.KeyValue {
	return attribute.String("preparation.id", id)
}

// endSpan records err on span and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func countPreviewRecord(kind preview.Kind) {
	previewRecords.WithLabelValues(string(kind)).Inc()
}
