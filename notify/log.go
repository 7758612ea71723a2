package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/courseforge/logger"
	"github.com/teranos/courseforge/metrics"
)

// LogNotifier writes one structured line per settled job or batch
type LogNotifier struct {
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

// NewLogNotifier falls back to the global logger when l is nil
func NewLogNotifier(l *zap.SugaredLogger, m *metrics.Metrics) *LogNotifier {
	return &LogNotifier{logger: logger.OrGlobal(l, "notify"), metrics: m}
}

func (n *LogNotifier) NotifyJobComplete(ctx context.Context, owner string, job JobSummary) error {
	fields := []interface{}{
		logger.FieldOwnerID, owner,
		logger.FieldJobID, job.JobID,
		logger.FieldJobType, job.JobType,
		logger.FieldStatus, job.Status,
		logger.FieldCredits, job.CreditsUsed,
	}
	if job.BatchID != "" {
		fields = append(fields, logger.FieldBatchID, job.BatchID)
	}
	if job.Error != "" {
		fields = append(fields, logger.FieldError, job.Error)
	}
	n.logger.Infow("Job settled", fields...)
	n.metrics.Notified("log", "ok")
	return nil
}

func (n *LogNotifier) NotifyBatchComplete(ctx context.Context, owner string, batch BatchSummary) error {
	n.logger.Infow("Batch settled",
		logger.FieldOwnerID, owner,
		logger.FieldBatchID, batch.BatchID,
		logger.FieldBatchSize, batch.Total,
		"succeeded", batch.Succeeded,
		"failed", batch.Failed,
	)
	n.metrics.Notified("log", "ok")
	return nil
}
