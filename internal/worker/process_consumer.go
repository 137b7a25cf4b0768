// Package worker consumes snapshot.process messages and runs ingestion.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"finsight/features/snapshot"
	"finsight/internal/apperr"
	"finsight/internal/middleware"
)

const (
	defaultProcessTimeout = 10 * time.Minute
	defaultRequeueDelay   = 30 * time.Second
)

type Processor interface {
	Process(ctx context.Context, sourceKey string) (*snapshot.Snapshot, error)
}

type ProcessConsumer struct {
	processor    Processor
	timeout      time.Duration
	requeueDelay time.Duration
}

func NewProcessConsumer(p Processor, timeout, requeueDelay time.Duration) *ProcessConsumer {
	if timeout <= 0 {
		timeout = defaultProcessTimeout
	}
	if requeueDelay <= 0 {
		requeueDelay = defaultRequeueDelay
	}
	return &ProcessConsumer{processor: p, timeout: timeout, requeueDelay: requeueDelay}
}

// HandleMessage acks poison pills, unknown keys and runs whose outcome was
// recorded on the snapshot. A key held by another worker is requeued after
// a delay so the newer request still runs. A run that lost its claim to a
// takeover is acked since the new holder rebuilds the key. Other errors go
// back to NSQ for a retry with backoff.
func (h *ProcessConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var task snapshot.Task
	if err := json.Unmarshal(m.Body, &task); err != nil {
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}

	correlationID := task.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(context.Background(), correlationID)
	if task.RequestedBy != "" {
		ctx = middleware.WithUser(ctx, task.RequestedBy, "")
	}

	if task.SourceKey == "" {
		slog.ErrorContext(ctx, "missing source key, dropping")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	slog.InfoContext(ctx, "processing snapshot", "source_key", task.SourceKey, "attempt", m.Attempts)
	snap, err := h.processor.Process(ctx, task.SourceKey)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, snapshot.ErrClaimLost):
		slog.WarnContext(ctx, "claim taken over by another worker, dropping", "source_key", task.SourceKey)
		return nil
	case errors.Is(err, apperr.ErrAlreadyProcessing):
		slog.InfoContext(ctx, "source key busy, requeueing", "source_key", task.SourceKey, "delay", h.requeueDelay)
		m.DisableAutoResponse()
		m.RequeueWithoutBackoff(h.requeueDelay)
		return nil
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrValidation):
		slog.WarnContext(ctx, "dropping process task", "source_key", task.SourceKey, "error", err)
		return nil
	case snap != nil && snap.Status == snapshot.StatusError:
		// Failure is recorded on the snapshot and in failed jobs.
		return nil
	default:
		slog.ErrorContext(ctx, "snapshot processing failed, will retry", "source_key", task.SourceKey, "error", err)
		return err
	}
}
