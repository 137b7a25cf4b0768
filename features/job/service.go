package job

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"finsight/internal/config"
)

const publishTimeout = 5 * time.Second

// ErrPublishTimeout means the queue did not accept the retried task in time.
var ErrPublishTimeout = errors.New("timeout waiting for NSQ publish")

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo   Repository
	pub    EventPublisher
	logger *slog.Logger
}

func NewService(repo Repository, pub EventPublisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, pub: pub, logger: logger}
}

func (s *Service) List(ctx context.Context) ([]Job, error) {
	return s.repo.List(ctx)
}

// RecordFailure persists a failed chunk embedding so it can be retried.
func (s *Service) RecordFailure(ctx context.Context, sourceKey string, chunkIndex int, payload []byte, cause error) error {
	j := &Job{
		SourceKey:  sourceKey,
		ChunkIndex: chunkIndex,
		Handler:    HandlerEmbed,
		Payload:    payload,
		Error:      cause.Error(),
	}
	if err := s.repo.Save(ctx, j); err != nil {
		s.logger.ErrorContext(ctx, "failed to save failed job", "source_key", sourceKey, "chunk_index", chunkIndex, "error", err)
		return err
	}
	s.logger.WarnContext(ctx, "recorded failed job", "id", j.ID, "source_key", sourceKey, "chunk_index", chunkIndex)
	return nil
}

// Retry republishes the job's process task and deletes the job. Reprocessing
// regenerates every chunk of the source key, not just the failed one.
func (s *Service) Retry(ctx context.Context, id string) (*Job, error) {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.pub.Publish(config.TopicSnapshotProcess, job.Payload)
	}()

	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
	case <-time.After(publishTimeout):
		return nil, ErrPublishTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.logger.InfoContext(ctx, "retried failed job", "id", id, "source_key", job.SourceKey)
	return job, s.repo.Delete(ctx, id)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
