package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"finsight/internal/apperr"
	"finsight/internal/chunk"
	"finsight/internal/config"
	"finsight/internal/format"
	"finsight/internal/middleware"
	"finsight/internal/text"
)

const defaultStaleAfter = 15 * time.Minute

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

// FailureRecorder keeps chunks whose embedding failed so they can be retried.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, sourceKey string, chunkIndex int, payload []byte, cause error) error
}

type Options struct {
	Chunking text.Options
	// Concurrency bounds in-flight embedding calls. Zero means sequential.
	Concurrency int
	// RatePerSecond caps embedding calls. Zero disables the limiter.
	RatePerSecond float64
	StaleAfter    time.Duration
}

type Service struct {
	repo     Repository
	chunks   chunk.Repository
	embedder Embedder
	pub      EventPublisher
	failures FailureRecorder
	format   *format.Formatter
	opts     Options
	limiter  *rate.Limiter
	locks    *keyLocks
}

// NewService wires the ingestion pipeline. pub and failures may be nil.
func NewService(repo Repository, chunks chunk.Repository, e Embedder, pub EventPublisher, failures FailureRecorder, f *format.Formatter, opts Options) *Service {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaultStaleAfter
	}
	s := &Service{
		repo:     repo,
		chunks:   chunks,
		embedder: e,
		pub:      pub,
		failures: failures,
		format:   f,
		opts:     opts,
		locks:    newKeyLocks(),
	}
	if opts.RatePerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}
	return s
}

// Create stores the snapshot as uploaded and queues it for processing.
func (s *Service) Create(ctx context.Context, snap *Snapshot) error {
	snap.EventName = strings.TrimSpace(snap.EventName)
	if snap.EventName == "" {
		return fmt.Errorf("%w: event name is required", apperr.ErrValidation)
	}
	if snap.Year < 2000 || snap.Year > 2099 {
		return fmt.Errorf("%w: year must be between 2000 and 2099", apperr.ErrValidation)
	}
	if snap.SourceKey == "" {
		snap.SourceKey = Key(snap.EventName, snap.Year)
	}
	if len(snap.Categories) == 0 {
		snap.Categories = categoriesOf(snap.Entries)
	}
	snap.Status = StatusUploaded
	snap.ChunkCount = 0
	snap.Error = ""

	if err := s.repo.Save(ctx, snap); err != nil {
		return err
	}

	if err := s.publish(ctx, snap.SourceKey, snap.CreatedBy); err != nil {
		slog.ErrorContext(ctx, "failed to publish snapshot.process event", "source_key", snap.SourceKey, "error", err)
	} else {
		slog.InfoContext(ctx, "published snapshot.process event", "source_key", snap.SourceKey)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, sourceKey, requestedBy string) error {
	if s.pub == nil {
		return errors.New("no publisher configured")
	}
	return s.pub.Publish(config.TopicSnapshotProcess, taskPayload(ctx, sourceKey, requestedBy))
}

func taskPayload(ctx context.Context, sourceKey, requestedBy string) []byte {
	payload, _ := json.Marshal(Task{
		SourceKey:     sourceKey,
		RequestedBy:   requestedBy,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	return payload
}

// ChunkView is the API shape of a stored chunk.
type ChunkView struct {
	Index   int          `json:"index"`
	Content string       `json:"content"`
	Status  chunk.Status `json:"status"`
	Entries []text.Entry `json:"entries,omitempty"`
}

type Detail struct {
	Snapshot
	Chunks []ChunkView `json:"chunks"`
}

func (s *Service) Get(ctx context.Context, sourceKey string) (*Detail, error) {
	snap, err := s.repo.Get(ctx, sourceKey)
	if err != nil {
		return nil, err
	}

	chunks, err := s.chunks.FindByStatus(ctx, chunk.StatusReady, chunk.Filter{SourceKey: sourceKey})
	if err != nil {
		slog.WarnContext(ctx, "failed to fetch chunks", "error", err, "source_key", sourceKey)
		chunks = nil
	}
	views := make([]ChunkView, 0, len(chunks))
	for _, c := range chunks {
		views = append(views, ChunkView{Index: c.Index, Content: c.Content, Status: c.Status, Entries: c.Metadata.Entries})
	}
	return &Detail{Snapshot: *snap, Chunks: views}, nil
}

func (s *Service) List(ctx context.Context) ([]Snapshot, error) {
	return s.repo.List(ctx)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

// RequestReprocess queues a rebuild of the chunks of sourceKey.
func (s *Service) RequestReprocess(ctx context.Context, sourceKey, requestedBy string) error {
	snap, err := s.repo.Get(ctx, sourceKey)
	if err != nil {
		return err
	}
	if snap.Status == StatusProcessing {
		return fmt.Errorf("%w: %s", apperr.ErrAlreadyProcessing, sourceKey)
	}
	if err := s.publish(ctx, sourceKey, requestedBy); err != nil {
		slog.ErrorContext(ctx, "failed to publish reprocess event", "source_key", sourceKey, "error", err)
		return err
	}
	slog.InfoContext(ctx, "queued snapshot reprocess", "source_key", sourceKey, "requested_by", requestedBy)
	return nil
}

// Process rebuilds the chunks of sourceKey: purge, render, chunk, embed,
// insert, mark ready. Runs for one key are serialized in this process and
// claimed in the repository across processes under a per-run token that is
// refreshed while the run works. Chunks whose embedding fails are skipped
// and recorded; the snapshot is ready when at least one chunk was stored
// and error otherwise. A run whose claim was taken over stops before
// inserting and returns ErrClaimLost without touching the snapshot.
func (s *Service) Process(ctx context.Context, sourceKey string) (*Snapshot, error) {
	unlock := s.locks.lock(sourceKey)
	defer unlock()

	snap, err := s.repo.Get(ctx, sourceKey)
	if err != nil {
		return nil, err
	}
	token := uuid.NewString()
	claimed, err := s.repo.Claim(ctx, sourceKey, token, s.opts.StaleAfter)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, fmt.Errorf("%w: %s", apperr.ErrAlreadyProcessing, sourceKey)
	}
	snap.Status = StatusProcessing

	logger := slog.With("source_key", sourceKey)
	start := time.Now()

	runCtx, stop := context.WithCancelCause(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.keepClaim(runCtx, sourceKey, token, stop)
	}()

	count, err := s.rebuild(runCtx, snap, token)
	if cause := context.Cause(runCtx); errors.Is(cause, ErrClaimLost) {
		err = cause
	}
	stop(nil)
	<-done

	if errors.Is(err, ErrClaimLost) {
		logger.WarnContext(ctx, "processing claim taken over, abandoning run", "error", err, "duration", time.Since(start))
		return nil, err
	}

	status, message := StatusReady, ""
	if err != nil {
		status, message = StatusError, err.Error()
	}

	// The outcome is recorded even when ctx was cancelled mid-run.
	if ferr := s.repo.Finish(context.WithoutCancel(ctx), sourceKey, token, status, count, message); ferr != nil {
		if errors.Is(ferr, ErrClaimLost) {
			logger.WarnContext(ctx, "processing claim taken over before finish", "error", ferr)
			return nil, ferr
		}
		logger.ErrorContext(ctx, "failed to record processing outcome", "error", ferr)
		if err == nil {
			err = ferr
		}
	}
	snap.Status, snap.ChunkCount, snap.Error = status, count, message

	if err != nil {
		logger.ErrorContext(ctx, "snapshot processing failed", "error", err, "duration", time.Since(start))
		return snap, err
	}
	logger.InfoContext(ctx, "snapshot processed", "chunks", count, "duration", time.Since(start))
	return snap, nil
}

// keepClaim refreshes the claim every third of StaleAfter until ctx ends.
// Losing the claim cancels ctx with ErrClaimLost.
func (s *Service) keepClaim(ctx context.Context, sourceKey, token string, lost context.CancelCauseFunc) {
	ticker := time.NewTicker(max(s.opts.StaleAfter/3, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := s.repo.Heartbeat(ctx, sourceKey, token)
			if errors.Is(err, ErrClaimLost) {
				lost(err)
				return
			}
			if err != nil && ctx.Err() == nil {
				slog.WarnContext(ctx, "failed to refresh processing claim", "source_key", sourceKey, "error", err)
			}
		}
	}
}

func (s *Service) rebuild(ctx context.Context, snap *Snapshot, token string) (int, error) {
	purged, err := s.chunks.PurgeBySourceKey(ctx, snap.SourceKey)
	if err != nil {
		return 0, fmt.Errorf("purge chunks: %w", err)
	}
	slog.DebugContext(ctx, "purged chunks", "source_key", snap.SourceKey, "count", purged)

	results := text.ChunkLines(Render(snap, s.format), s.opts.Chunking)
	if strings.TrimSpace(snap.Notes) != "" {
		results = append(results, text.ChunkText(snap.Notes, s.opts.Chunking)...)
	}
	if len(results) == 0 {
		return 0, errors.New("snapshot has no content to chunk")
	}

	pending := s.embedAll(ctx, snap, results)
	if err := context.Cause(ctx); err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, fmt.Errorf("%w: no chunk could be embedded", apperr.ErrProvider)
	}

	// A takeover may have purged and started over while this run embedded.
	if err := s.repo.Heartbeat(ctx, snap.SourceKey, token); err != nil {
		return 0, err
	}

	res, err := s.chunks.BulkInsert(ctx, pending)
	if err != nil {
		return 0, fmt.Errorf("insert chunks: %w", err)
	}
	for _, f := range res.Failed {
		index := f.Index
		if f.Index >= 0 && f.Index < len(pending) {
			index = pending[f.Index].Index
		}
		s.recordFailure(ctx, snap.SourceKey, index, f.Err)
	}
	if res.Inserted == 0 {
		return 0, fmt.Errorf("%w: no chunk was persisted", apperr.ErrPersistence)
	}

	if _, err := s.chunks.MarkReady(ctx, snap.SourceKey); err != nil {
		return 0, fmt.Errorf("mark chunks ready: %w", err)
	}
	return res.Inserted, nil
}

// embedAll embeds every chunk through a bounded, rate-limited pool and
// returns the embedded ones in chunk order. It stops early once ctx ends.
func (s *Service) embedAll(ctx context.Context, snap *Snapshot, results []text.ChunkResult) []chunk.Chunk {
	embedded := make([]*chunk.Chunk, len(results))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, r := range results {
		g.Go(func() error {
			vec, err := s.embed(gctx, r.Content)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.recordFailure(ctx, snap.SourceKey, i, err)
				return nil
			}
			embedded[i] = &chunk.Chunk{
				SourceKey: snap.SourceKey,
				Index:     i,
				Content:   r.Content,
				Embedding: vec,
				Metadata:  chunk.Metadata{Year: snap.Year, EventName: snap.EventName, Provenance: r.Provenance},
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]chunk.Chunk, 0, len(results))
	for _, c := range embedded {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out
}

func (s *Service) embed(ctx context.Context, content string) ([]float32, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return s.embedder.Embed(ctx, content)
}

func (s *Service) recordFailure(ctx context.Context, sourceKey string, index int, cause error) {
	slog.WarnContext(ctx, "skipping chunk", "source_key", sourceKey, "chunk_index", index, "error", cause)
	if s.failures == nil {
		return
	}
	payload := taskPayload(ctx, sourceKey, "")
	if err := s.failures.RecordFailure(context.WithoutCancel(ctx), sourceKey, index, payload, cause); err != nil {
		slog.ErrorContext(ctx, "failed to record failed chunk", "source_key", sourceKey, "chunk_index", index, "error", err)
	}
}
