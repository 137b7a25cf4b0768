package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"finsight/internal/adapter/gemini"
	"finsight/internal/answer"
	"finsight/internal/apperr"
	"finsight/internal/intent"
	"finsight/internal/ledger"
	"finsight/internal/retrieval"
	"finsight/internal/vector"
)

const defaultTimeout = 20 * time.Second

type Searcher interface {
	Search(ctx context.Context, query string, opts retrieval.SearchOptions) ([]vector.Scored, error)
}

type Generator interface {
	Generate(ctx context.Context, p gemini.Prompt) (string, error)
}

// Deps are the collaborators of the orchestrator. Recorder and QueryLog may
// be nil.
type Deps struct {
	Templates  answer.Templates
	Direct     *answer.Direct
	Historical *answer.Historical
	Comparison *answer.Comparison
	Composer   *answer.Composer
	Live       ledger.Source
	Search     Searcher
	Generator  Generator
	Store      Store
	Recorder   *Recorder
	QueryLog   *retrieval.QueryLogger

	Timeout      time.Duration
	HistoryTurns int
}

type Service struct {
	deps Deps
}

func NewService(deps Deps) *Service {
	if deps.Timeout <= 0 {
		deps.Timeout = defaultTimeout
	}
	if deps.HistoryTurns <= 0 {
		deps.HistoryTurns = 5
	}
	return &Service{deps: deps}
}

type outcome struct {
	text   string
	source DataSource
}

// Answer runs the fixed resolution order and always produces a response for
// a non-empty query. On timeout it returns the direct answer if one was
// already computed, otherwise an apology tagged general; provider failures
// also yield the apology. Only validation errors are returned.
func (s *Service) Answer(ctx context.Context, req Request) (*Response, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", apperr.ErrValidation)
	}
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, s.deps.Timeout)
	defer cancel()

	res := intent.Classify(query)

	var partial atomic.Pointer[outcome]
	done := make(chan outcome, 1)
	go func() {
		done <- s.resolve(ctx, req, query, res, &partial)
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		if p := partial.Load(); p != nil {
			slog.WarnContext(ctx, "query timed out, returning partial answer", "intent", res.Intent, "timeout", s.deps.Timeout)
			out = *p
		} else {
			slog.WarnContext(ctx, "query timed out", "intent", res.Intent, "timeout", s.deps.Timeout)
			out = outcome{text: answer.Apology(req.UserName), source: SourceGeneral}
		}
	}

	resp := &Response{
		Text:       out.text,
		DataSource: out.source,
		Intent:     string(res.Intent),
		LatencyMs:  time.Since(start).Milliseconds(),
	}

	if s.deps.Recorder != nil && req.UserID != "" {
		s.deps.Recorder.Record(Turn{
			UserID:     req.UserID,
			Query:      query,
			Response:   resp.Text,
			DataSource: resp.DataSource,
			Intent:     resp.Intent,
			LatencyMs:  resp.LatencyMs,
		})
	}
	if s.deps.QueryLog != nil {
		s.deps.QueryLog.Log(ctx, retrieval.QueryLogEntry{
			Kind:       "answer",
			Query:      query,
			Intent:     resp.Intent,
			DataSource: string(resp.DataSource),
			Duration:   time.Since(start),
		})
	}
	slog.InfoContext(ctx, "answered query", "intent", res.Intent, "data_source", resp.DataSource, "latency_ms", resp.LatencyMs)
	return resp, nil
}

// resolve stores the direct answer in partial as soon as it exists, so a
// timeout during the historical lookup or generation can still return it.
func (s *Service) resolve(ctx context.Context, req Request, query string, res intent.Result, partial *atomic.Pointer[outcome]) outcome {
	if res.Intent.Templated() {
		return outcome{text: s.deps.Templates.For(res.Intent, req.UserName), source: SourceGeneral}
	}

	live, err := ledger.Load(ctx, s.deps.Live)
	if err != nil {
		slog.WarnContext(ctx, "live data unavailable", "error", err)
		live = &ledger.Snapshot{}
	}

	if res.Intent == intent.Comparison {
		cmp, err := s.deps.Comparison.Resolve(ctx, query, live)
		if err != nil {
			slog.WarnContext(ctx, "comparison failed", "error", err)
		} else if cmp.Text != "" {
			return outcome{text: cmp.Text, source: comparisonSource(cmp)}
		}
	}

	direct := s.deps.Direct.Resolve(query, live)
	if direct != "" {
		partial.Store(&outcome{text: direct, source: SourceAppData})
	}
	historical, err := s.deps.Historical.Resolve(ctx, query)
	if err != nil {
		slog.WarnContext(ctx, "historical lookup failed", "error", err)
		historical = ""
	}

	switch {
	case direct != "" && historical != "":
		return outcome{text: direct + "\n\n" + historical, source: SourceMixed}
	case direct != "":
		return outcome{text: direct, source: SourceAppData}
	case historical != "":
		return outcome{text: historical, source: SourceHistorical}
	}

	return s.generate(ctx, req, query, res, live)
}

func comparisonSource(c answer.ComparisonResult) DataSource {
	switch {
	case c.Live && c.Historical:
		return SourceMixed
	case c.Live:
		return SourceAppData
	default:
		return SourceHistorical
	}
}

func (s *Service) generate(ctx context.Context, req Request, query string, res intent.Result, live *ledger.Snapshot) outcome {
	apology := outcome{text: answer.Apology(req.UserName), source: SourceGeneral}

	var opts retrieval.SearchOptions
	if len(res.Years) == 1 {
		opts.Year = res.Years[0]
	}
	matches, err := s.deps.Search.Search(ctx, query, opts)
	if err != nil {
		slog.WarnContext(ctx, "similarity search failed, composing without excerpts", "error", err)
		matches = nil
	}

	var history []answer.Exchange
	if s.deps.Store != nil && req.UserID != "" {
		turns, err := s.deps.Store.History(ctx, req.UserID, s.deps.HistoryTurns)
		if err != nil {
			slog.WarnContext(ctx, "conversation history unavailable", "error", err)
		}
		for _, t := range turns {
			history = append(history, answer.Exchange{Query: t.Query, Response: t.Response})
		}
	}

	composed := s.deps.Composer.Compose(answer.ContextInput{
		Query:    query,
		UserName: req.UserName,
		Live:     live,
		Matches:  matches,
		History:  history,
		Tabular:  res.Intent == intent.Tabular,
	})

	text, err := s.deps.Generator.Generate(ctx, gemini.Prompt{
		System:  composed.System,
		User:    composed.User,
		Complex: res.Complexity == intent.Complex,
	})
	if err != nil {
		slog.ErrorContext(ctx, "generation failed", "error", err)
		return apology
	}
	return outcome{text: text, source: SourceGeneral}
}

// History returns the user's recent turns, oldest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]Turn, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", apperr.ErrValidation)
	}
	return s.deps.Store.History(ctx, userID, limit)
}

func (s *Service) ClearHistory(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", apperr.ErrValidation)
	}
	return s.deps.Store.Clear(ctx, userID)
}
