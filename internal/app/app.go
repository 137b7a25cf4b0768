package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"finsight/features/chat"
	"finsight/features/job"
	"finsight/features/mcp"
	"finsight/features/snapshot"
	"finsight/features/stats"
	"finsight/internal/adapter/gemini"
	"finsight/internal/answer"
	"finsight/internal/chunk"
	"finsight/internal/config"
	"finsight/internal/format"
	"finsight/internal/ledger"
	"finsight/internal/middleware"
	"finsight/internal/retrieval"
	"finsight/internal/settings"
	"finsight/internal/text"
	"finsight/internal/worker"
)

// VectorStore is a chunk backend whose schema must exist before use.
type VectorStore interface {
	EnsureSchema(ctx context.Context) error
}

type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options override provider adapters. Nil fields use the Gemini clients
// configured through settings.
type Options struct {
	Embedder  Embedder
	Generator chat.Generator
}

type App struct {
	Handler   http.Handler
	Chat      *chat.Service
	Snapshots *snapshot.Service
	Consumer  *worker.ProcessConsumer
	Recorder  *chat.Recorder

	port    int
	closers []func() error
}

func New(
	cfg *config.Config,
	db *sql.DB,
	chunks chunk.Repository,
	taskPub TaskPublisher,
	logger *slog.Logger,
	opts *Options,
) (*App, error) {
	if db == nil || chunks == nil || taskPub == nil {
		return nil, errors.New("app: db, chunk store and publisher are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	f := format.New(cfg.CurrencySymbol, cfg.NumberLocale)

	// Feature: Settings
	settingsService := settings.NewService(settings.NewPostgresRepo(db), settings.Defaults{
		GeminiAPIKey:        cfg.GeminiAPIKey,
		EmbeddingModel:      cfg.EmbeddingModel,
		SimpleModel:         cfg.SimpleModel,
		ComplexModel:        cfg.ComplexModel,
		SimilarityThreshold: cfg.SimilarityThreshold,
		SearchTopK:          cfg.SearchTopK,
	})
	settingsHandler := settings.NewHandler(settingsService)

	// Adapters: Dynamic
	if opts == nil {
		opts = &Options{}
	}
	var closers []func() error
	embedder := opts.Embedder
	if embedder == nil {
		e := gemini.NewDynamicEmbedder(settingsService)
		closers = append(closers, e.Close)
		embedder = e
	}
	generator := opts.Generator
	if generator == nil {
		g := gemini.NewDynamicGenerator(settingsService)
		closers = append(closers, g.Close)
		generator = g
	}

	// Feature: Job
	jobRepo := job.NewPostgresRepo(db)
	jobService := job.NewService(jobRepo, taskPub, logger)
	jobHandler := job.NewHandler(jobService)

	// Feature: Snapshot
	snapshotRepo := snapshot.NewPostgresRepo(db)
	snapshotService := snapshot.NewService(snapshotRepo, chunks, embedder, taskPub, jobService, f, snapshot.Options{
		Chunking:      text.Options{MaxWords: cfg.ChunkMaxWords, OverlapLines: cfg.ChunkOverlapLines},
		Concurrency:   cfg.EmbedConcurrency,
		RatePerSecond: cfg.EmbedRatePerSecond,
		StaleAfter:    cfg.StaleAfter(),
	})
	snapshotHandler := snapshot.NewHandler(snapshotService)

	// Feature: Stats
	statsHandler := stats.NewHandler(snapshotRepo, jobRepo, chunks)

	// Feature: Chat
	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	retrievalService := retrieval.NewService(embedder, chunks, settingsService, queryLogger, cfg.FocusedTopK)

	turnStore := chat.NewPostgresStore(db)
	recorder := chat.NewRecorder(turnStore, cfg.HistoryLimit, cfg.RecorderWorkers, cfg.RecorderQueueSize)
	go drainRecorderErrors(logger, recorder)

	chatService := chat.NewService(chat.Deps{
		Templates:  answer.Templates{Assistant: cfg.AssistantName, DeveloperCredit: cfg.DeveloperCredit},
		Direct:     answer.NewDirect(f),
		Historical: answer.NewHistorical(chunks, f),
		Comparison: answer.NewComparison(chunks, f),
		Composer:   answer.NewComposer(cfg.AssistantName, cfg.ContextCharBudget, f),
		Live:       ledger.NewPostgresRepo(db),
		Search:     retrievalService,
		Generator:  generator,
		Store:      turnStore,
		Recorder:   recorder,
		QueryLog:   queryLogger,
		Timeout:    cfg.QueryTimeout(),
	})
	chatHandler := chat.NewHandler(chatService)

	// Feature: MCP
	mcpHandler := mcp.NewHandler(chatService, retrievalService, snapshotService)

	// Worker
	consumer := worker.NewProcessConsumer(snapshotService, 0, 0)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User-ID, X-User-Name, X-Correlation-ID")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /chat", middleware.CorrelationID(enableCORS(chatHandler.Ask)))
	mux.Handle("GET /chat/history", middleware.CorrelationID(enableCORS(chatHandler.History)))
	mux.Handle("DELETE /chat/history", middleware.CorrelationID(enableCORS(chatHandler.Clear)))

	mux.Handle("POST /snapshots", middleware.CorrelationID(enableCORS(snapshotHandler.Create)))
	mux.Handle("POST /snapshots/import", middleware.CorrelationID(enableCORS(snapshotHandler.Import)))
	mux.Handle("GET /snapshots", middleware.CorrelationID(enableCORS(snapshotHandler.List)))
	mux.Handle("GET /snapshots/{key}", middleware.CorrelationID(enableCORS(snapshotHandler.Get)))
	mux.Handle("POST /snapshots/{key}/reprocess", middleware.CorrelationID(enableCORS(snapshotHandler.Reprocess)))

	mux.Handle("GET /settings", middleware.CorrelationID(enableCORS(settingsHandler.GetSettings)))
	mux.Handle("PUT /settings", middleware.CorrelationID(enableCORS(settingsHandler.UpdateSettings)))

	mux.Handle("GET /jobs/failed", middleware.CorrelationID(enableCORS(jobHandler.List)))
	mux.Handle("POST /jobs/{id}/retry", middleware.CorrelationID(enableCORS(jobHandler.Retry)))

	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))

	mux.Handle("POST /mcp", middleware.CorrelationID(mcpHandler))
	mux.Handle("GET /mcp/sse", middleware.CorrelationID(enableCORS(mcpHandler.HandleSSE)))
	mux.Handle("POST /mcp/messages", middleware.CorrelationID(enableCORS(mcpHandler.HandleMessage)))

	// Preflight for every route; method patterns never overlap with OPTIONS.
	mux.Handle("OPTIONS /", enableCORS(func(w http.ResponseWriter, r *http.Request) {}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8081
	}

	return &App{
		Handler:   mux,
		Chat:      chatService,
		Snapshots: snapshotService,
		Consumer:  consumer,
		Recorder:  recorder,
		port:      port,
		closers:   closers,
	}, nil
}

func drainRecorderErrors(logger *slog.Logger, r *chat.Recorder) {
	for err := range r.Errors() {
		logger.Warn("conversation turn not recorded", "error", err)
	}
}

// Run serves HTTP until ctx is cancelled, then drains queued conversation
// turns before returning.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.port),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.port)
	err := srv.ListenAndServe()
	a.Close()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close flushes the recorder and releases provider clients. Safe to call
// more than once.
func (a *App) Close() {
	a.Recorder.Close()
	for _, c := range a.closers {
		if err := c(); err != nil {
			slog.Warn("failed to close provider client", "error", err)
		}
	}
}
