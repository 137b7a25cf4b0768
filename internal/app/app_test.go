package app

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finsight/internal/chunk"
	"finsight/internal/config"
)

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *recordingPublisher) Publish(topic string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		ChunkMaxWords:     500,
		ChunkOverlapLines: 3,
		HistoryLimit:      20,
		CurrencySymbol:    "₹",
		NumberLocale:      "en-IN",
		AssistantName:     "Finsight",
		QueryLogPath:      filepath.Join(t.TempDir(), "query.log"),
	}
}

func TestNew(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	app, err := New(testConfig(t), db, chunk.NewMemoryRepo(), &recordingPublisher{}, logger, nil)
	require.NoError(t, err)
	defer app.Close()

	assert.NotNil(t, app.Handler)
	assert.NotNil(t, app.Chat)
	assert.NotNil(t, app.Snapshots)
	assert.NotNil(t, app.Consumer)
	assert.Equal(t, 8081, app.port)
	assert.Len(t, app.closers, 2)

	t.Run("Health", func(t *testing.T) {
		w := httptest.NewRecorder()
		app.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	})

	t.Run("Chat Route Validates", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/chat", strings.NewReader(`{"query":"  "}`))
		req.Header.Set("X-Correlation-ID", "corr-1")
		app.Handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "corr-1", w.Header().Get("X-Correlation-ID"))
		assert.Contains(t, w.Body.String(), "VALIDATION_ERROR")
	})

	t.Run("CORS Preflight", func(t *testing.T) {
		w := httptest.NewRecorder()
		app.Handler.ServeHTTP(w, httptest.NewRequest("OPTIONS", "/snapshots", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("Import Route Needs Multipart", func(t *testing.T) {
		w := httptest.NewRecorder()
		app.Handler.ServeHTTP(w, httptest.NewRequest("POST", "/snapshots/import", strings.NewReader(`{}`)))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "VALIDATION_ERROR")
	})

	t.Run("MCP Tools", func(t *testing.T) {
		w := httptest.NewRecorder()
		app.Handler.ServeHTTP(w, httptest.NewRequest("POST", "/mcp", strings.NewReader(`{"jsonrpc":"2.0","method":"tools/list","id":1}`)))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "finsight_ask")
	})

	t.Run("Unknown Route", func(t *testing.T) {
		w := httptest.NewRecorder()
		app.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/sources", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestNew_ProviderOverrides(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	app, err := New(testConfig(t), db, chunk.NewMemoryRepo(), &recordingPublisher{}, nil, &Options{
		Embedder:  &MockEmbedder{},
		Generator: &MockGenerator{},
	})
	require.NoError(t, err)
	defer app.Close()
	assert.Empty(t, app.closers)
}

func TestNew_MissingDependencies(t *testing.T) {
	_, err := New(testConfig(t), nil, chunk.NewMemoryRepo(), &recordingPublisher{}, nil, nil)
	assert.Error(t, err)
}

func TestClose_Idempotent(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	app, err := New(testConfig(t), db, chunk.NewMemoryRepo(), &recordingPublisher{}, nil, nil)
	require.NoError(t, err)
	app.Close()
	assert.NotPanics(t, app.Close)
}
