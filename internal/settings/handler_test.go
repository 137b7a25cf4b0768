package settings_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"finsight/internal/settings"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Get(ctx context.Context) (*settings.Settings, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*settings.Settings), args.Error(1)
}

func (m *MockRepository) Update(ctx context.Context, s *settings.Settings) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

var defaults = settings.Defaults{
	EmbeddingModel:      "gemini-embedding-001",
	SimpleModel:         "gemini-1.5-flash",
	ComplexModel:        "gemini-1.5-pro",
	SimilarityThreshold: 0.6,
	SearchTopK:          15,
}

func TestService_GetAppliesDefaults(t *testing.T) {
	svc := settings.NewService(settings.NewMemoryRepo(settings.Settings{GeminiAPIKey: "abc", SearchTopK: 8}), defaults)

	s, err := svc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", s.GeminiAPIKey)
	assert.Equal(t, 8, s.SearchTopK)
	assert.Equal(t, float32(0.6), s.SimilarityThreshold)
	assert.Equal(t, "gemini-1.5-pro", s.ComplexModel)
}

func TestHandler_GetSettings(t *testing.T) {
	t.Run("Masks Key", func(t *testing.T) {
		mockRepo := new(MockRepository)
		handler := settings.NewHandler(settings.NewService(mockRepo, defaults))
		mockRepo.On("Get", mock.Anything).Return(&settings.Settings{GeminiAPIKey: "secret-1234"}, nil)

		w := httptest.NewRecorder()
		handler.GetSettings(w, httptest.NewRequest("GET", "/settings", nil))
		assert.Equal(t, http.StatusOK, w.Code)

		var body map[string]map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "****1234", body["data"]["gemini_api_key"])
		assert.Equal(t, 15.0, body["data"]["search_top_k"])
		mockRepo.AssertExpectations(t)
	})

	t.Run("InternalError", func(t *testing.T) {
		mockRepo := new(MockRepository)
		handler := settings.NewHandler(settings.NewService(mockRepo, defaults))
		mockRepo.On("Get", mock.Anything).Return(nil, errors.New("db error"))

		w := httptest.NewRecorder()
		handler.GetSettings(w, httptest.NewRequest("GET", "/settings", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestHandler_UpdateSettings(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		mockRepo := new(MockRepository)
		handler := settings.NewHandler(settings.NewService(mockRepo, defaults))
		mockRepo.On("Update", mock.Anything, mock.MatchedBy(func(s *settings.Settings) bool {
			return s.SearchTopK == 10 && s.SimilarityThreshold == 0.7
		})).Return(nil)

		body, _ := json.Marshal(settings.Settings{SearchTopK: 10, SimilarityThreshold: 0.7})
		w := httptest.NewRecorder()
		handler.UpdateSettings(w, httptest.NewRequest("PUT", "/settings", bytes.NewBuffer(body)))

		assert.Equal(t, http.StatusOK, w.Code)
		mockRepo.AssertExpectations(t)
	})

	t.Run("Out Of Range Threshold", func(t *testing.T) {
		mockRepo := new(MockRepository)
		handler := settings.NewHandler(settings.NewService(mockRepo, defaults))

		w := httptest.NewRecorder()
		handler.UpdateSettings(w, httptest.NewRequest("PUT", "/settings", bytes.NewBufferString(`{"similarity_threshold": 1.5}`)))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockRepo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})

	t.Run("Invalid JSON", func(t *testing.T) {
		handler := settings.NewHandler(settings.NewService(new(MockRepository), defaults))

		w := httptest.NewRecorder()
		handler.UpdateSettings(w, httptest.NewRequest("PUT", "/settings", bytes.NewBufferString("invalid json")))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
