package vector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

type fakeSchemaClient struct {
	existing  *models.Class
	existsErr error
	created   *models.Class
	added     []*models.Property
}

func (f *fakeSchemaClient) ClassExists(ctx context.Context, className string) (bool, error) {
	return f.existing != nil, f.existsErr
}

func (f *fakeSchemaClient) CreateClass(ctx context.Context, class *models.Class) error {
	f.created = class
	return nil
}

func (f *fakeSchemaClient) GetClass(ctx context.Context, className string) (*models.Class, error) {
	return f.existing, nil
}

func (f *fakeSchemaClient) AddProperty(ctx context.Context, className string, property *models.Property) error {
	f.added = append(f.added, property)
	return nil
}

func TestEnsureSchema(t *testing.T) {
	t.Run("Creates Class", func(t *testing.T) {
		client := &fakeSchemaClient{}
		require.NoError(t, EnsureSchema(context.Background(), client))
		require.NotNil(t, client.created)
		assert.Equal(t, ClassName, client.created.Class)
		assert.Equal(t, "none", client.created.Vectorizer)

		types := map[string]string{}
		for _, p := range client.created.Properties {
			types[p.Name] = p.DataType[0]
		}
		assert.Equal(t, "string", types["sourceKey"])
		assert.Equal(t, "int", types["year"])
		assert.Equal(t, "string", types["status"])
	})

	t.Run("Adds Missing Properties", func(t *testing.T) {
		client := &fakeSchemaClient{existing: &models.Class{
			Class: ClassName,
			Properties: []*models.Property{
				{Name: "content", DataType: []string{"text"}},
				{Name: "sourceKey", DataType: []string{"string"}},
			},
		}}
		require.NoError(t, EnsureSchema(context.Background(), client))
		assert.Nil(t, client.created)

		names := map[string]bool{}
		for _, p := range client.added {
			names[p.Name] = true
		}
		assert.True(t, names["year"])
		assert.True(t, names["metadata"])
		assert.False(t, names["content"])
	})

	t.Run("Exists Check Fails", func(t *testing.T) {
		client := &fakeSchemaClient{existsErr: errors.New("unreachable")}
		assert.Error(t, EnsureSchema(context.Background(), client))
	})
}

func TestSchemaAdapter_ClassExists(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/meta" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"version": "1.19.0"}`))
			return
		}
		assert.Equal(t, "/v1/schema/"+ClassName, r.URL.Path)
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(&models.Class{Class: ClassName})
	}))
	defer ts.Close()

	client, err := weaviate.NewClient(weaviate.Config{Host: ts.Listener.Addr().String(), Scheme: "http"})
	require.NoError(t, err)

	exists, err := NewSchemaAdapter(client).ClassExists(context.Background(), ClassName)
	assert.NoError(t, err)
	assert.True(t, exists)
}
