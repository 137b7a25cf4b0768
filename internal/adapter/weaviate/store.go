// Package weaviate stores snapshot chunks in a Weaviate class. It satisfies
// chunk.Repository and is selected with CHUNK_STORE=weaviate.
package weaviate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"finsight/internal/apperr"
	"finsight/internal/chunk"
	"finsight/internal/text"
	"finsight/internal/vector"
)

const defaultPageSize = 500

type Store struct {
	client   *weaviate.Client
	pageSize int
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client, pageSize: defaultPageSize}
}

// EnsureSchema creates the chunk class when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return vector.EnsureSchema(ctx, vector.NewSchemaAdapter(s.client))
}

func sourceKeyWhere(sourceKey string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"sourceKey"}).
		WithOperator(filters.Equal).
		WithValueString(sourceKey)
}

func buildWhere(status chunk.Status, f chunk.Filter) *filters.WhereBuilder {
	operands := []*filters.WhereBuilder{}
	if status != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"status"}).
			WithOperator(filters.Equal).
			WithValueString(string(status)))
	}
	if f.SourceKey != "" {
		operands = append(operands, sourceKeyWhere(f.SourceKey))
	}
	if f.Year != 0 {
		operands = append(operands, filters.Where().
			WithPath([]string{"year"}).
			WithOperator(filters.Equal).
			WithValueInt(int64(f.Year)))
	}
	switch len(operands) {
	case 0:
		return nil
	case 1:
		return operands[0]
	default:
		return filters.Where().WithOperator(filters.And).WithOperands(operands)
	}
}

func (s *Store) PurgeBySourceKey(ctx context.Context, sourceKey string) (int, error) {
	resp, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(vector.ClassName).
		WithOutput("minimal").
		WithWhere(sourceKeyWhere(sourceKey)).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: purge chunks: %v", apperr.ErrPersistence, err)
	}
	if resp == nil || resp.Results == nil {
		return 0, nil
	}
	return int(resp.Results.Successful), nil
}

func toProperties(c chunk.Chunk) (map[string]interface{}, error) {
	meta, err := json.Marshal(c.Metadata.Provenance)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"content":    c.Content,
		"sourceKey":  c.SourceKey,
		"chunkIndex": c.Index,
		"year":       c.Metadata.Year,
		"eventName":  c.Metadata.EventName,
		"status":     string(c.Status),
		"metadata":   string(meta),
	}, nil
}

// BulkInsert sends all chunks in one batch request. Objects rejected by
// Weaviate are reported individually; the rest are kept.
func (s *Store) BulkInsert(ctx context.Context, chunks []chunk.Chunk) (chunk.BulkResult, error) {
	var res chunk.BulkResult

	objects := make([]*models.Object, 0, len(chunks))
	positions := make([]int, 0, len(chunks))
	for i := range chunks {
		c := &chunks[i]
		if strings.TrimSpace(c.Content) == "" {
			res.Failed = append(res.Failed, chunk.InsertFailure{Index: i, Err: fmt.Errorf("%w: chunk content is empty", apperr.ErrValidation)})
			continue
		}
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.Status == "" {
			c.Status = chunk.StatusProcessing
		}
		props, err := toProperties(*c)
		if err != nil {
			res.Failed = append(res.Failed, chunk.InsertFailure{Index: i, Err: err})
			continue
		}
		objects = append(objects, &models.Object{
			Class:      vector.ClassName,
			ID:         strfmt.UUID(c.ID),
			Properties: props,
			Vector:     models.C11yVector(c.Embedding),
		})
		positions = append(positions, i)
	}

	if len(objects) == 0 {
		return res, nil
	}

	responses, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return res, fmt.Errorf("%w: batch insert: %v", apperr.ErrPersistence, err)
	}

	for i, r := range responses {
		if i >= len(positions) {
			break
		}
		if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			msg := r.Result.Errors.Error[0].Message
			slog.WarnContext(ctx, "chunk insert rejected, skipping", "chunk_index", chunks[positions[i]].Index, "error", msg)
			res.Failed = append(res.Failed, chunk.InsertFailure{Index: positions[i], Err: fmt.Errorf("weaviate: %s", msg)})
			continue
		}
		res.Inserted++
	}
	return res, nil
}

var getFields = []graphql.Field{
	{Name: "content"},
	{Name: "sourceKey"},
	{Name: "chunkIndex"},
	{Name: "year"},
	{Name: "eventName"},
	{Name: "status"},
	{Name: "metadata"},
	{Name: "_additional", Fields: []graphql.Field{{Name: "id"}, {Name: "vector"}}},
}

func (s *Store) FindByStatus(ctx context.Context, status chunk.Status, filter chunk.Filter) ([]chunk.Chunk, error) {
	var out []chunk.Chunk
	for offset := 0; ; offset += s.pageSize {
		page, err := s.getPage(ctx, buildWhere(status, filter), s.pageSize, offset)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < s.pageSize {
			break
		}
	}
	return out, nil
}

func (s *Store) getPage(ctx context.Context, where *filters.WhereBuilder, limit, offset int) ([]chunk.Chunk, error) {
	q := s.client.GraphQL().Get().
		WithClassName(vector.ClassName).
		WithLimit(limit).
		WithOffset(offset).
		WithFields(getFields...)
	if where != nil {
		q = q.WithWhere(where)
	}
	res, err := q.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: get chunks: %v", apperr.ErrPersistence, err)
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("%w: graphql error: %v", apperr.ErrPersistence, res.Errors[0].Message)
	}

	var chunks []chunk.Chunk
	data, _ := res.Data["Get"].(map[string]interface{})
	raw, _ := data[vector.ClassName].([]interface{})
	for _, item := range raw {
		props, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		chunks = append(chunks, parseChunk(props))
	}
	return chunks, nil
}

func parseChunk(props map[string]interface{}) chunk.Chunk {
	var c chunk.Chunk
	c.Content, _ = props["content"].(string)
	c.SourceKey, _ = props["sourceKey"].(string)
	if v, ok := props["chunkIndex"].(float64); ok {
		c.Index = int(v)
	}
	if v, ok := props["year"].(float64); ok {
		c.Metadata.Year = int(v)
	}
	c.Metadata.EventName, _ = props["eventName"].(string)
	if v, ok := props["status"].(string); ok {
		c.Status = chunk.Status(v)
	}
	if v, ok := props["metadata"].(string); ok && v != "" {
		var prov text.Provenance
		if err := json.Unmarshal([]byte(v), &prov); err == nil {
			c.Metadata.Provenance = prov
		}
	}
	if additional, ok := props["_additional"].(map[string]interface{}); ok {
		c.ID, _ = additional["id"].(string)
		if vec, ok := additional["vector"].([]interface{}); ok {
			c.Embedding = make([]float32, 0, len(vec))
			for _, x := range vec {
				if f, ok := x.(float64); ok {
					c.Embedding = append(c.Embedding, float32(f))
				}
			}
		}
	}
	return c
}

// MarkReady flips processing chunks of sourceKey to ready. Weaviate has no
// update-by-filter, so each object is merged individually.
func (s *Store) MarkReady(ctx context.Context, sourceKey string) (int, error) {
	pending, err := s.FindByStatus(ctx, chunk.StatusProcessing, chunk.Filter{SourceKey: sourceKey})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range pending {
		err := s.client.Data().Updater().
			WithMerge().
			WithID(c.ID).
			WithClassName(vector.ClassName).
			WithProperties(map[string]interface{}{"status": string(chunk.StatusReady)}).
			Do(ctx)
		if err != nil {
			return n, fmt.Errorf("%w: mark chunk ready: %v", apperr.ErrPersistence, err)
		}
		n++
	}
	return n, nil
}

func (s *Store) Count(ctx context.Context, status chunk.Status) (int, error) {
	q := s.client.GraphQL().Aggregate().
		WithClassName(vector.ClassName).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}})
	if where := buildWhere(status, chunk.Filter{}); where != nil {
		q = q.WithWhere(where)
	}
	res, err := q.Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: count chunks: %v", apperr.ErrPersistence, err)
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("%w: graphql error: %v", apperr.ErrPersistence, res.Errors[0].Message)
	}

	agg, _ := res.Data["Aggregate"].(map[string]interface{})
	list, _ := agg[vector.ClassName].([]interface{})
	if len(list) == 0 {
		return 0, nil
	}
	first, _ := list[0].(map[string]interface{})
	meta, _ := first["meta"].(map[string]interface{})
	count, _ := meta["count"].(float64)
	return int(count), nil
}
