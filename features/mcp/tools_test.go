package mcp_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"finsight/features/chat"
	"finsight/features/mcp"
	"finsight/features/snapshot"
	"finsight/internal/apperr"
	"finsight/internal/chunk"
	"finsight/internal/middleware"
	"finsight/internal/retrieval"
	"finsight/internal/vector"
)

type MockAsker struct {
	mock.Mock
}

func (m *MockAsker) Answer(ctx context.Context, req chat.Request) (*chat.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*chat.Response), args.Error(1)
}

type MockSearcher struct {
	mock.Mock
}

func (m *MockSearcher) Search(ctx context.Context, query string, opts retrieval.SearchOptions) ([]vector.Scored, error) {
	args := m.Called(ctx, query, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]vector.Scored), args.Error(1)
}

type MockSnapshots struct {
	mock.Mock
}

func (m *MockSnapshots) List(ctx context.Context) ([]snapshot.Snapshot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]snapshot.Snapshot), args.Error(1)
}

func (m *MockSnapshots) Get(ctx context.Context, key string) (*snapshot.Detail, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*snapshot.Detail), args.Error(1)
}

type fixture struct {
	asker   *MockAsker
	search  *MockSearcher
	snaps   *MockSnapshots
	handler *mcp.Handler
}

func newFixture() *fixture {
	f := &fixture{asker: new(MockAsker), search: new(MockSearcher), snaps: new(MockSnapshots)}
	f.handler = mcp.NewHandler(f.asker, f.search, f.snaps)
	return f
}

func (f *fixture) call(t *testing.T, name string, args interface{}) *mcp.JSONRPCResponse {
	t.Helper()
	argsJSON, err := json.Marshal(args)
	require.NoError(t, err)
	params, err := json.Marshal(mcp.CallParams{Name: name, Arguments: argsJSON})
	require.NoError(t, err)
	resp := f.handler.ProcessRequest(context.Background(), mcp.JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  "tools/call",
		Params:  params,
		ID:      7,
	})
	require.NotNil(t, resp)
	return resp
}

func errorCode(t *testing.T, resp *mcp.JSONRPCResponse) (int, string) {
	t.Helper()
	require.NotNil(t, resp.Error)
	errMap := resp.Error.(map[string]interface{})
	return errMap["code"].(int), errMap["message"].(string)
}

func TestProcessRequest_Initialize(t *testing.T) {
	f := newFixture()
	resp := f.handler.ProcessRequest(context.Background(), mcp.JSONRPCRequest{JSONRPC: "2.0", Method: "initialize", ID: 1})

	require.NotNil(t, resp)
	assert.Equal(t, 1, resp.ID)
	result := resp.Result.(map[string]interface{})
	assert.Equal(t, "2024-11-05", result["protocolVersion"])
	assert.NotNil(t, result["capabilities"])
}

func TestProcessRequest_NotificationsInitialized(t *testing.T) {
	f := newFixture()
	assert.Nil(t, f.handler.ProcessRequest(context.Background(), mcp.JSONRPCRequest{Method: "notifications/initialized"}))
}

func TestProcessRequest_UnknownMethod(t *testing.T) {
	f := newFixture()
	resp := f.handler.ProcessRequest(context.Background(), mcp.JSONRPCRequest{Method: "resources/list", ID: 9})
	code, _ := errorCode(t, resp)
	assert.Equal(t, mcp.ErrMethodNotFound, code)
}

func TestProcessRequest_ToolsList(t *testing.T) {
	f := newFixture()
	resp := f.handler.ProcessRequest(context.Background(), mcp.JSONRPCRequest{Method: "tools/list", ID: 2})

	result := resp.Result.(mcp.ListToolsResult)
	names := make([]string, len(result.Tools))
	for i, tool := range result.Tools {
		names[i] = tool.Name
	}
	assert.Equal(t, []string{"finsight_ask", "finsight_search", "finsight_list_snapshots", "finsight_read_snapshot"}, names)
}

func TestProcessRequest_ToolCall_Errors(t *testing.T) {
	f := newFixture()

	t.Run("Unknown Tool", func(t *testing.T) {
		code, msg := errorCode(t, f.call(t, "legacy_search", map[string]string{}))
		assert.Equal(t, mcp.ErrMethodNotFound, code)
		assert.Contains(t, msg, "legacy_search")
	})

	t.Run("Bad Params", func(t *testing.T) {
		resp := f.handler.ProcessRequest(context.Background(), mcp.JSONRPCRequest{Method: "tools/call", Params: json.RawMessage(`[1]`), ID: 3})
		code, _ := errorCode(t, resp)
		assert.Equal(t, mcp.ErrInvalidParams, code)
	})
}

func TestAsk(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		f := newFixture()
		f.asker.On("Answer", mock.MatchedBy(func(ctx context.Context) bool {
			id, name := middleware.GetUser(ctx)
			return id == "u1" && name == "Meera"
		}), chat.Request{UserID: "u1", UserName: "Meera", Query: "total income"}).
			Return(&chat.Response{Text: "Total income: ₹350", DataSource: chat.SourceAppData}, nil)

		resp := f.call(t, "finsight_ask", map[string]string{"query": "total income", "user_id": "u1", "user_name": "Meera"})
		require.Nil(t, resp.Error)
		result := resp.Result.(mcp.ToolResult)
		assert.False(t, result.IsError)
		assert.Equal(t, "Total income: ₹350\n\n(source: app_data)", result.Content[0].Text)
		f.asker.AssertExpectations(t)
	})

	t.Run("Missing Query", func(t *testing.T) {
		f := newFixture()
		code, msg := errorCode(t, f.call(t, "finsight_ask", map[string]string{"query": "  "}))
		assert.Equal(t, mcp.ErrInvalidParams, code)
		assert.Equal(t, "Query is required", msg)
		f.asker.AssertNotCalled(t, "Answer", mock.Anything, mock.Anything)
	})

	t.Run("Service Error", func(t *testing.T) {
		f := newFixture()
		f.asker.On("Answer", mock.Anything, mock.Anything).Return(nil, errors.New("boom"))
		result := f.call(t, "finsight_ask", map[string]string{"query": "hi"}).Result.(mcp.ToolResult)
		assert.True(t, result.IsError)
		assert.Equal(t, "Error: boom", result.Content[0].Text)
	})
}

func TestSearch(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		f := newFixture()
		limit := 3
		f.search.On("Search", mock.Anything, "decorations", retrieval.SearchOptions{Year: 2023, TopK: &limit}).
			Return([]vector.Scored{{
				Chunk: chunk.Chunk{SourceKey: "durga-puja-2023", Index: 2, Content: "[expense] Name: Pandal | Amount: ₹700", Metadata: chunk.Metadata{Year: 2023}},
				Score: 0.91,
			}}, nil)

		resp := f.call(t, "finsight_search", map[string]interface{}{"query": "decorations", "year": 2023, "limit": 3})
		require.Nil(t, resp.Error)
		text := resp.Result.(mcp.ToolResult).Content[0].Text
		assert.Contains(t, text, "Result 1 (Score: 0.91):")
		assert.Contains(t, text, "Snapshot: durga-puja-2023 (chunk 2)")
		assert.Contains(t, text, "Year: 2023")
		assert.Contains(t, text, "Pandal")
		f.search.AssertExpectations(t)
	})

	t.Run("No Results", func(t *testing.T) {
		f := newFixture()
		f.search.On("Search", mock.Anything, "nothing", mock.Anything).Return([]vector.Scored{}, nil)
		resp := f.call(t, "finsight_search", map[string]interface{}{"query": "nothing"})
		assert.Equal(t, "No results found.", resp.Result.(mcp.ToolResult).Content[0].Text)
	})

	t.Run("Provider Failure", func(t *testing.T) {
		f := newFixture()
		f.search.On("Search", mock.Anything, "q", mock.Anything).Return(nil, fmt.Errorf("%w: quota", apperr.ErrProvider))
		code, msg := errorCode(t, f.call(t, "finsight_search", map[string]interface{}{"query": "q"}))
		assert.Equal(t, mcp.ErrInternal, code)
		assert.Contains(t, msg, "Search failed")
	})

	invalid := []struct {
		name string
		args map[string]interface{}
		msg  string
	}{
		{"Missing Query", map[string]interface{}{}, "Query is required"},
		{"Year Out Of Range", map[string]interface{}{"query": "q", "year": 1999}, "Year must be between 2000 and 2099"},
		{"Limit Too Low", map[string]interface{}{"query": "q", "limit": 0}, "Limit must be between 1 and 50"},
		{"Limit Too High", map[string]interface{}{"query": "q", "limit": 51}, "Limit must be between 1 and 50"},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			code, msg := errorCode(t, f.call(t, "finsight_search", tt.args))
			assert.Equal(t, mcp.ErrInvalidParams, code)
			assert.Equal(t, tt.msg, msg)
			f.search.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestListSnapshots(t *testing.T) {
	f := newFixture()
	f.snaps.On("List", mock.Anything).Return([]snapshot.Snapshot{
		{SourceKey: "durga-puja-2023", EventName: "Durga Puja", Year: 2023, Status: snapshot.StatusReady, ChunkCount: 4},
	}, nil).Once()

	text := f.call(t, "finsight_list_snapshots", map[string]interface{}{}).Result.(mcp.ToolResult).Content[0].Text
	var got []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "durga-puja-2023", got[0]["source_key"])
	assert.Equal(t, "Durga Puja 2023", got[0]["event"])
	assert.Equal(t, "ready", got[0]["status"])
	assert.EqualValues(t, 4, got[0]["chunk_count"])

	f.snaps.On("List", mock.Anything).Return([]snapshot.Snapshot{}, nil).Once()
	text = f.call(t, "finsight_list_snapshots", nil).Result.(mcp.ToolResult).Content[0].Text
	assert.Equal(t, "No snapshots found.", text)
}

func TestReadSnapshot(t *testing.T) {
	t.Run("Ready Chunks", func(t *testing.T) {
		f := newFixture()
		f.snaps.On("Get", mock.Anything, "durga-puja-2023").Return(&snapshot.Detail{
			Snapshot: snapshot.Snapshot{SourceKey: "durga-puja-2023", EventName: "Durga Puja", Year: 2023, Status: snapshot.StatusReady},
			Chunks: []snapshot.ChunkView{
				{Index: 0, Content: "Event: Durga Puja 2023"},
				{Index: 1, Content: "[income] Name: Ravi"},
			},
		}, nil)

		text := f.call(t, "finsight_read_snapshot", map[string]string{"source_key": "durga-puja-2023"}).Result.(mcp.ToolResult).Content[0].Text
		assert.Equal(t, "Snapshot: Durga Puja 2023\nStatus: ready\n\n[chunk 0]\nEvent: Durga Puja 2023\n\n[chunk 1]\n[income] Name: Ravi", text)
	})

	t.Run("Not Found", func(t *testing.T) {
		f := newFixture()
		f.snaps.On("Get", mock.Anything, "nope").Return(nil, fmt.Errorf("%w: snapshot nope", apperr.ErrNotFound))
		result := f.call(t, "finsight_read_snapshot", map[string]string{"source_key": "nope"}).Result.(mcp.ToolResult)
		assert.True(t, result.IsError)
		assert.Contains(t, result.Content[0].Text, "not found")
	})

	t.Run("Missing Key", func(t *testing.T) {
		f := newFixture()
		code, _ := errorCode(t, f.call(t, "finsight_read_snapshot", map[string]string{}))
		assert.Equal(t, mcp.ErrInvalidParams, code)
	})
}
