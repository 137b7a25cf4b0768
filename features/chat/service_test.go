package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finsight/internal/adapter/gemini"
	"finsight/internal/answer"
	"finsight/internal/apperr"
	"finsight/internal/chunk"
	"finsight/internal/format"
	"finsight/internal/ledger"
	"finsight/internal/retrieval"
	"finsight/internal/text"
	"finsight/internal/vector"
)

type stubGenerator struct {
	mu     sync.Mutex
	text   string
	err    error
	delay  time.Duration
	prompt gemini.Prompt
	calls  int
}

func (g *stubGenerator) Generate(ctx context.Context, p gemini.Prompt) (string, error) {
	g.mu.Lock()
	g.prompt = p
	g.calls++
	g.mu.Unlock()
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	return g.text, g.err
}

type stubSearcher struct {
	matches []vector.Scored
	err     error
	opts    retrieval.SearchOptions
}

func (s *stubSearcher) Search(ctx context.Context, query string, opts retrieval.SearchOptions) ([]vector.Scored, error) {
	s.opts = opts
	return s.matches, s.err
}

// blockingFinder holds every lookup until the caller's context ends.
type blockingFinder struct{}

func (blockingFinder) FindByStatus(ctx context.Context, status chunk.Status, filter chunk.Filter) ([]chunk.Chunk, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type fixture struct {
	live   *ledger.MemorySource
	chunks *chunk.MemoryRepo
	gen    *stubGenerator
	search *stubSearcher
	store  *MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		live: &ledger.MemorySource{
			Event: &ledger.Event{ID: "e1", Name: "Durga Puja", Year: 2024, Active: true},
			IncomeList: []ledger.Income{
				{ID: "i1", Name: "Ravi", Amount: 100, Status: "paid"},
				{ID: "i2", Name: "Asha", Amount: 250, Status: "pending"},
			},
		},
		chunks: chunk.NewMemoryRepo(),
		gen:    &stubGenerator{text: "Generated answer."},
		search: &stubSearcher{},
		store:  NewMemoryStore(),
	}
}

func (f *fixture) seed(t *testing.T, key string, year int, amount string) {
	t.Helper()
	_, err := f.chunks.BulkInsert(context.Background(), []chunk.Chunk{{
		SourceKey: key,
		Content:   "[income] ID: INC-1 | Amount: " + amount,
		Metadata: chunk.Metadata{Year: year, EventName: "Durga Puja", Provenance: text.Provenance{
			Entries: []text.Entry{{Line: 1, ID: "INC-1", Category: "income", Amount: amount}},
		}},
	}})
	require.NoError(t, err)
	_, err = f.chunks.MarkReady(context.Background(), key)
	require.NoError(t, err)
}

func (f *fixture) service(timeout time.Duration, rec *Recorder) *Service {
	fm := format.New("₹", "en-IN")
	return NewService(Deps{
		Templates:  answer.Templates{Assistant: "Finsight", DeveloperCredit: "the IT cell"},
		Direct:     answer.NewDirect(fm),
		Historical: answer.NewHistorical(f.chunks, fm),
		Comparison: answer.NewComparison(f.chunks, fm),
		Composer:   answer.NewComposer("Finsight", 600, fm),
		Live:       f.live,
		Search:     f.search,
		Generator:  f.gen,
		Store:      f.store,
		Recorder:   rec,
		Timeout:    timeout,
	})
}

func TestService_Answer(t *testing.T) {
	ctx := context.Background()

	t.Run("Greeting Wins Over Years", func(t *testing.T) {
		f := newFixture(t)
		resp, err := f.service(time.Second, nil).Answer(ctx, Request{UserName: "Meera", Query: "hello, income 2023 vs 2024"})
		require.NoError(t, err)
		assert.Equal(t, "greeting", resp.Intent)
		assert.Equal(t, SourceGeneral, resp.DataSource)
		assert.Contains(t, resp.Text, "Hello Meera")
		assert.Zero(t, f.gen.calls)
	})

	t.Run("Direct Live Answer", func(t *testing.T) {
		f := newFixture(t)
		resp, err := f.service(time.Second, nil).Answer(ctx, Request{Query: "total income"})
		require.NoError(t, err)
		assert.Equal(t, SourceAppData, resp.DataSource)
		assert.Contains(t, resp.Text, "350")
		assert.Zero(t, f.gen.calls)
	})

	t.Run("Historical Answer", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, "durga-puja-2023", 2023, "₹1,000")
		resp, err := f.service(time.Second, nil).Answer(ctx, Request{Query: "total income in 2023"})
		require.NoError(t, err)
		assert.Equal(t, SourceHistorical, resp.DataSource)
		assert.Contains(t, resp.Text, "₹1,000")
	})

	t.Run("Direct And Historical Concatenate", func(t *testing.T) {
		f := newFixture(t)
		f.live.Event.Year = 2023
		f.seed(t, "durga-puja-2023", 2023, "₹1,000")
		resp, err := f.service(time.Second, nil).Answer(ctx, Request{Query: "total income in 2023"})
		require.NoError(t, err)
		assert.Equal(t, SourceMixed, resp.DataSource)
		assert.Contains(t, resp.Text, "₹350")
		assert.Contains(t, resp.Text, "\n\n")
		assert.Contains(t, resp.Text, "₹1,000")
	})

	t.Run("Comparison Standalone", func(t *testing.T) {
		f := newFixture(t)
		f.live.Event = nil
		f.seed(t, "durga-puja-2023", 2023, "₹1,000")
		f.seed(t, "durga-puja-2024", 2024, "₹1,500")
		resp, err := f.service(time.Second, nil).Answer(ctx, Request{Query: "income 2023 vs 2024"})
		require.NoError(t, err)
		assert.Equal(t, "comparison", resp.Intent)
		assert.Equal(t, SourceHistorical, resp.DataSource)
		assert.Contains(t, resp.Text, "₹1,000")
		assert.Contains(t, resp.Text, "₹1,500")
		assert.Contains(t, resp.Text, "increase")
		assert.Contains(t, resp.Text, "50%")
	})

	t.Run("Comparison Mixed With Live", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, "durga-puja-2023", 2023, "₹100")
		resp, err := f.service(time.Second, nil).Answer(ctx, Request{Query: "compare income 2023 and 2024"})
		require.NoError(t, err)
		assert.Equal(t, SourceMixed, resp.DataSource)
		assert.Contains(t, resp.Text, "250%")
	})

	t.Run("Generative Fallback", func(t *testing.T) {
		f := newFixture(t)
		resp, err := f.service(time.Second, nil).Answer(ctx, Request{Query: "explain the pandal decoration plans in 2023"})
		require.NoError(t, err)
		assert.Equal(t, SourceGeneral, resp.DataSource)
		assert.Equal(t, "Generated answer.", resp.Text)
		assert.True(t, f.gen.prompt.Complex)
		assert.Equal(t, 2023, f.search.opts.Year)
	})

	t.Run("Provider Error Apologizes", func(t *testing.T) {
		f := newFixture(t)
		f.gen.err = errors.New("503 unavailable")
		f.search.err = errors.New("embed failed")
		resp, err := f.service(time.Second, nil).Answer(ctx, Request{UserName: "Meera", Query: "tell me a story"})
		require.NoError(t, err)
		assert.Equal(t, SourceGeneral, resp.DataSource)
		assert.Equal(t, answer.Apology("Meera"), resp.Text)
	})

	t.Run("Timeout Apologizes", func(t *testing.T) {
		f := newFixture(t)
		f.gen.delay = 2 * time.Second
		start := time.Now()
		resp, err := f.service(50*time.Millisecond, nil).Answer(ctx, Request{Query: "tell me a story"})
		require.NoError(t, err)
		assert.Less(t, time.Since(start), time.Second)
		assert.Equal(t, SourceGeneral, resp.DataSource)
		assert.NotEmpty(t, resp.Text)
	})

	t.Run("Timeout Keeps Direct Answer", func(t *testing.T) {
		f := newFixture(t)
		svc := f.service(50*time.Millisecond, nil)
		svc.deps.Historical = answer.NewHistorical(blockingFinder{}, format.New("₹", "en-IN"))

		start := time.Now()
		resp, err := svc.Answer(ctx, Request{UserName: "Meera", Query: "total income in 2024"})
		require.NoError(t, err)
		assert.Less(t, time.Since(start), time.Second)
		assert.Equal(t, SourceAppData, resp.DataSource)
		assert.Contains(t, resp.Text, "₹350")
		assert.NotEqual(t, answer.Apology("Meera"), resp.Text)
	})

	t.Run("Empty Query", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service(time.Second, nil).Answer(ctx, Request{Query: "   "})
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})

	t.Run("Records Turn", func(t *testing.T) {
		f := newFixture(t)
		rec := NewRecorder(f.store, 20, 2, 8)
		_, err := f.service(time.Second, rec).Answer(ctx, Request{UserID: "u1", Query: "total income"})
		require.NoError(t, err)
		rec.Close()

		turns, err := f.store.History(ctx, "u1", 0)
		require.NoError(t, err)
		require.Len(t, turns, 1)
		assert.Equal(t, SourceAppData, turns[0].DataSource)
		assert.Equal(t, "total income", turns[0].Query)
	})

	t.Run("Records Turn Latency", func(t *testing.T) {
		f := newFixture(t)
		f.gen.delay = 30 * time.Millisecond
		rec := NewRecorder(f.store, 20, 2, 8)
		resp, err := f.service(time.Second, rec).Answer(ctx, Request{UserID: "u1", Query: "tell me a story"})
		require.NoError(t, err)
		rec.Close()

		turns, err := f.store.History(ctx, "u1", 0)
		require.NoError(t, err)
		require.Len(t, turns, 1)
		assert.GreaterOrEqual(t, turns[0].LatencyMs, int64(30))
		assert.Equal(t, resp.LatencyMs, turns[0].LatencyMs)
	})

	t.Run("History Feeds Prompt", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.store.Append(ctx, Turn{UserID: "u1", Query: "earlier question", Response: "earlier answer"}, 20))
		_, err := f.service(time.Second, nil).Answer(ctx, Request{UserID: "u1", Query: "tell me a story"})
		require.NoError(t, err)
		assert.Contains(t, f.gen.prompt.User, "earlier question")
	})
}
