package answer

import (
	"fmt"
	"sort"
	"strings"

	"finsight/internal/chunk"
	"finsight/internal/format"
	"finsight/internal/ledger"
	"finsight/internal/vector"
)

const defaultHistoryTurns = 5

// Exchange is one prior query and its response.
type Exchange struct {
	Query    string
	Response string
}

type ContextInput struct {
	Query    string
	UserName string
	Live     *ledger.Snapshot
	Matches  []vector.Scored
	History  []Exchange
	// Tabular asks the model to answer with a markdown table.
	Tabular bool
}

type Composed struct {
	System string
	User   string
}

// Composer builds the bounded prompt for the generative fallback. Excerpts
// are cut to charBudget runes each.
type Composer struct {
	assistant  string
	charBudget int
	maxTurns   int
	format     *format.Formatter
}

func NewComposer(assistant string, charBudget int, f *format.Formatter) *Composer {
	if charBudget <= 0 {
		charBudget = 600
	}
	return &Composer{assistant: assistant, charBudget: charBudget, maxTurns: defaultHistoryTurns, format: f}
}

func (c *Composer) Compose(in ContextInput) Composed {
	rules := []string{
		fmt.Sprintf("You are %s, an assistant for a community committee's financial records.", c.assistant),
		fmt.Sprintf("Write every amount with the %s symbol and digit grouping, for example %s.", c.format.Symbol(), c.format.Amount(12500)),
		"When listing several records, use a markdown table.",
		"Only use figures that appear in the context below. If the context does not contain the answer, say that the records do not show it.",
		"Keep answers short and factual.",
	}
	if in.Tabular {
		rules = append(rules, "The user asked for a listing, so answer with a table.")
	}

	var b strings.Builder
	c.writeLive(&b, in.Live)
	c.writeMatches(&b, in.Matches)
	c.writeHistory(&b, in.History)

	asker := "the user"
	if in.UserName != "" {
		asker = in.UserName
	}
	fmt.Fprintf(&b, "Question from %s: %s\n", asker, strings.TrimSpace(in.Query))

	return Composed{System: strings.Join(rules, "\n"), User: b.String()}
}

func (c *Composer) writeLive(b *strings.Builder, live *ledger.Snapshot) {
	if live == nil || live.Event == nil {
		b.WriteString("Live data: no event is currently active.\n\n")
		return
	}
	recs := FromLedger(live)
	income := Total(recs, CategoryIncome)
	expense := Total(recs, CategoryExpense)
	fmt.Fprintf(b, "Live data (%s):\n", live.Event.Label())
	fmt.Fprintf(b, "- income %s across %s entries\n", c.format.Amount(income), c.format.Int(int64(len(live.Incomes))))
	fmt.Fprintf(b, "- expenses %s across %s entries\n", c.format.Amount(expense), c.format.Int(int64(len(live.Expenses))))
	fmt.Fprintf(b, "- balance %s\n\n", c.format.Amount(income-expense))
}

func (c *Composer) writeMatches(b *strings.Builder, matches []vector.Scored) {
	if len(matches) == 0 {
		b.WriteString("Historical excerpts: none matched.\n\n")
		return
	}

	b.WriteString("Historical excerpts:\n")
	byYear := map[int][]chunk.Chunk{}
	var order []int
	for _, m := range matches {
		fmt.Fprintf(b, "- [%s #%d, score %.2f] %s\n", m.Chunk.SourceKey, m.Chunk.Index, m.Score, truncate(m.Chunk.Content, c.charBudget))
		y := m.Chunk.Metadata.Year
		if _, ok := byYear[y]; !ok {
			order = append(order, y)
		}
		byYear[y] = append(byYear[y], m.Chunk)
	}

	sort.Ints(order)
	for _, y := range order {
		recs := FromChunks(byYear[y])
		if len(recs) == 0 || y == 0 {
			continue
		}
		fmt.Fprintf(b, "Totals in excerpts for %d: income %s, expenses %s\n", y, c.format.Amount(Total(recs, CategoryIncome)), c.format.Amount(Total(recs, CategoryExpense)))
	}
	b.WriteString("\n")
}

func (c *Composer) writeHistory(b *strings.Builder, history []Exchange) {
	if len(history) == 0 {
		return
	}
	if len(history) > c.maxTurns {
		history = history[len(history)-c.maxTurns:]
	}
	b.WriteString("Recent conversation:\n")
	for _, h := range history {
		fmt.Fprintf(b, "User: %s\nAssistant: %s\n", truncate(h.Query, c.charBudget), truncate(h.Response, c.charBudget))
	}
	b.WriteString("\n")
}

func truncate(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
