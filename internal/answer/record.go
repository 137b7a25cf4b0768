// Package answer resolves queries deterministically from live and historical
// records and composes the bounded context for the generative fallback.
package answer

import (
	"strconv"
	"strings"

	"finsight/internal/chunk"
	"finsight/internal/format"
	"finsight/internal/ledger"
)

const (
	CategoryIncome  = "income"
	CategoryExpense = "expense"
)

// Record is one income or expense entry, live or recovered from chunk
// provenance.
type Record struct {
	ID       string
	Name     string
	Amount   float64
	Category string
	Status   string
}

func normalizeCategory(c string) string {
	switch strings.ToLower(strings.TrimSpace(c)) {
	case "income", "incomes", "donation", "donations", "collection", "collections", "contribution", "contributions":
		return CategoryIncome
	case "expense", "expenses", "expenditure", "spend", "spending":
		return CategoryExpense
	}
	return strings.ToLower(strings.TrimSpace(c))
}

// FromLedger flattens a live snapshot into records.
func FromLedger(s *ledger.Snapshot) []Record {
	if s == nil {
		return nil
	}
	out := make([]Record, 0, len(s.Incomes)+len(s.Expenses))
	for _, in := range s.Incomes {
		out = append(out, Record{ID: in.ID, Name: in.Name, Amount: in.Amount, Category: CategoryIncome, Status: strings.ToLower(in.Status)})
	}
	for _, ex := range s.Expenses {
		out = append(out, Record{ID: ex.ID, Name: ex.Description, Amount: ex.Amount, Category: CategoryExpense, Status: strings.ToLower(ex.Status)})
	}
	return out
}

// FromChunks collects the provenance entries of chunks into records. An
// entry is counted once per source key even if it reappears in another
// chunk; entries without a parseable amount are dropped.
func FromChunks(chunks []chunk.Chunk) []Record {
	seen := map[string]bool{}
	var out []Record
	for _, c := range chunks {
		for _, e := range c.Metadata.Entries {
			amount, ok := format.ParseAmount(e.Amount)
			if !ok {
				continue
			}
			key := c.SourceKey + "|" + e.Category + "|" + e.ID
			if e.ID == "" {
				key = c.SourceKey + "|line|" + strconv.Itoa(e.Line)
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, Record{ID: e.ID, Name: e.Name, Amount: amount, Category: normalizeCategory(e.Category), Status: e.Status})
		}
	}
	return out
}

func filterCategory(recs []Record, category string) []Record {
	if category == "" {
		return recs
	}
	var out []Record
	for _, r := range recs {
		if r.Category == category {
			out = append(out, r)
		}
	}
	return out
}

func sum(recs []Record) float64 {
	var total float64
	for _, r := range recs {
		total += r.Amount
	}
	return total
}

// Total sums the records of one category.
func Total(recs []Record, category string) float64 {
	return sum(filterCategory(recs, category))
}
