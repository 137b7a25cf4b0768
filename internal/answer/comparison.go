package answer

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"finsight/internal/chunk"
	"finsight/internal/format"
	"finsight/internal/intent"
	"finsight/internal/ledger"
)

type Comparison struct {
	chunks ChunkFinder
	format *format.Formatter
}

func NewComparison(chunks ChunkFinder, f *format.Formatter) *Comparison {
	return &Comparison{chunks: chunks, format: f}
}

// ComparisonResult reports which sides fed the answer. Text is empty when the
// query names fewer than two years or either year has no records.
type ComparisonResult struct {
	Text       string
	Live       bool
	Historical bool
}

// Resolve compares the first two distinct years of the query. A year whose
// number appears in the live event's label is read from live records, any
// other from ready chunks of that year.
func (c *Comparison) Resolve(ctx context.Context, query string, live *ledger.Snapshot) (ComparisonResult, error) {
	var res ComparisonResult
	years := intent.ExtractYears(query)
	if len(years) < 2 {
		return res, nil
	}
	years = years[:2]

	category := queryCategory(strings.ToLower(query))
	if category == "" {
		category = CategoryIncome
	}

	totals := make([]float64, 2)
	for i, y := range years {
		var recs []Record
		if isLiveYear(live, y) {
			recs = filterCategory(FromLedger(live), category)
			res.Live = true
		} else {
			chunks, err := c.chunks.FindByStatus(ctx, chunk.StatusReady, chunk.Filter{Year: y})
			if err != nil {
				return ComparisonResult{}, err
			}
			recs = filterCategory(FromChunks(chunks), category)
			res.Historical = true
		}
		if len(recs) == 0 {
			return ComparisonResult{}, nil
		}
		totals[i] = sum(recs)
	}

	label := "income"
	if category == CategoryExpense {
		label = "expenses"
	}
	heading := "Total " + label
	rows := [][]string{
		{strconv.Itoa(years[0]), c.format.Amount(totals[0])},
		{strconv.Itoa(years[1]), c.format.Amount(totals[1])},
	}
	table := format.Table([]string{"Year", heading}, rows)

	res.Text = table + "\n\n" + c.summary(label, years, totals)
	return res, nil
}

func (c *Comparison) summary(label string, years []int, totals []float64) string {
	from, to := totals[0], totals[1]
	delta := to - from
	subject := strings.ToUpper(label[:1]) + label[1:]

	if delta == 0 {
		return fmt.Sprintf("%s was unchanged at %s in %d and %d.", subject, c.format.Amount(to), years[0], years[1])
	}

	direction := "an increase"
	if delta < 0 {
		direction = "a decrease"
	}
	change := c.format.Amount(math.Abs(delta))
	if from == 0 {
		return fmt.Sprintf("%s went from %s in %d to %s in %d, %s of %s.", subject, c.format.Amount(from), years[0], c.format.Amount(to), years[1], direction, change)
	}
	pct := format.Percent(math.Abs(delta) / math.Abs(from) * 100)
	return fmt.Sprintf("%s went from %s in %d to %s in %d, %s of %s (%s).", subject, c.format.Amount(from), years[0], c.format.Amount(to), years[1], direction, change, pct)
}

func isLiveYear(live *ledger.Snapshot, year int) bool {
	if live == nil || live.Event == nil {
		return false
	}
	return live.Event.Year == year || strings.Contains(live.Event.Label(), strconv.Itoa(year))
}
