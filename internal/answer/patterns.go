package answer

import (
	"fmt"
	"regexp"
	"strings"

	"finsight/internal/format"
)

var (
	expenseRe   = regexp.MustCompile(`\b(?:expense|expenses|expenditure|spent|spend|spending|cost|costs)\b`)
	incomeRe    = regexp.MustCompile(`\b(?:income|incomes|collection|collections|collected|donation|donations|received|contribution|contributions)\b`)
	thresholdRe = regexp.MustCompile(`\b(above|over|more than|greater than|exceeding|below|under|less than)\s*(?:₹|rs\.?|inr)?\s*([\d,]+(?:\.\d+)?)`)
	pendingRe   = regexp.MustCompile(`\b(?:pending|unpaid|not paid|outstanding|due)\b`)
	paidRe      = regexp.MustCompile(`\bpaid\b`)
	countRe     = regexp.MustCompile(`\b(?:how many|number of|count)\b`)
	balanceRe   = regexp.MustCompile(`\b(?:balance|net|surplus|deficit|remaining|left over)\b`)
	totalRe     = regexp.MustCompile(`\b(?:total|sum|how much|overall)\b`)
)

// queryCategory picks the record category a query is about, "" when it
// names neither.
func queryCategory(q string) string {
	exp := expenseRe.MatchString(q)
	inc := incomeRe.MatchString(q)
	switch {
	case exp && !inc:
		return CategoryExpense
	case inc && !exp:
		return CategoryIncome
	}
	return ""
}

func noun(category string, n int) string {
	label := "entries"
	if n == 1 {
		label = "entry"
	}
	if category == "" {
		return label
	}
	return category + " " + label
}

// pattern answers one canonical question shape over records. It returns
// false when the query does not have that shape.
type pattern struct {
	name   string
	answer func(q string, recs []Record, scope string, f *format.Formatter) (string, bool)
}

var patterns = []pattern{
	{name: "threshold", answer: thresholdAnswer},
	{name: "status", answer: statusAnswer},
	{name: "count", answer: countAnswer},
	{name: "balance", answer: balanceAnswer},
	{name: "total", answer: totalAnswer},
}

// matchPattern runs the patterns in order and returns the first answer.
func matchPattern(q string, recs []Record, scope string, f *format.Formatter) (string, string) {
	q = strings.ToLower(q)
	for _, p := range patterns {
		if text, ok := p.answer(q, recs, scope, f); ok {
			return text, p.name
		}
	}
	return "", ""
}

func thresholdAnswer(q string, recs []Record, scope string, f *format.Formatter) (string, bool) {
	m := thresholdRe.FindStringSubmatch(q)
	if m == nil {
		return "", false
	}
	limit, ok := format.ParseAmount(m[2])
	if !ok {
		return "", false
	}
	below := m[1] == "below" || m[1] == "under" || m[1] == "less than"
	category := queryCategory(q)

	var hits []Record
	for _, r := range filterCategory(recs, category) {
		if (below && r.Amount < limit) || (!below && r.Amount > limit) {
			hits = append(hits, r)
		}
	}

	dir := "above"
	if below {
		dir = "below"
	}
	if len(hits) == 0 {
		return fmt.Sprintf("No %s %s %s in %s.", noun(category, 2), dir, f.Amount(limit), scope), true
	}

	rows := make([][]string, len(hits))
	for i, r := range hits {
		rows[i] = []string{r.Name, f.Amount(r.Amount), r.Status}
	}
	head := fmt.Sprintf("%s %s %s %s in %s, totalling %s:", f.Int(int64(len(hits))), noun(category, len(hits)), dir, f.Amount(limit), scope, f.Amount(sum(hits)))
	return head + "\n\n" + format.Table([]string{"Name", "Amount", "Status"}, rows), true
}

func statusAnswer(q string, recs []Record, scope string, f *format.Formatter) (string, bool) {
	wantPending := pendingRe.MatchString(q)
	wantPaid := paidRe.MatchString(strings.ReplaceAll(q, "not paid", ""))
	if !wantPending && !wantPaid {
		return "", false
	}
	category := queryCategory(q)
	scoped := filterCategory(recs, category)

	var paid, pending []Record
	for _, r := range scoped {
		switch r.Status {
		case "paid":
			paid = append(paid, r)
		case "pending", "unpaid", "due":
			pending = append(pending, r)
		}
	}

	line := func(label string, rs []Record) string {
		if category != "" {
			label += " " + category
		}
		return fmt.Sprintf("%s in %s: %s across %s %s.", label, scope, f.Amount(sum(rs)), f.Int(int64(len(rs))), noun("", len(rs)))
	}
	var parts []string
	if wantPaid {
		parts = append(parts, line("Paid", paid))
	}
	if wantPending {
		parts = append(parts, line("Pending", pending))
	}
	return strings.Join(parts, "\n"), true
}

func countAnswer(q string, recs []Record, scope string, f *format.Formatter) (string, bool) {
	if !countRe.MatchString(q) {
		return "", false
	}
	category := queryCategory(q)
	n := len(filterCategory(recs, category))
	verb := "are"
	if n == 1 {
		verb = "is"
	}
	return fmt.Sprintf("There %s %s %s in %s.", verb, f.Int(int64(n)), noun(category, n), scope), true
}

func balanceAnswer(q string, recs []Record, scope string, f *format.Formatter) (string, bool) {
	if !balanceRe.MatchString(q) {
		return "", false
	}
	income := Total(recs, CategoryIncome)
	expense := Total(recs, CategoryExpense)
	net := income - expense
	label := "Balance"
	if net < 0 {
		label = "Deficit"
		net = -net
	}
	return fmt.Sprintf("%s for %s: %s (income %s, expenses %s).", label, scope, f.Amount(net), f.Amount(income), f.Amount(expense)), true
}

func totalAnswer(q string, recs []Record, scope string, f *format.Formatter) (string, bool) {
	category := queryCategory(q)
	short := category != "" && len(strings.Fields(q)) <= 4
	if !totalRe.MatchString(q) && !short {
		return "", false
	}
	if category == "" {
		return fmt.Sprintf("Total income for %s: %s. Total expenses: %s.", scope, f.Amount(Total(recs, CategoryIncome)), f.Amount(Total(recs, CategoryExpense))), true
	}
	scoped := filterCategory(recs, category)
	label := "income"
	if category == CategoryExpense {
		label = "expenses"
	}
	return fmt.Sprintf("Total %s for %s: %s across %s %s.", label, scope, f.Amount(sum(scoped)), f.Int(int64(len(scoped))), noun("", len(scoped))), true
}
