// Package intent assigns one category from a fixed taxonomy to a query.
package intent

import (
	"regexp"
	"strconv"
	"strings"
)

type Intent string

const (
	Greeting   Intent = "greeting"
	Identity   Intent = "identity"
	Developer  Intent = "developer"
	Advice     Intent = "advice"
	Comparison Intent = "comparison"
	Tabular    Intent = "tabular"
	Data       Intent = "data"
)

// Templated reports whether the intent is answered with fixed text and never
// reaches retrieval.
func (i Intent) Templated() bool {
	switch i {
	case Greeting, Identity, Developer, Advice:
		return true
	}
	return false
}

type Complexity string

const (
	Simple  Complexity = "simple"
	Complex Complexity = "complex"
)

type Result struct {
	Intent     Intent
	Complexity Complexity
	// Years holds the distinct 20xx tokens in order of appearance.
	Years []int
}

// Rule matches a lowercased query. Rules are evaluated in slice order.
type Rule struct {
	Intent Intent
	Match  func(q string, years []int) bool
}

func phrases(words ...string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

func matchAny(re *regexp.Regexp) func(string, []int) bool {
	return func(q string, _ []int) bool { return re.MatchString(q) }
}

var (
	greetingRe   = phrases("hi", "hello", "hey", "hii", "namaste", "namaskar", "greetings", "good morning", "good afternoon", "good evening")
	identityRe   = phrases("who are you", "what are you", "your name", "what can you do", "introduce yourself", "what is this app")
	developerRe  = phrases("who made you", "who built you", "who created you", "who developed you", "who designed you", "developer", "developed by", "your creator")
	adviceRe     = phrases("should i", "should we", "advice", "advise", "suggest", "suggestion", "recommend", "tips", "how can we save", "how to reduce", "how do we reduce")
	comparisonRe = phrases("compare", "comparison", "vs", "versus", "difference between", "compared to", "than last year")
	tabularRe    = phrases("list", "show all", "table", "tabular", "breakdown", "each", "who paid", "who has paid", "who has not paid", "who hasn't paid", "all incomes", "all expenses")
	complexRe    = phrases("why", "trend", "trends", "analyse", "analyze", "analysis", "explain", "insight", "insights", "pattern", "over the years", "forecast")

	yearRe = regexp.MustCompile(`\b20\d{2}\b`)
)

// Rules is the fixed priority order. The comparison rule also fires for two
// distinct year tokens without any keyword.
var Rules = []Rule{
	{Intent: Greeting, Match: matchAny(greetingRe)},
	{Intent: Identity, Match: matchAny(identityRe)},
	{Intent: Developer, Match: matchAny(developerRe)},
	{Intent: Advice, Match: matchAny(adviceRe)},
	{Intent: Comparison, Match: func(q string, years []int) bool {
		return len(years) >= 2 || comparisonRe.MatchString(q)
	}},
	{Intent: Tabular, Match: matchAny(tabularRe)},
}

// ExtractYears returns the distinct 20xx tokens of q in order of appearance.
func ExtractYears(q string) []int {
	var years []int
	seen := map[int]bool{}
	for _, tok := range yearRe.FindAllString(q, -1) {
		y, err := strconv.Atoi(tok)
		if err != nil || seen[y] {
			continue
		}
		seen[y] = true
		years = append(years, y)
	}
	return years
}

// Classify lowercases the query and returns the first matching rule's intent,
// Data when none match.
func Classify(query string) Result {
	q := strings.ToLower(strings.TrimSpace(query))
	years := ExtractYears(q)

	res := Result{Intent: Data, Years: years}
	for _, r := range Rules {
		if r.Match(q, years) {
			res.Intent = r.Intent
			break
		}
	}
	res.Complexity = complexity(q, res.Intent)
	return res
}

func complexity(q string, in Intent) Complexity {
	if in == Comparison || complexRe.MatchString(q) || len(strings.Fields(q)) > 20 {
		return Complex
	}
	return Simple
}
