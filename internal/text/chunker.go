// Package text splits rendered snapshot text into bounded chunks and extracts
// per-line provenance for the line-oriented variant.
package text

import (
	"regexp"
	"strings"
)

const (
	DefaultMaxWords     = 500
	DefaultOverlapLines = 3
)

// Options configures chunk bounds.
type Options struct {
	MaxWords     int
	OverlapLines int
}

func DefaultOptions() Options {
	return Options{MaxWords: DefaultMaxWords, OverlapLines: DefaultOverlapLines}
}

func (o Options) withDefaults() Options {
	if o.MaxWords <= 0 {
		o.MaxWords = DefaultMaxWords
	}
	if o.OverlapLines < 0 {
		o.OverlapLines = 0
	}
	return o
}

// Entry is the provenance extracted from one rendered record line.
type Entry struct {
	Line     int    `json:"line"`
	ID       string `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	Amount   string `json:"amount,omitempty"`
	Category string `json:"category,omitempty"`
	Status   string `json:"status,omitempty"`
}

// Provenance describes where a chunk came from. Entries cover only the lines
// first introduced by the chunk; the leading Overlap lines repeat the tail of
// the previous chunk and are never re-counted.
type Provenance struct {
	Entries   []Entry `json:"entries,omitempty"`
	StartLine int     `json:"start_line,omitempty"`
	EndLine   int     `json:"end_line,omitempty"`
	Overlap   int     `json:"overlap,omitempty"`
}

type ChunkResult struct {
	Content    string
	Provenance Provenance
}

var sentenceRe = regexp.MustCompile(`(?s).+?(?:[.!?]+(?:\s+|$)|$)`)

// ChunkText accumulates sentences into chunks of at most opts.MaxWords words.
// A sentence longer than MaxWords is hard-split by word count.
func ChunkText(text string, opts Options) []ChunkResult {
	opts = opts.withDefaults()
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var results []ChunkResult
	var current []string
	count := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		results = append(results, ChunkResult{Content: strings.Join(current, " ")})
		current = nil
		count = 0
	}

	for _, raw := range sentenceRe.FindAllString(text, -1) {
		words := strings.Fields(raw)
		if len(words) == 0 {
			continue
		}

		if len(words) > opts.MaxWords {
			flush()
			for start := 0; start < len(words); start += opts.MaxWords {
				end := start + opts.MaxWords
				if end > len(words) {
					end = len(words)
				}
				results = append(results, ChunkResult{Content: strings.Join(words[start:end], " ")})
			}
			continue
		}

		if count+len(words) > opts.MaxWords {
			flush()
		}
		current = append(current, strings.Join(words, " "))
		count += len(words)
	}
	flush()

	return results
}

// ChunkLines groups non-blank lines into chunks of at most opts.MaxWords
// words. The last opts.OverlapLines lines of a chunk are repeated at the start
// of the next one; the carried lines shrink when they would push the next
// chunk over the bound. A single line longer than MaxWords becomes its own
// chunk.
func ChunkLines(lines []string, opts Options) []ChunkResult {
	opts = opts.withDefaults()

	var kept []string
	var lineNo []int
	for i, l := range lines {
		l = strings.TrimRight(l, " \t\r")
		if strings.TrimSpace(l) == "" {
			continue
		}
		kept = append(kept, l)
		lineNo = append(lineNo, i+1)
	}
	if len(kept) == 0 {
		return nil
	}

	wc := make([]int, len(kept))
	for i, l := range kept {
		wc[i] = len(strings.Fields(l))
	}

	var results []ChunkResult
	var cur []int
	overlap := 0
	words := 0

	flush := func() {
		if len(cur) == overlap {
			return
		}
		results = append(results, buildLineChunk(kept, lineNo, cur, overlap))

		carry := opts.OverlapLines
		if carry > len(cur) {
			carry = len(cur)
		}
		next := make([]int, carry)
		copy(next, cur[len(cur)-carry:])
		cur = next
		overlap = carry
		words = 0
		for _, idx := range cur {
			words += wc[idx]
		}
	}

	for i := range kept {
		if words+wc[i] > opts.MaxWords && len(cur) > overlap {
			flush()
		}
		for overlap > 0 && words+wc[i] > opts.MaxWords {
			words -= wc[cur[0]]
			cur = cur[1:]
			overlap--
		}
		cur = append(cur, i)
		words += wc[i]
	}
	flush()

	return results
}

func buildLineChunk(lines []string, lineNo []int, idxs []int, overlap int) ChunkResult {
	parts := make([]string, len(idxs))
	for i, idx := range idxs {
		parts[i] = lines[idx]
	}

	prov := Provenance{
		StartLine: lineNo[idxs[0]],
		EndLine:   lineNo[idxs[len(idxs)-1]],
		Overlap:   overlap,
	}
	for _, idx := range idxs[overlap:] {
		if e, ok := ExtractEntry(lines[idx], lineNo[idx]); ok {
			prov.Entries = append(prov.Entries, e)
		}
	}

	return ChunkResult{Content: strings.Join(parts, "\n"), Provenance: prov}
}

// Reconstruct returns the line sequence covered by chunks produced by
// ChunkLines, with the duplicated overlap removed.
func Reconstruct(chunks []ChunkResult) []string {
	var out []string
	for _, c := range chunks {
		lines := strings.Split(c.Content, "\n")
		skip := c.Provenance.Overlap
		if skip > len(lines) {
			skip = len(lines)
		}
		out = append(out, lines[skip:]...)
	}
	return out
}

var (
	categoryRe = regexp.MustCompile(`^\s*\[([A-Za-z][A-Za-z _-]*)\]`)
	idRe       = regexp.MustCompile(`(?i)\bID:\s*([A-Za-z0-9][A-Za-z0-9_\-/]*)`)
	nameRe     = regexp.MustCompile(`(?i)\bName:\s*([^|]+?)\s*(?:\||$)`)
	amountRe   = regexp.MustCompile(`(?i)\bAmount:\s*([^|]+?)\s*(?:\||$)`)
	currencyRe = regexp.MustCompile(`(?i)(?:₹|\brs\.?|\binr)\s*[\d,]+(?:\.\d+)?`)
	statusRe   = regexp.MustCompile(`(?i)\bStatus:\s*([A-Za-z]+)`)
)

// ExtractEntry pulls entity id, name, amount, category and status from a
// rendered record line. ok is false when the line carries none of id, name
// or amount.
func ExtractEntry(line string, lineNo int) (Entry, bool) {
	e := Entry{Line: lineNo}
	if m := categoryRe.FindStringSubmatch(line); m != nil {
		e.Category = strings.ToLower(strings.TrimSpace(m[1]))
	}
	if m := idRe.FindStringSubmatch(line); m != nil {
		e.ID = m[1]
	}
	if m := nameRe.FindStringSubmatch(line); m != nil {
		e.Name = strings.TrimSpace(m[1])
	}
	if m := amountRe.FindStringSubmatch(line); m != nil {
		e.Amount = strings.TrimSpace(m[1])
	} else if m := currencyRe.FindString(line); m != "" {
		e.Amount = strings.TrimSpace(m)
	}
	if m := statusRe.FindStringSubmatch(line); m != nil {
		e.Status = strings.ToLower(m[1])
	}
	if e.ID == "" && e.Name == "" && e.Amount == "" {
		return Entry{}, false
	}
	return e, true
}
