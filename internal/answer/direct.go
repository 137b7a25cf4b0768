package answer

import (
	"context"
	"strconv"
	"strings"

	"finsight/internal/chunk"
	"finsight/internal/format"
	"finsight/internal/intent"
	"finsight/internal/ledger"
)

// ChunkFinder is the read side of chunk.Repository.
type ChunkFinder interface {
	FindByStatus(ctx context.Context, status chunk.Status, filter chunk.Filter) ([]chunk.Chunk, error)
}

// Direct answers canonical questions from live records without embeddings or
// the generative model.
type Direct struct {
	format *format.Formatter
}

func NewDirect(f *format.Formatter) *Direct {
	return &Direct{format: f}
}

// Resolve returns "" when nothing is live, when the query names a year other
// than the live event's, or when no canonical pattern matches.
func (d *Direct) Resolve(query string, live *ledger.Snapshot) string {
	if live.Empty() {
		return ""
	}
	if years := intent.ExtractYears(query); len(years) > 0 && years[0] != live.Year() {
		return ""
	}
	scope := "the current event"
	if live.Event != nil {
		scope = live.Event.Label()
	}
	text, _ := matchPattern(query, FromLedger(live), scope, d.format)
	return text
}

// Historical answers canonical questions for the first year named in the
// query from every ready chunk of that year.
type Historical struct {
	chunks ChunkFinder
	format *format.Formatter
}

func NewHistorical(chunks ChunkFinder, f *format.Formatter) *Historical {
	return &Historical{chunks: chunks, format: f}
}

func (h *Historical) Resolve(ctx context.Context, query string) (string, error) {
	years := intent.ExtractYears(query)
	if len(years) == 0 {
		return "", nil
	}
	year := years[0]

	chunks, err := h.chunks.FindByStatus(ctx, chunk.StatusReady, chunk.Filter{Year: year})
	if err != nil {
		return "", err
	}
	recs := FromChunks(chunks)
	if len(recs) == 0 {
		return "", nil
	}
	text, _ := matchPattern(query, recs, yearLabel(chunks, year), h.format)
	return text, nil
}

// yearLabel names a historical year by the event recorded on its chunks.
func yearLabel(chunks []chunk.Chunk, year int) string {
	y := strconv.Itoa(year)
	for _, c := range chunks {
		name := strings.TrimSpace(c.Metadata.EventName)
		if name == "" {
			continue
		}
		if strings.Contains(name, y) {
			return name
		}
		return name + " " + y
	}
	return y
}
