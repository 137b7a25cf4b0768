package snapshot

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"finsight/internal/format"
)

type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusError      Status = "error"
)

// Entry is one archived income or expense line.
type Entry struct {
	Category string  `json:"category"`
	ID       string  `json:"id,omitempty"`
	Name     string  `json:"name"`
	Amount   float64 `json:"amount"`
	Status   string  `json:"status,omitempty"`
}

// Snapshot is the processing record of an archived event. SourceKey ties it
// to the chunks generated from it.
type Snapshot struct {
	SourceKey  string    `json:"source_key"`
	EventName  string    `json:"event_name"`
	Year       int       `json:"year"`
	Categories []string  `json:"categories"`
	Entries    []Entry   `json:"entries,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	Status     Status    `json:"status"`
	ChunkCount int       `json:"chunk_count"`
	Error      string    `json:"error,omitempty"`
	CreatedBy  string    `json:"created_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Task is the body of a snapshot.process message.
type Task struct {
	SourceKey     string `json:"source_key"`
	RequestedBy   string `json:"requested_by,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// ErrClaimLost reports that a stale-claim takeover handed the snapshot to
// another run.
var ErrClaimLost = errors.New("processing claim lost")

type Repository interface {
	// Save inserts or replaces the snapshot and resets it to uploaded. It
	// fails with apperr.ErrAlreadyProcessing while the key is being processed.
	Save(ctx context.Context, s *Snapshot) error
	Get(ctx context.Context, sourceKey string) (*Snapshot, error)
	List(ctx context.Context) ([]Snapshot, error)
	// Claim moves the snapshot to processing under token unless another
	// worker holds it. A processing claim not refreshed within staleAfter is
	// taken over.
	Claim(ctx context.Context, sourceKey, token string, staleAfter time.Duration) (bool, error)
	// Heartbeat refreshes the claim held under token. It returns ErrClaimLost
	// once another run has taken the snapshot over.
	Heartbeat(ctx context.Context, sourceKey, token string) error
	// Finish records the outcome only while token still holds the claim.
	Finish(ctx context.Context, sourceKey, token string, status Status, chunkCount int, message string) error
	Count(ctx context.Context) (int, error)
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Key derives the source key from the event name and year,
// e.g. "Durga Puja", 2023 -> "durga-puja-2023".
func Key(eventName string, year int) string {
	y := strconv.Itoa(year)
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(eventName), "-"), "-")
	if slug == y || strings.HasSuffix(slug, "-"+y) {
		return slug
	}
	if slug == "" {
		return y
	}
	return slug + "-" + y
}

// Label is the human name of the archived event.
func (s *Snapshot) Label() string {
	y := strconv.Itoa(s.Year)
	if strings.Contains(s.EventName, y) {
		return s.EventName
	}
	return s.EventName + " " + y
}

func (s *Snapshot) includes(category string) bool {
	if len(s.Categories) == 0 {
		return true
	}
	for _, c := range s.Categories {
		if strings.EqualFold(c, category) {
			return true
		}
	}
	return false
}

// Render turns the selected categories of the snapshot into the lines the
// chunker consumes. Each entry line carries the tags provenance extraction
// reads back.
func Render(s *Snapshot, f *format.Formatter) []string {
	lines := []string{"Event: " + s.Label()}
	for _, e := range s.Entries {
		category := strings.ToLower(strings.TrimSpace(e.Category))
		if category == "" || !s.includes(category) {
			continue
		}
		parts := make([]string, 0, 4)
		if e.ID != "" {
			parts = append(parts, "ID: "+e.ID)
		}
		if e.Name != "" {
			parts = append(parts, "Name: "+e.Name)
		}
		parts = append(parts, "Amount: "+f.Amount(e.Amount))
		if e.Status != "" {
			parts = append(parts, "Status: "+strings.ToLower(e.Status))
		}
		lines = append(lines, "["+category+"] "+strings.Join(parts, " | "))
	}
	return lines
}

func categoriesOf(entries []Entry) []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range entries {
		c := strings.ToLower(strings.TrimSpace(e.Category))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
