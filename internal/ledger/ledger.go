// Package ledger reads the live (current) financial records: the active
// event and its incomes and expenses.
package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

const (
	StatusPaid    = "paid"
	StatusPending = "pending"
)

type Event struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Year   int    `json:"year"`
	Active bool   `json:"active"`
}

// Label is the display name, with the year appended when the name lacks it.
func (e Event) Label() string {
	if e.Year == 0 || strings.Contains(e.Name, strconv.Itoa(e.Year)) {
		return e.Name
	}
	return fmt.Sprintf("%s %d", e.Name, e.Year)
}

type Income struct {
	ID      string  `json:"id"`
	EventID string  `json:"event_id"`
	Name    string  `json:"name"`
	Amount  float64 `json:"amount"`
	Status  string  `json:"status"`
}

type Expense struct {
	ID          string  `json:"id"`
	EventID     string  `json:"event_id"`
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	Status      string  `json:"status"`
}

// Source is a read-only view of live records. ActiveEvent returns nil
// without error when no event is active.
type Source interface {
	ActiveEvent(ctx context.Context) (*Event, error)
	Incomes(ctx context.Context, eventID string) ([]Income, error)
	Expenses(ctx context.Context, eventID string) ([]Expense, error)
}

// Snapshot is everything live at one moment. Event is nil when no event is
// active, in which case both record slices are empty.
type Snapshot struct {
	Event    *Event
	Incomes  []Income
	Expenses []Expense
}

func (s *Snapshot) Empty() bool {
	return s == nil || (len(s.Incomes) == 0 && len(s.Expenses) == 0)
}

func (s *Snapshot) Year() int {
	if s == nil || s.Event == nil {
		return 0
	}
	return s.Event.Year
}

func Load(ctx context.Context, src Source) (*Snapshot, error) {
	ev, err := src.ActiveEvent(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active event: %w", err)
	}
	snap := &Snapshot{Event: ev}
	if ev == nil {
		return snap, nil
	}
	if snap.Incomes, err = src.Incomes(ctx, ev.ID); err != nil {
		return nil, fmt.Errorf("load incomes: %w", err)
	}
	if snap.Expenses, err = src.Expenses(ctx, ev.ID); err != nil {
		return nil, fmt.Errorf("load expenses: %w", err)
	}
	return snap, nil
}

// MemorySource serves a fixed snapshot.
type MemorySource struct {
	Event       *Event
	IncomeList  []Income
	ExpenseList []Expense
}

func (m *MemorySource) ActiveEvent(ctx context.Context) (*Event, error) {
	return m.Event, nil
}

func (m *MemorySource) Incomes(ctx context.Context, eventID string) ([]Income, error) {
	return m.IncomeList, nil
}

func (m *MemorySource) Expenses(ctx context.Context, eventID string) ([]Expense, error) {
	return m.ExpenseList, nil
}
