package snapshot

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"finsight/internal/apperr"
	"finsight/internal/format"
)

// Column headers accepted for each entry field, lower-cased.
var workbookColumns = map[string][]string{
	"category": {"category", "type"},
	"id":       {"id", "receipt", "receipt no", "voucher"},
	"name":     {"name", "description", "donor", "item", "payee"},
	"amount":   {"amount", "total", "value"},
	"status":   {"status", "state"},
}

// ParseWorkbook reads archived entries from an .xlsx workbook. Each sheet
// needs a header row with at least a name and an amount column. A category
// column wins over the sheet name, which is used otherwise ("Incomes" ->
// income). Sheets without a usable header are skipped.
func ParseWorkbook(r io.Reader) ([]Entry, error) {
	wb, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable workbook: %v", apperr.ErrValidation, err)
	}
	defer wb.Close()

	var entries []Entry
	for _, sheet := range wb.GetSheetList() {
		rows, err := wb.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("%w: sheet %q: %v", apperr.ErrValidation, sheet, err)
		}
		parsed, err := parseSheet(sheet, rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, parsed...)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: workbook has no entries", apperr.ErrValidation)
	}
	return entries, nil
}

func parseSheet(sheet string, rows [][]string) ([]Entry, error) {
	header := -1
	var cols map[string]int
	for i, row := range rows {
		if c := headerColumns(row); c != nil {
			header, cols = i, c
			break
		}
	}
	if header < 0 {
		return nil, nil
	}

	fallback := sheetCategory(sheet)
	var out []Entry
	for i := header + 1; i < len(rows); i++ {
		row := rows[i]
		name := cell(row, cols, "name")
		rawAmount := cell(row, cols, "amount")
		if name == "" && rawAmount == "" {
			continue
		}
		amount, ok := format.ParseAmount(rawAmount)
		if !ok {
			return nil, fmt.Errorf("%w: sheet %q row %d: invalid amount %q", apperr.ErrValidation, sheet, i+1, rawAmount)
		}
		category := strings.ToLower(cell(row, cols, "category"))
		if category == "" {
			category = fallback
		}
		out = append(out, Entry{
			Category: category,
			ID:       cell(row, cols, "id"),
			Name:     name,
			Amount:   amount,
			Status:   strings.ToLower(cell(row, cols, "status")),
		})
	}
	return out, nil
}

// headerColumns maps field -> column index, or nil when row is not a header.
func headerColumns(row []string) map[string]int {
	cols := map[string]int{}
	for i, v := range row {
		label := strings.ToLower(strings.TrimSpace(v))
		for field, names := range workbookColumns {
			if _, seen := cols[field]; seen {
				continue
			}
			for _, n := range names {
				if label == n {
					cols[field] = i
				}
			}
		}
	}
	_, hasName := cols["name"]
	_, hasAmount := cols["amount"]
	if !hasName || !hasAmount {
		return nil
	}
	return cols
}

func cell(row []string, cols map[string]int, field string) string {
	i, ok := cols[field]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func sheetCategory(sheet string) string {
	c := strings.ToLower(strings.TrimSpace(sheet))
	if strings.HasSuffix(c, "s") && len(c) > 1 {
		c = strings.TrimSuffix(c, "s")
	}
	return c
}
