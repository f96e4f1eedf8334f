// Package table is the searchable, paginated, selectable grid behind every
// reporting page. All filtering happens in memory over rows already fetched
// from the API.
package table

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrInvalidPageSize   = errors.New("invalid page size")
	ErrSelectionDisabled = errors.New("selection disabled")
	ErrOutOfRange        = errors.New("row position out of range")
)

var (
	PageSizesDefault = []int{10, 25, 50, 100}
	PageSizesCompact = []int{15, 25, 50}
)

type Column struct {
	Field      string `json:"field"`
	HeaderName string `json:"headerName"`
}

type Row map[string]any

type Option func(*Table)

func WithPageSizes(sizes []int) Option {
	return func(t *Table) {
		if len(sizes) > 0 {
			t.sizes = append([]int(nil), sizes...)
		}
	}
}

func Selectable() Option {
	return func(t *Table) { t.selectable = true }
}

// Table holds the view state for one grid. Selection positions index the
// filtered rows, not the full row set.
type Table struct {
	columns    []Column
	rows       []Row
	sizes      []int
	search     string
	page       int
	pageSize   int
	selectable bool
	selected   map[int]bool
	filtered   []Row
}

func New(columns []Column, rows []Row, opts ...Option) *Table {
	t := &Table{
		columns:  columns,
		rows:     rows,
		sizes:    PageSizesDefault,
		page:     1,
		selected: map[int]bool{},
	}
	for _, opt := range opts {
		opt(t)
	}
	t.pageSize = t.sizes[0]
	t.refilter()
	return t
}

func (t *Table) Columns() []Column { return t.columns }

// SetRows swaps the data after a refetch, keeping search and page size.
func (t *Table) SetRows(rows []Row) {
	t.rows = rows
	t.refilter()
	t.clampPage()
}

// SetSearch filters rows and resets to the first page.
func (t *Table) SetSearch(term string) {
	t.search = strings.TrimSpace(term)
	t.page = 1
	t.refilter()
}

func (t *Table) Search() string { return t.search }

// SetPageSize accepts only the configured sizes and resets to the first page.
func (t *Table) SetPageSize(size int) error {
	if !t.allowedSize(size) {
		return fmt.Errorf("%w: %d", ErrInvalidPageSize, size)
	}
	t.pageSize = size
	t.page = 1
	return nil
}

// SetPage moves to page (1-based), clamped to the available pages.
func (t *Table) SetPage(page int) {
	t.page = page
	t.clampPage()
}

func (t *Table) TotalPages() int {
	if len(t.filtered) == 0 {
		return 1
	}
	return (len(t.filtered) + t.pageSize - 1) / t.pageSize
}

// Filtered returns every row matching the search, across all pages.
func (t *Table) Filtered() []Row {
	return t.filtered
}

func (t *Table) Count() int { return len(t.filtered) }

type View struct {
	Rows        []Row    `json:"rows"`
	Columns     []Column `json:"columns"`
	Search      string   `json:"search"`
	Total       int      `json:"total"`
	Page        int      `json:"page"`
	PageSize    int      `json:"pageSize"`
	PageSizes   []int    `json:"pageSizes"`
	TotalPages  int      `json:"totalPages"`
	HasNext     bool     `json:"hasNext"`
	HasPrevious bool     `json:"hasPrevious"`
	Selected    []int    `json:"selected,omitempty"`
}

func (t *Table) View() View {
	start := (t.page - 1) * t.pageSize
	end := start + t.pageSize
	if start > len(t.filtered) {
		start = len(t.filtered)
	}
	if end > len(t.filtered) {
		end = len(t.filtered)
	}
	pages := t.TotalPages()
	rows := t.filtered[start:end]
	if rows == nil {
		rows = []Row{}
	}
	return View{
		Rows:        rows,
		Columns:     t.columns,
		Search:      t.search,
		Total:       len(t.filtered),
		Page:        t.page,
		PageSize:    t.pageSize,
		PageSizes:   t.sizes,
		TotalPages:  pages,
		HasNext:     t.page < pages,
		HasPrevious: t.page > 1,
		Selected:    t.selectedPositions(),
	}
}

// Toggle flips the selection of the filtered row at pos.
func (t *Table) Toggle(pos int) error {
	if !t.selectable {
		return ErrSelectionDisabled
	}
	if pos < 0 || pos >= len(t.filtered) {
		return fmt.Errorf("%w: %d", ErrOutOfRange, pos)
	}
	if t.selected[pos] {
		delete(t.selected, pos)
	} else {
		t.selected[pos] = true
	}
	return nil
}

// SelectAll selects every filtered row, not only the visible page.
func (t *Table) SelectAll() error {
	if !t.selectable {
		return ErrSelectionDisabled
	}
	t.selected = make(map[int]bool, len(t.filtered))
	for i := range t.filtered {
		t.selected[i] = true
	}
	return nil
}

func (t *Table) Clear() {
	t.selected = map[int]bool{}
}

// SelectionMap is a copy of the sparse position map.
func (t *Table) SelectionMap() map[int]bool {
	out := make(map[int]bool, len(t.selected))
	for k, v := range t.selected {
		out[k] = v
	}
	return out
}

// Selected returns the selected rows in filtered order.
func (t *Table) Selected() []Row {
	positions := t.selectedPositions()
	out := make([]Row, 0, len(positions))
	for _, pos := range positions {
		out = append(out, t.filtered[pos])
	}
	return out
}

func (t *Table) selectedPositions() []int {
	out := make([]int, 0, len(t.selected))
	for pos := range t.selected {
		out = append(out, pos)
	}
	sort.Ints(out)
	return out
}

func (t *Table) refilter() {
	t.filtered = Filter(t.rows, t.search)
	for pos := range t.selected {
		if pos >= len(t.filtered) {
			delete(t.selected, pos)
		}
	}
}

func (t *Table) clampPage() {
	if pages := t.TotalPages(); t.page > pages {
		t.page = pages
	}
	if t.page < 1 {
		t.page = 1
	}
}

func (t *Table) allowedSize(size int) bool {
	for _, s := range t.sizes {
		if s == size {
			return true
		}
	}
	return false
}

// Filter keeps rows where any field value contains term, ignoring case.
func Filter(rows []Row, term string) []Row {
	needle := strings.ToLower(strings.TrimSpace(term))
	if needle == "" {
		return rows
	}
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		if Matches(row, needle) {
			out = append(out, row)
		}
	}
	return out
}

// Matches expects needle already lower-cased.
func Matches(row Row, needle string) bool {
	for _, v := range row {
		if strings.Contains(strings.ToLower(Text(v)), needle) {
			return true
		}
	}
	return false
}

// Text is the string form a cell is searched and exported with.
func Text(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}
