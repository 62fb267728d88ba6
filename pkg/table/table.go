// Package table holds a small column-oriented data container used by the
// decoders, the dataset store, and the merge engine. A Column is a named,
// fixed-type sequence of values with an optional mask for missing values;
// a Table is an ordered collection of equal-length columns.
package table

import (
	"fmt"
)

// A Column is a named one-dimensional sequence of data values. The data is
// either []float64 or []string. The missing mask, if non-nil, marks cells
// that hold no value; masked cells still occupy a slot in the data slice.
type Column struct {
	Name string

	data    interface{}
	missing []bool
}

// NewFloatColumn returns a numeric column. The slices are not copied.
func NewFloatColumn(name string, data []float64, missing []bool) (*Column, error) {
	if missing != nil && len(missing) != len(data) {
		return nil, fmt.Errorf("column %s: %d values but %d missing indicators", name, len(data), len(missing))
	}
	return &Column{Name: name, data: data, missing: missing}, nil
}

// NewStringColumn returns a string column. The slices are not copied.
func NewStringColumn(name string, data []string, missing []bool) (*Column, error) {
	if missing != nil && len(missing) != len(data) {
		return nil, fmt.Errorf("column %s: %d values but %d missing indicators", name, len(data), len(missing))
	}
	return &Column{Name: name, data: data, missing: missing}, nil
}

// Len returns the number of cells in the column, including missing ones.
func (c *Column) Len() int {
	switch d := c.data.(type) {
	case []float64:
		return len(d)
	case []string:
		return len(d)
	}
	return 0
}

// IsString reports whether the column holds string data.
func (c *Column) IsString() bool {
	_, ok := c.data.([]string)
	return ok
}

// Missing returns the missing-value mask, which may be nil.
func (c *Column) Missing() []bool {
	return c.missing
}

// IsMissing reports whether cell i holds no value.
func (c *Column) IsMissing(i int) bool {
	return c.missing != nil && c.missing[i]
}

// AsFloat64 returns the column data as a float64 slice along with the
// missing mask.
func (c *Column) AsFloat64() ([]float64, []bool, error) {
	d, ok := c.data.([]float64)
	if !ok {
		return nil, nil, fmt.Errorf("column %s holds %T, not []float64", c.Name, c.data)
	}
	return d, c.missing, nil
}

// AsString returns the column data as a string slice along with the missing
// mask.
func (c *Column) AsString() ([]string, []bool, error) {
	d, ok := c.data.([]string)
	if !ok {
		return nil, nil, fmt.Errorf("column %s holds %T, not []string", c.Name, c.data)
	}
	return d, c.missing, nil
}

// Take returns a new column containing the cells of c at the given indexes,
// in order. An index of -1 produces a missing cell; this is how the merge
// engine materializes unmatched rows of a left join.
func (c *Column) Take(idx []int) *Column {
	miss := make([]bool, len(idx))
	switch d := c.data.(type) {
	case []float64:
		out := make([]float64, len(idx))
		for j, i := range idx {
			if i < 0 || c.IsMissing(i) {
				miss[j] = true
				continue
			}
			out[j] = d[i]
		}
		return &Column{Name: c.Name, data: out, missing: miss}
	case []string:
		out := make([]string, len(idx))
		for j, i := range idx {
			if i < 0 || c.IsMissing(i) {
				miss[j] = true
				continue
			}
			out[j] = d[i]
		}
		return &Column{Name: c.Name, data: out, missing: miss}
	}
	return &Column{Name: c.Name, data: []float64{}, missing: nil}
}

// A Table is an ordered set of equal-length columns with unique names.
type Table struct {
	cols   []*Column
	byName map[string]int
}

// New returns an empty table.
func New() *Table {
	return &Table{byName: make(map[string]int)}
}

// FromColumns builds a table from the given columns, which must have equal
// lengths and distinct names.
func FromColumns(cols []*Column) (*Table, error) {
	t := New()
	for _, c := range cols {
		if err := t.AppendColumn(c); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// AppendColumn adds a column to the right edge of the table.
func (t *Table) AppendColumn(c *Column) error {
	if _, dup := t.byName[c.Name]; dup {
		return fmt.Errorf("duplicate column name %q", c.Name)
	}
	if len(t.cols) > 0 && c.Len() != t.NumRows() {
		return fmt.Errorf("column %s has %d rows, table has %d", c.Name, c.Len(), t.NumRows())
	}
	t.byName[c.Name] = len(t.cols)
	t.cols = append(t.cols, c)
	return nil
}

// NumRows returns the number of rows in the table.
func (t *Table) NumRows() int {
	if len(t.cols) == 0 {
		return 0
	}
	return t.cols[0].Len()
}

// NumCols returns the number of columns in the table.
func (t *Table) NumCols() int {
	return len(t.cols)
}

// Columns returns the table's columns in order. The slice must not be
// modified.
func (t *Table) Columns() []*Column {
	return t.cols
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.cols))
	for i, c := range t.cols {
		names[i] = c.Name
	}
	return names
}

// Column returns the named column, or nil if the table has no such column.
func (t *Table) Column(name string) *Column {
	i, ok := t.byName[name]
	if !ok {
		return nil
	}
	return t.cols[i]
}

// HasColumn reports whether the table contains the named column.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.byName[name]
	return ok
}

// LabelNameCol and LabelDescCol are the column names of a label table.
const (
	LabelNameCol = "name"
	LabelDescCol = "description"
)

// NewLabelTable builds the two-column (name, description) metadata table
// that accompanies every stored dataset.
func NewLabelTable(names, descriptions []string) (*Table, error) {
	if len(names) != len(descriptions) {
		return nil, fmt.Errorf("label table: %d names but %d descriptions", len(names), len(descriptions))
	}
	nc, err := NewStringColumn(LabelNameCol, names, nil)
	if err != nil {
		return nil, err
	}
	dc, err := NewStringColumn(LabelDescCol, descriptions, nil)
	if err != nil {
		return nil, err
	}
	return FromColumns([]*Column{nc, dc})
}
