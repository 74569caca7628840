package dataset

import (
	"fmt"
	"sort"
)

// Slice returns the columns in r as a new dataset. The column slices are
// shared with d; callers must treat them as read-only.
func Slice(d *Dataset, r Range) (*Dataset, error) {
	if r.Start < 0 || r.End > d.NumCols() || r.Start > r.End {
		return nil, fmt.Errorf("slice [%d,%d) out of bounds for %d columns", r.Start, r.End, d.NumCols())
	}
	return &Dataset{
		Columns: append([]Column(nil), d.Columns[r.Start:r.End]...),
		Fields:  append([]Field(nil), d.Fields[r.Start:r.End]...),
	}, nil
}

// Concat appends the columns of every dataset in order. All inputs must have
// the same number of rows.
func Concat(ds ...*Dataset) (*Dataset, error) {
	if len(ds) == 0 {
		return nil, ErrEmptyInput
	}
	n := -1
	out := &Dataset{}
	for i, d := range ds {
		if d == nil {
			return nil, fmt.Errorf("concat: dataset %d is nil", i)
		}
		if len(d.Columns) > 0 {
			if n < 0 {
				n = d.NumRows()
			} else if d.NumRows() != n {
				return nil, fmt.Errorf("%w: concat dataset %d has %d rows, want %d", ErrShape, i, d.NumRows(), n)
			}
		}
		out.Columns = append(out.Columns, d.Columns...)
		out.Fields = append(out.Fields, d.Fields...)
	}
	return out, nil
}

// Gather returns the columns at the given indices, in the given order.
func Gather(d *Dataset, indices []int) (*Dataset, error) {
	out := &Dataset{
		Columns: make([]Column, 0, len(indices)),
		Fields:  make([]Field, 0, len(indices)),
	}
	for _, i := range indices {
		if i < 0 || i >= d.NumCols() {
			return nil, fmt.Errorf("gather: column %d out of bounds for %d columns", i, d.NumCols())
		}
		out.Columns = append(out.Columns, d.Columns[i])
		out.Fields = append(out.Fields, d.Fields[i])
	}
	return out, nil
}

// Rows picks the given row ids from every column.
func Rows(col Column, ids []int) Column {
	out := make(Column, len(ids))
	for i, id := range ids {
		out[i] = col[id]
	}
	return out
}

// SortedOrder returns the permutation that sorts items ascending by key.
// Ties keep their input order.
func SortedOrder[T any](items []T, key func(T) float64) []int {
	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return key(items[order[a]]) < key(items[order[b]])
	})
	return order
}

// Apply reorders items by a permutation from SortedOrder.
func Apply[T any](items []T, order []int) []T {
	out := make([]T, len(order))
	for i, j := range order {
		out[i] = items[j]
	}
	return out
}

// Product returns the cartesian product of lists. The first list varies
// slowest. An empty input yields one empty combination.
func Product[T any](lists [][]T) [][]T {
	out := [][]T{{}}
	for _, list := range lists {
		next := make([][]T, 0, len(out)*len(list))
		for _, prefix := range out {
			for _, item := range list {
				combo := make([]T, len(prefix), len(prefix)+1)
				copy(combo, prefix)
				next = append(next, append(combo, item))
			}
		}
		out = next
	}
	return out
}
