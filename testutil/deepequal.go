package testutil

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/gracexichen/L-Store-Database/table"
)

func rowDiff(x, y []int64) string {
	if (x == nil) != (y == nil) {
		return fmt.Sprintf("%#v != %#v\n", x, y)
	}
	if len(x) != len(y) {
		return fmt.Sprintf("%d columns != %d columns: %v != %v\n", len(x), len(y), x, y)
	}
	for col := range x {
		if x[col] != y[col] {
			return fmt.Sprintf("column %d: %d != %d\n", col, x[col], y[col])
		}
	}
	return ""
}

func rowsDiff(x, y [][]int64) string {
	if (x == nil) != (y == nil) || len(x) != len(y) {
		return fmt.Sprintf("%d rows != %d rows: %v != %v\n", len(x), len(y), x, y)
	}
	for rdx := range x {
		if s := rowDiff(x[rdx], y[rdx]); s != "" {
			return fmt.Sprintf("row %d: %s", rdx, s)
		}
	}
	return ""
}

func keyedDiff(x, y map[int64][]int64) string {
	if len(x) != len(y) {
		return fmt.Sprintf("%d keys != %d keys\n", len(x), len(y))
	}

	keys := make([]int64, 0, len(x))
	for key := range x {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, key := range keys {
		row, ok := y[key]
		if !ok {
			return fmt.Sprintf("key %d: missing\n", key)
		}
		if s := rowDiff(x[key], row); s != "" {
			return fmt.Sprintf("key %d: %s", key, s)
		}
	}
	return ""
}

func recordDiff(x, y table.Record) string {
	if x.RID != y.RID || x.Key != y.Key {
		return fmt.Sprintf("rid %d key %d != rid %d key %d\n", x.RID, x.Key, y.RID, y.Key)
	}
	return rowDiff(x.Columns, y.Columns)
}

func recordsDiff(x, y []table.Record) string {
	if len(x) != len(y) {
		return fmt.Sprintf("%d records != %d records\n", len(x), len(y))
	}
	for rdx := range x {
		if s := recordDiff(x[rdx], y[rdx]); s != "" {
			return fmt.Sprintf("record %d: %s", rdx, s)
		}
	}
	return ""
}

func diff(x, y interface{}) string {
	if x == nil || y == nil {
		if x != y {
			return fmt.Sprintf("%#v != %#v\n", x, y)
		}
		return ""
	}
	if reflect.TypeOf(x) != reflect.TypeOf(y) {
		return fmt.Sprintf("%T != %T\n", x, y)
	}

	switch xv := x.(type) {
	case []int64:
		return rowDiff(xv, y.([]int64))
	case [][]int64:
		return rowsDiff(xv, y.([][]int64))
	case map[int64][]int64:
		return keyedDiff(xv, y.(map[int64][]int64))
	case table.Record:
		return recordDiff(xv, y.(table.Record))
	case []table.Record:
		return recordsDiff(xv, y.([]table.Record))
	}
	if !reflect.DeepEqual(x, y) {
		return fmt.Sprintf("%#v != %#v\n", x, y)
	}
	return ""
}

// DeepEqual reports whether x and y hold the same values; if trc is given, the first
// difference is described in it. Rows, lists of rows, rows by key, and records are
// compared column by column. A nil row is not equal to an empty row.
func DeepEqual(x, y interface{}, trc ...*string) bool {
	if len(trc) > 1 {
		panic("testutil.DeepEqual: more than one trace argument")
	}

	s := diff(x, y)
	if len(trc) == 1 && trc[0] != nil {
		*trc[0] = s
	}
	return s == ""
}
