package testutil

import (
	"sort"
)

type sortRows struct {
	rows [][]int64
	key  []int
}

func (sr sortRows) Len() int {
	return len(sr.rows)
}

func (sr sortRows) Swap(i, j int) {
	sr.rows[i], sr.rows[j] = sr.rows[j], sr.rows[i]
}

func (sr sortRows) Less(i, j int) bool {
	for _, col := range sr.key {
		vi := sr.rows[i][col]
		vj := sr.rows[j][col]
		if vi < vj {
			return true
		} else if vi > vj {
			return false
		}
	}
	return false
}

// SortRows sorts rows by the columns in key, in order.
func SortRows(key []int, rows [][]int64) {
	sort.Sort(sortRows{rows: rows, key: key})
}
