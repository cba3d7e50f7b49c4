package query

import (
	"fmt"
)

// Update writes a new version of the record with key; columns has one entry per column and
// nil entries are left unchanged. It fails with ErrNotFound if there is no record with key
// and with ErrDuplicate if the key would change to the key of another record.
func (q *Query) Update(key int64, columns ...*int64) error {
	if len(columns) != q.tbl.NumColumns() {
		return fmt.Errorf("%w: update of %d columns want %d", ErrInvalid, len(columns),
			q.tbl.NumColumns())
	}

	lkr := q.tbl.Locks().Begin()
	defer lkr.Release()

	rid, cur, err := q.lockKey(lkr, key)
	if err != nil {
		return err
	}
	return q.modify(rid, cur, columns)
}

// Increment adds one to col of the record with key.
func (q *Query) Increment(key int64, col int) error {
	if err := q.checkColumn(col); err != nil {
		return err
	}

	lkr := q.tbl.Locks().Begin()
	defer lkr.Release()

	rid, cur, err := q.lockKey(lkr, key)
	if err != nil {
		return err
	}
	columns := make([]*int64, q.tbl.NumColumns())
	columns[col] = Val(cur[col] + 1)
	return q.modify(rid, cur, columns)
}
