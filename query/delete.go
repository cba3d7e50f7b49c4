package query

import (
	"errors"

	"github.com/gracexichen/L-Store-Database/index"
	"github.com/gracexichen/L-Store-Database/table"
)

// Delete marks the record with key as deleted and removes its current values from the
// index. It fails with ErrNotFound if there is no record with key.
func (q *Query) Delete(key int64) error {
	lkr := q.tbl.Locks().Begin()
	defer lkr.Release()

	rid, cur, err := q.lockKey(lkr, key)
	if err != nil {
		return err
	}

	latch := q.tbl.Latch()
	latch.RLock()
	err = q.tbl.SetSchema(rid, table.Deleted)
	latch.RUnlock()
	if err != nil {
		return err
	}

	for col, v := range cur {
		err = q.tbl.Index().Delete(col, v, rid)
		if err != nil && !errors.Is(err, index.ErrNoIndex) {
			return err
		}
	}
	return nil
}
