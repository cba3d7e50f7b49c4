package query

import (
	"errors"
	"fmt"

	"github.com/gracexichen/L-Store-Database/page"
)

// CreateIndex indexes col using the current values of every record.
func (q *Query) CreateIndex(col int) error {
	if err := q.checkColumn(col); err != nil {
		return err
	}
	idx := q.tbl.Index()
	if idx.Indexed(col) {
		return nil
	}
	err := idx.CreateIndex(col)
	if err != nil {
		return err
	}

	cnt := q.tbl.NumRecords()
	for rid := int64(0); rid < cnt; rid++ {
		err = q.indexRecord(col, rid)
		if err != nil {
			return err
		}
	}
	return nil
}

func (q *Query) indexRecord(col int, rid int64) error {
	lkr := q.tbl.Locks().Begin()
	defer lkr.Release()

	err := q.tbl.Locks().AcquireShared(lkr, rid)
	if err != nil {
		return err
	}
	vals, ok, err := q.visible(rid, col, minValue, maxValue)
	if errors.Is(err, page.ErrSlotRange) {
		// Still being inserted; the insert adds it to the index.
		return nil
	} else if err != nil || !ok {
		return err
	}
	return q.tbl.Index().Add(col, vals[col], rid)
}

const (
	minValue = -1 << 63
	maxValue = 1<<63 - 1
)

// DropIndex stops indexing col; the key column can not be dropped.
func (q *Query) DropIndex(col int) error {
	if err := q.checkColumn(col); err != nil {
		return err
	}
	if col == q.tbl.Key() {
		return fmt.Errorf("%w: can't drop the index of the key column %d", ErrInvalid, col)
	}
	return q.tbl.Index().DropIndex(col)
}
