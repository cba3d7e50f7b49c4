package query

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/gracexichen/L-Store-Database/index"
	"github.com/gracexichen/L-Store-Database/table"
)

func (q *Query) reindex(col int, old, v, rid int64) error {
	err := q.tbl.Index().Replace(col, old, v, rid)
	if errors.Is(err, index.ErrNoIndex) {
		return nil
	}
	return err
}

// undo runs fns in reverse order; an undo which fails is logged and the rest still run.
func (q *Query) undo(fns []func() error) {
	for fdx := len(fns) - 1; fdx >= 0; fdx-- {
		err := fns[fdx]()
		if err != nil {
			q.tbl.Logger().WithFields(log.Fields{
				"table": q.tbl.Name(),
				"error": err,
			}).Error("undo failed")
		}
	}
}

// modify writes a new version of rid, which must be locked exclusive; cur is the current
// version and a nil column is left unchanged. The first update of a record writes two
// tail records: the inserted values followed by the new version.
//
// Setting the indirection of the base record commits the update. If modify fails before
// then, the index changes are undone and the tail ids are aborted.
func (q *Query) modify(rid int64, cur []int64, columns []*int64) (err error) {
	vals := append(make([]int64, 0, len(cur)), cur...)
	for col, v := range columns {
		if v != nil {
			vals[col] = *v
		}
	}

	var undos []func() error
	defer func() {
		if err != nil {
			q.undo(undos)
		}
	}()

	key := q.tbl.Key()
	if vals[key] != cur[key] {
		err = q.moveKey(rid, cur[key], vals[key])
		if err != nil {
			return err
		}
		undos = append(undos, func() error {
			unlock := q.tbl.LockKeys()
			defer unlock()
			return q.tbl.Index().Replace(key, vals[key], cur[key], rid)
		})
	}

	head, err := q.tbl.Indirection(rid)
	if err != nil {
		return err
	}
	n := int64(1)
	if head.IsNone() {
		n = 2
	}
	first, err := q.tbl.AllocateTailIDs(n)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			q.tbl.AbortUpdate(first)
		} else {
			q.tbl.FinishUpdate(first)
		}
	}()

	tid := first
	prev := head
	if head.IsNone() {
		err = q.tbl.WriteTailRecord(tid, table.None(), rid, cur)
		if err != nil {
			return err
		}
		prev = table.PointsTo(tid)
		tid += 1
	}
	err = q.tbl.WriteTailRecord(tid, prev, rid, vals)
	if err != nil {
		return err
	}

	for col := range vals {
		if col == key || vals[col] == cur[col] {
			continue
		}
		err = q.reindex(col, cur[col], vals[col], rid)
		if err != nil {
			return err
		}
		col := col
		undos = append(undos, func() error {
			return q.reindex(col, vals[col], cur[col], rid)
		})
	}

	latch := q.tbl.Latch()
	latch.RLock()
	defer latch.RUnlock()

	err = q.tbl.SetSchema(rid, table.Updated)
	if err != nil {
		return err
	}
	return q.tbl.SetIndirection(rid, table.PointsTo(tid))
}

// moveKey changes the key of rid in the index from old to key; it fails with ErrDuplicate
// if another record has key.
func (q *Query) moveKey(rid, old, key int64) error {
	unlock := q.tbl.LockKeys()
	defer unlock()

	rids, err := q.tbl.Index().Locate(q.tbl.Key(), key)
	if err != nil {
		return err
	}
	if len(rids) > 0 {
		return fmt.Errorf("%w: key %d", ErrDuplicate, key)
	}
	return q.tbl.Index().Replace(q.tbl.Key(), old, key, rid)
}
