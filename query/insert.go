package query

import (
	"errors"
	"fmt"

	"github.com/gracexichen/L-Store-Database/index"
	"github.com/gracexichen/L-Store-Database/lock"
)

// Insert adds a record; it fails with ErrDuplicate if a record with the same key exists.
// If the record can not be written, its rid is left unused and its key is released.
func (q *Query) Insert(columns ...int64) (err error) {
	if len(columns) != q.tbl.NumColumns() {
		return fmt.Errorf("%w: insert of %d columns want %d", ErrInvalid, len(columns),
			q.tbl.NumColumns())
	}

	lkr := q.tbl.Locks().Begin()
	defer lkr.Release()

	key := q.tbl.Key()
	rid, err := q.claimKey(lkr, columns[key])
	if err != nil {
		return err
	}

	undos := []func() error{
		func() error {
			unlock := q.tbl.LockKeys()
			defer unlock()
			return q.tbl.Index().Delete(key, columns[key], rid)
		},
	}
	defer func() {
		if err != nil {
			q.undo(undos)
		}
	}()

	latch := q.tbl.Latch()
	latch.RLock()
	err = q.tbl.WriteBaseRecord(rid, columns)
	latch.RUnlock()
	if err != nil {
		return err
	}

	for col, v := range columns {
		if col == key {
			continue
		}
		err = q.tbl.Index().Add(col, v, rid)
		if errors.Is(err, index.ErrNoIndex) {
			err = nil
			continue
		} else if err != nil {
			return err
		}
		col, v := col, v
		undos = append(undos, func() error {
			return q.tbl.Index().Delete(col, v, rid)
		})
	}
	return nil
}

// claimKey allocates a rid for a new record with key and locks it exclusive. Once the key
// is in the index, readers finding the new record wait on the lock until it is written.
func (q *Query) claimKey(lkr *lock.Locker, key int64) (int64, error) {
	unlock := q.tbl.LockKeys()
	defer unlock()

	col := q.tbl.Key()
	rids, err := q.tbl.Index().Locate(col, key)
	if err != nil {
		return 0, err
	}
	if len(rids) > 0 {
		return 0, fmt.Errorf("%w: key %d", ErrDuplicate, key)
	}

	rid, err := q.tbl.AllocateBaseRID()
	if err != nil {
		return 0, err
	}
	err = q.tbl.Locks().AcquireExclusive(lkr, rid)
	if err != nil {
		return 0, err
	}
	err = q.tbl.Index().Add(col, key, rid)
	if err != nil {
		return 0, err
	}
	return rid, nil
}
