package query

import (
	"errors"
	"fmt"
	"sort"

	"github.com/gracexichen/L-Store-Database/index"
	"github.com/gracexichen/L-Store-Database/lock"
	"github.com/gracexichen/L-Store-Database/page"
	"github.com/gracexichen/L-Store-Database/table"
)

var (
	ErrNotFound   = errors.New("query: record not found")
	ErrDuplicate  = errors.New("query: duplicate key")
	ErrEmptyRange = errors.New("query: no records in range")
	ErrInvalid    = errors.New("query: invalid argument")
)

// Query runs record operations against one table. Every operation is its own transaction:
// the records it reads are locked shared, the record it writes is locked exclusive, and
// all locks are released when the operation returns.
type Query struct {
	tbl *table.Table

	// NoWait makes an operation fail with lock.ErrLocked instead of waiting for a record
	// locked by another operation.
	NoWait bool
}

func New(tbl *table.Table) *Query {
	return &Query{
		tbl: tbl,
	}
}

func (q *Query) Table() *table.Table {
	return q.tbl
}

// Val returns a pointer to v, for the columns of Update.
func Val(v int64) *int64 {
	return &v
}

func (q *Query) checkColumn(col int) error {
	if col < 0 || col >= q.tbl.NumColumns() {
		return fmt.Errorf("%w: column %d not in [0, %d)", ErrInvalid, col, q.tbl.NumColumns())
	}
	return nil
}

func (q *Query) checkProjection(projection []int) error {
	if len(projection) != q.tbl.NumColumns() {
		return fmt.Errorf("%w: projection has %d columns want %d", ErrInvalid, len(projection),
			q.tbl.NumColumns())
	}
	for _, p := range projection {
		if p != 0 && p != 1 {
			return fmt.Errorf("%w: projection must be 0 or 1: %d", ErrInvalid, p)
		}
	}
	return nil
}

func project(vals []int64, projection []int) []int64 {
	cols := []int64{}
	for col, p := range projection {
		if p == 1 {
			cols = append(cols, vals[col])
		}
	}
	return cols
}

func (q *Query) lock(lkr *lock.Locker, rid int64, exclusive bool) error {
	mgr := q.tbl.Locks()
	switch {
	case exclusive && q.NoWait:
		return mgr.TryExclusive(lkr, rid)
	case exclusive:
		return mgr.AcquireExclusive(lkr, rid)
	case q.NoWait:
		return mgr.TryShared(lkr, rid)
	}
	return mgr.AcquireShared(lkr, rid)
}

func (q *Query) baseValues(rid int64) ([]int64, error) {
	vals := make([]int64, q.tbl.NumColumns())
	for col := range vals {
		v, err := q.tbl.BaseValue(rid, col)
		if err != nil {
			return nil, err
		}
		vals[col] = v
	}
	return vals, nil
}

func (q *Query) tailValues(tid int64) ([]int64, error) {
	vals := make([]int64, q.tbl.NumColumns())
	for col := range vals {
		v, err := q.tbl.TailValue(tid, col)
		if err != nil {
			return nil, err
		}
		vals[col] = v
	}
	return vals, nil
}

// current returns the data columns of the current version of rid: from the base record
// if its indirection is none or below tps, and from the tail record it points to
// otherwise.
func (q *Query) current(rid int64) ([]int64, error) {
	p, err := q.tbl.Indirection(rid)
	if err != nil {
		return nil, err
	}
	if p.Below(q.tbl.TPS()) {
		return q.baseValues(rid)
	}
	return q.tailValues(p.ID())
}

// version returns the data columns of rid relative versions before the current version;
// relative must not be positive. Walking past the oldest version stops at the oldest
// version. The first update of a record writes a tail record with the inserted values,
// so the walk never needs the base record once a record has been updated. Tail records
// stay readable after a merge, so the walk follows the chain below tps as well.
func (q *Query) version(rid int64, relative int) ([]int64, error) {
	if relative == 0 {
		return q.current(rid)
	}

	p, err := q.tbl.Indirection(rid)
	if err != nil {
		return nil, err
	}
	if p.IsNone() {
		return q.baseValues(rid)
	}
	for hops := -relative; hops > 0; hops-- {
		prev, err := q.tbl.TailIndirection(p.ID())
		if err != nil {
			return nil, err
		}
		if prev.IsNone() {
			break
		}
		p = prev
	}
	return q.tailValues(p.ID())
}

// visible must be called with rid locked. It returns the current values of rid if the
// record is not deleted and its value for col is in [start, end]. A base record which was
// never completely written, because its insert is still running or failed, is not visible.
func (q *Query) visible(rid int64, col int, start, end int64) ([]int64, bool, error) {
	s, err := q.tbl.SchemaOf(rid)
	if errors.Is(err, page.ErrSlotRange) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	if s == table.Deleted {
		return nil, false, nil
	}
	vals, err := q.current(rid)
	if errors.Is(err, page.ErrSlotRange) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	if vals[col] < start || vals[col] > end {
		return nil, false, nil
	}
	return vals, true, nil
}

// locate returns the rids with a value for col in [start, end], in ascending rid order so
// that locking them in order can not deadlock. Without an index on col, every record is
// scanned.
func (q *Query) locate(col int, start, end int64) ([]int64, error) {
	rids, err := q.tbl.Index().LocateRange(col, start, end)
	if errors.Is(err, index.ErrNoIndex) {
		return q.scan(col, start, end)
	} else if err != nil {
		return nil, err
	}
	sort.Slice(rids, func(i, j int) bool { return rids[i] < rids[j] })
	return rids, nil
}

func (q *Query) scan(col int, start, end int64) ([]int64, error) {
	var rids []int64
	cnt := q.tbl.NumRecords()
	for rid := int64(0); rid < cnt; rid++ {
		_, ok, err := q.visible(rid, col, start, end)
		if err != nil {
			return nil, err
		}
		if ok {
			rids = append(rids, rid)
		}
	}
	return rids, nil
}

// lockKey finds the record with key and locks it exclusive; it returns the rid and the
// current values of the record.
func (q *Query) lockKey(lkr *lock.Locker, key int64) (int64, []int64, error) {
	col := q.tbl.Key()
	for {
		rids, err := q.locate(col, key, key)
		if err != nil {
			return 0, nil, err
		}
		if len(rids) == 0 {
			return 0, nil, fmt.Errorf("%w: key %d", ErrNotFound, key)
		}

		rid := rids[0]
		err = q.lock(lkr, rid, true)
		if err != nil {
			return 0, nil, err
		}
		vals, ok, err := q.visible(rid, col, key, key)
		if err != nil {
			return 0, nil, err
		} else if ok {
			return rid, vals, nil
		}

		// The record was deleted or its key changed before it was locked.
		lkr.Release()
	}
}
