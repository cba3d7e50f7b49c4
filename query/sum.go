package query

import (
	"fmt"
)

// Sum returns the total of col over the records with a key in [start, end]. It fails with
// ErrEmptyRange if there are no such records.
func (q *Query) Sum(start, end int64, col int) (int64, error) {
	return q.SumVersion(start, end, col, 0)
}

// SumVersion is Sum over the version of each record relative versions before the current
// version; see SelectVersion. The key range is matched against current keys.
func (q *Query) SumVersion(start, end int64, col int, relative int) (int64, error) {
	if err := q.checkColumn(col); err != nil {
		return 0, err
	}
	if relative > 0 {
		return 0, fmt.Errorf("%w: relative version must not be positive: %d", ErrInvalid,
			relative)
	}

	lkr := q.tbl.Locks().Begin()
	defer lkr.Release()

	key := q.tbl.Key()
	rids, err := q.locate(key, start, end)
	if err != nil {
		return 0, err
	}

	var total int64
	var found bool
	for _, rid := range rids {
		err = q.lock(lkr, rid, false)
		if err != nil {
			return 0, err
		}
		vals, ok, err := q.visible(rid, key, start, end)
		if err != nil {
			return 0, err
		} else if !ok {
			continue
		}
		if relative != 0 {
			vals, err = q.version(rid, relative)
			if err != nil {
				return 0, err
			}
		}
		total += vals[col]
		found = true
	}

	if !found {
		return 0, fmt.Errorf("%w: [%d, %d]", ErrEmptyRange, start, end)
	}
	return total, nil
}
