package query

import (
	"fmt"

	"github.com/gracexichen/L-Store-Database/table"
)

// Select returns the records with a value of key for col; projection has one entry per
// column, 1 to return the column and 0 to leave it out. No matching records is not an
// error.
func (q *Query) Select(key int64, col int, projection []int) ([]table.Record, error) {
	return q.SelectVersion(key, col, projection, 0)
}

// SelectVersion is Select for the version of each record relative versions before the
// current version: 0 is the current version, -1 the version before that, and so on.
// Asking for a version older than the oldest version returns the oldest version.
func (q *Query) SelectVersion(key int64, col int, projection []int,
	relative int) ([]table.Record, error) {

	if err := q.checkColumn(col); err != nil {
		return nil, err
	}
	if err := q.checkProjection(projection); err != nil {
		return nil, err
	}
	if relative > 0 {
		return nil, fmt.Errorf("%w: relative version must not be positive: %d", ErrInvalid,
			relative)
	}

	lkr := q.tbl.Locks().Begin()
	defer lkr.Release()

	rids, err := q.locate(col, key, key)
	if err != nil {
		return nil, err
	}

	records := []table.Record{}
	for _, rid := range rids {
		err = q.lock(lkr, rid, false)
		if err != nil {
			return nil, err
		}
		vals, ok, err := q.visible(rid, col, key, key)
		if err != nil {
			return nil, err
		} else if !ok {
			continue
		}
		if relative != 0 {
			vals, err = q.version(rid, relative)
			if err != nil {
				return nil, err
			}
		}

		records = append(records,
			table.Record{
				RID:     rid,
				Key:     key,
				Columns: project(vals, projection),
			})
	}
	return records, nil
}
