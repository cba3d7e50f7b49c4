package merge_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/gracexichen/L-Store-Database/bufferpool"
	"github.com/gracexichen/L-Store-Database/merge"
	"github.com/gracexichen/L-Store-Database/query"
	"github.com/gracexichen/L-Store-Database/table"
	"github.com/gracexichen/L-Store-Database/testutil"
)

func newQuery(t *testing.T, numColumns, capacity int) *query.Query {
	t.Helper()

	bp := bufferpool.New(bufferpool.NewMemoryStore(), 512, nil)
	tbl, err := table.Create(bp, "merge", numColumns, 0,
		table.Options{PageCapacity: capacity, MergeThreshold: -1})
	if err != nil {
		t.Fatalf("Create() failed with %s", err)
	}
	return query.New(tbl)
}

func selectAll(t *testing.T, q *query.Query, keys []int64, relative int) map[int64][]int64 {
	t.Helper()

	projection := make([]int, q.Table().NumColumns())
	for col := range projection {
		projection[col] = 1
	}

	rows := map[int64][]int64{}
	for _, key := range keys {
		recs, err := q.SelectVersion(key, 0, projection, relative)
		if err != nil {
			t.Fatalf("SelectVersion(%d, %d) failed with %s", key, relative, err)
		}
		for _, rec := range recs {
			rows[key] = rec.Columns
		}
	}
	return rows
}

func TestMerge(t *testing.T) {
	q := newQuery(t, 3, 8)

	var keys []int64
	for key := int64(0); key < 40; key++ {
		err := q.Insert(key, key, 0)
		if err != nil {
			t.Fatalf("Insert(%d) failed with %s", key, err)
		}
		keys = append(keys, key)
	}
	for n := int64(0); n < 5; n++ {
		for key := int64(0); key < 40; key += 3 {
			err := q.Update(key, nil, query.Val(key*100+n), nil)
			if err != nil {
				t.Fatalf("Update(%d) failed with %s", key, err)
			}
			err = q.Increment(key, 2)
			if err != nil {
				t.Fatalf("Increment(%d) failed with %s", key, err)
			}
		}
	}
	for key := int64(1); key < 40; key += 10 {
		err := q.Delete(key)
		if err != nil {
			t.Fatalf("Delete(%d) failed with %s", key, err)
		}
	}

	before := selectAll(t, q, keys, 0)
	older := selectAll(t, q, keys, -3)
	sum, err := q.Sum(0, 39, 1)
	if err != nil {
		t.Fatalf("Sum() failed with %s", err)
	}

	tbl := q.Table()
	res, err := merge.Merge(tbl)
	if err != nil {
		t.Fatalf("Merge() failed with %s", err)
	}
	st := tbl.Stats()
	if res.Horizon != st.TailRecords || st.TPS != st.TailRecords {
		t.Errorf("Merge() got %+v and %+v want horizon and tps %d", res, st, st.TailRecords)
	}
	if res.Scanned != st.TailRecords || res.Merged != 14 {
		t.Errorf("Merge() got %+v want scanned %d and merged 14", res, st.TailRecords)
	}

	after := selectAll(t, q, keys, 0)
	if !testutil.DeepEqual(before, after) {
		t.Errorf("Select() after Merge() got %v want %v", after, before)
	}
	got := selectAll(t, q, keys, -3)
	if !testutil.DeepEqual(older, got) {
		t.Errorf("SelectVersion(-3) after Merge() got %v want %v", got, older)
	}
	s, err := q.Sum(0, 39, 1)
	if err != nil || s != sum {
		t.Errorf("Sum() after Merge() got %d, %v want %d, nil", s, err, sum)
	}

	for key := int64(1); key < 40; key += 10 {
		if _, ok := after[key]; ok {
			t.Errorf("Select(%d) after Merge() found a deleted record", key)
		}
		rid := key
		sch, err := tbl.SchemaOf(rid)
		if err != nil {
			t.Fatalf("SchemaOf(%d) failed with %s", rid, err)
		}
		if sch != table.Deleted {
			t.Errorf("SchemaOf(%d) got %s want %s", rid, sch, table.Deleted)
		}
	}
	for key := int64(0); key < 40; key += 3 {
		v, err := tbl.BaseValue(key, 1)
		if err != nil {
			t.Fatalf("BaseValue(%d, 1) failed with %s", key, err)
		}
		if key%10 != 1 && v != key*100+4 {
			t.Errorf("BaseValue(%d, 1) got %d want %d", key, v, key*100+4)
		}
		sch, err := tbl.SchemaOf(key)
		if err != nil {
			t.Fatalf("SchemaOf(%d) failed with %s", key, err)
		}
		if key%10 != 1 && sch != table.Clean {
			t.Errorf("SchemaOf(%d) got %s want %s", key, sch, table.Clean)
		}
	}

	res, err = merge.Merge(tbl)
	if err != nil {
		t.Fatalf("Merge() failed with %s", err)
	}
	if res.Scanned != 0 || res.Horizon != st.TailRecords {
		t.Errorf("Merge() with nothing to merge got %+v", res)
	}

	err = q.Update(0, nil, nil, query.Val(-1))
	if err != nil {
		t.Fatalf("Update(0) failed with %s", err)
	}
	sch, err := tbl.SchemaOf(0)
	if err != nil || sch != table.Updated {
		t.Errorf("SchemaOf(0) got %s, %v want %s", sch, err, table.Updated)
	}
	recs, err := q.SelectVersion(0, 0, []int{1, 1, 1}, -1)
	if err != nil || len(recs) != 1 ||
		!testutil.DeepEqual(recs[0].Columns, []int64{0, 4, 5}) {

		t.Errorf("SelectVersion(0, -1) got %v, %v want [0 4 5]", recs, err)
	}
}

func TestConcurrentMerge(t *testing.T) {
	q := newQuery(t, 2, 16)

	const (
		workers = 4
		keys    = 20
		count   = 30
	)

	for key := int64(0); key < keys; key++ {
		err := q.Insert(key, 0)
		if err != nil {
			t.Fatalf("Insert(%d) failed with %s", key, err)
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, workers*count*keys+workers*count)
	done := make(chan struct{})
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()

			for n := 0; n < count; n++ {
				for key := int64(w); key < keys; key += workers {
					if err := q.Increment(key, 1); err != nil {
						errs <- fmt.Errorf("Increment(%d): %w", key, err)
					}
				}
				key := int64(keys + w*count + n)
				if err := q.Insert(key, 1); err != nil {
					errs <- fmt.Errorf("Insert(%d): %w", key, err)
				}
			}
		}(w)
	}

	var merges sync.WaitGroup
	merges.Add(1)
	go func() {
		defer merges.Done()

		for {
			select {
			case <-done:
				return
			default:
			}
			if _, err := merge.Merge(q.Table()); err != nil {
				errs <- fmt.Errorf("Merge(): %w", err)
				return
			}
		}
	}()

	wg.Wait()
	close(done)
	merges.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	check := func() {
		sum, err := q.Sum(0, keys-1, 1)
		if err != nil || sum != keys*count {
			t.Errorf("Sum(0, %d, 1) got %d, %v want %d", keys-1, sum, err, keys*count)
		}
		sum, err = q.Sum(keys, keys+workers*count, 1)
		if err != nil || sum != workers*count {
			t.Errorf("Sum(%d, %d, 1) got %d, %v want %d", keys, keys+workers*count, sum, err,
				workers*count)
		}
	}

	check()
	_, err := merge.Merge(q.Table())
	if err != nil {
		t.Fatalf("Merge() failed with %s", err)
	}
	if st := q.Table().Stats(); st.TPS != st.TailRecords {
		t.Errorf("Stats() after Merge() got %+v", st)
	}
	check()
}

func TestAbortedUpdate(t *testing.T) {
	st := testutil.NewFailingStore(bufferpool.NewMemoryStore())
	bp := bufferpool.New(st, 4, nil)
	tbl, err := table.Create(bp, "merge", 2, 0,
		table.Options{PageCapacity: 1, MergeThreshold: -1})
	if err != nil {
		t.Fatalf("Create() failed with %s", err)
	}
	q := query.New(tbl)

	for _, key := range []int64{7, 8} {
		err = q.Insert(key, key*10)
		if err != nil {
			t.Fatalf("Insert(%d) failed with %s", key, err)
		}
	}
	err = q.Update(8, nil, query.Val(81))
	if err != nil {
		t.Fatalf("Update(8, 81) failed with %s", err)
	}

	st.FailReads(false, 1)
	err = q.Update(7, nil, query.Val(71))
	if !errors.Is(err, bufferpool.ErrIO) || !bufferpool.IsFatal(err) {
		t.Fatalf("Update(7, 71) got %v want an I/O error", err)
	}
	if tbl.Stats().Aborted != 2 {
		t.Fatalf("Stats() got %+v want 2 aborted", tbl.Stats())
	}

	for i := 0; i < 2; i++ {
		res, err := merge.Merge(tbl)
		if err != nil {
			t.Fatalf("Merge() #%d failed with %s", i, err)
		}
		if tbl.TPS() != 4 || res.Horizon != 4 {
			t.Errorf("Merge() #%d got %+v and tps %d want 4", i, res, tbl.TPS())
		}
	}
	if tbl.Stats().Aborted != 0 {
		t.Errorf("Stats().Aborted after Merge() got %d want 0", tbl.Stats().Aborted)
	}

	got := selectAll(t, q, []int64{7, 8}, 0)
	want := map[int64][]int64{7: {7, 70}, 8: {8, 81}}
	if !testutil.DeepEqual(got, want) {
		t.Errorf("Select() after Merge() got %v want %v", got, want)
	}
	sch, err := tbl.SchemaOf(0)
	if err != nil || sch != table.Clean {
		t.Errorf("SchemaOf(0) got %s, %v want %s", sch, err, table.Clean)
	}

	err = q.Update(7, nil, query.Val(72))
	if err != nil {
		t.Fatalf("Update(7, 72) failed with %s", err)
	}
	res, err := merge.Merge(tbl)
	if err != nil {
		t.Fatalf("Merge() failed with %s", err)
	}
	if res.Scanned != 2 || res.Merged != 1 {
		t.Errorf("Merge() got %+v want scanned 2 and merged 1", res)
	}
	got = selectAll(t, q, []int64{7, 8}, 0)
	want = map[int64][]int64{7: {7, 72}, 8: {8, 81}}
	if !testutil.DeepEqual(got, want) {
		t.Errorf("Select() after Merge() got %v want %v", got, want)
	}
	got = selectAll(t, q, []int64{7}, -1)
	if !testutil.DeepEqual(got, map[int64][]int64{7: {7, 70}}) {
		t.Errorf("SelectVersion(-1) got %v want [7 70]", got)
	}
}
