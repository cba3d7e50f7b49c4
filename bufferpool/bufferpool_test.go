package bufferpool_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/gracexichen/L-Store-Database/bufferpool"
	"github.com/gracexichen/L-Store-Database/page"
	"github.com/gracexichen/L-Store-Database/testutil"
)

const (
	testCapacity = 8
)

func testPages(n int) []*page.Page {
	var pages []*page.Page
	for pdx := 0; pdx < n; pdx++ {
		pages = append(pages, page.New(testCapacity))
	}
	return pages
}

func testPool(t *testing.T, st bufferpool.Store, frames int) {
	t.Helper()

	bp := bufferpool.New(st, frames, nil)
	err := bp.InitPages("tbl", true, 0, testPages(12))
	if err != nil {
		t.Fatalf("InitPages(base) failed with %s", err)
	}
	err = bp.InitPages("tbl", false, 0, testPages(6))
	if err != nil {
		t.Fatalf("InitPages(tail) failed with %s", err)
	}

	basePages, tailPages := bp.TableSize("tbl")
	if basePages != 12 || tailPages != 6 {
		t.Errorf("TableSize(tbl) got %d, %d want 12, 6", basePages, tailPages)
	}

	for idx := int64(0); idx < 12; idx++ {
		key := bufferpool.PageKey{Table: "tbl", Index: idx, Base: true}
		for slot := 0; slot < testCapacity; slot++ {
			err = bp.Put(key, slot, idx*100+int64(slot))
			if err != nil {
				t.Fatalf("Put(%s, %d) failed with %s", key, slot, err)
			}
		}
	}
	for idx := int64(0); idx < 6; idx++ {
		key := bufferpool.PageKey{Table: "tbl", Index: idx}
		err = bp.Put(key, 3, -idx)
		if err != nil {
			t.Fatalf("Put(%s, 3) failed with %s", key, err)
		}
	}

	stats := bp.Stats()
	if stats.Frames > frames {
		t.Errorf("Stats().Frames got %d want <= %d", stats.Frames, frames)
	}
	if stats.Evictions == 0 {
		t.Errorf("Stats().Evictions got 0 want > 0")
	}

	for idx := int64(0); idx < 12; idx++ {
		key := bufferpool.PageKey{Table: "tbl", Index: idx, Base: true}
		for slot := 0; slot < testCapacity; slot++ {
			v, err := bp.Read(key, slot)
			if err != nil {
				t.Fatalf("Read(%s, %d) failed with %s", key, slot, err)
			}
			if v != idx*100+int64(slot) {
				t.Errorf("Read(%s, %d) got %d want %d", key, slot, v, idx*100+int64(slot))
			}
		}
	}

	pages, err := bp.GetTailPages("tbl")
	if err != nil {
		t.Fatalf("GetTailPages(tbl) failed with %s", err)
	}
	if len(pages) != 6 {
		t.Fatalf("GetTailPages(tbl) got %d pages want 6", len(pages))
	}
	for pdx, pg := range pages {
		v, err := pg.Read(3)
		if err != nil {
			t.Errorf("tail page %d: Read(3) failed with %s", pdx, err)
		} else if v != -int64(pdx) {
			t.Errorf("tail page %d: Read(3) got %d want %d", pdx, v, -pdx)
		}
		if pg.Written(2) {
			t.Errorf("tail page %d: Written(2) got true want false", pdx)
		}
	}

	cp, err := bp.GetPageCopy("tbl", 5)
	if err != nil {
		t.Fatalf("GetPageCopy(tbl, 5) failed with %s", err)
	}
	err = cp.Overwrite(0, 12345)
	if err != nil {
		t.Fatalf("Overwrite(0) failed with %s", err)
	}
	key := bufferpool.PageKey{Table: "tbl", Index: 5, Base: true}
	v, err := bp.Read(key, 0)
	if err != nil || v != 500 {
		t.Errorf("Read(%s, 0) got %d, %v want 500, nil", key, v, err)
	}
	err = bp.ReplacePage("tbl", 5, cp)
	if err != nil {
		t.Fatalf("ReplacePage(tbl, 5) failed with %s", err)
	}
	v, err = bp.Read(key, 0)
	if err != nil || v != 12345 {
		t.Errorf("Read(%s, 0) got %d, %v want 12345, nil", key, v, err)
	}

	_, err = bp.Read(bufferpool.PageKey{Table: "tbl", Index: 12, Base: true}, 0)
	if !errors.Is(err, bufferpool.ErrNoPage) {
		t.Errorf("Read(tbl/base/12) got %v want %s", err, bufferpool.ErrNoPage)
	}
	_, err = bp.Read(bufferpool.PageKey{Table: "missing", Index: 0, Base: true}, 0)
	if !errors.Is(err, bufferpool.ErrNoPage) {
		t.Errorf("Read(missing/base/0) got %v want %s", err, bufferpool.ErrNoPage)
	}

	err = bp.FlushAll()
	if err != nil {
		t.Fatalf("FlushAll() failed with %s", err)
	}
	if stats := bp.Stats(); stats.Dirty != 0 {
		t.Errorf("Stats().Dirty got %d want 0", stats.Dirty)
	}

	// A second pool over the same store sees the flushed pages.
	bp2 := bufferpool.New(st, frames, nil)
	bp2.AddTable("tbl", 12, 6)
	v, err = bp2.Read(key, 0)
	if err != nil || v != 12345 {
		t.Errorf("Read(%s, 0) got %d, %v want 12345, nil", key, v, err)
	}
	v, err = bp2.Read(bufferpool.PageKey{Table: "tbl", Index: 11, Base: true}, 7)
	if err != nil || v != 1107 {
		t.Errorf("Read(tbl/base/11, 7) got %d, %v want 1107, nil", v, err)
	}

	err = bp2.DropTable("tbl")
	if err != nil {
		t.Fatalf("DropTable(tbl) failed with %s", err)
	}
	_, err = st.ReadPage(key)
	if err != bufferpool.ErrMissingPage {
		t.Errorf("ReadPage(%s) got %v want %s", key, err, bufferpool.ErrMissingPage)
	}
}

func TestMemoryPool(t *testing.T) {
	testPool(t, bufferpool.NewMemoryStore(), 4)
}

func TestFilePool(t *testing.T) {
	dataDir := filepath.Join("testdata", "file")
	err := testutil.CleanDir(dataDir)
	if err != nil {
		t.Fatal(err)
	}

	st, err := bufferpool.NewFileStore(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	testPool(t, st, 5)
}

func TestBBoltPool(t *testing.T) {
	dataDir := filepath.Join("testdata", "bbolt")
	err := testutil.CleanDir(dataDir)
	if err != nil {
		t.Fatal(err)
	}

	st, err := bufferpool.NewBBoltStore(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	testPool(t, st, 4)
}

func TestBadgerPool(t *testing.T) {
	dataDir := filepath.Join("testdata", "badger")
	err := testutil.CleanDir(dataDir)
	if err != nil {
		t.Fatal(err)
	}

	st, err := bufferpool.NewBadgerStore(dataDir,
		testutil.SetupLogger(filepath.Join("testdata", "badger_pool.log")))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	testPool(t, st, 4)
}

func TestPebblePool(t *testing.T) {
	dataDir := filepath.Join("testdata", "pebble")
	err := testutil.CleanDir(dataDir)
	if err != nil {
		t.Fatal(err)
	}

	st, err := bufferpool.NewPebbleStore(dataDir,
		testutil.SetupLogger(filepath.Join("testdata", "pebble_pool.log")))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	testPool(t, st, 4)
}

func TestPinned(t *testing.T) {
	bp := bufferpool.New(bufferpool.NewMemoryStore(), 2, nil)
	err := bp.InitPages("tbl", true, 0, testPages(3))
	if err != nil {
		t.Fatalf("InitPages() failed with %s", err)
	}

	key0 := bufferpool.PageKey{Table: "tbl", Index: 0, Base: true}
	key1 := bufferpool.PageKey{Table: "tbl", Index: 1, Base: true}
	key2 := bufferpool.PageKey{Table: "tbl", Index: 2, Base: true}
	for _, key := range []bufferpool.PageKey{key0, key1, key2} {
		err = bp.Put(key, 0, key.Index)
		if err != nil {
			t.Fatalf("Put(%s) failed with %s", key, err)
		}
	}

	_, err = bp.GetPage(key1, true)
	if err != nil {
		t.Fatalf("GetPage(%s) failed with %s", key1, err)
	}
	_, err = bp.GetPage(key2, true)
	if err != nil {
		t.Fatalf("GetPage(%s) failed with %s", key2, err)
	}

	_, err = bp.Read(key0, 0)
	if !errors.Is(err, bufferpool.ErrPoolFull) {
		t.Errorf("Read(%s) got %v want %s", key0, err, bufferpool.ErrPoolFull)
	}
	if !bufferpool.IsFatal(err) {
		t.Errorf("IsFatal(%v) got false want true", err)
	}

	bp.Unpin(key2)
	v, err := bp.Read(key0, 0)
	if err != nil || v != 0 {
		t.Errorf("Read(%s) got %d, %v want 0, nil", key0, v, err)
	}
	bp.Unpin(key1)

	if stats := bp.Stats(); stats.Pinned != 0 {
		t.Errorf("Stats().Pinned got %d want 0", stats.Pinned)
	}
}

func TestCorrupt(t *testing.T) {
	st := bufferpool.NewMemoryStore()
	bp := bufferpool.New(st, 4, nil)
	err := bp.InitPages("tbl", false, 0, testPages(1))
	if err != nil {
		t.Fatalf("InitPages() failed with %s", err)
	}
	key := bufferpool.PageKey{Table: "tbl", Index: 0}
	err = bp.Put(key, 0, 99)
	if err != nil {
		t.Fatalf("Put(%s) failed with %s", key, err)
	}
	err = bp.FlushTable("tbl")
	if err != nil {
		t.Fatalf("FlushTable() failed with %s", err)
	}

	buf, err := st.ReadPage(key)
	if err != nil {
		t.Fatalf("ReadPage(%s) failed with %s", key, err)
	}
	buf[len(buf)-1] ^= 0xFF
	err = st.WritePage(key, buf)
	if err != nil {
		t.Fatalf("WritePage(%s) failed with %s", key, err)
	}

	bp2 := bufferpool.New(st, 4, nil)
	bp2.AddTable("tbl", 0, 1)
	_, err = bp2.Read(key, 0)
	if !errors.Is(err, bufferpool.ErrCorrupt) {
		t.Errorf("Read(%s) got %v want %s", key, err, bufferpool.ErrCorrupt)
	}

	bp2.AddTable("tbl", 0, 2)
	_, err = bp2.Read(bufferpool.PageKey{Table: "tbl", Index: 1}, 0)
	if !errors.Is(err, bufferpool.ErrMissingPage) {
		t.Errorf("Read(tbl/tail/1) got %v want %s", err, bufferpool.ErrMissingPage)
	}
}

func TestOpenStore(t *testing.T) {
	_, err := bufferpool.OpenStore("unknown", "testdata", nil)
	if !errors.Is(err, bufferpool.ErrUnknownStore) {
		t.Errorf("OpenStore(unknown) got %v want %s", err, bufferpool.ErrUnknownStore)
	}
	st, err := bufferpool.OpenStore(bufferpool.MemoryStore, "", nil)
	if err != nil {
		t.Errorf("OpenStore(memory) failed with %s", err)
	} else {
		st.Close()
	}
}
