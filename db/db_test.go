package db_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/gracexichen/L-Store-Database/config"
	"github.com/gracexichen/L-Store-Database/db"
	"github.com/gracexichen/L-Store-Database/merge"
	"github.com/gracexichen/L-Store-Database/query"
	"github.com/gracexichen/L-Store-Database/table"
	"github.com/gracexichen/L-Store-Database/testutil"
)

func setup(t *testing.T, store string) (*config.Config, *log.Logger) {
	t.Helper()

	dataDir := filepath.Join("testdata", store)
	err := testutil.CleanDir(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	err = os.MkdirAll(dataDir, 0755)
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.DataDir = dataDir
	cfg.Store = store
	cfg.PoolSize = 64
	cfg.PageCapacity = 8
	cfg.MergeThreshold = -1
	cfg.MergeInterval = 0
	return cfg, testutil.SetupLogger(filepath.Join("testdata", "db_test.log"))
}

func open(t *testing.T, cfg *config.Config, logger *log.Logger) *db.Database {
	t.Helper()

	d, err := db.Open(cfg, logger)
	if err != nil {
		t.Fatalf("Open(%s) failed with %s", cfg.Store, err)
	}
	return d
}

func testReopen(t *testing.T, store string) {
	t.Helper()

	cfg, logger := setup(t, store)
	d := open(t, cfg, logger)

	tbl, err := d.CreateTable("grades", 3, 0)
	if err != nil {
		t.Fatalf("CreateTable(grades) failed with %s", err)
	}
	_, err = d.CreateTable("grades", 2, 0)
	if !errors.Is(err, db.ErrTableExists) {
		t.Errorf("CreateTable(grades) got %v want %s", err, db.ErrTableExists)
	}
	_, err = d.CreateTable("scratch", 2, 1)
	if err != nil {
		t.Fatalf("CreateTable(scratch) failed with %s", err)
	}

	q := query.New(tbl)
	for key := int64(0); key < 50; key++ {
		err = q.Insert(key, key*2, 0)
		if err != nil {
			t.Fatalf("Insert(%d) failed with %s", key, err)
		}
	}
	for key := int64(0); key < 50; key += 5 {
		err = q.Update(key, nil, nil, query.Val(key))
		if err != nil {
			t.Fatalf("Update(%d) failed with %s", key, err)
		}
	}
	_, err = merge.Merge(tbl)
	if err != nil {
		t.Fatalf("Merge() failed with %s", err)
	}
	for key := int64(0); key < 50; key += 10 {
		err = q.Increment(key, 2)
		if err != nil {
			t.Fatalf("Increment(%d) failed with %s", key, err)
		}
	}
	err = q.Delete(7)
	if err != nil {
		t.Fatalf("Delete(7) failed with %s", err)
	}
	err = q.DropIndex(1)
	if err != nil {
		t.Fatalf("DropIndex(1) failed with %s", err)
	}

	sum, err := q.Sum(0, 49, 2)
	if err != nil {
		t.Fatalf("Sum() failed with %s", err)
	}
	old, err := q.SumVersion(0, 49, 2, -1)
	if err != nil {
		t.Fatalf("SumVersion() failed with %s", err)
	}
	st := tbl.Stats()

	err = d.DropTable("scratch")
	if err != nil {
		t.Fatalf("DropTable(scratch) failed with %s", err)
	}
	err = d.DropTable("scratch")
	if !errors.Is(err, db.ErrNoTable) {
		t.Errorf("DropTable(scratch) got %v want %s", err, db.ErrNoTable)
	}
	err = d.Close()
	if err != nil {
		t.Fatalf("Close() failed with %s", err)
	}
	_, err = d.GetTable("grades")
	if !errors.Is(err, db.ErrClosed) {
		t.Errorf("GetTable(grades) after Close() got %v want %s", err, db.ErrClosed)
	}

	d = open(t, cfg, logger)
	defer d.Close()

	names := d.Tables()
	if !testutil.DeepEqual(names, []string{"grades"}) {
		t.Errorf("Tables() got %v want [grades]", names)
	}
	tbl, err = d.GetTable("grades")
	if err != nil {
		t.Fatalf("GetTable(grades) failed with %s", err)
	}
	if rst := tbl.Stats(); rst != st {
		t.Errorf("Stats() got %+v want %+v", rst, st)
	}
	if tbl.Index().Indexed(1) {
		t.Errorf("Indexed(1) got true want false")
	}

	q = query.New(tbl)
	s, err := q.Sum(0, 49, 2)
	if err != nil || s != sum {
		t.Errorf("Sum() got %d, %v want %d", s, err, sum)
	}
	s, err = q.SumVersion(0, 49, 2, -1)
	if err != nil || s != old {
		t.Errorf("SumVersion(-1) got %d, %v want %d", s, err, old)
	}
	recs, err := q.Select(7, 0, []int{1, 1, 1})
	if err != nil || len(recs) != 0 {
		t.Errorf("Select(7) got %v, %v want []", recs, err)
	}
	recs, err = q.Select(20, 0, []int{1, 1, 1})
	if err != nil || len(recs) != 1 || !testutil.DeepEqual(recs[0].Columns,
		[]int64{20, 40, 21}) {

		t.Errorf("Select(20) got %v, %v want [20 40 21]", recs, err)
	}
	recs, err = q.Select(42, 1, []int{1, 0, 0})
	if err != nil || len(recs) != 1 || recs[0].Columns[0] != 21 {
		t.Errorf("Select(42, 1) got %v, %v want [21]", recs, err)
	}

	err = q.Insert(50, 100, 0)
	if err != nil {
		t.Errorf("Insert(50) after reopening failed with %s", err)
	}
	err = q.Insert(49, 0, 0)
	if !errors.Is(err, query.ErrDuplicate) {
		t.Errorf("Insert(49) after reopening got %v want %s", err, query.ErrDuplicate)
	}
}

func TestFile(t *testing.T) {
	testReopen(t, "file")
}

func TestBBolt(t *testing.T) {
	testReopen(t, "bbolt")
}

func TestBadger(t *testing.T) {
	testReopen(t, "badger")
}

func TestPebble(t *testing.T) {
	testReopen(t, "pebble")
}

func TestBadName(t *testing.T) {
	cfg, logger := setup(t, "memory")
	d := open(t, cfg, logger)
	defer d.Close()

	for _, name := range []string{"", ".pages", "a/b", "..", "9lives"} {
		_, err := d.CreateTable(name, 2, 0)
		if !errors.Is(err, db.ErrBadName) {
			t.Errorf("CreateTable(%q) got %v want %s", name, err, db.ErrBadName)
		}
	}
	_, err := d.CreateTable("t", 2, 2)
	if !errors.Is(err, table.ErrInvalid) {
		t.Errorf("CreateTable(t, 2, 2) got %v want %s", err, table.ErrInvalid)
	}
}

func TestBackgroundMerge(t *testing.T) {
	cfg, logger := setup(t, "memory")
	cfg.MergeThreshold = 16
	d := open(t, cfg, logger)
	defer d.Close()

	tbl, err := d.CreateTable("counters", 2, 0)
	if err != nil {
		t.Fatalf("CreateTable(counters) failed with %s", err)
	}
	q := query.New(tbl)
	err = q.Insert(1, 0)
	if err != nil {
		t.Fatalf("Insert(1) failed with %s", err)
	}
	for n := 0; n < 20; n++ {
		err = q.Increment(1, 1)
		if err != nil {
			t.Fatalf("Increment(1) failed with %s", err)
		}
	}

	deadline := time.Now().Add(10 * time.Second)
	for tbl.TPS() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("TPS() got 0 after %d tail records", tbl.Stats().TailRecords)
		}
		time.Sleep(10 * time.Millisecond)
	}

	recs, err := q.Select(1, 0, []int{0, 1})
	if err != nil || len(recs) != 1 || recs[0].Columns[0] != 20 {
		t.Errorf("Select(1) got %v, %v want [20]", recs, err)
	}
}

func TestCheckpoint(t *testing.T) {
	cfg, logger := setup(t, "file")
	cfg.DataDir = filepath.Join("testdata", "checkpoint")
	err := testutil.CleanDir(cfg.DataDir)
	if err != nil {
		t.Fatal(err)
	}

	d := open(t, cfg, logger)
	tbl, err := d.CreateTable("t", 2, 0)
	if err != nil {
		t.Fatalf("CreateTable(t) failed with %s", err)
	}
	err = query.New(tbl).Insert(1, 2)
	if err != nil {
		t.Fatalf("Insert(1, 2) failed with %s", err)
	}
	err = d.Checkpoint()
	if err != nil {
		t.Fatalf("Checkpoint() failed with %s", err)
	}
	_, err = os.Stat(filepath.Join(cfg.DataDir, "t", table.SnapshotFile))
	if err != nil {
		t.Errorf("Checkpoint() did not write a snapshot: %s", err)
	}
	err = d.Close()
	if err != nil {
		t.Fatalf("Close() failed with %s", err)
	}
	err = d.Close()
	if !errors.Is(err, db.ErrClosed) {
		t.Errorf("Close() got %v want %s", err, db.ErrClosed)
	}
}
