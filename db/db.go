package db

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/gracexichen/L-Store-Database/bufferpool"
	"github.com/gracexichen/L-Store-Database/config"
	"github.com/gracexichen/L-Store-Database/merge"
	"github.com/gracexichen/L-Store-Database/table"
)

const (
	// kvDir holds the pages of the key-value stores; table names can't start with a dot.
	kvDir = ".pages"
)

var (
	ErrClosed      = errors.New("db: database is closed")
	ErrTableExists = errors.New("db: table already exists")
	ErrNoTable     = errors.New("db: table not found")
	ErrBadName     = errors.New("db: bad table name")

	tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_\-]*$`)
)

type worker struct {
	tbl  *table.Table
	stop chan struct{}
	done chan struct{}
}

// Database is a set of tables sharing one buffer pool and page store. Each table has a
// merge worker running in the background.
type Database struct {
	cfg    *config.Config
	logger *log.Logger
	bp     *bufferpool.BufferPool

	mutex   sync.Mutex
	workers map[string]*worker
	closed  bool
}

func storeDir(cfg *config.Config) string {
	if cfg.Store == bufferpool.FileStore {
		return cfg.DataDir
	}
	return filepath.Join(cfg.DataDir, kvDir)
}

// Open opens the page store in the data directory and restores every table with a
// snapshot there.
func Open(cfg *config.Config, logger *log.Logger) (*Database, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	err = os.MkdirAll(cfg.DataDir, 0755)
	if err != nil {
		return nil, err
	}

	st, err := bufferpool.OpenStore(cfg.Store, storeDir(cfg), logger)
	if err != nil {
		return nil, err
	}
	db := &Database{
		cfg:     cfg,
		logger:  logger,
		bp:      bufferpool.New(st, cfg.PoolSize, logger),
		workers: map[string]*worker{},
	}

	fis, err := ioutil.ReadDir(cfg.DataDir)
	if err != nil {
		st.Close()
		return nil, err
	}
	for _, fi := range fis {
		if !fi.IsDir() || !tableName.MatchString(fi.Name()) {
			continue
		}
		tbl, err := db.restore(fi.Name())
		if os.IsNotExist(err) {
			continue
		} else if err != nil {
			db.stopWorkers()
			st.Close()
			return nil, err
		}
		db.startWorker(tbl)
	}

	logger.WithFields(log.Fields{
		"data":   cfg.DataDir,
		"store":  cfg.Store,
		"tables": len(db.workers),
	}).Info("database opened")
	return db, nil
}

func (db *Database) snapshotPath(name string) string {
	return filepath.Join(db.cfg.DataDir, name, table.SnapshotFile)
}

func (db *Database) restore(name string) (*table.Table, error) {
	f, err := os.Open(db.snapshotPath(name))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tbl, err := table.Restore(db.bp, f, table.Options{Logger: db.logger})
	if err != nil {
		return nil, fmt.Errorf("db: restore %s: %w", name, err)
	}
	if tbl.Name() != name {
		return nil, fmt.Errorf("db: restore %s: %w: snapshot of table %s", name,
			table.ErrBadSnapshot, tbl.Name())
	}
	return tbl, nil
}

func (db *Database) startWorker(tbl *table.Table) {
	w := &worker{
		tbl:  tbl,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	db.workers[tbl.Name()] = w
	go db.mergeWorker(w)
}

// mergeWorker merges a table when enough tail records are waiting and every merge
// interval.
func (db *Database) mergeWorker(w *worker) {
	defer close(w.done)

	var tick <-chan time.Time
	if db.cfg.MergeInterval > 0 {
		ticker := time.NewTicker(db.cfg.MergeInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-w.stop:
			return
		case <-w.tbl.MergeRequests():
		case <-tick:
		}

		_, err := merge.Merge(w.tbl)
		if err != nil {
			db.logger.WithFields(log.Fields{
				"table": w.tbl.Name(),
				"error": err,
			}).Error("background merge failed")
		}
	}
}

func (w *worker) halt() {
	close(w.stop)
	<-w.done
}

func (db *Database) stopWorkers() {
	for _, w := range db.workers {
		w.halt()
	}
}

// CreateTable makes an empty table with numColumns columns; key is the column of the
// primary key.
func (db *Database) CreateTable(name string, numColumns, key int) (*table.Table, error) {
	if !tableName.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", ErrBadName, name)
	}

	db.mutex.Lock()
	defer db.mutex.Unlock()

	if db.closed {
		return nil, ErrClosed
	}
	if _, ok := db.workers[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrTableExists, name)
	}

	tbl, err := table.Create(db.bp, name, numColumns, key,
		table.Options{
			PageCapacity:   db.cfg.PageCapacity,
			MergeThreshold: db.cfg.MergeThreshold,
			Logger:         db.logger,
		})
	if err != nil {
		return nil, err
	}
	err = os.MkdirAll(filepath.Join(db.cfg.DataDir, name), 0755)
	if err != nil {
		return nil, err
	}
	db.startWorker(tbl)
	return tbl, nil
}

func (db *Database) GetTable(name string) (*table.Table, error) {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	if db.closed {
		return nil, ErrClosed
	}
	w, ok := db.workers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoTable, name)
	}
	return w.tbl, nil
}

// DropTable removes a table, its pages, and its snapshot. No operations may be running
// against the table.
func (db *Database) DropTable(name string) error {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	if db.closed {
		return ErrClosed
	}
	w, ok := db.workers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoTable, name)
	}
	w.halt()
	delete(db.workers, name)

	err := w.tbl.Drop()
	if err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(db.cfg.DataDir, name))
}

// Tables returns the names of the tables, sorted.
func (db *Database) Tables() []string {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	names := make([]string, 0, len(db.workers))
	for name := range db.workers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (db *Database) BufferPool() *bufferpool.BufferPool {
	return db.bp
}

func (db *Database) writeSnapshot(tbl *table.Table) error {
	err := db.bp.FlushTable(tbl.Name())
	if err != nil {
		return err
	}

	path := db.snapshotPath(tbl.Name())
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	err = tbl.Snapshot(f)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	err = f.Sync()
	if err == nil {
		err = f.Close()
	} else {
		f.Close()
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Checkpoint flushes the pages of every table and writes their snapshots, so that the
// database can be reopened in its current state. No updates may be in flight.
func (db *Database) Checkpoint() error {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	if db.closed {
		return ErrClosed
	}
	return db.checkpoint()
}

func (db *Database) checkpoint() error {
	var g errgroup.Group
	for _, w := range db.workers {
		tbl := w.tbl
		g.Go(func() error {
			unlock := tbl.LockMerge()
			defer unlock()

			return db.writeSnapshot(tbl)
		})
	}
	return g.Wait()
}

// Close stops the merge workers, writes a snapshot of every table, and closes the page
// store. No operations may be running.
func (db *Database) Close() error {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	if db.closed {
		return ErrClosed
	}
	db.closed = true
	db.stopWorkers()

	err := db.checkpoint()
	if err != nil {
		db.bp.Close()
		return err
	}
	err = db.bp.Close()
	if err != nil {
		return err
	}

	db.logger.WithField("data", db.cfg.DataDir).Info("database closed")
	return nil
}
