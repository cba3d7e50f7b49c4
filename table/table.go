package table

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/gracexichen/L-Store-Database/bufferpool"
	"github.com/gracexichen/L-Store-Database/index"
	"github.com/gracexichen/L-Store-Database/lock"
	"github.com/gracexichen/L-Store-Database/page"
)

const (
	DefaultMergeThreshold = 512
)

var (
	ErrInvalid = errors.New("table: invalid table definition")
)

type Options struct {
	// PageCapacity is the number of records in a page-set; page.DefaultCapacity if zero.
	PageCapacity int

	// MergeThreshold is the number of unmerged tail records at which a merge is requested;
	// DefaultMergeThreshold if zero and never if negative.
	MergeThreshold int64

	Logger *log.Logger
}

// Table is one table: its layout of base and tail page-sets in the buffer pool, the
// counters used to hand out rids and tail ids, the tps watermark, the index, and the
// lock manager.
type Table struct {
	name       string
	numColumns int
	key        int
	capacity   int64
	threshold  int64

	bp     *bufferpool.BufferPool
	idx    *index.Index
	locks  *lock.Manager
	logger *log.Logger

	baseMutex    sync.Mutex
	nextRID      int64
	basePageSets int64

	tailMutex    sync.Mutex
	tailCond     *sync.Cond
	nextTID      int64
	tailPageSets int64
	inflight     map[int64]int64 // first tail id -> number of tail ids
	aborted      map[int64]struct{}

	// latch orders writers of base pages (shared) against merge commits (exclusive).
	latch sync.RWMutex

	keyMutex sync.Mutex

	mergeMutex sync.Mutex
	tps        int64
	mergeCh    chan struct{}
}

func makeTable(bp *bufferpool.BufferPool, name string, numColumns, key int,
	opts Options) (*Table, error) {

	if name == "" {
		return nil, fmt.Errorf("%w: missing name", ErrInvalid)
	}
	if numColumns <= 0 {
		return nil, fmt.Errorf("%w: %s: need at least one column: %d", ErrInvalid, name,
			numColumns)
	}
	if key < 0 || key >= numColumns {
		return nil, fmt.Errorf("%w: %s: key column %d not in [0, %d)", ErrInvalid, name, key,
			numColumns)
	}
	if opts.PageCapacity == 0 {
		opts.PageCapacity = page.DefaultCapacity
	} else if opts.PageCapacity < 0 {
		return nil, fmt.Errorf("%w: %s: bad page capacity: %d", ErrInvalid, name,
			opts.PageCapacity)
	}
	if opts.MergeThreshold == 0 {
		opts.MergeThreshold = DefaultMergeThreshold
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}

	tbl := &Table{
		name:       name,
		numColumns: numColumns,
		key:        key,
		capacity:   int64(opts.PageCapacity),
		threshold:  opts.MergeThreshold,
		bp:         bp,
		idx:        index.New(numColumns),
		locks:      lock.NewManager(),
		logger:     opts.Logger,
		inflight:   map[int64]int64{},
		aborted:    map[int64]struct{}{},
		mergeCh:    make(chan struct{}, 1),
	}
	tbl.tailCond = sync.NewCond(&tbl.tailMutex)
	return tbl, nil
}

// Create makes a new, empty table; every column is indexed.
func Create(bp *bufferpool.BufferPool, name string, numColumns, key int,
	opts Options) (*Table, error) {

	tbl, err := makeTable(bp, name, numColumns, key, opts)
	if err != nil {
		return nil, err
	}
	bp.AddTable(name, 0, 0)

	tbl.logger.WithFields(log.Fields{
		"table":   name,
		"columns": numColumns,
		"key":     key,
	}).Info("table created")
	return tbl, nil
}

func (tbl *Table) Name() string {
	return tbl.name
}

func (tbl *Table) NumColumns() int {
	return tbl.numColumns
}

// Key returns the column of the primary key.
func (tbl *Table) Key() int {
	return tbl.key
}

// Capacity returns the number of records in each page-set.
func (tbl *Table) Capacity() int64 {
	return tbl.capacity
}

func (tbl *Table) Index() *index.Index {
	return tbl.idx
}

func (tbl *Table) Locks() *lock.Manager {
	return tbl.locks
}

func (tbl *Table) BufferPool() *bufferpool.BufferPool {
	return tbl.bp
}

func (tbl *Table) Logger() *log.Logger {
	return tbl.logger
}

// BaseSetPages returns the number of pages in a base page-set.
func (tbl *Table) BaseSetPages() int64 {
	return int64(tbl.numColumns + MetaColumns)
}

// TailSetPages returns the number of pages in a tail page-set.
func (tbl *Table) TailSetPages() int64 {
	return int64(tbl.numColumns + MetaColumns + 1)
}

// OriginColumn is the page of a tail page-set with the rid of the base record.
func (tbl *Table) OriginColumn() int {
	return tbl.numColumns + MetaColumns
}

// Slot returns the slot of a rid or tail id within its page.
func (tbl *Table) Slot(id int64) int {
	return int(id % tbl.capacity)
}

// BasePage returns the physical page of a base record for col, which counts the
// metadata columns.
func (tbl *Table) BasePage(rid int64, col int) bufferpool.PageKey {
	return bufferpool.PageKey{
		Table: tbl.name,
		Index: (rid/tbl.capacity)*tbl.BaseSetPages() + int64(col),
		Base:  true,
	}
}

func (tbl *Table) TailPage(tid int64, col int) bufferpool.PageKey {
	return bufferpool.PageKey{
		Table: tbl.name,
		Index: (tid/tbl.capacity)*tbl.TailSetPages() + int64(col),
	}
}

func (tbl *Table) newPageSet(n int64) []*page.Page {
	pages := make([]*page.Page, n)
	for pdx := range pages {
		pages[pdx] = page.New(int(tbl.capacity))
	}
	return pages
}

// AllocateBaseRID hands out the next rid; the base page-set addressed by the rid exists
// before the rid is returned.
func (tbl *Table) AllocateBaseRID() (int64, error) {
	tbl.baseMutex.Lock()
	defer tbl.baseMutex.Unlock()

	rid := tbl.nextRID
	if rid/tbl.capacity >= tbl.basePageSets {
		n := tbl.BaseSetPages()
		err := tbl.bp.InitPages(tbl.name, true, tbl.basePageSets*n, tbl.newPageSet(n))
		if err != nil {
			return 0, err
		}
		tbl.basePageSets += 1
		tbl.logger.WithFields(log.Fields{
			"table":     tbl.name,
			"page-sets": tbl.basePageSets,
		}).Debug("base page-set added")
	}
	tbl.nextRID += 1
	return rid, nil
}

// AllocateTailIDs hands out n contiguous tail ids and returns the first. The ids are in
// flight until FinishUpdate is called with the first id.
func (tbl *Table) AllocateTailIDs(n int64) (int64, error) {
	if n <= 0 {
		panic(fmt.Sprintf("table: allocate %d tail ids", n))
	}

	tbl.tailMutex.Lock()
	defer tbl.tailMutex.Unlock()

	first := tbl.nextTID
	last := first + n - 1
	for last/tbl.capacity >= tbl.tailPageSets {
		cnt := tbl.TailSetPages()
		err := tbl.bp.InitPages(tbl.name, false, tbl.tailPageSets*cnt, tbl.newPageSet(cnt))
		if err != nil {
			return 0, err
		}
		tbl.tailPageSets += 1
		tbl.logger.WithFields(log.Fields{
			"table":     tbl.name,
			"page-sets": tbl.tailPageSets,
		}).Debug("tail page-set added")
	}
	tbl.nextTID += n
	tbl.inflight[first] = n
	return first, nil
}

// AbortUpdate marks the tail ids allocated starting at first as no longer in flight and
// their tail records, which may be partly written, as never to be merged.
func (tbl *Table) AbortUpdate(first int64) {
	tbl.tailMutex.Lock()
	defer tbl.tailMutex.Unlock()

	n, ok := tbl.inflight[first]
	if !ok {
		panic(fmt.Sprintf("table: abort update of tail id %d: not in flight", first))
	}
	for tid := first; tid < first+n; tid++ {
		tbl.aborted[tid] = struct{}{}
	}
	delete(tbl.inflight, first)
	tbl.tailCond.Broadcast()

	tbl.logger.WithFields(log.Fields{
		"table": tbl.name,
		"tid":   first,
		"count": n,
	}).Warn("update aborted")
}

// Aborted returns true if the tail record tid belongs to an update that failed.
func (tbl *Table) Aborted(tid int64) bool {
	tbl.tailMutex.Lock()
	defer tbl.tailMutex.Unlock()

	_, ok := tbl.aborted[tid]
	return ok
}

// FinishUpdate marks the tail ids allocated starting at first as no longer in flight.
func (tbl *Table) FinishUpdate(first int64) {
	tbl.tailMutex.Lock()
	defer tbl.tailMutex.Unlock()

	if _, ok := tbl.inflight[first]; !ok {
		panic(fmt.Sprintf("table: finish update of tail id %d: not in flight", first))
	}
	delete(tbl.inflight, first)
	tbl.tailCond.Broadcast()

	if tbl.threshold > 0 && tbl.nextTID-atomic.LoadInt64(&tbl.tps) >= tbl.threshold {
		select {
		case tbl.mergeCh <- struct{}{}:
		default:
		}
	}
}

// TailHorizon returns the number of tail ids handed out so far.
func (tbl *Table) TailHorizon() int64 {
	tbl.tailMutex.Lock()
	defer tbl.tailMutex.Unlock()

	return tbl.nextTID
}

// WaitForUpdates blocks until no update holding a tail id below horizon is in flight.
func (tbl *Table) WaitForUpdates(horizon int64) {
	tbl.tailMutex.Lock()
	defer tbl.tailMutex.Unlock()

	for tbl.inflightBelow(horizon) {
		tbl.tailCond.Wait()
	}
}

func (tbl *Table) inflightBelow(horizon int64) bool {
	for first := range tbl.inflight {
		if first < horizon {
			return true
		}
	}
	return false
}

// TPS returns the tail id below which every tail record has been merged into the base
// records.
func (tbl *Table) TPS() int64 {
	return atomic.LoadInt64(&tbl.tps)
}

// AdvanceTPS moves tps forward to horizon; it never moves backwards. Aborted tail ids
// below horizon are forgotten.
func (tbl *Table) AdvanceTPS(horizon int64) {
	if horizon > atomic.LoadInt64(&tbl.tps) {
		atomic.StoreInt64(&tbl.tps, horizon)
	}

	tbl.tailMutex.Lock()
	for tid := range tbl.aborted {
		if tid < horizon {
			delete(tbl.aborted, tid)
		}
	}
	tbl.tailMutex.Unlock()
}

// LockMerge serializes merges of the table; the returned function unlocks.
func (tbl *Table) LockMerge() func() {
	tbl.mergeMutex.Lock()
	return tbl.mergeMutex.Unlock
}

// MergeRequests is signalled when enough tail records are waiting to be merged.
func (tbl *Table) MergeRequests() <-chan struct{} {
	return tbl.mergeCh
}

// Latch orders writers of base records, which hold it shared, against merge commits,
// which hold it exclusive. It must not be acquired recursively.
func (tbl *Table) Latch() *sync.RWMutex {
	return &tbl.latch
}

// LockKeys serializes checking the key column for a value and claiming it; the returned
// function unlocks.
func (tbl *Table) LockKeys() func() {
	tbl.keyMutex.Lock()
	return tbl.keyMutex.Unlock
}

// NumRecords returns the number of rids handed out.
func (tbl *Table) NumRecords() int64 {
	tbl.baseMutex.Lock()
	defer tbl.baseMutex.Unlock()

	return tbl.nextRID
}

type Stats struct {
	Records      int64
	TailRecords  int64
	TPS          int64
	BasePageSets int64
	TailPageSets int64
	InFlight     int
	Aborted      int
}

func (tbl *Table) Stats() Stats {
	tbl.baseMutex.Lock()
	st := Stats{
		Records:      tbl.nextRID,
		BasePageSets: tbl.basePageSets,
	}
	tbl.baseMutex.Unlock()

	tbl.tailMutex.Lock()
	st.TailRecords = tbl.nextTID
	st.TailPageSets = tbl.tailPageSets
	st.InFlight = len(tbl.inflight)
	st.Aborted = len(tbl.aborted)
	tbl.tailMutex.Unlock()

	st.TPS = tbl.TPS()
	return st
}

func now() int64 {
	return time.Now().UnixNano()
}

func (tbl *Table) checkColumn(col int) {
	if col < 0 || col >= tbl.numColumns {
		panic(fmt.Sprintf("table: %s: column %d not in [0, %d)", tbl.name, col, tbl.numColumns))
	}
}

func (tbl *Table) readBase(rid int64, col int) (int64, error) {
	return tbl.bp.Read(tbl.BasePage(rid, col), tbl.Slot(rid))
}

func (tbl *Table) readTail(tid int64, col int) (int64, error) {
	return tbl.bp.Read(tbl.TailPage(tid, col), tbl.Slot(tid))
}

// BaseValue returns data column col of a base record.
func (tbl *Table) BaseValue(rid int64, col int) (int64, error) {
	tbl.checkColumn(col)
	return tbl.readBase(rid, MetaColumns+col)
}

// TailValue returns data column col of a tail record.
func (tbl *Table) TailValue(tid int64, col int) (int64, error) {
	tbl.checkColumn(col)
	return tbl.readTail(tid, MetaColumns+col)
}

func (tbl *Table) Indirection(rid int64) (Pointer, error) {
	v, err := tbl.readBase(rid, IndirectionColumn)
	if err != nil {
		return Pointer{}, err
	}
	return decodePointer(v)
}

// SetIndirection must be called with the latch held shared.
func (tbl *Table) SetIndirection(rid int64, p Pointer) error {
	return tbl.bp.Overwrite(tbl.BasePage(rid, IndirectionColumn), tbl.Slot(rid), p.encode())
}

func (tbl *Table) SchemaOf(rid int64) (Schema, error) {
	v, err := tbl.readBase(rid, SchemaColumn)
	if err != nil {
		return 0, err
	}
	return decodeSchema(v)
}

// SetSchema must be called with the latch held shared. A deleted record stays deleted.
func (tbl *Table) SetSchema(rid int64, s Schema) error {
	if s != Deleted {
		cur, err := tbl.SchemaOf(rid)
		if err != nil {
			return err
		} else if cur == Deleted {
			return fmt.Errorf("table: %s: rid %d: record is deleted", tbl.name, rid)
		}
	}
	return tbl.bp.Overwrite(tbl.BasePage(rid, SchemaColumn), tbl.Slot(rid), int64(s))
}

func (tbl *Table) BaseTimestamp(rid int64) (int64, error) {
	return tbl.readBase(rid, TimestampColumn)
}

// TailIndirection returns the previous version of a tail record.
func (tbl *Table) TailIndirection(tid int64) (Pointer, error) {
	v, err := tbl.readTail(tid, IndirectionColumn)
	if err != nil {
		return Pointer{}, err
	}
	return decodePointer(v)
}

// Origin returns the rid of the base record of a tail record.
func (tbl *Table) Origin(tid int64) (int64, error) {
	return tbl.readTail(tid, tbl.OriginColumn())
}

// WriteBaseRecord writes every column of a newly allocated base record, leaving the
// indirection column for last. It must be called with the latch held shared.
func (tbl *Table) WriteBaseRecord(rid int64, columns []int64) error {
	if len(columns) != tbl.numColumns {
		panic(fmt.Sprintf("table: %s: got %d columns want %d", tbl.name, len(columns),
			tbl.numColumns))
	}

	slot := tbl.Slot(rid)
	for col, v := range columns {
		err := tbl.bp.Put(tbl.BasePage(rid, MetaColumns+col), slot, v)
		if err != nil {
			return err
		}
	}

	meta := []struct {
		col int
		v   int64
	}{
		{RIDColumn, rid},
		{TimestampColumn, now()},
		{SchemaColumn, int64(Clean)},
		{IndirectionColumn, None().encode()},
	}
	for _, m := range meta {
		err := tbl.bp.Put(tbl.BasePage(rid, m.col), slot, m.v)
		if err != nil {
			return err
		}
	}
	return nil
}

// WriteTailRecord writes every column of a tail record: prev is the previous version of
// the record and rid is the base record.
func (tbl *Table) WriteTailRecord(tid int64, prev Pointer, rid int64, columns []int64) error {
	if len(columns) != tbl.numColumns {
		panic(fmt.Sprintf("table: %s: got %d columns want %d", tbl.name, len(columns),
			tbl.numColumns))
	}

	slot := tbl.Slot(tid)
	for col, v := range columns {
		err := tbl.bp.Put(tbl.TailPage(tid, MetaColumns+col), slot, v)
		if err != nil {
			return err
		}
	}

	meta := []struct {
		col int
		v   int64
	}{
		{IndirectionColumn, prev.encode()},
		{RIDColumn, tid},
		{TimestampColumn, now()},
		{SchemaColumn, int64(Clean)},
		{tbl.OriginColumn(), rid},
	}
	for _, m := range meta {
		err := tbl.bp.Put(tbl.TailPage(tid, m.col), slot, m.v)
		if err != nil {
			return err
		}
	}
	return nil
}

// Drop removes the pages of the table from the buffer pool and the page store.
func (tbl *Table) Drop() error {
	err := tbl.bp.DropTable(tbl.name)
	if err != nil {
		return err
	}
	tbl.logger.WithField("table", tbl.name).Info("table dropped")
	return nil
}
