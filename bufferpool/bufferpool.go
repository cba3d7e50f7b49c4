package bufferpool

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/gracexichen/L-Store-Database/page"
)

const (
	DefaultCapacity = 4096
)

type frame struct {
	key  PageKey
	pg   *page.Page
	pins int
	elem *list.Element
}

type tableInfo struct {
	basePages int64
	tailPages int64
}

// BufferPool caches pages of every table in a bounded number of frames. Frames are
// replaced least recently used first; pinned frames are never replaced and dirty frames
// are written to the store before they are replaced.
type BufferPool struct {
	mutex    sync.Mutex
	store    Store
	capacity int
	frames   map[PageKey]*frame
	lru      *list.List // Front is most recently used.
	tables   map[string]*tableInfo
	logger   *log.Logger

	hits      uint64
	misses    uint64
	evictions uint64
	writes    uint64
}

type Stats struct {
	Capacity  int
	Frames    int
	Pinned    int
	Dirty     int
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Writes    uint64
}

func New(st Store, capacity int, logger *log.Logger) *BufferPool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &BufferPool{
		store:    st,
		capacity: capacity,
		frames:   map[PageKey]*frame{},
		lru:      list.New(),
		tables:   map[string]*tableInfo{},
		logger:   logger,
	}
}

// AddTable binds a table to the pool; basePages and tailPages are the number of pages
// already in the store for the table.
func (bp *BufferPool) AddTable(tbl string, basePages, tailPages int64) {
	bp.mutex.Lock()
	defer bp.mutex.Unlock()

	bp.tables[tbl] = &tableInfo{
		basePages: basePages,
		tailPages: tailPages,
	}
}

// TableSize returns the number of base and tail pages registered for a table.
func (bp *BufferPool) TableSize(tbl string) (int64, int64) {
	bp.mutex.Lock()
	defer bp.mutex.Unlock()

	ti, ok := bp.tables[tbl]
	if !ok {
		return 0, 0
	}
	return ti.basePages, ti.tailPages
}

func (bp *BufferPool) allocated(key PageKey) bool {
	ti, ok := bp.tables[key.Table]
	if !ok || key.Index < 0 {
		return false
	}
	if key.Base {
		return key.Index < ti.basePages
	}
	return key.Index < ti.tailPages
}

// writeFrame must be called with bp.mutex held.
func (bp *BufferPool) writeFrame(fr *frame) error {
	if !fr.pg.Dirty() {
		return nil
	}

	buf, err := encodePage(fr.pg)
	if err != nil {
		fr.pg.MarkDirty()
		return newError("write", fr.key, ErrCorrupt, err)
	}
	err = bp.store.WritePage(fr.key, buf)
	if err != nil {
		fr.pg.MarkDirty()
		bp.logger.WithField("page", fr.key.String()).Errorf("bufferpool: write failed: %s", err)
		return newError("write", fr.key, ErrIO, err)
	}
	atomic.AddUint64(&bp.writes, 1)
	return nil
}

// evict must be called with bp.mutex held.
func (bp *BufferPool) evict() error {
	for elem := bp.lru.Back(); elem != nil; elem = elem.Prev() {
		fr := elem.Value.(*frame)
		if fr.pins > 0 {
			continue
		}

		err := bp.writeFrame(fr)
		if err != nil {
			return err
		}
		bp.lru.Remove(elem)
		delete(bp.frames, fr.key)
		atomic.AddUint64(&bp.evictions, 1)
		bp.logger.WithField("page", fr.key.String()).Debug("bufferpool: evicted")
		return nil
	}
	return newError("evict", PageKey{}, ErrPoolFull, nil)
}

// makeRoom must be called with bp.mutex held.
func (bp *BufferPool) makeRoom() error {
	for len(bp.frames) >= bp.capacity {
		err := bp.evict()
		if err != nil {
			return err
		}
	}
	return nil
}

// addFrame must be called with bp.mutex held.
func (bp *BufferPool) addFrame(key PageKey, pg *page.Page) (*frame, error) {
	err := bp.makeRoom()
	if err != nil {
		return nil, err
	}
	fr := &frame{
		key: key,
		pg:  pg,
	}
	fr.elem = bp.lru.PushFront(fr)
	bp.frames[key] = fr
	return fr, nil
}

// fetch must be called with bp.mutex held.
func (bp *BufferPool) fetch(key PageKey) (*frame, error) {
	if fr, ok := bp.frames[key]; ok {
		atomic.AddUint64(&bp.hits, 1)
		bp.lru.MoveToFront(fr.elem)
		return fr, nil
	}

	if !bp.allocated(key) {
		return nil, newError("fetch", key, ErrNoPage, nil)
	}
	atomic.AddUint64(&bp.misses, 1)

	err := bp.makeRoom()
	if err != nil {
		return nil, err
	}
	buf, err := bp.store.ReadPage(key)
	if err == ErrMissingPage {
		return nil, newError("fetch", key, ErrMissingPage, nil)
	} else if err != nil {
		return nil, newError("fetch", key, ErrIO, err)
	}
	pg, err := decodePage(buf)
	if err != nil {
		return nil, newError("fetch", key, ErrCorrupt, err)
	}
	return bp.addFrame(key, pg)
}

// GetPage returns the live page for key. If pin is true, the page will not be evicted
// until Unpin is called; an unpinned page must not be used after the next call into the
// pool.
func (bp *BufferPool) GetPage(key PageKey, pin bool) (*page.Page, error) {
	bp.mutex.Lock()
	defer bp.mutex.Unlock()

	fr, err := bp.fetch(key)
	if err != nil {
		return nil, err
	}
	if pin {
		fr.pins += 1
	}
	return fr.pg, nil
}

func (bp *BufferPool) Unpin(key PageKey) {
	bp.mutex.Lock()
	defer bp.mutex.Unlock()

	fr, ok := bp.frames[key]
	if !ok || fr.pins == 0 {
		panic(fmt.Sprintf("bufferpool: unpin of unpinned page %s", key))
	}
	fr.pins -= 1
}

func (bp *BufferPool) withPage(key PageKey, fn func(pg *page.Page) error) error {
	pg, err := bp.GetPage(key, true)
	if err != nil {
		return err
	}
	defer bp.Unpin(key)

	return fn(pg)
}

func (bp *BufferPool) Read(key PageKey, slot int) (int64, error) {
	var v int64
	err := bp.withPage(key,
		func(pg *page.Page) error {
			var err error
			v, err = pg.Read(slot)
			return err
		})
	return v, err
}

// Put writes a slot whether or not it was written before.
func (bp *BufferPool) Put(key PageKey, slot int, v int64) error {
	return bp.withPage(key,
		func(pg *page.Page) error {
			return pg.Put(slot, v)
		})
}

func (bp *BufferPool) Overwrite(key PageKey, slot int, v int64) error {
	return bp.withPage(key,
		func(pg *page.Page) error {
			return pg.Overwrite(slot, v)
		})
}

// GetPageCopy returns an independent copy of a base page.
func (bp *BufferPool) GetPageCopy(tbl string, idx int64) (*page.Page, error) {
	key := PageKey{Table: tbl, Index: idx, Base: true}
	var cp *page.Page
	err := bp.withPage(key,
		func(pg *page.Page) error {
			cp = pg.Clone()
			return nil
		})
	return cp, err
}

// ReplacePage swaps the contents of a base page with the contents of pg; the cached page
// is marked dirty and written back when it is evicted or flushed.
func (bp *BufferPool) ReplacePage(tbl string, idx int64, pg *page.Page) error {
	key := PageKey{Table: tbl, Index: idx, Base: true}
	return bp.withPage(key,
		func(live *page.Page) error {
			return live.CopyFrom(pg)
		})
}

// TailPages returns copies of the tail pages of a table with indexes in [first, last).
func (bp *BufferPool) TailPages(tbl string, first, last int64) ([]*page.Page, error) {
	var pages []*page.Page
	for idx := first; idx < last; idx++ {
		key := PageKey{Table: tbl, Index: idx}
		err := bp.withPage(key,
			func(pg *page.Page) error {
				pages = append(pages, pg.Clone())
				return nil
			})
		if err != nil {
			return nil, err
		}
	}
	return pages, nil
}

// GetTailPages returns copies of every tail page of a table.
func (bp *BufferPool) GetTailPages(tbl string) ([]*page.Page, error) {
	_, tailPages := bp.TableSize(tbl)
	return bp.TailPages(tbl, 0, tailPages)
}

// InitPages registers the pages of a newly grown page-set, starting at page index first.
// The pages are dirty and will be written when they are evicted or flushed.
func (bp *BufferPool) InitPages(tbl string, base bool, first int64, pages []*page.Page) error {
	bp.mutex.Lock()
	defer bp.mutex.Unlock()

	ti, ok := bp.tables[tbl]
	if !ok {
		ti = &tableInfo{}
		bp.tables[tbl] = ti
	}
	for pdx, pg := range pages {
		key := PageKey{Table: tbl, Index: first + int64(pdx), Base: base}
		if _, ok := bp.frames[key]; ok {
			return fmt.Errorf("bufferpool: page %s already initialized", key)
		}
		pg.MarkDirty()
		_, err := bp.addFrame(key, pg)
		if err != nil {
			return err
		}
	}

	last := first + int64(len(pages))
	if base && last > ti.basePages {
		ti.basePages = last
	} else if !base && last > ti.tailPages {
		ti.tailPages = last
	}
	return nil
}

func (bp *BufferPool) flush(fn func(key PageKey) bool) error {
	bp.mutex.Lock()
	defer bp.mutex.Unlock()

	for key, fr := range bp.frames {
		if !fn(key) {
			continue
		}
		err := bp.writeFrame(fr)
		if err != nil {
			return err
		}
	}
	return nil
}

// FlushTable writes every dirty cached page of a table to the store.
func (bp *BufferPool) FlushTable(tbl string) error {
	return bp.flush(
		func(key PageKey) bool {
			return key.Table == tbl
		})
}

func (bp *BufferPool) FlushAll() error {
	return bp.flush(
		func(key PageKey) bool {
			return true
		})
}

// DropTable discards the cached pages of a table without writing them and removes the
// table from the store.
func (bp *BufferPool) DropTable(tbl string) error {
	bp.mutex.Lock()
	defer bp.mutex.Unlock()

	for key, fr := range bp.frames {
		if key.Table != tbl {
			continue
		}
		if fr.pins > 0 {
			return fmt.Errorf("bufferpool: drop %s: page %s is pinned", tbl, key)
		}
		bp.lru.Remove(fr.elem)
		delete(bp.frames, key)
	}
	delete(bp.tables, tbl)
	return bp.store.DropTable(tbl)
}

func (bp *BufferPool) Stats() Stats {
	bp.mutex.Lock()
	defer bp.mutex.Unlock()

	st := Stats{
		Capacity:  bp.capacity,
		Frames:    len(bp.frames),
		Hits:      atomic.LoadUint64(&bp.hits),
		Misses:    atomic.LoadUint64(&bp.misses),
		Evictions: atomic.LoadUint64(&bp.evictions),
		Writes:    atomic.LoadUint64(&bp.writes),
	}
	for _, fr := range bp.frames {
		if fr.pins > 0 {
			st.Pinned += 1
		}
		if fr.pg.Dirty() {
			st.Dirty += 1
		}
	}
	return st
}

func (bp *BufferPool) Close() error {
	err := bp.FlushAll()
	if err != nil {
		bp.store.Close()
		return err
	}
	return bp.store.Close()
}
