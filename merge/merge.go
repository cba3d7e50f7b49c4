package merge

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/gracexichen/L-Store-Database/bufferpool"
	"github.com/gracexichen/L-Store-Database/page"
	"github.com/gracexichen/L-Store-Database/table"
)

type Result struct {
	// Horizon is the tps of the table after the merge.
	Horizon int64
	// Scanned is the number of tail records looked at.
	Scanned int64
	// Merged is the number of base records written.
	Merged int64
	// Pages is the number of base pages replaced.
	Pages int64
}

type workingCopy struct {
	key     bufferpool.PageKey
	pg      *page.Page
	touched []bool
	schema  bool
}

type merger struct {
	tbl     *table.Table
	bp      *bufferpool.BufferPool
	horizon int64
	tps     int64

	tails    []*page.Page
	firstSet int64
	copies   map[int64]*workingCopy
}

// Merge folds every tail record below the current tail horizon into the base records of
// tbl and then advances the tps of tbl to the horizon. Only one merge of a table runs at a
// time; a merge waits for the updates holding tail ids below the horizon to finish.
// Tail records are never removed.
func Merge(tbl *table.Table) (Result, error) {
	unlock := tbl.LockMerge()
	defer unlock()

	start := time.Now()
	m := merger{
		tbl:     tbl,
		bp:      tbl.BufferPool(),
		horizon: tbl.TailHorizon(),
		tps:     tbl.TPS(),
		copies:  map[int64]*workingCopy{},
	}
	res := Result{
		Horizon: m.tps,
	}
	if m.horizon <= m.tps {
		return res, nil
	}

	tbl.WaitForUpdates(m.horizon)

	err := m.loadTails()
	if err != nil {
		return res, err
	}
	res.Scanned, res.Merged, err = m.scan()
	if err != nil {
		return res, err
	}
	err = m.commit()
	if err != nil {
		return res, err
	}
	res.Horizon = m.horizon
	res.Pages = int64(len(m.copies))

	tbl.Logger().WithFields(log.Fields{
		"table":   tbl.Name(),
		"horizon": res.Horizon,
		"scanned": res.Scanned,
		"merged":  res.Merged,
		"pages":   res.Pages,
		"elapsed": time.Since(start),
	}).Info("merge")
	return res, nil
}

func (m *merger) loadTails() error {
	c := m.tbl.Capacity()
	n := m.tbl.TailSetPages()
	m.firstSet = m.tps / c
	lastSet := (m.horizon - 1) / c

	tails, err := m.bp.TailPages(m.tbl.Name(), m.firstSet*n, (lastSet+1)*n)
	if err != nil {
		return err
	}
	m.tails = tails
	return nil
}

func (m *merger) tailValue(tid int64, col int) (int64, error) {
	set := tid/m.tbl.Capacity() - m.firstSet
	return m.tails[set*m.tbl.TailSetPages()+int64(col)].Read(m.tbl.Slot(tid))
}

func (m *merger) workingCopy(rid int64, col int) (*workingCopy, error) {
	key := m.tbl.BasePage(rid, col)
	if wc, ok := m.copies[key.Index]; ok {
		return wc, nil
	}

	pg, err := m.bp.GetPageCopy(key.Table, key.Index)
	if err != nil {
		return nil, err
	}
	wc := &workingCopy{
		key:     key,
		pg:      pg,
		touched: make([]bool, pg.Capacity()),
		schema:  col == table.SchemaColumn,
	}
	m.copies[key.Index] = wc
	return wc, nil
}

// scan walks the tail records from newest to oldest; the newest tail record of each base
// record is copied into the working copies of the base pages. Tail records of aborted
// updates are skipped.
func (m *merger) scan() (int64, int64, error) {
	var scanned, merged int64
	seen := map[int64]struct{}{}
	numColumns := m.tbl.NumColumns()

	for tid := m.horizon - 1; tid >= m.tps; tid-- {
		scanned += 1
		if m.tbl.Aborted(tid) {
			continue
		}

		rid, err := m.tailValue(tid, m.tbl.OriginColumn())
		if err != nil {
			return 0, 0, err
		}
		if _, ok := seen[rid]; ok {
			continue
		}
		seen[rid] = struct{}{}
		merged += 1

		slot := m.tbl.Slot(rid)
		for col := 0; col < numColumns; col++ {
			v, err := m.tailValue(tid, table.MetaColumns+col)
			if err != nil {
				return 0, 0, err
			}
			wc, err := m.workingCopy(rid, table.MetaColumns+col)
			if err != nil {
				return 0, 0, err
			}
			err = wc.pg.Put(slot, v)
			if err != nil {
				return 0, 0, err
			}
			wc.touched[slot] = true
		}

		wc, err := m.workingCopy(rid, table.SchemaColumn)
		if err != nil {
			return 0, 0, err
		}
		wc.touched[slot] = true
	}
	return scanned, merged, nil
}

// schema returns the schema of a merged record: deleted records stay deleted, and records
// updated past the horizon stay updated.
func (m *merger) schema(rid int64, live *page.Page, slot int) (int64, error) {
	v, err := live.Read(slot)
	if err != nil {
		return 0, err
	}
	if table.Schema(v) == table.Deleted {
		return v, nil
	}

	p, err := m.tbl.Indirection(rid)
	if err != nil {
		return 0, err
	}
	if p.Below(m.horizon) {
		return int64(table.Clean), nil
	}
	return int64(table.Updated), nil
}

// refresh copies the slots of the live page that the merge did not touch into the working
// copy, so writes made since the copy was taken are kept.
func (m *merger) refresh(wc *workingCopy) error {
	live, err := m.bp.GetPage(wc.key, true)
	if err != nil {
		return err
	}
	defer m.bp.Unpin(wc.key)

	setBase := (wc.key.Index / m.tbl.BaseSetPages()) * m.tbl.Capacity()
	for slot, touched := range wc.touched {
		if touched {
			if wc.schema {
				v, err := m.schema(setBase+int64(slot), live, slot)
				if err != nil {
					return err
				}
				err = wc.pg.Put(slot, v)
				if err != nil {
					return err
				}
			}
			continue
		}

		if !live.Written(slot) {
			continue
		}
		v, err := live.Read(slot)
		if err != nil {
			return err
		}
		err = wc.pg.Put(slot, v)
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *merger) commit() error {
	latch := m.tbl.Latch()
	latch.Lock()
	defer latch.Unlock()

	for idx, wc := range m.copies {
		err := m.refresh(wc)
		if err != nil {
			return err
		}
		err = m.bp.ReplacePage(m.tbl.Name(), idx, wc.pg)
		if err != nil {
			return err
		}
	}

	m.tbl.AdvanceTPS(m.horizon)
	return nil
}
