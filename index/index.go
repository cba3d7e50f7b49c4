package index

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/btree"
)

const (
	treeDegree = 16
	minRID     = -1 << 63
)

var (
	ErrNoIndex     = errors.New("index: column is not indexed")
	ErrColumnRange = errors.New("index: column out of range")
)

// Entry is one (value, rid) pair of a column index.
type Entry struct {
	Value int64
	RID   int64
}

func (e Entry) Less(item btree.Item) bool {
	e2 := item.(Entry)
	if e.Value == e2.Value {
		return e.RID < e2.RID
	}
	return e.Value < e2.Value
}

// Index maps column values to rids, with one ordered tree per indexed column. A value may
// map to more than one rid, except for the key column, where the query layer keeps values
// unique.
type Index struct {
	mutex sync.RWMutex
	trees []*btree.BTree
}

// New returns an index for numColumns columns with every column indexed.
func New(numColumns int) *Index {
	idx := &Index{
		trees: make([]*btree.BTree, numColumns),
	}
	for col := range idx.trees {
		idx.trees[col] = btree.New(treeDegree)
	}
	return idx
}

func (idx *Index) NumColumns() int {
	return len(idx.trees)
}

func (idx *Index) tree(col int) (*btree.BTree, error) {
	if col < 0 || col >= len(idx.trees) {
		return nil, fmt.Errorf("%w: %d", ErrColumnRange, col)
	}
	tree := idx.trees[col]
	if tree == nil {
		return nil, fmt.Errorf("%w: %d", ErrNoIndex, col)
	}
	return tree, nil
}

func (idx *Index) Indexed(col int) bool {
	idx.mutex.RLock()
	defer idx.mutex.RUnlock()

	return col >= 0 && col < len(idx.trees) && idx.trees[col] != nil
}

// CreateIndex starts indexing a column; entries must be added by the caller. Creating an
// index that already exists is a no-op.
func (idx *Index) CreateIndex(col int) error {
	idx.mutex.Lock()
	defer idx.mutex.Unlock()

	if col < 0 || col >= len(idx.trees) {
		return fmt.Errorf("%w: %d", ErrColumnRange, col)
	}
	if idx.trees[col] == nil {
		idx.trees[col] = btree.New(treeDegree)
	}
	return nil
}

func (idx *Index) DropIndex(col int) error {
	idx.mutex.Lock()
	defer idx.mutex.Unlock()

	if _, err := idx.tree(col); err != nil {
		return err
	}
	idx.trees[col] = nil
	return nil
}

// Locate returns the rids with value v in column col, in rid order.
func (idx *Index) Locate(col int, v int64) ([]int64, error) {
	return idx.LocateRange(col, v, v)
}

// LocateRange returns the rids with a value in [start, end] in column col, ordered by
// value and then rid.
func (idx *Index) LocateRange(col int, start, end int64) ([]int64, error) {
	idx.mutex.RLock()
	defer idx.mutex.RUnlock()

	tree, err := idx.tree(col)
	if err != nil {
		return nil, err
	}

	var rids []int64
	if start > end {
		return rids, nil
	}
	tree.AscendGreaterOrEqual(Entry{Value: start, RID: minRID},
		func(item btree.Item) bool {
			e := item.(Entry)
			if e.Value > end {
				return false
			}
			rids = append(rids, e.RID)
			return true
		})
	return rids, nil
}

func (idx *Index) Add(col int, v, rid int64) error {
	idx.mutex.Lock()
	defer idx.mutex.Unlock()

	tree, err := idx.tree(col)
	if err != nil {
		return err
	}
	tree.ReplaceOrInsert(Entry{Value: v, RID: rid})
	return nil
}

// Delete removes the (v, rid) pair from column col; removing a pair that is not present
// is not an error.
func (idx *Index) Delete(col int, v, rid int64) error {
	idx.mutex.Lock()
	defer idx.mutex.Unlock()

	tree, err := idx.tree(col)
	if err != nil {
		return err
	}
	tree.Delete(Entry{Value: v, RID: rid})
	return nil
}

// Replace moves rid from value old to value v in column col.
func (idx *Index) Replace(col int, old, v, rid int64) error {
	idx.mutex.Lock()
	defer idx.mutex.Unlock()

	tree, err := idx.tree(col)
	if err != nil {
		return err
	}
	tree.Delete(Entry{Value: old, RID: rid})
	tree.ReplaceOrInsert(Entry{Value: v, RID: rid})
	return nil
}

// Entries returns every entry of column col in order.
func (idx *Index) Entries(col int) ([]Entry, error) {
	idx.mutex.RLock()
	defer idx.mutex.RUnlock()

	tree, err := idx.tree(col)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, tree.Len())
	tree.Ascend(
		func(item btree.Item) bool {
			entries = append(entries, item.(Entry))
			return true
		})
	return entries, nil
}

// Restore replaces the contents of column col with entries, creating the column index if
// necessary.
func (idx *Index) Restore(col int, entries []Entry) error {
	idx.mutex.Lock()
	defer idx.mutex.Unlock()

	if col < 0 || col >= len(idx.trees) {
		return fmt.Errorf("%w: %d", ErrColumnRange, col)
	}
	tree := btree.New(treeDegree)
	for _, e := range entries {
		tree.ReplaceOrInsert(e)
	}
	idx.trees[col] = tree
	return nil
}
