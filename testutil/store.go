package testutil

import (
	"errors"
	"sync"

	"github.com/gracexichen/L-Store-Database/bufferpool"
)

var (
	ErrReadFailed = errors.New("testutil: page read failed")
)

// FailingStore is a page store whose reads can be made to fail.
type FailingStore struct {
	bufferpool.Store

	mutex  sync.Mutex
	fails  int
	base   bool
	failed int
}

func NewFailingStore(st bufferpool.Store) *FailingStore {
	return &FailingStore{
		Store: st,
	}
}

// FailReads makes the next n reads of base pages, or of tail pages if base is false, fail
// with ErrReadFailed.
func (fs *FailingStore) FailReads(base bool, n int) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	fs.base = base
	fs.fails = n
}

// Failed returns the number of reads which have failed.
func (fs *FailingStore) Failed() int {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	return fs.failed
}

func (fs *FailingStore) ReadPage(key bufferpool.PageKey) ([]byte, error) {
	fs.mutex.Lock()
	if fs.fails > 0 && key.Base == fs.base {
		fs.fails -= 1
		fs.failed += 1
		fs.mutex.Unlock()
		return nil, ErrReadFailed
	}
	fs.mutex.Unlock()

	return fs.Store.ReadPage(key)
}
