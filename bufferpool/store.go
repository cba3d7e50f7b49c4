package bufferpool

import (
	"encoding/binary"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// PageKey identifies a physical page: the table, the index of the page within the base or
// tail page directory of the table, and which directory.
type PageKey struct {
	Table string
	Index int64
	Base  bool
}

func (pk PageKey) String() string {
	if pk.Base {
		return fmt.Sprintf("%s/base/%d", pk.Table, pk.Index)
	}
	return fmt.Sprintf("%s/tail/%d", pk.Table, pk.Index)
}

func (pk PageKey) kind() string {
	if pk.Base {
		return "b"
	}
	return "t"
}

// Store persists framed pages. ReadPage returns ErrMissingPage when the page was never
// written.
type Store interface {
	ReadPage(key PageKey) ([]byte, error)
	WritePage(key PageKey, buf []byte) error
	DropTable(tbl string) error
	Close() error
}

const (
	FileStore   = "file"
	BBoltStore  = "bbolt"
	BadgerStore = "badger"
	PebbleStore = "pebble"
	MemoryStore = "memory"
)

func OpenStore(kind, dataDir string, logger *log.Logger) (Store, error) {
	switch kind {
	case FileStore:
		return NewFileStore(dataDir)
	case BBoltStore:
		return NewBBoltStore(dataDir)
	case BadgerStore:
		return NewBadgerStore(dataDir, logger)
	case PebbleStore:
		return NewPebbleStore(dataDir, logger)
	case MemoryStore:
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("%w: got %s; want file, bbolt, badger, pebble, or memory",
		ErrUnknownStore, kind)
}

// kvKey is the key used by the key-value stores: table, 0, kind, 0, big endian index. The
// table prefix makes dropping a table a prefix (or range) delete.
func kvKey(key PageKey) []byte {
	buf := make([]byte, 0, len(key.Table)+11)
	buf = append(buf, key.Table...)
	buf = append(buf, 0, key.kind()[0], 0)
	return binary.BigEndian.AppendUint64(buf, uint64(key.Index))
}

func tablePrefix(tbl string) []byte {
	return append([]byte(tbl), 0)
}

type memoryStore struct {
	mutex sync.Mutex
	pages map[PageKey][]byte
}

func NewMemoryStore() Store {
	return &memoryStore{
		pages: map[PageKey][]byte{},
	}
}

func (ms *memoryStore) ReadPage(key PageKey) ([]byte, error) {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	buf, ok := ms.pages[key]
	if !ok {
		return nil, ErrMissingPage
	}
	return append([]byte(nil), buf...), nil
}

func (ms *memoryStore) WritePage(key PageKey, buf []byte) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	ms.pages[key] = append([]byte(nil), buf...)
	return nil
}

func (ms *memoryStore) DropTable(tbl string) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	for key := range ms.pages {
		if key.Table == tbl {
			delete(ms.pages, key)
		}
	}
	return nil
}

func (ms *memoryStore) Close() error {
	return nil
}
