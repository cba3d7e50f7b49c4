package bufferpool

import (
	"os"

	"github.com/dgraph-io/badger"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type badgerStore struct {
	db *badger.DB
}

func NewBadgerStore(dataDir string, logger *log.Logger) (Store, error) {
	err := os.MkdirAll(dataDir, 0755)
	if err != nil {
		return nil, errors.Wrapf(err, "badger store: %s", dataDir)
	}
	if logger == nil {
		logger = log.StandardLogger()
	}

	opts := badger.DefaultOptions(dataDir)
	opts = opts.WithLogger(logger)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "badger store: open")
	}
	return badgerStore{
		db: db,
	}, nil
}

func (bs badgerStore) ReadPage(key PageKey) ([]byte, error) {
	var buf []byte
	err := bs.db.View(
		func(tx *badger.Txn) error {
			item, err := tx.Get(kvKey(key))
			if err != nil {
				return err
			}
			buf, err = item.ValueCopy(nil)
			return err
		})
	if err == badger.ErrKeyNotFound {
		return nil, ErrMissingPage
	}
	return buf, errors.Wrapf(err, "badger store: read %s", key)
}

func (bs badgerStore) WritePage(key PageKey, buf []byte) error {
	err := bs.db.Update(
		func(tx *badger.Txn) error {
			return tx.Set(kvKey(key), buf)
		})
	return errors.Wrapf(err, "badger store: write %s", key)
}

func (bs badgerStore) DropTable(tbl string) error {
	return errors.Wrapf(bs.db.DropPrefix(tablePrefix(tbl)), "badger store: drop %s", tbl)
}

func (bs badgerStore) Close() error {
	return errors.Wrap(bs.db.Close(), "badger store: close")
}
