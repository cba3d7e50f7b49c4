package bufferpool

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

const (
	bboltFile = "lstore.bbolt"
)

// bboltStore keeps each table in a bucket, with nested base and tail buckets keyed by the
// big endian page index.
type bboltStore struct {
	db *bbolt.DB
}

var (
	baseBucket = []byte{'b', 'a', 's', 'e'}
	tailBucket = []byte{'t', 'a', 'i', 'l'}
)

func NewBBoltStore(dataDir string) (Store, error) {
	err := os.MkdirAll(dataDir, 0755)
	if err != nil {
		return nil, errors.Wrapf(err, "bbolt store: %s", dataDir)
	}
	db, err := bbolt.Open(filepath.Join(dataDir, bboltFile), 0644, nil)
	if err != nil {
		return nil, errors.Wrap(err, "bbolt store: open")
	}
	// Durability is a non-goal; pages are flushed again on close.
	db.NoFreelistSync = true

	return bboltStore{
		db: db,
	}, nil
}

func pageBucket(key PageKey) []byte {
	if key.Base {
		return baseBucket
	}
	return tailBucket
}

func indexKey(idx int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(idx))
	return buf[:]
}

func (bs bboltStore) ReadPage(key PageKey) ([]byte, error) {
	var buf []byte
	err := bs.db.View(
		func(tx *bbolt.Tx) error {
			tbkt := tx.Bucket([]byte(key.Table))
			if tbkt == nil {
				return ErrMissingPage
			}
			bkt := tbkt.Bucket(pageBucket(key))
			if bkt == nil {
				return ErrMissingPage
			}
			val := bkt.Get(indexKey(key.Index))
			if val == nil {
				return ErrMissingPage
			}
			// val is only valid for the life of the transaction.
			buf = append(make([]byte, 0, len(val)), val...)
			return nil
		})
	if err == ErrMissingPage {
		return nil, err
	}
	return buf, errors.Wrapf(err, "bbolt store: read %s", key)
}

func (bs bboltStore) WritePage(key PageKey, buf []byte) error {
	err := bs.db.Update(
		func(tx *bbolt.Tx) error {
			tbkt, err := tx.CreateBucketIfNotExists([]byte(key.Table))
			if err != nil {
				return err
			}
			bkt, err := tbkt.CreateBucketIfNotExists(pageBucket(key))
			if err != nil {
				return err
			}
			return bkt.Put(indexKey(key.Index), buf)
		})
	return errors.Wrapf(err, "bbolt store: write %s", key)
}

func (bs bboltStore) DropTable(tbl string) error {
	err := bs.db.Update(
		func(tx *bbolt.Tx) error {
			err := tx.DeleteBucket([]byte(tbl))
			if err == bbolt.ErrBucketNotFound {
				return nil
			}
			return err
		})
	return errors.Wrapf(err, "bbolt store: drop %s", tbl)
}

func (bs bboltStore) Close() error {
	return errors.Wrap(bs.db.Close(), "bbolt store: close")
}
