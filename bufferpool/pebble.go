package bufferpool

import (
	"os"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type pebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(dataDir string, logger *log.Logger) (Store, error) {
	err := os.MkdirAll(dataDir, 0755)
	if err != nil {
		return nil, errors.Wrapf(err, "pebble store: %s", dataDir)
	}
	if logger == nil {
		logger = log.StandardLogger()
	}

	db, err := pebble.Open(dataDir, &pebble.Options{Logger: logger})
	if err != nil {
		return nil, errors.Wrap(err, "pebble store: open")
	}
	return pebbleStore{
		db: db,
	}, nil
}

func (ps pebbleStore) ReadPage(key PageKey) ([]byte, error) {
	val, closer, err := ps.db.Get(kvKey(key))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, ErrMissingPage
		}
		return nil, errors.Wrapf(err, "pebble store: read %s", key)
	}
	defer closer.Close()

	return append(make([]byte, 0, len(val)), val...), nil
}

func (ps pebbleStore) WritePage(key PageKey, buf []byte) error {
	return errors.Wrapf(ps.db.Set(kvKey(key), buf, pebble.NoSync), "pebble store: write %s",
		key)
}

func (ps pebbleStore) DropTable(tbl string) error {
	start := tablePrefix(tbl)
	end := append([]byte(tbl), 1)
	return errors.Wrapf(ps.db.DeleteRange(start, end, pebble.NoSync), "pebble store: drop %s",
		tbl)
}

func (ps pebbleStore) Close() error {
	err := ps.db.Flush()
	if err != nil {
		ps.db.Close()
		return errors.Wrap(err, "pebble store: flush")
	}
	return errors.Wrap(ps.db.Close(), "pebble store: close")
}
