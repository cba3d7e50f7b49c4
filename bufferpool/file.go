package bufferpool

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
)

const (
	BasePagesDir = "base_pages"
	TailPagesDir = "tail_pages"

	pageFileSuffix = ".page"
)

// fileStore keeps one file per physical page: <dir>/<table>/base_pages/<index>.page and
// <dir>/<table>/tail_pages/<index>.page.
type fileStore struct {
	dir string
}

func NewFileStore(dataDir string) (Store, error) {
	err := os.MkdirAll(dataDir, 0755)
	if err != nil {
		return nil, errors.Wrapf(err, "file store: %s", dataDir)
	}
	return fileStore{
		dir: dataDir,
	}, nil
}

func (fs fileStore) pageDir(key PageKey) string {
	if key.Base {
		return filepath.Join(fs.dir, key.Table, BasePagesDir)
	}
	return filepath.Join(fs.dir, key.Table, TailPagesDir)
}

func (fs fileStore) pagePath(key PageKey) string {
	return filepath.Join(fs.pageDir(key), strconv.FormatInt(key.Index, 10)+pageFileSuffix)
}

func (fs fileStore) ReadPage(key PageKey) ([]byte, error) {
	buf, err := os.ReadFile(fs.pagePath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrMissingPage
		}
		return nil, errors.Wrapf(err, "file store: read %s", key)
	}
	return buf, nil
}

func (fs fileStore) WritePage(key PageKey, buf []byte) error {
	dir := fs.pageDir(key)
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return errors.Wrapf(err, "file store: %s", dir)
	}

	path := fs.pagePath(key)
	tmp := path + ".tmp"
	err = os.WriteFile(tmp, buf, 0644)
	if err != nil {
		return errors.Wrapf(err, "file store: write %s", key)
	}
	return errors.Wrapf(os.Rename(tmp, path), "file store: rename %s", key)
}

// DropTable removes the page directories of the table; other files in the table directory
// are left alone.
func (fs fileStore) DropTable(tbl string) error {
	for _, sub := range []string{BasePagesDir, TailPagesDir} {
		err := os.RemoveAll(filepath.Join(fs.dir, tbl, sub))
		if err != nil {
			return errors.Wrapf(err, "file store: drop %s", tbl)
		}
	}
	return nil
}

func (fs fileStore) Close() error {
	return nil
}
