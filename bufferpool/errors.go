package bufferpool

import (
	"errors"
	"fmt"
)

// Error kinds. All of them are fatal to the operation that hit them: they report I/O or
// corruption below the record layer and are never a substitute for a missing record.
var (
	ErrIO           = errors.New("bufferpool: I/O error")
	ErrCorrupt      = errors.New("bufferpool: page is corrupted")
	ErrMissingPage  = errors.New("bufferpool: page not found in store")
	ErrNoPage       = errors.New("bufferpool: page index not allocated")
	ErrPoolFull     = errors.New("bufferpool: all frames are pinned")
	ErrUnknownStore = errors.New("bufferpool: unknown page store")
)

type Error struct {
	Op   string
	Key  PageKey
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Key, e.Kind)
	}
	return fmt.Sprintf("%s %s: %s: %s", e.Op, e.Key, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func newError(op string, key PageKey, kind, err error) error {
	return &Error{
		Op:   op,
		Key:  key,
		Kind: kind,
		Err:  err,
	}
}

// IsFatal returns true if err came from the buffer pool or a page store.
func IsFatal(err error) bool {
	var bpe *Error
	if errors.As(err, &bpe) {
		return true
	}
	return errors.Is(err, ErrIO) || errors.Is(err, ErrCorrupt) || errors.Is(err, ErrPoolFull)
}
