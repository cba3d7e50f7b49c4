package table

import (
	"fmt"
)

const (
	IndirectionColumn = 0
	RIDColumn         = 1
	TimestampColumn   = 2
	SchemaColumn      = 3

	// MetaColumns is the number of metadata columns in front of the data columns of both
	// base and tail page-sets. Tail page-sets have one more column after the data columns:
	// the rid of the base record the tail record belongs to.
	MetaColumns = 4

	noneEncoding = -1
)

// Pointer is the indirection of a base or tail record: either nothing or the id of a tail
// record.
type Pointer struct {
	id    int64
	valid bool
}

func None() Pointer {
	return Pointer{}
}

func PointsTo(tid int64) Pointer {
	return Pointer{id: tid, valid: true}
}

func (p Pointer) IsNone() bool {
	return !p.valid
}

// ID returns the tail id; it must not be called on None.
func (p Pointer) ID() int64 {
	if !p.valid {
		panic("table: ID of a none pointer")
	}
	return p.id
}

// Below returns true if p is None or points to a tail record below id.
func (p Pointer) Below(id int64) bool {
	return !p.valid || p.id < id
}

func (p Pointer) String() string {
	if !p.valid {
		return "none"
	}
	return fmt.Sprintf("tail(%d)", p.id)
}

func (p Pointer) encode() int64 {
	if !p.valid {
		return noneEncoding
	}
	return p.id
}

func decodePointer(v int64) (Pointer, error) {
	if v == noneEncoding {
		return None(), nil
	} else if v < 0 {
		return Pointer{}, fmt.Errorf("table: bad indirection: %d", v)
	}
	return PointsTo(v), nil
}

// Schema is the state of a base record.
type Schema int64

const (
	// Clean records have never been updated or have been fully merged.
	Clean Schema = 0
	// Updated records have tail records which have not been merged.
	Updated Schema = 1
	// Deleted records are tombstones; a record never leaves this state.
	Deleted Schema = 2
)

func (s Schema) String() string {
	switch s {
	case Clean:
		return "clean"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	}
	return fmt.Sprintf("schema(%d)", int64(s))
}

func decodeSchema(v int64) (Schema, error) {
	s := Schema(v)
	if s != Clean && s != Updated && s != Deleted {
		return 0, fmt.Errorf("table: bad schema encoding: %d", v)
	}
	return s, nil
}

// Record is one record returned by a query: the rid of the base record, the key value
// that was searched for, and the projected data columns.
type Record struct {
	RID     int64
	Key     int64
	Columns []int64
}
