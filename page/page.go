package page

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

const (
	// DefaultCapacity is the number of slots in a page unless a table asks for another size.
	DefaultCapacity = 64

	headerSize = 8
)

var (
	ErrSlotRange = errors.New("page: slot out of range")
	ErrPageFull  = errors.New("page: page is full")
	ErrBadFormat = errors.New("page: bad page format")
)

// Page is a fixed-capacity array of int64 values for one column of one page-set. Slots
// may be written out of order; a slot that was never written can not be read or
// overwritten.
type Page struct {
	mutex    sync.RWMutex
	values   []int64
	written  []bool
	length   int
	dirty    bool
	capacity int
}

func New(capacity int) *Page {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Page{
		values:   make([]int64, capacity),
		written:  make([]bool, capacity),
		capacity: capacity,
	}
}

func (pg *Page) Capacity() int {
	return pg.capacity
}

// Len returns one past the highest written slot.
func (pg *Page) Len() int {
	pg.mutex.RLock()
	defer pg.mutex.RUnlock()

	return pg.length
}

func (pg *Page) Dirty() bool {
	pg.mutex.RLock()
	defer pg.mutex.RUnlock()

	return pg.dirty
}

func (pg *Page) MarkDirty() {
	pg.mutex.Lock()
	pg.dirty = true
	pg.mutex.Unlock()
}

func (pg *Page) ClearDirty() {
	pg.mutex.Lock()
	pg.dirty = false
	pg.mutex.Unlock()
}

func (pg *Page) checkSlot(slot int) error {
	if slot < 0 || slot >= pg.capacity {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrSlotRange, slot, pg.capacity)
	}
	return nil
}

func (pg *Page) Read(slot int) (int64, error) {
	pg.mutex.RLock()
	defer pg.mutex.RUnlock()

	if err := pg.checkSlot(slot); err != nil {
		return 0, err
	}
	if !pg.written[slot] {
		return 0, fmt.Errorf("%w: slot %d not written", ErrSlotRange, slot)
	}
	return pg.values[slot], nil
}

// Written reports whether slot holds a value.
func (pg *Page) Written(slot int) bool {
	pg.mutex.RLock()
	defer pg.mutex.RUnlock()

	return slot >= 0 && slot < pg.capacity && pg.written[slot]
}

func (pg *Page) put(slot int, v int64) {
	pg.values[slot] = v
	pg.written[slot] = true
	if slot >= pg.length {
		pg.length = slot + 1
	}
	pg.dirty = true
}

// Put writes v to any slot within capacity.
func (pg *Page) Put(slot int, v int64) error {
	pg.mutex.Lock()
	defer pg.mutex.Unlock()

	if err := pg.checkSlot(slot); err != nil {
		return err
	}
	pg.put(slot, v)
	return nil
}

// Overwrite replaces the value of a slot which must already be written.
func (pg *Page) Overwrite(slot int, v int64) error {
	pg.mutex.Lock()
	defer pg.mutex.Unlock()

	if err := pg.checkSlot(slot); err != nil {
		return err
	}
	if !pg.written[slot] {
		return fmt.Errorf("%w: overwrite of unwritten slot %d", ErrSlotRange, slot)
	}
	pg.put(slot, v)
	return nil
}

func (pg *Page) Append(v int64) (int, error) {
	pg.mutex.Lock()
	defer pg.mutex.Unlock()

	if pg.length >= pg.capacity {
		return 0, ErrPageFull
	}
	slot := pg.length
	pg.put(slot, v)
	return slot, nil
}

// Clone returns an independent copy; the copy is not dirty.
func (pg *Page) Clone() *Page {
	pg.mutex.RLock()
	defer pg.mutex.RUnlock()

	cp := &Page{
		values:   append(make([]int64, 0, pg.capacity), pg.values...),
		written:  append(make([]bool, 0, pg.capacity), pg.written...),
		length:   pg.length,
		capacity: pg.capacity,
	}
	return cp
}

// CopyFrom replaces the contents of pg with the contents of src and marks pg dirty. Both
// pages must have the same capacity.
func (pg *Page) CopyFrom(src *Page) error {
	if pg == src {
		return nil
	}

	src.mutex.RLock()
	defer src.mutex.RUnlock()
	pg.mutex.Lock()
	defer pg.mutex.Unlock()

	if pg.capacity != src.capacity {
		return fmt.Errorf("page: capacity mismatch: %d != %d", pg.capacity, src.capacity)
	}
	copy(pg.values, src.values)
	copy(pg.written, src.written)
	pg.length = src.length
	pg.dirty = true
	return nil
}

// MarshalBinary encodes the page as a header (capacity, length) followed by a written
// bitmap and the values of every slot below length.
func (pg *Page) MarshalBinary() ([]byte, error) {
	pg.mutex.RLock()
	defer pg.mutex.RUnlock()

	return pg.marshal(), nil
}

func (pg *Page) marshal() []byte {
	bitmap := (pg.capacity + 7) / 8
	buf := make([]byte, headerSize+bitmap+pg.length*8)
	binary.BigEndian.PutUint32(buf[0:], uint32(pg.capacity))
	binary.BigEndian.PutUint32(buf[4:], uint32(pg.length))
	for slot := 0; slot < pg.length; slot++ {
		if pg.written[slot] {
			buf[headerSize+slot/8] |= 1 << (slot % 8)
		}
	}
	off := headerSize + bitmap
	for slot := 0; slot < pg.length; slot++ {
		binary.BigEndian.PutUint64(buf[off+slot*8:], uint64(pg.values[slot]))
	}
	return buf
}

// Checkpoint encodes the page and clears the dirty flag atomically with respect to writers.
func (pg *Page) Checkpoint() ([]byte, error) {
	pg.mutex.Lock()
	defer pg.mutex.Unlock()

	buf := pg.marshal()
	pg.dirty = false
	return buf, nil
}

func (pg *Page) UnmarshalBinary(buf []byte) error {
	if len(buf) < headerSize {
		return ErrBadFormat
	}
	capacity := int(binary.BigEndian.Uint32(buf[0:]))
	length := int(binary.BigEndian.Uint32(buf[4:]))
	bitmap := (capacity + 7) / 8
	if capacity <= 0 || length > capacity || len(buf) != headerSize+bitmap+length*8 {
		return fmt.Errorf("%w: capacity %d, length %d, size %d", ErrBadFormat, capacity, length,
			len(buf))
	}

	pg.mutex.Lock()
	defer pg.mutex.Unlock()

	pg.capacity = capacity
	pg.values = make([]int64, capacity)
	pg.written = make([]bool, capacity)
	pg.length = length
	pg.dirty = false
	off := headerSize + bitmap
	for slot := 0; slot < length; slot++ {
		pg.written[slot] = buf[headerSize+slot/8]&(1<<(slot%8)) != 0
		pg.values[slot] = int64(binary.BigEndian.Uint64(buf[off+slot*8:]))
	}
	return nil
}

func Decode(buf []byte) (*Page, error) {
	pg := &Page{}
	err := pg.UnmarshalBinary(buf)
	if err != nil {
		return nil, err
	}
	return pg, nil
}
