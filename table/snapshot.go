package table

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"sort"

	"github.com/OneOfOne/xxhash"
	"github.com/golang/snappy"
	log "github.com/sirupsen/logrus"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/gracexichen/L-Store-Database/bufferpool"
	"github.com/gracexichen/L-Store-Database/index"
)

const (
	SnapshotFile = "table.snap"
)

var (
	ErrBadSnapshot = errors.New("table: bad snapshot")
)

// Snapshot fields.
const (
	nameField         protowire.Number = 1
	numColumnsField   protowire.Number = 2
	keyField          protowire.Number = 3
	capacityField     protowire.Number = 4
	nextRIDField      protowire.Number = 5
	basePageSetsField protowire.Number = 6
	nextTIDField      protowire.Number = 7
	tailPageSetsField protowire.Number = 8
	tpsField          protowire.Number = 9
	indexField        protowire.Number = 10
	thresholdField    protowire.Number = 11
	abortedField      protowire.Number = 12

	// Fields of an index message.
	columnField  protowire.Number = 1
	entriesField protowire.Number = 2
)

func appendVarintField(buf []byte, num protowire.Number, v int64) []byte {
	buf = protowire.AppendTag(buf, num, protowire.VarintType)
	return protowire.AppendVarint(buf, protowire.EncodeZigZag(v))
}

func appendIndex(buf []byte, col int, entries []index.Entry) []byte {
	var packed []byte
	for _, e := range entries {
		packed = protowire.AppendVarint(packed, protowire.EncodeZigZag(e.Value))
		packed = protowire.AppendVarint(packed, protowire.EncodeZigZag(e.RID))
	}

	var msg []byte
	msg = appendVarintField(msg, columnField, int64(col))
	msg = protowire.AppendTag(msg, entriesField, protowire.BytesType)
	msg = protowire.AppendBytes(msg, packed)

	buf = protowire.AppendTag(buf, indexField, protowire.BytesType)
	return protowire.AppendBytes(buf, msg)
}

// Snapshot writes the metadata and the index of the table to w: protobuf wire format,
// compressed with snappy, followed by a big endian xxhash64 of the compressed bytes. The
// pages of the table must be flushed separately. No updates may be in flight.
func (tbl *Table) Snapshot(w io.Writer) error {
	tbl.baseMutex.Lock()
	nextRID := tbl.nextRID
	basePageSets := tbl.basePageSets
	tbl.baseMutex.Unlock()

	tbl.tailMutex.Lock()
	nextTID := tbl.nextTID
	tailPageSets := tbl.tailPageSets
	inflight := len(tbl.inflight)
	aborted := make([]int64, 0, len(tbl.aborted))
	for tid := range tbl.aborted {
		aborted = append(aborted, tid)
	}
	tbl.tailMutex.Unlock()
	sort.Slice(aborted, func(i, j int) bool { return aborted[i] < aborted[j] })

	if inflight > 0 {
		return fmt.Errorf("table: %s: snapshot with %d updates in flight", tbl.name, inflight)
	}

	var buf []byte
	buf = protowire.AppendTag(buf, nameField, protowire.BytesType)
	buf = protowire.AppendString(buf, tbl.name)
	buf = appendVarintField(buf, numColumnsField, int64(tbl.numColumns))
	buf = appendVarintField(buf, keyField, int64(tbl.key))
	buf = appendVarintField(buf, capacityField, tbl.capacity)
	buf = appendVarintField(buf, thresholdField, tbl.threshold)
	buf = appendVarintField(buf, nextRIDField, nextRID)
	buf = appendVarintField(buf, basePageSetsField, basePageSets)
	buf = appendVarintField(buf, nextTIDField, nextTID)
	buf = appendVarintField(buf, tailPageSetsField, tailPageSets)
	buf = appendVarintField(buf, tpsField, tbl.TPS())
	if len(aborted) > 0 {
		var packed []byte
		for _, tid := range aborted {
			packed = protowire.AppendVarint(packed, protowire.EncodeZigZag(tid))
		}
		buf = protowire.AppendTag(buf, abortedField, protowire.BytesType)
		buf = protowire.AppendBytes(buf, packed)
	}

	for col := 0; col < tbl.numColumns; col++ {
		if !tbl.idx.Indexed(col) {
			continue
		}
		entries, err := tbl.idx.Entries(col)
		if err != nil {
			return err
		}
		buf = appendIndex(buf, col, entries)
	}

	cbuf := snappy.Encode(nil, buf)
	var sum [8]byte
	binary.BigEndian.PutUint64(sum[:], xxhash.Checksum64(cbuf))

	_, err := w.Write(cbuf)
	if err != nil {
		return err
	}
	_, err = w.Write(sum[:])
	return err
}

type snapshot struct {
	name         string
	numColumns   int64
	key          int64
	capacity     int64
	threshold    int64
	nextRID      int64
	basePageSets int64
	nextTID      int64
	tailPageSets int64
	tps          int64
	aborted      []int64
	indexes      map[int][]index.Entry
}

func consumeVarint(buf []byte) (int64, int, error) {
	v, n := protowire.ConsumeVarint(buf)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return protowire.DecodeZigZag(v), n, nil
}

func decodeIndex(buf []byte) (int, []index.Entry, error) {
	col := int64(-1)
	var entries []index.Entry

	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return 0, nil, protowire.ParseError(n)
		}
		buf = buf[n:]

		switch {
		case num == columnField && typ == protowire.VarintType:
			v, n, err := consumeVarint(buf)
			if err != nil {
				return 0, nil, err
			}
			col = v
			buf = buf[n:]
		case num == entriesField && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return 0, nil, protowire.ParseError(n)
			}
			buf = buf[n:]

			for len(packed) > 0 {
				v, n, err := consumeVarint(packed)
				if err != nil {
					return 0, nil, err
				}
				packed = packed[n:]
				rid, n, err := consumeVarint(packed)
				if err != nil {
					return 0, nil, err
				}
				packed = packed[n:]
				entries = append(entries, index.Entry{Value: v, RID: rid})
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return 0, nil, protowire.ParseError(n)
			}
			buf = buf[n:]
		}
	}

	if col < 0 {
		return 0, nil, errors.New("index without a column")
	}
	return int(col), entries, nil
}

func decodeSnapshot(buf []byte) (*snapshot, error) {
	snap := snapshot{
		indexes: map[int][]index.Entry{},
	}
	fields := map[protowire.Number]*int64{
		numColumnsField:   &snap.numColumns,
		keyField:          &snap.key,
		capacityField:     &snap.capacity,
		thresholdField:    &snap.threshold,
		nextRIDField:      &snap.nextRID,
		basePageSetsField: &snap.basePageSets,
		nextTIDField:      &snap.nextTID,
		tailPageSetsField: &snap.tailPageSets,
		tpsField:          &snap.tps,
	}

	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		buf = buf[n:]

		if fld, ok := fields[num]; ok && typ == protowire.VarintType {
			v, n, err := consumeVarint(buf)
			if err != nil {
				return nil, err
			}
			*fld = v
			buf = buf[n:]
			continue
		}

		switch {
		case num == nameField && typ == protowire.BytesType:
			name, n := protowire.ConsumeString(buf)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			snap.name = name
			buf = buf[n:]
		case num == indexField && typ == protowire.BytesType:
			msg, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			col, entries, err := decodeIndex(msg)
			if err != nil {
				return nil, err
			}
			snap.indexes[col] = entries
			buf = buf[n:]
		case num == abortedField && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			for len(packed) > 0 {
				tid, pn, err := consumeVarint(packed)
				if err != nil {
					return nil, err
				}
				snap.aborted = append(snap.aborted, tid)
				packed = packed[pn:]
			}
			buf = buf[n:]
		default:
			n = protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			buf = buf[n:]
		}
	}
	return &snap, nil
}

// Restore reads a table written by Snapshot and binds it to bp. Page capacity and merge
// threshold come from the snapshot; opts only supplies the logger.
func Restore(bp *bufferpool.BufferPool, r io.Reader, opts Options) (*Table, error) {
	buf, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(buf) < 8 {
		return nil, fmt.Errorf("%w: short snapshot: %d bytes", ErrBadSnapshot, len(buf))
	}
	cbuf := buf[:len(buf)-8]
	sum := binary.BigEndian.Uint64(buf[len(buf)-8:])
	if xxhash.Checksum64(cbuf) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch: %x", ErrBadSnapshot, sum)
	}
	buf, err = snappy.Decode(nil, cbuf)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadSnapshot, err)
	}
	snap, err := decodeSnapshot(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadSnapshot, err)
	}

	opts.PageCapacity = int(snap.capacity)
	opts.MergeThreshold = snap.threshold
	tbl, err := makeTable(bp, snap.name, int(snap.numColumns), int(snap.key), opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadSnapshot, err)
	}
	tbl.nextRID = snap.nextRID
	tbl.basePageSets = snap.basePageSets
	tbl.nextTID = snap.nextTID
	tbl.tailPageSets = snap.tailPageSets
	tbl.tps = snap.tps
	for _, tid := range snap.aborted {
		tbl.aborted[tid] = struct{}{}
	}

	for col := 0; col < tbl.numColumns; col++ {
		entries, ok := snap.indexes[col]
		if !ok {
			err = tbl.idx.DropIndex(col)
		} else {
			err = tbl.idx.Restore(col, entries)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrBadSnapshot, err)
		}
	}

	bp.AddTable(tbl.name, tbl.basePageSets*tbl.BaseSetPages(),
		tbl.tailPageSets*tbl.TailSetPages())

	tbl.logger.WithFields(log.Fields{
		"table":   tbl.name,
		"records": tbl.nextRID,
		"tail":    tbl.nextTID,
		"tps":     tbl.tps,
	}).Info("table restored")
	return tbl, nil
}
