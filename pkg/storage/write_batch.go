package storage

import (
	"encoding/binary"

	"github.com/dr0pdb/icecanexa/internal/common"
)

// header has 8 bytes of sequence number and 4 bytes for the count of records.
const batchHeaderSize = 12

type batchRecordKind uint8

const (
	// This is part of the file format and stored on the disk. Don't change
	batchRecordKindDelete batchRecordKind = 0
	batchRecordKindSet    batchRecordKind = 1
)

// WriteBatch contains a number of Put/Delete records written atomically.
// Refer to https://github.com/google/leveldb/blob/master/db/write_batch.cc for format.
type WriteBatch struct {
	data []byte
}

// init initializes a write batch with size headerSize and capacity cap rounded to nearest power of 2.
func (wb *WriteBatch) init(cap int) {
	icap := 256
	for icap < cap {
		icap *= 2
	}
	wb.data = make([]byte, batchHeaderSize, icap)
}

// newWriteBatchFromData wraps the encoded form of a batch, usually read back from the log.
func newWriteBatchFromData(data []byte) (*WriteBatch, error) {
	if len(data) < batchHeaderSize {
		return nil, common.NewCorruptionError("write batch too short")
	}
	wb := &WriteBatch{data: append([]byte(nil), data...)}

	// validate that the records match the count.
	itr := wb.getIterator()
	for i := uint32(0); i < wb.getCount(); i++ {
		if _, _, _, ok := itr.next(); !ok {
			return nil, common.NewCorruptionError("write batch count doesn't match its records")
		}
	}
	if len(itr) != 0 {
		return nil, common.NewCorruptionError("trailing bytes in write batch")
	}
	return wb, nil
}

// Set adds a value for the given key in the write batch.
func (wb *WriteBatch) Set(key, value []byte) {
	if len(wb.data) == 0 {
		wb.init(len(key) + len(value) + 2*binary.MaxVarintLen64 + batchHeaderSize)
	}

	if wb.incrementCount() {
		wb.data = append(wb.data, byte(batchRecordKindSet))
		wb.appendStr(key)
		wb.appendStr(value)
	}
}

// Delete adds a delete entry for the given key in the write batch.
func (wb *WriteBatch) Delete(key []byte) {
	if len(wb.data) == 0 {
		wb.init(len(key) + binary.MaxVarintLen64 + batchHeaderSize)
	}

	if wb.incrementCount() {
		wb.data = append(wb.data, byte(batchRecordKindDelete))
		wb.appendStr(key)
	}
}

// Count returns the number of records in the batch.
func (wb *WriteBatch) Count() int {
	if len(wb.data) == 0 {
		return 0
	}
	return int(wb.getCount())
}

// Data returns the encoded batch. An empty batch is encoded as just the header.
func (wb *WriteBatch) Data() []byte {
	if len(wb.data) == 0 {
		wb.init(batchHeaderSize)
	}
	return wb.data
}

func (wb *WriteBatch) getSeqNumData() []byte {
	return wb.data[:8]
}

func (wb *WriteBatch) getCountData() []byte {
	return wb.data[8:12]
}

func (wb *WriteBatch) incrementCount() bool {
	d := wb.getCountData()
	c := binary.LittleEndian.Uint32(d)
	if c == ^uint32(0) {
		return false
	}
	binary.LittleEndian.PutUint32(d, c+1)
	return true
}

func (wb *WriteBatch) appendStr(s []byte) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], uint64(len(s)))
	wb.data = append(wb.data, buf[:n]...)
	wb.data = append(wb.data, s...)
}

func (wb *WriteBatch) setSeqNum(seqNum uint64) {
	binary.LittleEndian.PutUint64(wb.getSeqNumData(), seqNum)
}

func (wb *WriteBatch) getSeqNum() uint64 {
	return binary.LittleEndian.Uint64(wb.getSeqNumData())
}

func (wb *WriteBatch) getCount() uint32 {
	return binary.LittleEndian.Uint32(wb.getCountData())
}

func (wb *WriteBatch) getIterator() batchIterator {
	if len(wb.data) == 0 {
		return nil
	}
	return wb.data[batchHeaderSize:]
}

// forEach calls fn for every record of the batch in insertion order.
func (wb *WriteBatch) forEach(fn func(kind batchRecordKind, key, value []byte)) {
	itr := wb.getIterator()
	for len(itr) > 0 {
		kind, key, value, ok := itr.next()
		if !ok {
			return
		}
		fn(kind, key, value)
	}
}

type batchIterator []byte

func (bi *batchIterator) next() (kind batchRecordKind, ukey []byte, value []byte, ok bool) {
	tmp := *bi
	if len(tmp) == 0 {
		return 0, nil, nil, false
	}

	kind, *bi = batchRecordKind(tmp[0]), tmp[1:]
	if kind != batchRecordKindSet && kind != batchRecordKindDelete {
		return 0, nil, nil, false
	}

	ukey, ok = bi.nextString()
	if !ok {
		return 0, nil, nil, ok
	}

	if kind != batchRecordKindDelete {
		value, ok = bi.nextString()
		if !ok {
			return 0, nil, nil, ok
		}
	}

	return kind, ukey, value, true
}

// nextString gets the next string from the batch.
// it reads the length of the string stored as varint and then reads the actual string
func (bi *batchIterator) nextString() (s []byte, ok bool) {
	tmp := *bi

	// u is the length of the string.
	u, numBytes := binary.Uvarint(tmp)
	if numBytes <= 0 {
		return nil, false
	}

	tmp = tmp[numBytes:]
	if u > uint64(len(tmp)) {
		return nil, false
	}

	s, *bi = tmp[:u], tmp[u:]
	return s, true
}
