package storage

import (
	"github.com/dr0pdb/icecanexa/internal/common"
)

// memtable is the in-memory view of the committed data.
// It is thread safe and can be accessed concurrently.
type memtable struct {
	skiplist   *skipList
	comparator Comparator
}

// get returns the value stored for key.
// returns NotFoundError if the key isn't present.
func (m *memtable) get(key []byte) ([]byte, error) {
	node := m.skiplist.get(key)
	if node == nil {
		return nil, common.NewNotFoundError("key not found in memtable")
	}
	return m.skiplist.valueOf(node), nil
}

func (m *memtable) set(key, value []byte) {
	m.skiplist.set(append([]byte(nil), key...), append([]byte(nil), value...))
}

func (m *memtable) delete(key []byte) {
	m.skiplist.delete(key)
}

// apply applies every record of the batch in order.
func (m *memtable) apply(wb *WriteBatch) {
	wb.forEach(func(kind batchRecordKind, key, value []byte) {
		switch kind {
		case batchRecordKindSet:
			m.set(key, value)
		case batchRecordKindDelete:
			m.delete(key)
		}
	})
}

func (m *memtable) len() int {
	return m.skiplist.len()
}

func (m *memtable) newIterator() Iterator {
	return &KeyValueIterator{itr: m.skiplist.newSkipListIterator()}
}

// newMemtable returns a new instance of the memtable
func newMemtable(skiplist *skipList, comparator Comparator) *memtable {
	return &memtable{
		skiplist:   skiplist,
		comparator: comparator,
	}
}
