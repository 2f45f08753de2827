package storage

import (
	"bytes"
	"math/rand"
	"sync"
	"time"
)

const (
	// defaultMaxLevel is the default max level of the skip list
	defaultMaxLevel int32 = 12

	defaultProbability float64 = 0.5
)

// Comparator defines a total ordering over the []byte key space.
type Comparator interface {
	// Compare returns -1, 0, 1 if a is less than, equal to or greater than b respectively.
	// empty slice is assumed to be less than any non-empty slice.
	Compare(a, b []byte) int

	// Name returns the name of the comparator
	Name() string
}

// DefaultComparator is the default comparator which uses byte wise ordering.
var DefaultComparator Comparator = defaultComparator{}

type defaultComparator struct{}

func (d defaultComparator) Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}

func (d defaultComparator) Name() string {
	return "BytewiseComparator"
}

// skipList is the probabilistic data structure used in memtable.
// It supports byte key and values along with custom comparators.
//
// It can be accessed concurrently.
type skipList struct {
	mutex       sync.RWMutex
	head        *skipListNode
	maxLevel    int32
	comparator  Comparator
	probability float64
	rnd         *rand.Rand
	length      int
}

// get finds an element by key.
//
// returns a pointer to the skip list node if the key is found.
// returns nil in case the node with key is not found.
func (s *skipList) get(key []byte) *skipListNode {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	next := s.findGreaterOrEqual(key)
	if next != nil && s.comparator.Compare(next.getKey(), key) == 0 {
		return next
	}
	return nil
}

// set inserts a value in the list associated with the specified key.
//
// Overwrites the data if the key already exists.
// returns a pointer to the inserted/modified skip list node.
func (s *skipList) set(key, value []byte) *skipListNode {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	prevs := s.getPreviousNodesForAllLevels(key)

	if element := prevs[0].next[0]; element != nil && s.comparator.Compare(element.getKey(), key) == 0 {
		element.value = value
		return element
	}

	element := &skipListNode{
		key:   key,
		value: value,
		next:  make([]*skipListNode, s.randomLevel()),
	}

	for i := range element.next {
		element.next[i] = prevs[i].next[i]
		prevs[i].next[i] = element
	}
	s.length++

	return element
}

// delete deletes a value in the list associated with the specified key.
//
// returns a pointer to the removed skip list node.
// returns nil if the node isn't found.
func (s *skipList) delete(key []byte) *skipListNode {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	prevs := s.getPreviousNodesForAllLevels(key)

	if element := prevs[0].next[0]; element != nil && s.comparator.Compare(element.getKey(), key) == 0 {
		for k, v := range element.next {
			prevs[k].next[k] = v
		}
		s.length--
		return element
	}

	return nil
}

// len returns the number of keys in the skip list.
func (s *skipList) len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.length
}

// findGreaterOrEqual returns the first node with key >= the passed key.
// nil key denotes -inf i.e. the smallest.
// requires the read lock.
func (s *skipList) findGreaterOrEqual(key []byte) *skipListNode {
	var next *skipListNode
	prev := s.head

	for i := s.maxLevel - 1; i >= 0; i-- {
		next = prev.next[i]

		// while the user key is bigger than next.Key()
		for next != nil && s.comparator.Compare(key, next.getKey()) > 0 {
			prev = next
			next = next.next[i]
		}
	}

	return next
}

// getPreviousNodesForAllLevels returns the previous nodes at each level for passed in key.
func (s *skipList) getPreviousNodesForAllLevels(key []byte) []*skipListNode {
	prevs := make([]*skipListNode, s.maxLevel)
	var next *skipListNode
	prev := s.head

	for i := s.maxLevel - 1; i >= 0; i-- {
		next = prev.next[i]

		for next != nil && s.comparator.Compare(key, next.getKey()) > 0 {
			prev = next
			next = next.next[i]
		}

		prevs[i] = prev
	}

	return prevs
}

// randomLevel is called with the write lock held.
func (s *skipList) randomLevel() int32 {
	var level int32 = 1

	for level < s.maxLevel && s.rnd.Float64() > s.probability {
		level++
	}

	return level
}

// getEqualOrGreater returns the skiplist node with key >= the passed key.
// obtains a read lock on the skip list internally.
// return nil if no such node exists.
func (s *skipList) getEqualOrGreater(key []byte) *skipListNode {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.findGreaterOrEqual(key)
}

// nextOf returns the successor of n at the lowest level.
func (s *skipList) nextOf(n *skipListNode) *skipListNode {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return n.next[0]
}

// newSkipListIterator returns a new skip list iterator on the skip list.
// valueOf returns the current value of the node.
// the value of a node is replaced in place by set, so it is read under the lock.
func (s *skipList) valueOf(n *skipListNode) []byte {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return n.value
}

func (s *skipList) newSkipListIterator() *skipListIterator {
	return &skipListIterator{
		skipList: s,
		node:     nil,
	}
}

type skipListNode struct {
	key   []byte
	value []byte
	next  []*skipListNode
}

func (sn *skipListNode) getKey() []byte {
	return sn.key
}

func (sn *skipListNode) getValue() []byte {
	return sn.value
}

// skipListIterator is the iterator over the key-value pairs of the skip list.
// It relies on the internal synchronization of the skiplist.
// Multiple threads can access different iterators
// but two threads accessing the same iterator requires external synchronization.
type skipListIterator struct {
	skipList *skipList
	node     *skipListNode
}

var _ Iterator = (*skipListIterator)(nil)

// Valid checks if the current position of the iterator is valid.
func (sli *skipListIterator) Valid() bool {
	return sli.node != nil
}

// SeekToFirst moves to the first entry of the skiplist.
// Call Valid() to ensure that the iterator is valid after the seek.
func (sli *skipListIterator) SeekToFirst() {
	sli.node = sli.skipList.getEqualOrGreater(nil)
}

// Seek the iterator to the first element whose key is >= target
// Call Valid() to ensure that the iterator is valid after the seek.
func (sli *skipListIterator) Seek(target []byte) {
	sli.node = sli.skipList.getEqualOrGreater(target)
}

// Next moves to the next key-value pair in the skiplist.
// REQUIRES: Current position of iterator is valid. Panic otherwise.
func (sli *skipListIterator) Next() {
	if !sli.Valid() {
		panic("Next on an invalid iterator position in skiplist.")
	}
	sli.node = sli.skipList.nextOf(sli.node)
}

// Key returns the key of the current iterator position.
// REQUIRES: Current position of iterator is valid. Panics otherwise.
func (sli *skipListIterator) Key() []byte {
	if !sli.Valid() {
		panic("Key on an invalid iterator position in skiplist.")
	}
	return sli.node.getKey()
}

// Value returns the value of the current iterator position.
// REQUIRES: Current position of iterator is valid. Panics otherwise.
func (sli *skipListIterator) Value() []byte {
	if !sli.Valid() {
		panic("Value on an invalid iterator position in skiplist.")
	}
	return sli.skipList.valueOf(sli.node)
}

// newSkipList creates a new skipList
//
// Passing 0 for maxLevel leads to a default max level.
func newSkipList(maxLevel int32, comparator Comparator) *skipList {
	if maxLevel == 0 {
		maxLevel = defaultMaxLevel
	}

	if maxLevel < 1 || maxLevel > 18 {
		panic("maxLevel for the SkipList must be a positive integer <= 18")
	}

	if comparator == nil {
		comparator = DefaultComparator
	}

	return &skipList{
		head:        &skipListNode{next: make([]*skipListNode, maxLevel)},
		maxLevel:    maxLevel,
		comparator:  comparator,
		probability: defaultProbability,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}
