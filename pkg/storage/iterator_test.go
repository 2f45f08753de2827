package storage

import (
	"fmt"
	"testing"

	"github.com/dr0pdb/icecanexa/test"
	"github.com/stretchr/testify/assert"
)

func TestKeyValueIterator(t *testing.T) {
	h := newStorageTestHarness(t)
	defer h.close()
	s := h.s

	writeOpts := &WriteOptions{
		Sync: true,
	}

	// first we set value[0] for each key
	// then we write value[i] for ith key
	for i := range test.TestKeys {
		err := s.Set(test.TestKeys[i], test.TestValues[0], writeOpts)
		assert.Nil(t, err, fmt.Sprintf("Unexpected error in setting value for key%d", i))

		err = s.Set(test.TestKeys[i], test.TestValues[i], writeOpts)
		assert.Nil(t, err, fmt.Sprintf("Unexpected error in setting value for key%d", i))
	}

	itr := s.Scan(test.TestKeys[0])
	expectedCnt := len(test.TestKeys)
	cnt := 0

	for ; itr.Valid(); itr.Next() {
		assert.Equal(t, test.TestKeys[cnt], itr.Key(), fmt.Sprintf("expected key doesn't match the actual key from iterator at idx: %d", cnt))
		assert.Equal(t, test.TestValues[cnt], itr.Value(), fmt.Sprintf("expected value doesn't match the actual value from iterator at idx: %d", cnt))
		cnt++
	}

	assert.Equal(t, expectedCnt, cnt, fmt.Sprintf("Number of entries in iterator doesn't match. Expected: %d, actual %d", expectedCnt, cnt))
}

func TestKeyValueIteratorWithSingleKey(t *testing.T) {
	h := newStorageTestHarness(t)
	defer h.close()
	s := h.s

	err := s.Set(test.TestKeys[0], test.TestValues[0], nil)
	assert.Nil(t, err, fmt.Sprintf("Unexpected error in setting value for key%d", 0))

	err = s.Delete(test.TestKeys[0], nil)
	assert.Nil(t, err, fmt.Sprintf("Unexpected error in deleting value for key%d", 0))

	itr := s.Scan(test.TestKeys[0])
	assert.False(t, itr.Valid(), "expected an empty iterator")
}

func TestKeyValueIteratorWithDeletes(t *testing.T) {
	h := newStorageTestHarness(t)
	defer h.close()
	s := h.s

	for i := range test.TestKeys {
		err := s.Set(test.TestKeys[i], test.TestValues[i], nil)
		assert.Nil(t, err, fmt.Sprintf("Unexpected error in setting value for key%d", i))

		// if index if odd, we will delete it.
		if i%2 == 1 {
			err = s.Delete(test.TestKeys[i], nil)
			assert.Nil(t, err, fmt.Sprintf("Unexpected error in deleting value for key%d", i))
		}
	}

	h.restart()

	itr := h.s.Scan(test.TestKeys[0])
	expectedCnt := 3 // we only expect index 0,2,4
	cnt := 0

	for ; itr.Valid(); itr.Next() {
		assert.Equal(t, test.TestKeys[2*cnt], itr.Key(), fmt.Sprintf("expected key doesn't match the actual key from iterator at idx: %d", 2*cnt))
		assert.Equal(t, test.TestValues[2*cnt], itr.Value(), fmt.Sprintf("expected value doesn't match the actual value from iterator at idx: %d", 2*cnt))
		cnt++
	}

	assert.Equal(t, expectedCnt, cnt, fmt.Sprintf("Number of entries in iterator doesn't match. Expected: %d, actual %d", expectedCnt, cnt))
}

func TestKeyValueIteratorWithConcurrentWrites(t *testing.T) {
	h := newStorageTestHarness(t)
	defer h.close()
	s := h.s

	for i := range test.TestKeys {
		assert.Nil(t, s.Set(test.TestKeys[i], test.TestValues[0], nil))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			assert.Nil(t, s.Set(test.TestKeys[i%len(test.TestKeys)], test.TestValues[1+i%2], nil))
		}
	}()

	for round := 0; round < 100; round++ {
		cnt := 0
		for itr := s.Scan(test.TestKeys[0]); itr.Valid(); itr.Next() {
			v := itr.Value()
			assert.Contains(t, []string{string(test.TestValues[0]), string(test.TestValues[1]), string(test.TestValues[2])}, string(v), fmt.Sprintf("unexpected value in round %d", round))
			cnt++
		}
		assert.Equal(t, len(test.TestKeys), cnt, "overwrites shouldn't change the number of keys")
	}
	<-done
}
