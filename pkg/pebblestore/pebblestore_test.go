/**
 * Copyright 2021 The IcecaneDB Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package pebblestore

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/dr0pdb/icecanexa/internal/common"
	"github.com/dr0pdb/icecanexa/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDir = "/icecanexa/pebble"

type pebbleTestHarness struct {
	t  *testing.T
	fs vfs.FS
	s  *Store
}

func newPebbleTestHarness(t *testing.T) *pebbleTestHarness {
	h := &pebbleTestHarness{t: t, fs: vfs.NewMem()}
	h.open()
	return h
}

func (h *pebbleTestHarness) open() {
	s, err := Open(testDir, &Options{FS: h.fs, CacheSizeMB: 1})
	require.Nil(h.t, err, "Unexpected error in opening the store")
	h.s = s
}

func (h *pebbleTestHarness) restart() {
	h.s.Close()
	h.open()
}

func (h *pebbleTestHarness) close() {
	h.s.Close()
}

func (h *pebbleTestHarness) prepare(xid string, keys ...int) *Txn {
	txn := h.s.BeginTxn()
	for _, i := range keys {
		assert.Nil(h.t, txn.Set(test.TestKeys[i], test.TestValues[i]))
	}
	_, err := txn.Prepare([]byte(xid))
	require.Nil(h.t, err, "Unexpected error in preparing the transaction")
	return txn
}

func (h *pebbleTestHarness) prepared() []PreparedTxn {
	p, err := h.s.Prepared()
	require.Nil(h.t, err)
	return p
}

func TestAutocommit(t *testing.T) {
	h := newPebbleTestHarness(t)
	defer h.close()

	for i := range test.TestKeys {
		assert.Nil(t, h.s.Set(test.TestKeys[i], test.TestValues[i]), fmt.Sprintf("Unexpected error in setting key%d", i))
	}
	assert.Nil(t, h.s.Delete(test.TestKeys[0]))

	h.restart()

	_, err := h.s.Get(test.TestKeys[0])
	assert.IsType(t, common.NotFoundError{}, err)
	val, err := h.s.Get(test.TestKeys[1])
	assert.Nil(t, err)
	assert.Equal(t, test.TestValues[1], val)
}

func TestTxnReadYourWrites(t *testing.T) {
	h := newPebbleTestHarness(t)
	defer h.close()

	assert.Nil(t, h.s.Set(test.TestKeys[0], test.TestValues[0]))

	txn := h.s.BeginTxn()
	assert.False(t, txn.Dirty())
	assert.Nil(t, txn.Set(test.TestKeys[1], test.TestValues[1]))
	assert.Nil(t, txn.Delete(test.TestKeys[0]))
	assert.True(t, txn.Dirty())

	_, err := txn.Get(test.TestKeys[0])
	assert.IsType(t, common.NotFoundError{}, err)
	val, err := txn.Get(test.TestKeys[1])
	assert.Nil(t, err)
	assert.Equal(t, test.TestValues[1], val)

	_, err = h.s.Get(test.TestKeys[1])
	assert.IsType(t, common.NotFoundError{}, err, "uncommitted write leaked out of the transaction")

	assert.Nil(t, txn.Commit())
	val, err = h.s.Get(test.TestKeys[1])
	assert.Nil(t, err)
	assert.Equal(t, test.TestValues[1], val)
	assert.IsType(t, common.CommittedTransactionError{}, txn.Commit())
}

func TestPrepareCommitAcrossRestart(t *testing.T) {
	h := newPebbleTestHarness(t)
	defer h.close()

	first := h.prepare("xid-1", 0, 1)
	h.prepare("xid-2", 2)
	assert.IsType(t, common.PreparedTransactionError{}, first.Set(test.TestKeys[3], test.TestValues[3]))

	_, err := h.s.Get(test.TestKeys[0])
	assert.IsType(t, common.NotFoundError{}, err, "prepared write visible before commit")

	h.restart()

	prepared := h.prepared()
	require.Equal(t, 2, len(prepared))
	assert.Equal(t, []byte("xid-1"), prepared[0].Xid)
	assert.Equal(t, []byte("xid-2"), prepared[1].Xid)
	assert.Equal(t, common.OutcomeNone, prepared[0].Outcome)

	txn, err := h.s.Resume(prepared[0].Token)
	require.Nil(t, err)
	assert.Nil(t, txn.Commit())

	txn, err = h.s.Resume(prepared[1].Token)
	require.Nil(t, err)
	assert.Nil(t, txn.Rollback())

	assert.Empty(t, h.prepared())
	val, err := h.s.Get(test.TestKeys[1])
	assert.Nil(t, err)
	assert.Equal(t, test.TestValues[1], val)
	_, err = h.s.Get(test.TestKeys[2])
	assert.IsType(t, common.NotFoundError{}, err, "rolled back write applied")

	next := h.prepare("xid-3", 4)
	assert.Greater(t, next.Token(), prepared[1].Token, "token reused after restart")

	_, err = h.s.Resume(1000)
	assert.IsType(t, common.NotFoundError{}, err)
}

func TestHeuristicCommitThenForget(t *testing.T) {
	h := newPebbleTestHarness(t)
	defer h.close()

	txn := h.prepare("xid-1", 0)
	assert.Nil(t, txn.HeuristicallyComplete(true))
	assert.IsType(t, common.HeuristicError{}, h.s.HeuristicRollback(txn.Token()))

	val, err := h.s.Get(test.TestKeys[0])
	assert.Nil(t, err, "heuristic commit should apply the writes")
	assert.Equal(t, test.TestValues[0], val)

	err = txn.Commit()
	assert.Equal(t, common.NewHeuristicError(common.OutcomeCommitted, "transaction was completed heuristically"), err)

	h.restart()
	prepared := h.prepared()
	require.Equal(t, 1, len(prepared))
	assert.Equal(t, common.OutcomeCommitted, prepared[0].Outcome)

	assert.Nil(t, h.s.Forget(prepared[0].Token))
	assert.Empty(t, h.prepared())
}

func TestHeuristicRollback(t *testing.T) {
	h := newPebbleTestHarness(t)
	defer h.close()

	txn := h.prepare("xid-1", 0)
	assert.IsType(t, common.PreparedTransactionError{}, h.s.Forget(txn.Token()), "in doubt transaction can't be forgotten")
	assert.Nil(t, h.s.HeuristicRollback(txn.Token()))

	_, err := h.s.Get(test.TestKeys[0])
	assert.IsType(t, common.NotFoundError{}, err)

	err = txn.Rollback()
	he, ok := err.(common.HeuristicError)
	require.True(t, ok)
	assert.Equal(t, common.OutcomeRolledBack, he.Outcome)

	assert.Nil(t, txn.Forget())
	assert.Empty(t, h.prepared())
}

func TestPreparedRecordEncoding(t *testing.T) {
	rec := &preparedRecord{outcome: common.OutcomeMixed, xid: []byte("xid"), repr: []byte("repr")}
	got, err := decodePreparedRecord(rec.encode())
	require.Nil(t, err)
	assert.Equal(t, rec, got)

	_, err = decodePreparedRecord([]byte{byte(common.OutcomeNone), 10, 'x'})
	assert.IsType(t, common.CorruptionError{}, err, "xid length beyond the value should be rejected")
	_, err = decodePreparedRecord([]byte{42, 0})
	assert.IsType(t, common.CorruptionError{}, err, "unknown outcome should be rejected")
}

func TestPrefixUpperBound(t *testing.T) {
	assert.Equal(t, []byte("/xa/prep0"), prefixUpperBound([]byte(preparedPrefix)))
	assert.Equal(t, []byte{0x01}, prefixUpperBound([]byte{0x00, 0xff}))
	assert.Nil(t, prefixUpperBound([]byte{0xff}))
}

func TestClosedStore(t *testing.T) {
	h := newPebbleTestHarness(t)
	txn := h.s.BeginTxn()
	assert.Nil(t, txn.Set(test.TestKeys[0], test.TestValues[0]))
	assert.Nil(t, h.s.Close())

	_, err := txn.Prepare([]byte("xid"))
	assert.IsType(t, common.ClosedStorageError{}, err)
	_, err = h.s.Get(test.TestKeys[0])
	assert.IsType(t, common.ClosedStorageError{}, err)
	assert.IsType(t, common.ClosedStorageError{}, h.s.Close())
}
