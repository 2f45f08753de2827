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
	"encoding/binary"

	"github.com/cockroachdb/pebble"
	"github.com/dr0pdb/icecanexa/internal/common"
	log "github.com/sirupsen/logrus"
)

type txnState int

const (
	txnActive txnState = iota
	txnPrepared
	txnCommitted
	txnAborted
)

// Txn is a transaction on the store backed by an indexed batch.
// A Txn is not safe for concurrent use.
type Txn struct {
	s     *Store
	batch *pebble.Batch
	state txnState
	token uint64
}

func (t *Txn) checkWritable() error {
	switch t.state {
	case txnPrepared:
		return common.NewPreparedTransactionError("transaction is prepared")
	case txnCommitted:
		return common.NewCommittedTransactionError("transaction is committed")
	case txnAborted:
		return common.NewAbortedTransactionError("transaction is aborted")
	}
	return nil
}

func (t *Txn) release() {
	if t.batch != nil {
		t.batch.Close()
		t.batch = nil
	}
}

// Get returns the value of the key as seen by the transaction.
func (t *Txn) Get(key []byte) ([]byte, error) {
	if t.state == txnCommitted || t.state == txnAborted {
		return nil, t.checkWritable()
	}
	// a resumed prepared transaction has no batch to read through.
	if t.batch == nil {
		return t.s.Get(key)
	}

	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if t.s.closed {
		return nil, common.NewClosedStorageError("store is closed")
	}

	val, closer, err := t.batch.Get(dataKey(key))
	if err == pebble.ErrNotFound {
		return nil, common.NewNotFoundError("key not found")
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

// Set buffers a write of the key.
func (t *Txn) Set(key, value []byte) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	return t.batch.Set(dataKey(key), value, nil)
}

// Delete buffers a delete of the key.
func (t *Txn) Delete(key []byte) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	return t.batch.Delete(dataKey(key), nil)
}

// Dirty reports if the transaction modified anything.
func (t *Txn) Dirty() bool {
	return t.batch != nil && !t.batch.Empty()
}

// Token returns the token of the prepare record. Zero if the transaction isn't prepared.
func (t *Txn) Token() uint64 {
	if t.state != txnPrepared {
		return 0
	}
	return t.token
}

// Prepare durably stores the batch of the transaction in a prepared record tagged with xid.
// returns the token identifying the record.
func (t *Txn) Prepare(xid []byte) (uint64, error) {
	if err := t.checkWritable(); err != nil {
		return 0, err
	}

	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, common.NewClosedStorageError("store is closed")
	}

	token := s.nextToken
	rec := &preparedRecord{xid: xid, repr: append([]byte(nil), t.batch.Repr()...)}
	var next [8]byte
	binary.BigEndian.PutUint64(next[:], token+1)

	wb := s.db.NewBatch()
	defer wb.Close()
	if err := wb.Set(preparedKey(token), rec.encode(), nil); err != nil {
		return 0, err
	}
	if err := wb.Set([]byte(tokenKey), next[:], nil); err != nil {
		return 0, err
	}
	if err := wb.Commit(pebble.Sync); err != nil {
		log.WithFields(log.Fields{"token": token, "error": err.Error()}).Error("pebblestore::txn::Prepare; failed to write the prepared record")
		return 0, common.NewIOError("failed to write the prepared record", err)
	}
	s.nextToken++

	t.state = txnPrepared
	t.token = token

	if s.verbose {
		log.WithFields(log.Fields{"token": token, "records": t.batch.Count()}).Debug("pebblestore::txn::Prepare; prepared transaction")
	}
	return token, nil
}

// Commit commits the transaction.
//
// A prepared transaction whose outcome was decided heuristically returns HeuristicError.
// A failure to commit a prepared transaction returns HeuristicError with OutcomeHazard.
func (t *Txn) Commit() error {
	switch t.state {
	case txnCommitted, txnAborted:
		return t.checkWritable()
	case txnPrepared:
		return t.commitPrepared()
	}

	s := t.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return common.NewClosedStorageError("store is closed")
	}
	if t.Dirty() {
		if err := t.batch.Commit(pebble.Sync); err != nil {
			return common.NewIOError("failed to commit the transaction", err)
		}
	}
	t.release()
	t.state = txnCommitted
	return nil
}

func (t *Txn) commitPrepared() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return common.NewClosedStorageError("store is closed")
	}
	if s.hazards[t.token] {
		return common.NewHeuristicError(common.OutcomeHazard, "transaction outcome is unknown")
	}
	rec, err := s.readPrepared(t.token)
	if err != nil {
		return err
	}
	if rec.outcome != common.OutcomeNone {
		return common.NewHeuristicError(rec.outcome, "transaction was completed heuristically")
	}

	wb := s.db.NewBatch()
	defer wb.Close()
	if err := s.applyRepr(wb, rec.repr); err != nil {
		return err
	}
	if err := wb.Delete(preparedKey(t.token), nil); err != nil {
		return err
	}
	if err := wb.Commit(pebble.Sync); err != nil {
		s.hazards[t.token] = true
		log.WithFields(log.Fields{"token": t.token, "error": err.Error()}).Error("pebblestore::txn::commitPrepared; commit outcome unknown")
		return common.NewHazardError("commit outcome is unknown", common.NewIOError("failed to commit the prepared batch", err))
	}

	t.release()
	t.state = txnCommitted
	return nil
}

// Rollback discards the transaction.
func (t *Txn) Rollback() error {
	switch t.state {
	case txnCommitted, txnAborted:
		return t.checkWritable()
	case txnActive:
		t.release()
		t.state = txnAborted
		return nil
	}

	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return common.NewClosedStorageError("store is closed")
	}
	if s.hazards[t.token] {
		return common.NewHeuristicError(common.OutcomeHazard, "transaction outcome is unknown")
	}
	rec, err := s.readPrepared(t.token)
	if err != nil {
		return err
	}
	if rec.outcome != common.OutcomeNone {
		return common.NewHeuristicError(rec.outcome, "transaction was completed heuristically")
	}
	if err := s.db.Delete(preparedKey(t.token), pebble.Sync); err != nil {
		return common.NewIOError("failed to delete the prepared record", err)
	}

	t.release()
	t.state = txnAborted
	return nil
}

// HeuristicallyComplete records an operator decision for the prepared transaction.
func (t *Txn) HeuristicallyComplete(commit bool) error {
	if t.state != txnPrepared {
		return common.NewPreparedTransactionError("only a prepared transaction can be completed heuristically")
	}
	if commit {
		return t.s.HeuristicCommit(t.token)
	}
	return t.s.HeuristicRollback(t.token)
}

// Forget discards the heuristically completed transaction.
func (t *Txn) Forget() error {
	if t.state != txnPrepared {
		return common.NewPreparedTransactionError("only a heuristically completed transaction can be forgotten")
	}
	if err := t.s.Forget(t.token); err != nil {
		return err
	}
	t.release()
	t.state = txnAborted
	return nil
}
