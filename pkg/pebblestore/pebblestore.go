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

// Package pebblestore is a transactional key-value store with durable prepared
// transactions on top of pebble.
package pebblestore

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/dr0pdb/icecanexa/internal/common"
	log "github.com/sirupsen/logrus"
)

// Key prefixes. numeric ids are 8 bytes big endian so that they sort numerically.
const (
	dataPrefix     = "/data/"         // /data/{user key}
	preparedPrefix = "/xa/prep/"      // /xa/prep/{8 bytes token}
	tokenKey       = "/xa/meta/token" // next token to allocate
)

// Options for opening a Store.
type Options struct {
	// CacheSizeMB is the size of the block cache.
	CacheSizeMB int64

	// FS is the file system pebble runs on. nil means the OS file system.
	FS vfs.FS

	// Verbose enables the debug logs of the store.
	Verbose bool
}

// PreparedTxn describes a durably prepared transaction.
type PreparedTxn struct {
	Token   uint64
	Xid     []byte
	Outcome common.Outcome
}

// Store is a pebble database with a table of durably prepared transactions.
type Store struct {
	dir     string
	db      *pebble.DB
	verbose bool

	// mu guards the prepared records, the token counter and closed.
	mu        sync.RWMutex
	nextToken uint64
	closed    bool

	// hazards holds tokens whose commit failed with an unknown outcome.
	// it is not durable: after a restart those transactions are in doubt again.
	hazards map[uint64]bool

	// forgotten holds hazard tokens the caller forgot. hidden until the next restart.
	forgotten map[uint64]bool
}

// pebbleLogger routes pebble's logs to logrus.
type pebbleLogger struct{}

func (l *pebbleLogger) Infof(format string, args ...interface{}) {
	log.Debugf("pebblestore::pebble; "+format, args...)
}

func (l *pebbleLogger) Errorf(format string, args ...interface{}) {
	log.Errorf("pebblestore::pebble; "+format, args...)
}

func (l *pebbleLogger) Fatalf(format string, args ...interface{}) {
	log.Fatalf("pebblestore::pebble; "+format, args...)
}

// Open opens or creates the store in dir.
func Open(dir string, opts *Options) (*Store, error) {
	if opts == nil {
		opts = &Options{}
	}
	cacheSize := opts.CacheSizeMB
	if cacheSize <= 0 {
		cacheSize = 8
	}
	cache := pebble.NewCache(cacheSize << 20)
	defer cache.Unref()

	pebbleOpts := &pebble.Options{
		Cache:  cache,
		Logger: &pebbleLogger{},
		Levels: []pebble.LevelOptions{
			{FilterPolicy: bloom.FilterPolicy(10)},
		},
	}
	if opts.FS != nil {
		pebbleOpts.FS = opts.FS
	}

	db, err := pebble.Open(dir, pebbleOpts)
	if err != nil {
		log.WithFields(log.Fields{"dir": dir, "error": err.Error()}).Error("pebblestore::pebblestore::Open; failed to open pebble")
		return nil, fmt.Errorf("failed to open pebble db: %w", err)
	}

	s := &Store{
		dir:       dir,
		db:        db,
		verbose:   opts.Verbose,
		nextToken: 1,
		hazards:   make(map[uint64]bool),
		forgotten: make(map[uint64]bool),
	}

	val, err := s.getValueCopy([]byte(tokenKey))
	if err == nil {
		if len(val) != 8 {
			db.Close()
			return nil, common.NewCorruptionError("bad token counter")
		}
		s.nextToken = binary.BigEndian.Uint64(val)
	} else if err != pebble.ErrNotFound {
		db.Close()
		return nil, err
	}

	log.WithFields(log.Fields{"dir": dir, "nextToken": s.nextToken}).Info("pebblestore::pebblestore::Open; opened store")
	return s, nil
}

func dataKey(key []byte) []byte {
	k := make([]byte, len(dataPrefix)+len(key))
	n := copy(k, dataPrefix)
	copy(k[n:], key)
	return k
}

func preparedKey(token uint64) []byte {
	k := make([]byte, len(preparedPrefix)+8)
	n := copy(k, preparedPrefix)
	binary.BigEndian.PutUint64(k[n:], token)
	return k
}

// prefixUpperBound returns the smallest key greater than every key with the prefix.
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}
	return nil
}

// preparedRecord is the value stored under a prepared key.
// outcome | xid len (uvarint) | xid | batch repr
type preparedRecord struct {
	outcome common.Outcome
	xid     []byte
	repr    []byte
}

func (r *preparedRecord) encode() []byte {
	var lb [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lb[:], uint64(len(r.xid)))
	buf := make([]byte, 0, 1+n+len(r.xid)+len(r.repr))
	buf = append(buf, byte(r.outcome))
	buf = append(buf, lb[:n]...)
	buf = append(buf, r.xid...)
	return append(buf, r.repr...)
}

func decodePreparedRecord(b []byte) (*preparedRecord, error) {
	if len(b) < 2 {
		return nil, common.NewCorruptionError("prepared record too short")
	}
	r := &preparedRecord{outcome: common.Outcome(b[0])}
	if !r.outcome.Valid() {
		return nil, common.NewCorruptionError("bad outcome in prepared record")
	}
	l, n := binary.Uvarint(b[1:])
	if n <= 0 || l > uint64(len(b)-1-n) {
		return nil, common.NewCorruptionError("bad xid length in prepared record")
	}
	off := 1 + n
	r.xid = append([]byte(nil), b[off:off+int(l)]...)
	r.repr = append([]byte(nil), b[off+int(l):]...)
	return r, nil
}

// getValueCopy reads a key and returns a copy of the value
func (s *Store) getValueCopy(key []byte) ([]byte, error) {
	val, closer, err := s.db.Get(key)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	result := make([]byte, len(val))
	copy(result, val)
	return result, nil
}

// readPrepared reads the prepared record of token.
// requires s.mu.
func (s *Store) readPrepared(token uint64) (*preparedRecord, error) {
	if s.forgotten[token] {
		return nil, common.NewNotFoundError(fmt.Sprintf("no prepared transaction with token %d", token))
	}
	val, err := s.getValueCopy(preparedKey(token))
	if err == pebble.ErrNotFound {
		return nil, common.NewNotFoundError(fmt.Sprintf("no prepared transaction with token %d", token))
	}
	if err != nil {
		return nil, common.NewIOError("failed to read the prepared record", err)
	}
	return decodePreparedRecord(val)
}

// Get returns the committed value of the key.
func (s *Store) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, common.NewClosedStorageError("store is closed")
	}
	val, err := s.getValueCopy(dataKey(key))
	if err == pebble.ErrNotFound {
		return nil, common.NewNotFoundError("key not found")
	}
	return val, err
}

// Set sets the value of the key in its own transaction.
func (s *Store) Set(key, value []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return common.NewClosedStorageError("store is closed")
	}
	return s.db.Set(dataKey(key), value, pebble.Sync)
}

// Delete deletes the key in its own transaction.
func (s *Store) Delete(key []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return common.NewClosedStorageError("store is closed")
	}
	return s.db.Delete(dataKey(key), pebble.Sync)
}

// BeginTxn starts a new transaction.
func (s *Store) BeginTxn() *Txn {
	return &Txn{s: s, batch: s.db.NewIndexedBatch(), state: txnActive}
}

// Prepared returns the durably prepared transactions ordered by token.
func (s *Store) Prepared() ([]PreparedTxn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, common.NewClosedStorageError("store is closed")
	}

	prefix := []byte(preparedPrefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var res []PreparedTxn
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) != len(preparedPrefix)+8 {
			continue
		}
		token := binary.BigEndian.Uint64(key[len(preparedPrefix):])
		if s.forgotten[token] {
			continue
		}
		rec, err := decodePreparedRecord(iter.Value())
		if err != nil {
			return nil, err
		}
		outcome := rec.outcome
		if s.hazards[token] {
			outcome = common.OutcomeHazard
		}
		res = append(res, PreparedTxn{Token: token, Xid: rec.xid, Outcome: outcome})
	}
	return res, iter.Error()
}

// Resume returns a handle to the prepared transaction with the given token.
func (s *Store) Resume(token uint64) (*Txn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, common.NewClosedStorageError("store is closed")
	}
	if _, err := s.readPrepared(token); err != nil {
		return nil, err
	}
	return &Txn{s: s, state: txnPrepared, token: token}, nil
}

// HeuristicCommit commits the prepared transaction on the operator's decision.
func (s *Store) HeuristicCommit(token uint64) error {
	return s.heuristicallyComplete(token, common.OutcomeCommitted)
}

// HeuristicRollback rolls back the prepared transaction on the operator's decision.
func (s *Store) HeuristicRollback(token uint64) error {
	return s.heuristicallyComplete(token, common.OutcomeRolledBack)
}

func (s *Store) heuristicallyComplete(token uint64, outcome common.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return common.NewClosedStorageError("store is closed")
	}
	if s.hazards[token] {
		return common.NewHeuristicError(common.OutcomeHazard, "transaction outcome is unknown")
	}
	rec, err := s.readPrepared(token)
	if err != nil {
		return err
	}
	if rec.outcome != common.OutcomeNone {
		return common.NewHeuristicError(rec.outcome, "transaction is already heuristically completed")
	}

	wb := s.db.NewBatch()
	defer wb.Close()

	if outcome == common.OutcomeCommitted {
		if err := s.applyRepr(wb, rec.repr); err != nil {
			return err
		}
	}
	decided := &preparedRecord{outcome: outcome, xid: rec.xid}
	if err := wb.Set(preparedKey(token), decided.encode(), nil); err != nil {
		return err
	}
	if err := wb.Commit(pebble.Sync); err != nil {
		return common.NewIOError("failed to record the heuristic outcome", err)
	}

	log.WithFields(log.Fields{"token": token, "outcome": outcome.String()}).Warn("pebblestore::pebblestore::heuristicallyComplete; prepared transaction completed heuristically")
	return nil
}

// applyRepr adds the operations of an encoded batch to wb.
func (s *Store) applyRepr(wb *pebble.Batch, repr []byte) error {
	replay := s.db.NewBatch()
	defer replay.Close()

	if err := replay.SetRepr(append([]byte(nil), repr...)); err != nil {
		return common.NewCorruptionError(fmt.Sprintf("bad batch in prepared record: %s", err.Error()))
	}
	return wb.Apply(replay, nil)
}

// Forget discards a heuristically completed transaction.
func (s *Store) Forget(token uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return common.NewClosedStorageError("store is closed")
	}
	if s.hazards[token] {
		// the prepared record stays. the transaction is in doubt again after a restart.
		delete(s.hazards, token)
		s.forgotten[token] = true
		return nil
	}
	rec, err := s.readPrepared(token)
	if err != nil {
		return err
	}
	if rec.outcome == common.OutcomeNone {
		return common.NewPreparedTransactionError("transaction is in doubt and can't be forgotten")
	}
	if err := s.db.Delete(preparedKey(token), pebble.Sync); err != nil {
		return common.NewIOError("failed to delete the prepared record", err)
	}
	return nil
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return common.NewClosedStorageError("store is already closed")
	}
	s.closed = true

	log.WithFields(log.Fields{"dir": s.dir}).Info("pebblestore::pebblestore::Close; closing store")
	return s.db.Close()
}
