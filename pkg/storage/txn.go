package storage

import (
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

type txnWrite struct {
	value   []byte
	deleted bool
}

// Txn is a transaction on the storage.
//
// Writes are buffered in the transaction until it is committed.
// A Txn is not safe for concurrent use.
type Txn struct {
	s *Storage

	batch  WriteBatch
	writes map[string]txnWrite

	state txnState

	// token of the prepare record. valid in txnPrepared.
	token uint64
}

func newTxn(s *Storage) *Txn {
	return &Txn{
		s:      s,
		writes: make(map[string]txnWrite),
		state:  txnActive,
	}
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

// Get returns the value of the key as seen by the transaction.
func (t *Txn) Get(key []byte) ([]byte, error) {
	if t.state == txnCommitted || t.state == txnAborted {
		return nil, t.checkWritable()
	}
	if w, ok := t.writes[string(key)]; ok {
		if w.deleted {
			return nil, common.NewNotFoundError("key deleted in the transaction")
		}
		return append([]byte(nil), w.value...), nil
	}
	return t.s.Get(key)
}

// Set buffers a write of the key.
func (t *Txn) Set(key, value []byte) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	t.batch.Set(key, value)
	t.writes[string(key)] = txnWrite{value: append([]byte(nil), value...)}
	return nil
}

// Delete buffers a delete of the key.
func (t *Txn) Delete(key []byte) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	t.batch.Delete(key)
	t.writes[string(key)] = txnWrite{deleted: true}
	return nil
}

// Dirty reports if the transaction modified anything.
func (t *Txn) Dirty() bool {
	return t.batch.Count() > 0
}

// Token returns the token of the prepare record. Zero if the transaction isn't prepared.
func (t *Txn) Token() uint64 {
	if t.state != txnPrepared {
		return 0
	}
	return t.token
}

// Prepare durably records the transaction as prepared, tagged with xid.
// returns the token identifying the prepare record.
func (t *Txn) Prepare(xid []byte) (uint64, error) {
	if err := t.checkWritable(); err != nil {
		return 0, err
	}

	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isOpen {
		return 0, common.NewClosedStorageError("storage is closed")
	}

	token := s.nextToken
	batch := &WriteBatch{data: append([]byte(nil), t.batch.Data()...)}
	if err := s.writeRecord(&walRecord{kind: recordKindPrepare, token: token, xid: xid, batch: batch}, true); err != nil {
		return 0, err
	}
	s.nextToken++
	s.prepared[token] = &preparedTxn{token: token, xid: append([]byte(nil), xid...), batch: batch}

	t.state = txnPrepared
	t.token = token

	if s.options.Verbose {
		log.WithFields(log.Fields{"token": token, "records": batch.Count()}).Debug("storage::txn::Prepare; prepared transaction")
	}
	return token, nil
}

// Commit commits the transaction.
//
// A prepared transaction whose outcome was decided heuristically returns HeuristicError.
// A failure to log the commit of a prepared transaction returns HeuristicError with OutcomeHazard.
func (t *Txn) Commit() error {
	switch t.state {
	case txnCommitted, txnAborted:
		return t.checkWritable()
	case txnPrepared:
		return t.commitPrepared()
	}

	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.Dirty() {
		if err := s.writeBatch(&t.batch, true); err != nil {
			return err
		}
	}
	t.state = txnCommitted
	return nil
}

func (t *Txn) commitPrepared() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isOpen {
		return common.NewClosedStorageError("storage is closed")
	}
	p, ok := s.prepared[t.token]
	if !ok {
		return common.NewNotFoundError("prepared transaction not found")
	}
	if p.outcome != common.OutcomeNone {
		return common.NewHeuristicError(p.outcome, "transaction was completed heuristically")
	}

	if err := s.writeRecord(&walRecord{kind: recordKindCommitPrepared, token: t.token}, true); err != nil {
		// the commit record may or may not have reached the disk.
		p.outcome = common.OutcomeHazard
		log.WithFields(log.Fields{"token": t.token, "error": err.Error()}).Error("storage::txn::commitPrepared; commit outcome unknown")
		return common.NewHazardError("commit outcome is unknown", err)
	}

	s.memtable.apply(p.batch)
	s.seqNum += uint64(p.batch.Count())
	delete(s.prepared, t.token)
	t.state = txnCommitted
	return nil
}

// Rollback discards the transaction.
func (t *Txn) Rollback() error {
	switch t.state {
	case txnCommitted, txnAborted:
		return t.checkWritable()
	case txnActive:
		t.state = txnAborted
		return nil
	}

	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isOpen {
		return common.NewClosedStorageError("storage is closed")
	}
	p, ok := s.prepared[t.token]
	if !ok {
		return common.NewNotFoundError("prepared transaction not found")
	}
	if p.outcome != common.OutcomeNone {
		return common.NewHeuristicError(p.outcome, "transaction was completed heuristically")
	}

	if err := s.writeRecord(&walRecord{kind: recordKindAbortPrepared, token: t.token}, true); err != nil {
		return err
	}
	delete(s.prepared, t.token)
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
	t.state = txnAborted
	return nil
}
