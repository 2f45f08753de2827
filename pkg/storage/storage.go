package storage

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/dr0pdb/icecanexa/internal/common"
	log "github.com/sirupsen/logrus"
)

const (
	defaultSkipListHeight = 18
)

// PreparedTxn describes a durably prepared transaction.
type PreparedTxn struct {
	Token   uint64
	Xid     []byte
	Outcome common.Outcome
}

type preparedTxn struct {
	token   uint64
	xid     []byte
	batch   *WriteBatch
	outcome common.Outcome
}

// Storage is the persistent key-value storage struct
// It contains all the necessary information for the storage
type Storage struct {
	dirname      string
	options      *Options
	ukComparator Comparator

	mu sync.Mutex

	// memtable holds the committed data.
	memtable *memtable

	lock      io.Closer
	logNumber uint64
	logFile   File
	logWriter *logRecordWriter

	seqNum    uint64
	nextToken uint64

	// prepared is the table of durably prepared transactions keyed by token.
	prepared map[uint64]*preparedTxn

	isOpen bool
}

// Open opens the storage.
//
// It obtains a lock on the directory, replays the existing logs and starts a new log.
// Must be called before any other operation.
func (s *Storage) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isOpen {
		return fmt.Errorf("storage at %s is already open", s.dirname)
	}

	if s.options.CreateIfNotExist {
		if err := s.options.Fs.MkdirAll(s.dirname, os.ModePerm); err != nil {
			return err
		}
	}

	lock, err := s.options.Fs.Lock(getDbFileName(s.dirname, lockFileType, 0))
	if err != nil {
		log.WithFields(log.Fields{"dir": s.dirname, "error": err.Error()}).Error("storage::storage::Open; failed to lock the directory")
		return err
	}

	if err = s.recover(); err != nil {
		lock.Close()
		return err
	}

	s.lock = lock
	s.isOpen = true

	log.WithFields(log.Fields{
		"dir":       s.dirname,
		"logNumber": s.logNumber,
		"prepared":  len(s.prepared),
		"keys":      s.memtable.len(),
	}).Info("storage::storage::Open; opened storage")

	return nil
}

// recover replays every log file, opens a fresh log and checkpoints into it.
func (s *Storage) recover() error {
	nums, err := listLogFiles(s.options.Fs, s.dirname)
	if err != nil {
		return err
	}

	s.memtable = newMemtable(newSkipList(defaultSkipListHeight, s.ukComparator), s.ukComparator)
	s.prepared = make(map[uint64]*preparedTxn)
	s.nextToken = 1
	s.seqNum = 0

	var maxNum uint64
	for _, num := range nums {
		if err := s.replayLogFile(num); err != nil {
			return err
		}
		maxNum = num
	}

	s.logNumber = maxNum + 1
	f, err := s.options.Fs.Create(getDbFileName(s.dirname, logFileType, s.logNumber))
	if err != nil {
		return err
	}
	s.logFile = f
	s.logWriter = newLogRecordWriter(f)

	if err := s.checkpoint(); err != nil {
		f.Close()
		return err
	}

	for _, num := range nums {
		if err := s.options.Fs.Remove(getDbFileName(s.dirname, logFileType, num)); err != nil {
			log.WithFields(log.Fields{"logNumber": num, "error": err.Error()}).Warn("storage::storage::recover; failed to remove an obsolete log file")
		}
	}
	return nil
}

func (s *Storage) replayLogFile(num uint64) error {
	name := getDbFileName(s.dirname, logFileType, num)
	f, err := s.options.Fs.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	r := newLogRecordReader(f)
	cnt := 0
	for {
		rec, err := r.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if err == io.ErrUnexpectedEOF || isCorruption(err) {
				log.WithFields(log.Fields{"file": name, "records": cnt, "error": err.Error()}).Warn("storage::storage::replayLogFile; torn log tail, ignoring the rest of the file")
				break
			}
			return err
		}

		wr, err := decodeWalRecord(rec)
		if err != nil {
			log.WithFields(log.Fields{"file": name, "records": cnt, "error": err.Error()}).Error("storage::storage::replayLogFile; undecodable log record")
			return err
		}
		if err := s.applyRecord(wr); err != nil {
			return err
		}
		cnt++
	}

	if s.options.Verbose {
		log.WithFields(log.Fields{"file": name, "records": cnt}).Debug("storage::storage::replayLogFile; replayed log file")
	}
	return nil
}

func isCorruption(err error) bool {
	_, ok := err.(common.CorruptionError)
	return ok
}

// applyRecord applies a logical record to the in-memory state.
// requires s.mu.
func (s *Storage) applyRecord(r *walRecord) error {
	switch r.kind {
	case recordKindBatch:
		s.memtable.apply(r.batch)
		s.seqNum += uint64(r.batch.Count())

	case recordKindPrepare:
		s.prepared[r.token] = &preparedTxn{token: r.token, xid: r.xid, batch: r.batch}
		if r.token >= s.nextToken {
			s.nextToken = r.token + 1
		}

	case recordKindCommitPrepared:
		p, ok := s.prepared[r.token]
		if !ok {
			return common.NewCorruptionError(fmt.Sprintf("commit of unknown prepared transaction %d", r.token))
		}
		s.memtable.apply(p.batch)
		s.seqNum += uint64(p.batch.Count())
		delete(s.prepared, r.token)

	case recordKindAbortPrepared, recordKindForget:
		if _, ok := s.prepared[r.token]; !ok {
			return common.NewCorruptionError(fmt.Sprintf("unknown prepared transaction %d", r.token))
		}
		delete(s.prepared, r.token)

	case recordKindHeuristic:
		p, ok := s.prepared[r.token]
		if !ok {
			return common.NewCorruptionError(fmt.Sprintf("heuristic outcome of unknown prepared transaction %d", r.token))
		}
		if r.outcome == common.OutcomeCommitted {
			s.memtable.apply(p.batch)
			s.seqNum += uint64(p.batch.Count())
		}
		p.outcome = r.outcome
	}
	return nil
}

// checkpoint writes the whole in-memory state into the current log.
// prepared records go first so that the data batch is applied last on replay.
// requires s.mu.
func (s *Storage) checkpoint() error {
	for _, p := range s.sortedPrepared() {
		batch := p.batch
		if p.outcome != common.OutcomeNone {
			// the batch is no longer needed once the outcome is decided.
			batch = &WriteBatch{}
			p.batch = batch
		}
		if err := s.logWriter.writeRecord((&walRecord{kind: recordKindPrepare, token: p.token, xid: p.xid, batch: batch}).encode()); err != nil {
			return err
		}
		if p.outcome != common.OutcomeNone {
			if err := s.logWriter.writeRecord((&walRecord{kind: recordKindHeuristic, token: p.token, outcome: p.outcome}).encode()); err != nil {
				return err
			}
		}
	}

	if s.memtable.len() > 0 {
		wb := &WriteBatch{}
		itr := s.memtable.newIterator()
		for itr.SeekToFirst(); itr.Valid(); itr.Next() {
			wb.Set(itr.Key(), itr.Value())
		}
		wb.setSeqNum(s.seqNum)
		if err := s.logWriter.writeRecord((&walRecord{kind: recordKindBatch, batch: wb}).encode()); err != nil {
			return err
		}
	}

	return s.logFile.Sync()
}

func (s *Storage) sortedPrepared() []*preparedTxn {
	ps := make([]*preparedTxn, 0, len(s.prepared))
	for _, p := range s.prepared {
		ps = append(ps, p)
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i].token < ps[j].token })
	return ps
}

// writeRecord appends the record to the log.
// requires s.mu.
func (s *Storage) writeRecord(r *walRecord, sync bool) error {
	if err := s.logWriter.writeRecord(r.encode()); err != nil {
		log.WithFields(log.Fields{"kind": r.kind, "token": r.token, "error": err.Error()}).Error("storage::storage::writeRecord; failed to append the log record")
		return common.NewIOError("failed to append the log record", err)
	}
	if sync {
		if err := s.logFile.Sync(); err != nil {
			log.WithFields(log.Fields{"kind": r.kind, "token": r.token, "error": err.Error()}).Error("storage::storage::writeRecord; failed to sync the log")
			return common.NewIOError("failed to sync the log", err)
		}
	}
	return nil
}

// writeBatch durably applies the batch.
// requires s.mu.
func (s *Storage) writeBatch(wb *WriteBatch, sync bool) error {
	if !s.isOpen {
		return common.NewClosedStorageError("storage is closed")
	}
	wb.Data()
	wb.setSeqNum(s.seqNum + 1)
	if err := s.writeRecord(&walRecord{kind: recordKindBatch, batch: wb}, sync || s.options.Sync); err != nil {
		return err
	}
	s.memtable.apply(wb)
	s.seqNum += uint64(wb.Count())
	return nil
}

// Get returns the committed value for the key.
// returns NotFoundError if the key doesn't exist.
func (s *Storage) Get(key []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isOpen {
		return nil, common.NewClosedStorageError("storage is closed")
	}
	val, err := s.memtable.get(key)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), val...), nil
}

// Set sets the value for the key in its own transaction.
func (s *Storage) Set(key, value []byte, opts *WriteOptions) error {
	wb := &WriteBatch{}
	wb.Set(key, value)
	return s.Write(wb, opts)
}

// Delete deletes the key in its own transaction.
func (s *Storage) Delete(key []byte, opts *WriteOptions) error {
	wb := &WriteBatch{}
	wb.Delete(key)
	return s.Write(wb, opts)
}

// Write applies the batch atomically.
func (s *Storage) Write(wb *WriteBatch, opts *WriteOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sync := opts != nil && opts.Sync
	return s.writeBatch(wb, sync)
}

// Scan returns an iterator positioned at the first key >= target.
// The iterator sees writes committed after it was created.
func (s *Storage) Scan(target []byte) Iterator {
	s.mu.Lock()
	defer s.mu.Unlock()

	itr := s.memtable.newIterator()
	itr.Seek(target)
	return itr
}

// BeginTxn starts a new transaction.
func (s *Storage) BeginTxn() *Txn {
	return newTxn(s)
}

// Prepared returns the durably prepared transactions ordered by token.
func (s *Storage) Prepared() []PreparedTxn {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []PreparedTxn
	for _, p := range s.sortedPrepared() {
		res = append(res, PreparedTxn{
			Token:   p.token,
			Xid:     append([]byte(nil), p.xid...),
			Outcome: p.outcome,
		})
	}
	return res
}

// Resume returns a handle to the prepared transaction with the given token.
func (s *Storage) Resume(token uint64) (*Txn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isOpen {
		return nil, common.NewClosedStorageError("storage is closed")
	}
	if _, ok := s.prepared[token]; !ok {
		return nil, common.NewNotFoundError(fmt.Sprintf("no prepared transaction with token %d", token))
	}
	return &Txn{s: s, state: txnPrepared, token: token, writes: make(map[string]txnWrite)}, nil
}

// HeuristicCommit commits the prepared transaction on the operator's decision.
func (s *Storage) HeuristicCommit(token uint64) error {
	return s.heuristicallyComplete(token, common.OutcomeCommitted)
}

// HeuristicRollback rolls back the prepared transaction on the operator's decision.
func (s *Storage) HeuristicRollback(token uint64) error {
	return s.heuristicallyComplete(token, common.OutcomeRolledBack)
}

func (s *Storage) heuristicallyComplete(token uint64, outcome common.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isOpen {
		return common.NewClosedStorageError("storage is closed")
	}
	p, ok := s.prepared[token]
	if !ok {
		return common.NewNotFoundError(fmt.Sprintf("no prepared transaction with token %d", token))
	}
	if p.outcome != common.OutcomeNone {
		return common.NewHeuristicError(p.outcome, "transaction is already heuristically completed")
	}

	if err := s.writeRecord(&walRecord{kind: recordKindHeuristic, token: token, outcome: outcome}, true); err != nil {
		return err
	}
	if outcome == common.OutcomeCommitted {
		s.memtable.apply(p.batch)
		s.seqNum += uint64(p.batch.Count())
	}
	p.outcome = outcome

	log.WithFields(log.Fields{"token": token, "outcome": outcome.String()}).Warn("storage::storage::heuristicallyComplete; prepared transaction completed heuristically")
	return nil
}

// Forget discards a heuristically completed transaction.
func (s *Storage) Forget(token uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forget(token)
}

// requires s.mu.
func (s *Storage) forget(token uint64) error {
	if !s.isOpen {
		return common.NewClosedStorageError("storage is closed")
	}
	p, ok := s.prepared[token]
	if !ok {
		return common.NewNotFoundError(fmt.Sprintf("no prepared transaction with token %d", token))
	}
	if p.outcome == common.OutcomeNone {
		return common.NewPreparedTransactionError("transaction is in doubt and can't be forgotten")
	}

	if p.outcome != common.OutcomeHazard {
		if err := s.writeRecord(&walRecord{kind: recordKindForget, token: token}, true); err != nil {
			return err
		}
	}
	delete(s.prepared, token)
	return nil
}

// Close closes the storage and releases the directory lock.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isOpen {
		return common.NewClosedStorageError("storage is already closed")
	}
	s.isOpen = false

	var firstErr error
	if err := s.logWriter.close(); err != nil {
		firstErr = err
	}
	if err := s.logFile.Sync(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.logFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.lock.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	log.WithFields(log.Fields{"dir": s.dirname}).Info("storage::storage::Close; closed storage")
	return firstErr
}

// NewStorageWithCustomComparator creates a new persistent storage in the given directory.
//
// Open obtains a lock on the directory hence two processes can't access this directory simultaneously.
// Keys are ordered using the given custom comparator.
func NewStorageWithCustomComparator(dirname string, ukComparator Comparator, options *Options) (*Storage, error) {
	if options == nil {
		options = &Options{}
	}
	opts := *options
	if opts.Fs == nil {
		opts.Fs = DefaultFileSystem
	}
	if ukComparator == nil {
		ukComparator = DefaultComparator
	}

	return &Storage{
		dirname:      dirname,
		options:      &opts,
		ukComparator: ukComparator,
	}, nil
}

// NewStorage creates a new persistent storage in the given directory.
func NewStorage(dirname string, options *Options) (*Storage, error) {
	return NewStorageWithCustomComparator(dirname, DefaultComparator, options)
}
