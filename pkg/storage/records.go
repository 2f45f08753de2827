package storage

import (
	"encoding/binary"

	"github.com/dr0pdb/icecanexa/internal/common"
)

// recordKind identifies a logical record in the write ahead log.
type recordKind uint8

const (
	// This is part of the file format and stored on the disk. Don't change
	recordKindBatch recordKind = iota + 1
	recordKindPrepare
	recordKindCommitPrepared
	recordKindAbortPrepared
	recordKindHeuristic
	recordKindForget
)

// walRecord is a decoded logical log record.
//
// batch: kind | batch data
// prepare: kind | token | xid len | xid | batch data
// commitPrepared, abortPrepared, forget: kind | token
// heuristic: kind | token | outcome
type walRecord struct {
	kind    recordKind
	token   uint64
	xid     []byte
	batch   *WriteBatch
	outcome common.Outcome
}

func (r *walRecord) encode() []byte {
	switch r.kind {
	case recordKindBatch:
		data := r.batch.Data()
		buf := make([]byte, 0, 1+len(data))
		buf = append(buf, byte(r.kind))
		return append(buf, data...)
	case recordKindPrepare:
		data := r.batch.Data()
		buf := make([]byte, 9, 9+binary.MaxVarintLen64+len(r.xid)+len(data))
		buf[0] = byte(r.kind)
		binary.BigEndian.PutUint64(buf[1:9], r.token)
		var lb [binary.MaxVarintLen64]byte
		n := binary.PutUvarint(lb[:], uint64(len(r.xid)))
		buf = append(buf, lb[:n]...)
		buf = append(buf, r.xid...)
		return append(buf, data...)
	case recordKindHeuristic:
		buf := make([]byte, 10)
		buf[0] = byte(r.kind)
		binary.BigEndian.PutUint64(buf[1:9], r.token)
		buf[9] = byte(r.outcome)
		return buf
	default:
		buf := make([]byte, 9)
		buf[0] = byte(r.kind)
		binary.BigEndian.PutUint64(buf[1:9], r.token)
		return buf
	}
}

func decodeWalRecord(b []byte) (*walRecord, error) {
	if len(b) == 0 {
		return nil, common.NewCorruptionError("empty log record")
	}
	r := &walRecord{kind: recordKind(b[0])}
	b = b[1:]

	if r.kind == recordKindBatch {
		wb, err := newWriteBatchFromData(b)
		if err != nil {
			return nil, err
		}
		r.batch = wb
		return r, nil
	}

	if r.kind < recordKindPrepare || r.kind > recordKindForget {
		return nil, common.NewCorruptionError("unknown log record kind")
	}
	if len(b) < 8 {
		return nil, common.NewCorruptionError("log record too short")
	}
	r.token = binary.BigEndian.Uint64(b[:8])
	b = b[8:]

	switch r.kind {
	case recordKindPrepare:
		l, n := binary.Uvarint(b)
		if n <= 0 || l > uint64(len(b)-n) {
			return nil, common.NewCorruptionError("bad xid length in prepare record")
		}
		r.xid = append([]byte(nil), b[n:n+int(l)]...)
		wb, err := newWriteBatchFromData(b[n+int(l):])
		if err != nil {
			return nil, err
		}
		r.batch = wb
	case recordKindHeuristic:
		if len(b) != 1 {
			return nil, common.NewCorruptionError("bad heuristic record")
		}
		r.outcome = common.Outcome(b[0])
		if r.outcome == common.OutcomeNone || !r.outcome.Valid() {
			return nil, common.NewCorruptionError("bad heuristic outcome")
		}
	default:
		if len(b) != 0 {
			return nil, common.NewCorruptionError("trailing bytes in log record")
		}
	}
	return r, nil
}
