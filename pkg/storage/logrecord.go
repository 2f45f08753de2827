package storage

import (
	"encoding/binary"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/dr0pdb/icecanexa/internal/common"
	log "github.com/sirupsen/logrus"
)

// The log record format details can be found at the below link.
// https://github.com/google/leveldb/blob/master/doc/log_format.md
//
// The checksum is the low 32 bits of the xxhash64 of the chunk type and payload.
const (
	blockSize  = 32 * 1024
	headerSize = 7
)

const (
	fullChunkType = iota + 1
	firstChunkType
	middleChunkType
	lastChunkType
)

func chunkChecksum(typeAndPayload []byte) uint32 {
	return uint32(xxhash.Sum64(typeAndPayload))
}

type logRecordWriter struct {
	// w is the writer that logRecordWriter writes to
	w io.Writer

	// seq is the sequence number of the current record.
	seq int

	// buffer
	buf [blockSize]byte

	// buf[lo:hi] is the current chunk position including the header
	lo, hi int

	// buf[:sofar] has been written to w. can be stale if flush hasn't been called.
	sofar int

	// baseOffset is the offset in w at which the writing of log record started.
	baseOffset int64

	// blockNumber is the block that is currently stored in buf
	blockNumber int64

	lastRecordOffset int64

	// pending indicates if there is a chunk that is yet to written but is buffered.
	pending bool

	// first indicates if the current chunk is the first chunk of the record.
	first bool

	// err is any error encountered during any log record writer operation.
	// it is sticky: once set, every following operation fails with it.
	err error
}

// fillHeaders fill the header entry in the buffer for the current chunk.
func (lrw *logRecordWriter) fillHeaders(lastChunk bool) {
	if lrw.lo+headerSize > lrw.hi || lrw.hi > blockSize {
		log.WithFields(log.Fields{"lo": lrw.lo, "hi": lrw.hi}).Error("storage::logrecord: fillHeaders; Inconsistent state found.")
		panic("storage::logrecord::logrecordwriter; inconsistent state found")
	}

	if lastChunk {
		if lrw.first {
			lrw.buf[lrw.lo+6] = fullChunkType
		} else {
			lrw.buf[lrw.lo+6] = lastChunkType
		}
	} else {
		if lrw.first {
			lrw.buf[lrw.lo+6] = firstChunkType
		} else {
			lrw.buf[lrw.lo+6] = middleChunkType
		}
	}

	binary.LittleEndian.PutUint32(lrw.buf[lrw.lo:lrw.lo+4], chunkChecksum(lrw.buf[lrw.lo+6:lrw.hi]))
	binary.LittleEndian.PutUint16(lrw.buf[lrw.lo+4:lrw.lo+6], uint16(lrw.hi-lrw.lo-headerSize))
}

// writePending finishes the pending chunk and writes the unwritten part of the block.
func (lrw *logRecordWriter) writePending() {
	if lrw.err != nil {
		return
	}

	if lrw.pending {
		lrw.fillHeaders(true)
		lrw.pending = false
	}

	_, lrw.err = lrw.w.Write(lrw.buf[lrw.sofar:lrw.hi])
	lrw.sofar = lrw.hi
}

func (lrw *logRecordWriter) writeBlock() {
	_, lrw.err = lrw.w.Write(lrw.buf[lrw.sofar:])
	lrw.lo = 0
	lrw.hi = headerSize
	lrw.sofar = 0
	lrw.blockNumber++
}

// flush finishes the current record and writes everything buffered to w.
// it doesn't sync w.
func (lrw *logRecordWriter) flush() error {
	lrw.seq++
	lrw.writePending()
	return lrw.err
}

// newLogRecordWriter creates a new log record writer.
func newLogRecordWriter(w io.Writer) *logRecordWriter {
	var offset int64
	if s, ok := w.(io.Seeker); ok {
		var err error
		if offset, err = s.Seek(0, io.SeekCurrent); err != nil {
			offset = 0
		}
	}

	return &logRecordWriter{
		w:                w,
		baseOffset:       offset,
		lastRecordOffset: -1,
	}
}

// next returns a io.Writer for the next record.
// the writer is invalidated by the next call to next, flush or close.
func (lrw *logRecordWriter) next() (io.Writer, error) {
	lrw.seq++
	if lrw.err != nil {
		log.WithFields(log.Fields{"error": lrw.err.Error()}).Error("storage::logrecord: next; existing background error found in the log record writer.")
		return nil, lrw.err
	}

	if lrw.pending {
		lrw.fillHeaders(true)
	}

	// move pointers for the next chunk headers
	lrw.lo = lrw.hi
	lrw.hi = lrw.hi + headerSize

	// check if there is enough size to fit in at least the header.
	// check the link at the start for more.
	if lrw.hi > blockSize {
		// fill the rest with zeroes
		for x := lrw.lo; x < blockSize; x++ {
			lrw.buf[x] = 0
		}

		lrw.writeBlock()

		if lrw.err != nil {
			log.WithFields(log.Fields{"error": lrw.err.Error()}).Error("storage::logrecord: next; error in writing the block.")
			return nil, lrw.err
		}
	}

	lrw.lastRecordOffset = lrw.baseOffset + lrw.blockNumber*blockSize + int64(lrw.lo)
	lrw.first = true
	lrw.pending = true
	return singleLogRecordWriter{lrw, lrw.seq}, nil
}

// writeRecord writes p as one record and flushes it.
func (lrw *logRecordWriter) writeRecord(p []byte) error {
	w, err := lrw.next()
	if err != nil {
		return err
	}
	if _, err = w.Write(p); err != nil {
		return err
	}
	return lrw.flush()
}

func (lrw *logRecordWriter) close() error {
	lrw.seq++
	lrw.writePending()
	if lrw.err != nil {
		return lrw.err
	}
	lrw.err = common.NewStaleLogRecordWriterError("closed Log Record Writer")
	return nil
}

type singleLogRecordWriter struct {
	w   *logRecordWriter
	seq int
}

// Write writes a slice of byte to the writer by splitting it into blocks of blocksize.
func (slrw singleLogRecordWriter) Write(p []byte) (int, error) {
	w := slrw.w

	if w.seq != slrw.seq {
		return 0, common.NewStaleLogRecordWriterError("Stale Log Record Writer state")
	}

	if w.err != nil {
		return 0, w.err
	}

	tot := len(p)
	for len(p) > 0 {
		// write if full
		if w.hi == blockSize {
			w.fillHeaders(false)
			w.writeBlock()

			if w.err != nil {
				return 0, w.err
			}

			w.first = false
		}

		n := copy(w.buf[w.hi:], p)
		w.hi += n
		p = p[n:]
	}

	return tot, nil
}

// logRecordReader reads the records written by logRecordWriter.
type logRecordReader struct {
	r io.Reader

	buf [blockSize]byte

	// buf[lo:hi] is the payload of the current chunk.
	lo, hi int

	// n is the number of valid bytes in buf.
	n int

	// last indicates that the current chunk is the last chunk of its record.
	last bool

	// eof is set once a short block has been read.
	eof bool
}

func newLogRecordReader(r io.Reader) *logRecordReader {
	return &logRecordReader{r: r}
}

// nextChunk moves to the next chunk.
// returns io.EOF at a clean end of the log,
// io.ErrUnexpectedEOF if the log ends inside a chunk and CorruptionError on a checksum or type mismatch.
func (lrr *logRecordReader) nextChunk(first bool) error {
	for {
		if lrr.hi+headerSize <= lrr.n {
			checksum := binary.LittleEndian.Uint32(lrr.buf[lrr.hi : lrr.hi+4])
			length := int(binary.LittleEndian.Uint16(lrr.buf[lrr.hi+4 : lrr.hi+6]))
			chunkType := lrr.buf[lrr.hi+6]

			if checksum == 0 && length == 0 && chunkType == 0 {
				// zero padding. the rest of the block is unused.
				lrr.lo, lrr.hi = lrr.n, lrr.n
				continue
			}
			if chunkType < fullChunkType || chunkType > lastChunkType {
				return common.NewCorruptionError("invalid chunk type in log record")
			}

			start := lrr.hi
			lrr.lo = lrr.hi + headerSize
			lrr.hi = lrr.lo + length
			if lrr.hi > lrr.n {
				return io.ErrUnexpectedEOF
			}
			if chunkChecksum(lrr.buf[start+6:lrr.hi]) != checksum {
				return common.NewCorruptionError("checksum mismatch in log record")
			}

			isFirst := chunkType == fullChunkType || chunkType == firstChunkType
			if first != isFirst {
				return common.NewCorruptionError("out of order chunk in log record")
			}
			lrr.last = chunkType == fullChunkType || chunkType == lastChunkType
			return nil
		}

		if lrr.eof {
			if lrr.hi != lrr.n {
				return io.ErrUnexpectedEOF
			}
			return io.EOF
		}

		n, err := io.ReadFull(lrr.r, lrr.buf[:])
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return err
		}
		if n < blockSize {
			lrr.eof = true
		}
		lrr.lo, lrr.hi, lrr.n = 0, 0, n
	}
}

// next returns the next record in the log.
// the returned slice is only valid until the next call.
func (lrr *logRecordReader) next() ([]byte, error) {
	if err := lrr.nextChunk(true); err != nil {
		return nil, err
	}

	record := append([]byte(nil), lrr.buf[lrr.lo:lrr.hi]...)
	for !lrr.last {
		if err := lrr.nextChunk(false); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		record = append(record, lrr.buf[lrr.lo:lrr.hi]...)
	}
	return record, nil
}
