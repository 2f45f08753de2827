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

// Package xid contains the X/Open transaction branch identifier.
package xid

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	// MaxGtridSize is the max size of the global transaction id.
	MaxGtridSize = 64

	// MaxBqualSize is the max size of the branch qualifier.
	MaxBqualSize = 64

	// NullFormatID marks an xid which is not set.
	NullFormatID int32 = -1
)

// Xid identifies one branch of a global transaction.
//
// It is immutable: the byte slices are copied on the way in and on the way out.
// Equality is defined over the content of all three fields.
type Xid struct {
	formatID int32
	gtrid    string
	bqual    string
}

// New creates a xid from the given parts.
// returns an error if either of the byte fields is too large.
func New(formatID int32, gtrid, bqual []byte) (Xid, error) {
	if len(gtrid) > MaxGtridSize {
		return Xid{}, fmt.Errorf("global transaction id of %d bytes exceeds %d", len(gtrid), MaxGtridSize)
	}
	if len(bqual) > MaxBqualSize {
		return Xid{}, fmt.Errorf("branch qualifier of %d bytes exceeds %d", len(bqual), MaxBqualSize)
	}
	return Xid{formatID: formatID, gtrid: string(gtrid), bqual: string(bqual)}, nil
}

// MustNew is like New but panics on invalid input. Meant for tests and constants.
func MustNew(formatID int32, gtrid, bqual []byte) Xid {
	x, err := New(formatID, gtrid, bqual)
	if err != nil {
		panic(err)
	}
	return x
}

// Random creates a xid with random global transaction id and branch qualifier.
func Random(formatID int32) Xid {
	g, b := uuid.New(), uuid.New()
	return MustNew(formatID, g[:], b[:])
}

// Branch returns a new xid of the same global transaction with the given branch qualifier.
func (x Xid) Branch(bqual []byte) (Xid, error) {
	return New(x.formatID, []byte(x.gtrid), bqual)
}

// FormatID returns the format identifier.
func (x Xid) FormatID() int32 {
	return x.formatID
}

// GlobalTransactionID returns a copy of the global transaction id.
func (x Xid) GlobalTransactionID() []byte {
	return []byte(x.gtrid)
}

// BranchQualifier returns a copy of the branch qualifier.
func (x Xid) BranchQualifier() []byte {
	return []byte(x.bqual)
}

// IsNull returns true for the zero xid.
func (x Xid) IsNull() bool {
	return x.formatID == NullFormatID || (x.formatID == 0 && x.gtrid == "" && x.bqual == "")
}

// Equal returns true if both xids have identical content.
func (x Xid) Equal(o Xid) bool {
	return x == o
}

// SameGlobal returns true if both xids belong to the same global transaction but are different branches.
func (x Xid) SameGlobal(o Xid) bool {
	return x.formatID == o.formatID && x.gtrid == o.gtrid && x.bqual != o.bqual
}

// Key returns a string usable as a map key. Two xids have the same key iff they are equal.
func (x Xid) Key() string {
	return string(x.Bytes())
}

// Bytes encodes the xid as
// | format id (4 bytes) | gtrid length (1 byte) | gtrid | bqual length (1 byte) | bqual |
func (x Xid) Bytes() []byte {
	b := make([]byte, 0, 6+len(x.gtrid)+len(x.bqual))
	var fid [4]byte
	binary.BigEndian.PutUint32(fid[:], uint32(x.formatID))
	b = append(b, fid[:]...)
	b = append(b, byte(len(x.gtrid)))
	b = append(b, x.gtrid...)
	b = append(b, byte(len(x.bqual)))
	b = append(b, x.bqual...)
	return b
}

// FromBytes decodes a xid encoded by Bytes.
// returns the xid along with the number of bytes consumed.
func FromBytes(b []byte) (Xid, int, error) {
	if len(b) < 6 {
		return Xid{}, 0, fmt.Errorf("xid encoding too short: %d bytes", len(b))
	}
	formatID := int32(binary.BigEndian.Uint32(b[:4]))
	n := 4

	gl := int(b[n])
	n++
	if gl > MaxGtridSize || n+gl+1 > len(b) {
		return Xid{}, 0, fmt.Errorf("corrupt gtrid length %d in xid encoding", gl)
	}
	gtrid := b[n : n+gl]
	n += gl

	bl := int(b[n])
	n++
	if bl > MaxBqualSize || n+bl > len(b) {
		return Xid{}, 0, fmt.Errorf("corrupt bqual length %d in xid encoding", bl)
	}
	bqual := b[n : n+bl]
	n += bl

	x, err := New(formatID, gtrid, bqual)
	return x, n, err
}

// String returns the text form formatID:gtridHex:bqualHex which is understood by Parse.
func (x Xid) String() string {
	return fmt.Sprintf("%d:%s:%s", x.formatID, hex.EncodeToString([]byte(x.gtrid)), hex.EncodeToString([]byte(x.bqual)))
}

// Parse parses the text form produced by String.
func Parse(s string) (Xid, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Xid{}, fmt.Errorf("invalid xid %q: expected formatID:gtrid:bqual", s)
	}
	fid, err := strconv.ParseInt(parts[0], 10, 32)
	if err != nil {
		return Xid{}, fmt.Errorf("invalid format id in xid %q: %v", s, err)
	}
	gtrid, err := hex.DecodeString(parts[1])
	if err != nil {
		return Xid{}, fmt.Errorf("invalid gtrid in xid %q: %v", s, err)
	}
	bqual, err := hex.DecodeString(parts[2])
	if err != nil {
		return Xid{}, fmt.Errorf("invalid bqual in xid %q: %v", s, err)
	}
	return New(int32(fid), gtrid, bqual)
}

// Compare orders xids by format id, then gtrid, then bqual.
func Compare(a, b Xid) int {
	if a.formatID != b.formatID {
		if a.formatID < b.formatID {
			return -1
		}
		return 1
	}
	if c := bytes.Compare([]byte(a.gtrid), []byte(b.gtrid)); c != 0 {
		return c
	}
	return bytes.Compare([]byte(a.bqual), []byte(b.bqual))
}
