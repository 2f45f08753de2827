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

package xid

import (
	"bytes"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsOversizedFields(t *testing.T) {
	_, err := New(1, bytes.Repeat([]byte{1}, MaxGtridSize+1), nil)
	assert.NotNil(t, err, "oversized gtrid should be rejected")

	_, err = New(1, []byte("g"), bytes.Repeat([]byte{1}, MaxBqualSize+1))
	assert.NotNil(t, err, "oversized bqual should be rejected")

	_, err = New(1, bytes.Repeat([]byte{1}, MaxGtridSize), bytes.Repeat([]byte{2}, MaxBqualSize))
	assert.Nil(t, err, "max sized fields should be accepted")
}

func TestEqualityIsByContent(t *testing.T) {
	g := []byte("global-1")
	a := MustNew(7, g, []byte("b1"))
	g[0] = 'X' // mutating the input must not change the xid
	b := MustNew(7, []byte("global-1"), []byte("b1"))

	assert.True(t, a.Equal(b), "xids with identical content should be equal")
	assert.Equal(t, a.Key(), b.Key(), "equal xids should have equal keys")

	m := map[Xid]bool{a: true}
	assert.True(t, m[b], "equal xids should hash the same")

	c := MustNew(8, []byte("global-1"), []byte("b1"))
	assert.False(t, a.Equal(c), "different format ids should not be equal")
}

func TestAccessorsReturnCopies(t *testing.T) {
	x := MustNew(1, []byte("gtrid"), []byte("bqual"))
	g := x.GlobalTransactionID()
	g[0] = 'X'
	assert.Equal(t, []byte("gtrid"), x.GlobalTransactionID(), "xid should be immutable")
}

func TestSameGlobal(t *testing.T) {
	a := MustNew(1, []byte("gtrid"), []byte("b1"))
	b, err := a.Branch([]byte("b2"))
	require.Nil(t, err)

	assert.True(t, a.SameGlobal(b), "different branches of one global txn")
	assert.False(t, a.SameGlobal(a), "identical xid is not a different branch")
	assert.False(t, a.SameGlobal(MustNew(1, []byte("other"), []byte("b2"))), "different gtrid")
}

func TestBytesRoundTrip(t *testing.T) {
	x := MustNew(-5, []byte{0, 1, 2}, []byte{})
	enc := append(x.Bytes(), 0xff, 0xfe) // trailing bytes must be left alone

	d, n, err := FromBytes(enc)
	require.Nil(t, err)
	assert.Equal(t, len(enc)-2, n, "consumed length mismatch")
	assert.True(t, x.Equal(d))
}

func TestFromBytesCorrupt(t *testing.T) {
	_, _, err := FromBytes([]byte{0, 0, 0, 1})
	assert.NotNil(t, err, "short input should fail")

	x := MustNew(1, []byte("gtrid"), []byte("bqual"))
	enc := x.Bytes()
	_, _, err = FromBytes(enc[:len(enc)-1])
	assert.NotNil(t, err, "truncated input should fail")
}

func TestStringParse(t *testing.T) {
	x := MustNew(4660, []byte{0xca, 0xfe}, []byte{0x01})
	assert.Equal(t, "4660:cafe:01", x.String())

	p, err := Parse(x.String())
	require.Nil(t, err)
	assert.True(t, x.Equal(p))

	for _, bad := range []string{"", "1:ab", "x:ab:cd", "1:zz:cd", "1:ab:zz"} {
		_, err := Parse(bad)
		assert.NotNil(t, err, "expected parse error for %q", bad)
	}
}

func TestRandomIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		x := Random(1)
		assert.False(t, seen[x.Key()], "random xid collision")
		seen[x.Key()] = true
	}
}

func TestCompare(t *testing.T) {
	xs := []Xid{
		MustNew(2, []byte("a"), []byte("a")),
		MustNew(1, []byte("b"), []byte("a")),
		MustNew(1, []byte("a"), []byte("b")),
		MustNew(1, []byte("a"), []byte("a")),
	}
	sort.Slice(xs, func(i, j int) bool { return Compare(xs[i], xs[j]) < 0 })
	assert.Equal(t, "1:61:61", xs[0].String())
	assert.Equal(t, "1:61:62", xs[1].String())
	assert.Equal(t, "1:62:61", xs[2].String())
	assert.Equal(t, "2:61:61", xs[3].String())
}
