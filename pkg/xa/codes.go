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

// Package xa implements an X/Open XA resource manager on top of the icecane
// and pebble storage engines.
package xa

import (
	"fmt"
	"strings"
)

// Code is an XA return code.
type Code int32

// Return codes as defined by the X/Open XA specification.
const (
	XA_OK        Code = 0
	XA_RDONLY    Code = 3
	XA_RETRY     Code = 4
	XA_HEURMIX   Code = 5
	XA_HEURRB    Code = 6
	XA_HEURCOM   Code = 7
	XA_HEURHAZ   Code = 8
	XA_NOMIGRATE Code = 9

	XA_RBROLLBACK Code = 100

	XAER_ASYNC   Code = -2
	XAER_RMERR   Code = -3
	XAER_NOTA    Code = -4
	XAER_INVAL   Code = -5
	XAER_PROTO   Code = -6
	XAER_RMFAIL  Code = -7
	XAER_DUPID   Code = -8
	XAER_OUTSIDE Code = -9
)

var codeNames = map[Code]string{
	XA_OK:         "XA_OK",
	XA_RDONLY:     "XA_RDONLY",
	XA_RETRY:      "XA_RETRY",
	XA_HEURMIX:    "XA_HEURMIX",
	XA_HEURRB:     "XA_HEURRB",
	XA_HEURCOM:    "XA_HEURCOM",
	XA_HEURHAZ:    "XA_HEURHAZ",
	XA_NOMIGRATE:  "XA_NOMIGRATE",
	XA_RBROLLBACK: "XA_RBROLLBACK",
	XAER_ASYNC:    "XAER_ASYNC",
	XAER_RMERR:    "XAER_RMERR",
	XAER_NOTA:     "XAER_NOTA",
	XAER_INVAL:    "XAER_INVAL",
	XAER_PROTO:    "XAER_PROTO",
	XAER_RMFAIL:   "XAER_RMFAIL",
	XAER_DUPID:    "XAER_DUPID",
	XAER_OUTSIDE:  "XAER_OUTSIDE",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("XA(%d)", int32(c))
}

// IsHeuristic reports if c is one of the XA_HEURxx codes.
func (c Code) IsHeuristic() bool {
	return c >= XA_HEURMIX && c <= XA_HEURHAZ
}

// Flags are the XA flags passed to the protocol calls.
type Flags int64

// Flag values as defined by the X/Open XA specification.
const (
	TMNOFLAGS    Flags = 0
	TMJOIN       Flags = 0x00200000
	TMENDRSCAN   Flags = 0x00800000
	TMSTARTRSCAN Flags = 0x01000000
	TMSUSPEND    Flags = 0x02000000
	TMSUCCESS    Flags = 0x04000000
	TMRESUME     Flags = 0x08000000
	TMFAIL       Flags = 0x20000000
	TMONEPHASE   Flags = 0x40000000
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{TMJOIN, "TMJOIN"},
	{TMENDRSCAN, "TMENDRSCAN"},
	{TMSTARTRSCAN, "TMSTARTRSCAN"},
	{TMSUSPEND, "TMSUSPEND"},
	{TMSUCCESS, "TMSUCCESS"},
	{TMRESUME, "TMRESUME"},
	{TMFAIL, "TMFAIL"},
	{TMONEPHASE, "TMONEPHASE"},
}

// Has reports if all of the bits of o are set in f.
func (f Flags) Has(o Flags) bool {
	return f&o == o
}

func (f Flags) String() string {
	if f == TMNOFLAGS {
		return "TMNOFLAGS"
	}
	var names []string
	rest := f
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			names = append(names, fn.name)
			rest &^= fn.flag
		}
	}
	if rest != 0 {
		names = append(names, fmt.Sprintf("0x%x", int64(rest)))
	}
	return strings.Join(names, "|")
}
