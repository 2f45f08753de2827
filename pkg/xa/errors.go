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

package xa

import (
	"errors"
	"fmt"

	icommon "github.com/dr0pdb/icecanexa/internal/common"
)

// Error is returned by the protocol calls. Code is the XA code the
// transaction manager should act on.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func wrapError(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf returns the XA code carried by err.
// nil is XA_OK and an error that carries no code is XAER_RMERR.
func CodeOf(err error) Code {
	if err == nil {
		return XA_OK
	}
	var xe *Error
	if errors.As(err, &xe) {
		return xe.Code
	}
	return XAER_RMERR
}

// RMInitError is returned when a resource manager environment cannot be opened.
type RMInitError struct {
	Message string
	Err     error
}

func (e RMInitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rm init error: %s: %s", e.Message, e.Err)
	}
	return fmt.Sprintf("rm init error: %s", e.Message)
}

func (e RMInitError) Unwrap() error {
	return e.Err
}

// NewRMInitError creates a new instance of RMInitError.
func NewRMInitError(message string, err error) RMInitError {
	return RMInitError{
		Message: message,
		Err:     err,
	}
}

func heuristicCode(o icommon.Outcome) Code {
	switch o {
	case icommon.OutcomeCommitted:
		return XA_HEURCOM
	case icommon.OutcomeRolledBack:
		return XA_HEURRB
	case icommon.OutcomeMixed:
		return XA_HEURMIX
	}
	return XA_HEURHAZ
}

// classify maps an error returned by a storage engine to an XA error.
//
// Failures of the log or the file system and a closed engine leave the resource
// manager unusable and are XAER_RMFAIL. Heuristic outcomes keep their outcome.
// Everything else only failed the current attempt and is XAER_RMERR.
func classify(message string, err error) error {
	if err == nil {
		return nil
	}

	var xe *Error
	if errors.As(err, &xe) {
		return xe
	}

	var he icommon.HeuristicError
	if errors.As(err, &he) {
		return wrapError(heuristicCode(he.Outcome), message, err)
	}

	if storeFailed(err) {
		return wrapError(XAER_RMFAIL, message, err)
	}
	return wrapError(XAER_RMERR, message, err)
}

// storeFailed reports if err is caused by a storage engine that can no longer be used.
func storeFailed(err error) bool {
	var ioe icommon.IOError
	var ce icommon.CorruptionError
	var cse icommon.ClosedStorageError
	return errors.As(err, &ioe) || errors.As(err, &ce) || errors.As(err, &cse)
}
