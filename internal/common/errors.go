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

package common

// NotFoundError is returned when the required value is not found.
type NotFoundError struct {
	Message string
}

func (nf NotFoundError) Error() string {
	return nf.Message
}

// NewNotFoundError creates a new instance of NotFoundError with the given message.
func NewNotFoundError(message string) NotFoundError {
	return NotFoundError{
		Message: message,
	}
}

// CorruptionError is returned when persisted data fails validation.
type CorruptionError struct {
	Message string
}

func (ce CorruptionError) Error() string {
	return ce.Message
}

// NewCorruptionError creates a new instance of CorruptionError with the given message.
func NewCorruptionError(message string) CorruptionError {
	return CorruptionError{
		Message: message,
	}
}

// ClosedStorageError is returned when an operation is called on a closed storage.
type ClosedStorageError struct {
	Message string
}

func (cse ClosedStorageError) Error() string {
	return cse.Message
}

// NewClosedStorageError creates a new instance of ClosedStorageError with the given message.
func NewClosedStorageError(message string) ClosedStorageError {
	return ClosedStorageError{
		Message: message,
	}
}

// StaleLogRecordWriterError is returned when the log record writer is in stale state.
type StaleLogRecordWriterError struct {
	Message string
}

func (slrw StaleLogRecordWriterError) Error() string {
	return slrw.Message
}

// NewStaleLogRecordWriterError creates a new instance of StaleLogRecordWriterError with the given message.
func NewStaleLogRecordWriterError(message string) StaleLogRecordWriterError {
	return StaleLogRecordWriterError{
		Message: message,
	}
}

// AbortedTransactionError is returned when an operation is called on an aborted txn.
type AbortedTransactionError struct {
	Message string
}

func (ate AbortedTransactionError) Error() string {
	return ate.Message
}

// NewAbortedTransactionError creates a new instance of AbortedTransactionError with the given message.
func NewAbortedTransactionError(message string) AbortedTransactionError {
	return AbortedTransactionError{
		Message: message,
	}
}

// CommittedTransactionError is returned when an operation is called on an already committed txn.
type CommittedTransactionError struct {
	Message string
}

func (cte CommittedTransactionError) Error() string {
	return cte.Message
}

// NewCommittedTransactionError creates a new instance of CommittedTransactionError with the given message.
func NewCommittedTransactionError(message string) CommittedTransactionError {
	return CommittedTransactionError{
		Message: message,
	}
}

// PreparedTransactionError is returned when a write is attempted on a txn that is already prepared.
type PreparedTransactionError struct {
	Message string
}

func (pte PreparedTransactionError) Error() string {
	return pte.Message
}

// NewPreparedTransactionError creates a new instance of PreparedTransactionError with the given message.
func NewPreparedTransactionError(message string) PreparedTransactionError {
	return PreparedTransactionError{
		Message: message,
	}
}

// IOError is returned when the underlying file system fails to persist data.
type IOError struct {
	Message string
	Err     error
}

func (ioe IOError) Error() string {
	if ioe.Err != nil {
		return ioe.Message + ": " + ioe.Err.Error()
	}
	return ioe.Message
}

func (ioe IOError) Unwrap() error {
	return ioe.Err
}

// NewIOError creates a new instance of IOError with the given message wrapping err.
func NewIOError(message string, err error) IOError {
	return IOError{
		Message: message,
		Err:     err,
	}
}
