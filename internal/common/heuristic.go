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

import "fmt"

// Outcome is the heuristic outcome of a prepared transaction.
type Outcome uint8

const (
	// This is part of the file format and stored on the disk. Don't change
	OutcomeNone Outcome = iota
	OutcomeCommitted
	OutcomeRolledBack
	OutcomeMixed
	OutcomeHazard
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeCommitted:
		return "committed"
	case OutcomeRolledBack:
		return "rolled back"
	case OutcomeMixed:
		return "mixed"
	case OutcomeHazard:
		return "hazard"
	}
	return fmt.Sprintf("outcome(%d)", uint8(o))
}

// Valid reports if o is a known outcome.
func (o Outcome) Valid() bool {
	return o <= OutcomeHazard
}

// HeuristicError is returned by commit and rollback of a prepared transaction
// whose outcome was decided heuristically or could not be determined.
//
// Err is the failure that left the outcome undetermined, if any.
type HeuristicError struct {
	Outcome Outcome
	Message string
	Err     error
}

func (he HeuristicError) Error() string {
	if he.Err != nil {
		return fmt.Sprintf("%s: %s (heuristic outcome: %s)", he.Message, he.Err.Error(), he.Outcome)
	}
	return fmt.Sprintf("%s (heuristic outcome: %s)", he.Message, he.Outcome)
}

func (he HeuristicError) Unwrap() error {
	return he.Err
}

// NewHeuristicError creates a new instance of HeuristicError.
func NewHeuristicError(outcome Outcome, message string) HeuristicError {
	return HeuristicError{
		Outcome: outcome,
		Message: message,
	}
}

// NewHazardError creates a HeuristicError with OutcomeHazard caused by err.
func NewHazardError(message string, err error) HeuristicError {
	return HeuristicError{
		Outcome: OutcomeHazard,
		Message: message,
		Err:     err,
	}
}
