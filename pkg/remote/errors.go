// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package remote

import (
	"context"
	"errors"
	"net"

	"github.com/fleetmesh/fleet-core/pkg/models"
)

// ErrorClass indicates how a fetch failure should be reported and retried.
type ErrorClass int

const (
	// ClassTransport indicates a connection/DNS/TLS failure. Retried next
	// round with an unchanged cursor.
	ClassTransport ErrorClass = iota

	// ClassTimeout indicates the remote did not respond within the fetch
	// timeout. Same retry policy as ClassTransport.
	ClassTimeout

	// ClassAuth indicates the remote rejected our credentials. Retried, but
	// flagged distinctly so operators can act.
	ClassAuth

	// ClassMalformed indicates the remote returned data we could not parse.
	// Treated like a transport error, but logged with payload context.
	ClassMalformed
)

// ClassifiedError wraps an underlying fetch error with its ErrorClass.
type ClassifiedError struct {
	Err   error
	Class ErrorClass
}

// Error returns the original error message.
func (ce *ClassifiedError) Error() string {
	return ce.Err.Error()
}

// Unwrap returns the underlying wrapped error.
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsClass checks if the ClassifiedError has the specified class.
func (ce *ClassifiedError) IsClass(class ErrorClass) bool {
	return ce.Class == class
}

// NewTimeoutError wraps err as ClassTimeout.
func NewTimeoutError(err error) error {
	return &ClassifiedError{Err: err, Class: ClassTimeout}
}

// NewAuthError wraps err as ClassAuth.
func NewAuthError(err error) error {
	return &ClassifiedError{Err: err, Class: ClassAuth}
}

// NewTransportError wraps err as ClassTransport.
func NewTransportError(err error) error {
	return &ClassifiedError{Err: err, Class: ClassTransport}
}

// NewMalformedError wraps err as ClassMalformed.
func NewMalformedError(err error) error {
	return &ClassifiedError{Err: err, Class: ClassMalformed}
}

// Classify ensures every fetch error carries a class. Deadline and timeout
// errors become ClassTimeout, everything else defaults to ClassTransport.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewTimeoutError(err)
	}

	return NewTransportError(err)
}

// IsTimeoutError is a convenience checker for ClassTimeout.
func IsTimeoutError(err error) bool {
	var ce *ClassifiedError

	return errors.As(err, &ce) && ce.IsClass(ClassTimeout)
}

// IsAuthError is a convenience checker for ClassAuth.
func IsAuthError(err error) bool {
	var ce *ClassifiedError

	return errors.As(err, &ce) && ce.IsClass(ClassAuth)
}

// IsMalformedError is a convenience checker for ClassMalformed.
func IsMalformedError(err error) bool {
	var ce *ClassifiedError

	return errors.As(err, &ce) && ce.IsClass(ClassMalformed)
}

// OutcomeFor maps a fetch error to the per-remote outcome status recorded for
// the round. Malformed responses count as transport errors for outcome
// purposes, the distinction only matters for logging.
func OutcomeFor(err error) models.OutcomeStatus {
	if err == nil {
		return models.OutcomeOK
	}

	var ce *ClassifiedError
	if !errors.As(err, &ce) {
		return models.OutcomeTransportError
	}

	switch ce.Class {
	case ClassTimeout:
		return models.OutcomeTimeout
	case ClassAuth:
		return models.OutcomeAuthError
	default:
		return models.OutcomeTransportError
	}
}
