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

package ctxutil

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoDeadline indicates the context doesn't have a deadline.
	ErrNoDeadline = errors.New("context has no deadline")
)

// HasSufficientTime reports whether the context's deadline leaves at least
// requiredTime. The collector uses it to decide whether starting another
// remote fetch inside a round still makes sense.
//
// A context without a deadline returns ErrNoDeadline; the caller decides
// whether that means "plenty of time" or a bug. Too little remaining time is
// not an error, just sufficient == false.
func HasSufficientTime(ctx context.Context, requiredTime time.Duration) (remaining time.Duration, sufficient bool, err error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0, false, ErrNoDeadline
	}

	remaining = time.Until(deadline)
	if remaining < requiredTime {
		return remaining, false, nil
	}

	return remaining, true, nil
}

// BoundedTimeout returns the smaller of the requested timeout and the time
// remaining on the context. Useful for per-item timeouts inside a larger
// deadline-bounded operation.
func BoundedTimeout(ctx context.Context, requested time.Duration) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return requested
	}

	if remaining := time.Until(deadline); remaining < requested {
		return remaining
	}

	return requested
}
