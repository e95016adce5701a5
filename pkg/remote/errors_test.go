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
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fleetmesh/fleet-core/pkg/models"
)

type fakeNetError struct{ timeout bool }

func (e fakeNetError) Error() string   { return "fake net error" }
func (e fakeNetError) Timeout() bool   { return e.timeout }
func (e fakeNetError) Temporary() bool { return false }

var _ = Describe("error classification", func() {
	Describe("Classify", func() {
		It("passes through already classified errors", func() {
			authErr := NewAuthError(errors.New("rejected"))
			Expect(Classify(fmt.Errorf("wrapped: %w", authErr))).To(MatchError(authErr))
			Expect(IsAuthError(Classify(authErr))).To(BeTrue())
		})

		It("classifies deadline exceeded as timeout", func() {
			err := Classify(fmt.Errorf("request failed: %w", context.DeadlineExceeded))
			Expect(IsTimeoutError(err)).To(BeTrue())
		})

		It("classifies net timeouts as timeout", func() {
			Expect(IsTimeoutError(Classify(fakeNetError{timeout: true}))).To(BeTrue())
			Expect(IsTimeoutError(Classify(fakeNetError{timeout: false}))).To(BeFalse())
		})

		It("defaults everything else to transport", func() {
			err := Classify(errors.New("connection refused"))
			Expect(IsTimeoutError(err)).To(BeFalse())
			Expect(IsAuthError(err)).To(BeFalse())
			Expect(OutcomeFor(err)).To(Equal(models.OutcomeTransportError))
		})
	})

	Describe("OutcomeFor", func() {
		It("maps each class to its outcome status", func() {
			Expect(OutcomeFor(nil)).To(Equal(models.OutcomeOK))
			Expect(OutcomeFor(NewTimeoutError(context.DeadlineExceeded))).To(Equal(models.OutcomeTimeout))
			Expect(OutcomeFor(NewAuthError(errors.New("401")))).To(Equal(models.OutcomeAuthError))
			Expect(OutcomeFor(NewTransportError(errors.New("refused")))).To(Equal(models.OutcomeTransportError))
			Expect(OutcomeFor(NewMalformedError(errors.New("bad json")))).To(Equal(models.OutcomeTransportError))
			Expect(OutcomeFor(errors.New("unclassified"))).To(Equal(models.OutcomeTransportError))
		})
	})

	Describe("taskStatusFromWire", func() {
		It("derives the task status from status text and end time", func() {
			Expect(taskStatusFromWire("anything", 0)).To(Equal(models.TaskRunning))
			Expect(taskStatusFromWire("OK", 100)).To(Equal(models.TaskOK))
			Expect(taskStatusFromWire("ok", 100)).To(Equal(models.TaskOK))
			Expect(taskStatusFromWire("stopped", 100)).To(Equal(models.TaskStopped))
			Expect(taskStatusFromWire("", 100)).To(Equal(models.TaskUnknown))
			Expect(taskStatusFromWire("unexpected exit code", 100)).To(Equal(models.TaskError))
		})
	})
})

var _ = Describe("fetch latency window", func() {
	It("summarizes recorded latencies per remote", func() {
		recordFetchLatency("latency-test", 10*time.Millisecond)
		recordFetchLatency("latency-test", 30*time.Millisecond)
		recordFetchLatency("latency-test", 20*time.Millisecond)

		observed := ObservedLatency("latency-test")
		Expect(observed.Min).To(Equal(float64(10 * time.Millisecond)))
		Expect(observed.Max).To(Equal(float64(30 * time.Millisecond)))
		Expect(observed.Avg).To(Equal(float64(20 * time.Millisecond)))
	})

	It("returns zeros for a remote without observations", func() {
		Expect(ObservedLatency("never-fetched")).To(Equal(models.Latency{}))
	})
})
