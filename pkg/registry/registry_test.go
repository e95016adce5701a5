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

package registry_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fleetmesh/fleet-core/pkg/config"
	"github.com/fleetmesh/fleet-core/pkg/models"
	"github.com/fleetmesh/fleet-core/pkg/registry"
)

var _ = Describe("ConfigRegistry", func() {
	var (
		ctx           context.Context
		configManager *config.MockConfigManager
		reg           *registry.ConfigRegistry
	)

	remote := func(name string) models.Remote {
		return models.Remote{
			Name:     name,
			Kind:     models.RemoteKindVirt,
			Endpoint: "https://" + name + ":8006",
			TokenID:  "collector@pam!fleet",
			Token:    "secret",
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		configManager = config.NewMockConfigManager(config.FullConfig{
			Remotes: []models.Remote{remote("pve1"), remote("pbs1")},
		})
		reg = registry.NewConfigRegistry(configManager)
	})

	It("returns the remotes from the config", func() {
		remotes, err := reg.Snapshot(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(remotes).To(HaveLen(2))
		Expect(remotes[0].Name).To(Equal("pve1"))
		Expect(remotes[1].Name).To(Equal("pbs1"))
	})

	It("reflects config changes on the next snapshot", func() {
		configManager.SetConfig(config.FullConfig{
			Remotes: []models.Remote{remote("pve2")},
		})

		remotes, err := reg.Snapshot(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(remotes).To(HaveLen(1))
		Expect(remotes[0].Name).To(Equal("pve2"))
	})

	It("hands out a slice the caller may modify", func() {
		remotes, err := reg.Snapshot(ctx)
		Expect(err).NotTo(HaveOccurred())
		remotes[0].Name = "mutated"

		again, err := reg.Snapshot(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(again[0].Name).To(Equal("pve1"))
	})

	It("propagates config errors", func() {
		configManager.SetError(errors.New("config file unreadable"))

		_, err := reg.Snapshot(ctx)
		Expect(err).To(MatchError(ContainSubstring("config file unreadable")))
	})
})
