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

package config

import (
	"context"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fleetmesh/fleet-core/pkg/constants"
	"github.com/fleetmesh/fleet-core/pkg/models"
	"github.com/fleetmesh/fleet-core/pkg/service/filesystem"
)

func validRemote(name string) models.Remote {
	return models.Remote{
		Name:     name,
		Kind:     models.RemoteKindVirt,
		Endpoint: "https://" + name + ":8006",
		TokenID:  "collector@pam!fleet",
		Token:    "secret",
	}
}

var _ = Describe("FullConfig", func() {
	Describe("WithDefaults", func() {
		It("fills every unset value", func() {
			cfg := FullConfig{}.WithDefaults()

			Expect(cfg.Agent.MetricsPort).To(Equal(constants.DefaultMetricsPort))
			Expect(cfg.Agent.StatusPort).To(Equal(constants.DefaultStatusPort))
			Expect(cfg.Collection.Interval).To(Equal(constants.DefaultCollectionInterval))
			Expect(cfg.Collection.MinInterval).To(Equal(constants.MinCollectionInterval))
			Expect(cfg.Collection.FetchTimeout).To(Equal(constants.DefaultFetchTimeout))
			Expect(cfg.Collection.MaxConcurrentFetches).To(Equal(constants.DefaultMaxConcurrentFetches))
			Expect(cfg.Collection.FailureThreshold).To(Equal(constants.DefaultFailureThreshold))
			Expect(cfg.Collection.StatePath).To(Equal(constants.DefaultStatePath))
		})

		It("keeps explicitly set values", func() {
			cfg := FullConfig{
				Collection: CollectionConfig{Interval: time.Minute},
			}.WithDefaults()

			Expect(cfg.Collection.Interval).To(Equal(time.Minute))
			Expect(cfg.Collection.FetchTimeout).To(Equal(constants.DefaultFetchTimeout))
		})
	})

	Describe("Validate", func() {
		var cfg FullConfig

		BeforeEach(func() {
			cfg = FullConfig{Remotes: []models.Remote{validRemote("pve1")}}.WithDefaults()
		})

		It("accepts a valid config", func() {
			Expect(cfg.Validate()).To(Succeed())
		})

		It("rejects duplicate remote names", func() {
			cfg.Remotes = append(cfg.Remotes, validRemote("pve1"))
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("duplicate")))
		})

		It("rejects a remote without a name", func() {
			cfg.Remotes[0].Name = ""
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("no name")))
		})

		It("rejects a remote without an endpoint", func() {
			cfg.Remotes[0].Endpoint = ""
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("no endpoint")))
		})

		It("rejects the reserved local remote name", func() {
			cfg.Remotes[0].Name = constants.LocalRemoteName
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("reserved")))
		})

		It("rejects unknown remote kinds", func() {
			cfg.Remotes[0].Kind = "mainframe"
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("unknown kind")))
		})

		It("rejects a minimum interval above the round interval", func() {
			cfg.Collection.MinInterval = 2 * cfg.Collection.Interval
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("minInterval")))
		})
	})
})

var _ = Describe("FileConfigManager", func() {
	var (
		ctx     context.Context
		mockFS  *filesystem.MockFileSystem
		manager *FileConfigManager
	)

	const configPath = "/data/config.yaml"

	const validYAML = `
collection:
  interval: 5m
  fetchTimeout: 30s
remotes:
  - name: pve1
    kind: virt
    endpoint: https://pve1:8006
    tokenId: collector@pam!fleet
    token: secret
  - name: pbs1
    kind: backup
    endpoint: https://pbs1:8007
    tokenId: collector@pbs!fleet
    token: secret
`

	BeforeEach(func() {
		ctx = context.Background()
		mockFS = filesystem.NewMockFileSystem()
		manager = NewFileConfigManagerWithPath(configPath).WithFileSystemService(mockFS)
	})

	It("parses the config file and applies defaults", func() {
		Expect(mockFS.WriteFile(ctx, configPath, []byte(validYAML), 0644)).To(Succeed())

		cfg, err := manager.GetConfig(ctx)
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.Collection.Interval).To(Equal(5 * time.Minute))
		Expect(cfg.Collection.FetchTimeout).To(Equal(30 * time.Second))
		// Unset values fall back to defaults.
		Expect(cfg.Collection.MaxConcurrentFetches).To(Equal(constants.DefaultMaxConcurrentFetches))

		Expect(cfg.Remotes).To(HaveLen(2))
		Expect(cfg.Remotes[0].Name).To(Equal("pve1"))
		Expect(cfg.Remotes[0].Kind).To(Equal(models.RemoteKindVirt))
		Expect(cfg.Remotes[1].Kind).To(Equal(models.RemoteKindBackup))
	})

	It("fails on unparsable YAML", func() {
		Expect(mockFS.WriteFile(ctx, configPath, []byte("remotes: [}"), 0644)).To(Succeed())

		_, err := manager.GetConfig(ctx)
		Expect(err).To(MatchError(ContainSubstring("parse")))
	})

	It("fails on a config that does not validate", func() {
		invalid := `
remotes:
  - name: local
    kind: virt
    endpoint: https://x:8006
`
		Expect(mockFS.WriteFile(ctx, configPath, []byte(invalid), 0644)).To(Succeed())

		_, err := manager.GetConfig(ctx)
		Expect(err).To(MatchError(ContainSubstring("reserved")))
	})

	It("fails when the file is missing", func() {
		_, err := manager.GetConfig(ctx)
		Expect(err).To(MatchError(ContainSubstring("read")))
	})

	It("returns the cached config while the mod time is unchanged", func() {
		Expect(mockFS.WriteFile(ctx, configPath, []byte(validYAML), 0644)).To(Succeed())

		reads := 0
		mockFS.ReadFileFunc = func(ctx context.Context, path string) ([]byte, error) {
			reads++
			return []byte(validYAML), nil
		}

		_, err := manager.GetConfig(ctx)
		Expect(err).NotTo(HaveOccurred())
		_, err = manager.GetConfig(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(reads).To(Equal(1))
	})

	It("respects context cancellation", func() {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := manager.GetConfig(cancelled)
		Expect(err).To(MatchError(context.Canceled))
	})

	Describe("environment overrides", func() {
		AfterEach(func() {
			_ = os.Unsetenv("COLLECTION_INTERVAL")
		})

		It("overrides the round interval from the environment", func() {
			Expect(os.Setenv("COLLECTION_INTERVAL", "90s")).To(Succeed())
			Expect(mockFS.WriteFile(ctx, configPath, []byte(validYAML), 0644)).To(Succeed())

			cfg, err := manager.GetConfig(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Collection.Interval).To(Equal(90 * time.Second))
		})
	})
})
