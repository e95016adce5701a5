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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fleetmesh/fleet-core/pkg/collector"
	"github.com/fleetmesh/fleet-core/pkg/collector/state"
	"github.com/fleetmesh/fleet-core/pkg/config"
	"github.com/fleetmesh/fleet-core/pkg/health"
	"github.com/fleetmesh/fleet-core/pkg/logger"
	"github.com/fleetmesh/fleet-core/pkg/metrics"
	"github.com/fleetmesh/fleet-core/pkg/metricstore"
	"github.com/fleetmesh/fleet-core/pkg/registry"
	"github.com/fleetmesh/fleet-core/pkg/remote"
	"github.com/fleetmesh/fleet-core/pkg/selfmon"
	"github.com/fleetmesh/fleet-core/pkg/service/filesystem"
	"github.com/fleetmesh/fleet-core/pkg/statusapi"
	"github.com/fleetmesh/fleet-core/pkg/taskcache"
)

func main() {
	// Initialize the global logger first thing
	logger.Initialize()
	defer func() { _ = logger.Sync() }()

	log := logger.For(logger.ComponentCore)
	log.Info("Starting fleet-core...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	configManager := config.NewFileConfigManager()
	cfg, err := configManager.GetConfig(ctx)
	if err != nil {
		log.Errorf("Failed to load config: %v", err)
		os.Exit(1)
	}

	// Start the prometheus metrics server
	metricsServer := metrics.SetupMetricsEndpoint(fmt.Sprintf(":%d", cfg.Agent.MetricsPort))
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Failed to shutdown metrics server: %v", err)
		}
	}()

	fsService := filesystem.NewDefaultService()
	metricStore := metricstore.NewStore(cfg.Collection.RetentionHorizon, cfg.Collection.MaxSeries)
	taskCache := taskcache.NewCache()
	stateStore := state.NewStore(cfg.Collection.StatePath, fsService)
	healthTracker := health.NewTracker(cfg.Collection.FailureThreshold)

	engine := collector.NewEngine(
		cfg.Collection,
		registry.NewConfigRegistry(configManager),
		remote.NewHTTPFactory(),
		metricStore,
		taskCache,
		stateStore,
		healthTracker,
	)
	if err := engine.Start(ctx); err != nil {
		log.Errorf("Failed to start collection engine: %v", err)
		os.Exit(1)
	}
	defer engine.Stop()

	go selfmon.NewMonitor(metricStore).Run(ctx)

	statusServer := statusapi.NewServer(engine, metricStore, taskCache, cfg.Agent.StatusPort)
	go statusServer.Start()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer shutdownCancel()
		if err := statusServer.Stop(shutdownCtx); err != nil {
			log.Errorf("Failed to shutdown status API: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Infof("Received %s, shutting down", sig)

	log.Info("fleet-core completed")
}
